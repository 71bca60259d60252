package pipeline

import (
	"context"
	"runtime"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/Faultbox/isoterrain/internal/terrain"
)

// StreamerOptions size the streamer.
type StreamerOptions struct {
	// Workers is the number of concurrent builds. Zero means NumCPU.
	Workers int
	// QueueSize bounds the job channel. Zero means 4096.
	QueueSize int
	// MaxPending caps queued plus running requests. Zero means unlimited.
	MaxPending int
}

// Streamer builds requested chunks in the background and publishes them
// into a Registry.
type Streamer struct {
	ctx      *Context
	registry *Registry
	log      *zap.Logger

	jobs       chan terrain.ChunkCoord
	pending    map[terrain.ChunkCoord]struct{}
	pendingMu  sync.Mutex
	maxPending int
	closed     bool

	subsMu sync.Mutex
	subs   map[int]chan *Chunk
	nextID int

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStreamer starts the workers.
func NewStreamer(pctx *Context, registry *Registry, opts StreamerOptions) *Streamer {
	workers := opts.Workers
	if workers <= 0 {
		workers = max(runtime.NumCPU(), 1)
	}
	size := opts.QueueSize
	if size <= 0 {
		size = 4096
	}

	base, cancel := context.WithCancel(context.Background())
	s := &Streamer{
		ctx:        pctx,
		registry:   registry,
		log:        pctx.log,
		jobs:       make(chan terrain.ChunkCoord, size),
		pending:    make(map[terrain.ChunkCoord]struct{}),
		maxPending: opts.MaxPending,
		subs:       make(map[int]chan *Chunk),
		base:       base,
		cancel:     cancel,
	}

	s.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go s.worker()
	}
	return s
}

func (s *Streamer) worker() {
	defer s.wg.Done()
	for coord := range s.jobs {
		s.build(coord)
		s.pendingMu.Lock()
		delete(s.pending, coord)
		s.pendingMu.Unlock()
	}
}

func (s *Streamer) build(coord terrain.ChunkCoord) {
	if s.base.Err() != nil || s.registry.Known(coord) {
		return
	}

	// Failures are logged by Build and left for a later request.
	res, err := s.ctx.Build(s.base, coord)
	if err != nil {
		return
	}

	switch res.Outcome {
	case OutcomeEmpty:
		s.registry.MarkEmpty(coord)
	case OutcomePublished:
		s.registry.Publish(res.Chunk)
		s.notify(res.Chunk)
	}
}

// Request queues coord unless it is known, pending, or the queue is full.
// It reports whether the coordinate was queued.
func (s *Streamer) Request(coord terrain.ChunkCoord) bool {
	if s.registry.Known(coord) {
		return false
	}

	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	if s.closed {
		return false
	}
	if _, ok := s.pending[coord]; ok {
		return false
	}
	if s.maxPending > 0 && len(s.pending) >= s.maxPending {
		return false
	}
	select {
	case s.jobs <- coord:
		s.pending[coord] = struct{}{}
		return true
	default:
		return false
	}
}

// RequestAround queues every chunk within radius of center, nearest
// first, and returns how many were queued.
func (s *Streamer) RequestAround(center terrain.ChunkCoord, radius int) int {
	n := 0
	for _, coord := range ShellOrder(center, radius) {
		if s.Request(coord) {
			n++
		}
	}
	return n
}

// Pending returns the number of queued or running requests.
func (s *Streamer) Pending() int {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	return len(s.pending)
}

// Subscribe returns a channel receiving every chunk published from now on.
// A subscriber that falls behind by more than buffer chunks misses chunks.
// The returned func unsubscribes and closes the channel.
func (s *Streamer) Subscribe(buffer int) (<-chan *Chunk, func()) {
	ch := make(chan *Chunk, buffer)

	s.subsMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subsMu.Lock()
			if _, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(ch)
			}
			s.subsMu.Unlock()
		})
	}
}

func (s *Streamer) notify(c *Chunk) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for id, ch := range s.subs {
		select {
		case ch <- c:
		default:
			s.log.Debug("subscriber lagging, chunk dropped",
				zap.Int("subscriber", id),
				zap.Stringer("coord", c.Coord),
			)
		}
	}
}

// Close stops accepting requests, waits for running builds and closes all
// subscriber channels. Queued builds that have not started are skipped.
func (s *Streamer) Close() {
	s.pendingMu.Lock()
	if s.closed {
		s.pendingMu.Unlock()
		return
	}
	s.closed = true
	close(s.jobs)
	s.pendingMu.Unlock()

	s.cancel()
	s.wg.Wait()

	s.subsMu.Lock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.subsMu.Unlock()
}

// ShellOrder lists every coordinate within radius of center along each
// axis, ordered by shell (Chebyshev distance), then by Euclidean distance,
// then by z, y, x.
func ShellOrder(center terrain.ChunkCoord, radius int) []terrain.ChunkCoord {
	if radius < 0 {
		return nil
	}
	side := 2*radius + 1
	out := make([]terrain.ChunkCoord, 0, side*side*side)
	for dz := -radius; dz <= radius; dz++ {
		for dy := -radius; dy <= radius; dy++ {
			for dx := -radius; dx <= radius; dx++ {
				out = append(out, center.Add(terrain.ChunkCoord{X: dx, Y: dy, Z: dz}))
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Sub(center), out[j].Sub(center)
		sa, sb := chebyshev(out[i], center), chebyshev(out[j], center)
		if sa != sb {
			return sa < sb
		}
		if la, lb := a.LengthSq(), b.LengthSq(); la != lb {
			return la < lb
		}
		return false
	})
	return out
}
