package pipeline

import (
	"sort"
	"sync"

	"github.com/Faultbox/isoterrain/internal/terrain"
)

// Registry owns published chunks and remembers which coordinates built empty.
type Registry struct {
	mu       sync.RWMutex
	chunks   map[terrain.ChunkCoord]*Chunk
	empty    map[terrain.ChunkCoord]struct{}
	modCount uint64 // increases on any publish or unload
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		chunks: make(map[terrain.ChunkCoord]*Chunk),
		empty:  make(map[terrain.ChunkCoord]struct{}),
	}
}

// Publish stores c, replacing and releasing any chunk at the same coordinate.
func (r *Registry) Publish(c *Chunk) {
	r.mu.Lock()
	old := r.chunks[c.Coord]
	r.chunks[c.Coord] = c
	delete(r.empty, c.Coord)
	r.modCount++
	r.mu.Unlock()

	if old != nil && old != c {
		old.Release()
	}
}

// MarkEmpty records that coord has no surface.
func (r *Registry) MarkEmpty(coord terrain.ChunkCoord) {
	r.mu.Lock()
	old := r.chunks[coord]
	delete(r.chunks, coord)
	r.empty[coord] = struct{}{}
	r.modCount++
	r.mu.Unlock()

	if old != nil {
		old.Release()
	}
}

// Get returns the chunk at coord.
func (r *Registry) Get(coord terrain.ChunkCoord) (*Chunk, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.chunks[coord]
	return c, ok
}

// Known reports whether coord was published or marked empty.
func (r *Registry) Known(coord terrain.ChunkCoord) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.chunks[coord]; ok {
		return true
	}
	_, ok := r.empty[coord]
	return ok
}

// Unload removes the chunk at coord and releases its buffer.
func (r *Registry) Unload(coord terrain.ChunkCoord) bool {
	r.mu.Lock()
	c, ok := r.chunks[coord]
	_, wasEmpty := r.empty[coord]
	delete(r.chunks, coord)
	delete(r.empty, coord)
	if ok || wasEmpty {
		r.modCount++
	}
	r.mu.Unlock()

	if ok {
		c.Release()
	}
	return ok || wasEmpty
}

// EvictOutside unloads every chunk farther than radius from center along
// any axis and returns how many entries were dropped.
func (r *Registry) EvictOutside(center terrain.ChunkCoord, radius int) int {
	var evicted []*Chunk
	n := 0

	r.mu.Lock()
	for coord, c := range r.chunks {
		if chebyshev(coord, center) > radius {
			delete(r.chunks, coord)
			evicted = append(evicted, c)
			n++
		}
	}
	for coord := range r.empty {
		if chebyshev(coord, center) > radius {
			delete(r.empty, coord)
			n++
		}
	}
	if n > 0 {
		r.modCount++
	}
	r.mu.Unlock()

	for _, c := range evicted {
		c.Release()
	}
	return n
}

// Len returns the number of published chunks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.chunks)
}

// Snapshot returns the published chunks ordered by z, y, then x.
func (r *Registry) Snapshot() []*Chunk {
	r.mu.RLock()
	out := make([]*Chunk, 0, len(r.chunks))
	for _, c := range r.chunks {
		out = append(out, c)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return coordLess(out[i].Coord, out[j].Coord)
	})
	return out
}

// ModCount changes whenever the set of chunks changes.
func (r *Registry) ModCount() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.modCount
}

// Clear unloads everything.
func (r *Registry) Clear() {
	r.mu.Lock()
	chunks := r.chunks
	r.chunks = make(map[terrain.ChunkCoord]*Chunk)
	r.empty = make(map[terrain.ChunkCoord]struct{})
	r.modCount++
	r.mu.Unlock()

	for _, c := range chunks {
		c.Release()
	}
}

func chebyshev(a, b terrain.ChunkCoord) int {
	d := a.Sub(b)
	return max(abs(d.X), abs(d.Y), abs(d.Z))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func coordLess(a, b terrain.ChunkCoord) bool {
	if a.Z != b.Z {
		return a.Z < b.Z
	}
	if a.Y != b.Y {
		return a.Y < b.Y
	}
	return a.X < b.X
}
