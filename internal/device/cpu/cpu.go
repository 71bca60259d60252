// Package cpu runs the chunk pipeline kernels on a host worker pool.
package cpu

import (
	"context"
	"fmt"
	"sync"

	"github.com/alitto/pond/v2"

	"github.com/Faultbox/isoterrain/internal/density"
	"github.com/Faultbox/isoterrain/internal/device"
	"github.com/Faultbox/isoterrain/internal/extract"
	"github.com/Faultbox/isoterrain/internal/parallel"
	"github.com/Faultbox/isoterrain/internal/scan"
	"github.com/Faultbox/isoterrain/internal/terrain"
)

// Config holds the CPU device settings.
type Config struct {
	Layout  terrain.Layout
	Field   density.Field
	Extract extract.Options
	Limits  device.Limits
	// Workers sizes the kernel pool. Zero uses every CPU.
	Workers int
	// QueueDepth bounds pending commands.
	QueueDepth int
}

// Device executes builds with pooled kernels behind one in-order queue.
type Device struct {
	cfg    Config
	queue  *device.Queue
	pool   pond.Pool
	budget *device.Budget

	closeOnce sync.Once
}

// New creates a CPU device.
func New(cfg Config) (*Device, error) {
	if err := cfg.Layout.Validate(); err != nil {
		return nil, fmt.Errorf("cpu device: %w", err)
	}
	if cfg.Field == nil {
		return nil, fmt.Errorf("cpu device: nil density field")
	}

	q, err := device.NewQueue(device.QueueOptions{Depth: cfg.QueueDepth})
	if err != nil {
		return nil, err
	}
	return &Device{
		cfg:    cfg,
		queue:  q,
		pool:   parallel.NewPool(cfg.Workers),
		budget: device.NewBudget(cfg.Limits),
	}, nil
}

// Name implements device.Device.
func (d *Device) Name() string {
	return "cpu"
}

// Limits implements device.Device.
func (d *Device) Limits() device.Limits {
	return d.cfg.Limits
}

// Layout implements device.Device.
func (d *Device) Layout() terrain.Layout {
	return d.cfg.Layout
}

// Budget exposes the memory tracker.
func (d *Device) Budget() *device.Budget {
	return d.budget
}

// Close drains the queue and stops the worker pool.
func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		d.queue.Close()
		d.pool.StopAndWait()
	})
	return nil
}

func latticeBytes(l terrain.Layout) int64 {
	return int64(l.NumPoints()) * 4
}

func markerBytes(l terrain.Layout) int64 {
	return int64(l.NumCells()) * 8
}

// Begin implements device.Device. It reserves the lattice and marker storage.
func (d *Device) Begin(coord terrain.ChunkCoord) (device.Build, error) {
	layout := d.cfg.Layout
	if err := d.budget.Reserve(latticeBytes(layout)); err != nil {
		return nil, fmt.Errorf("allocating density lattice: %w", err)
	}
	if err := d.budget.Reserve(markerBytes(layout)); err != nil {
		d.budget.Free(latticeBytes(layout))
		return nil, fmt.Errorf("allocating marker buffer: %w", err)
	}

	return &build{
		dev:     d,
		coord:   coord,
		lattice: density.NewLattice(layout),
		markers: make([]terrain.Marker, layout.NumCells()),
	}, nil
}

type build struct {
	dev   *Device
	coord terrain.ChunkCoord

	// Owned by the queue goroutine once submitted.
	lattice *density.Lattice
	markers []terrain.Marker
	result  scan.Result
	err     error

	released bool
}

func (b *build) Coord() terrain.ChunkCoord {
	return b.coord
}

func (b *build) GenerateDensity() error {
	return b.dev.queue.Submit(func() {
		b.err = density.Generate(context.Background(), b.dev.pool, b.dev.cfg.Field, b.lattice, b.coord)
	})
}

func (b *build) Scan() error {
	return b.dev.queue.Submit(func() {
		if b.err != nil {
			return
		}
		b.result, b.err = scan.Scan(context.Background(), b.dev.pool, b.lattice, b.markers)
	})
}

func (b *build) Counters(ctx context.Context) (terrain.Counters, error) {
	var c terrain.Counters
	err := b.dev.queue.Do(ctx, func() error {
		c = b.result.Counters
		return b.err
	})
	return c, err
}

func (b *build) AllocateVertices(n uint32) (device.VertexBuffer, error) {
	size := device.BufferBytes(n)
	if err := b.dev.budget.Reserve(size); err != nil {
		return nil, fmt.Errorf("allocating vertex buffer: %w", err)
	}
	return &vertexBuffer{
		budget: b.dev.budget,
		data:   make([]terrain.Vertex, n),
		ready:  make(chan struct{}),
	}, nil
}

func (b *build) Extract(buf device.VertexBuffer) error {
	vb, ok := buf.(*vertexBuffer)
	if !ok {
		return fmt.Errorf("cpu device: foreign vertex buffer %T", buf)
	}
	return b.dev.queue.Submit(func() {
		err := b.err
		if err == nil {
			err = extract.Extract(context.Background(), b.dev.pool, b.lattice, b.result.Markers, vb.data, b.dev.cfg.Extract)
		}
		vb.finish(err)
	})
}

func (b *build) Release() {
	if b.released {
		return
	}
	b.released = true

	layout := b.dev.cfg.Layout
	free := func() {
		b.lattice = nil
		b.markers = nil
		b.result = scan.Result{}
		b.dev.budget.Free(latticeBytes(layout) + markerBytes(layout))
	}
	if err := b.dev.queue.Submit(free); err != nil {
		free()
	}
}

type vertexBuffer struct {
	budget *device.Budget
	data   []terrain.Vertex
	ready  chan struct{}
	err    error

	releaseOnce sync.Once
}

func (v *vertexBuffer) Len() uint32 {
	return uint32(len(v.data))
}

func (v *vertexBuffer) Ready() <-chan struct{} {
	return v.ready
}

func (v *vertexBuffer) finish(err error) {
	v.err = err
	close(v.ready)
}

func (v *vertexBuffer) Read(ctx context.Context) ([]terrain.Vertex, error) {
	select {
	case <-v.ready:
		return v.data, v.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (v *vertexBuffer) Release() {
	v.releaseOnce.Do(func() {
		v.budget.Free(device.BufferBytes(uint32(len(v.data))))
	})
}
