// Package pipeline drives chunk builds on a compute device and keeps the
// published chunks.
//
// A build walks Generating, Scanning, then either Empty or Sizing,
// Extracting and Published. The scan counters are the only value read back
// from the device before the chunk is handed out.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/isoterrain/internal/device"
	"github.com/Faultbox/isoterrain/internal/extract"
	"github.com/Faultbox/isoterrain/internal/terrain"
)

// ErrCapacityMismatch is returned when the allocated vertex buffer does not
// hold exactly the scanned vertex count.
var ErrCapacityMismatch = errors.New("vertex buffer capacity mismatch")

// ErrLayoutMismatch is returned when a context's layout differs from the
// one its device was built for.
var ErrLayoutMismatch = errors.New("layout does not match device")

// State is a stage of a chunk build.
type State int

const (
	StateGenerating State = iota
	StateScanning
	StateEmpty
	StateSizing
	StateExtracting
	StatePublished
)

var stateNames = [...]string{
	StateGenerating: "generating",
	StateScanning:   "scanning",
	StateEmpty:      "empty",
	StateSizing:     "sizing",
	StateExtracting: "extracting",
	StatePublished:  "published",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Outcome is the terminal result of a build.
type Outcome int

const (
	OutcomeFailed Outcome = iota
	OutcomeEmpty
	OutcomePublished
)

func (o Outcome) String() string {
	switch o {
	case OutcomeEmpty:
		return "empty"
	case OutcomePublished:
		return "published"
	default:
		return "failed"
	}
}

// BuildError reports the chunk and state a build failed in.
type BuildError struct {
	Coord terrain.ChunkCoord
	State State
	Err   error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("chunk %s: %s: %v", e.Coord, e.State, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// Result is what Build returns. Chunk is set only for OutcomePublished.
type Result struct {
	Coord    terrain.ChunkCoord
	Outcome  Outcome
	Chunk    *Chunk
	Counters terrain.Counters
}

// Options tune chunk builds.
type Options struct {
	// WaitForExtraction makes Build block until the vertices are written.
	// Extraction errors then fail the build instead of surfacing from Chunk.Wait.
	WaitForExtraction bool
	// TightBounds shrinks chunk bounds to the extracted vertices.
	// It implies WaitForExtraction.
	TightBounds bool
}

// Context is the shared state every build runs against. Create one per
// device and pass it to each build.
type Context struct {
	dev    device.Device
	layout terrain.Layout
	log    *zap.Logger
	opts   Options
}

// NewContext validates the layout and binds it to dev. A nil logger disables logging.
func NewContext(dev device.Device, layout terrain.Layout, log *zap.Logger, opts Options) (*Context, error) {
	if dev == nil {
		return nil, errors.New("pipeline: nil device")
	}
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	if got := dev.Layout(); got != layout {
		return nil, fmt.Errorf("%w: %s has %+v, context wants %+v", ErrLayoutMismatch, dev.Name(), got, layout)
	}
	if log == nil {
		log = zap.NewNop()
	}
	if opts.TightBounds {
		opts.WaitForExtraction = true
	}
	return &Context{dev: dev, layout: layout, log: log, opts: opts}, nil
}

// Device returns the device builds run on.
func (c *Context) Device() device.Device {
	return c.dev
}

// Layout returns the lattice layout shared by every stage.
func (c *Context) Layout() terrain.Layout {
	return c.layout
}

// Build runs the pipeline for one chunk. Empty chunks return OutcomeEmpty
// and a nil error. Failures return OutcomeFailed and a *BuildError; no
// stage is retried.
func (c *Context) Build(ctx context.Context, coord terrain.ChunkCoord) (Result, error) {
	start := time.Now()
	res := Result{Coord: coord, Outcome: OutcomeFailed}

	fail := func(state State, err error) (Result, error) {
		logf := c.log.Warn
		if errors.Is(err, context.Canceled) {
			logf = c.log.Debug
		}
		logf("chunk build failed",
			zap.Stringer("coord", coord),
			zap.Stringer("state", state),
			zap.Error(err),
		)
		return res, &BuildError{Coord: coord, State: state, Err: err}
	}

	// Generating
	b, err := c.dev.Begin(coord)
	if err != nil {
		return fail(StateGenerating, err)
	}
	if err := b.GenerateDensity(); err != nil {
		b.Release()
		return fail(StateGenerating, err)
	}

	// Scanning
	if err := b.Scan(); err != nil {
		b.Release()
		return fail(StateScanning, err)
	}
	counters, err := b.Counters(ctx)
	if err != nil {
		b.Release()
		return fail(StateScanning, err)
	}
	res.Counters = counters
	scanned := time.Since(start)

	if counters.Empty() {
		b.Release()
		res.Outcome = OutcomeEmpty
		c.log.Debug("chunk empty",
			zap.Stringer("coord", coord),
			zap.Duration("scan", scanned),
		)
		return res, nil
	}

	// Sizing
	buf, err := b.AllocateVertices(counters.Vertices)
	if err != nil {
		b.Release()
		return fail(StateSizing, err)
	}
	if buf.Len() != counters.Vertices {
		buf.Release()
		b.Release()
		return fail(StateSizing, fmt.Errorf("%w: buffer holds %d vertices, scan produced %d",
			ErrCapacityMismatch, buf.Len(), counters.Vertices))
	}

	// Extracting
	if err := b.Extract(buf); err != nil {
		buf.Release()
		b.Release()
		return fail(StateExtracting, err)
	}
	b.Release()

	chunk := newChunk(coord, buf, counters, c.layout)
	if c.opts.WaitForExtraction {
		verts, err := chunk.Vertices(ctx)
		if err != nil {
			chunk.Release()
			return fail(StateExtracting, err)
		}
		if c.opts.TightBounds {
			chunk.Bounds = extract.Bounds(verts)
		}
	}

	res.Outcome = OutcomePublished
	res.Chunk = chunk
	c.log.Debug("chunk built",
		zap.Stringer("coord", coord),
		zap.Uint32("active", counters.ActiveVoxels),
		zap.Uint32("vertices", counters.Vertices),
		zap.Duration("scan", scanned),
		zap.Duration("total", time.Since(start)),
	)
	return res, nil
}
