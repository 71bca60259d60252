// terrainctl is a CLI utility for building terrain chunks and inspecting
// the pipeline's inputs.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/isoterrain/internal/app"
	"github.com/Faultbox/isoterrain/internal/config"
	"github.com/Faultbox/isoterrain/internal/device"
	"github.com/Faultbox/isoterrain/internal/logger"
	"github.com/Faultbox/isoterrain/internal/mctables"
	"github.com/Faultbox/isoterrain/internal/noise"
	"github.com/Faultbox/isoterrain/internal/parallel"
	"github.com/Faultbox/isoterrain/internal/pipeline"
	"github.com/Faultbox/isoterrain/internal/terrain"
)

func main() {
	flag.Usage = printUsage
	config.ParseFlags()

	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}

	command := args[0]
	args = args[1:]

	switch command {
	case "build":
		cmdBuild(args)
	case "layout":
		cmdLayout(args)
	case "case":
		cmdCase(args)
	case "noise":
		cmdNoise(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`terrainctl - terrain chunk pipeline utility

Usage:
  terrainctl [global flags] <command> [options]

Commands:
  build [-x X -y Y -z Z -radius R]   Build every chunk around a center and report counters
  layout                             Show lattice layout and per-build memory
  case <code>                        Show the triangulation of one cube configuration
  noise <dir>                        Show statistics of the noise volumes in dir

Global flags:
  -config, -debug, -backend, -workers, -noise-dir, -seed, -log-file

Examples:
  terrainctl -backend cpu build -radius 2
  terrainctl -backend gl build -y -1
  terrainctl case 7
  terrainctl noise ./noise`)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func loadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		fatalf("%v", err)
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.LogFile); err != nil {
		fatalf("logger: %v", err)
	}
	return cfg
}

type buildStats struct {
	mu        sync.Mutex
	published int
	empty     int
	failed    int
	active    uint64
	vertices  uint64
	slowest   time.Duration
	slowCoord terrain.ChunkCoord
}

func (s *buildStats) add(res pipeline.Result, err error, took time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case err != nil:
		s.failed++
		return
	case res.Outcome == pipeline.OutcomeEmpty:
		s.empty++
	default:
		s.published++
	}
	s.active += uint64(res.Counters.ActiveVoxels)
	s.vertices += uint64(res.Counters.Vertices)
	if took > s.slowest {
		s.slowest, s.slowCoord = took, res.Coord
	}
}

func cmdBuild(args []string) {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	x := fs.Int("x", 0, "Center chunk X")
	y := fs.Int("y", 0, "Center chunk Y")
	z := fs.Int("z", 0, "Center chunk Z")
	radius := fs.Int("radius", 0, "Chunks around the center (Chebyshev)")
	fs.Parse(args)

	cfg := loadConfig()
	defer logger.Sync()

	a, err := app.Open(cfg, logger.Named("app"))
	if err != nil {
		fatalf("%v", err)
	}
	defer a.Close()

	center := terrain.ChunkCoord{X: *x, Y: *y, Z: *z}
	coords := pipeline.ShellOrder(center, *radius)

	pool := parallel.NewPool(cfg.Stream.Workers)
	defer pool.StopAndWait()

	ctx := context.Background()
	stats := &buildStats{}
	start := time.Now()

	err = parallel.For(ctx, pool, len(coords), func(i int) {
		t0 := time.Now()
		res, err := a.Context.Build(ctx, coords[i])
		if err == nil && res.Chunk != nil {
			// Extraction errors surface from Wait.
			if werr := res.Chunk.Wait(ctx); werr != nil {
				err = werr
				res.Chunk.Release()
			} else {
				a.Registry.Publish(res.Chunk)
			}
		}
		if err != nil {
			logger.Warn("build failed", zap.Stringer("coord", coords[i]), zap.Error(err))
		}
		stats.add(res, err, time.Since(t0))
	})
	if err != nil {
		fatalf("%v", err)
	}
	elapsed := time.Since(start)

	fmt.Printf("Backend:    %s\n", a.Device.Name())
	fmt.Printf("Chunks:     %d (%d published, %d empty, %d failed)\n",
		len(coords), stats.published, stats.empty, stats.failed)
	fmt.Printf("Active:     %d voxels\n", stats.active)
	fmt.Printf("Vertices:   %d (%d triangles, %.2f MB)\n",
		stats.vertices, stats.vertices/3, float64(stats.vertices)*float64(terrain.VertexStride)/(1024*1024))
	fmt.Printf("Elapsed:    %v (%.1f chunks/s)\n", elapsed.Round(time.Millisecond), float64(len(coords))/elapsed.Seconds())
	if stats.published > 0 {
		fmt.Printf("Slowest:    %s in %v\n", stats.slowCoord, stats.slowest.Round(time.Microsecond))
	}

	chunks := a.Registry.Snapshot()
	sort.Slice(chunks, func(i, j int) bool {
		return chunks[i].Counters.Vertices > chunks[j].Counters.Vertices
	})
	if len(chunks) > 0 {
		fmt.Println()
		fmt.Println("Densest chunks:")
		for _, c := range chunks[:min(5, len(chunks))] {
			fmt.Printf("  %-14s %6d active %7d vertices  y %.2f..%.2f\n",
				c.Coord, c.Counters.ActiveVoxels, c.Counters.Vertices, c.Bounds.Min[1], c.Bounds.Max[1])
		}
	}

	if stats.failed > 0 {
		os.Exit(2)
	}
}

func cmdLayout(args []string) {
	cfg := loadConfig()
	l := cfg.Layout()

	lattice := int64(l.NumPoints()) * 4
	markers := int64(l.NumCells()) * 8
	worst := uint32(l.NumCells()) * uint32(mctables.MaxCaseEntries-1)

	fmt.Printf("Dim:          %d points per axis (%d cubes)\n", l.Dim, l.Cells())
	fmt.Printf("Margin:       %d (%d points per axis)\n", l.Margin, l.Points())
	fmt.Printf("World size:   %g (voxel %g)\n", l.WorldSize, l.VoxelSize())
	fmt.Printf("Lattice:      %d samples, %d bytes\n", l.NumPoints(), lattice)
	fmt.Printf("Markers:      %d slots, %d bytes\n", l.NumCells(), markers)
	fmt.Printf("Worst case:   %d vertices, %d bytes\n", worst, device.BufferBytes(worst))

	limits := cfg.Limits()
	if device.BufferBytes(worst) > limits.MaxBufferSize {
		fmt.Printf("Warning:      worst-case vertex buffer exceeds max_buffer_mb (%d)\n", cfg.Device.MaxBufferMB)
	}
}

func cmdCase(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: terrainctl case <code>")
		os.Exit(1)
	}
	v, err := strconv.ParseUint(args[0], 0, 8)
	if err != nil {
		fatalf("invalid code %q: %v", args[0], err)
	}
	code := uint8(v)

	fmt.Printf("Code:       %d (%08b)\n", code, code)
	fmt.Printf("Vertices:   %d\n", mctables.VertexCounts[code])
	fmt.Printf("Triangles:  %d\n", mctables.TriangleCounts[code])

	fmt.Print("Inside:    ")
	for c := 0; c < 8; c++ {
		if code&(1<<c) != 0 {
			fmt.Printf(" %d", c)
		}
	}
	fmt.Println()

	row := mctables.Row(code)
	for t := 0; t+2 < len(row); t += 3 {
		fmt.Printf("  tri %d: edges %2d %2d %2d\n", t/3, row[t], row[t+1], row[t+2])
	}
}

func cmdNoise(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: terrainctl noise <dir>")
		os.Exit(1)
	}

	cache, err := noise.LoadDir(args[0])
	if err != nil {
		fatalf("%v", err)
	}

	fmt.Printf("%-8s %-12s %10s %10s %10s\n", "Volume", "Size", "Min", "Max", "Mean")
	for i := 0; i < noise.NumVolumes; i++ {
		v := cache.Volume(i)
		w, h, d := v.Dims()
		lo, hi, mean := summarize(v.Data())
		fmt.Printf("noise%-3d %-12s %10.4f %10.4f %10.4f\n", i, fmt.Sprintf("%dx%dx%d", w, h, d), lo, hi, mean)
	}
}

func summarize(data []float32) (lo, hi, mean float32) {
	if len(data) == 0 {
		return 0, 0, 0
	}
	lo, hi = data[0], data[0]
	var sum float64
	for _, v := range data {
		lo = min(lo, v)
		hi = max(hi, v)
		sum += float64(v)
	}
	return lo, hi, float32(sum / float64(len(data)))
}
