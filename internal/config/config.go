// Package config handles terrain pipeline configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/Faultbox/isoterrain/internal/density"
	"github.com/Faultbox/isoterrain/internal/device"
	"github.com/Faultbox/isoterrain/internal/extract"
	"github.com/Faultbox/isoterrain/internal/noise"
	"github.com/Faultbox/isoterrain/internal/terrain"
	"github.com/Faultbox/isoterrain/pkg/math"
)

// Device backends.
const (
	BackendCPU = "cpu"
	BackendGL  = "gl"
)

// Config holds all pipeline settings.
type Config struct {
	Chunk   ChunkConfig   `yaml:"chunk"`
	Terrain TerrainConfig `yaml:"terrain"`
	Extract ExtractConfig `yaml:"extract"`
	Device  DeviceConfig  `yaml:"device"`
	Stream  StreamConfig  `yaml:"stream"`
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
}

// ChunkConfig holds the lattice layout.
type ChunkConfig struct {
	Dim       int     `yaml:"dim"`        // lattice points per axis
	Margin    int     `yaml:"margin"`     // extra points on every side
	WorldSize float32 `yaml:"world_size"` // chunk edge in world units
}

// OctaveConfig scales one noise volume.
type OctaveConfig struct {
	Frequency float32    `yaml:"frequency"`
	Amplitude float32    `yaml:"amplitude"`
	Offset    [3]float32 `yaml:"offset"`
}

// TerrainConfig holds density field shaping and noise sources.
type TerrainConfig struct {
	NoiseDir          string         `yaml:"noise_dir"` // empty means seeded noise
	Seed              int64          `yaml:"seed"`
	NoiseSize         int            `yaml:"noise_size"` // edge of seeded volumes
	VerticalBias      float32        `yaml:"vertical_bias"`
	HardFloor         float32        `yaml:"hard_floor"`
	HardFloorStrength float32        `yaml:"hard_floor_strength"`
	Octaves           []OctaveConfig `yaml:"octaves"`
}

// ExtractConfig holds surface extraction settings.
type ExtractConfig struct {
	Occlusion   bool    `yaml:"occlusion"`
	RayLength   float32 `yaml:"ray_length"` // in voxels
	TightBounds bool    `yaml:"tight_bounds"`
}

// DeviceConfig selects and sizes the compute device.
type DeviceConfig struct {
	Backend        string `yaml:"backend"`
	Workers        int    `yaml:"workers"` // cpu backend, 0 = NumCPU
	QueueDepth     int    `yaml:"queue_depth"`
	MaxBufferMB    int64  `yaml:"max_buffer_mb"`
	MemoryBudgetMB int64  `yaml:"memory_budget_mb"` // 0 = unlimited
}

// StreamConfig sizes the background chunk streamer.
type StreamConfig struct {
	Workers    int `yaml:"workers"`
	QueueSize  int `yaml:"queue_size"`
	MaxPending int `yaml:"max_pending"`
	Radius     int `yaml:"radius"`
}

// ServerConfig holds the websocket chunk server settings.
type ServerConfig struct {
	Listen          string        `yaml:"listen"`
	Path            string        `yaml:"path"`
	Compress        bool          `yaml:"compress"`
	AllowRemote     bool          `yaml:"allow_remote"`
	MaxRadius       int           `yaml:"max_radius"`
	SendBuffer      int           `yaml:"send_buffer"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	layout := terrain.DefaultLayout()
	ex := extract.DefaultOptions()

	var octaves []OctaveConfig
	for _, o := range density.DefaultOctaves() {
		octaves = append(octaves, OctaveConfig{
			Frequency: o.Frequency,
			Amplitude: o.Amplitude,
			Offset:    o.Offset.Array(),
		})
	}

	return &Config{
		Chunk: ChunkConfig{
			Dim:       layout.Dim,
			Margin:    layout.Margin,
			WorldSize: layout.WorldSize,
		},
		Terrain: TerrainConfig{
			Seed:         1,
			NoiseSize:    noise.DefaultVolumeSize,
			VerticalBias: 1,
			Octaves:      octaves,
		},
		Extract: ExtractConfig{
			Occlusion: ex.Occlusion,
			RayLength: ex.RayLength,
		},
		Device: DeviceConfig{
			Backend:     BackendCPU,
			QueueDepth:  64,
			MaxBufferMB: 128,
		},
		Stream: StreamConfig{
			QueueSize:  4096,
			MaxPending: 16384,
			Radius:     2,
		},
		Server: ServerConfig{
			Listen:          "127.0.0.1:8765",
			Path:            "/chunks",
			Compress:        true,
			MaxRadius:       8,
			SendBuffer:      256,
			ShutdownTimeout: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
	}
}

// Validate checks the settings that would otherwise fail deep inside a build.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Layout().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("chunk: %w", err))
	}
	if len(c.Terrain.Octaves) > noise.NumVolumes {
		errs = append(errs, fmt.Errorf("terrain: %d octaves, at most %d", len(c.Terrain.Octaves), noise.NumVolumes))
	}
	if c.Terrain.NoiseDir == "" && c.Terrain.NoiseSize < 2 {
		errs = append(errs, fmt.Errorf("terrain: noise_size %d too small", c.Terrain.NoiseSize))
	}
	if c.Extract.Occlusion && c.Extract.RayLength <= 0 {
		errs = append(errs, errors.New("extract: ray_length must be positive"))
	}
	switch c.Device.Backend {
	case BackendCPU, BackendGL:
	default:
		errs = append(errs, fmt.Errorf("device: unknown backend %q", c.Device.Backend))
	}
	if c.Device.MaxBufferMB <= 0 {
		errs = append(errs, errors.New("device: max_buffer_mb must be positive"))
	}
	if c.Device.MemoryBudgetMB < 0 {
		errs = append(errs, errors.New("device: negative memory_budget_mb"))
	}
	if c.Stream.Radius < 0 {
		errs = append(errs, errors.New("stream: negative radius"))
	}
	return errors.Join(errs...)
}

// Layout returns the lattice layout.
func (c *Config) Layout() terrain.Layout {
	return terrain.Layout{Dim: c.Chunk.Dim, Margin: c.Chunk.Margin, WorldSize: c.Chunk.WorldSize}
}

// Limits returns the device allocation limits.
func (c *Config) Limits() device.Limits {
	return device.Limits{
		MaxBufferSize: c.Device.MaxBufferMB << 20,
		MemoryBudget:  c.Device.MemoryBudgetMB << 20,
	}
}

// ExtractOptions returns the extractor settings.
func (c *Config) ExtractOptions() extract.Options {
	return extract.Options{Occlusion: c.Extract.Occlusion, RayLength: c.Extract.RayLength}
}

// LoadNoise loads the noise volumes, seeding any that are missing.
// The bool reports whether seeded volumes were used.
func (c *Config) LoadNoise() (*noise.Cache, bool, error) {
	return noise.LoadOrSeed(c.Terrain.NoiseDir, c.Terrain.Seed, c.Terrain.NoiseSize)
}

// TerrainField builds the density field over cache. Missing octaves are silent.
func (c *Config) TerrainField(cache *noise.Cache) *density.TerrainField {
	f := density.NewTerrainField(cache)
	f.VerticalBias = c.Terrain.VerticalBias
	f.HardFloor = c.Terrain.HardFloor
	f.HardFloorStrength = c.Terrain.HardFloorStrength

	f.Octaves = [noise.NumVolumes]density.Octave{}
	for i, o := range c.Terrain.Octaves {
		if i >= noise.NumVolumes {
			break
		}
		f.Octaves[i] = density.Octave{
			Frequency: o.Frequency,
			Amplitude: o.Amplitude,
			Offset:    math.Vec3{X: o.Offset[0], Y: o.Offset[1], Z: o.Offset[2]},
		}
	}
	return f
}
