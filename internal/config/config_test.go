package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Faultbox/isoterrain/internal/density"
	"github.com/Faultbox/isoterrain/internal/noise"
	"github.com/Faultbox/isoterrain/internal/terrain"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// Chunk defaults
	if cfg.Layout() != terrain.DefaultLayout() {
		t.Errorf("expected default layout, got %+v", cfg.Layout())
	}

	// Terrain defaults
	if len(cfg.Terrain.Octaves) != noise.NumVolumes {
		t.Errorf("expected %d octaves, got %d", noise.NumVolumes, len(cfg.Terrain.Octaves))
	}
	if cfg.Terrain.NoiseDir != "" {
		t.Errorf("expected seeded noise by default, got dir %s", cfg.Terrain.NoiseDir)
	}

	// Device defaults
	if cfg.Device.Backend != BackendCPU {
		t.Errorf("expected cpu backend, got %s", cfg.Device.Backend)
	}
	if cfg.Limits().MaxBufferSize != 128<<20 {
		t.Errorf("expected 128 MiB buffers, got %d", cfg.Limits().MaxBufferSize)
	}

	// Server defaults
	if cfg.Server.Listen != "127.0.0.1:8765" {
		t.Errorf("expected listen 127.0.0.1:8765, got %s", cfg.Server.Listen)
	}
	if cfg.Server.ShutdownTimeout != 5*time.Second {
		t.Errorf("expected shutdown timeout 5s, got %v", cfg.Server.ShutdownTimeout)
	}

	// Logging defaults
	if cfg.Logging.Level != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.Logging.Level)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestDefault_TerrainFieldMatchesDensityDefaults(t *testing.T) {
	cache := noise.NewSeeded(3, 8)
	got := Default().TerrainField(cache)
	want := density.NewTerrainField(cache)

	if got.Octaves != want.Octaves || got.VerticalBias != want.VerticalBias {
		t.Errorf("config field %+v differs from density defaults %+v", got.Octaves, want.Octaves)
	}
}

func TestLoadFromFile(t *testing.T) {
	// Create temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
chunk:
  dim: 32
  margin: 2
  world_size: 8

terrain:
  noise_dir: "/data/noise"
  seed: 42
  hard_floor: -3
  hard_floor_strength: 40
  octaves:
    - frequency: 0.5
      amplitude: 2
      offset: [1, 2, 3]

extract:
  occlusion: false
  tight_bounds: true

device:
  backend: gl
  memory_budget_mb: 512

server:
  listen: ":9000"
  compress: false
  shutdown_timeout: 2s

logging:
  level: "debug"
  log_file: "terrain.log"
`

	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	// Load config
	cfg := Default()
	if err := loadFromFile(cfg, configPath); err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	// Verify values were loaded
	want := terrain.Layout{Dim: 32, Margin: 2, WorldSize: 8}
	if cfg.Layout() != want {
		t.Errorf("expected layout %+v, got %+v", want, cfg.Layout())
	}
	if cfg.Terrain.NoiseDir != "/data/noise" || cfg.Terrain.Seed != 42 {
		t.Errorf("unexpected terrain noise settings %+v", cfg.Terrain)
	}
	if len(cfg.Terrain.Octaves) != 1 || cfg.Terrain.Octaves[0].Offset != [3]float32{1, 2, 3} {
		t.Errorf("expected one octave replacing defaults, got %+v", cfg.Terrain.Octaves)
	}

	field := cfg.TerrainField(noise.NewSeeded(1, 4))
	if field.HardFloor != -3 || field.HardFloorStrength != 40 {
		t.Errorf("hard floor not applied: %+v", field)
	}
	if field.Octaves[1].Amplitude != 0 {
		t.Error("unlisted octaves should be disabled")
	}

	if cfg.ExtractOptions().Occlusion || !cfg.Extract.TightBounds {
		t.Errorf("unexpected extract settings %+v", cfg.Extract)
	}
	// Untouched keys keep defaults.
	if cfg.Extract.RayLength != 8 {
		t.Errorf("expected default ray length 8, got %v", cfg.Extract.RayLength)
	}

	if cfg.Device.Backend != BackendGL {
		t.Errorf("expected gl backend, got %s", cfg.Device.Backend)
	}
	if cfg.Limits().MemoryBudget != 512<<20 {
		t.Errorf("expected 512 MiB budget, got %d", cfg.Limits().MemoryBudget)
	}

	if cfg.Server.Listen != ":9000" || cfg.Server.Compress {
		t.Errorf("unexpected server settings %+v", cfg.Server)
	}
	if cfg.Server.ShutdownTimeout != 2*time.Second {
		t.Errorf("expected shutdown timeout 2s, got %v", cfg.Server.ShutdownTimeout)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.Logging.Level)
	}
	if cfg.Logging.LogFile != "terrain.log" {
		t.Errorf("expected log file 'terrain.log', got %s", cfg.Logging.LogFile)
	}
}

func TestLoadFromFileInvalid(t *testing.T) {
	// Create temporary config file with invalid YAML
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	invalidYAML := `
chunk:
  dim: not a number
  invalid syntax here
`

	if err := os.WriteFile(configPath, []byte(invalidYAML), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	// Try to load - should error
	cfg := Default()
	err := loadFromFile(cfg, configPath)
	if err == nil {
		t.Error("expected error loading invalid YAML, got nil")
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	cfg := Default()
	err := loadFromFile(cfg, "/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error loading missing file, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad dim", func(c *Config) { c.Chunk.Dim = 1 }, "chunk:"},
		{"too many octaves", func(c *Config) {
			c.Terrain.Octaves = append(c.Terrain.Octaves, OctaveConfig{})
		}, "octaves"},
		{"tiny seeded noise", func(c *Config) { c.Terrain.NoiseSize = 1 }, "noise_size"},
		{"ray length", func(c *Config) { c.Extract.RayLength = 0 }, "ray_length"},
		{"backend", func(c *Config) { c.Device.Backend = "vulkan" }, "unknown backend"},
		{"buffer size", func(c *Config) { c.Device.MaxBufferMB = 0 }, "max_buffer_mb"},
		{"budget", func(c *Config) { c.Device.MemoryBudgetMB = -1 }, "memory_budget_mb"},
		{"radius", func(c *Config) { c.Stream.Radius = -2 }, "radius"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestConfigDir(t *testing.T) {
	dir := ConfigDir()

	// Just verify it returns a non-empty path
	// Actual path depends on OS
	if dir == "" {
		t.Error("ConfigDir returned empty string")
	}

	// Verify path is absolute
	if !filepath.IsAbs(dir) {
		t.Errorf("ConfigDir should return absolute path, got %s", dir)
	}
}

func TestFindConfigFile(t *testing.T) {
	// Save current directory
	origDir, _ := os.Getwd()
	defer os.Chdir(origDir)

	// Create temp directory and change to it
	tmpDir := t.TempDir()
	os.Chdir(tmpDir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))

	// No config file exists - should return empty
	path := findConfigFile()
	if path != "" {
		t.Errorf("expected empty path when no config exists, got %s", path)
	}

	// Create config.yaml in current directory
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("chunk:\n  dim: 8\n"), 0644); err != nil {
		t.Fatalf("failed to create test config: %v", err)
	}

	// Should find it now
	path = findConfigFile()
	if path == "" {
		t.Error("expected to find config.yaml in current directory")
	}
}

func TestSaveToRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := Default()
	cfg.Device.Backend = BackendGL
	cfg.Terrain.Seed = 99
	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo failed: %v", err)
	}

	loaded, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if loaded.Device.Backend != BackendGL || loaded.Terrain.Seed != 99 {
		t.Errorf("saved settings lost: %+v", loaded)
	}
	if len(loaded.Terrain.Octaves) != noise.NumVolumes {
		t.Errorf("expected %d octaves after round trip, got %d", noise.NumVolumes, len(loaded.Terrain.Octaves))
	}
}

func TestApplyFlags(t *testing.T) {
	tests := []struct {
		name     string
		setup    func()
		verify   func(*Config)
		teardown func()
	}{
		{
			name: "debug flag",
			setup: func() {
				*flagDebug = true
			},
			verify: func(cfg *Config) {
				if cfg.Logging.Level != "debug" {
					t.Errorf("expected log level 'debug', got %s", cfg.Logging.Level)
				}
			},
			teardown: func() {
				*flagDebug = false
			},
		},
		{
			name: "backend and workers flags",
			setup: func() {
				*flagBackend = BackendGL
				*flagWorkers = 3
			},
			verify: func(cfg *Config) {
				if cfg.Device.Backend != BackendGL || cfg.Device.Workers != 3 {
					t.Errorf("unexpected device settings %+v", cfg.Device)
				}
			},
			teardown: func() {
				*flagBackend = ""
				*flagWorkers = 0
			},
		},
		{
			name: "noise flags",
			setup: func() {
				*flagNoiseDir = "/tmp/noise"
				*flagSeed = 7
			},
			verify: func(cfg *Config) {
				if cfg.Terrain.NoiseDir != "/tmp/noise" || cfg.Terrain.Seed != 7 {
					t.Errorf("unexpected terrain settings %+v", cfg.Terrain)
				}
			},
			teardown: func() {
				*flagNoiseDir = ""
				*flagSeed = 0
			},
		},
		{
			name: "radius zero is an override",
			setup: func() {
				*flagRadius = 0
			},
			verify: func(cfg *Config) {
				if cfg.Stream.Radius != 0 {
					t.Errorf("expected radius 0, got %d", cfg.Stream.Radius)
				}
			},
			teardown: func() {
				*flagRadius = -1
			},
		},
		{
			name: "listen and log file flags",
			setup: func() {
				*flagListen = ":7000"
				*flagLogFile = "out.log"
			},
			verify: func(cfg *Config) {
				if cfg.Server.Listen != ":7000" || cfg.Logging.LogFile != "out.log" {
					t.Errorf("unexpected overrides %+v %+v", cfg.Server, cfg.Logging)
				}
			},
			teardown: func() {
				*flagListen = ""
				*flagLogFile = ""
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Setup
			tt.setup()
			defer tt.teardown()

			// Apply flags to default config
			cfg := Default()
			applyFlags(cfg)

			// Verify
			tt.verify(cfg)
		})
	}
}

func TestLoadPriority(t *testing.T) {
	// Create temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
device:
  backend: gl
  workers: 2
`

	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	// Set flag to override config file
	*flagConfig = configPath
	*flagBackend = BackendCPU
	defer func() {
		*flagConfig = ""
		*flagBackend = ""
	}()

	// Load config
	cfg, err := Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	// Backend should be from flag, not file
	if cfg.Device.Backend != BackendCPU {
		t.Errorf("expected backend cpu from flag, got %s", cfg.Device.Backend)
	}

	// Workers should be from file since no flag override
	if cfg.Device.Workers != 2 {
		t.Errorf("expected workers 2 from file, got %d", cfg.Device.Workers)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("device:\n  backend: metal\n"), 0644); err != nil {
		t.Fatal(err)
	}

	*flagConfig = configPath
	defer func() { *flagConfig = "" }()

	if _, err := Load(); err == nil {
		t.Error("expected validation error")
	}
}
