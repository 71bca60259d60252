package config

import "flag"

var (
	flagConfig   = flag.String("config", "", "Path to config file")
	flagDebug    = flag.Bool("debug", false, "Enable debug logging")
	flagBackend  = flag.String("backend", "", "Compute backend (cpu or gl)")
	flagWorkers  = flag.Int("workers", 0, "CPU device worker count")
	flagNoiseDir = flag.String("noise-dir", "", "Directory holding noise0..3 volumes")
	flagSeed     = flag.Int64("seed", 0, "Seed for generated noise volumes")
	flagListen   = flag.String("listen", "", "Chunk server listen address")
	flagRadius   = flag.Int("radius", -1, "Streaming radius in chunks")
	flagLogFile  = flag.String("log-file", "", "Rotating log file path")
)

// ParseFlags parses command-line flags. Call this early in main().
func ParseFlags() {
	flag.Parse()
}

// ConfigPath returns the explicit config path if provided via --config flag.
func ConfigPath() string {
	return *flagConfig
}

// applyFlags applies CLI flag overrides to the config.
func applyFlags(cfg *Config) {
	if *flagDebug {
		cfg.Logging.Level = "debug"
	}
	if *flagBackend != "" {
		cfg.Device.Backend = *flagBackend
	}
	if *flagWorkers > 0 {
		cfg.Device.Workers = *flagWorkers
	}
	if *flagNoiseDir != "" {
		cfg.Terrain.NoiseDir = *flagNoiseDir
	}
	if *flagSeed != 0 {
		cfg.Terrain.Seed = *flagSeed
	}
	if *flagListen != "" {
		cfg.Server.Listen = *flagListen
	}
	if *flagRadius >= 0 {
		cfg.Stream.Radius = *flagRadius
	}
	if *flagLogFile != "" {
		cfg.Logging.LogFile = *flagLogFile
	}
}
