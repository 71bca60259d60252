// Package app wires a configured device, pipeline context and registry
// together for the command-line tools.
package app

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/Faultbox/isoterrain/internal/config"
	"github.com/Faultbox/isoterrain/internal/device"
	"github.com/Faultbox/isoterrain/internal/device/cpu"
	"github.com/Faultbox/isoterrain/internal/device/glcompute"
	"github.com/Faultbox/isoterrain/internal/pipeline"
)

// App is one opened pipeline.
type App struct {
	Config   *config.Config
	Device   device.Device
	Context  *pipeline.Context
	Registry *pipeline.Registry
}

// Open loads the noise volumes, opens the configured device and binds a
// pipeline context to it.
func Open(cfg *config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}

	cache, seeded, err := cfg.LoadNoise()
	if err != nil {
		return nil, fmt.Errorf("loading noise volumes: %w", err)
	}
	if seeded {
		log.Info("using seeded noise volumes",
			zap.Int64("seed", cfg.Terrain.Seed),
			zap.Int("size", cfg.Terrain.NoiseSize),
		)
	}
	field := cfg.TerrainField(cache)

	var dev device.Device
	switch cfg.Device.Backend {
	case config.BackendGL:
		dev, err = glcompute.New(glcompute.Config{
			Layout:  cfg.Layout(),
			Terrain: field,
			Extract: cfg.ExtractOptions(),
			Limits:  cfg.Limits(),
			Logger:  log.Named("gl"),
		})
	default:
		dev, err = cpu.New(cpu.Config{
			Layout:     cfg.Layout(),
			Field:      field,
			Extract:    cfg.ExtractOptions(),
			Limits:     cfg.Limits(),
			Workers:    cfg.Device.Workers,
			QueueDepth: cfg.Device.QueueDepth,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s device: %w", cfg.Device.Backend, err)
	}

	pctx, err := pipeline.NewContext(dev, cfg.Layout(), log.Named("pipeline"), pipeline.Options{
		TightBounds: cfg.Extract.TightBounds,
	})
	if err != nil {
		dev.Close()
		return nil, err
	}

	log.Info("device ready",
		zap.String("backend", dev.Name()),
		zap.Int("dim", cfg.Chunk.Dim),
		zap.Int("margin", cfg.Chunk.Margin),
		zap.Int64("max_buffer", dev.Limits().MaxBufferSize),
	)
	return &App{
		Config:   cfg,
		Device:   dev,
		Context:  pctx,
		Registry: pipeline.NewRegistry(),
	}, nil
}

// NewStreamer starts a streamer publishing into the app's registry.
func (a *App) NewStreamer() *pipeline.Streamer {
	s := a.Config.Stream
	return pipeline.NewStreamer(a.Context, a.Registry, pipeline.StreamerOptions{
		Workers:    s.Workers,
		QueueSize:  s.QueueSize,
		MaxPending: s.MaxPending,
	})
}

// Close releases every chunk and shuts the device down.
func (a *App) Close() error {
	a.Registry.Clear()
	return a.Device.Close()
}
