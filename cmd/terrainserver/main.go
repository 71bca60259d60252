// Package main is the entry point for the terrain chunk server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/Faultbox/isoterrain/internal/app"
	"github.com/Faultbox/isoterrain/internal/config"
	"github.com/Faultbox/isoterrain/internal/logger"
	"github.com/Faultbox/isoterrain/internal/terrain"
	"github.com/Faultbox/isoterrain/internal/transport/ws"
)

func main() {
	// Parse CLI flags first
	config.ParseFlags()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.LogFile); err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("=== Isoterrain chunk server ===")
	logger.Sugar.Debugf("Config: %+v", cfg)

	if err := run(cfg); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(cfg *config.Config) error {
	a, err := app.Open(cfg, logger.Named("app"))
	if err != nil {
		return err
	}
	defer a.Close()

	streamer := a.NewStreamer()
	defer streamer.Close()

	// Warm the area around the origin before the first client arrives.
	queued := streamer.RequestAround(terrain.ChunkCoord{}, cfg.Stream.Radius)
	logger.Info("prefetching chunks", zap.Int("queued", queued))

	srvCfg := cfg.Server
	chunks := ws.NewServer(a.Registry, streamer, logger.Named("ws"), ws.Options{
		DefaultRadius: cfg.Stream.Radius,
		MaxRadius:     srvCfg.MaxRadius,
		Compress:      srvCfg.Compress,
		AllowRemote:   srvCfg.AllowRemote,
		SendBuffer:    srvCfg.SendBuffer,
	})

	mux := http.NewServeMux()
	mux.Handle(srvCfg.Path, chunks.Handler())
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain")
		fmt.Fprintf(rw, "ok chunks=%d pending=%d\n", a.Registry.Len(), streamer.Pending())
	})

	httpSrv := &http.Server{Addr: srvCfg.Listen, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", srvCfg.Listen), zap.String("path", srvCfg.Path))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), srvCfg.ShutdownTimeout)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
