package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/pairbrowse/relay/internal/relay"
	"github.com/pairbrowse/relay/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load local .env (dev only).
	_ = godotenv.Load()

	cfg := server.NewConfigFromEnv()
	logger := server.NewLogger(cfg.Env)
	logger.Info("starting PairBrowse relay", "port", cfg.Port, "env", cfg.Env)

	// Cancel on SIGINT/SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metrics := server.NewMetrics()
	hub := server.NewHub(logger, metrics)
	registry := relay.NewRegistry(hub, logger)
	metrics.TrackActiveRooms(func() float64 {
		return float64(registry.RoomCount())
	})

	// Optional Redis bus for multi-instance fan-out, with the shared room
	// store so rooms created on other instances can be joined here.
	if cfg.RedisAddr != "" {
		bus, err := server.NewEventBus(ctx, cfg.RedisAddr, cfg.RedisDB, logger)
		if err != nil {
			logger.Error("redis connect failed", "addr", cfg.RedisAddr, "err", err)
			os.Exit(1)
		}
		defer bus.Close()
		hub.SetEventBus(ctx, bus)
		registry.SetStore(server.NewRoomStore(bus.Client(), logger))
		logger.Info("event bus enabled", "addr", cfg.RedisAddr)
	}

	go hub.Run()

	mux := server.SetupRoutes(hub, registry, cfg, metrics)
	httpServer := server.CreateServer(cfg.Addr(), mux)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.StartServer(httpServer, logger)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "err", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	if err := server.ShutdownServer(httpServer, shutdownTimeout, logger); err != nil {
		logger.Warn("HTTP shutdown incomplete", "err", err)
	}
	if err := hub.Shutdown(shutdownTimeout); err != nil {
		logger.Warn("hub shutdown incomplete", "err", err)
	}
}
