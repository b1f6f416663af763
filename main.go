package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/FACorreiaa/outdoor-explorer/internal/pkg/config"
	"github.com/FACorreiaa/outdoor-explorer/internal/pkg/logger"
	"github.com/FACorreiaa/outdoor-explorer/internal/server"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Error loading .env file, using environment variables")
	}

	zlog, err := logger.Init(logger.LevelFromEnv(), zap.String("service", server.ServiceName))
	if err != nil {
		return err
	}
	defer func() { _ = zlog.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := server.InitObservability(cfg, zlog)
	if err != nil {
		return err
	}
	defer func() {
		if err := otelShutdown(context.Background()); err != nil {
			zlog.Error("Failed to shutdown OpenTelemetry", zap.Error(err))
		}
	}()

	srv, err := server.New(ctx, cfg, zlog)
	if err != nil {
		return err
	}
	defer srv.Close()

	router, cleanup, err := server.SetupRouter(ctx, cfg, srv.GetDBPool(), zlog)
	if err != nil {
		return err
	}
	defer cleanup()
	srv.SetRouter(router)

	pprofServer := server.StartPprofServer(cfg.PprofAddr, zlog)
	defer func() { _ = pprofServer.Close() }()

	httpServer := srv.HTTPServer()

	done := make(chan struct{})
	go server.GracefulShutdown(ctx, httpServer, zlog, done)

	zlog.Info("Server starting", zap.String("port", cfg.ServerPort))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		zlog.Error("Server error", zap.Error(err))
		stop()
	}

	<-done
	zlog.Info("Graceful shutdown complete")

	return nil
}
