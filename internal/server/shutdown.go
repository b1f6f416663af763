package server

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// GracefulShutdown waits for ctx to be cancelled, then gives in-flight requests five seconds
// to finish before closing the server.
func GracefulShutdown(ctx context.Context, srv *http.Server, logger *zap.Logger, done chan<- struct{}) {
	<-ctx.Done()
	logger.Info("Shutting down gracefully, press Ctrl+C again to force")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exiting")
	close(done)
}
