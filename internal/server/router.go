package server

import (
	"bytes"
	"context"
	"io"
	"strings"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/FACorreiaa/outdoor-explorer/internal/app/domain/trips"
	"github.com/FACorreiaa/outdoor-explorer/internal/app/middleware"
	"github.com/FACorreiaa/outdoor-explorer/internal/pkg/config"
	"github.com/FACorreiaa/outdoor-explorer/internal/routes"
)

// ServiceName names this process in traces and metrics.
const ServiceName = "outdoor-explorer"

// maxLoggedBody bounds request bodies copied into access logs.
const maxLoggedBody = 4 << 10

// SetupRouter configures the Gin router with middleware and routes. db may be nil.
// The returned func releases what the routes hold.
func SetupRouter(ctx context.Context, cfg *config.Config, db trips.Querier, logger *zap.Logger) (*gin.Engine, func(), error) {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(middleware.RequestIDMiddleware())
	r.Use(ginzap.GinzapWithConfig(logger, &ginzap.Config{
		UTC:        true,
		TimeFormat: time.RFC3339,
		SkipPaths:  []string{"/healthz"},
		Context:    zapContextFunc(),
	}))
	r.Use(ginzap.RecoveryWithZap(logger, true))
	r.Use(middleware.OTELGinMiddleware(ServiceName))
	r.Use(middleware.CORSMiddleware())
	r.Use(middleware.SecurityMiddleware())

	cleanup, err := routes.Setup(ctx, r, cfg, db, logger)
	if err != nil {
		return nil, nil, err
	}
	return r, cleanup, nil
}

// zapContextFunc returns the Zap context function for logging
func zapContextFunc() ginzap.Fn {
	return func(c *gin.Context) []zapcore.Field {
		fields := []zapcore.Field{}

		if requestID := c.Writer.Header().Get(middleware.RequestIDHeader); requestID != "" {
			fields = append(fields, zap.String("request_id", requestID))
		}

		if span := trace.SpanFromContext(c.Request.Context()); span.SpanContext().IsValid() {
			fields = append(fields,
				zap.String("trace_id", span.SpanContext().TraceID().String()),
				zap.String("span_id", span.SpanContext().SpanID().String()),
			)
		}

		// Small JSON bodies only; websocket upgrades and trip documents are skipped.
		if c.Request.Body != nil && c.Request.ContentLength > 0 && c.Request.ContentLength <= maxLoggedBody &&
			strings.HasPrefix(c.ContentType(), "application/json") {
			body, _ := io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewReader(body))
			if len(body) > 0 {
				fields = append(fields, zap.ByteString("body", body))
			}
		}

		return fields
	}
}
