package metrics

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// AppMetrics holds the application's metric instruments.
type AppMetrics struct {
	VoiceSessionsStarted   metric.Int64Counter
	VoiceSessionFailures   metric.Int64Counter
	VoiceNegotiationTime   metric.Float64Histogram
	ProtocolErrorsTotal    metric.Int64Counter
	TripPayloadsExtracted  metric.Int64Counter
	RenderPassesTotal      metric.Int64Counter
	RenderOperationErrors  metric.Int64Counter
	SegmentsDroppedTotal   metric.Int64Counter
	ItineraryGenerations   metric.Int64Counter
	ItineraryGenerationDur metric.Float64Histogram
}

var (
	appMetrics *AppMetrics
	once       sync.Once

	noopMetrics, _ = newAppMetrics(noop.NewMeterProvider().Meter("noop"))
)

// InitAppMetrics initializes the global metric instruments once, from the global MeterProvider.
func InitAppMetrics() error {
	var initErr error
	once.Do(func() {
		m, err := newAppMetrics(otel.GetMeterProvider().Meter("outdoor-explorer"))
		if err != nil {
			initErr = err
			return
		}
		appMetrics = m
	})
	return initErr
}

// Get returns the global instruments, or no-op instruments when InitAppMetrics was not called
// (unit tests).
func Get() *AppMetrics {
	if appMetrics == nil {
		return noopMetrics
	}
	return appMetrics
}

func newAppMetrics(meter metric.Meter) (*AppMetrics, error) {
	var err error
	m := &AppMetrics{}

	if m.VoiceSessionsStarted, err = meter.Int64Counter(
		"voice_sessions_started_total",
		metric.WithDescription("Realtime voice sessions that reached the connected state"),
		metric.WithUnit("{session}"),
	); err != nil {
		return nil, err
	}
	if m.VoiceSessionFailures, err = meter.Int64Counter(
		"voice_session_failures_total",
		metric.WithDescription("Realtime voice sessions that moved to the error state"),
		metric.WithUnit("{session}"),
	); err != nil {
		return nil, err
	}
	if m.VoiceNegotiationTime, err = meter.Float64Histogram(
		"voice_negotiation_duration_seconds",
		metric.WithDescription("Time from start to remote answer applied"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.ProtocolErrorsTotal, err = meter.Int64Counter(
		"realtime_protocol_errors_total",
		metric.WithDescription("Inbound data channel messages dropped as malformed"),
		metric.WithUnit("{message}"),
	); err != nil {
		return nil, err
	}
	if m.TripPayloadsExtracted, err = meter.Int64Counter(
		"realtime_trip_payloads_total",
		metric.WithDescription("Trip payloads extracted from assistant messages"),
		metric.WithUnit("{payload}"),
	); err != nil {
		return nil, err
	}
	if m.RenderPassesTotal, err = meter.Int64Counter(
		"map_render_passes_total",
		metric.WithDescription("Map layer render passes"),
		metric.WithUnit("{pass}"),
	); err != nil {
		return nil, err
	}
	if m.RenderOperationErrors, err = meter.Int64Counter(
		"map_render_operation_errors_total",
		metric.WithDescription("Map engine operations that failed during a render pass"),
		metric.WithUnit("{operation}"),
	); err != nil {
		return nil, err
	}
	if m.SegmentsDroppedTotal, err = meter.Int64Counter(
		"route_segments_dropped_total",
		metric.WithDescription("Segments dropped by the geometry normalizer"),
		metric.WithUnit("{segment}"),
	); err != nil {
		return nil, err
	}
	if m.ItineraryGenerations, err = meter.Int64Counter(
		"itinerary_generations_total",
		metric.WithDescription("Prompt to itinerary generations"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}
	if m.ItineraryGenerationDur, err = meter.Float64Histogram(
		"itinerary_generation_duration_seconds",
		metric.WithDescription("Itinerary backend latency"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return m, nil
}
