package voice

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RelayConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_relay_connections_active",
		Help: "Browser websocket connections currently relayed",
	})

	RelayConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_relay_connections_total",
		Help: "Browser websocket connections accepted",
	})

	RelayFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_relay_frames_total",
		Help: "Frames relayed by direction and kind",
	}, []string{"direction", "kind"})

	RelayRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_relay_rejected_total",
		Help: "Connections refused because the relay was at capacity",
	})
)
