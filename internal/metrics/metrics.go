// Package metrics exposes Prometheus collectors for sessions, playback and the bridge.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "onbeat_sessions_active",
		Help: "Number of guilds with an active playback session",
	})

	SessionTeardowns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onbeat_session_teardowns_total",
		Help: "Sessions torn down, by reason",
	}, []string{"reason"})

	PlaybackEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onbeat_playback_events_total",
		Help: "Playback events received from the audio node, by event",
	}, []string{"event"})

	AnnouncementFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "onbeat_announcement_failures_total",
		Help: "Announcements that could not be posted",
	})

	QueueRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "onbeat_queue_rejections_total",
		Help: "Tracks rejected because a queue was full",
	})

	BridgeClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "onbeat_bridge_clients",
		Help: "Connected WebSocket bridge clients",
	})

	BridgeMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onbeat_bridge_messages_total",
		Help: "Bridge messages received, by type and status",
	}, []string{"type", "status"})

	AudioNodeRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onbeat_audio_node_requests_total",
		Help: "REST calls to the audio node, by operation and status",
	}, []string{"op", "status"})
)
