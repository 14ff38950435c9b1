package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the realtime session pipeline.
type Metrics struct {
	// Transport
	Connects         prometheus.Counter
	Reconnects       prometheus.Counter
	FramesBinary     prometheus.Counter
	FramesText       prometheus.Counter
	FramesDiscarded  prometheus.Counter
	ChunksSent       prometheus.Counter
	BytesSent        prometheus.Counter
	ResponseLatency  prometheus.Histogram

	// Playback queue
	ClipsEnqueued prometheus.Counter
	ClipsPlayed   prometheus.Counter
	ClipsSkipped  prometheus.Counter
	ClipsFailed   prometheus.Counter
	QueueDepth    prometheus.Gauge
}

// New creates and registers all pipeline metrics against the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Connects: factory.NewCounter(prometheus.CounterOpts{
			Name: "lila_transport_connects_total",
			Help: "Total number of successful websocket opens",
		}),
		Reconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "lila_transport_reconnects_total",
			Help: "Total number of reconnect attempts scheduled",
		}),
		FramesBinary: factory.NewCounter(prometheus.CounterOpts{
			Name: "lila_transport_frames_binary_total",
			Help: "Total number of non-empty binary frames received",
		}),
		FramesText: factory.NewCounter(prometheus.CounterOpts{
			Name: "lila_transport_frames_text_total",
			Help: "Total number of text frames received",
		}),
		FramesDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "lila_transport_frames_discarded_total",
			Help: "Total number of frames dropped as empty or malformed",
		}),
		ChunksSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "lila_transport_chunks_sent_total",
			Help: "Total number of microphone chunks sent",
		}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "lila_transport_bytes_sent_total",
			Help: "Total microphone payload bytes sent",
		}),
		ResponseLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "lila_response_latency_seconds",
			Help:    "Delay between last outbound speech and the next inbound audio clip",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		ClipsEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "lila_playback_clips_enqueued_total",
			Help: "Total number of audio clips enqueued for playback",
		}),
		ClipsPlayed: factory.NewCounter(prometheus.CounterOpts{
			Name: "lila_playback_clips_played_total",
			Help: "Total number of audio clips that completed playback",
		}),
		ClipsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "lila_playback_clips_skipped_total",
			Help: "Total number of degenerate clips skipped before playback",
		}),
		ClipsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "lila_playback_clips_failed_total",
			Help: "Total number of clips abandoned due to playback failure",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lila_playback_queue_depth",
			Help: "Current number of clips waiting for playback",
		}),
	}
}
