package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Detection pipeline metrics (spec §6). Low-cardinality: camera_id is the
// only per-entity label, matching the pipeline's own at-most-a-few-dozen
// camera count.

var (
	InferFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "infer_frames_total",
			Help: "Total frames read per camera",
		},
		[]string{"camera_id"},
	)

	InferEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "infer_events_total",
			Help: "Total events produced per camera and detector type",
		},
		[]string{"camera_id", "type"},
	)

	PublisherFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publisher_failures_total",
			Help: "Total publish failures by sink",
		},
		[]string{"sink"},
	)

	KVSHLSReconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kvs_hls_reconnects_total",
			Help: "Total reconnect attempts per camera",
		},
		[]string{"camera_id"},
	)

	KVSHLSURLRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kvs_hls_url_refreshes_total",
			Help: "Total HLS session URL refreshes per camera",
		},
		[]string{"camera_id"},
	)

	KVSHLSReadErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kvs_hls_read_errors_total",
			Help: "Total frame read errors per camera",
		},
		[]string{"camera_id"},
	)

	InferLatencyMs = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "infer_latency_ms",
			Help:    "Detector chain latency per frame in milliseconds",
			Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000},
		},
		[]string{"camera_id"},
	)

	WorkerAlive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_alive",
			Help: "1 if the camera worker's loop is running, 0 otherwise",
		},
		[]string{"camera_id"},
	)

	KVSHLSConnectionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kvs_hls_connection_state",
			Help: "Current frame source state (0=disconnected,1=connecting,2=connected,3=reconnecting,4=error)",
		},
		[]string{"camera_id"},
	)

	KVSHLSLastFrameTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kvs_hls_last_frame_timestamp",
			Help: "Unix ms timestamp of the last frame read per camera",
		},
		[]string{"camera_id"},
	)
)

func RecordFrame(cameraID string) {
	InferFramesTotal.WithLabelValues(cameraID).Inc()
}

func RecordEvent(cameraID, eventType string) {
	InferEventsTotal.WithLabelValues(cameraID, eventType).Inc()
}

func RecordPublisherFailure(sink string) {
	PublisherFailuresTotal.WithLabelValues(sink).Inc()
}

func RecordInferLatency(cameraID string, ms float64) {
	InferLatencyMs.WithLabelValues(cameraID).Observe(ms)
}

func SetWorkerAlive(cameraID string, alive bool) {
	if alive {
		WorkerAlive.WithLabelValues(cameraID).Set(1)
	} else {
		WorkerAlive.WithLabelValues(cameraID).Set(0)
	}
}

func SetConnectionState(cameraID string, state float64) {
	KVSHLSConnectionState.WithLabelValues(cameraID).Set(state)
}

func SetLastFrameTimestamp(cameraID string, tsMs int64) {
	KVSHLSLastFrameTimestamp.WithLabelValues(cameraID).Set(float64(tsMs))
}

func RecordKVSReconnect(cameraID string) {
	KVSHLSReconnectsTotal.WithLabelValues(cameraID).Inc()
}

func RecordKVSURLRefresh(cameraID string) {
	KVSHLSURLRefreshesTotal.WithLabelValues(cameraID).Inc()
}

func RecordKVSReadError(cameraID string) {
	KVSHLSReadErrorsTotal.WithLabelValues(cameraID).Inc()
}
