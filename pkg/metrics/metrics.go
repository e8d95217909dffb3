package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Queue state metrics
	QueuesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dts_queues_total",
			Help: "Total number of configured queues by type and state",
		},
		[]string{"type", "state"},
	)

	QueueBacklog = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dts_queue_backlog",
			Help: "Number of slots between current and next for a queue",
		},
		[]string{"queue"},
	)

	// Object transfer metrics
	ObjectsTransferredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dts_objects_transferred_total",
			Help: "Total number of objects successfully forwarded by a queue",
		},
		[]string{"queue"},
	)

	ObjectsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dts_objects_failed_total",
			Help: "Total number of objects that failed a hop, by queue and error kind",
		},
		[]string{"queue", "kind"},
	)

	BytesTransferredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dts_bytes_transferred_total",
			Help: "Total bytes successfully forwarded by a queue",
		},
		[]string{"queue"},
	)

	HopDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dts_hop_duration_seconds",
			Help:    "Time taken to complete one object hop (initTransfer..endTransfer)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"queue"},
	)

	// Admission metrics
	AdmissionRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dts_admission_rejections_total",
			Help: "Total number of pushes rejected at admission, by reason",
		},
		[]string{"queue", "reason"},
	)

	// Delivery metrics
	DeliveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dts_delivery_duration_seconds",
			Help:    "Time taken to run an endpoint queue's delivery command",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"queue"},
	)

	DeliveryExitStatusTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dts_delivery_exit_status_total",
			Help: "Total number of delivery command completions by exit-status policy class",
		},
		[]string{"queue", "class"},
	)

	// RPC / xrpc metrics
	RPCCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dts_rpc_call_duration_seconds",
			Help:    "Time taken to handle one xrpc call, by method",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	RPCCallErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dts_rpc_call_errors_total",
			Help: "Total number of xrpc calls that returned a non-nil error, by method",
		},
		[]string{"method"},
	)

	// Queue manager loop metrics
	QueueLoopDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dts_queue_loop_duration_seconds",
			Help:    "Time taken for one queue manager backlog-poll cycle",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"queue"},
	)

	QueueLoopCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dts_queue_loop_cycles_total",
			Help: "Total number of queue manager loop cycles completed",
		},
		[]string{"queue"},
	)

	// Stripe transport metrics
	StripeResendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dts_stripe_resends_total",
			Help: "Total number of chunk resends due to checksum mismatch, by queue",
		},
		[]string{"queue"},
	)
)

func init() {
	prometheus.MustRegister(QueuesTotal)
	prometheus.MustRegister(QueueBacklog)
	prometheus.MustRegister(ObjectsTransferredTotal)
	prometheus.MustRegister(ObjectsFailedTotal)
	prometheus.MustRegister(BytesTransferredTotal)
	prometheus.MustRegister(HopDuration)
	prometheus.MustRegister(AdmissionRejectionsTotal)
	prometheus.MustRegister(DeliveryDuration)
	prometheus.MustRegister(DeliveryExitStatusTotal)
	prometheus.MustRegister(RPCCallDuration)
	prometheus.MustRegister(RPCCallErrors)
	prometheus.MustRegister(QueueLoopDuration)
	prometheus.MustRegister(QueueLoopCyclesTotal)
	prometheus.MustRegister(StripeResendsTotal)
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Observer) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
