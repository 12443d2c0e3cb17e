package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	PurchasesInitiated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "marketplace_purchases_initiated_total",
			Help: "Number of checkout sessions opened",
		},
	)

	PurchaseConfirmations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_purchase_confirmations_total",
			Help: "Payment confirmations by result",
		},
		[]string{"result"},
	)

	WebhookRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_webhook_rejections_total",
			Help: "Webhook deliveries rejected before processing",
		},
		[]string{"provider", "reason"},
	)

	GatewayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketplace_gateway_request_duration_seconds",
			Help:    "Time taken to open a checkout session with the payment gateway",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "status"},
	)

	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketplace_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// Confirmation results.
const (
	ResultCompleted = "completed"
	ResultFailed    = "failed"
	ResultDuplicate = "duplicate"
	ResultReplay    = "replay"
	ResultConflict  = "conflict"
	ResultUnknown   = "unknown"
	ResultIgnored   = "ignored"
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		PurchasesInitiated,
		PurchaseConfirmations,
		WebhookRejections,
		GatewayDuration,
		HTTPDuration,
	)
}
