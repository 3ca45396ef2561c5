package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "agent_api_requests_total", Help: "Agent API requests"},
		[]string{"endpoint", "status"},
	)
	CallEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "call_events_total", Help: "Classified call outcomes"},
		[]string{"outcome"},
	)
	CallbacksSuppressed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "callbacks_suppressed_total", Help: "Callback decisions that produced no task"},
		[]string{"reason"},
	)
	Sends = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sends_total", Help: "Native send outcomes"},
		[]string{"result"},
	)
	SendLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "send_latency_seconds", Help: "Native send latency"},
	)
	Ingested = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tasks_ingested_total", Help: "Remote tasks accepted per channel"},
		[]string{"channel"},
	)
	DuplicatesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ingest_duplicates_total", Help: "Tasks dropped by notified-set dedup"},
		[]string{"channel"},
	)
	Approvals = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "approvals_total", Help: "Approval prompt resolutions"},
		[]string{"result"},
	)
	RateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "rate_limited_total", Help: "Sends rejected by the daily limit"},
	)
	OfflineReplays = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "offline_replays_total", Help: "Offline write replay outcomes"},
		[]string{"result"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(APIRequests, CallEvents, CallbacksSuppressed, Sends, SendLatency,
		Ingested, DuplicatesDropped, Approvals, RateLimited, OfflineReplays)
}
