package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	LinksCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "qrlinks_links_created_total",
		Help: "Short links created with a qr code.",
	})
	QuotaRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "qrlinks_quota_rejections_total",
		Help: "Creation attempts rejected by the quota tracker.",
	}, []string{"reason"})
	MonthlyResets = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "qrlinks_monthly_resets_total",
		Help: "Monthly counters reset lazily on creation.",
	})
	UpstreamErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "qrlinks_upstream_errors_total",
		Help: "Failed calls to the link shortening service.",
	}, []string{"action"})
	ReconciliationRecords = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "qrlinks_reconciliation_records_total",
		Help: "Upstream changes that could not be persisted locally.",
	}, []string{"operation"})
	ClicksIngested = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "qrlinks_clicks_ingested_total",
		Help: "Click events received on the ingest endpoint.",
	})
	AggregationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "qrlinks_aggregation_duration_seconds",
		Help:    "Time spent computing traffic reports.",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(
		LinksCreated,
		QuotaRejections,
		MonthlyResets,
		UpstreamErrors,
		ReconciliationRecords,
		ClicksIngested,
		AggregationDuration,
	)
}

func Handler() http.Handler {
	return promhttp.Handler()
}
