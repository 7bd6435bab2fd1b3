package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	KindOrder = "order"
	KindUser  = "user"
)

var (
	// ArchivesCreated counts soft deletions by aggregate kind
	ArchivesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "extranet_archives_created_total",
		Help: "Archives written before deleting a live aggregate",
	}, []string{"kind"})

	ArchivesRestored = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "extranet_archives_restored_total",
		Help: "Archives restored into live records",
	}, []string{"kind"})

	// ArchivesPurged counts archives removed for good, by reason (manual, expired)
	ArchivesPurged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "extranet_archives_purged_total",
		Help: "Archives removed permanently",
	}, []string{"kind", "reason"})

	RestoreRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "extranet_restore_rejected_total",
		Help: "Restore attempts refused, by kind and cause",
	}, []string{"kind", "cause"})

	CatalogCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "extranet_catalog_cache_lookups_total",
		Help: "Catalog cache lookups by result",
	}, []string{"result"})

	OrdersPlaced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "extranet_orders_placed_total",
		Help: "Orders created from a cart",
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "extranet_http_requests_total",
		Help: "HTTP requests by method, route and status",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "extranet_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
	}, []string{"method", "route"})
)
