package scraper

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TargetsAttempted counts targets the orchestrator has started.
	TargetsAttempted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scraper_targets_attempted_total",
		Help: "The total number of targets attempted, by domain.",
	}, []string{"domain"})
	// TargetsSucceeded counts targets whose extraction succeeded.
	TargetsSucceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scraper_targets_succeeded_total",
		Help: "The total number of targets scraped successfully, by domain.",
	}, []string{"domain"})
	// TargetsFailed counts failed targets by domain and error kind.
	TargetsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scraper_targets_failed_total",
		Help: "The total number of failed targets, by domain and error kind.",
	}, []string{"domain", "kind"})
	// ProductsFound counts products extracted across all targets.
	ProductsFound = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scraper_products_found_total",
		Help: "The total number of products extracted, by domain.",
	}, []string{"domain"})
	// PaceDelay observes the inter-target wait imposed by the pacer.
	PaceDelay = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scraper_pace_delay_seconds",
		Help:    "Wait imposed before a target to avoid bursting a domain.",
		Buckets: prometheus.LinearBuckets(0, 2.5, 10),
	}, []string{"domain"})
	// ExtractionDuration observes wall time per extraction attempt.
	ExtractionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scraper_extraction_duration_seconds",
		Help:    "Wall time spent inside one extraction attempt.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	}, []string{"domain"})
)
