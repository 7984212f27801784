// Package metrics exposes Prometheus collectors for credits, purchases and analyses.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Veraticus/fitcheck/internal/model"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	creditBalance = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fitcheck",
			Subsystem: "credits",
			Name:      "balance",
			Help:      "Current credit balance.",
		},
	)

	creditChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fitcheck",
			Subsystem: "credits",
			Name:      "moved_total",
			Help:      "Credits moved through the ledger, by entry kind.",
		},
		[]string{"kind"},
	)

	purchaseOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fitcheck",
			Subsystem: "store",
			Name:      "purchase_outcomes_total",
			Help:      "Purchase attempts by outcome.",
		},
		[]string{"outcome"},
	)

	transactionUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fitcheck",
			Subsystem: "store",
			Name:      "transaction_updates_total",
			Help:      "Transactions received from the update stream, by disposition.",
		},
		[]string{"disposition"},
	)

	analysisSessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fitcheck",
			Subsystem: "analysis",
			Name:      "sessions_total",
			Help:      "Analysis sessions by final result.",
		},
		[]string{"result"},
	)

	analysisStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fitcheck",
			Subsystem: "analysis",
			Name:      "stage_duration_seconds",
			Help:      "Duration of remote analysis stages.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~50s
		},
		[]string{"stage"},
	)

	imageSearches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fitcheck",
			Subsystem: "analysis",
			Name:      "image_searches_total",
			Help:      "Image search enrichment calls by result.",
		},
		[]string{"result"},
	)
)

func init() {
	Registry.MustRegister(
		creditBalance,
		creditChanges,
		purchaseOutcomes,
		transactionUpdates,
		analysisSessions,
		analysisStageDuration,
		imageSearches,
	)
}

// Handler returns an HTTP handler serving the registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetBalance records the current balance.
func SetBalance(remaining int) {
	creditBalance.Set(float64(remaining))
}

// RecordCreditChange counts credits moved. Debits are recorded by magnitude.
func RecordCreditChange(kind model.EntryKind, amount int) {
	if amount < 0 {
		amount = -amount
	}
	creditChanges.WithLabelValues(string(kind)).Add(float64(amount))
}

// RecordPurchaseOutcome counts a purchase attempt.
func RecordPurchaseOutcome(outcome string) {
	purchaseOutcomes.WithLabelValues(outcome).Inc()
}

// RecordTransactionUpdate counts a transaction received from the update stream.
func RecordTransactionUpdate(disposition string) {
	transactionUpdates.WithLabelValues(disposition).Inc()
}

// RecordSession counts a finished analysis session.
func RecordSession(result string) {
	analysisSessions.WithLabelValues(result).Inc()
}

// ObserveStage records how long a remote stage took.
func ObserveStage(stage string, seconds float64) {
	analysisStageDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordImageSearch counts an enrichment search.
func RecordImageSearch(result string) {
	imageSearches.WithLabelValues(result).Inc()
}
