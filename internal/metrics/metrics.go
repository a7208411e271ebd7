package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsObserved counts deposit events first seen by the scanner
	EventsObserved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relayer_events_observed_total",
			Help: "Total number of deposit events observed on the source chain",
		},
	)

	// EventsConfirmed counts events that crossed the confirmation threshold
	EventsConfirmed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relayer_events_confirmed_total",
			Help: "Total number of deposit events past the confirmation depth",
		},
	)

	// RelaysTotal counts relay attempts by outcome
	RelaysTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayer_relays_total",
			Help: "Total number of relay submissions by outcome",
		},
		[]string{"outcome"},
	)

	// ScanErrors counts failed scan attempts
	ScanErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relayer_scan_errors_total",
			Help: "Total number of failed source chain scans",
		},
	)

	// PendingEvents tracks events observed but not yet confirmed
	PendingEvents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relayer_pending_events",
			Help: "Number of deposit events awaiting confirmation depth",
		},
	)

	// LastScannedBlock tracks the scan cursor position
	LastScannedBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relayer_last_scanned_block",
			Help: "Highest fully-scanned source chain block",
		},
	)

	// EndpointHealthy reports probe status per endpoint
	EndpointHealthy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relayer_endpoint_healthy",
			Help: "Whether the chain RPC endpoint passed its last liveness probe",
		},
		[]string{"chain"},
	)

	// CycleDuration tracks the duration of one scan-and-relay cycle
	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relayer_cycle_duration_seconds",
			Help:    "Duration of one scan-and-relay cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)
