// Package metrics provides Prometheus metrics for the ADT bridge.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	HL7MessagesReceived   prometheus.Counter
	HL7ParseFailures      prometheus.Counter
	PatientsCreated       prometheus.Counter
	PatientsMatched       prometheus.Counter
	CoveragesCreated      prometheus.Counter
	ProcessingDuration    prometheus.Histogram
	FHIRBackendRequests   *prometheus.CounterVec
	TokensIssued          prometheus.Counter
	KafkaMessagesProduced prometheus.Counter
	KafkaMessagesConsumed prometheus.Counter
	CircuitBreakerState   *prometheus.GaugeVec
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		HL7MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hl7_messages_received_total",
			Help: "Total HL7 messages received for processing",
		}),
		HL7ParseFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hl7_parse_failures_total",
			Help: "Total HL7 messages rejected during parsing or mapping",
		}),
		PatientsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "patients_created_total",
			Help: "Total patients created in the FHIR backend",
		}),
		PatientsMatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "patients_matched_total",
			Help: "Total messages matched to an existing patient by MRN",
		}),
		CoveragesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coverages_created_total",
			Help: "Total coverage resources created",
		}),
		ProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hl7_processing_duration_seconds",
			Help:    "HL7 message processing duration",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		FHIRBackendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fhir_backend_requests_total",
			Help: "Requests to the FHIR backend by operation and outcome",
		}, []string{"operation", "outcome"}),
		TokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auth_tokens_issued_total",
			Help: "Total bearer tokens issued",
		}),
		KafkaMessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_produced_total",
			Help: "Total Kafka messages produced",
		}),
		KafkaMessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_consumed_total",
			Help: "Total Kafka messages consumed",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	prometheus.MustRegister(
		m.HL7MessagesReceived,
		m.HL7ParseFailures,
		m.PatientsCreated,
		m.PatientsMatched,
		m.CoveragesCreated,
		m.ProcessingDuration,
		m.FHIRBackendRequests,
		m.TokensIssued,
		m.KafkaMessagesProduced,
		m.KafkaMessagesConsumed,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
