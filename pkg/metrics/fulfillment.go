package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Shipment attempt results.
const (
	ResultSuccess       = "success"
	ResultFailure       = "failure"
	ResultNoRoute       = "no_route"
	ResultNotConfigured = "not_configured"
)

// FulfillmentMetrics tracks the payment-to-shipment pipeline.
type FulfillmentMetrics struct {
	webhookEvents    *prometheus.CounterVec
	shipmentAttempts *prometheus.CounterVec
	escalations      *prometheus.CounterVec
	carrierLatency   *prometheus.HistogramVec
	outboxPublishes  *prometheus.CounterVec
}

// NewFulfillmentMetrics registers the pipeline metrics. A nil registerer
// yields a no-op recorder.
func NewFulfillmentMetrics(reg prometheus.Registerer) *FulfillmentMetrics {
	if reg == nil {
		return &FulfillmentMetrics{}
	}
	webhookEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_events_total",
		Help:      "Payment webhook deliveries by normalized kind and outcome.",
	}, []string{"kind", "outcome"})
	shipmentAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "shipment_attempts_total",
		Help:      "Carrier shipment creation attempts by provider and result.",
	}, []string{"provider", "result"})
	escalations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "shipment_escalations_total",
		Help:      "Orders handed to the merchant after shipment retries were exhausted.",
	}, []string{"provider"})
	carrierLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "carrier_request_duration_seconds",
		Help:      "Latency of outbound carrier calls.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"provider", "operation"})
	outboxPublishes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbox_publish_total",
		Help:      "Outbox rows handled by the publisher by event type and outcome.",
	}, []string{"event_type", "outcome"})
	reg.MustRegister(webhookEvents, shipmentAttempts, escalations, carrierLatency, outboxPublishes)
	return &FulfillmentMetrics{
		webhookEvents:    webhookEvents,
		shipmentAttempts: shipmentAttempts,
		escalations:      escalations,
		carrierLatency:   carrierLatency,
		outboxPublishes:  outboxPublishes,
	}
}

func (m *FulfillmentMetrics) IncWebhookEvent(kind, outcome string) {
	if m == nil || m.webhookEvents == nil {
		return
	}
	m.webhookEvents.WithLabelValues(normalizeLabel(kind), normalizeLabel(outcome)).Inc()
}

func (m *FulfillmentMetrics) IncShipmentAttempt(provider, result string) {
	if m == nil || m.shipmentAttempts == nil {
		return
	}
	m.shipmentAttempts.WithLabelValues(normalizeLabel(provider), normalizeLabel(result)).Inc()
}

func (m *FulfillmentMetrics) IncEscalation(provider string) {
	if m == nil || m.escalations == nil {
		return
	}
	m.escalations.WithLabelValues(normalizeLabel(provider)).Inc()
}

// ObserveCarrierCall records the latency of one carrier operation.
func (m *FulfillmentMetrics) ObserveCarrierCall(provider, operation string, d time.Duration) {
	if m == nil || m.carrierLatency == nil {
		return
	}
	m.carrierLatency.WithLabelValues(normalizeLabel(provider), normalizeLabel(operation)).Observe(d.Seconds())
}

func (m *FulfillmentMetrics) IncOutboxPublish(eventType, outcome string) {
	if m == nil || m.outboxPublishes == nil {
		return
	}
	m.outboxPublishes.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}
