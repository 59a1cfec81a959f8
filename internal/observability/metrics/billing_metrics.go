package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	ResultSuccess   = "success"
	ResultFailed    = "failed"
	ResultDuplicate = "duplicate"
	ResultIgnored   = "ignored"
	ResultRejected  = "rejected"
)

type Config struct {
	ServiceName string
	Environment string
}

// BillingMetrics tracks webhook dispatch, ledger operations and plan
// changes by outcome.
type BillingMetrics struct {
	webhookEvents *prometheus.CounterVec
	ledgerOps     *prometheus.CounterVec
	planChanges   *prometheus.CounterVec
	creditsHeld   prometheus.Counter
}

var (
	billingMetricsOnce sync.Once
	billingMetrics     *BillingMetrics
)

func Billing() *BillingMetrics {
	return BillingWithConfig(Config{})
}

func BillingWithConfig(cfg Config) *BillingMetrics {
	billingMetricsOnce.Do(func() {
		billingMetrics = newBillingMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return billingMetrics
}

func ResetBillingMetricsForTest() {
	billingMetricsOnce = sync.Once{}
	billingMetrics = nil
}

func newBillingMetrics(registerer prometheus.Registerer, cfg Config) *BillingMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "lumora"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}

	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	webhookEvents := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "lumora_webhook_events_total",
			Help:        "Billing provider webhook events by type and result.",
			ConstLabels: constLabels,
		},
		[]string{"event_type", "result"},
	)

	ledgerOps := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "lumora_ledger_operations_total",
			Help:        "Credit ledger operations by kind and result.",
			ConstLabels: constLabels,
		},
		[]string{"operation", "result"},
	)

	planChanges := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "lumora_plan_changes_total",
			Help:        "User plan changes by outcome.",
			ConstLabels: constLabels,
		},
		[]string{"outcome"},
	)

	creditsHeld := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name:        "lumora_dispute_credits_held_total",
			Help:        "Credits clawed back as dispute holds.",
			ConstLabels: constLabels,
		},
	)

	registerer.MustRegister(webhookEvents, ledgerOps, planChanges, creditsHeld)

	return &BillingMetrics{
		webhookEvents: webhookEvents,
		ledgerOps:     ledgerOps,
		planChanges:   planChanges,
		creditsHeld:   creditsHeld,
	}
}

func (m *BillingMetrics) IncWebhookEvent(eventType, result string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(eventType, result).Inc()
}

func (m *BillingMetrics) IncLedgerOp(operation, result string) {
	if m == nil {
		return
	}
	m.ledgerOps.WithLabelValues(operation, result).Inc()
}

func (m *BillingMetrics) IncPlanChange(outcome string) {
	if m == nil {
		return
	}
	m.planChanges.WithLabelValues(outcome).Inc()
}

func (m *BillingMetrics) AddCreditsHeld(credits int64) {
	if m == nil || credits <= 0 {
		return
	}
	m.creditsHeld.Add(float64(credits))
}
