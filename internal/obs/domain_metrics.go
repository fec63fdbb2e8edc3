package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// MarkupCalculationsTotal counts calculate requests by outcome (ok, empty, invalid, error).
	MarkupCalculationsTotal *prometheus.CounterVec
	// MarkupRulesPerCalculation records how many rules each calculation applied.
	MarkupRulesPerCalculation prometheus.Histogram
	// MarkupMutationsTotal counts create/update/delete outcomes.
	MarkupMutationsTotal *prometheus.CounterVec
	// EventPublishTotal counts domain event publication outcomes from the worker.
	EventPublishTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		MarkupCalculationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "markup_calculations_total",
			Help:      "Count of vertical markup calculations by outcome.",
		}, []string{"result"})
		MarkupRulesPerCalculation = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "markup_rules_per_calculation",
			Help:      "Number of markup rules applied per calculation.",
			Buckets:   []float64{1, 2, 3, 4, 5, 8, 12, 20},
		})
		MarkupMutationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "markup_mutations_total",
			Help:      "Count of vertical markup mutations by action and outcome.",
		}, []string{"action", "result"})
		EventPublishTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_total",
			Help:      "Count of domain event publish attempts by outcome.",
		}, []string{"result"})

		MarkupCalculationsTotal = registerOrReuse(reg, MarkupCalculationsTotal)
		MarkupRulesPerCalculation = registerOrReuse(reg, MarkupRulesPerCalculation)
		MarkupMutationsTotal = registerOrReuse(reg, MarkupMutationsTotal)
		EventPublishTotal = registerOrReuse(reg, EventPublishTotal)
	})
}

// ObserveCalculation records a calculate outcome. Safe to call before registration.
func ObserveCalculation(result string, rules int) {
	if MarkupCalculationsTotal != nil {
		MarkupCalculationsTotal.WithLabelValues(result).Inc()
	}
	if MarkupRulesPerCalculation != nil && rules > 0 {
		MarkupRulesPerCalculation.Observe(float64(rules))
	}
}

// ObserveMutation records a markup mutation outcome.
func ObserveMutation(action string, err error) {
	if MarkupMutationsTotal == nil {
		return
	}
	MarkupMutationsTotal.WithLabelValues(action, resultLabel(err)).Inc()
}

// ObservePublish records a domain event publish outcome.
func ObservePublish(err error) {
	if EventPublishTotal == nil {
		return
	}
	EventPublishTotal.WithLabelValues(resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// registerOrReuse registers c, returning the already registered collector of
// the same type when one exists.
func registerOrReuse[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
			return c
		}
		panic(fmt.Errorf("register metric: %w", err))
	}
	return c
}
