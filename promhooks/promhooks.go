// Package promhooks exports hook events as prometheus counters.
package promhooks

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/listingsync/hooks"
)

const namespace = "listingsync"

type Hooks struct {
	casConflicts  prometheus.Counter
	casExhausted  prometheus.Counter
	cacheErrors   *prometheus.CounterVec
	stepFailures  *prometheus.CounterVec
	authDenied    *prometheus.CounterVec
	publishErrors *prometheus.CounterVec
}

var _ hooks.Hooks = (*Hooks)(nil)

// New creates the counters and registers them with reg.
// A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Hooks {
	h := &Hooks{
		casConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cas_conflicts_total",
			Help:      "Cache CAS attempts that lost their precondition",
		}),
		casExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cas_exhausted_total",
			Help:      "Cache CAS loops that ran out of attempts",
		}),
		cacheErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_errors_total",
			Help:      "Swallowed cache operation failures",
		}, []string{"op"}),
		stepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_failures_total",
			Help:      "Failed orchestration steps",
		}, []string{"op", "step", "fatal"}),
		authDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authorization_denied_total",
			Help:      "Mutations rejected by the ownership claim",
		}, []string{"op"}),
		publishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_failures_total",
			Help:      "Failed queue push or channel publish",
		}, []string{"stage"}),
	}
	if reg != nil {
		reg.MustRegister(h.Collectors()...)
	}
	return h
}

func (h *Hooks) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		h.casConflicts, h.casExhausted, h.cacheErrors,
		h.stepFailures, h.authDenied, h.publishErrors,
	}
}

func (h *Hooks) CASConflict(string, int)  { h.casConflicts.Inc() }
func (h *Hooks) CASExhausted(string, int) { h.casExhausted.Inc() }

func (h *Hooks) CacheError(op, _ string, _ error) {
	h.cacheErrors.WithLabelValues(op).Inc()
}

func (h *Hooks) StepFailed(op, step string, fatal bool, _ error) {
	f := "false"
	if fatal {
		f = "true"
	}
	h.stepFailures.WithLabelValues(op, step, f).Inc()
}

func (h *Hooks) AuthorizationDenied(op string) {
	h.authDenied.WithLabelValues(op).Inc()
}

func (h *Hooks) PublishFailed(stage string, _ error) {
	h.publishErrors.WithLabelValues(stage).Inc()
}
