package engine

import (
	"strings"

	"github.com/EatingXiGua/shortlink/errcode"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	allocations  *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	attempts     *prometheus.HistogramVec
	guardChecks  *prometheus.CounterVec
	markFailures *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	return &metrics{
		allocations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "shortlink_allocations_total",
				Help: "Total number of allocation calls by outcome",
			},
			[]string{"namespace", "outcome"},
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shortlink_allocation_duration_seconds",
				Help:    "Latency of allocation calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"namespace"},
		),
		attempts: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shortlink_allocation_attempts",
				Help:    "Number of candidates generated per allocation call",
				Buckets: []float64{1, 2, 3, 5, 10, 20},
			},
			[]string{"namespace"},
		),
		guardChecks: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "shortlink_guard_checks_total",
				Help: "Membership guard checks by result (clear/positive)",
			},
			[]string{"namespace", "result"},
		),
		markFailures: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "shortlink_guard_mark_failures_total",
				Help: "Committed identifiers the guard failed to record",
			},
			[]string{"namespace"},
		),
	}
}

// outcomeLabel 成功为 "ok"，失败为小写错误码
func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return strings.ToLower(string(errcode.CodeOf(err)))
}
