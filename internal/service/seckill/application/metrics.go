package application

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 汇总秒杀链路的 Prometheus 指标
type Metrics struct {
	admissions     *prometheus.CounterVec
	ledgerDuration *prometheus.HistogramVec
	compensations  *prometheus.CounterVec
	materialized   *prometheus.CounterVec
	warmUps        *prometheus.CounterVec
	tornDown       prometheus.Counter
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// DefaultMetrics 返回注册在全局 Registry 上的实例，多次调用不会重复注册
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics 在 reg 上注册全部指标，测试中传入独立的 Registry。
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Metrics{
		admissions: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flashbuy",
			Subsystem: "seckill",
			Name:      "admissions_total",
			Help:      "Admission decisions by outcome (QUEUED or reject reason).",
		}, []string{"outcome"})),
		ledgerDuration: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flashbuy",
			Subsystem: "seckill",
			Name:      "ledger_deduct_duration_seconds",
			Help:      "Latency of the atomic deduct script.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
		}, []string{"result"})),
		compensations: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flashbuy",
			Subsystem: "seckill",
			Name:      "compensations_total",
			Help:      "Stock compensations after a failed publish.",
		}, []string{"result"})),
		materialized: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flashbuy",
			Subsystem: "seckill",
			Name:      "orders_materialized_total",
			Help:      "Order intents handled by the materializer.",
		}, []string{"result"})),
		warmUps: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flashbuy",
			Subsystem: "seckill",
			Name:      "warmups_total",
			Help:      "SKU warm-ups by result.",
		}, []string{"result"})),
		tornDown: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flashbuy",
			Subsystem: "seckill",
			Name:      "items_torn_down_total",
			Help:      "Flash items whose ledger keys were removed after the event ended.",
		})),
	}
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *Metrics) incAdmission(outcome string) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeLedger(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.ledgerDuration.WithLabelValues(result).Observe(d.Seconds())
}

func (m *Metrics) incCompensation(result string) {
	if m == nil {
		return
	}
	m.compensations.WithLabelValues(result).Inc()
}

func (m *Metrics) incMaterialized(result string) {
	if m == nil {
		return
	}
	m.materialized.WithLabelValues(result).Inc()
}

func (m *Metrics) incWarmUp(result string) {
	if m == nil {
		return
	}
	m.warmUps.WithLabelValues(result).Inc()
}

func (m *Metrics) addTornDown(n int) {
	if m == nil {
		return
	}
	m.tornDown.Add(float64(n))
}
