package pool

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the Prometheus counters/gauges exposed by the pool
// subsystem. Construct once per process and register against the
// default registry (or a custom one) at wiring time.
type Metrics struct {
	ReadyGauge        prometheus.Gauge
	PendingGauge      prometheus.Gauge
	FailedGauge       prometheus.Gauge
	ResetSuccessTotal prometheus.Counter
	ResetFailureTotal prometheus.Counter
}

// NewMetrics constructs a Metrics set with the canic_pool_ prefix.
func NewMetrics() *Metrics {
	return &Metrics{
		ReadyGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "canic_pool_ready_entries",
			Help: "Number of pool entries currently Ready.",
		}),
		PendingGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "canic_pool_pending_reset_entries",
			Help: "Number of pool entries currently PendingReset.",
		}),
		FailedGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "canic_pool_failed_entries",
			Help: "Number of pool entries currently Failed.",
		}),
		ResetSuccessTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "canic_pool_reset_success_total",
			Help: "Total number of successful pool entry resets.",
		}),
		ResetFailureTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "canic_pool_reset_failure_total",
			Help: "Total number of failed pool entry resets.",
		}),
	}
}

// Register adds every collector to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.ReadyGauge, m.PendingGauge, m.FailedGauge, m.ResetSuccessTotal, m.ResetFailureTotal} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Refresh recomputes the gauges from the pool's current state. Call
// after each admin command or worker batch that changes entry counts.
func (m *Metrics) Refresh(p *Pool) {
	p.mu.Lock()
	var ready, pending, failed float64
	for _, e := range p.entries {
		switch e.Status {
		case Ready:
			ready++
		case PendingReset:
			pending++
		case Failed:
			failed++
		}
	}
	p.mu.Unlock()

	m.ReadyGauge.Set(ready)
	m.PendingGauge.Set(pending)
	m.FailedGauge.Set(failed)
}
