package qcontrol

import (
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
)

// Operation outcomes recorded by Metrics.
const (
	OutcomeOK       = "ok"
	OutcomeDropped  = "dropped"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

type timeWindow struct {
	duration time.Duration
	count    int
}

/*
Metrics keeps in-process counters for a cluster's control traffic and the
fan-out pool's job latencies. When built with a prometheus.Registerer the
same events are mirrored into Prometheus collectors.
*/
type Metrics struct {
	mu            sync.RWMutex
	WorkerCount   int
	JobCount      int64
	FailedJobs    int64
	TotalJobTime  time.Duration
	Ops           map[string]int64
	ShotsMeasured int64

	AverageJobLatency time.Duration
	P95JobLatency     time.Duration
	P99JobLatency     time.Duration
	JobSuccessRate    float64

	latencyWindows []timeWindow
	windowSize     int

	opsTotal   *prometheus.CounterVec
	shotsTotal *prometheus.CounterVec
	jobLatency prometheus.Histogram
}

/*
NewMetrics creates an empty metrics set.

Parameters:
  - reg: Prometheus registerer to publish into; nil keeps metrics in-process only

Returns:
  - *Metrics: ready to be shared by modules, clusters and pools
*/
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Ops:            make(map[string]int64),
		latencyWindows: make([]timeWindow, 0, 1000), // last 1000 jobs
		windowSize:     1000,
	}

	if reg == nil {
		return m
	}

	m.opsTotal = registerCollector(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qcontrol",
		Name:      "operations_total",
		Help:      "Control operations by module, action and outcome.",
	}, []string{"module", "action", "outcome"}))

	m.shotsTotal = registerCollector(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qcontrol",
		Name:      "shots_total",
		Help:      "Measurement shots taken by module and action.",
	}, []string{"module", "action"}))

	m.jobLatency = registerCollector(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "qcontrol",
		Name:      "fanout_job_seconds",
		Help:      "Latency of fan-out pulse jobs.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
	}))

	return m
}

func registerCollector[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		log.Warn("metrics collector not registered", "err", err)
	}
	return c
}

func opKey(action, outcome string) string {
	return action + "/" + outcome
}

func (m *Metrics) recordOp(moduleID int, action, outcome string) {
	if m == nil {
		return
	}

	m.mu.Lock()
	m.Ops[opKey(action, outcome)]++
	m.mu.Unlock()

	if m.opsTotal != nil {
		m.opsTotal.WithLabelValues(strconv.Itoa(moduleID), action, outcome).Inc()
	}
}

func (m *Metrics) recordShots(moduleID int, action string, shots int) {
	if m == nil {
		return
	}

	m.mu.Lock()
	m.ShotsMeasured += int64(shots)
	m.mu.Unlock()

	if m.shotsTotal != nil {
		m.shotsTotal.WithLabelValues(strconv.Itoa(moduleID), action).Add(float64(shots))
	}
}

// OpCount returns how many operations of action ended with outcome.
func (m *Metrics) OpCount(action, outcome string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Ops[opKey(action, outcome)]
}

func (m *Metrics) workerStarted() {
	m.mu.Lock()
	m.WorkerCount++
	m.mu.Unlock()
}

func (m *Metrics) workerStopped() {
	m.mu.Lock()
	m.WorkerCount--
	m.mu.Unlock()
}

func (m *Metrics) recordJobExecution(startTime time.Time, success bool) {
	duration := time.Since(startTime)

	if m.jobLatency != nil {
		m.jobLatency.Observe(duration.Seconds())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.TotalJobTime += duration
	m.JobCount++
	if !success {
		m.FailedJobs++
	}
	m.JobSuccessRate = float64(m.JobCount-m.FailedJobs) / float64(m.JobCount)

	m.updateLatencyPercentiles(duration)
}

func (m *Metrics) updateLatencyPercentiles(duration time.Duration) {
	m.AverageJobLatency = (m.AverageJobLatency*time.Duration(m.JobCount-1) + duration) / time.Duration(m.JobCount)

	m.latencyWindows = append(m.latencyWindows, timeWindow{
		duration: duration,
		count:    1,
	})

	if len(m.latencyWindows) > m.windowSize {
		m.latencyWindows = m.latencyWindows[1:]
	}

	sorted := make([]time.Duration, 0, len(m.latencyWindows))
	for _, w := range m.latencyWindows {
		for i := 0; i < w.count; i++ {
			sorted = append(sorted, w.duration)
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	if len(sorted) > 0 {
		p95Index := min(int(float64(len(sorted))*0.95), len(sorted)-1)
		p99Index := min(int(float64(len(sorted))*0.99), len(sorted)-1)

		m.P95JobLatency = sorted[p95Index]
		m.P99JobLatency = sorted[p99Index]
	}
}

// ExportMetrics returns a snapshot suitable for logging or JSON encoding.
func (m *Metrics) ExportMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ops := make(map[string]int64, len(m.Ops))
	for k, v := range m.Ops {
		ops[k] = v
	}

	return map[string]interface{}{
		"worker_count":   m.WorkerCount,
		"job_count":      m.JobCount,
		"failed_jobs":    m.FailedJobs,
		"success_rate":   m.JobSuccessRate,
		"avg_latency":    m.AverageJobLatency.Milliseconds(),
		"p95_latency":    m.P95JobLatency.Milliseconds(),
		"p99_latency":    m.P99JobLatency.Milliseconds(),
		"shots_measured": m.ShotsMeasured,
		"operations":     ops,
	}
}
