package metrics

import (
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// API
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Count of HTTP requests."},
		[]string{"handler", "method", "code"},
	)
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms..~10s
		},
		[]string{"handler", "method"},
	)

	// Populator
	PopulateTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "queue_populate_total", Help: "Populate call results."},
		[]string{"result"}, // ok | error
	)
	PopulateEntries = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "queue_populate_entries_total", Help: "Queue entries inserted by populate."},
	)

	// Dispatcher
	ClaimTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_claim_total", Help: "Claim attempts."},
		[]string{"result"}, // ok | empty | error
	)
	ClaimBatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_claim_batch_size",
			Help:    "Number of entries returned per claim.",
			Buckets: prometheus.LinearBuckets(0, 10, 11), // 0,10,...,100
		},
	)
	InFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "dispatch_inflight", Help: "In-flight sends in this process."},
	)
	SendTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "transport_send_total", Help: "Mail transport outcomes."},
		[]string{"outcome"}, // sent | failed | skipped | dry_run
	)
	SendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "transport_send_duration_seconds",
			Help:    "Mail transport latency.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms..~40s
		},
	)
	RetryTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "queue_retry_total", Help: "Failed entries requeued for retry."},
	)
	CancelTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "queue_cancel_total", Help: "Pending entries removed by cancel."},
	)
	CleanupTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "queue_cleanup_total", Help: "Terminal entries removed by cleanup."},
	)
	LeaseReleaseTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "dispatch_lease_release_total", Help: "Expired claims returned to pending."},
	)
)

var registerOnce sync.Once

// Register default + our collectors. Safe to call from every router mount.
func MustRegister() {
	registerOnce.Do(register)
}

func register() {
	prometheus.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		HTTPRequests, HTTPDuration,
		PopulateTotal, PopulateEntries,
		ClaimTotal, ClaimBatchSize, InFlight,
		SendTotal, SendDuration,
		RetryTotal, CancelTotal, CleanupTotal, LeaseReleaseTotal,
	)
}

// Export a tiny pgxpool stats exporter
type PGXPoolStats struct {
	pool *pgxpool.Pool

	conns          prometheus.Gauge
	idle           prometheus.Gauge
	acquireCount   prometheus.Counter
	acquireLatency prometheus.Counter

	// pgxpool reports cumulative acquire totals; keep the last snapshot so
	// each tick adds only the delta.
	lastAcquires   int64
	lastAcquireDur time.Duration
}

func NewPGXPoolStats(pool *pgxpool.Pool) *PGXPoolStats {
	m := &PGXPoolStats{
		pool: pool,
		conns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "db_pool_conns", Help: "Total connections in pool.",
		}),
		idle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "db_pool_idle_conns", Help: "Idle connections in pool.",
		}),
		acquireCount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "db_pool_acquires_total", Help: "Total pool acquires.",
		}),
		acquireLatency: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "db_pool_acquire_seconds_total", Help: "Sum of acquire latencies.",
		}),
	}
	prometheus.MustRegister(m.conns, m.idle, m.acquireCount, m.acquireLatency)

	return m
}

func (m *PGXPoolStats) Start(interval time.Duration, stop <-chan struct{}) {
	t := time.NewTicker(interval)
	for {
		select {
		case <-stop:
			t.Stop()
			return
		case <-t.C:
			s := m.pool.Stat()
			m.observe(int(s.TotalConns()), int(s.IdleConns()), s.AcquireCount(), s.AcquireDuration())
		}
	}
}

func (m *PGXPoolStats) observe(totalConns, idleConns int, acquires int64, acquireDur time.Duration) {
	m.conns.Set(float64(totalConns))
	m.idle.Set(float64(idleConns))
	m.acquireCount.Add(float64(acquires - m.lastAcquires))
	m.acquireLatency.Add((acquireDur - m.lastAcquireDur).Seconds())
	m.lastAcquires = acquires
	m.lastAcquireDur = acquireDur
}
