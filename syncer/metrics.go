package syncer

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const metricsKey = "copytrader:metrics"

// MetricsSnapshot is the serialized counter set served by /api/metrics.
type MetricsSnapshot struct {
	PollCycles      int64         `json:"poll_cycles"`
	TradersPolled   int64         `json:"traders_polled"`
	PollFailures    int64         `json:"poll_failures"`
	TradesDetected  int64         `json:"trades_detected"`
	AlertsSent      int64         `json:"alerts_sent"`
	CopiesOpened    int64         `json:"copies_opened"`
	CopiesClosed    int64         `json:"copies_closed"`
	CopiesFailed    int64         `json:"copies_failed"`
	LastCycleMS     int64         `json:"last_cycle_ms"`
	AvgCopyLatency  time.Duration `json:"avg_copy_latency_ms"`
	LastCycleAt     time.Time     `json:"last_cycle_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	copyLatencySum  time.Duration
	copyLatencyObsv int64
}

// Metrics tracks engine and poller counters in memory, mirroring them to
// Redis when a client is configured so the ops API survives restarts.
type Metrics struct {
	mu    sync.Mutex
	snap  MetricsSnapshot
	redis *redis.Client
}

// NewMetrics creates a metrics tracker. redisClient may be nil.
func NewMetrics(redisClient *redis.Client) *Metrics {
	return &Metrics{redis: redisClient}
}

func (m *Metrics) IncPollCycle(traders int, failures int, elapsed time.Duration) {
	m.mu.Lock()
	m.snap.PollCycles++
	m.snap.TradersPolled += int64(traders)
	m.snap.PollFailures += int64(failures)
	m.snap.LastCycleMS = elapsed.Milliseconds()
	m.snap.LastCycleAt = time.Now()
	m.mu.Unlock()
	m.flush()
}

func (m *Metrics) IncTradesDetected(n int) {
	if n == 0 {
		return
	}
	m.mu.Lock()
	m.snap.TradesDetected += int64(n)
	m.mu.Unlock()
}

func (m *Metrics) IncAlertsSent() {
	m.mu.Lock()
	m.snap.AlertsSent++
	m.mu.Unlock()
}

func (m *Metrics) IncCopiesOpened() {
	m.mu.Lock()
	m.snap.CopiesOpened++
	m.mu.Unlock()
	m.flush()
}

func (m *Metrics) IncCopiesClosed() {
	m.mu.Lock()
	m.snap.CopiesClosed++
	m.mu.Unlock()
	m.flush()
}

func (m *Metrics) IncCopiesFailed() {
	m.mu.Lock()
	m.snap.CopiesFailed++
	m.mu.Unlock()
	m.flush()
}

func (m *Metrics) ObserveCopyLatency(d time.Duration) {
	m.mu.Lock()
	m.snap.copyLatencySum += d
	m.snap.copyLatencyObsv++
	m.snap.AvgCopyLatency = m.snap.copyLatencySum / time.Duration(m.snap.copyLatencyObsv)
	m.mu.Unlock()
}

// Snapshot returns a copy of the current counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.snap
	snap.UpdatedAt = time.Now()
	return snap
}

// flush mirrors the counters to Redis with a day's TTL. Failures are logged
// once and otherwise ignored; metrics are best effort.
func (m *Metrics) flush() {
	if m.redis == nil {
		return
	}

	snap := m.Snapshot()
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.redis.Set(ctx, metricsKey, data, 24*time.Hour).Err(); err != nil {
		log.Printf("[Metrics] Redis write failed: %v", err)
	}
}

// Load restores counters from Redis at startup.
func (m *Metrics) Load(ctx context.Context) {
	if m.redis == nil {
		return
	}
	data, err := m.redis.Get(ctx, metricsKey).Result()
	if err != nil {
		return
	}
	var snap MetricsSnapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return
	}
	m.mu.Lock()
	m.snap = snap
	m.mu.Unlock()
}
