// Package telemetry tracks scoring activity counters for the stats
// endpoint. Counters are lock-free; a fixed ring of per-second buckets
// backs the requests-per-minute figure.
package telemetry

import (
	"sync/atomic"
	"time"
)

// ringSize is the width of the per-second request ring. One minute of
// history is enough for a rate figure without retaining raw timestamps.
const ringSize = 60

// Collector accumulates request counters. Safe for concurrent use.
type Collector struct {
	requests  atomic.Int64
	anomalies atomic.Int64
	blocked   atomic.Int64
	monitored atomic.Int64
	allowed   atomic.Int64
	errors    atomic.Int64

	cacheHits   atomic.Int64
	cacheMisses atomic.Int64

	// Per-second buckets. stamps[i] holds the unix second the bucket
	// was last reset for; a stale stamp means the bucket's count
	// belongs to a previous minute and must be zeroed before reuse.
	buckets [ringSize]atomic.Int64
	stamps  [ringSize]atomic.Int64

	started time.Time
}

// NewCollector creates a collector with the start time pinned to now.
func NewCollector() *Collector {
	return &Collector{started: time.Now()}
}

// RecordDecision counts one scored request and its outcome.
func (c *Collector) RecordDecision(isAnomaly bool, action string) {
	c.requests.Add(1)
	c.markSecond(time.Now())

	if isAnomaly {
		c.anomalies.Add(1)
	}
	switch action {
	case "block":
		c.blocked.Add(1)
	case "monitor":
		c.monitored.Add(1)
	default:
		c.allowed.Add(1)
	}
}

// RecordError counts a request that failed before producing a decision.
func (c *Collector) RecordError() {
	c.requests.Add(1)
	c.markSecond(time.Now())
	c.errors.Add(1)
}

// RecordCacheHit counts a verdict served from cache.
func (c *Collector) RecordCacheHit() { c.cacheHits.Add(1) }

// RecordCacheMiss counts a verdict that required classification.
func (c *Collector) RecordCacheMiss() { c.cacheMisses.Add(1) }

func (c *Collector) markSecond(now time.Time) {
	sec := now.Unix()
	idx := sec % ringSize

	// Reset the bucket when it still carries a count from an earlier
	// pass over the ring. The CAS makes sure only one goroutine zeroes.
	for {
		old := c.stamps[idx].Load()
		if old == sec {
			break
		}
		if c.stamps[idx].CompareAndSwap(old, sec) {
			c.buckets[idx].Store(0)
			break
		}
	}
	c.buckets[idx].Add(1)
}

// RequestsPerMinute sums the buckets stamped within the trailing minute.
func (c *Collector) RequestsPerMinute() int64 {
	cutoff := time.Now().Unix() - ringSize
	var total int64
	for i := 0; i < ringSize; i++ {
		if c.stamps[i].Load() > cutoff {
			total += c.buckets[i].Load()
		}
	}
	return total
}

// Snapshot is a point-in-time view of the counters, shaped for JSON.
type Snapshot struct {
	RequestsTotal     int64  `json:"requests_total"`
	AnomaliesTotal    int64  `json:"anomalies_total"`
	BlockedTotal      int64  `json:"blocked_total"`
	MonitoredTotal    int64  `json:"monitored_total"`
	AllowedTotal      int64  `json:"allowed_total"`
	ErrorsTotal       int64  `json:"errors_total"`
	CacheHitsTotal    int64  `json:"cache_hits_total"`
	CacheMissesTotal  int64  `json:"cache_misses_total"`
	RequestsPerMinute int64  `json:"requests_per_minute"`
	UptimeSeconds     int64  `json:"uptime_seconds"`
	StartedAt         string `json:"started_at"`
}

// Snapshot returns the current counter values. Counters are read
// individually, so a snapshot taken under load is approximate rather
// than a consistent cut; that is fine for monitoring.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		RequestsTotal:     c.requests.Load(),
		AnomaliesTotal:    c.anomalies.Load(),
		BlockedTotal:      c.blocked.Load(),
		MonitoredTotal:    c.monitored.Load(),
		AllowedTotal:      c.allowed.Load(),
		ErrorsTotal:       c.errors.Load(),
		CacheHitsTotal:    c.cacheHits.Load(),
		CacheMissesTotal:  c.cacheMisses.Load(),
		RequestsPerMinute: c.RequestsPerMinute(),
		UptimeSeconds:     int64(time.Since(c.started).Seconds()),
		StartedAt:         c.started.UTC().Format(time.RFC3339),
	}
}
