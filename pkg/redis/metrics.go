package redis

import (
	"sync/atomic"
	"time"
)

// opStat counts one kind of redis round trip and its accumulated latency
type opStat struct {
	count atomic.Uint64
	nanos atomic.Uint64
}

func (s *opStat) observe(d time.Duration) {
	s.count.Add(1)
	s.nanos.Add(uint64(d.Nanoseconds()))
}

func (s *opStat) snapshot() OpStats {
	n := s.count.Load()
	out := OpStats{Count: n}
	if n > 0 {
		out.AvgLatency = time.Duration(s.nanos.Load() / n)
	}
	return out
}

func (s *opStat) reset() {
	s.count.Store(0)
	s.nanos.Store(0)
}

// Metrics counts row cache traffic; safe for concurrent use
type Metrics struct {
	rowHits     atomic.Uint64
	missingHits atomic.Uint64
	misses      atomic.Uint64
	failures    atomic.Uint64

	reads   opStat
	writes  opStat
	deletes opStat

	invalidations   atomic.Uint64
	invalidatedKeys atomic.Uint64
}

// OpStats is the count and mean latency of one command kind
type OpStats struct {
	Count      uint64
	AvgLatency time.Duration
}

// Stats is a point-in-time copy of Metrics.
// HitRatio counts cached "not found" markers as hits and is 0 with no lookups.
type Stats struct {
	RowHits     uint64
	MissingHits uint64
	Misses      uint64
	Failures    uint64
	HitRatio    float64

	Reads   OpStats
	Writes  OpStats
	Deletes OpStats

	Invalidations   uint64
	InvalidatedKeys uint64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) rowHit()     { m.rowHits.Add(1) }
func (m *Metrics) missingHit() { m.missingHits.Add(1) }
func (m *Metrics) miss()       { m.misses.Add(1) }
func (m *Metrics) failure()    { m.failures.Add(1) }

func (m *Metrics) invalidated(keys int) {
	m.invalidations.Add(1)
	m.invalidatedKeys.Add(uint64(keys))
}

// Snapshot copies the current counters
func (m *Metrics) Snapshot() Stats {
	s := Stats{
		RowHits:         m.rowHits.Load(),
		MissingHits:     m.missingHits.Load(),
		Misses:          m.misses.Load(),
		Failures:        m.failures.Load(),
		Reads:           m.reads.snapshot(),
		Writes:          m.writes.snapshot(),
		Deletes:         m.deletes.snapshot(),
		Invalidations:   m.invalidations.Load(),
		InvalidatedKeys: m.invalidatedKeys.Load(),
	}
	hits := s.RowHits + s.MissingHits
	if lookups := hits + s.Misses; lookups > 0 {
		s.HitRatio = float64(hits) / float64(lookups)
	}
	return s
}

// Reset zeroes every counter
func (m *Metrics) Reset() {
	for _, c := range []*atomic.Uint64{&m.rowHits, &m.missingHits, &m.misses, &m.failures, &m.invalidations, &m.invalidatedKeys} {
		c.Store(0)
	}
	m.reads.reset()
	m.writes.reset()
	m.deletes.reset()
}
