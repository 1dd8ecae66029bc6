package cache

import (
	"strings"
	"sync/atomic"
	"time"
)

const otherFamily = "other"

// FamilyMetrics counts lookups for keys sharing one prefix, such as verified
// principals or the public task feed.
type FamilyMetrics struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

type familyCounter struct {
	hits   atomic.Int64
	misses atomic.Int64
}

type CacheMetrics struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Errors int64 `json:"errors"`

	Sets      int64 `json:"sets"`
	Deletes   int64 `json:"deletes"`
	StartTime int64 `json:"start_time"`

	Families map[string]FamilyMetrics `json:"families,omitempty"`

	prefixes []string
	counters map[string]*familyCounter
}

// NewCacheMetrics tracks hits and misses per key family in addition to the
// totals. A family is named by its key prefix; keys matching none of them
// are counted under "other".
func NewCacheMetrics(families ...string) *CacheMetrics {
	m := &CacheMetrics{
		StartTime: time.Now().Unix(),
		counters:  make(map[string]*familyCounter, len(families)+1),
	}
	for _, prefix := range families {
		if prefix == "" {
			continue
		}
		if _, ok := m.counters[prefix]; ok {
			continue
		}
		m.prefixes = append(m.prefixes, prefix)
		m.counters[prefix] = &familyCounter{}
	}
	if len(m.prefixes) > 0 {
		m.counters[otherFamily] = &familyCounter{}
	}
	return m
}

func (m *CacheMetrics) family(key string) *familyCounter {
	for _, prefix := range m.prefixes {
		if strings.HasPrefix(key, prefix) {
			return m.counters[prefix]
		}
	}
	return m.counters[otherFamily]
}

func (m *CacheMetrics) RecordHit(key string) {
	atomic.AddInt64(&m.Hits, 1)
	if f := m.family(key); f != nil {
		f.hits.Add(1)
	}
}

func (m *CacheMetrics) RecordMiss(key string) {
	atomic.AddInt64(&m.Misses, 1)
	if f := m.family(key); f != nil {
		f.misses.Add(1)
	}
}

func (m *CacheMetrics) RecordError() {
	atomic.AddInt64(&m.Errors, 1)
}

func (m *CacheMetrics) RecordSet() {
	atomic.AddInt64(&m.Sets, 1)
}

func (m *CacheMetrics) RecordDelete() {
	atomic.AddInt64(&m.Deletes, 1)
}

func (m *CacheMetrics) GetStats() CacheMetrics {
	snapshot := CacheMetrics{
		Hits:      atomic.LoadInt64(&m.Hits),
		Misses:    atomic.LoadInt64(&m.Misses),
		Errors:    atomic.LoadInt64(&m.Errors),
		Sets:      atomic.LoadInt64(&m.Sets),
		Deletes:   atomic.LoadInt64(&m.Deletes),
		StartTime: atomic.LoadInt64(&m.StartTime),
	}

	if len(m.counters) > 0 {
		snapshot.Families = make(map[string]FamilyMetrics, len(m.counters))
		for name, counter := range m.counters {
			hits, misses := counter.hits.Load(), counter.misses.Load()
			snapshot.Families[strings.TrimSuffix(name, ":")] = FamilyMetrics{
				Hits:    hits,
				Misses:  misses,
				HitRate: hitRate(hits, misses),
			}
		}
	}

	return snapshot
}

// HitRate is a percentage over hits and misses; errors are not counted.
func (m *CacheMetrics) HitRate() float64 {
	return hitRate(atomic.LoadInt64(&m.Hits), atomic.LoadInt64(&m.Misses))
}

func hitRate(hits, misses int64) float64 {
	total := hits + misses
	if total == 0 {
		return 0.0
	}
	return float64(hits) / float64(total) * 100.0
}
