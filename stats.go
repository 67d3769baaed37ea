package siltdb

import "sync/atomic"

// opCounters are the atomic counters an Engine accumulates across its
// lifetime; Stats() snapshots them. Grounded on the teacher's approach
// of plain atomic counters rather than a full metrics library, since no
// pack example grounds a third-party metrics client for an embedded
// store (DESIGN.md).
type opCounters struct {
	gets        int64
	puts        int64
	deletes     int64
	cacheHits   int64
	cacheMisses int64
	flushes     int64
	compactions int64
}

// Stats is a point-in-time snapshot of engine state (spec §4.9).
type Stats struct {
	MemtableEntries  int64
	SSTCountByGen    map[int]int
	CacheEntries     int
	CacheHitRate     float64
	GetCount         int64
	PutCount         int64
	DeleteCount      int64
	FlushCount       int64
	CompactionCount  int64
	ReadOnly         bool
}

func (c *opCounters) recordGet(hit bool) {
	atomic.AddInt64(&c.gets, 1)
	if hit {
		atomic.AddInt64(&c.cacheHits, 1)
	} else {
		atomic.AddInt64(&c.cacheMisses, 1)
	}
}

func (c *opCounters) recordPut()        { atomic.AddInt64(&c.puts, 1) }
func (c *opCounters) recordDelete()     { atomic.AddInt64(&c.deletes, 1) }
func (c *opCounters) recordFlush()      { atomic.AddInt64(&c.flushes, 1) }
func (c *opCounters) recordCompaction() { atomic.AddInt64(&c.compactions, 1) }

func (c *opCounters) hitRate() float64 {
	hits := atomic.LoadInt64(&c.cacheHits)
	misses := atomic.LoadInt64(&c.cacheMisses)
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
