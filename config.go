package siltdb

// Size limits from spec §3/§4.1/§4.3.
const (
	MaxKeySize   = 64 * 1024        // 64 KiB
	MaxValueSize = 16 * 1024 * 1024 // 16 MiB
	MaxFrameSize = 32 * 1024 * 1024 // 32 MiB, protocol frame bound
	MaxScanLimit = 10000
)

// Config controls an Engine's durability, memory, and compaction
// behavior. Field names mirror spec §4.9's configuration surface.
type Config struct {
	Dir                    string
	MaxMemtableSize        int64   // bytes; sealing threshold
	CacheSize              int     // entries held by the record cache
	BloomFalsePositiveRate float64 // target FPR for new SSTs
	CompactionThreshold    int     // SSTs per generation before merge
	EnableCompression      bool    // flate-compress SST values
	WALMode                WALMode
	EnableMetrics          bool
	MetricsIntervalSeconds int
	MaxFlushQueueDepth     int // backpressure cap on sealed-but-unflushed memtables
	RateLimitOpsPerSec     int // R_conn: token bucket refill rate per connection
	RateLimitBurst         int // B_conn: token bucket capacity per connection
}

func DefaultConfig(dir string) Config {
	return Config{
		Dir:                    dir,
		MaxMemtableSize:        32 * 1024 * 1024,
		CacheSize:              10000,
		BloomFalsePositiveRate: 0.01,
		CompactionThreshold:    CompactionThreshold,
		EnableCompression:      false,
		WALMode:                WALAdaptive,
		EnableMetrics:          true,
		MetricsIntervalSeconds: 10,
		MaxFlushQueueDepth:     4,
		RateLimitOpsPerSec:     16,
		RateLimitBurst:         64,
	}
}
