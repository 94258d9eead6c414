package journal

import (
	"math"
	"time"
)

// Config carries every tunable of the journal engine. Zero values are filled
// in by applyDefaults; Validate rejects combinations the engine cannot run
// with.
type Config struct {
	// Directory holds segment files, the sparse indexes, the recovery
	// checkpoint and the committed-offset sidecar.
	Directory string

	// SegmentBytes is the soft cap on a segment data file before a roll.
	SegmentBytes int64
	// SegmentAge is the soft cap on a segment's wall-clock age before a roll.
	SegmentAge time.Duration

	// FlushIntervalMessages forces an fsync after this many unflushed appends.
	FlushIntervalMessages int64
	// FlushAge forces an fsync once the log has been dirty this long.
	FlushAge time.Duration

	// RetentionBytes caps the journal's total size; negative disables the
	// size-based retention pass.
	RetentionBytes int64
	// RetentionAge caps segment age before the age-based retention pass
	// removes it.
	RetentionAge time.Duration

	FlushCheckInterval      time.Duration
	FlushCheckpointInterval time.Duration
	RetentionCheckInterval  time.Duration

	// FileDeleteDelay is the grace between marking a segment deleted and
	// unlinking it, protecting in-flight reads.
	FileDeleteDelay time.Duration

	// IndexIntervalBytes is the approximate distance between sparse index
	// entries.
	IndexIntervalBytes int
	// MaxIndexSizeBytes is the hard cap on an index file.
	MaxIndexSizeBytes int
}

// DefaultConfig mirrors the defaults the journal has always shipped with.
func DefaultConfig(dir string) Config {
	return Config{
		Directory:               dir,
		SegmentBytes:            100 * 1024 * 1024,
		SegmentAge:              time.Hour,
		FlushIntervalMessages:   1_000_000,
		FlushAge:                time.Minute,
		RetentionBytes:          5 * 1024 * 1024 * 1024,
		RetentionAge:            12 * time.Hour,
		FlushCheckInterval:      time.Minute,
		FlushCheckpointInterval: time.Minute,
		RetentionCheckInterval:  time.Minute,
		FileDeleteDelay:         time.Minute,
		IndexIntervalBytes:      4096,
		MaxIndexSizeBytes:       1024 * 1024,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig(c.Directory)
	if c.SegmentBytes == 0 {
		c.SegmentBytes = def.SegmentBytes
	}
	if c.SegmentAge == 0 {
		c.SegmentAge = def.SegmentAge
	}
	if c.FlushIntervalMessages == 0 {
		c.FlushIntervalMessages = def.FlushIntervalMessages
	}
	if c.FlushAge == 0 {
		c.FlushAge = def.FlushAge
	}
	if c.RetentionBytes == 0 {
		c.RetentionBytes = def.RetentionBytes
	}
	if c.RetentionAge == 0 {
		c.RetentionAge = def.RetentionAge
	}
	if c.FlushCheckInterval == 0 {
		c.FlushCheckInterval = def.FlushCheckInterval
	}
	if c.FlushCheckpointInterval == 0 {
		c.FlushCheckpointInterval = def.FlushCheckpointInterval
	}
	if c.RetentionCheckInterval == 0 {
		c.RetentionCheckInterval = def.RetentionCheckInterval
	}
	if c.FileDeleteDelay == 0 {
		c.FileDeleteDelay = def.FileDeleteDelay
	}
	if c.IndexIntervalBytes == 0 {
		c.IndexIntervalBytes = def.IndexIntervalBytes
	}
	if c.MaxIndexSizeBytes == 0 {
		c.MaxIndexSizeBytes = def.MaxIndexSizeBytes
	}
}

// Validate reports fatal configuration problems; the journal refuses to
// start on any of these.
func (c *Config) Validate() error {
	if c.Directory == "" {
		return ConfigError("journal directory must be set")
	}
	if c.SegmentBytes <= 0 || c.SegmentBytes > math.MaxInt32 {
		return ConfigError("segment size must be positive and fit 32-bit file positions")
	}
	if c.SegmentAge <= 0 {
		return ConfigError("segment age must be positive")
	}
	if c.FlushIntervalMessages <= 0 {
		return ConfigError("flush interval must be positive")
	}
	if c.FlushAge <= 0 {
		return ConfigError("flush age must be positive")
	}
	if c.RetentionAge <= 0 {
		return ConfigError("retention age must be positive")
	}
	if c.FlushCheckInterval <= 0 || c.FlushCheckpointInterval <= 0 || c.RetentionCheckInterval <= 0 {
		return ConfigError("scheduler intervals must be positive")
	}
	if c.FileDeleteDelay < 0 {
		return ConfigError("file delete delay cannot be negative")
	}
	if c.IndexIntervalBytes <= 0 {
		return ConfigError("index interval must be positive")
	}
	if c.MaxIndexSizeBytes < indexEntrySize {
		return ConfigError("max index size must hold at least one entry")
	}
	return nil
}
