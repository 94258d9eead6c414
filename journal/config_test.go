package journal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{Directory: t.TempDir()}
	cfg.applyDefaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, int64(100*1024*1024), cfg.SegmentBytes)
	assert.Equal(t, 4096, cfg.IndexIntervalBytes)
	assert.Equal(t, 1024*1024, cfg.MaxIndexSizeBytes)
	assert.Equal(t, time.Minute, cfg.FileDeleteDelay)
}

func TestConfigValidation(t *testing.T) {
	base := DefaultConfig(t.TempDir())

	for name, mutate := range map[string]func(*Config){
		"missing directory":    func(c *Config) { c.Directory = "" },
		"negative segment":     func(c *Config) { c.SegmentBytes = -1 },
		"oversized segment":    func(c *Config) { c.SegmentBytes = 1 << 40 },
		"flush interval < 0":   func(c *Config) { c.FlushIntervalMessages = -3 },
		"retention age < 0":    func(c *Config) { c.RetentionAge = -time.Second },
		"index interval < 0":   func(c *Config) { c.IndexIntervalBytes = -1 },
		"tiny max index":       func(c *Config) { c.MaxIndexSizeBytes = indexEntrySize - 1 },
		"negative delete wait": func(c *Config) { c.FileDeleteDelay = -time.Second },
	} {
		cfg := base
		mutate(&cfg)
		var cfgErr ConfigError
		assert.ErrorAs(t, cfg.Validate(), &cfgErr, name)
	}

	// A negative retention size only disables the size pass.
	cfg := base
	cfg.RetentionBytes = -1
	assert.NoError(t, cfg.Validate())
}
