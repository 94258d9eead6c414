package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigDefaults(t *testing.T) {
	config, err := ParseConfig([]byte("journal_directory: /var/lib/journalstore\n"))
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/journalstore", config.JournalDirectory)
	assert.Equal(t, int64(100*1024*1024), config.SegmentSize)
	assert.Equal(t, time.Hour, config.SegmentAge)
	assert.Equal(t, int64(1_000_000), config.FlushInterval)
	assert.Equal(t, time.Minute, config.FlushAge)
	assert.Equal(t, int64(5*1024*1024*1024), config.MaxJournalSize)
	assert.Equal(t, 12*time.Hour, config.MaxJournalAge)
	assert.Equal(t, 4096, config.IndexInterval)
	assert.Equal(t, 1024*1024, config.MaxIndexSize)
	assert.Equal(t, time.Minute, config.FileDeleteDelay)
}

func TestParseConfigFull(t *testing.T) {
	data := []byte(`
journal_directory: /data/journal
listen_url: ":5577"
log_level: warning
stop_grace_period: 10s
segment_size: 16M
segment_age: 30m
flush_interval: 250000
flush_age: 15s
max_journal_size: 2G
max_journal_age: 6h
flush_check_interval: 45s
flush_checkpoint_interval: 90s
retention_check_interval: 2m
file_delete_delay: 30s
index_interval: 8192
max_index_size: 512K
`)
	config, err := ParseConfig(data)
	require.NoError(t, err)

	assert.Equal(t, "/data/journal", config.JournalDirectory)
	assert.Equal(t, ":5577", config.ListenURL)
	assert.Equal(t, 10*time.Second, config.StopGracePeriod)
	assert.Equal(t, int64(16*1024*1024), config.SegmentSize)
	assert.Equal(t, 30*time.Minute, config.SegmentAge)
	assert.Equal(t, int64(250000), config.FlushInterval)
	assert.Equal(t, 15*time.Second, config.FlushAge)
	assert.Equal(t, int64(2*1024*1024*1024), config.MaxJournalSize)
	assert.Equal(t, 6*time.Hour, config.MaxJournalAge)
	assert.Equal(t, 45*time.Second, config.FlushCheckInterval)
	assert.Equal(t, 90*time.Second, config.FlushCheckpointInterval)
	assert.Equal(t, 2*time.Minute, config.RetentionCheckInterval)
	assert.Equal(t, 30*time.Second, config.FileDeleteDelay)
	assert.Equal(t, 8192, config.IndexInterval)
	assert.Equal(t, 512*1024, config.MaxIndexSize)
}

func TestParseConfigDisabledSizeRetention(t *testing.T) {
	data := []byte("journal_directory: /data/journal\nmax_journal_size: \"-1\"\n")
	config, err := ParseConfig(data)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), config.MaxJournalSize)
}

func TestParseConfigMissingDirectory(t *testing.T) {
	_, err := ParseConfig([]byte("listen_url: \":5577\"\n"))
	var cfgErr ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestParseConfigBadValues(t *testing.T) {
	for name, data := range map[string]string{
		"bad size":     "journal_directory: /d\nsegment_size: lots\n",
		"bad duration": "journal_directory: /d\nsegment_age: sometimes\n",
		"bad yaml":     "journal_directory: [\n",
	} {
		_, err := ParseConfig([]byte(data))
		assert.Error(t, err, name)
	}
}
