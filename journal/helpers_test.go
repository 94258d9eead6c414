package journal

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/intakehq/journalstore/utils/clock"
)

func fileSize(t *testing.T, path string) int64 {
	t.Helper()
	fi, err := os.Stat(path)
	require.NoError(t, err)
	return fi.Size()
}

// makeRecords builds n records with offsets starting at base and payloads of
// the given size.
func makeRecords(base int64, n, payloadSize int) []record {
	recs := make([]record, n)
	for i := range recs {
		payload := make([]byte, payloadSize)
		for b := range payload {
			payload[b] = byte(i)
		}
		recs[i] = record{
			offset:  base + int64(i),
			key:     []byte(fmt.Sprintf("key-%d", base+int64(i))),
			payload: payload,
		}
	}
	return recs
}

// makeEntries builds n entries with distinct keys and payloads.
func makeEntries(n, payloadSize int) []Entry {
	entries := make([]Entry, n)
	for i := range entries {
		payload := make([]byte, payloadSize)
		for b := range payload {
			payload[b] = byte(i)
		}
		entries[i] = Entry{Key: []byte(fmt.Sprintf("key-%d", i)), Payload: payload}
	}
	return entries
}

func testLogConfig(dir string) Config {
	cfg := DefaultConfig(dir)
	cfg.SegmentBytes = 1024 * 1024
	cfg.IndexIntervalBytes = 64
	cfg.MaxIndexSizeBytes = 4096
	cfg.FileDeleteDelay = time.Millisecond
	return cfg
}

func newTestLog(t *testing.T, cfg Config) *messageLog {
	t.Helper()
	l, err := openMessageLog(cfg, clock.New())
	require.NoError(t, err)
	t.Cleanup(func() { l.close() })
	return l
}
