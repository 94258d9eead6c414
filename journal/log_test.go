package journal

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intakehq/journalstore/utils/clock"
)

// fixedEntries builds entries whose records all have identical on-disk
// sizes, so tests can place segment boundaries precisely.
func fixedEntries(n, payloadSize int) []Entry {
	entries := make([]Entry, n)
	for i := range entries {
		entries[i] = Entry{
			Key:     []byte(fmt.Sprintf("%08d", i)),
			Payload: make([]byte, payloadSize),
		}
	}
	return entries
}

// fixedRecordSize is the frame size of a fixedEntries record.
func fixedRecordSize(payloadSize int) int64 {
	return int64(recordLength(8, payloadSize))
}

func TestLogAppendAssignsContiguousOffsets(t *testing.T) {
	l := newTestLog(t, testLogConfig(t.TempDir()))

	first, last, err := l.append(makeEntries(3, 8))
	require.NoError(t, err)
	assert.Equal(t, int64(0), first)
	assert.Equal(t, int64(2), last)

	first, last, err = l.append(makeEntries(2, 8))
	require.NoError(t, err)
	assert.Equal(t, int64(3), first)
	assert.Equal(t, int64(4), last)
	assert.Equal(t, int64(5), l.logEndOffset())
}

func TestLogRollOnSize(t *testing.T) {
	cfg := testLogConfig(t.TempDir())
	cfg.SegmentBytes = 4 * fixedRecordSize(16)
	l := newTestLog(t, cfg)

	_, _, err := l.append(fixedEntries(10, 16))
	require.NoError(t, err)

	assert.GreaterOrEqual(t, l.numberOfSegments(), 2)
	assert.Equal(t, int64(10), l.logEndOffset())
	assert.Equal(t, int64(0), l.logStartOffset())
}

func TestLogRollOnAge(t *testing.T) {
	cfg := testLogConfig(t.TempDir())
	cfg.SegmentAge = time.Minute
	fake := clock.NewFake(time.Now().UnixMilli())
	l, err := openMessageLog(cfg, fake)
	require.NoError(t, err)
	t.Cleanup(func() { l.close() })

	_, _, err = l.append(makeEntries(1, 8))
	require.NoError(t, err)
	require.Equal(t, 1, l.numberOfSegments())

	// Another append inside the age window stays in the same segment.
	_, _, err = l.append(makeEntries(1, 8))
	require.NoError(t, err)
	require.Equal(t, 1, l.numberOfSegments())

	fake.Advance(2 * time.Minute)
	_, _, err = l.append(makeEntries(1, 8))
	require.NoError(t, err)
	assert.Equal(t, 2, l.numberOfSegments())
}

func TestLogSegmentContiguity(t *testing.T) {
	cfg := testLogConfig(t.TempDir())
	cfg.SegmentBytes = 3 * fixedRecordSize(16)
	l := newTestLog(t, cfg)

	for i := 0; i < 7; i++ {
		_, _, err := l.append(fixedEntries(3, 16))
		require.NoError(t, err)
	}

	segs := l.segmentsView()
	require.Greater(t, len(segs), 1)
	for i := 0; i < len(segs)-1; i++ {
		assert.Equal(t, segs[i].endOffset(), segs[i+1].baseOffset,
			"segment %d must end where segment %d begins", i, i+1)
	}
}

func TestLogReadAcrossRoll(t *testing.T) {
	cfg := testLogConfig(t.TempDir())
	cfg.SegmentBytes = 4 * fixedRecordSize(16)
	l := newTestLog(t, cfg)

	_, _, err := l.append(fixedEntries(10, 16))
	require.NoError(t, err)

	// One log read stops at the segment boundary; walking the cursor
	// visits every record exactly once.
	next := int64(0)
	seen := 0
	for next < l.logEndOffset() {
		buf, err := l.read(next, 1<<20, l.logEndOffset())
		require.NoError(t, err)
		recs := decodeFrames(t, buf)
		require.NotEmpty(t, recs)
		for _, rec := range recs {
			assert.Equal(t, next, rec.offset)
			next = rec.offset + 1
			seen++
		}
	}
	assert.Equal(t, 10, seen)
}

func TestLogReadOutOfRange(t *testing.T) {
	l := newTestLog(t, testLogConfig(t.TempDir()))
	_, _, err := l.append(makeEntries(5, 8))
	require.NoError(t, err)

	_, err = l.read(99, 1024, 100)
	var oor OffsetOutOfRangeError
	require.ErrorAs(t, err, &oor)
	assert.Equal(t, int64(0), oor.FirstOffset)
	assert.Equal(t, int64(5), oor.LastOffset)

	// Reading at the log end offset is empty, not an error.
	buf, err := l.read(5, 1024, 10)
	require.NoError(t, err)
	assert.Nil(t, buf)
}

func TestLogFlushAdvancesRecoveryPoint(t *testing.T) {
	l := newTestLog(t, testLogConfig(t.TempDir()))

	_, _, err := l.append(makeEntries(5, 8))
	require.NoError(t, err)
	assert.Equal(t, int64(5), l.unflushedMessages())
	assert.Equal(t, int64(0), l.recoveryPointOffset())

	require.NoError(t, l.flush())
	assert.Equal(t, int64(0), l.unflushedMessages())
	assert.Equal(t, int64(5), l.recoveryPointOffset())
}

func TestLogFlushIntervalTriggersSync(t *testing.T) {
	cfg := testLogConfig(t.TempDir())
	cfg.FlushIntervalMessages = 4
	l := newTestLog(t, cfg)

	_, _, err := l.append(makeEntries(3, 8))
	require.NoError(t, err)
	assert.Equal(t, int64(3), l.unflushedMessages())

	_, _, err = l.append(makeEntries(3, 8))
	require.NoError(t, err)
	assert.Equal(t, int64(0), l.unflushedMessages())
	assert.Equal(t, int64(6), l.recoveryPointOffset())
}

func TestLogTruncateTo(t *testing.T) {
	cfg := testLogConfig(t.TempDir())
	cfg.SegmentBytes = 4 * fixedRecordSize(16)
	l := newTestLog(t, cfg)

	_, _, err := l.append(fixedEntries(12, 16))
	require.NoError(t, err)
	require.GreaterOrEqual(t, l.numberOfSegments(), 3)

	require.NoError(t, l.truncateTo(6))
	assert.Equal(t, int64(6), l.logEndOffset())

	// Appends continue at the truncation point.
	first, _, err := l.append(fixedEntries(2, 16))
	require.NoError(t, err)
	assert.Equal(t, int64(6), first)
}

func TestLogTruncateOutOfRangeSurfaces(t *testing.T) {
	l := newTestLog(t, testLogConfig(t.TempDir()))
	_, _, err := l.append(makeEntries(5, 8))
	require.NoError(t, err)

	var oor OffsetOutOfRangeError
	assert.ErrorAs(t, l.truncateTo(-1), &oor)
}

func TestLogBatchSplitsAcrossRoll(t *testing.T) {
	cfg := testLogConfig(t.TempDir())
	cfg.SegmentBytes = 3 * fixedRecordSize(16)
	l := newTestLog(t, cfg)

	// A batch larger than one segment spans a roll but stays contiguous.
	first, last, err := l.append(fixedEntries(8, 16))
	require.NoError(t, err)
	assert.Equal(t, int64(0), first)
	assert.Equal(t, int64(7), last)
	assert.GreaterOrEqual(t, l.numberOfSegments(), 2)

	next := int64(0)
	for next < 8 {
		buf, err := l.read(next, 1<<20, 8)
		require.NoError(t, err)
		recs := decodeFrames(t, buf)
		require.NotEmpty(t, recs)
		next = recs[len(recs)-1].offset + 1
	}
}

func TestLogReopenRecoversCleanState(t *testing.T) {
	dir := t.TempDir()
	cfg := testLogConfig(dir)
	cfg.SegmentBytes = 4 * fixedRecordSize(16)

	l, err := openMessageLog(cfg, clock.New())
	require.NoError(t, err)
	_, _, err = l.append(fixedEntries(10, 16))
	require.NoError(t, err)
	require.NoError(t, l.flush())
	require.NoError(t, l.checkpoint())
	require.NoError(t, l.close())

	reopened := newTestLog(t, cfg)
	assert.Equal(t, int64(10), reopened.logEndOffset())
	assert.Equal(t, int64(0), reopened.logStartOffset())
	assert.Equal(t, int64(10), reopened.recoveryPointOffset())

	next := int64(0)
	seen := 0
	for next < reopened.logEndOffset() {
		buf, err := reopened.read(next, 1<<20, 10)
		require.NoError(t, err)
		recs := decodeFrames(t, buf)
		require.NotEmpty(t, recs)
		next = recs[len(recs)-1].offset + 1
		seen += len(recs)
	}
	assert.Equal(t, 10, seen)
}

func TestLogReopenTruncatesTornTail(t *testing.T) {
	dir := t.TempDir()
	cfg := testLogConfig(dir)

	l, err := openMessageLog(cfg, clock.New())
	require.NoError(t, err)
	_, _, err = l.append(fixedEntries(10, 16))
	require.NoError(t, err)
	require.NoError(t, l.close())

	// Tear the last record.
	path := logFilePath(dir, 0)
	require.NoError(t, os.Truncate(path, fileSize(t, path)-3))

	reopened := newTestLog(t, cfg)
	assert.Equal(t, int64(9), reopened.logEndOffset())
}

func TestLogCheckpointRoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := newTestLog(t, testLogConfig(dir))

	_, _, err := l.append(makeEntries(5, 8))
	require.NoError(t, err)
	require.NoError(t, l.flush())
	require.NoError(t, l.checkpoint())

	offsets, err := readRecoveryCheckpoint(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(5), offsets[journalPartition])
}
