package journal

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intakehq/journalstore/utils/clock"
)

func newTestSegment(t *testing.T, baseOffset, maxBytes int64, indexInterval int) *segment {
	t.Helper()
	s, err := createSegment(t.TempDir(), baseOffset, maxBytes, indexInterval, 4096, clock.New())
	require.NoError(t, err)
	t.Cleanup(func() { s.close() })
	return s
}

// decodeFrames decodes whole records out of a read result, dropping a
// trailing partial frame the way the journal's reader does.
func decodeFrames(t *testing.T, buf []byte) []record {
	t.Helper()
	var recs []record
	for len(buf) > 0 {
		rec, n, err := decodeRecord(buf)
		if err == errIncompleteRecord {
			break
		}
		require.NoError(t, err)
		recs = append(recs, rec)
		buf = buf[n:]
	}
	return recs
}

func TestSegmentAppendRead(t *testing.T) {
	s := newTestSegment(t, 0, 1<<20, 4096)

	recs := makeRecords(0, 10, 32)
	require.NoError(t, s.append(recs))
	assert.Equal(t, int64(10), s.endOffset())
	assert.Equal(t, int64(9), s.lastOffset())

	buf, err := s.read(0, 1<<20, 10)
	require.NoError(t, err)
	got := decodeFrames(t, buf)
	require.Len(t, got, 10)
	for i, rec := range got {
		assert.Equal(t, int64(i), rec.offset)
		assert.Equal(t, recs[i].key, rec.key)
		assert.Equal(t, recs[i].payload, rec.payload)
	}
}

func TestSegmentReadFromMiddle(t *testing.T) {
	s := newTestSegment(t, 100, 1<<20, 64)

	require.NoError(t, s.append(makeRecords(100, 50, 32)))

	buf, err := s.read(130, 1<<20, 135)
	require.NoError(t, err)
	got := decodeFrames(t, buf)
	require.Len(t, got, 5)
	assert.Equal(t, int64(130), got[0].offset)
	assert.Equal(t, int64(134), got[4].offset)
}

func TestSegmentReadAtLeastOneRecord(t *testing.T) {
	s := newTestSegment(t, 0, 1<<20, 4096)
	require.NoError(t, s.append(makeRecords(0, 3, 256)))

	// maxBytes below a single record still returns that record whole.
	buf, err := s.read(1, 8, 3)
	require.NoError(t, err)
	got := decodeFrames(t, buf)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].offset)
}

func TestSegmentReadOutOfRange(t *testing.T) {
	s := newTestSegment(t, 100, 1<<20, 4096)
	require.NoError(t, s.append(makeRecords(100, 5, 16)))

	_, err := s.read(99, 1024, 100)
	var oor OffsetOutOfRangeError
	assert.ErrorAs(t, err, &oor)

	_, err = s.read(200, 1024, 300)
	assert.ErrorAs(t, err, &oor)

	// Reading exactly at the end offset is an empty result, not an error.
	buf, err := s.read(105, 1024, 110)
	require.NoError(t, err)
	assert.Nil(t, buf)
}

func TestSegmentFull(t *testing.T) {
	s := newTestSegment(t, 0, 256, 4096)

	require.NoError(t, s.append(makeRecords(0, 4, 32)))
	err := s.append(makeRecords(4, 4, 32))
	assert.ErrorIs(t, err, errSegmentFull)

	// An empty segment accepts even an oversized run.
	big := newTestSegment(t, 0, 64, 4096)
	require.NoError(t, big.append(makeRecords(0, 1, 512)))
	assert.Equal(t, int64(1), big.endOffset())
}

func TestSegmentScanContinuesPastIndex(t *testing.T) {
	// A huge index interval produces no entries at all; reads must still
	// locate any offset by scanning from the head.
	s := newTestSegment(t, 0, 1<<20, 1<<30)
	require.NoError(t, s.append(makeRecords(0, 200, 16)))
	assert.Equal(t, 0, s.index.entries)

	buf, err := s.read(150, 1<<20, 151)
	require.NoError(t, err)
	got := decodeFrames(t, buf)
	require.Len(t, got, 1)
	assert.Equal(t, int64(150), got[0].offset)
}

func TestSegmentIndexEntriesWritten(t *testing.T) {
	s := newTestSegment(t, 0, 1<<20, 64)
	require.NoError(t, s.append(makeRecords(0, 100, 32)))
	assert.Greater(t, s.index.entries, 0)

	buf, err := s.read(90, 1<<20, 95)
	require.NoError(t, err)
	got := decodeFrames(t, buf)
	require.Len(t, got, 5)
	assert.Equal(t, int64(90), got[0].offset)
}

func TestSegmentTruncateTo(t *testing.T) {
	s := newTestSegment(t, 0, 1<<20, 64)
	require.NoError(t, s.append(makeRecords(0, 20, 32)))

	require.NoError(t, s.truncateTo(12))
	assert.Equal(t, int64(12), s.endOffset())

	buf, err := s.read(0, 1<<20, 20)
	require.NoError(t, err)
	assert.Len(t, decodeFrames(t, buf), 12)

	// Appends continue at the truncation point.
	require.NoError(t, s.append(makeRecords(12, 3, 32)))
	assert.Equal(t, int64(15), s.endOffset())
}

func TestSegmentRecoverRebuildsState(t *testing.T) {
	dir := t.TempDir()
	s, err := createSegment(dir, 0, 1<<20, 64, 4096, clock.New())
	require.NoError(t, err)
	require.NoError(t, s.append(makeRecords(0, 50, 32)))
	require.NoError(t, s.flush())
	require.NoError(t, s.close())

	reopened, err := openSegment(dir, 0, 1<<20, 64, 4096, clock.New())
	require.NoError(t, err)
	defer reopened.close()

	dropped, err := reopened.recover(4096)
	require.NoError(t, err)
	assert.Equal(t, int64(0), dropped)
	assert.Equal(t, int64(50), reopened.endOffset())
	assert.Greater(t, reopened.index.entries, 0)
}

func TestSegmentRecoverTruncatesTornWrite(t *testing.T) {
	dir := t.TempDir()
	s, err := createSegment(dir, 0, 1<<20, 4096, 4096, clock.New())
	require.NoError(t, err)
	require.NoError(t, s.append(makeRecords(0, 10, 32)))
	fullSize := s.sizeBytes()
	require.NoError(t, s.close())

	// Chop the last record in half to simulate a torn write.
	path := logFilePath(dir, 0)
	require.NoError(t, os.Truncate(path, fullSize-10))

	reopened, err := openSegment(dir, 0, 1<<20, 4096, 4096, clock.New())
	require.NoError(t, err)
	defer reopened.close()

	dropped, err := reopened.recover(4096)
	require.NoError(t, err)
	assert.Greater(t, dropped, int64(0))
	assert.Equal(t, int64(9), reopened.endOffset())

	buf, err := reopened.read(0, 1<<20, 9)
	require.NoError(t, err)
	assert.Len(t, decodeFrames(t, buf), 9)
}

func TestSegmentRecoverTruncatesCorruptRecord(t *testing.T) {
	dir := t.TempDir()
	s, err := createSegment(dir, 0, 1<<20, 4096, 4096, clock.New())
	require.NoError(t, err)
	require.NoError(t, s.append(makeRecords(0, 10, 32)))
	size := s.sizeBytes()
	require.NoError(t, s.close())

	// Flip a byte inside the 6th record's payload.
	path := logFilePath(dir, 0)
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	frame := int64(recordLength(len("key-0"), 32))
	_, err = f.WriteAt([]byte{0xff}, 5*frame+frame-1)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := openSegment(dir, 0, 1<<20, 4096, 4096, clock.New())
	require.NoError(t, err)
	defer reopened.close()

	dropped, err := reopened.recover(4096)
	require.NoError(t, err)
	assert.Equal(t, size-5*frame, dropped)
	assert.Equal(t, int64(5), reopened.endOffset())
}

func TestSegmentMarkDeleted(t *testing.T) {
	dir := t.TempDir()
	s, err := createSegment(dir, 0, 1<<20, 4096, 4096, clock.New())
	require.NoError(t, err)
	require.NoError(t, s.append(makeRecords(0, 5, 16)))

	renamed, err := s.markDeleted()
	require.NoError(t, err)
	require.Len(t, renamed, 2)
	for _, p := range renamed {
		assert.FileExists(t, p)
	}
	assert.NoFileExists(t, logFilePath(dir, 0))
	require.NoError(t, s.close())
}
