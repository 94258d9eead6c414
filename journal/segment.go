package journal

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/intakehq/journalstore/utils/clock"
	"github.com/intakehq/journalstore/utils/log"
)

const segmentFileFormat = "%020d%s"

func logFilePath(dir string, baseOffset int64) string {
	return filepath.Join(dir, fmt.Sprintf(segmentFileFormat, baseOffset, logFileSuffix))
}

func indexFilePath(dir string, baseOffset int64) string {
	return filepath.Join(dir, fmt.Sprintf(segmentFileFormat, baseOffset, indexFileSuffix))
}

// segment is one on-disk append-only data file plus its sparse offset index.
// The data file holds concatenated record frames; the filename encodes the
// base offset. Only the log's active segment is appended to, all others are
// immutable until retention removes them.
type segment struct {
	baseOffset         int64
	path               string
	clk                clock.Clock
	maxBytes           int64
	indexIntervalBytes int

	mu                   sync.RWMutex
	file                 *os.File
	index                *offsetIndex
	nextOffset           int64
	position             int64
	bytesSinceIndexEntry int
	created              int64
}

// createSegment creates a fresh segment whose first record will receive
// baseOffset.
func createSegment(dir string, baseOffset int64, maxBytes int64, indexInterval, maxIndexSize int,
	clk clock.Clock,
) (*segment, error) {
	path := logFilePath(dir, baseOffset)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create segment %s: %w", path, err)
	}
	idx, err := openIndex(indexFilePath(dir, baseOffset), baseOffset, maxIndexSize)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &segment{
		baseOffset:         baseOffset,
		path:               path,
		clk:                clk,
		maxBytes:           maxBytes,
		indexIntervalBytes: indexInterval,
		file:               f,
		index:              idx,
		nextOffset:         baseOffset,
		created:            clk.NowMillis(),
	}, nil
}

// openSegment opens an existing segment. nextOffset is left at baseOffset;
// the log fixes it up from the following segment's base offset, or by
// recovery for the tail segment.
func openSegment(dir string, baseOffset int64, maxBytes int64, indexInterval, maxIndexSize int,
	clk clock.Clock,
) (*segment, error) {
	path := logFilePath(dir, baseOffset)
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open segment %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat segment %s: %w", path, err)
	}
	idx, err := openIndex(indexFilePath(dir, baseOffset), baseOffset, maxIndexSize)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &segment{
		baseOffset:         baseOffset,
		path:               path,
		clk:                clk,
		maxBytes:           maxBytes,
		indexIntervalBytes: indexInterval,
		file:               f,
		index:              idx,
		nextOffset:         baseOffset,
		position:           fi.Size(),
		created:            clk.NowMillis(),
	}, nil
}

// append writes a contiguous run of records at the tail. The caller has
// already assigned offsets continuing at nextOffset. errSegmentFull is
// returned without writing anything when the run does not fit; an empty
// segment accepts any run so that oversized records still make progress.
func (s *segment) append(recs []record) error {
	if len(recs) == 0 {
		return nil
	}

	total := 0
	for _, r := range recs {
		total += r.length()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.position > 0 && s.position+int64(total) > s.maxBytes {
		return errSegmentFull
	}

	buf := make([]byte, 0, total)
	pos := s.position
	type pendingEntry struct{ offset, position int64 }
	var pending []pendingEntry
	bytesSince := s.bytesSinceIndexEntry
	for _, r := range recs {
		if bytesSince >= s.indexIntervalBytes && !s.index.isFull() {
			pending = append(pending, pendingEntry{r.offset, pos})
			bytesSince = 0
		}
		buf = r.encode(buf)
		n := r.length()
		bytesSince += n
		pos += int64(n)
	}

	if _, err := s.file.WriteAt(buf, s.position); err != nil {
		return fmt.Errorf("append to segment %s: %w", s.path, err)
	}

	// Index entries are written only after the data they point at.
	for _, e := range pending {
		s.index.append(e.offset, e.position)
	}
	s.bytesSinceIndexEntry = bytesSince
	s.position = pos
	s.nextOffset = recs[len(recs)-1].offset + 1
	return nil
}

// read returns a byte slice of whole record frames with offsets in
// [startOffset, maxOffset), at most maxBytes long, except that the first
// record is always returned whole even when it alone exceeds maxBytes. A
// trailing partial record may be included; the decoder discards it.
func (s *segment) read(startOffset, maxBytes, maxOffset int64) ([]byte, error) {
	s.mu.RLock()
	end := s.position
	next := s.nextOffset
	s.mu.RUnlock()

	if startOffset < s.baseOffset || startOffset > next {
		return nil, OffsetOutOfRangeError{Offset: startOffset, FirstOffset: s.baseOffset, LastOffset: next}
	}
	if startOffset == next {
		return nil, nil
	}

	startPos, firstLen, err := s.scanTo(startOffset, end)
	if err != nil {
		return nil, err
	}

	endPos := end
	if maxOffset < next {
		endPos, _, err = s.scanTo(maxOffset, end)
		if err != nil {
			return nil, err
		}
	}

	length := maxBytes
	if avail := endPos - startPos; length > avail {
		length = avail
	}
	if length < firstLen {
		length = firstLen
	}

	buf := make([]byte, length)
	n, err := s.file.ReadAt(buf, startPos)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read segment %s: %w", s.path, err)
	}
	return buf[:n], nil
}

// scanTo locates the file position of the record holding the given offset.
// It starts from the sparse index's nearest entry and scans frame headers
// forward; the index is a hint and the scan continues past its last entry.
func (s *segment) scanTo(offset, limit int64) (pos, frameLen int64, err error) {
	pos = s.index.lookup(offset)
	var hdr [frameHeaderLength]byte
	for pos+frameHeaderLength <= limit {
		if _, err := s.file.ReadAt(hdr[:], pos); err != nil {
			return 0, 0, fmt.Errorf("scan segment %s: %w", s.path, err)
		}
		recOffset := int64(binary.BigEndian.Uint64(hdr[0:]))
		bodyLen := int64(binary.BigEndian.Uint32(hdr[8:]))
		frame := frameHeaderLength + bodyLen
		if recOffset == offset {
			return pos, frame, nil
		}
		if recOffset > offset {
			return 0, 0, CorruptRecordError{Offset: recOffset, Reason: "offset gap in segment"}
		}
		pos += frame
	}
	return limit, 0, nil
}

// recover rebuilds the index and tail state by scanning every record frame,
// truncating the data file at the first corruption or torn write. Returns
// the number of bytes dropped.
func (s *segment) recover(maxIndexSize int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.index.reset(maxIndexSize); err != nil {
		return 0, err
	}

	fi, err := s.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat segment %s: %w", s.path, err)
	}
	fileSize := fi.Size()

	var pos int64
	bytesSince := 0
	expected := s.baseOffset
	for pos < fileSize {
		remaining := fileSize - pos
		chunk := remaining
		if chunk > int64(32*1024) {
			chunk = 32 * 1024
		}
		buf := make([]byte, chunk)
		if _, err := s.file.ReadAt(buf, pos); err != nil && err != io.EOF {
			return 0, fmt.Errorf("recover segment %s: %w", s.path, err)
		}
		rec, n, decErr := decodeRecord(buf)
		if decErr == errIncompleteRecord && int64(len(buf)) < remaining {
			// The record may just be larger than the chunk; retry with the
			// frame's declared size.
			if len(buf) >= frameHeaderLength {
				bodyLen := int64(binary.BigEndian.Uint32(buf[8:]))
				if frameHeaderLength+bodyLen <= remaining {
					big := make([]byte, frameHeaderLength+bodyLen)
					if _, err := s.file.ReadAt(big, pos); err != nil {
						return 0, fmt.Errorf("recover segment %s: %w", s.path, err)
					}
					rec, n, decErr = decodeRecord(big)
				}
			}
		}
		if decErr != nil || rec.offset != expected {
			break
		}
		if bytesSince >= s.indexIntervalBytes && !s.index.isFull() {
			s.index.append(rec.offset, pos)
			bytesSince = 0
		}
		bytesSince += n
		pos += int64(n)
		expected = rec.offset + 1
	}

	dropped := fileSize - pos
	if dropped > 0 {
		log.Warn("truncating segment %s to %d bytes, dropping %d bytes of corrupt or torn records",
			s.path, pos, dropped)
		if err := s.file.Truncate(pos); err != nil {
			return 0, fmt.Errorf("truncate segment %s: %w", s.path, err)
		}
	}
	s.position = pos
	s.nextOffset = expected
	s.bytesSinceIndexEntry = bytesSince
	return dropped, nil
}

// truncateTo drops records at and beyond offset. Only called with offsets
// inside this segment's range.
func (s *segment) truncateTo(offset int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pos int64
	if offset > s.baseOffset {
		var err error
		pos, _, err = s.scanTo(offset, s.position)
		if err != nil {
			return err
		}
	}
	if err := s.file.Truncate(pos); err != nil {
		return fmt.Errorf("truncate segment %s: %w", s.path, err)
	}
	s.index.truncateTo(offset)
	s.position = pos
	s.nextOffset = offset
	s.bytesSinceIndexEntry = 0
	return nil
}

func (s *segment) flush() error {
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("sync segment %s: %w", s.path, err)
	}
	if err := s.index.sync(); err != nil {
		return fmt.Errorf("sync index of segment %s: %w", s.path, err)
	}
	return nil
}

// seal trims the index after the segment stops being the active tail. The
// data file stays open for reads.
func (s *segment) seal() error {
	return s.index.seal()
}

func (s *segment) sizeBytes() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.position
}

func (s *segment) endOffset() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextOffset
}

func (s *segment) lastOffset() int64 {
	return s.endOffset() - 1
}

// setEndOffset fixes up a sealed segment's end from its successor's base
// offset when the log is reopened.
func (s *segment) setEndOffset(offset int64) {
	s.mu.Lock()
	s.nextOffset = offset
	s.mu.Unlock()
}

func (s *segment) createdMillis() int64 {
	return s.created
}

// lastModifiedMillis reads the data file's mtime; retention uses it for the
// age pass.
func (s *segment) lastModifiedMillis() int64 {
	fi, err := os.Stat(s.path)
	if err != nil {
		return 0
	}
	return fi.ModTime().UnixMilli()
}

func (s *segment) close() error {
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("close segment %s: %w", s.path, err)
	}
	return s.index.close()
}

// markDeleted renames both files with the deleted suffix. The file handles
// stay open so in-flight reads complete; the caller closes the segment and
// unlinks the renamed files after the configured delay.
func (s *segment) markDeleted() ([]string, error) {
	indexPath := indexFilePath(filepath.Dir(s.path), s.baseOffset)
	renamed := make([]string, 0, 2)
	for _, p := range []string{s.path, indexPath} {
		target := p + deletedFileSuffix
		if err := os.Rename(p, target); err != nil {
			return renamed, fmt.Errorf("mark %s deleted: %w", p, err)
		}
		renamed = append(renamed, target)
	}
	return renamed, nil
}
