package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/intakehq/journalstore/utils/clock"
	"github.com/intakehq/journalstore/utils/log"
)

// messageLog is the append/read engine over the segment set. It owns offset
// assignment, the roll policy, the recovery point and the flush policy.
// Appends, truncation and segment removal are serialized under mu; reads
// take the read lock only long enough to locate a segment.
type messageLog struct {
	dir string
	cfg Config
	clk clock.Clock

	mu            sync.RWMutex
	segments      segmentSet
	recoveryPoint int64
	lastFlush     int64 // millis
}

func openMessageLog(cfg Config, clk clock.Clock) (*messageLog, error) {
	l := &messageLog{
		dir: cfg.Directory,
		cfg: cfg,
		clk: clk,
	}

	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory %s: %w", l.dir, err)
	}
	removeStrayDeleted(l.dir)

	bases, err := listSegmentBases(l.dir)
	if err != nil {
		return nil, err
	}

	if len(bases) == 0 {
		s, err := createSegment(l.dir, 0, cfg.SegmentBytes, cfg.IndexIntervalBytes, cfg.MaxIndexSizeBytes, clk)
		if err != nil {
			return nil, err
		}
		l.segments.add(s)
		l.lastFlush = clk.NowMillis()
		return l, nil
	}

	for _, base := range bases {
		s, err := openSegment(l.dir, base, cfg.SegmentBytes, cfg.IndexIntervalBytes, cfg.MaxIndexSizeBytes, clk)
		if err != nil {
			return nil, err
		}
		l.segments.add(s)
	}
	// Sealed segments cover exactly the range up to their successor's base.
	segs := l.segments.view()
	for i := 0; i < len(segs)-1; i++ {
		segs[i].setEndOffset(segs[i+1].baseOffset)
	}

	checkpoints, err := readRecoveryCheckpoint(l.dir)
	if err != nil {
		log.Error("cannot read recovery checkpoint, rescanning all segments: %v", err)
		checkpoints = map[string]int64{}
	}
	l.recoveryPoint = checkpoints[journalPartition]

	if err := l.recover(); err != nil {
		return nil, err
	}
	l.lastFlush = clk.NowMillis()
	return l, nil
}

// recover re-validates every record past the recovery point. Segments wholly
// below the recovery point are trusted; the segment containing it and all
// later ones are CRC-scanned and truncated at the first invalid record. A
// segment that comes up short orphans everything after it.
func (l *messageLog) recover() error {
	segs := l.segments.view()

	firstToScan := sort.Search(len(segs), func(i int) bool {
		return segs[i].endOffset() > l.recoveryPoint
	})
	if firstToScan == len(segs) {
		// The checkpoint may run ahead of reality if the tail segment was
		// truncated externally; always scan the tail.
		firstToScan = len(segs) - 1
	}

	for i := firstToScan; i < len(segs); i++ {
		s := segs[i]
		dropped, err := s.recover(l.cfg.MaxIndexSizeBytes)
		if err != nil {
			return err
		}
		if dropped > 0 && i < len(segs)-1 {
			orphaned := l.segments.removeFrom(segs[i+1].baseOffset)
			log.Warn("dropping %d journal segments orphaned by truncation of segment %020d",
				len(orphaned), s.baseOffset)
			for _, o := range orphaned {
				l.asyncDelete(o)
			}
			break
		}
	}

	if leo := l.segments.active().endOffset(); l.recoveryPoint > leo {
		l.recoveryPoint = leo
	}
	return nil
}

func removeStrayDeleted(dir string) {
	stray, err := filepath.Glob(filepath.Join(dir, "*"+deletedFileSuffix))
	if err != nil {
		return
	}
	for _, p := range stray {
		if err := os.Remove(p); err != nil {
			log.Warn("cannot remove leftover file %s: %v", p, err)
		}
	}
}

func listSegmentBases(dir string) ([]int64, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*"+logFileSuffix))
	if err != nil {
		return nil, fmt.Errorf("list segments in %s: %w", dir, err)
	}
	bases := make([]int64, 0, len(paths))
	for _, p := range paths {
		name := strings.TrimSuffix(filepath.Base(p), logFileSuffix)
		base, err := strconv.ParseInt(name, 10, 64)
		if err != nil {
			log.Warn("ignoring file with non-offset name in journal directory: %s", p)
			continue
		}
		bases = append(bases, base)
	}
	sort.Slice(bases, func(i, j int) bool { return bases[i] < bases[j] })
	return bases, nil
}

// append assigns offsets starting at the current log end offset and writes
// the whole batch, rolling to new segments as needed. Returns the first and
// last offsets assigned.
func (l *messageLog) append(entries []Entry) (first, last int64, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	active := l.segments.active()
	first = active.endOffset()

	recs := make([]record, len(entries))
	for i, e := range entries {
		recs[i] = record{offset: first + int64(i), key: e.Key, payload: e.Payload}
	}

	if l.shouldRoll(active) {
		if active, err = l.roll(); err != nil {
			return 0, 0, err
		}
	}

	remaining := recs
	for len(remaining) > 0 {
		n := l.fitRecords(active, remaining)
		if n == 0 {
			if active, err = l.roll(); err != nil {
				return 0, 0, err
			}
			continue
		}
		if err := active.append(remaining[:n]); err != nil {
			return 0, 0, err
		}
		remaining = remaining[n:]
		if len(remaining) > 0 {
			if active, err = l.roll(); err != nil {
				return 0, 0, err
			}
		}
	}
	last = first + int64(len(entries)) - 1

	if l.unflushed() >= l.cfg.FlushIntervalMessages {
		if err := l.flushLocked(); err != nil {
			log.Error("flush after %d unflushed messages failed: %v", l.unflushed(), err)
		}
	}
	return first, last, nil
}

// fitRecords returns how many leading records fit the segment. An empty
// segment always takes at least one record so oversized records make
// progress.
func (l *messageLog) fitRecords(s *segment, recs []record) int {
	capacity := l.cfg.SegmentBytes - s.sizeBytes()
	empty := s.sizeBytes() == 0
	var acc int64
	n := 0
	for _, r := range recs {
		sz := int64(r.length())
		if acc+sz > capacity {
			if n == 0 && empty {
				return 1
			}
			break
		}
		acc += sz
		n++
	}
	return n
}

func (l *messageLog) shouldRoll(active *segment) bool {
	if active.sizeBytes() == 0 {
		return false
	}
	if l.clk.NowMillis()-active.createdMillis() > l.cfg.SegmentAge.Milliseconds() {
		return true
	}
	return active.index.isFull()
}

// roll seals and flushes the active segment and installs a new one starting
// at the log end offset. Callers hold mu.
func (l *messageLog) roll() (*segment, error) {
	old := l.segments.active()
	if err := old.flush(); err != nil {
		return nil, err
	}
	if err := old.seal(); err != nil {
		return nil, err
	}
	if end := old.endOffset(); l.recoveryPoint < end {
		l.recoveryPoint = end
	}

	s, err := createSegment(l.dir, old.endOffset(), l.cfg.SegmentBytes,
		l.cfg.IndexIntervalBytes, l.cfg.MaxIndexSizeBytes, l.clk)
	if err != nil {
		return nil, err
	}
	l.segments.add(s)
	log.Debug("rolled journal segment, new base offset %d", s.baseOffset)
	return s, nil
}

// read returns raw record frames starting at startOffset, bounded by
// maxBytes and the exclusive maxOffset. At most one segment is consulted per
// call; callers advance their cursor and call again.
func (l *messageLog) read(startOffset, maxBytes, maxOffset int64) ([]byte, error) {
	l.mu.RLock()
	leo := l.segments.active().endOffset()
	start := l.segments.first().baseOffset
	if startOffset == leo {
		l.mu.RUnlock()
		return nil, nil
	}
	if startOffset < start || startOffset > leo {
		l.mu.RUnlock()
		return nil, OffsetOutOfRangeError{Offset: startOffset, FirstOffset: start, LastOffset: leo}
	}
	seg := l.segments.find(startOffset)
	l.mu.RUnlock()

	if seg == nil {
		return nil, OffsetOutOfRangeError{Offset: startOffset, FirstOffset: l.logStartOffset(), LastOffset: leo}
	}
	return seg.read(startOffset, maxBytes, maxOffset)
}

// truncateTo discards every record at and beyond offset.
func (l *messageLog) truncateTo(offset int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	leo := l.segments.active().endOffset()
	start := l.segments.first().baseOffset
	if offset < start || offset > leo {
		return OffsetOutOfRangeError{Offset: offset, FirstOffset: start, LastOffset: leo}
	}
	if offset == leo {
		return nil
	}

	removed := l.segments.removeFrom(offset)
	for _, s := range removed {
		l.asyncDelete(s)
	}

	if l.segments.size() == 0 {
		s, err := createSegment(l.dir, offset, l.cfg.SegmentBytes,
			l.cfg.IndexIntervalBytes, l.cfg.MaxIndexSizeBytes, l.clk)
		if err != nil {
			return err
		}
		l.segments.add(s)
	} else if err := l.segments.active().truncateTo(offset); err != nil {
		return err
	}

	if l.recoveryPoint > offset {
		l.recoveryPoint = offset
	}
	return nil
}

func (l *messageLog) flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flushLocked()
}

func (l *messageLog) flushLocked() error {
	active := l.segments.active()
	if err := active.flush(); err != nil {
		return err
	}
	l.recoveryPoint = active.endOffset()
	l.lastFlush = l.clk.NowMillis()
	return nil
}

// deleteOldSegments walks segments oldest first, removing while the
// predicate holds. The walk stops at the first segment to keep and never
// touches the active segment, so at least one segment always remains.
func (l *messageLog) deleteOldSegments(shouldDelete func(*segment) bool) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	segs := l.segments.view()
	n := 0
	for i, s := range segs {
		if i == len(segs)-1 {
			break
		}
		if !shouldDelete(s) {
			break
		}
		n++
	}
	if n == 0 {
		return 0
	}
	for _, s := range l.segments.removePrefix(n) {
		l.asyncDelete(s)
	}
	return n
}

// asyncDelete renames the segment's files with the deleted suffix and
// unlinks them after the delete delay. Callers hold mu.
func (l *messageLog) asyncDelete(s *segment) {
	renamed, err := s.markDeleted()
	if err != nil {
		log.Error("cannot mark segment %020d for deletion: %v", s.baseOffset, err)
	}
	delay := l.cfg.FileDeleteDelay
	time.AfterFunc(delay, func() {
		if err := s.close(); err != nil {
			log.Debug("closing deleted segment: %v", err)
		}
		for _, p := range renamed {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				log.Warn("cannot delete segment file %s: %v", p, err)
			}
		}
	})
}

func (l *messageLog) checkpoint() error {
	l.mu.RLock()
	rp := l.recoveryPoint
	l.mu.RUnlock()
	return writeRecoveryCheckpoint(l.dir, map[string]int64{journalPartition: rp})
}

func (l *messageLog) logEndOffset() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.segments.active().endOffset()
}

func (l *messageLog) logStartOffset() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.segments.first().baseOffset
}

func (l *messageLog) size() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.segments.totalSize()
}

func (l *messageLog) numberOfSegments() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.segments.size()
}

// unflushed is the number of appended but not yet fsynced records. Callers
// hold at least the read lock.
func (l *messageLog) unflushed() int64 {
	return l.segments.active().endOffset() - l.recoveryPoint
}

func (l *messageLog) unflushedMessages() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.unflushed()
}

func (l *messageLog) recoveryPointOffset() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.recoveryPoint
}

func (l *messageLog) lastFlushTime() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastFlush
}

func (l *messageLog) oldestSegmentCreated() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	oldest := int64(0)
	for _, s := range l.segments.view() {
		if oldest == 0 || s.createdMillis() < oldest {
			oldest = s.createdMillis()
		}
	}
	return oldest
}

func (l *messageLog) segmentsView() []*segment {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.segments.view()
}

func (l *messageLog) close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var firstErr error
	for _, s := range l.segments.view() {
		if err := s.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
