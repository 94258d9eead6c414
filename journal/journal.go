package journal

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/intakehq/journalstore/metrics"
	"github.com/intakehq/journalstore/utils/clock"
	"github.com/intakehq/journalstore/utils/log"
)

// readMaxBytes caps the total bytes fetched by a single read call.
const readMaxBytes = 5 * 1024 * 1024

// initialJobDelay is how long the background jobs wait after startup before
// their first run, giving the process time to settle.
const initialJobDelay = 30 * time.Second

// Entry is one journal entry to be written: an opaque key (typically the
// message id) and the serialized message payload.
type Entry struct {
	Key     []byte
	Payload []byte
}

// ReadEntry is one decoded journal entry returned by reads.
type ReadEntry struct {
	Key     []byte
	Payload []byte
	Offset  int64
}

// Journal is a durable, append-only, segmented message journal buffering
// entries between a producer and a downstream processor. The producer
// appends; the processor reads in order and acknowledges progress by
// committing a read offset; retention reclaims segments that are old and
// already processed.
type Journal struct {
	cfg Config
	clk clock.Clock
	m   *metrics.Journal

	lock    *dirLock
	log     *messageLog
	tracker *commitTracker
	ret     *retentionManager
	sched   *scheduler

	committedOffsetPath string

	readMu         sync.Mutex
	nextReadOffset atomic.Int64

	throttleState atomic.Pointer[ThrottleState]
	shuttingDown  atomic.Bool
}

// NewJournal opens (or creates) the journal in cfg.Directory: it locks the
// directory, opens all segments, recovers the tail, and seeds the read
// cursor from the committed-offset sidecar. Call Start to launch the
// background jobs and Shutdown to stop them and close the journal.
func NewJournal(cfg Config, clk clock.Clock, reg prometheus.Registerer) (*Journal, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return nil, err
	}
	lock, err := acquireDirLock(cfg.Directory)
	if err != nil {
		return nil, err
	}

	l, err := openMessageLog(cfg, clk)
	if err != nil {
		lock.release()
		return nil, err
	}

	j := &Journal{
		cfg:                 cfg,
		clk:                 clk,
		lock:                lock,
		log:                 l,
		tracker:             newCommitTracker(),
		committedOffsetPath: filepath.Join(cfg.Directory, committedOffsetFile),
	}
	j.ret = newRetentionManager(l, j.tracker, clk, cfg)
	j.sched = newScheduler(j.shuttingDown.Load)
	j.m = metrics.NewJournal(reg, j)

	offset, found, err := loadCommittedOffset(j.committedOffsetPath)
	if err != nil {
		lock.release()
		return nil, err
	}
	if found {
		j.tracker.set(offset)
		j.nextReadOffset.Store(offset + 1)
	}

	log.Info("initialized message journal at %s, offsets [%d, %d)",
		cfg.Directory, l.logStartOffset(), l.logEndOffset())
	return j, nil
}

// Start launches the four periodic background jobs: the dirty-log flusher,
// the recovery-checkpoint writer, the retention sweeper and the
// committed-offset persister.
func (j *Journal) Start() {
	j.sched.schedule(job{
		name:         "dirty-log-flusher",
		initialDelay: initialJobDelay,
		period:       j.cfg.FlushCheckInterval,
		run:          j.flushDirtyLog,
	})
	j.sched.schedule(job{
		name:         "recovery-checkpoint-flusher",
		initialDelay: initialJobDelay,
		period:       j.cfg.FlushCheckpointInterval,
		run: func() {
			if err := j.log.checkpoint(); err != nil {
				log.Error("unable to write recovery checkpoint, will try again: %v", err)
			}
		},
	})
	j.sched.schedule(job{
		name:         "retention-cleaner",
		initialDelay: initialJobDelay,
		period:       j.cfg.RetentionCheckInterval,
		run:          func() { j.ret.cleanup() },
	})
	j.sched.schedule(job{
		name:         "offset-flusher",
		initialDelay: time.Second,
		period:       time.Second,
		run:          func() { j.tracker.persist(j.committedOffsetPath) },
	})
}

// Shutdown stops the background jobs, flushes the active segment, persists
// the committed offset one last time and closes every file.
func (j *Journal) Shutdown() {
	log.Debug("shutting down journal")
	j.shuttingDown.Store(true)
	j.sched.shutdown()

	if err := j.log.flush(); err != nil {
		log.Error("final journal flush failed: %v", err)
	}
	if err := j.log.checkpoint(); err != nil {
		log.Error("final recovery checkpoint write failed: %v", err)
	}
	j.tracker.persist(j.committedOffsetPath)

	if err := j.log.close(); err != nil {
		log.Error("closing journal segments: %v", err)
	}
	j.lock.release()
}

// flushDirtyLog fsyncs the log when it has been dirty for at least the
// flush age.
func (j *Journal) flushDirtyLog() {
	if j.log.unflushedMessages() == 0 {
		return
	}
	sinceFlush := j.clk.NowMillis() - j.log.lastFlushTime()
	if sinceFlush < j.cfg.FlushAge.Milliseconds() {
		return
	}
	log.Debug("flushing journal dirty for %dms", sinceFlush)
	if err := j.log.flush(); err != nil {
		log.Error("unable to flush dirty journal, will try again: %v", err)
	}
}

// CreateEntry builds an entry for a bulk Write.
func (j *Journal) CreateEntry(key, payload []byte) Entry {
	return Entry{Key: key, Payload: payload}
}

// Write appends the entries as one batch and returns the offset assigned to
// the last of them. The batch is assigned a contiguous offset run; batches
// from concurrent writers never interleave.
func (j *Journal) Write(entries []Entry) (int64, error) {
	start := j.clk.Nanos()
	defer func() {
		j.m.WriteTime.Observe(float64(j.clk.Nanos()-start) / float64(time.Second))
	}()

	for _, e := range entries {
		if len(e.Key) > maxFieldLength || len(e.Payload) > maxFieldLength {
			return 0, MessageSizeError(max(len(e.Key), len(e.Payload)))
		}
	}

	first, last, err := j.log.append(entries)
	if err != nil {
		return 0, err
	}
	log.Debug("wrote %d messages to journal, log positions %d to %d", len(entries), first, last)
	j.m.MessagesWritten.Add(float64(len(entries)))
	return last, nil
}

// WriteEntry appends a single entry and returns its offset.
func (j *Journal) WriteEntry(key, payload []byte) (int64, error) {
	return j.Write([]Entry{{Key: key, Payload: payload}})
}

// Read returns up to maximumCount entries from the internal read cursor and
// advances it past the last entry returned.
func (j *Journal) Read(maximumCount int64) ([]ReadEntry, error) {
	j.readMu.Lock()
	defer j.readMu.Unlock()
	return j.readFrom(j.nextReadOffset.Load(), maximumCount)
}

// ReadFrom returns up to maximumCount entries starting at readOffset. The
// internal cursor is moved past the last entry returned.
func (j *Journal) ReadFrom(readOffset, maximumCount int64) ([]ReadEntry, error) {
	j.readMu.Lock()
	defer j.readMu.Unlock()
	return j.readFrom(readOffset, maximumCount)
}

func (j *Journal) readFrom(readOffset, maximumCount int64) ([]ReadEntry, error) {
	if maximumCount < 1 {
		// Always read at least one.
		maximumCount = 1
	}
	if j.shuttingDown.Load() {
		return nil, nil
	}

	start := j.clk.Nanos()
	defer func() {
		j.m.ReadTime.Observe(float64(j.clk.Nanos()-start) / float64(time.Second))
	}()

	if logStart := j.log.logStartOffset(); readOffset < logStart {
		log.Error("read offset %d before start of journal at %d, starting to read from the beginning of the journal",
			readOffset, logStart)
		readOffset = logStart
	}
	maxOffset := readOffset + maximumCount

	// A single log read stops at a segment boundary; keep reading until the
	// count or the byte budget is exhausted.
	entries := make([]ReadEntry, 0, maximumCount)
	cursor := readOffset
	budget := int64(readMaxBytes)
	for int64(len(entries)) < maximumCount && budget > 0 {
		buf, err := j.log.read(cursor, budget, maxOffset)
		if err != nil {
			var oor OffsetOutOfRangeError
			if errors.As(err, &oor) {
				log.Warn("offset %d out of range, no messages available; next valid offset is %d",
					cursor, oor.FirstOffset)
			} else if j.shuttingDown.Load() {
				log.Debug("read failed during shutdown, returning empty batch: %v", err)
			} else {
				return entries, err
			}
			break
		}
		if len(buf) == 0 {
			break
		}

		decoded := 0
		for len(buf) > 0 && int64(len(entries)) < maximumCount {
			rec, n, decErr := decodeRecord(buf)
			if decErr == errIncompleteRecord {
				// Trailing partial record beyond the byte budget; the next
				// read starts at its offset.
				break
			}
			if decErr != nil {
				log.Error("stopping read at undecodable record: %v", decErr)
				break
			}
			entries = append(entries, ReadEntry{Key: rec.key, Payload: rec.payload, Offset: rec.offset})
			j.nextReadOffset.Store(rec.offset + 1)
			budget -= int64(n)
			buf = buf[n:]
			decoded++
		}
		if decoded == 0 {
			break
		}
		cursor = entries[len(entries)-1].Offset + 1
	}

	if len(entries) == 0 {
		log.Debug("no messages available to read for offset interval [%d, %d)", readOffset, maxOffset)
	}
	j.m.MessagesRead.Add(float64(len(entries)))
	return entries, nil
}

// MarkJournalOffsetCommitted records that the consumer has durably processed
// everything up to and including offset. The committed offset is monotonic;
// a background job persists it to the sidecar file.
func (j *Journal) MarkJournalOffsetCommitted(offset int64) {
	j.tracker.markCommitted(offset)
}

// TruncateTo discards all entries at and beyond offset.
func (j *Journal) TruncateTo(offset int64) error {
	return j.log.truncateTo(offset)
}

// Cleanup runs a retention sweep immediately and returns the number of
// segments deleted.
func (j *Journal) Cleanup() int {
	return j.ret.cleanup()
}

// GetPurgedSegmentsInLastRetention reports how many segments the most
// recent retention sweep deleted in total across its three passes.
func (j *Journal) GetPurgedSegmentsInLastRetention() int {
	return j.ret.purgedInLastSweep()
}

func (j *Journal) GetCommittedOffset() int64 { return j.tracker.get() }

func (j *Journal) GetNextReadOffset() int64 { return j.nextReadOffset.Load() }

func (j *Journal) GetLogStartOffset() int64 { return j.log.logStartOffset() }

// GetLogEndOffset returns the offset the next appended entry will receive.
func (j *Journal) GetLogEndOffset() int64 { return j.log.logEndOffset() }

// Size returns the journal size in bytes, excluding index files.
func (j *Journal) Size() int64 { return j.log.size() }

func (j *Journal) NumberOfSegments() int { return j.log.numberOfSegments() }

func (j *Journal) UnflushedMessages() int64 { return j.log.unflushedMessages() }

func (j *Journal) RecoveryPoint() int64 { return j.log.recoveryPointOffset() }

func (j *Journal) LastFlushTime() int64 { return j.log.lastFlushTime() }

func (j *Journal) OldestSegmentTimestamp() int64 { return j.log.oldestSegmentCreated() }

// UncommittedEntries is the number of written entries the consumer has not
// committed yet.
func (j *Journal) UncommittedEntries() int64 {
	committed := j.tracker.get()
	if committed == uncommittedSentinel {
		return j.log.logEndOffset()
	}
	n := j.log.logEndOffset() - 1 - committed
	if n < 0 {
		return 0
	}
	return n
}

// GetThrottleState returns the most recently published throttle snapshot,
// or nil when none has been set.
func (j *Journal) GetThrottleState() *ThrottleState {
	return j.throttleState.Load()
}

func (j *Journal) SetThrottleState(state *ThrottleState) {
	j.throttleState.Store(state)
}
