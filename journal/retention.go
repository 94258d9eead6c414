package journal

import (
	"sync/atomic"

	"github.com/intakehq/journalstore/utils/clock"
	"github.com/intakehq/journalstore/utils/log"
)

// utilizationWarningPercent is the journal-size utilization above which the
// size pass emits a warning.
const utilizationWarningPercent = 95

// retentionManager deletes segments the journal no longer needs. Each sweep
// runs three passes in a fixed order: by age, by total size, by committed
// offset. No pass ever deletes the active segment, so at least one segment
// always survives.
type retentionManager struct {
	log     *messageLog
	tracker *commitTracker
	clk     clock.Clock
	cfg     Config

	purgedLastSweep atomic.Int32
}

func newRetentionManager(l *messageLog, tracker *commitTracker, clk clock.Clock, cfg Config) *retentionManager {
	return &retentionManager{log: l, tracker: tracker, clk: clk, cfg: cfg}
}

// cleanup runs one full sweep and returns the total number of segments
// deleted across the three passes.
func (r *retentionManager) cleanup() int {
	log.Debug("beginning journal retention sweep")
	startNanos := r.clk.Nanos()

	total := r.cleanupExpiredSegments() +
		r.cleanupSegmentsToMaintainSize() +
		r.cleanupSegmentsToRemoveCommitted()

	r.purgedLastSweep.Store(int32(total))
	log.Debug("retention sweep completed, %d segments deleted in %dms",
		total, (r.clk.Nanos()-startNanos)/1e6)
	return total
}

// purgedInLastSweep reports the total of the most recent completed sweep.
func (r *retentionManager) purgedInLastSweep() int {
	return int(r.purgedLastSweep.Load())
}

// cleanupExpiredSegments removes segments whose last modification is older
// than the retention age.
func (r *retentionManager) cleanupExpiredSegments() int {
	retentionMillis := r.cfg.RetentionAge.Milliseconds()
	now := r.clk.NowMillis()
	return r.log.deleteOldSegments(func(s *segment) bool {
		age := now - s.lastModifiedMillis()
		if age <= retentionMillis {
			return false
		}
		log.Debug("removing segment %020d with age %ds, older than the maximum retention age %ds",
			s.baseOffset, age/1000, retentionMillis/1000)
		return true
	})
}

// cleanupSegmentsToMaintainSize removes the oldest segments until the
// journal fits the size cap again. A negative cap disables the pass.
func (r *retentionManager) cleanupSegmentsToMaintainSize() int {
	retentionBytes := r.cfg.RetentionBytes
	currentSize := r.log.size()

	if retentionBytes > 0 {
		utilization := currentSize * 100 / retentionBytes
		if utilization > utilizationWarningPercent {
			log.Warn("journal utilization (%d%%) has gone over %d%%.", utilization, utilizationWarningPercent)
		}
	}
	if retentionBytes < 0 || currentSize < retentionBytes {
		return 0
	}

	diff := currentSize - retentionBytes
	return r.log.deleteOldSegments(func(s *segment) bool {
		size := s.sizeBytes()
		if diff-size < 0 {
			return false
		}
		diff -= size
		log.Debug("removing segment %020d of %d bytes to shrink the journal towards its %d byte cap",
			s.baseOffset, size, retentionBytes)
		return true
	})
}

// cleanupSegmentsToRemoveCommitted removes segments whose every offset is
// below the committed offset; the segment holding the committed offset
// itself is kept. Skipped when fewer than two segments exist.
func (r *retentionManager) cleanupSegmentsToRemoveCommitted() int {
	if r.log.numberOfSegments() <= 1 {
		log.Debug("the journal is already minimal at %d segment(s), not removing committed segments",
			r.log.numberOfSegments())
		return 0
	}
	committed := r.tracker.get()
	return r.log.deleteOldSegments(func(s *segment) bool {
		// Keep every segment that still contains an offset at or beyond
		// the committed one.
		if s.endOffset() > committed {
			return false
		}
		log.Debug("removing segment %020d, its highest offset %d is before the committed offset %d",
			s.baseOffset, s.lastOffset(), committed)
		return true
	})
}
