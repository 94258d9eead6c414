package journal

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/intakehq/journalstore/utils/log"
)

// committedOffsetFile is the sidecar holding the highest offset the
// downstream consumer has durably processed, as decimal ASCII.
const committedOffsetFile = "graylog2-committed-read-offset"

// uncommittedSentinel marks a tracker that has never been advanced; the
// sidecar is not written while the tracker holds it.
const uncommittedSentinel = math.MinInt64

// commitTracker holds the monotonic committed read offset. Concurrent
// markers converge to the maximum; the value never goes backwards within a
// process lifetime.
type commitTracker struct {
	committed atomic.Int64
}

func newCommitTracker() *commitTracker {
	t := &commitTracker{}
	t.committed.Store(uncommittedSentinel)
	return t
}

// markCommitted stores max(current, offset) with a CAS loop. Callers racing
// with a lower offset are silently ignored.
func (t *commitTracker) markCommitted(offset int64) {
	spins := 0
	for {
		prev := t.committed.Load()
		next := prev
		if offset > prev {
			next = offset
		}
		if t.committed.CompareAndSwap(prev, next) {
			return
		}
		spins++
		if spins%10 == 0 {
			log.Warn("committing journal offset spins %d times now, this might be a bug. Continuing to try update.",
				spins)
		}
	}
}

func (t *commitTracker) get() int64 {
	return t.committed.Load()
}

// set seeds the tracker from the sidecar at startup.
func (t *commitTracker) set(offset int64) {
	t.committed.Store(offset)
}

// persist writes the committed offset to path, fsyncing before returning.
// Nothing is written while the tracker is at the sentinel. Sync failures are
// logged and swallowed: losing up to one persist interval of commit progress
// only causes idempotent re-reads downstream.
func (t *commitTracker) persist(path string) {
	offset := t.committed.Load()
	if offset == uncommittedSentinel {
		return
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		log.Error("cannot write committed offset file %s: %v", path, err)
		return
	}
	if _, err := f.WriteString(strconv.FormatInt(offset, 10)); err != nil {
		log.Error("cannot write committed offset file %s: %v", path, err)
		f.Close()
		return
	}
	if err := f.Sync(); err != nil {
		log.Error("cannot sync %s to disk, continuing anyway, but there is no guarantee the file has been written: %v",
			path, err)
	}
	if err := f.Close(); err != nil {
		log.Error("cannot close committed offset file %s: %v", path, err)
	}
}

// loadCommittedOffset reads the sidecar's first line. Returns found=false
// when the file does not exist or is empty.
func loadCommittedOffset(path string) (offset int64, found bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("open committed offset file %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return 0, false, sc.Err()
	}
	line := strings.TrimSpace(sc.Text())
	if line == "" {
		return 0, false, nil
	}
	offset, err = strconv.ParseInt(line, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("committed offset file %s holds %q: %w", path, line, err)
	}
	return offset, true, nil
}
