package journal

import "fmt"

// ThrottleState is a snapshot of the journal's pressure-relevant state,
// published for external backpressure deciders. The journal itself never
// consumes it.
type ThrottleState struct {
	UncommittedJournalEntries int64
	AppendEventsPerSec        int64
	ReadEventsPerSec          int64
	JournalSize               int64
	JournalSizeLimit          int64
	OldestSegment             int64 // millis since epoch
	UtilizationPercent        float64
}

func (t ThrottleState) String() string {
	return fmt.Sprintf(
		"ThrottleState{uncommitted=%d, append/s=%d, read/s=%d, size=%d/%d (%.1f%%), oldestSegment=%d}",
		t.UncommittedJournalEntries, t.AppendEventsPerSec, t.ReadEventsPerSec,
		t.JournalSize, t.JournalSizeLimit, t.UtilizationPercent, t.OldestSegment)
}
