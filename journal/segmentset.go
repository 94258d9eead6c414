package journal

import "sort"

// segmentSet is the ordered collection of segments forming one logical log.
// It is not internally synchronized; the owning Log serializes every
// mutation and snapshot under its own lock.
type segmentSet struct {
	segments []*segment // ascending base offset
}

func (ss *segmentSet) add(s *segment) {
	ss.segments = append(ss.segments, s)
}

func (ss *segmentSet) size() int {
	return len(ss.segments)
}

func (ss *segmentSet) first() *segment {
	if len(ss.segments) == 0 {
		return nil
	}
	return ss.segments[0]
}

// active returns the tail segment, the only one accepting appends.
func (ss *segmentSet) active() *segment {
	if len(ss.segments) == 0 {
		return nil
	}
	return ss.segments[len(ss.segments)-1]
}

// find returns the segment whose offset range contains the given offset.
func (ss *segmentSet) find(offset int64) *segment {
	n := sort.Search(len(ss.segments), func(i int) bool {
		return ss.segments[i].baseOffset > offset
	})
	if n == 0 {
		return nil
	}
	s := ss.segments[n-1]
	if offset >= s.endOffset() {
		return nil
	}
	return s
}

// view returns a copy of the segment slice for iteration outside the log
// lock.
func (ss *segmentSet) view() []*segment {
	out := make([]*segment, len(ss.segments))
	copy(out, ss.segments)
	return out
}

// removePrefix drops the given number of segments from the front.
func (ss *segmentSet) removePrefix(n int) []*segment {
	removed := ss.segments[:n]
	ss.segments = ss.segments[n:]
	return removed
}

// removeFrom drops every segment with base offset >= offset from the back.
// The returned slice is a copy, so a later add cannot clobber it.
func (ss *segmentSet) removeFrom(offset int64) []*segment {
	n := sort.Search(len(ss.segments), func(i int) bool {
		return ss.segments[i].baseOffset >= offset
	})
	removed := make([]*segment, len(ss.segments)-n)
	copy(removed, ss.segments[n:])
	ss.segments = ss.segments[:n]
	return removed
}

func (ss *segmentSet) totalSize() int64 {
	var total int64
	for _, s := range ss.segments {
		total += s.sizeBytes()
	}
	return total
}
