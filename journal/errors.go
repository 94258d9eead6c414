package journal

import (
	"errors"
	"fmt"
)

// errSegmentFull is returned by segment.append when the active segment has no
// room left; the log responds by rolling.
var errSegmentFull = errors.New("segment full")

// OffsetOutOfRangeError reports a read or truncate outside the journal's
// current offset range. FirstOffset is the next valid offset a reader can
// resume from.
type OffsetOutOfRangeError struct {
	Offset      int64
	FirstOffset int64
	LastOffset  int64
}

func (e OffsetOutOfRangeError) Error() string {
	return fmt.Sprintf("offset %d out of range [%d, %d)", e.Offset, e.FirstOffset, e.LastOffset)
}

// CorruptRecordError reports a record whose checksum or length prefixes do
// not match its contents.
type CorruptRecordError struct {
	Offset int64
	Reason string
}

func (e CorruptRecordError) Error() string {
	return fmt.Sprintf("corrupt record at offset %d: %s", e.Offset, e.Reason)
}

// MessageSizeError reports a key or payload exceeding the 32-bit length
// prefix of the wire format.
type MessageSizeError int

func (e MessageSizeError) Error() string {
	return fmt.Sprintf("message of %d bytes exceeds the maximum record field size", int(e))
}

// LockFailedError means the journal directory is held by another process.
type LockFailedError string

func (msg LockFailedError) Error() string {
	return fmt.Sprintf("cannot lock journal directory %s: held by another process", string(msg))
}

// ConfigError is a fatal journal configuration problem.
type ConfigError string

func (msg ConfigError) Error() string {
	return "invalid journal configuration: " + string(msg)
}
