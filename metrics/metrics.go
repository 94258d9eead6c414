package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	namespace = "journalstore"
	subsystem = "journal"
)

// JournalSource exposes the journal gauges' backing state. The journal
// implements it; registering through an interface keeps the metric wiring
// out of the engine.
type JournalSource interface {
	Size() int64
	GetLogEndOffset() int64
	NumberOfSegments() int
	UnflushedMessages() int64
	RecoveryPoint() int64
	LastFlushTime() int64
	UncommittedEntries() int64
	OldestSegmentTimestamp() int64
}

// Journal bundles the journal's metric instruments. Pass a nil Registerer
// to keep the instruments unregistered (useful in tests).
type Journal struct {
	MessagesWritten prometheus.Counter
	MessagesRead    prometheus.Counter
	WriteTime       prometheus.Histogram
	ReadTime        prometheus.Histogram
}

// NewJournal creates the journal's instruments and registers the gauges
// backed by src.
func NewJournal(reg prometheus.Registerer, src JournalSource) *Journal {
	f := promauto.With(reg)

	j := &Journal{
		MessagesWritten: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_written_total",
			Help:      "Number of messages appended to the journal",
		}),
		MessagesRead: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_read_total",
			Help:      "Number of messages read from the journal",
		}),
		WriteTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "write_duration_seconds",
			Help:      "Journal append latency",
		}),
		ReadTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "read_duration_seconds",
			Help:      "Journal read latency",
		}),
	}

	gauge := func(name, help string, value func() float64) {
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, value)
	}
	gauge("uncommitted_messages", "Messages written but not yet committed by the consumer",
		func() float64 { return float64(src.UncommittedEntries()) })
	gauge("size_bytes", "Journal size in bytes, excluding index files",
		func() float64 { return float64(src.Size()) })
	gauge("log_end_offset", "Offset the next appended message will receive",
		func() float64 { return float64(src.GetLogEndOffset()) })
	gauge("number_of_segments", "Number of on-disk segments",
		func() float64 { return float64(src.NumberOfSegments()) })
	gauge("unflushed_messages", "Messages appended but not yet fsynced",
		func() float64 { return float64(src.UnflushedMessages()) })
	gauge("recovery_point", "Highest offset known to be durable on disk",
		func() float64 { return float64(src.RecoveryPoint()) })
	gauge("last_flush_time", "Wall-clock time of the last flush, in milliseconds since the epoch",
		func() float64 { return float64(src.LastFlushTime()) })
	gauge("oldest_segment_timestamp", "Creation time of the oldest segment, in milliseconds since the epoch",
		func() float64 { return float64(src.OldestSegmentTimestamp()) })

	return j
}

// Daemon carries process-level metrics for the journalstore daemon.
type Daemon struct {
	StartupTime    prometheus.Gauge
	JournalDiskUse prometheus.Gauge
}

func NewDaemon(reg prometheus.Registerer) *Daemon {
	f := promauto.With(reg)
	return &Daemon{
		StartupTime: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "daemon",
			Name:      "startup_seconds",
			Help:      "Seconds taken by the startup",
		}),
		JournalDiskUse: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "daemon",
			Name:      "journal_disk_usage_bytes",
			Help:      "Total disk usage of the journal directory",
		}),
	}
}
