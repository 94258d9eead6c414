package metrics

import (
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/intakehq/journalstore/utils/log"
)

// Setter is an interface for prometheus metrics to improve unit-testability.
type Setter interface {
	Set(m float64)
}

// StartDiskUsageMonitor samples the total disk usage of the journal
// directory at each interval and publishes it through s. It runs until stop
// is closed.
func StartDiskUsageMonitor(s Setter, journalDir string, interval time.Duration, stop <-chan struct{}) {
	s.Set(float64(diskUsage(journalDir)))

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			s.Set(float64(diskUsage(journalDir)))
		}
	}
}

func diskUsage(path string) int64 {
	var totalSize int64
	err := filepath.Walk(path, func(filePath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			// Index files are preallocated sparsely, so count blocks
			// actually in use rather than the file sizes.
			if stat, ok := info.Sys().(*syscall.Stat_t); ok {
				// st_blocks counts 512-byte units.
				totalSize += int64(stat.Blocks) * 512
			} else {
				totalSize += info.Size()
			}
		}
		return nil
	})
	if err != nil {
		log.Error("get the disk usage of the directory %s for monitoring: %v", path, err)
	}
	return totalSize
}
