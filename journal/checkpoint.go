package journal

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	recoveryCheckpointFile = "recovery-point-offset-checkpoint"
	checkpointVersion      = 0

	// journalPartition names the single logical partition this journal
	// manages inside the checkpoint file.
	journalPartition = "messagejournal-0"
)

// writeRecoveryCheckpoint persists the recovery points to the checkpoint
// file in the journal directory. The write goes through a temp file and a
// rename so a crash never leaves a half-written checkpoint.
//
// Format: first line version, second line entry count, then one
// "<partition> <offset>" line per entry.
func writeRecoveryCheckpoint(dir string, offsets map[string]int64) error {
	path := filepath.Join(dir, recoveryCheckpointFile)
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create checkpoint %s: %w", tmp, err)
	}
	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "%d\n%d\n", checkpointVersion, len(offsets))
	for partition, offset := range offsets {
		fmt.Fprintf(w, "%s %d\n", partition, offset)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write checkpoint %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync checkpoint %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close checkpoint %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("install checkpoint %s: %w", path, err)
	}
	return nil
}

// readRecoveryCheckpoint loads the checkpoint file. A missing file yields an
// empty map; the journal then rescans every segment from the first one.
func readRecoveryCheckpoint(dir string) (map[string]int64, error) {
	path := filepath.Join(dir, recoveryCheckpointFile)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]int64{}, nil
		}
		return nil, fmt.Errorf("open checkpoint %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return nil, fmt.Errorf("checkpoint %s: missing version line", path)
	}
	version, err := strconv.Atoi(strings.TrimSpace(sc.Text()))
	if err != nil || version != checkpointVersion {
		return nil, fmt.Errorf("checkpoint %s: unsupported version %q", path, sc.Text())
	}
	if !sc.Scan() {
		return nil, fmt.Errorf("checkpoint %s: missing count line", path)
	}
	count, err := strconv.Atoi(strings.TrimSpace(sc.Text()))
	if err != nil {
		return nil, fmt.Errorf("checkpoint %s: bad count %q", path, sc.Text())
	}

	offsets := make(map[string]int64, count)
	for i := 0; i < count && sc.Scan(); i++ {
		fields := strings.Fields(sc.Text())
		if len(fields) != 2 {
			return nil, fmt.Errorf("checkpoint %s: malformed entry %q", path, sc.Text())
		}
		offset, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("checkpoint %s: bad offset %q", path, fields[1])
		}
		offsets[fields[0]] = offset
	}
	return offsets, sc.Err()
}
