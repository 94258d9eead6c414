package journal

import (
	"fmt"
	"io"
	"os"
)

// DumpSegmentFile decodes every record frame in a segment data file and
// writes one line per record to w. Used by the CLI dump tool to inspect
// journal directories offline. Decoding stops at the first corrupt or torn
// record, which is reported along with its file position.
func DumpSegmentFile(w io.Writer, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read segment %s: %w", path, err)
	}

	var pos int64
	count := 0
	for len(data) > 0 {
		rec, n, err := decodeRecord(data)
		if err == errIncompleteRecord {
			fmt.Fprintf(w, "torn record frame at position %d (%d trailing bytes)\n", pos, len(data))
			break
		}
		if err != nil {
			fmt.Fprintf(w, "corrupt record at position %d: %v\n", pos, err)
			break
		}
		keyLen := -1
		if rec.key != nil {
			keyLen = len(rec.key)
		}
		fmt.Fprintf(w, "offset=%d position=%d keyBytes=%d payloadBytes=%d\n",
			rec.offset, pos, keyLen, len(rec.payload))
		pos += int64(n)
		data = data[n:]
		count++
	}
	fmt.Fprintf(w, "%d records, %d bytes\n", count, pos)
	return nil
}
