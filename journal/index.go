package journal

import (
	"encoding/binary"
	"fmt"
	"os"
	"sort"
	"sync"

	"golang.org/x/sys/unix"
)

// indexEntrySize is the fixed size of one sparse index entry:
// relative offset (u32) followed by file position (u32).
const indexEntrySize = 8

// offsetIndex is the memory-mapped sparse index accompanying a segment data
// file. Entries map record offsets (relative to the segment base) to file
// positions, one entry roughly every indexInterval bytes of data. The index
// is a hint only; segment reads always scan forward from the returned
// position and never assume the index is complete.
//
// A zeroed slot terminates the entry region: a real entry never has file
// position 0, because the first record of a segment is not indexed.
type offsetIndex struct {
	mu sync.RWMutex

	file       *os.File
	path       string
	baseOffset int64
	mmap       []byte
	entries    int
}

func openIndex(path string, baseOffset int64, maxSizeBytes int) (*offsetIndex, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open index %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat index %s: %w", path, err)
	}

	size := fi.Size()
	if size == 0 {
		size = roundDownToEntry(int64(maxSizeBytes))
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, fmt.Errorf("size index %s: %w", path, err)
		}
	} else if size%indexEntrySize != 0 {
		// A torn write can leave a ragged tail; drop it.
		size = roundDownToEntry(size)
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, fmt.Errorf("trim index %s: %w", path, err)
		}
	}

	idx := &offsetIndex{file: f, path: path, baseOffset: baseOffset}
	if err := idx.remap(size); err != nil {
		f.Close()
		return nil, err
	}
	idx.entries = idx.scanEntries()
	return idx, nil
}

func roundDownToEntry(n int64) int64 {
	return n - n%indexEntrySize
}

func (idx *offsetIndex) remap(size int64) error {
	if idx.mmap != nil {
		if err := unix.Munmap(idx.mmap); err != nil {
			return fmt.Errorf("munmap index %s: %w", idx.path, err)
		}
		idx.mmap = nil
	}
	if size == 0 {
		return nil
	}
	m, err := unix.Mmap(int(idx.file.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmap index %s: %w", idx.path, err)
	}
	idx.mmap = m
	return nil
}

func (idx *offsetIndex) scanEntries() int {
	n := 0
	for ; (n+1)*indexEntrySize <= len(idx.mmap); n++ {
		rel := binary.BigEndian.Uint32(idx.mmap[n*indexEntrySize:])
		pos := binary.BigEndian.Uint32(idx.mmap[n*indexEntrySize+4:])
		if rel == 0 && pos == 0 {
			break
		}
	}
	return n
}

func (idx *offsetIndex) entryAt(i int) (relOffset, position uint32) {
	return binary.BigEndian.Uint32(idx.mmap[i*indexEntrySize:]),
		binary.BigEndian.Uint32(idx.mmap[i*indexEntrySize+4:])
}

// append records that the record at offset starts at the given data-file
// position. A full index drops the entry; the index is a lookup hint, never
// an exhaustive map.
func (idx *offsetIndex) append(offset, position int64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	slot := idx.entries * indexEntrySize
	if slot+indexEntrySize > len(idx.mmap) {
		return
	}
	binary.BigEndian.PutUint32(idx.mmap[slot:], uint32(offset-idx.baseOffset))
	binary.BigEndian.PutUint32(idx.mmap[slot+4:], uint32(position))
	idx.entries++
}

func (idx *offsetIndex) isFull() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return (idx.entries+1)*indexEntrySize > len(idx.mmap)
}

// lookup returns the data-file position of the greatest indexed offset that
// is <= target, or 0 when no entry qualifies.
func (idx *offsetIndex) lookup(target int64) int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.entries == 0 || target < idx.baseOffset {
		return 0
	}
	rel := target - idx.baseOffset
	// First entry with relOffset > rel; the predecessor is the answer.
	n := sort.Search(idx.entries, func(i int) bool {
		entryRel, _ := idx.entryAt(i)
		return int64(entryRel) > rel
	})
	if n == 0 {
		return 0
	}
	_, pos := idx.entryAt(n - 1)
	return int64(pos)
}

// truncateTo drops entries for offsets at and beyond the given offset.
func (idx *offsetIndex) truncateTo(offset int64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	rel := offset - idx.baseOffset
	n := sort.Search(idx.entries, func(i int) bool {
		entryRel, _ := idx.entryAt(i)
		return int64(entryRel) >= rel
	})
	for i := n; i < idx.entries; i++ {
		slot := i * indexEntrySize
		binary.BigEndian.PutUint32(idx.mmap[slot:], 0)
		binary.BigEndian.PutUint32(idx.mmap[slot+4:], 0)
	}
	idx.entries = n
}

// reset discards all entries and regrows the file to maxSizeBytes. Used when
// a reopened segment is recovered and its index is rebuilt from a data-file
// scan.
func (idx *offsetIndex) reset(maxSizeBytes int) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	size := roundDownToEntry(int64(maxSizeBytes))
	if err := idx.remap(0); err != nil {
		return err
	}
	if err := idx.file.Truncate(size); err != nil {
		return fmt.Errorf("size index %s: %w", idx.path, err)
	}
	if err := idx.remap(size); err != nil {
		return err
	}
	for i := range idx.mmap {
		idx.mmap[i] = 0
	}
	idx.entries = 0
	return nil
}

func (idx *offsetIndex) sync() error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.mmap == nil {
		return nil
	}
	return unix.Msync(idx.mmap, unix.MS_SYNC)
}

// seal trims the file to its used size. Called when the owning segment stops
// accepting appends.
func (idx *offsetIndex) seal() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	used := int64(idx.entries * indexEntrySize)
	if err := idx.remap(0); err != nil {
		return err
	}
	if err := idx.file.Truncate(used); err != nil {
		return fmt.Errorf("trim index %s: %w", idx.path, err)
	}
	return idx.remap(used)
}

func (idx *offsetIndex) close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	used := int64(idx.entries * indexEntrySize)
	if err := idx.remap(0); err != nil {
		return err
	}
	if err := idx.file.Truncate(used); err != nil {
		idx.file.Close()
		return fmt.Errorf("trim index %s: %w", idx.path, err)
	}
	return idx.file.Close()
}
