package store

import (
	"encoding/binary"
	"fmt"
	"os"
)

const (
	indexedWidth       = 12 // [pos u64][len u32]
	slicedIndexedWidth = 16 // [chunk u32][pos u64][len u32]
)

// indexer maintains the side index of a FileLog: one fixed-width record per
// sequence number at offset (seq-1)*width. Records never written read back as
// zero and are treated as missing.
type indexer struct {
	path   string
	sliced bool
	file   *os.File
}

func newIndexer(path string, sliced bool) *indexer {
	return &indexer{path: path, sliced: sliced}
}

func (x *indexer) width() int64 {
	if x.sliced {
		return slicedIndexedWidth
	}
	return indexedWidth
}

func (x *indexer) encode(e IndexEntry) []byte {
	buf := make([]byte, x.width())
	if x.sliced {
		binary.BigEndian.PutUint32(buf[0:4], e.ChunkID)
		binary.BigEndian.PutUint64(buf[4:12], e.Position)
		binary.BigEndian.PutUint32(buf[12:16], e.Length)
		return buf
	}
	binary.BigEndian.PutUint64(buf[0:8], e.Position)
	binary.BigEndian.PutUint32(buf[8:12], e.Length)
	return buf
}

func (x *indexer) decode(buf []byte) IndexEntry {
	if x.sliced {
		return IndexEntry{
			ChunkID:  binary.BigEndian.Uint32(buf[0:4]),
			Position: binary.BigEndian.Uint64(buf[4:12]),
			Length:   binary.BigEndian.Uint32(buf[12:16]),
		}
	}
	return IndexEntry{
		Position: binary.BigEndian.Uint64(buf[0:8]),
		Length:   binary.BigEndian.Uint32(buf[8:12]),
	}
}

func (x *indexer) open() error {
	f, err := os.OpenFile(x.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	x.file = f
	return nil
}

func (x *indexer) close() error {
	if x.file == nil {
		return nil
	}
	err := x.file.Close()
	x.file = nil
	return err
}

func (x *indexer) size() (int64, error) {
	info, err := x.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat index: %w", err)
	}
	return info.Size(), nil
}

// count returns the number of index slots, or ok=false when the file size is
// not a whole number of records.
func (x *indexer) count() (uint64, bool, error) {
	size, err := x.size()
	if err != nil {
		return 0, false, err
	}
	if size%x.width() != 0 {
		return 0, false, nil
	}
	return uint64(size / x.width()), true, nil
}

func (x *indexer) write(seq uint64, e IndexEntry) error {
	off := int64(seq-1) * x.width()
	if _, err := x.file.WriteAt(x.encode(e), off); err != nil {
		return fmt.Errorf("write index entry %d: %w", seq, err)
	}
	return nil
}

func (x *indexer) lookup(seq uint64) (IndexEntry, bool, error) {
	if seq < 1 {
		return IndexEntry{}, false, nil
	}
	size, err := x.size()
	if err != nil {
		return IndexEntry{}, false, err
	}
	off := int64(seq-1) * x.width()
	if off+x.width() > size {
		return IndexEntry{}, false, nil
	}
	buf := make([]byte, x.width())
	if _, err := x.file.ReadAt(buf, off); err != nil {
		return IndexEntry{}, false, fmt.Errorf("read index entry %d: %w", seq, err)
	}
	e := x.decode(buf)
	if e.Length == 0 {
		return IndexEntry{}, false, nil
	}
	return e, true, nil
}

func (x *indexer) truncate() error {
	if err := x.file.Truncate(0); err != nil {
		return fmt.Errorf("truncate index: %w", err)
	}
	return nil
}
