package store

import (
	"encoding/binary"
	"errors"
	"io"
)

// Memory-mapped index layout: a 16-byte header [lastPos u64][lastSeq u64]
// followed by 12-byte records [pos u64][len u32] at header+(seq-1)*12.
const (
	mmapHeaderSize = 16
	mmapRecordSize = 12

	// MaxMmapSeqNum is the highest sequence number whose index record lies
	// within a 32-bit signed file offset.
	MaxMmapSeqNum = (1<<31 - mmapHeaderSize) / mmapRecordSize
)

type mmapHeader struct {
	lastPos uint64
	lastSeq uint64
}

func decodeMmapHeader(b []byte) mmapHeader {
	return mmapHeader{
		lastPos: binary.BigEndian.Uint64(b[0:8]),
		lastSeq: binary.BigEndian.Uint64(b[8:16]),
	}
}

func putMmapHeader(b []byte, h mmapHeader) {
	binary.BigEndian.PutUint64(b[0:8], h.lastPos)
	binary.BigEndian.PutUint64(b[8:16], h.lastSeq)
}

func mmapRecordOffset(seq uint64) int64 {
	return mmapHeaderSize + int64(seq-1)*mmapRecordSize
}

func decodeMmapRecord(b []byte) IndexEntry {
	return IndexEntry{
		Position: binary.BigEndian.Uint64(b[0:8]),
		Length:   binary.BigEndian.Uint32(b[8:12]),
	}
}

func putMmapRecord(b []byte, e IndexEntry) {
	binary.BigEndian.PutUint64(b[0:8], e.Position)
	binary.BigEndian.PutUint32(b[8:12], e.Length)
}

// dataEnd returns the length of r[0:size] without trailing zero padding.
func dataEnd(r io.ReaderAt, size int64) (int64, error) {
	buf := make([]byte, tailBlock)
	end := size
	for end > 0 {
		n := int64(tailBlock)
		if n > end {
			n = end
		}
		off := end - n
		if _, err := r.ReadAt(buf[:n], off); err != nil && !errors.Is(err, io.EOF) {
			return 0, err
		}
		for i := n - 1; i >= 0; i-- {
			if buf[i] != 0 {
				return off + i + 1, nil
			}
		}
		end = off
	}
	return 0, nil
}

func roundUp(n, step int64) int64 {
	if step <= 0 {
		return n
	}
	return (n + step - 1) / step * step
}
