package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// slicer splits the data log into numbered chunk files <base>.<id>, ids
// starting at 1. Historical chunks are opened read-only on demand and cached.
type slicer struct {
	base    string
	maxSize int64
	current uint32

	mu      sync.Mutex
	readers map[uint32]*os.File
}

func newSlicer(base string, maxSize int64) *slicer {
	return &slicer{base: base, maxSize: maxSize, readers: make(map[uint32]*os.File)}
}

func (s *slicer) chunkPath(id uint32) string {
	return s.base + "." + strconv.FormatUint(uint64(id), 10)
}

// chunks returns the ids of existing chunk files in ascending order.
func (s *slicer) chunks() ([]uint32, error) {
	matches, err := filepath.Glob(s.base + ".*")
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	prefix := s.base + "."
	ids := make([]uint32, 0, len(matches))
	for _, m := range matches {
		id, err := strconv.ParseUint(strings.TrimPrefix(m, prefix), 10, 32)
		if err != nil || id == 0 {
			continue
		}
		ids = append(ids, uint32(id))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// discover sets current to the highest existing chunk, or 1.
func (s *slicer) discover() error {
	ids, err := s.chunks()
	if err != nil {
		return err
	}
	s.current = 1
	if len(ids) > 0 {
		s.current = ids[len(ids)-1]
	}
	return nil
}

func (s *slicer) shouldRoll(position int64) bool {
	return position > s.maxSize
}

func (s *slicer) reader(id uint32) (*os.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f, ok := s.readers[id]; ok {
		return f, nil
	}
	f, err := os.Open(s.chunkPath(id))
	if err != nil {
		return nil, fmt.Errorf("open chunk %d: %w", id, err)
	}
	s.readers[id] = f
	return f, nil
}

func (s *slicer) closeReaders() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, f := range s.readers {
		f.Close()
		delete(s.readers, id)
	}
}
