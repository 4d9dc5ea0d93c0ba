//go:build linux || darwin || freebsd

package store

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/roach88/fixsession/internal/fix"
)

// MmapLog keeps both the data file and its index memory-mapped. The data file
// is mapped through a window anchored at the page holding the write position;
// the window is remapped further along the file when fewer than MmapGrowSize
// bytes remain. The index is mapped whole and grows in IndexGrowSize steps.
//
// Retrieval reads data through the file handle, so only index access needs
// the reader/writer lock.
type MmapLog struct {
	path      string
	indexPath string
	opts      Options
	log       *slog.Logger
	pageSize  int64

	mu sync.Mutex

	// set under mu; only the writer touches the data window
	data       *os.File
	dataSize   int64
	window     []byte
	windowBase int64
	position   int64

	// rw guards the index mapping and open
	rw       sync.RWMutex
	index    *os.File
	indexMap []byte
	lastSeq  uint64
	open     bool
}

// NewMmapLog creates a memory-mapped log at path with its index at path+".idx".
func NewMmapLog(path string, opts Options) *MmapLog {
	opts = opts.withDefaults()
	return &MmapLog{
		path:      path,
		indexPath: path + ".idx",
		opts:      opts,
		log:       opts.Logger,
		pageSize:  int64(unix.Getpagesize()),
	}
}

func newMmapLog(path string, opts Options) (MessageLog, error) {
	return NewMmapLog(path, opts), nil
}

func (l *MmapLog) Kind() Kind { return KindMmap }

func (l *MmapLog) Path() string { return l.path }

func (l *MmapLog) Initialize() (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.initializeLocked()
}

func (l *MmapLog) initializeLocked() (uint64, error) {
	l.rw.Lock()
	defer l.rw.Unlock()

	if err := l.closeLocked(); err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return 0, fmt.Errorf("create log dir: %w", err)
	}

	data, err := os.OpenFile(l.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open data file: %w", err)
	}
	index, err := os.OpenFile(l.indexPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		data.Close()
		return 0, fmt.Errorf("open index: %w", err)
	}
	l.data = data
	l.index = index
	l.open = true

	next, err := l.recover()
	if err == nil {
		err = l.remapData(0)
	}
	if err != nil {
		l.closeLocked()
		return 0, fmt.Errorf("recover %s: %w", l.path, err)
	}

	l.log.Debug("message log opened",
		"path", l.path,
		"kind", KindMmap,
		"next_seq", next,
		"position", l.position,
	)
	return next, nil
}

func (l *MmapLog) recover() (uint64, error) {
	info, err := l.data.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat data file: %w", err)
	}
	l.dataSize = info.Size()

	info, err = l.index.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat index: %w", err)
	}
	indexSize := info.Size()

	if indexSize < mmapHeaderSize {
		if indexSize > 0 || l.dataSize > 0 {
			l.log.Warn("message index missing or truncated, starting new index", "path", l.indexPath)
		}
		return l.resetIndex()
	}
	if err := l.mapIndex(indexSize); err != nil {
		return 0, err
	}

	h := decodeMmapHeader(l.indexMap)
	if !l.headerValid(h) {
		l.log.Warn("discarding corrupt message index",
			"path", l.indexPath,
			"last_seq", h.lastSeq,
			"last_pos", h.lastPos,
		)
		return l.resetIndex()
	}

	l.position = int64(h.lastPos)
	l.lastSeq = h.lastSeq
	return h.lastSeq + 1, nil
}

func (l *MmapLog) headerValid(h mmapHeader) bool {
	if h.lastSeq > MaxMmapSeqNum || h.lastPos > uint64(l.dataSize) {
		return false
	}
	if h.lastSeq == 0 {
		return true
	}
	off := mmapRecordOffset(h.lastSeq)
	if off+mmapRecordSize > int64(len(l.indexMap)) {
		return false
	}
	e := decodeMmapRecord(l.indexMap[off:])
	return e.Length > 0 && e.Position+uint64(e.Length)+1 <= h.lastPos
}

// resetIndex recreates an empty index and positions the writer after the
// last non-zero byte of the data file.
func (l *MmapLog) resetIndex() (uint64, error) {
	if err := l.unmapIndex(); err != nil {
		return 0, err
	}
	if err := l.index.Truncate(0); err != nil {
		return 0, fmt.Errorf("truncate index: %w", err)
	}
	size := mmapHeaderSize + l.opts.IndexGrowSize
	if err := l.index.Truncate(size); err != nil {
		return 0, fmt.Errorf("grow index: %w", err)
	}
	if err := l.mapIndex(size); err != nil {
		return 0, err
	}

	end, err := dataEnd(l.data, l.dataSize)
	if err != nil {
		return 0, fmt.Errorf("scan data tail: %w", err)
	}
	l.position = end
	l.lastSeq = 0
	putMmapHeader(l.indexMap, mmapHeader{lastPos: uint64(end)})
	return 1, nil
}

func (l *MmapLog) mapIndex(size int64) error {
	m, err := unix.Mmap(int(l.index.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmap index: %w", err)
	}
	l.indexMap = m
	return nil
}

func (l *MmapLog) unmapIndex() error {
	if l.indexMap == nil {
		return nil
	}
	err := unix.Munmap(l.indexMap)
	l.indexMap = nil
	if err != nil {
		return fmt.Errorf("munmap index: %w", err)
	}
	return nil
}

// growIndex extends the index so the record for seq is mapped.
func (l *MmapLog) growIndex(seq uint64) error {
	need := mmapRecordOffset(seq) + mmapRecordSize
	l.rw.RLock()
	mapped := int64(len(l.indexMap))
	l.rw.RUnlock()
	if need <= mapped {
		return nil
	}

	size := mapped
	for size < need {
		size += l.opts.IndexGrowSize
	}

	l.rw.Lock()
	defer l.rw.Unlock()
	if err := unix.Msync(l.indexMap, unix.MS_SYNC); err != nil {
		return fmt.Errorf("msync index: %w", err)
	}
	if err := l.unmapIndex(); err != nil {
		return err
	}
	if err := l.index.Truncate(size); err != nil {
		return fmt.Errorf("grow index: %w", err)
	}
	if err := l.mapIndex(size); err != nil {
		return err
	}
	l.log.Debug("grew message index", "path", l.indexPath, "size", size)
	return nil
}

// remapData maps a window that can hold n more bytes plus MmapGrowSize of
// headroom, anchored at the page holding the write position.
func (l *MmapLog) remapData(n int64) error {
	if l.window != nil && l.position+n+l.opts.MmapGrowSize <= l.windowBase+int64(len(l.window)) {
		return nil
	}

	base := l.position - l.position%l.pageSize
	length := roundUp(l.position-base+n+l.opts.MmapGrowSize, l.opts.StorageGrowSize)
	if base+length > l.dataSize {
		if err := l.data.Truncate(base + length); err != nil {
			return fmt.Errorf("grow data file: %w", err)
		}
		l.dataSize = base + length
	}

	if err := l.unmapData(); err != nil {
		return err
	}
	w, err := unix.Mmap(int(l.data.Fd()), base, int(length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmap data: %w", err)
	}
	l.window = w
	l.windowBase = base

	l.log.Debug("remapped message data", "path", l.path, "base", base, "length", length)
	return nil
}

func (l *MmapLog) unmapData() error {
	if l.window == nil {
		return nil
	}
	if err := unix.Msync(l.window, unix.MS_SYNC); err != nil {
		return fmt.Errorf("msync data: %w", err)
	}
	err := unix.Munmap(l.window)
	l.window = nil
	if err != nil {
		return fmt.Errorf("munmap data: %w", err)
	}
	return nil
}

func (l *MmapLog) Append(msg []byte, ts time.Time) (int, error) {
	seq, err := fix.RawSeqNum(msg)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNoSeqNum, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.open {
		return 0, ErrStorageClosed
	}
	if seq > MaxMmapSeqNum {
		return 0, &SequenceRangeError{SeqNum: seq, Max: MaxMmapSeqNum}
	}

	if fix.IsLogonSeqOne(msg) {
		l.rw.Lock()
		clear(l.indexMap)
		l.lastSeq = 0
		l.rw.Unlock()
		l.log.Info("new session detected, message index reset", "path", l.path)
	}
	if err := l.growIndex(seq); err != nil {
		return 0, err
	}

	prefix := l.opts.prefix(ts)
	n := len(prefix) + len(msg) + 1
	if err := l.remapData(int64(n)); err != nil {
		return 0, err
	}

	start := l.position
	off := start - l.windowBase
	off += int64(copy(l.window[off:], prefix))
	off += int64(copy(l.window[off:], msg))
	l.window[off] = '\n'
	l.position += int64(n)

	l.rw.Lock()
	putMmapRecord(l.indexMap[mmapRecordOffset(seq):], IndexEntry{
		Position: uint64(start) + uint64(len(prefix)),
		Length:   uint32(len(msg)),
	})
	if seq > l.lastSeq {
		l.lastSeq = seq
	}
	putMmapHeader(l.indexMap, mmapHeader{lastPos: uint64(l.position), lastSeq: l.lastSeq})
	l.rw.Unlock()

	return n, nil
}

func (l *MmapLog) RetrieveRange(from, to uint64, fn Listener, blocking bool) error {
	if from < 1 || to < 1 {
		return fmt.Errorf("%w: [%d, %d]", ErrInvalidRange, from, to)
	}

	d := newDispatcher(fn, blocking)
	defer d.finish()

	for seq := from; seq <= to; seq++ {
		msg, ok, err := l.read(seq)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		d.deliver(seq, msg)
	}
	return nil
}

func (l *MmapLog) read(seq uint64) ([]byte, bool, error) {
	l.rw.RLock()
	defer l.rw.RUnlock()

	if !l.open {
		return nil, false, ErrStorageClosed
	}
	e, ok := l.lookupLocked(seq)
	if !ok {
		return nil, false, nil
	}
	buf := make([]byte, e.Length)
	if _, err := l.data.ReadAt(buf, int64(e.Position)); err != nil {
		return nil, false, fmt.Errorf("read seq %d: %w", seq, closedOr(err))
	}
	return buf, true, nil
}

func (l *MmapLog) lookupLocked(seq uint64) (IndexEntry, bool) {
	if seq < 1 || seq > MaxMmapSeqNum {
		return IndexEntry{}, false
	}
	off := mmapRecordOffset(seq)
	if off+mmapRecordSize > int64(len(l.indexMap)) {
		return IndexEntry{}, false
	}
	e := decodeMmapRecord(l.indexMap[off:])
	return e, e.Length > 0
}

// Lookup returns the index record for seq.
func (l *MmapLog) Lookup(seq uint64) (IndexEntry, bool, error) {
	l.rw.RLock()
	defer l.rw.RUnlock()
	if !l.open {
		return IndexEntry{}, false, ErrStorageClosed
	}
	e, ok := l.lookupLocked(seq)
	return e, ok, nil
}

func (l *MmapLog) BackupOrDelete(mode CleanupMode) error {
	if mode != CleanupBackup && mode != CleanupDelete {
		return fmt.Errorf("unknown cleanup mode %q", mode)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	wasOpen := l.open
	l.rw.Lock()
	err := l.closeLocked()
	l.rw.Unlock()
	if err != nil {
		return fmt.Errorf("close before %s: %w", mode, err)
	}

	for _, f := range []string{l.path, l.indexPath} {
		if err := moveOrRemove(f, mode, l.opts.BackupLocator); err != nil {
			return err
		}
	}
	l.log.Info("message log cleaned up", "path", l.path, "mode", mode, "files", 2)

	if wasOpen {
		if _, err := l.initializeLocked(); err != nil {
			return err
		}
	}
	return nil
}

func (l *MmapLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rw.Lock()
	defer l.rw.Unlock()
	return l.closeLocked()
}

// closeLocked unmaps both regions and trims the data file's zero padding.
// Requires mu and rw held exclusively.
func (l *MmapLog) closeLocked() error {
	if !l.open {
		return nil
	}
	l.open = false

	// position is only trustworthy once the data window has been mapped
	trim := l.window != nil

	var errs []error
	if err := l.unmapData(); err != nil {
		errs = append(errs, err)
	}
	if l.indexMap != nil {
		if err := unix.Msync(l.indexMap, unix.MS_SYNC); err != nil {
			errs = append(errs, fmt.Errorf("msync index: %w", err))
		}
	}
	if err := l.unmapIndex(); err != nil {
		errs = append(errs, err)
	}
	if trim {
		if err := l.data.Truncate(l.position); err != nil {
			errs = append(errs, fmt.Errorf("trim data file: %w", err))
		}
	}
	if err := l.data.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close data: %w", err))
	}
	if err := l.index.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close index: %w", err))
	}
	l.window = nil
	l.dataSize = 0
	return errors.Join(errs...)
}
