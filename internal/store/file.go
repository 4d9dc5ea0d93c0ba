package store

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/roach88/fixsession/internal/fix"
)

// FileLog is the append-only file log behind the flat, indexed, sliced and
// sliced-indexed variants. The core owns the data file lifecycle; an optional
// indexer adds random access and an optional slicer rotates the data file into
// numbered chunks.
//
// Record layout: [timestamp prefix][message]['\n'].
type FileLog struct {
	path string
	opts Options
	log  *slog.Logger
	idx  *indexer
	sl   *slicer

	// mu serializes appends, initialization, close and backup.
	mu sync.Mutex

	// rw guards the handles below. Readers hold it shared for one record;
	// roll, index truncation and close hold it exclusively.
	rw       sync.RWMutex
	data     *os.File
	w        *bufio.Writer
	position int64
	open     bool
}

// NewFileLog creates a file log at path. The index, when enabled, lives at
// path+".idx"; chunks of a sliced log live at path+".<id>".
func NewFileLog(path string, indexed, sliced bool, opts Options) *FileLog {
	opts = opts.withDefaults()
	l := &FileLog{path: path, opts: opts, log: opts.Logger}
	if sliced {
		l.sl = newSlicer(path, opts.MaxSliceSize)
	}
	if indexed {
		l.idx = newIndexer(path+".idx", sliced)
	}
	return l
}

// Kind reports which variant the log was built as.
func (l *FileLog) Kind() Kind {
	switch {
	case l.idx != nil && l.sl != nil:
		return KindSlicedIndexed
	case l.idx != nil:
		return KindIndexed
	case l.sl != nil:
		return KindSliced
	default:
		return KindFlat
	}
}

func (l *FileLog) Path() string { return l.path }

func (l *FileLog) dataPath() string {
	if l.sl != nil {
		return l.sl.chunkPath(l.sl.current)
	}
	return l.path
}

func (l *FileLog) chunkID() uint32 {
	if l.sl != nil {
		return l.sl.current
	}
	return 0
}

func (l *FileLog) Initialize() (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.initializeLocked()
}

func (l *FileLog) initializeLocked() (uint64, error) {
	l.rw.Lock()
	defer l.rw.Unlock()

	if err := l.closeLocked(); err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return 0, fmt.Errorf("create log dir: %w", err)
	}
	if l.sl != nil {
		if err := l.sl.discover(); err != nil {
			return 0, err
		}
	}
	if err := l.openData(); err != nil {
		return 0, err
	}
	if l.idx != nil {
		if err := l.idx.open(); err != nil {
			l.data.Close()
			return 0, err
		}
	}
	l.open = true

	next, err := l.recover()
	if err != nil {
		l.closeLocked()
		return 0, fmt.Errorf("recover %s: %w", l.path, err)
	}

	l.log.Debug("message log opened",
		"path", l.path,
		"kind", l.Kind(),
		"next_seq", next,
		"position", l.position,
	)
	return next, nil
}

// openData opens the active data file for appending. On failure the previous
// handle is left in place.
func (l *FileLog) openData() error {
	f, err := os.OpenFile(l.dataPath(), os.O_RDWR|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open data file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat data file: %w", err)
	}
	l.data = f
	l.w = bufio.NewWriter(f)
	l.position = info.Size()
	return nil
}

func (l *FileLog) recover() (uint64, error) {
	if err := l.trimTornTail(); err != nil {
		return 0, err
	}
	if l.idx == nil {
		return l.scanNextSeq()
	}

	count, ok, err := l.idx.count()
	if err != nil {
		return 0, err
	}
	if ok && count == 0 {
		return 1, nil
	}
	if ok {
		valid, err := l.indexTailValid(count)
		if err != nil {
			return 0, err
		}
		if valid {
			return count + 1, nil
		}
	}

	l.log.Warn("discarding corrupt message index", "path", l.idx.path, "entries", count)
	if err := l.idx.truncate(); err != nil {
		return 0, err
	}
	return 1, nil
}

// trimTornTail drops a trailing partial record left by an interrupted write.
func (l *FileLog) trimTornTail() error {
	if l.position == 0 {
		return nil
	}
	i, err := lastIndexByte(l.data, l.position, '\n')
	if err != nil {
		return fmt.Errorf("scan data tail: %w", err)
	}
	keep := i + 1
	if keep == l.position {
		return nil
	}
	l.log.Warn("truncating incomplete record",
		"path", l.dataPath(),
		"offset", keep,
		"dropped", l.position-keep,
	)
	if err := l.data.Truncate(keep); err != nil {
		return fmt.Errorf("truncate data file: %w", err)
	}
	l.position = keep
	return nil
}

// indexTailValid checks that the last index entry points inside its chunk.
func (l *FileLog) indexTailValid(count uint64) (bool, error) {
	e, ok, err := l.idx.lookup(count)
	if err != nil || !ok {
		return false, err
	}

	var size int64
	switch {
	case l.sl == nil && e.ChunkID != 0:
		return false, nil
	case l.sl == nil || e.ChunkID == l.sl.current:
		size = l.position
	case e.ChunkID > l.sl.current:
		return false, nil
	default:
		info, err := os.Stat(l.sl.chunkPath(e.ChunkID))
		if os.IsNotExist(err) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("stat chunk %d: %w", e.ChunkID, err)
		}
		size = info.Size()
	}
	return e.Position+uint64(e.Length)+1 <= uint64(size), nil
}

// scanNextSeq finds the last record of the newest non-empty data file.
func (l *FileLog) scanNextSeq() (uint64, error) {
	paths, err := l.dataPaths()
	if err != nil {
		return 0, err
	}

	for i := len(paths) - 1; i >= 0; i-- {
		line, err := readLastLine(paths[i])
		if err != nil {
			return 0, err
		}
		if line == nil {
			continue
		}
		seq, err := fix.RawSeqNum(l.stripPrefix(line))
		if err != nil {
			l.log.Warn("last record has no sequence number", "path", paths[i], "error", err)
			return 1, nil
		}
		return seq + 1, nil
	}
	return 1, nil
}

func (l *FileLog) stripPrefix(line []byte) []byte {
	if n := l.opts.prefixLen(); len(line) >= n {
		return line[n:]
	}
	return line
}

// dataPaths lists data files oldest first.
func (l *FileLog) dataPaths() ([]string, error) {
	if l.sl == nil {
		return []string{l.path}, nil
	}
	ids, err := l.sl.chunks()
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(ids))
	for i, id := range ids {
		paths[i] = l.sl.chunkPath(id)
	}
	return paths, nil
}

func (l *FileLog) Append(msg []byte, ts time.Time) (int, error) {
	seq, err := fix.RawSeqNum(msg)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNoSeqNum, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.open {
		return 0, ErrStorageClosed
	}

	if l.sl != nil && l.sl.shouldRoll(l.position) {
		if err := l.rollToNextChunk(); err != nil {
			return 0, err
		}
	}

	if l.idx != nil && fix.IsLogonSeqOne(msg) {
		l.rw.Lock()
		err := l.idx.truncate()
		l.rw.Unlock()
		if err != nil {
			return 0, err
		}
		l.log.Info("new session detected, message index reset", "path", l.path)
	}

	prefix := l.opts.prefix(ts)
	start := l.position

	l.w.WriteString(prefix)
	l.w.Write(msg)
	l.w.WriteByte('\n')
	if err := l.w.Flush(); err != nil {
		l.resync(start)
		return 0, fmt.Errorf("append seq %d: %w", seq, err)
	}

	n := len(prefix) + len(msg) + 1
	l.position += int64(n)

	if l.idx != nil {
		e := IndexEntry{
			ChunkID:  l.chunkID(),
			Position: uint64(start) + uint64(len(prefix)),
			Length:   uint32(len(msg)),
		}
		if err := l.idx.write(seq, e); err != nil {
			return n, err
		}
	}
	return n, nil
}

// resync discards buffered bytes after a failed write and cuts the data file
// back to start, so a partly written record cannot run into the next one.
func (l *FileLog) resync(start int64) {
	l.w.Reset(l.data)
	if err := l.data.Truncate(start); err != nil {
		l.log.Warn("failed to trim partial record", "path", l.dataPath(), "position", start, "error", err)
		if info, err := l.data.Stat(); err == nil {
			l.position = info.Size()
		}
		return
	}
	l.position = start
}

func (l *FileLog) rollToNextChunk() error {
	l.rw.Lock()
	defer l.rw.Unlock()

	if err := l.w.Flush(); err != nil {
		return fmt.Errorf("flush before roll: %w", err)
	}
	old := l.data
	l.sl.current++
	if err := l.openData(); err != nil {
		l.sl.current--
		return err
	}
	old.Close()

	l.log.Info("rolled message log", "chunk", l.sl.current, "path", l.dataPath())
	return nil
}

func (l *FileLog) RetrieveRange(from, to uint64, fn Listener, blocking bool) error {
	if from < 1 || to < 1 {
		return fmt.Errorf("%w: [%d, %d]", ErrInvalidRange, from, to)
	}

	d := newDispatcher(fn, blocking)
	defer d.finish()

	if l.idx != nil {
		return l.retrieveIndexed(from, to, d.deliver)
	}
	return l.retrieveScan(from, to, d.deliver)
}

func (l *FileLog) retrieveIndexed(from, to uint64, deliver Listener) error {
	for seq := from; seq <= to; seq++ {
		msg, ok, err := l.readIndexed(seq)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		deliver(seq, msg)
	}
	return nil
}

func (l *FileLog) readIndexed(seq uint64) ([]byte, bool, error) {
	l.rw.RLock()
	defer l.rw.RUnlock()

	if !l.open {
		return nil, false, ErrStorageClosed
	}
	e, ok, err := l.idx.lookup(seq)
	if err != nil || !ok {
		return nil, false, closedOr(err)
	}
	r, err := l.chunkReader(e.ChunkID)
	if err != nil {
		return nil, false, err
	}

	buf := make([]byte, e.Length)
	if _, err := r.ReadAt(buf, int64(e.Position)); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read seq %d: %w", seq, closedOr(err))
	}
	return buf, true, nil
}

func (l *FileLog) chunkReader(id uint32) (io.ReaderAt, error) {
	if l.sl == nil || id == l.sl.current {
		return l.data, nil
	}
	return l.sl.reader(id)
}

// retrieveScan serves a range without an index by reading every data file
// in order. A later occurrence of a sequence number replaces an earlier one
// and a seq-1 Logon forgets everything before it.
func (l *FileLog) retrieveScan(from, to uint64, deliver Listener) error {
	l.rw.RLock()
	open := l.open
	paths, err := l.dataPaths()
	l.rw.RUnlock()
	if !open {
		return ErrStorageClosed
	}
	if err != nil {
		return err
	}

	found := make(map[uint64][]byte)
	for _, p := range paths {
		if !l.isOpen() {
			return ErrStorageClosed
		}
		if err := scanFile(p, l.opts.prefixLen(), from, to, found); err != nil {
			return err
		}
	}

	for seq := from; seq <= to; seq++ {
		msg, ok := found[seq]
		if !ok {
			return nil
		}
		deliver(seq, msg)
	}
	return nil
}

func (l *FileLog) isOpen() bool {
	l.rw.RLock()
	defer l.rw.RUnlock()
	return l.open
}

// Lookup returns the index entry for seq.
func (l *FileLog) Lookup(seq uint64) (IndexEntry, bool, error) {
	if l.idx == nil {
		return IndexEntry{}, false, fmt.Errorf("%s log: %w", l.Kind(), ErrUnsupported)
	}
	l.rw.RLock()
	defer l.rw.RUnlock()
	if !l.open {
		return IndexEntry{}, false, ErrStorageClosed
	}
	return l.idx.lookup(seq)
}

func (l *FileLog) BackupOrDelete(mode CleanupMode) error {
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

	files, err := l.dataPaths()
	if err != nil {
		return err
	}
	if l.idx != nil {
		files = append(files, l.idx.path)
	}
	for _, f := range files {
		if err := moveOrRemove(f, mode, l.opts.BackupLocator); err != nil {
			return err
		}
	}
	l.log.Info("message log cleaned up", "path", l.path, "mode", mode, "files", len(files))

	if wasOpen {
		if _, err := l.initializeLocked(); err != nil {
			return err
		}
	}
	return nil
}

func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rw.Lock()
	defer l.rw.Unlock()
	return l.closeLocked()
}

// closeLocked requires both mu and rw held exclusively.
func (l *FileLog) closeLocked() error {
	if !l.open {
		return nil
	}
	l.open = false

	var errs []error
	if err := l.w.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("flush: %w", err))
	}
	if err := l.data.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close data: %w", err))
	}
	if l.idx != nil {
		if err := l.idx.close(); err != nil {
			errs = append(errs, fmt.Errorf("close index: %w", err))
		}
	}
	if l.sl != nil {
		l.sl.closeReaders()
	}
	return errors.Join(errs...)
}

// closedOr maps a read on a closed handle to ErrStorageClosed.
func closedOr(err error) error {
	if errors.Is(err, os.ErrClosed) {
		return ErrStorageClosed
	}
	return err
}
