package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/roach88/fixsession/internal/fix"
)

// Listener receives one retrieved message. msg is the raw FIX message without
// the timestamp prefix or line terminator.
type Listener func(seq uint64, msg []byte)

// MessageLog is a durable per-session store of sent or received messages,
// addressed by the MsgSeqNum carried inside each message.
type MessageLog interface {
	// Initialize opens the underlying storage and returns the sequence number
	// that follows the last stored message (1 for an empty or reset log).
	// A corrupt index is discarded with a warning rather than reported.
	Initialize() (uint64, error)

	// Append stores msg. A zero ts is replaced by the log clock when timestamps
	// are enabled. It returns the number of bytes the record occupies.
	Append(msg []byte, ts time.Time) (int, error)

	// RetrieveRange delivers [from, to] to fn in sequence order and stops
	// silently at the first missing number. When blocking is false the records
	// are read before RetrieveRange returns and delivered on another goroutine.
	RetrieveRange(from, to uint64, fn Listener, blocking bool) error

	// BackupOrDelete closes the log, moves its files to the backup location
	// (or removes them), and reopens a fresh log if it was open.
	BackupOrDelete(mode CleanupMode) error

	Close() error
}

// Indexed is implemented by logs that can report where a record is stored.
type Indexed interface {
	Lookup(seq uint64) (IndexEntry, bool, error)
}

// IndexEntry locates a message inside a data file. Position and Length cover
// the message bytes only, excluding the timestamp prefix and terminator.
type IndexEntry struct {
	ChunkID  uint32
	Position uint64
	Length   uint32
}

// CleanupMode selects what BackupOrDelete does with existing files.
type CleanupMode string

const (
	CleanupBackup CleanupMode = "backup"
	CleanupDelete CleanupMode = "delete"
)

// Kind names a storage variant.
type Kind string

const (
	KindFlat          Kind = "flat"
	KindIndexed       Kind = "indexed"
	KindSliced        Kind = "sliced"
	KindSlicedIndexed Kind = "sliced-indexed"
	KindMmap          Kind = "mmap"
	KindSQLite        Kind = "sqlite"
)

// Kinds lists every supported variant in a stable order.
func Kinds() []Kind {
	return []Kind{KindFlat, KindIndexed, KindSliced, KindSlicedIndexed, KindMmap, KindSQLite}
}

const (
	DefaultStorageGrowSize = 1 << 20
	DefaultMmapGrowSize    = 64 << 10
	DefaultIndexGrowSize   = 12 << 12
	DefaultMaxSliceSize    = 100 << 20
)

// Options configures a MessageLog. Zero values select the defaults above.
type Options struct {
	// Timestamps prefixes every record with its formatted append time.
	Timestamps bool
	Precision  fix.Precision

	// StorageGrowSize is the step by which the mmap data file is extended.
	StorageGrowSize int64
	// MmapGrowSize is the headroom below which the data window is remapped.
	MmapGrowSize int64
	// IndexGrowSize is the step by which the mmap index file is extended.
	IndexGrowSize int64
	// MaxSliceSize is the chunk size after which a sliced log rolls.
	MaxSliceSize int64

	// BackupDir receives backups made by the default locator. Empty means the
	// directory of the log itself.
	BackupDir string
	// BackupLocator maps a file being backed up to its destination path.
	BackupLocator func(path string) string

	Now    func() time.Time
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Precision == "" {
		o.Precision = fix.PrecisionMillis
	}
	if o.StorageGrowSize <= 0 {
		o.StorageGrowSize = DefaultStorageGrowSize
	}
	if o.MmapGrowSize <= 0 {
		o.MmapGrowSize = DefaultMmapGrowSize
	}
	if o.IndexGrowSize <= 0 {
		o.IndexGrowSize = DefaultIndexGrowSize
	}
	if o.MaxSliceSize <= 0 {
		o.MaxSliceSize = DefaultMaxSliceSize
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.BackupLocator == nil {
		o.BackupLocator = timestampLocator(o.BackupDir, o.Now)
	}
	return o
}

// prefixLen is the fixed length of the timestamp prefix, including the
// separating space, or 0 when timestamps are disabled.
func (o Options) prefixLen() int {
	if !o.Timestamps {
		return 0
	}
	return o.Precision.Len() + 1
}

func (o Options) prefix(ts time.Time) string {
	if !o.Timestamps {
		return ""
	}
	if ts.IsZero() {
		ts = o.Now()
	}
	return fix.FormatUTC(ts, o.Precision) + " "
}

// timestampLocator places backups in dir (or beside the file) with a UTC
// timestamp suffix.
func timestampLocator(dir string, now func() time.Time) func(string) string {
	return func(path string) string {
		target := dir
		if target == "" {
			target = filepath.Dir(path)
		}
		stamp := now().UTC().Format("20060102-150405.000000000")
		return filepath.Join(target, filepath.Base(path)+"."+stamp)
	}
}

// New constructs the variant named by kind. The log is not opened until
// Initialize is called.
func New(kind Kind, path string, opts Options) (MessageLog, error) {
	switch kind {
	case KindFlat:
		return NewFileLog(path, false, false, opts), nil
	case KindIndexed:
		return NewFileLog(path, true, false, opts), nil
	case KindSliced:
		return NewFileLog(path, false, true, opts), nil
	case KindSlicedIndexed:
		return NewFileLog(path, true, true, opts), nil
	case KindMmap:
		return newMmapLog(path, opts)
	case KindSQLite:
		return NewSQLiteLog(path, opts), nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", kind)
	}
}

// moveOrRemove applies mode to one file. Missing files are ignored and empty
// files are left in place on backup.
func moveOrRemove(path string, mode CleanupMode, locate func(string) string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	if mode == CleanupDelete {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("delete %s: %w", path, err)
		}
		return nil
	}

	if info.Size() == 0 {
		return nil
	}
	dst := locate(path)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}
	if err := os.Rename(path, dst); err != nil {
		return fmt.Errorf("backup %s: %w", path, err)
	}
	return nil
}
