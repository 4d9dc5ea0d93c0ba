// Package store provides durable per-session message logs for a FIX engine.
//
// Every variant implements MessageLog: append raw messages, report the next
// sequence number on open, replay an exact sequence range, and back up or
// delete the files on rotation.
//
// # Variants
//
//   - flat: one data file, no index; Initialize reads the last record and
//     retrieval scans the file.
//   - indexed: data file plus a side index of 12-byte records
//     [pos u64][len u32] at (seq-1)*12.
//   - sliced: the data file rolls into numbered chunks <path>.<id> once it
//     grows past MaxSliceSize.
//   - sliced-indexed: both; 16-byte index records carry the chunk id.
//   - mmap: data and index memory-mapped, index header [lastPos][lastSeq].
//   - sqlite: one row per sequence number.
//
// All integers on disk are big-endian.
//
// # Invariants
//
//   - Data is flushed before the index entry is written, so a crash can lose
//     at most the index entry of the last record.
//   - Appending a Logon with MsgSeqNum 1 starts a new session: the index is
//     cleared before the record is written.
//   - A corrupt or torn index is discarded with a warning and Initialize
//     returns 1; it never fails because of index contents.
//   - Retrieval stops at the first missing sequence number.
//
// # Concurrency
//
// Appends, Initialize, Close and BackupOrDelete serialize on one mutex per
// log. Retrieval may run concurrently with appends and other retrievals;
// handle swaps (roll, index reset, growth, close) take a reader/writer lock
// exclusively.
package store
