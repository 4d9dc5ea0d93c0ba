package store

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/roach88/fixsession/internal/fix"
)

const tailBlock = 4096

// lastIndexByte returns the offset of the last c in r[0:size], or -1.
func lastIndexByte(r io.ReaderAt, size int64, c byte) (int64, error) {
	buf := make([]byte, tailBlock)
	end := size
	for end > 0 {
		n := int64(tailBlock)
		if n > end {
			n = end
		}
		off := end - n
		if _, err := r.ReadAt(buf[:n], off); err != nil && !errors.Is(err, io.EOF) {
			return -1, err
		}
		if i := bytes.LastIndexByte(buf[:n], c); i >= 0 {
			return off + int64(i), nil
		}
		end = off
	}
	return -1, nil
}

// readLastLine returns the last complete line of the file at path without its
// terminator, or nil when the file is empty or missing.
func readLastLine(path string) ([]byte, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	size := info.Size()
	if size == 0 {
		return nil, nil
	}

	end, err := lastIndexByte(f, size, '\n')
	if err != nil || end < 0 {
		return nil, err
	}
	start, err := lastIndexByte(f, end, '\n')
	if err != nil {
		return nil, err
	}

	line := make([]byte, end-start-1)
	if _, err := f.ReadAt(line, start+1); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return line, nil
}

// scanFile collects records in [from, to] from one data file into found.
// An incomplete trailing line is ignored.
func scanFile(path string, prefixLen int, from, to uint64, found map[uint64][]byte) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		line, err := r.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("scan %s: %w", path, err)
		}

		msg := line[:len(line)-1]
		if len(msg) >= prefixLen {
			msg = msg[prefixLen:]
		}
		seq, err := fix.RawSeqNum(msg)
		if err != nil {
			continue
		}
		if fix.IsLogonSeqOne(msg) {
			clear(found)
		}
		if seq >= from && seq <= to {
			found[seq] = msg
		}
	}
}

type record struct {
	seq uint64
	msg []byte
}

// dispatcher delivers retrieved records either inline or, for non-blocking
// retrieval, in order on a single goroutine once reading has finished.
type dispatcher struct {
	fn       Listener
	blocking bool
	batch    []record
}

func newDispatcher(fn Listener, blocking bool) *dispatcher {
	return &dispatcher{fn: fn, blocking: blocking}
}

func (d *dispatcher) deliver(seq uint64, msg []byte) {
	if d.blocking {
		d.fn(seq, msg)
		return
	}
	d.batch = append(d.batch, record{seq: seq, msg: msg})
}

func (d *dispatcher) finish() {
	if d.blocking || len(d.batch) == 0 {
		return
	}
	batch := d.batch
	d.batch = nil
	go func() {
		for _, r := range batch {
			d.fn(r.seq, r.msg)
		}
	}()
}
