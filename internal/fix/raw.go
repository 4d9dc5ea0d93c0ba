package fix

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

// ErrFieldNotFound is returned by the raw accessors when a tag is absent.
var ErrFieldNotFound = errors.New("field not found")

// RawField locates tag in raw without splitting the whole message.
// The tag must start the buffer or follow a SOH.
func RawField(raw []byte, tag int) ([]byte, error) {
	key := []byte(strconv.Itoa(tag) + "=")
	if bytes.HasPrefix(raw, key) {
		return fieldValue(raw[len(key):]), nil
	}

	needle := append([]byte{SOH}, key...)
	i := bytes.Index(raw, needle)
	if i < 0 {
		return nil, fmt.Errorf("tag %d: %w", tag, ErrFieldNotFound)
	}
	return fieldValue(raw[i+len(needle):]), nil
}

func fieldValue(b []byte) []byte {
	if end := bytes.IndexByte(b, SOH); end >= 0 {
		return b[:end]
	}
	return b
}

// RawSeqNum extracts MsgSeqNum from raw bytes.
func RawSeqNum(raw []byte) (uint64, error) {
	v, err := RawField(raw, TagMsgSeqNum)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(string(v), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("tag %d: %w", TagMsgSeqNum, err)
	}
	return n, nil
}

// RawMsgType extracts MsgType from raw bytes.
func RawMsgType(raw []byte) (string, error) {
	v, err := RawField(raw, TagMsgType)
	if err != nil {
		return "", err
	}
	return string(v), nil
}

// IsLogonSeqOne reports whether raw is a Logon carrying MsgSeqNum 1,
// the marker of a new session in the message log.
func IsLogonSeqOne(raw []byte) bool {
	seq, err := RawSeqNum(raw)
	if err != nil || seq != 1 {
		return false
	}
	mt, err := RawMsgType(raw)
	return err == nil && mt == MsgTypeLogon
}

// HasTrailer reports whether b ends with a complete CheckSum field (10=NNN<SOH>).
func HasTrailer(b []byte) bool {
	const trailerLen = 8 // SOH + "10=" + 3 digits + SOH
	if len(b) < trailerLen-1 || b[len(b)-1] != SOH {
		return false
	}
	var t []byte
	if len(b) == trailerLen-1 {
		t = b
	} else {
		if b[len(b)-trailerLen] != SOH {
			return false
		}
		t = b[len(b)-trailerLen+1:]
	}
	if !bytes.HasPrefix(t, []byte("10=")) {
		return false
	}
	for _, c := range t[3:6] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Checksum returns the modulo-256 byte sum of b.
func Checksum(b []byte) int {
	sum := 0
	for _, c := range b {
		sum += int(c)
	}
	return sum % 256
}
