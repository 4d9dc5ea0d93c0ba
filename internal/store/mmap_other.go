//go:build !(linux || darwin || freebsd)

package store

func newMmapLog(path string, opts Options) (MessageLog, error) {
	return nil, ErrUnsupported
}
