// Package store provides a goroutine safe key-value interface over a blob
// backend. Values are streams rather than byte slices, so bundles much larger
// than memory can be kept and served.
//
// The FileSystem store is the usual choice for a single machine. The S3 and
// GCS stores keep the blobs in a cloud bucket. The Memory store is for
// testing.
package store

import (
	"errors"
	"io"
)

// ReadAtCloser combines the io.ReaderAt and io.Closer interfaces.
type ReadAtCloser interface {
	io.ReaderAt
	io.Closer
}

// Store is the basic stream based key-value store. Blobs are immutable once
// stored. Create returns ErrKeyExists if the key is already present, which
// gives callers a create-if-absent primitive: a blob is never silently
// overwritten.
//
// Keys are used as file names by the FileSystem store, so they should not
// contain a forward slash.
//
// Open returns a ReadAtCloser instead of an io.ReadCloser so the result can
// be handed directly to a zip reader.
type Store interface {
	ROStore
	Create(key string) (io.WriteCloser, error)
	Delete(key string) error
}

// ROStore is the read-only half of a Store.
type ROStore interface {
	List() <-chan string
	ListPrefix(prefix string) ([]string, error)
	Open(key string) (ReadAtCloser, int64, error)
}

var (
	// ErrKeyExists indicates an attempt to create a key which is already
	// present in the store.
	ErrKeyExists = errors.New("key already exists")
)

// NewReader converts an io.ReaderAt into an io.Reader starting at offset 0.
func NewReader(r io.ReaderAt) io.Reader {
	return &reader{r: r}
}

type reader struct {
	r   io.ReaderAt
	off int64
}

func (r *reader) Read(p []byte) (n int, err error) {
	n, err = r.r.ReadAt(p, r.off)
	r.off += int64(n)
	if err == io.EOF && n > 0 {
		// a short read is not an error for an io.Reader
		err = nil
	}
	return
}
