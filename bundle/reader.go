package bundle

import (
	"archive/zip"
	"errors"
	"io"

	"github.com/depotvault/depotvault/store"
)

// ErrNoEntry means the bundle has no entry with the requested path.
var ErrNoEntry = errors.New("entry not found in bundle")

// A ReaderCloser is a zip reader which also closes the underlying store
// stream.
type ReaderCloser struct {
	f io.Closer
	*zip.Reader
}

func (r *ReaderCloser) Close() error {
	return r.f.Close()
}

// Paths returns the entry paths in this bundle.
func (r *ReaderCloser) Paths() []string {
	var result []string
	for _, f := range r.File {
		result = append(result, f.Name)
	}
	return result
}

// Open returns a reader over the bundle stored for the given key.
func Open(s store.ROStore, key string) (*ReaderCloser, error) {
	stream, size, err := s.Open(BlobName(key))
	if err != nil {
		return nil, err
	}
	z, err := zip.NewReader(stream, size)
	if err != nil {
		stream.Close()
		return nil, err
	}
	return &ReaderCloser{Reader: z, f: stream}, nil
}

type parentReadCloser struct {
	parent io.Closer
	io.ReadCloser
}

func (r *parentReadCloser) Close() error {
	r.ReadCloser.Close()
	return r.parent.Close()
}

// OpenStream returns the contents of the entry with the given path inside
// the bundle for key.
func OpenStream(s store.ROStore, key, path string) (io.ReadCloser, error) {
	r, err := Open(s, key)
	if err != nil {
		return nil, err
	}
	for _, f := range r.File {
		if f.Name != path {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			r.Close()
			return nil, err
		}
		return &parentReadCloser{parent: r, ReadCloser: rc}, nil
	}
	r.Close()
	return nil, ErrNoEntry
}
