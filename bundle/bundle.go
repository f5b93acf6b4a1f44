// Package bundle packages a set of manifest files into a single zip blob
// inside a store, and reads individual files back out of one.
//
// A bundle is the unit of caching: every key has at most one bundle blob,
// named "<key>.bundle". Entries are stored uncompressed, since manifest
// payloads are small and the bundles are served byte-for-byte.
package bundle

import (
	"archive/zip"
	"bytes"
	"io"

	"github.com/depotvault/depotvault/store"
)

// File is a single entry going into a bundle.
type File struct {
	Path string
	Data []byte
}

// BlobName returns the store key holding the bundle for the given cache key.
func BlobName(key string) string {
	return key + ".bundle"
}

// Assemble serializes the given files into one zip archive and persists it
// under BlobName(key). The archive is built completely in memory before the
// store is touched, so a failure partway through assembly leaves no blob
// behind. Returns the size of the stored blob.
//
// Every input file appears in the archive exactly once under its own path.
// An empty file list produces a valid, empty archive.
func Assemble(s store.Store, key string, files []File) (int64, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		w, err := makeStream(zw, f.Path)
		if err != nil {
			return 0, err
		}
		if _, err = w.Write(f.Data); err != nil {
			return 0, err
		}
	}
	if err := zw.Close(); err != nil {
		return 0, err
	}

	name := BlobName(key)
	wc, err := s.Create(name)
	if err != nil {
		return 0, err
	}
	_, err = wc.Write(buf.Bytes())
	if err != nil {
		if cerr := wc.Close(); cerr != store.ErrKeyExists {
			s.Delete(name)
		}
		return 0, err
	}
	if err = wc.Close(); err != nil {
		// ErrKeyExists at close time means a concurrent writer committed
		// this key first. Their blob is live, so leave it alone.
		if err != store.ErrKeyExists {
			s.Delete(name)
		}
		return 0, err
	}
	return int64(buf.Len()), nil
}

// makeStream adds an uncompressed entry to the archive.
func makeStream(z *zip.Writer, name string) (io.Writer, error) {
	header := zip.FileHeader{
		Name:   name,
		Method: zip.Store,
	}
	return z.CreateHeader(&header)
}
