package store

import (
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"

	raven "github.com/getsentry/raven-go"
)

// FileSystem implements a store backed by a directory tree. Keys are used as
// file names, fanned out into subdirectories by their first two characters so
// a large store does not put every blob into a single directory.
//
// New blobs are written into a scratch directory and renamed into place only
// when the writer is closed cleanly, so readers never observe a partially
// written blob.
type FileSystem struct {
	root string
}

// the subdir blobs are written to before being moved into place.
const scratchdir = "scratch"

var _ Store = &FileSystem{}

// NewFileSystem creates a FileSystem store rooted at the given path.
func NewFileSystem(root string) *FileSystem {
	return &FileSystem{root: root}
}

// List returns a channel giving every key in this store.
func (s *FileSystem) List() <-chan string {
	c := make(chan string)
	go walkTree(c, s.root, 0)
	return c
}

// Perform a depth first walk of the file tree at root, emitting keys on the
// channel out. Only the two fanout levels are descended; the scratch
// directory is skipped.
//
// If level is 0, the channel is closed when the function exits.
func walkTree(out chan<- string, root string, level int) {
	if level == 0 {
		defer close(out)
	}
	f, err := os.Open(root)
	if err != nil {
		log.Println(err)
		raven.CaptureError(err, nil)
		return
	}
	defer f.Close()
	for {
		entries, err := f.Readdir(1000)
		if err == io.EOF {
			return
		} else if err != nil {
			// we have no other way of passing this error back
			log.Println(err)
			raven.CaptureError(err, nil)
			return
		}
		for _, e := range entries {
			if e.IsDir() {
				if level == 0 && e.Name() != scratchdir {
					walkTree(out, filepath.Join(root, e.Name()), level+1)
				}
				continue
			}
			if level == 1 {
				out <- e.Name()
			}
		}
	}
}

// ListPrefix returns every key beginning with the given prefix.
func (s *FileSystem) ListPrefix(prefix string) ([]string, error) {
	var glob string
	switch len(prefix) {
	case 0:
		glob = "*/*"
	case 1:
		glob = prefix + "*/" + prefix + "*"
	default:
		glob = prefix[0:2] + "/" + prefix + "*"
	}
	result, err := filepath.Glob(filepath.Join(s.root, glob))
	if err == nil {
		for i := range result {
			result[i] = path.Base(result[i])
		}
	}
	return result, err
}

// Open returns a reader for the given blob along with its size.
func (s *FileSystem) Open(key string) (ReadAtCloser, int64, error) {
	if strings.Contains(key, "/") {
		return nil, 0, ErrKeySlash
	}
	fname := filepath.Join(s.root, keySubdir(key), key)
	f, err := os.Open(fname)
	if err != nil {
		return nil, 0, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, fi.Size(), nil
}

// Create makes a new blob with the given key and returns a writer to fill
// it. The data is staged in the scratch directory and moved into place on
// Close.
func (s *FileSystem) Create(key string) (io.WriteCloser, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	target, err := s.setupSubDir(keySubdir(key), key)
	if err != nil {
		return nil, err
	}
	_, err = os.Stat(target)
	if !os.IsNotExist(err) {
		return nil, ErrKeyExists
	}
	temp, err := s.setupSubDir(scratchdir, key)
	if err != nil {
		return nil, err
	}
	// O_EXCL so a concurrent create of the same key fails instead of
	// interleaving writes
	w, err := os.OpenFile(temp, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0666)
	if err != nil {
		return nil, err
	}
	return &moveCloser{WriteCloser: w, source: temp, target: target}, nil
}

// setupSubDir makes sure the given subdirectory exists under the root, and
// returns the absolute path the keyed file should have.
func (s *FileSystem) setupSubDir(subdir, key string) (string, error) {
	dir := filepath.Join(s.root, subdir)
	err := os.MkdirAll(dir, 0775)
	return filepath.Join(dir, key), err
}

// moveCloser tracks the scratch file so when it is closed we can move it
// into its final location.
type moveCloser struct {
	io.WriteCloser
	source string
	target string
}

func (w *moveCloser) Close() error {
	err := w.WriteCloser.Close()
	if err != nil {
		os.Remove(w.source)
		return err
	}
	_, err = os.Stat(w.target)
	if !os.IsNotExist(err) {
		os.Remove(w.source)
		return ErrKeyExists
	}
	return os.Rename(w.source, w.target)
}

// Delete removes the given key from the store. It is not an error if the key
// does not exist.
func (s *FileSystem) Delete(key string) error {
	if strings.Contains(key, "/") {
		return ErrKeySlash
	}
	err := os.Remove(filepath.Join(s.root, keySubdir(key), key))
	if err != nil && os.IsNotExist(err) {
		err = nil
	}
	return err
}

// keySubdir returns the fanout subdirectory for a key, e.g. "440.bundle"
// goes into "44/".
func keySubdir(key string) string {
	if len(key) < 2 {
		return key
	}
	return key[0:2]
}
