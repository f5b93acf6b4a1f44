package bundle

import (
	"bytes"
	"io"
	"io/ioutil"
	"testing"

	"github.com/depotvault/depotvault/store"
)

func TestAssembleAndOpen(t *testing.T) {
	s := store.NewMemory()
	files := []File{
		{Path: "1668727726725052157.manifest", Data: bytes.Repeat([]byte("m"), 4096)},
		{Path: "Key.vdf", Data: []byte(`"depots" { "441" { "DecryptionKey" "aa00" } }`)},
	}
	size, err := Assemble(s, "440", files)
	if err != nil {
		t.Fatalf("Assemble: %s", err)
	}
	if size <= 0 {
		t.Fatalf("Assemble returned size %d", size)
	}

	// the blob is stored under the conventional name
	keys, _ := s.ListPrefix(BlobName("440"))
	if len(keys) != 1 {
		t.Fatalf("blob not found: %v", keys)
	}

	r, err := Open(s, "440")
	if err != nil {
		t.Fatalf("Open: %s", err)
	}
	defer r.Close()
	if len(r.File) != len(files) {
		t.Fatalf("bundle has %d entries, expected %d", len(r.File), len(files))
	}
	for _, f := range files {
		rc, err := OpenStream(s, "440", f.Path)
		if err != nil {
			t.Errorf("OpenStream(%s): %s", f.Path, err)
			continue
		}
		data, _ := ioutil.ReadAll(rc)
		rc.Close()
		if !bytes.Equal(data, f.Data) {
			t.Errorf("entry %s: content mismatch", f.Path)
		}
	}
}

func TestOpenStreamMissingEntry(t *testing.T) {
	s := store.NewMemory()
	if _, err := Assemble(s, "570", []File{{Path: "570.manifest", Data: []byte("x")}}); err != nil {
		t.Fatalf("Assemble: %s", err)
	}
	_, err := OpenStream(s, "570", "no-such-file")
	if err != ErrNoEntry {
		t.Errorf("got %v, expected ErrNoEntry", err)
	}
}

func TestAssembleEmptySet(t *testing.T) {
	s := store.NewMemory()
	size, err := Assemble(s, "99", nil)
	if err != nil {
		t.Fatalf("Assemble: %s", err)
	}
	if size <= 0 {
		t.Errorf("empty archive has size %d", size)
	}
	r, err := Open(s, "99")
	if err != nil {
		t.Fatalf("Open: %s", err)
	}
	defer r.Close()
	if len(r.File) != 0 {
		t.Errorf("empty bundle has %d entries", len(r.File))
	}
}

func TestAssembleExistingKey(t *testing.T) {
	s := store.NewMemory()
	if _, err := Assemble(s, "10", []File{{Path: "a", Data: []byte("1")}}); err != nil {
		t.Fatalf("first Assemble: %s", err)
	}
	_, err := Assemble(s, "10", []File{{Path: "b", Data: []byte("2")}})
	if err != store.ErrKeyExists {
		t.Errorf("second Assemble: got %v, expected ErrKeyExists", err)
	}
}

// stagedStore defers the duplicate-key check to Close, the way the file
// store's scratch-and-rename writer does. A key committed to the backing
// store while a writer is open wins the race, and the open writer gets
// ErrKeyExists when it closes.
type stagedStore struct {
	store.Store
}

func (s stagedStore) Create(key string) (io.WriteCloser, error) {
	return &stagedWriter{s: s.Store, key: key}, nil
}

type stagedWriter struct {
	s   store.Store
	key string
	buf bytes.Buffer
}

func (w *stagedWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *stagedWriter) Close() error {
	wc, err := w.s.Create(w.key)
	if err != nil {
		return err
	}
	if _, err := wc.Write(w.buf.Bytes()); err != nil {
		wc.Close()
		return err
	}
	return wc.Close()
}

func TestAssembleLostRaceKeepsWinner(t *testing.T) {
	mem := store.NewMemory()
	if _, err := Assemble(mem, "10", []File{{Path: "a.manifest", Data: []byte("winner")}}); err != nil {
		t.Fatalf("winning Assemble: %s", err)
	}

	// the loser only notices the winner's blob at Close time
	_, err := Assemble(stagedStore{mem}, "10", []File{{Path: "b.manifest", Data: []byte("loser")}})
	if err != store.ErrKeyExists {
		t.Fatalf("losing Assemble: got %v, expected ErrKeyExists", err)
	}

	// the winner's blob is still there and untouched
	rc, err := OpenStream(mem, "10", "a.manifest")
	if err != nil {
		t.Fatalf("winner's blob gone after losing Assemble: %s", err)
	}
	data, _ := ioutil.ReadAll(rc)
	rc.Close()
	if string(data) != "winner" {
		t.Errorf("winner's entry: got %q", data)
	}
}
