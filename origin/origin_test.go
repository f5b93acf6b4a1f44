package origin

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// fakeHost serves just enough of the hosting API for one repository with
// one branch per entry in branches.
type fakeHost struct {
	repo     string
	sha      string
	branches map[string][]string // branch -> tree paths
	files    map[string]string   // path -> content

	m       sync.Mutex // raw downloads run concurrently
	rawHits int
}

func (f *fakeHost) hits() int {
	f.m.Lock()
	defer f.m.Unlock()
	return f.rawHits
}

func (f *fakeHost) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/", func(w http.ResponseWriter, r *http.Request) {
		var branch string
		prefix := fmt.Sprintf("/repos/%s/branches/", f.repo)
		if n, _ := fmt.Sscanf(r.URL.Path, prefix+"%s", &branch); n != 1 {
			http.NotFound(w, r)
			return
		}
		if _, ok := f.branches[branch]; !ok {
			http.NotFound(w, r)
			return
		}
		treeURL := "http://" + r.Host + "/trees/" + branch
		fmt.Fprintf(w,
			`{"name":%q,"commit":{"sha":%q,"commit":{"tree":{"url":%q}}}}`,
			branch, f.sha, treeURL)
	})
	mux.HandleFunc("/trees/", func(w http.ResponseWriter, r *http.Request) {
		branch := r.URL.Path[len("/trees/"):]
		paths, ok := f.branches[branch]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("recursive") != "1" {
			http.Error(w, "expected recursive listing", 500)
			return
		}
		fmt.Fprint(w, `{"tree":[`)
		for i, p := range paths {
			if i > 0 {
				fmt.Fprint(w, ",")
			}
			fmt.Fprintf(w, `{"path":%q,"type":"blob"}`, p)
		}
		fmt.Fprint(w, `]}`)
	})
	mux.HandleFunc("/raw/", func(w http.ResponseWriter, r *http.Request) {
		f.m.Lock()
		f.rawHits++
		f.m.Unlock()
		var path string
		prefix := fmt.Sprintf("/raw/%s/%s/", f.repo, f.sha)
		if len(r.URL.Path) <= len(prefix) {
			http.NotFound(w, r)
			return
		}
		path = r.URL.Path[len(prefix):]
		content, ok := f.files[path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, content)
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeHost) (*Client, *httptest.Server) {
	srv := httptest.NewServer(f.handler())
	c := &Client{
		APIBase:     srv.URL,
		RawBase:     srv.URL + "/raw",
		MatchSuffix: ".manifest",
		MatchFile:   "Key.vdf",
	}
	return c, srv
}

func TestResolveBranch(t *testing.T) {
	f := &fakeHost{
		repo:     "vaultdepot/ManifestHub",
		sha:      "0123abcd",
		branches: map[string][]string{"440": nil},
	}
	c, srv := newTestClient(t, f)
	defer srv.Close()

	commit, err := c.ResolveBranch("vaultdepot/ManifestHub", "440")
	if err != nil {
		t.Fatalf("ResolveBranch: %s", err)
	}
	if commit.SHA != "0123abcd" {
		t.Errorf("sha: got %q", commit.SHA)
	}
	if commit.TreeURL == "" {
		t.Errorf("tree url is empty")
	}

	_, err = c.ResolveBranch("vaultdepot/ManifestHub", "570")
	if err != ErrBranchNotFound {
		t.Errorf("missing branch: got %v, expected ErrBranchNotFound", err)
	}
}

func TestFetchFileSet(t *testing.T) {
	f := &fakeHost{
		repo: "vaultdepot/ManifestHub",
		sha:  "f00d",
		branches: map[string][]string{
			"440": {
				"441_1668727726725052157.manifest",
				"Key.vdf",
				"README.md",
				"nested/442_88.manifest",
			},
		},
		files: map[string]string{
			"441_1668727726725052157.manifest": "manifest-one",
			"Key.vdf":                          "keys",
			"README.md":                        "ignore me",
			"nested/442_88.manifest":           "manifest-two",
		},
	}
	c, srv := newTestClient(t, f)
	defer srv.Close()

	files, err := c.FetchFileSet("vaultdepot/ManifestHub", "440")
	if err != nil {
		t.Fatalf("FetchFileSet: %s", err)
	}
	// README.md does not match and is never downloaded
	if len(files) != 3 {
		t.Fatalf("got %d files, expected 3", len(files))
	}
	if n := f.hits(); n != 3 {
		t.Errorf("downloaded %d raw files, expected 3", n)
	}
	// tree order is preserved
	expected := []string{
		"441_1668727726725052157.manifest",
		"Key.vdf",
		"nested/442_88.manifest",
	}
	for i, path := range expected {
		if files[i].Path != path {
			t.Errorf("file %d: got %q, expected %q", i, files[i].Path, path)
		}
		if string(files[i].Data) != f.files[path] {
			t.Errorf("file %s: content %q", path, files[i].Data)
		}
	}
}

func TestFetchFileSetEmpty(t *testing.T) {
	f := &fakeHost{
		repo:     "vaultdepot/ManifestHub",
		sha:      "f00d",
		branches: map[string][]string{"730": {"README.md"}},
		files:    map[string]string{"README.md": "x"},
	}
	c, srv := newTestClient(t, f)
	defer srv.Close()

	files, err := c.FetchFileSet("vaultdepot/ManifestHub", "730")
	if err != nil {
		t.Fatalf("FetchFileSet: %s", err)
	}
	if files == nil || len(files) != 0 {
		t.Errorf("got %v, expected empty non-nil list", files)
	}
	if n := f.hits(); n != 0 {
		t.Errorf("downloaded %d files from a branch with no matches", n)
	}
}

func TestFetchFileSetMissingBranch(t *testing.T) {
	f := &fakeHost{
		repo:     "vaultdepot/ManifestHub",
		sha:      "f00d",
		branches: map[string][]string{},
	}
	c, srv := newTestClient(t, f)
	defer srv.Close()

	_, err := c.FetchFileSet("vaultdepot/ManifestHub", "999")
	if err != ErrBranchNotFound {
		t.Errorf("got %v, expected ErrBranchNotFound", err)
	}
}
