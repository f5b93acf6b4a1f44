package clientapi

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/julienschmidt/httprouter"
)

// fake server state. one bundle "440" of 25 bytes, chunk limit 10.
var (
	fakeBlob  = bytes.Repeat([]byte("ab441"), 5)
	fakeLimit = 10
)

func fakeAPI(t *testing.T) http.Handler {
	chunks := (len(fakeBlob) + fakeLimit - 1) / fakeLimit
	r := httprouter.New()
	r.Handle("GET", "/bundle/:key", func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		if ps.ByName("key") != "440" {
			w.WriteHeader(404)
			return
		}
		w.Header().Set("X-Chunk-Count", strconv.Itoa(chunks))
		w.Write(fakeBlob)
	})
	r.Handle("HEAD", "/bundle/:key", func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		if ps.ByName("key") != "440" {
			w.WriteHeader(404)
			return
		}
		w.Header().Set("X-Chunk-Count", strconv.Itoa(chunks))
		w.Header().Set("Content-Length", strconv.Itoa(len(fakeBlob)))
	})
	r.Handle("GET", "/bundle/:key/chunk/:n", func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		n, _ := strconv.Atoi(ps.ByName("n"))
		if ps.ByName("key") != "440" || n < 1 || n > chunks {
			w.WriteHeader(404)
			return
		}
		lo := (n - 1) * fakeLimit
		hi := lo + fakeLimit
		if hi > len(fakeBlob) {
			hi = len(fakeBlob)
		}
		w.Write(fakeBlob[lo:hi])
	})
	r.Handle("GET", "/bundle/:key/info", func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		if ps.ByName("key") != "440" {
			w.WriteHeader(404)
			return
		}
		fmt.Fprintf(w, `{"Key":"440","Size":%d,"Chunks":%d}`, len(fakeBlob), chunks)
	})
	r.Handle("POST", "/bundle/:key", func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		if req.Header.Get("X-Api-Key") != "secret" {
			w.WriteHeader(401)
			return
		}
		switch ps.ByName("key") {
		case "440":
			w.WriteHeader(409)
		case "570":
			w.WriteHeader(201)
			fmt.Fprint(w, `{"Key":"570","Size":123,"Chunks":1}`)
		default:
			w.WriteHeader(404)
		}
	})
	r.Handle("GET", "/list/", func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		fmt.Fprint(w, `["440.bundle"]`)
	})
	return r
}

func newTestConnection(t *testing.T) (*Connection, *httptest.Server) {
	srv := httptest.NewServer(fakeAPI(t))
	return &Connection{HostURL: srv.URL, Token: "secret"}, srv
}

func TestDownload(t *testing.T) {
	c, srv := newTestConnection(t)
	defer srv.Close()

	var buf bytes.Buffer
	if err := c.Download(&buf, "440"); err != nil {
		t.Fatalf("Download: %s", err)
	}
	if !bytes.Equal(buf.Bytes(), fakeBlob) {
		t.Errorf("downloaded %d bytes, expected %d", buf.Len(), len(fakeBlob))
	}

	if err := c.Download(&buf, "999"); err != ErrNotFound {
		t.Errorf("missing bundle: got %v, expected ErrNotFound", err)
	}
}

func TestDownloadChunked(t *testing.T) {
	c, srv := newTestConnection(t)
	defer srv.Close()

	var buf bytes.Buffer
	if err := c.DownloadChunked(&buf, "440"); err != nil {
		t.Fatalf("DownloadChunked: %s", err)
	}
	if !bytes.Equal(buf.Bytes(), fakeBlob) {
		t.Errorf("chunked download does not reproduce the blob")
	}
}

func TestPopulate(t *testing.T) {
	c, srv := newTestConnection(t)
	defer srv.Close()

	v, err := c.Populate("570")
	if err != nil {
		t.Fatalf("Populate: %s", err)
	}
	if size, _ := v.GetInt64("Size"); size != 123 {
		t.Errorf("populate size %d", size)
	}

	if _, err = c.Populate("440"); err != ErrExists {
		t.Errorf("duplicate populate: got %v, expected ErrExists", err)
	}
	if _, err = c.Populate("999"); err != ErrNotFound {
		t.Errorf("unknown populate: got %v, expected ErrNotFound", err)
	}

	c.Token = "wrong"
	if _, err = c.Populate("570"); err != ErrNotAuthorized {
		t.Errorf("bad token: got %v, expected ErrNotAuthorized", err)
	}
}

func TestBundleInfoAndList(t *testing.T) {
	c, srv := newTestConnection(t)
	defer srv.Close()

	v, err := c.BundleInfo("440")
	if err != nil {
		t.Fatalf("BundleInfo: %s", err)
	}
	if chunks, _ := v.GetInt64("Chunks"); chunks != 3 {
		t.Errorf("info chunks %d", chunks)
	}

	keys, err := c.List("")
	if err != nil {
		t.Fatalf("List: %s", err)
	}
	if len(keys) != 1 || keys[0] != "440.bundle" {
		t.Errorf("List = %v", keys)
	}
}
