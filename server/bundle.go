package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"

	"github.com/depotvault/depotvault/bundle"
	"github.com/depotvault/depotvault/delivery"
	"github.com/depotvault/depotvault/store"
)

// BundleHandler handles GET and HEAD requests to "/bundle/:key". The whole
// cached blob is returned. The X-Chunk-Count header tells a client how many
// pieces the chunk route would cut this blob into.
func (s *RESTServer) BundleHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	key := ps.ByName("key")
	stream, size, err := s.Vault.Retrieve(key)
	if err != nil {
		writeVaultError(w, key, err)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.Header().Set("X-Chunk-Count", strconv.Itoa(delivery.Count(size, s.ChunkLimit)))
	if r.Method == "HEAD" {
		return
	}
	io.Copy(w, store.NewReader(stream))
}

// bundleInfo is the JSON document returned by the info route.
type bundleInfo struct {
	Key        string
	Size       int64
	ChunkLimit int64
	Chunks     int
	Entries    []string
	Origin     string `json:",omitempty"`
}

// BundleInfoHandler handles GET requests to "/bundle/:key/info".
func (s *RESTServer) BundleInfoHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	key := ps.ByName("key")
	stream, size, err := s.Vault.Retrieve(key)
	if err != nil {
		writeVaultError(w, key, err)
		return
	}
	stream.Close()

	z, err := bundle.Open(s.Vault.Store, key)
	if err != nil {
		writeVaultError(w, key, err)
		return
	}
	info := bundleInfo{
		Key:        key,
		Size:       size,
		ChunkLimit: s.ChunkLimit,
		Chunks:     delivery.Count(size, s.ChunkLimit),
		Entries:    z.Paths(),
	}
	z.Close()
	if rec, err := s.Records.LookupRecord(key); err == nil {
		info.Origin = rec.Origin
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(info)
}

// ChunkHandler handles GET requests to "/bundle/:key/chunk/:n". Chunks are
// numbered starting at 1. Concatenating chunks 1..Total reproduces the
// blob served by the bundle route.
func (s *RESTServer) ChunkHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	key := ps.ByName("key")
	n, err := strconv.Atoi(ps.ByName("n"))
	if err != nil || n < 1 {
		w.WriteHeader(400)
		fmt.Fprintln(w, "bad chunk number")
		return
	}
	stream, size, err := s.Vault.Retrieve(key)
	if err != nil {
		writeVaultError(w, key, err)
		return
	}
	defer stream.Close()

	total := delivery.Count(size, s.ChunkLimit)
	if n > total {
		w.WriteHeader(404)
		fmt.Fprintf(w, "chunk %d of %d does not exist\n", n, total)
		return
	}
	offset := int64(n-1) * s.ChunkLimit
	length := size - offset
	if length > s.ChunkLimit {
		length = s.ChunkLimit
	}
	chunk := delivery.Chunk{Key: key, N: n, Total: total}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename=%q`, chunk.Name()))
	w.Header().Set("X-Chunk-Number", strconv.Itoa(n))
	w.Header().Set("X-Chunk-Total", strconv.Itoa(total))
	io.Copy(w, io.NewSectionReader(stream, offset, length))
}

// PopulateHandler handles POST requests to "/bundle/:key". The bundle is
// fetched from the first origin knowing the key and cached. Populates may
// be rate limited per user; a request inside the cooldown window returns
// 429 with a Retry-After header.
func (s *RESTServer) PopulateHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	key := ps.ByName("key")
	user := ps.ByName("username")

	if s.Cooldown != nil {
		if wait, ok := s.Cooldown.Allow(user); !ok {
			w.Header().Set("Retry-After", retryAfter(wait))
			w.WriteHeader(429)
			fmt.Fprintf(w, "wait %s before the next populate\n", wait)
			return
		}
	}

	info, err := s.Vault.Populate(key)
	if err != nil {
		writeVaultError(w, key, err)
		return
	}
	rec := BundleRecord{
		Key:    key,
		Size:   info.Size,
		Origin: string(info.Origin),
		User:   user,
	}
	if err := s.Records.SaveRecord(rec); err != nil {
		// the bundle is cached either way. log and keep going.
		log.Printf("save record %s: %s", key, err)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(201)
	json.NewEncoder(w).Encode(bundleInfo{
		Key:        key,
		Size:       info.Size,
		ChunkLimit: s.ChunkLimit,
		Chunks:     delivery.Count(info.Size, s.ChunkLimit),
		Origin:     string(info.Origin),
	})
}

// ListHandler handles GET requests to "/list/".
func (s *RESTServer) ListHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	c := s.Vault.Store.List()
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	// we encode this as JSON ourselves....how could it go wrong?
	w.Write([]byte("["))
	// comma starts as a space
	var comma = ' '
	for key := range c {
		fmt.Fprintf(w, "%c%q", comma, key)
		comma = ','
	}
	w.Write([]byte("]"))
}

// ListPrefixHandler handles GET requests to "/list/:prefix".
func (s *RESTServer) ListPrefixHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	prefix := ps.ByName("prefix")
	result, err := s.Vault.Store.ListPrefix(prefix)
	if err != nil {
		w.WriteHeader(500)
		fmt.Fprintln(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	enc := json.NewEncoder(w)
	enc.Encode(result) // ignore any error
}
