// Package vault coordinates the cache. A Vault answers two questions: is
// there a bundle for this key, and if not, can one be built from the
// configured origin repositories.
package vault

import (
	"log"

	raven "github.com/getsentry/raven-go"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/depotvault/depotvault/bundle"
	"github.com/depotvault/depotvault/origin"
	"github.com/depotvault/depotvault/store"
)

// Exported errors
var (
	ErrInvalidKey = errors.New("key is not a positive whole number")
	ErrNotFound   = errors.New("no bundle cached for key")
	ErrExists     = errors.New("bundle already cached for key")
	ErrNoOrigin   = errors.New("no origin repository has this key")
)

// A Fetcher downloads the manifest file set for one key from one
// repository. *origin.Client implements it.
type Fetcher interface {
	FetchFileSet(repo origin.Repo, key string) ([]bundle.File, error)
}

// A Vault is a cache of bundles backed by a store, populated on demand from
// an ordered list of origin repositories. Methods are safe to call from
// multiple goroutines.
type Vault struct {
	Store   store.Store
	Source  Fetcher
	Origins []origin.Repo // scanned in order; the first to resolve wins

	populating singleflight.Group
}

// ValidateKey checks that key is usable as a cache key. Keys are decimal
// digit strings ("440", "2358720"). Anything else is rejected before any
// store or network traffic happens.
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	for _, r := range key {
		if r < '0' || r > '9' {
			return ErrInvalidKey
		}
	}
	return nil
}

// Contains reports whether a bundle for key is already cached.
func (v *Vault) Contains(key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	return v.contains(key)
}

func (v *Vault) contains(key string) (bool, error) {
	name := bundle.BlobName(key)
	keys, err := v.Store.ListPrefix(name)
	if err != nil {
		return false, errors.Wrap(err, "list cache")
	}
	for _, k := range keys {
		if k == name {
			return true, nil
		}
	}
	return false, nil
}

// Retrieve opens the cached bundle blob for key. The caller closes the
// returned stream. A key with no cached bundle returns ErrNotFound; nothing
// is fetched from an origin.
func (v *Vault) Retrieve(key string) (store.ReadAtCloser, int64, error) {
	if err := ValidateKey(key); err != nil {
		return nil, 0, err
	}
	ok, err := v.contains(key)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return nil, 0, ErrNotFound
	}
	stream, size, err := v.Store.Open(bundle.BlobName(key))
	if err != nil {
		return nil, 0, errors.Wrap(err, "open cache")
	}
	return stream, size, nil
}

// PopulateInfo describes a completed populate.
type PopulateInfo struct {
	Size   int64       // bytes of the cached blob
	Origin origin.Repo // the repository that served the key
	Files  int         // entries in the bundle
}

// Populate builds and caches the bundle for key from the first origin
// repository having a branch named key. A key already cached returns
// ErrExists. A key no origin knows returns ErrNoOrigin.
//
// Concurrent calls for the same key are coalesced: one fetch runs, and
// every caller gets its result. A loser of that race sees ErrExists only
// on a later call, same as any other duplicate.
func (v *Vault) Populate(key string) (PopulateInfo, error) {
	if err := ValidateKey(key); err != nil {
		return PopulateInfo{}, err
	}
	info, err, _ := v.populating.Do(key, func() (interface{}, error) {
		return v.populate(key)
	})
	if err != nil {
		return PopulateInfo{}, err
	}
	return info.(PopulateInfo), nil
}

func (v *Vault) populate(key string) (PopulateInfo, error) {
	var result PopulateInfo
	ok, err := v.contains(key)
	if err != nil {
		return result, err
	}
	if ok {
		return result, ErrExists
	}

	files, repo, err := v.fetch(key)
	if err != nil {
		return result, err
	}
	log.Printf("populate %s from %s (%d files)", key, repo, len(files))

	size, err := bundle.Assemble(v.Store, key, files)
	if err == store.ErrKeyExists {
		// someone else cached it between our check and our write
		return result, ErrExists
	}
	if err != nil {
		raven.CaptureError(err, map[string]string{"key": key})
		return result, errors.Wrap(err, "assemble bundle")
	}
	result.Size = size
	result.Origin = repo
	result.Files = len(files)
	return result, nil
}

// fetch scans the origin list in order and returns the file set from the
// first repository whose branch resolves. A branch that resolves but has no
// matching files still wins the scan; later repositories are not consulted.
func (v *Vault) fetch(key string) ([]bundle.File, origin.Repo, error) {
	for _, repo := range v.Origins {
		files, err := v.Source.FetchFileSet(repo, key)
		if err == origin.ErrBranchNotFound {
			continue
		}
		if err != nil {
			return nil, repo, errors.Wrapf(err, "origin %s", repo)
		}
		return files, repo, nil
	}
	return nil, "", ErrNoOrigin
}
