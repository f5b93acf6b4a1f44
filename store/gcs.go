package store

import (
	"context"
	"io"
	"log"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	raven "github.com/getsentry/raven-go"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// A GCS store keeps blobs in a Google Cloud Storage bucket. As with the S3
// store, the prefix is prepended to every key so a bucket can be shared.
//
// Blob creation uses a DoesNotExist precondition, so the create-if-absent
// guarantee is enforced by the service itself rather than by a racy
// check-then-write.
type GCS struct {
	client *storage.Client
	Bucket string
	Prefix string
	sizes  *sizecache
	ctx    context.Context
}

var _ Store = &GCS{}

// NewGCS creates a GCS store on the given bucket using an already
// constructed client.
func NewGCS(bucket, prefix string, client *storage.Client) *GCS {
	return &GCS{
		client: client,
		Bucket: bucket,
		Prefix: prefix,
		sizes:  newSizeCache(),
		ctx:    context.Background(),
	}
}

// NewGCSFromKeyFile creates a GCS store authenticating with the given
// service account key file. An empty keyPath uses application default
// credentials.
func NewGCSFromKeyFile(bucket, prefix, keyPath string) (*GCS, error) {
	var opts []option.ClientOption
	if keyPath != "" {
		opts = append(opts, option.WithCredentialsFile(keyPath))
	}
	client, err := storage.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, err
	}
	return NewGCS(bucket, prefix, client), nil
}

// List returns every key in this store.
func (g *GCS) List() <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		it := g.client.Bucket(g.Bucket).Objects(g.ctx, &storage.Query{Prefix: g.Prefix})
		for {
			attrs, err := it.Next()
			if err == iterator.Done {
				return
			}
			if err != nil {
				log.Println("GCS List:", g.Prefix, err)
				raven.CaptureError(err, map[string]string{"Bucket": g.Bucket, "Prefix": g.Prefix})
				return
			}
			out <- strings.TrimPrefix(attrs.Name, g.Prefix)
		}
	}()
	return out
}

// ListPrefix returns the keys in this store having the given prefix.
func (g *GCS) ListPrefix(prefix string) ([]string, error) {
	var result []string
	it := g.client.Bucket(g.Bucket).Objects(g.ctx, &storage.Query{Prefix: g.Prefix + prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			log.Println("GCS ListPrefix:", g.Prefix, prefix, err)
			raven.CaptureError(err, map[string]string{"Bucket": g.Bucket, "Prefix": g.Prefix, "Pattern": prefix})
			return result, err
		}
		result = append(result, strings.TrimPrefix(attrs.Name, g.Prefix))
	}
	return result, nil
}

// Open returns a ReadAtCloser for the given key. Each ReadAt is served by a
// ranged read against the object.
func (g *GCS) Open(key string) (ReadAtCloser, int64, error) {
	size, err := g.stat(key)
	if err != nil {
		return nil, 0, err
	}
	return &gcsReadAtCloser{
		obj:  g.client.Bucket(g.Bucket).Object(g.Prefix + key),
		ctx:  g.ctx,
		size: size,
	}, size, nil
}

// Create returns a WriteCloser which uploads content to the given key.
// Returns ErrKeyExists if the key is already present.
func (g *GCS) Create(key string) (io.WriteCloser, error) {
	_, err := g.stat(key)
	if err == nil {
		return nil, ErrKeyExists
	}
	g.sizes.Set(key, 0)
	obj := g.client.Bucket(g.Bucket).Object(g.Prefix + key).
		If(storage.Conditions{DoesNotExist: true})
	w := obj.NewWriter(g.ctx)
	w.ContentType = "application/octet-stream"
	return &gcsWriteCloser{w: w, sizes: g.sizes, key: key}, nil
}

// Delete removes the given key. It is not an error to delete a key that
// does not exist.
func (g *GCS) Delete(key string) error {
	err := g.client.Bucket(g.Bucket).Object(g.Prefix + key).Delete(g.ctx)
	if err == storage.ErrObjectNotExist {
		err = nil
	}
	if err != nil {
		log.Println("GCS Delete:", g.Prefix, key, err)
		raven.CaptureError(err, map[string]string{"Bucket": g.Bucket, "Key": key})
	} else {
		g.sizes.Set(key, sizeDeleted)
	}
	return err
}

func (g *GCS) stat(key string) (int64, error) {
	return g.sizes.Get(key, g.stat0)
}

func (g *GCS) stat0(key string) (int64, error) {
	attrs, err := g.client.Bucket(g.Bucket).Object(g.Prefix + key).Attrs(g.ctx)
	if err != nil {
		return 0, err
	}
	return attrs.Size, nil
}

type gcsReadAtCloser struct {
	obj  *storage.ObjectHandle
	ctx  context.Context
	size int64
}

func (rac *gcsReadAtCloser) ReadAt(p []byte, off int64) (int, error) {
	if off >= rac.size {
		return 0, io.EOF
	}
	want := int64(len(p))
	if off+want > rac.size {
		want = rac.size - off
	}
	r, err := rac.obj.NewRangeReader(rac.ctx, off, want)
	if err != nil {
		return 0, err
	}
	defer r.Close()
	n, err := io.ReadFull(r, p[:want])
	if err == nil && int64(n) < int64(len(p)) {
		err = io.EOF
	}
	return n, err
}

func (rac *gcsReadAtCloser) Close() error { return nil }

type gcsWriteCloser struct {
	w     *storage.Writer
	sizes *sizecache
	key   string
	size  int64
}

func (wc *gcsWriteCloser) Write(p []byte) (int, error) {
	n, err := wc.w.Write(p)
	wc.size += int64(n)
	return n, err
}

func (wc *gcsWriteCloser) Close() error {
	err := wc.w.Close()
	if err != nil {
		// a failed DoesNotExist precondition means another writer
		// committed this key while we were uploading
		if e, ok := err.(*googleapi.Error); ok && e.Code == http.StatusPreconditionFailed {
			return ErrKeyExists
		}
		log.Println("GCS Close:", wc.key, err)
		raven.CaptureError(err, map[string]string{"Key": wc.key})
		return err
	}
	wc.sizes.Set(wc.key, wc.size)
	return nil
}
