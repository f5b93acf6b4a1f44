package store

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	raven "github.com/getsentry/raven-go"
)

// An S3 store keeps blobs in an AWS S3 bucket (or anything speaking the S3
// protocol). Do not change Bucket or Prefix concurrently with calls using
// the structure.
type S3 struct {
	svc    *s3.S3
	Bucket string
	Prefix string
	sizes  *sizecache // remembers HEAD results
}

var _ Store = &S3{}

// NewS3 creates an S3 store on the given bucket. The prefix is prepended to
// every key, so one bucket can hold more than one store. The credentials in
// the session are used for all accesses.
func NewS3(bucket, prefix string, awsSession *session.Session) *S3 {
	return &S3{
		Bucket: bucket,
		Prefix: prefix,
		svc:    s3.New(awsSession),
		sizes:  newSizeCache(),
	}
}

// List returns every key in this store. Only keys under the store's Prefix
// are returned, so it is safe to use on a bucket holding other data.
func (s *S3) List() <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		input := &s3.ListObjectsV2Input{
			Bucket: aws.String(s.Bucket),
			Prefix: aws.String(s.Prefix),
		}
		err := s.svc.ListObjectsV2Pages(input,
			func(page *s3.ListObjectsV2Output, lastpage bool) bool {
				for _, item := range page.Contents {
					out <- strings.TrimPrefix(*item.Key, s.Prefix)
				}
				return !lastpage
			})
		if err != nil {
			log.Println("S3 List:", s.Prefix, err)
			raven.CaptureError(err, map[string]string{"Bucket": s.Bucket, "Prefix": s.Prefix})
		}
	}()
	return out
}

// ListPrefix returns the keys in this store having the given prefix.
func (s *S3) ListPrefix(prefix string) ([]string, error) {
	var result []string
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.Bucket),
		Prefix: aws.String(s.Prefix + prefix),
	}
	err := s.svc.ListObjectsV2Pages(input,
		func(page *s3.ListObjectsV2Output, lastpage bool) bool {
			for _, item := range page.Contents {
				result = append(result, strings.TrimPrefix(*item.Key, s.Prefix))
			}
			return !lastpage
		})
	if err != nil {
		log.Println("S3 ListPrefix:", s.Prefix, prefix, err)
		raven.CaptureError(err, map[string]string{"Bucket": s.Bucket, "Prefix": s.Prefix, "Pattern": prefix})
	}
	return result, err
}

// Open returns a ReadAtCloser for the content of the given key. Data is
// paged in from S3 as needed; a handful of pages are cached per reader.
func (s *S3) Open(key string) (ReadAtCloser, int64, error) {
	size, err := s.stat(key)
	if err != nil {
		return nil, 0, err
	}
	return &s3ReadAtCloser{
		svc:    s.svc,
		bucket: s.Bucket,
		key:    s.Prefix + key,
		size:   size,
	}, size, nil
}

// Create returns a WriteCloser which uploads content to the given key.
// Returns ErrKeyExists if the key is already present. Small blobs are sent
// with a single PUT; larger ones use the multipart interface.
func (s *S3) Create(key string) (io.WriteCloser, error) {
	_, err := s.stat(key)
	if err == nil {
		return nil, ErrKeyExists
	}
	s.sizes.Set(key, 0) // in case this key was previously deleted
	return &s3WriteCloser{
		svc:    s.svc,
		bucket: s.Bucket,
		key:    s.Prefix + key,
		sizes:  s.sizes,
		skey:   key,
	}, nil
}

// Delete removes the given key from the store. It is not an error to delete
// a key that does not exist.
func (s *S3) Delete(key string) error {
	_, err := s.svc.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Prefix + key),
	})
	if err != nil {
		log.Println("S3 Delete:", s.Prefix, key, err)
		raven.CaptureError(err, map[string]string{"Bucket": s.Bucket, "Prefix": s.Prefix, "Key": key})
	} else {
		s.sizes.Set(key, sizeDeleted)
	}
	return err
}

// stat checks whether a key exists, and if so returns its size. Sizes are
// cached to cut down on HEAD requests.
func (s *S3) stat(key string) (int64, error) {
	return s.sizes.Get(key, s.stat0)
}

func (s *S3) stat0(key string) (int64, error) {
	info, err := s.svc.HeadObject(&s3.HeadObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Prefix + key),
	})
	if err != nil {
		return 0, err
	}
	return *info.ContentLength, nil
}

// s3ReadAtCloser adapts ranged GETs into the io.ReaderAt interface with a
// small LRU of downloaded pages. In the expected case of a sequential read
// through the blob the pages are disjoint.
//
// It is not safe to use from more than one goroutine.
type s3ReadAtCloser struct {
	svc    *s3.S3
	bucket string
	key    string
	pages  []s3Page
	size   int64
}

type s3Page struct {
	data   []byte
	offset int64
}

const (
	// number of pages kept per reader before evicting the LRU
	maxReadPages = 5

	readPageSize = 10 * 1024 * 1024
)

func (rac *s3ReadAtCloser) ReadAt(p []byte, offset int64) (int, error) {
	var err error
	startOffset := offset
	for len(p) > 0 {
		if offset >= rac.size {
			break
		}
		var page s3Page
		page, err = rac.getpage(offset)
		if err != nil {
			// don't return yet, we may have copied data in a previous loop
			break
		}
		n := copy(p, page.data[offset-page.offset:])
		p = p[n:]
		offset += int64(n)
	}
	if err == io.EOF && startOffset != offset {
		err = nil
	} else if err == nil && startOffset == offset {
		err = io.EOF
	}
	return int(offset - startOffset), err
}

// getpage finds in memory or loads the page for the given offset, and moves
// it to the front of the page list.
func (rac *s3ReadAtCloser) getpage(offset int64) (s3Page, error) {
	i := rac.findpage(offset)
	if i == -1 {
		page, err := rac.loadpage(offset)
		if err != nil {
			return s3Page{}, err
		}
		if len(rac.pages) < maxReadPages {
			rac.pages = append(rac.pages, page)
		}
		i = len(rac.pages) - 1
		rac.pages[i] = page
	}
	page := rac.pages[i]
	if i > 0 {
		copy(rac.pages[1:], rac.pages[:i])
		rac.pages[0] = page
	}
	return page, nil
}

func (rac *s3ReadAtCloser) findpage(offset int64) int {
	for i, page := range rac.pages {
		base := page.offset
		limit := base + int64(len(page.data))
		if base <= offset && offset < limit {
			return i
		}
	}
	return -1
}

// loadpage reads one page from S3. Pages start at multiples of readPageSize,
// so pages in memory never overlap. The page at the end of the blob may be
// short.
func (rac *s3ReadAtCloser) loadpage(offset int64) (s3Page, error) {
	startpos := (offset / readPageSize) * readPageSize
	input := &s3.GetObjectInput{
		Bucket: aws.String(rac.bucket),
		Key:    aws.String(rac.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", startpos, startpos+readPageSize-1)),
	}
	output, err := rac.svc.GetObject(input)
	if err != nil {
		log.Println("S3 loadpage:", rac.key, offset, err)
		e, ok := err.(awserr.RequestFailure)
		if ok && e.StatusCode() == http.StatusRequestedRangeNotSatisfiable {
			err = io.EOF
		}
		return s3Page{}, err
	}
	var data bytes.Buffer
	n, err := io.Copy(&data, output.Body)
	output.Body.Close()
	if n == 0 && err == nil {
		err = io.EOF
	}
	return s3Page{data: data.Bytes(), offset: startpos}, err
}

func (rac *s3ReadAtCloser) Close() error { return nil }

// s3WriteCloser uploads a blob to S3. If everything fits into the first
// buffer a single PUT is used. Otherwise the multipart interface is used,
// with part sizes that grow so very large blobs stay under the AWS part
// count limit.
//
// Part i is uploaded once the buffer passes min(base<<i, max).
type s3WriteCloser struct {
	svc      *s3.S3
	bucket   string
	key      string
	sizes    *sizecache // parent's stat cache, updated on success
	skey     string     // key without the prefix, for the size cache
	buf      *bytes.Buffer
	size     int64 // total bytes written
	isMulti  bool
	uploadID string
	part     int // 0-based. AWS part numbers are 1-based
	etags    []string
	abort    bool
}

const (
	wcBaseSize = 16 * 1024 * 1024
	wcMaxSize  = 4 * 1024 * 1024 * 1024
)

// spare upload buffers, shared between all s3WriteCloser instances.
var wcBufferPool sync.Pool

func (wc *s3WriteCloser) Write(p []byte) (int, error) {
	if wc.buf == nil {
		wc.buf = wc.getbuf()
	}
	n, err := wc.buf.Write(p)
	if n == 0 && err != nil {
		wc.abort = true
		return n, err
	}
	wc.size += int64(n)
	threshold := int64(wcMaxSize)
	if wc.part < 8 {
		threshold = wcBaseSize << wc.part
	}
	if int64(wc.buf.Len()) > threshold {
		err = wc.uploadpart(wc.part, wc.buf)
		wc.buf.Reset()
		if err != nil {
			wc.abort = true
			return 0, err
		}
		wc.part++
	}
	return n, nil
}

// Close flushes anything buffered and completes the upload. If there was an
// error, any multipart transaction is abandoned and nothing is stored.
func (wc *s3WriteCloser) Close() error {
	if wc.buf != nil {
		defer func() {
			wcBufferPool.Put(wc.buf)
			wc.buf = nil
		}()
	}
	if !wc.isMulti {
		if wc.abort {
			return nil
		}
		err := wc.uploadfull(wc.buf)
		if err == nil {
			wc.sizes.Set(wc.skey, wc.size)
		}
		return err
	}
	var err error
	if !wc.abort && wc.buf.Len() > 0 {
		err = wc.uploadpart(wc.part, wc.buf)
		if err != nil {
			wc.abort = true
		}
	}
	if wc.abort {
		_, err2 := wc.svc.AbortMultipartUpload(&s3.AbortMultipartUploadInput{
			Bucket:   aws.String(wc.bucket),
			Key:      aws.String(wc.key),
			UploadId: aws.String(wc.uploadID),
		})
		if err2 != nil {
			log.Println("S3 abort upload:", wc.key, err2)
		}
		if err == nil {
			err = err2
		}
		return err
	}
	err = wc.finishMultipart()
	if err != nil {
		log.Println("S3 complete upload:", wc.key, err)
	} else {
		wc.sizes.Set(wc.skey, wc.size)
	}
	return err
}

func (wc *s3WriteCloser) getbuf() *bytes.Buffer {
	b, ok := wcBufferPool.Get().(*bytes.Buffer)
	if !ok {
		b = &bytes.Buffer{}
		b.Grow(2 * wcBaseSize)
	}
	b.Reset()
	return b
}

func (wc *s3WriteCloser) startMultipart() error {
	if wc.isMulti {
		return nil
	}
	result, err := wc.svc.CreateMultipartUpload(&s3.CreateMultipartUploadInput{
		Bucket: aws.String(wc.bucket),
		Key:    aws.String(wc.key),
	})
	if err != nil {
		log.Println("S3 startMultipart:", wc.key, err)
		raven.CaptureError(err, map[string]string{"Bucket": wc.bucket, "Key": wc.key})
		return err
	}
	wc.isMulti = true
	wc.uploadID = *result.UploadId
	return nil
}

func (wc *s3WriteCloser) finishMultipart() error {
	var completed []*s3.CompletedPart
	for i, etag := range wc.etags {
		completed = append(completed, &s3.CompletedPart{
			ETag:       aws.String(etag),
			PartNumber: aws.Int64(int64(i + 1)),
		})
	}
	_, err := wc.svc.CompleteMultipartUpload(&s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(wc.bucket),
		Key:      aws.String(wc.key),
		UploadId: aws.String(wc.uploadID),
		MultipartUpload: &s3.CompletedMultipartUpload{
			Parts: completed,
		},
	})
	return err
}

var errNoETag = fmt.Errorf("no ETag was returned from AWS")

func (wc *s3WriteCloser) uploadpart(partno int, buf *bytes.Buffer) error {
	if err := wc.startMultipart(); err != nil {
		return err
	}
	output, err := wc.svc.UploadPart(&s3.UploadPartInput{
		Body:       bytes.NewReader(buf.Bytes()), // need Seek()
		Bucket:     aws.String(wc.bucket),
		Key:        aws.String(wc.key),
		PartNumber: aws.Int64(int64(partno + 1)),
		UploadId:   aws.String(wc.uploadID),
	})
	if err != nil {
		log.Println("S3 uploadpart:", wc.key, partno+1, err)
		return err
	}
	if output.ETag == nil {
		log.Println("S3 nil ETag for part", partno, "key=", wc.key)
		return errNoETag
	}
	wc.etags = append(wc.etags, *output.ETag)
	return nil
}

func (wc *s3WriteCloser) uploadfull(buf *bytes.Buffer) error {
	// buf may be nil if Close is called without any Writes
	source := &bytes.Reader{}
	if buf != nil {
		source.Reset(buf.Bytes())
	}
	_, err := wc.svc.PutObject(&s3.PutObjectInput{
		Body:          source,
		Bucket:        aws.String(wc.bucket),
		Key:           aws.String(wc.key),
		ContentLength: aws.Int64(int64(source.Len())),
	})
	if err != nil {
		log.Println("S3 uploadfull:", wc.key, err)
	}
	return err
}
