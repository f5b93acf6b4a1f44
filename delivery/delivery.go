// Package delivery splits a bundle blob into fixed-size chunks and sends
// them, in order, to a destination that cannot accept the whole blob at
// once. Concatenating the chunks in order reproduces the blob exactly.
package delivery

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
)

// DefaultLimit is the largest chunk we emit unless told otherwise. It is
// sized to fit under common attachment ceilings with room for protocol
// overhead.
const DefaultLimit = 9 * 1024 * 1024

// A Chunk is one contiguous piece of a blob. N counts from 1 up to Total.
type Chunk struct {
	Key   string
	N     int
	Total int
	Data  []byte
}

// Name returns the conventional file name for this chunk.
func (c Chunk) Name() string {
	return fmt.Sprintf("Part%d_%s.bundle", c.N, c.Key)
}

// Count returns how many chunks a blob of the given size splits into under
// the given limit. A blob no larger than the limit is a single chunk, and
// so is an empty blob. A limit <= 0 means DefaultLimit.
func Count(size, limit int64) int {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if size <= limit {
		return 1
	}
	n := size / limit
	if size%limit != 0 {
		n++
	}
	return int(n)
}

// A Chunker cuts a blob into chunks lazily, reading each chunk from the
// source only when asked for it. At most one chunk is held in memory at a
// time.
type Chunker struct {
	src   io.Reader
	key   string
	limit int64
	total int
	next  int
}

// NewChunker prepares to cut size bytes from r into chunks of at most limit
// bytes. A limit of 0 or less means DefaultLimit.
func NewChunker(r io.Reader, size int64, key string, limit int64) *Chunker {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Chunker{
		src:   r,
		key:   key,
		limit: limit,
		total: Count(size, limit),
		next:  1,
	}
}

// Total returns how many chunks this blob splits into.
func (c *Chunker) Total() int {
	return c.total
}

// Next returns the next chunk in order. After the last chunk it returns
// io.EOF. A source that ends before delivering the promised size returns
// io.ErrUnexpectedEOF.
func (c *Chunker) Next() (Chunk, error) {
	if c.next > c.total {
		return Chunk{}, io.EOF
	}
	buf := make([]byte, c.limit)
	n, err := io.ReadFull(c.src, buf)
	switch {
	case err == io.ErrUnexpectedEOF && c.next == c.total:
		// a short final chunk is the normal case
		err = nil
	case err == io.EOF && c.next == 1 && c.total == 1:
		// an empty blob is still one (empty) chunk
		err = nil
	case err != nil:
		return Chunk{}, errors.Wrapf(err, "read chunk %d of %s", c.next, c.key)
	}
	result := Chunk{
		Key:   c.key,
		N:     c.next,
		Total: c.total,
		Data:  buf[:n],
	}
	c.next++
	return result, nil
}

// A Sender accepts one chunk of a delivery. Implementations post the chunk
// somewhere: an HTTP response, a chat attachment, a file.
type Sender interface {
	Send(ctx context.Context, c Chunk) error
}

// Deliver sends every chunk from the chunker through s, in order, pausing
// for the given duration between consecutive chunks. A pause of 0 or less
// sends back to back. The first send error or context cancellation aborts
// the delivery; chunks already sent stay sent. Returns the number of
// chunks sent.
func Deliver(ctx context.Context, c *Chunker, s Sender, pause time.Duration) (int, error) {
	sent := 0
	for {
		chunk, err := c.Next()
		if err == io.EOF {
			return sent, nil
		}
		if err != nil {
			return sent, err
		}
		if sent > 0 && pause > 0 {
			select {
			case <-time.After(pause):
			case <-ctx.Done():
				return sent, ctx.Err()
			}
		}
		if err := s.Send(ctx, chunk); err != nil {
			return sent, errors.Wrapf(err, "send chunk %d of %s", chunk.N, chunk.Key)
		}
		sent++
	}
}
