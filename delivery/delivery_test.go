package delivery

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func TestCount(t *testing.T) {
	const mib = 1024 * 1024
	var table = []struct {
		size, limit int64
		expected    int
	}{
		{0, DefaultLimit, 1},
		{1, DefaultLimit, 1},
		{DefaultLimit, DefaultLimit, 1},
		{DefaultLimit + 1, DefaultLimit, 2},
		{20 * mib, 9 * mib, 3},
		{18 * mib, 9 * mib, 2},
		{100, 10, 10},
		{101, 10, 11},
		// an unset limit means the default
		{1, 0, 1},
		{DefaultLimit + 1, 0, 2},
		{20 * mib, -1, 3},
	}
	for _, tab := range table {
		if n := Count(tab.size, tab.limit); n != tab.expected {
			t.Errorf("Count(%d, %d) = %d, expected %d",
				tab.size, tab.limit, n, tab.expected)
		}
	}
}

func TestChunkName(t *testing.T) {
	c := Chunk{Key: "440", N: 2, Total: 3}
	if name := c.Name(); name != "Part2_440.bundle" {
		t.Errorf("Name() = %q", name)
	}
}

// drain pulls every chunk out of c.
func drain(t *testing.T, c *Chunker) []Chunk {
	var result []Chunk
	for {
		chunk, err := c.Next()
		if err == io.EOF {
			return result
		}
		if err != nil {
			t.Fatalf("Next: %s", err)
		}
		result = append(result, chunk)
	}
}

func TestChunkerSplit(t *testing.T) {
	const mib = 1024 * 1024
	blob := bytes.Repeat([]byte{0xa5}, 20*mib)
	c := NewChunker(bytes.NewReader(blob), int64(len(blob)), "440", 9*mib)
	if c.Total() != 3 {
		t.Fatalf("Total() = %d, expected 3", c.Total())
	}
	chunks := drain(t, c)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks", len(chunks))
	}
	sizes := []int{9 * mib, 9 * mib, 2 * mib}
	var joined []byte
	for i, chunk := range chunks {
		if chunk.N != i+1 || chunk.Total != 3 || chunk.Key != "440" {
			t.Errorf("chunk %d header: %d/%d key %s",
				i, chunk.N, chunk.Total, chunk.Key)
		}
		if len(chunk.Data) != sizes[i] {
			t.Errorf("chunk %d is %d bytes, expected %d",
				i, len(chunk.Data), sizes[i])
		}
		joined = append(joined, chunk.Data...)
	}
	if !bytes.Equal(joined, blob) {
		t.Errorf("concatenated chunks do not reproduce the blob")
	}
}

func TestChunkerSingle(t *testing.T) {
	blob := []byte("small blob")
	c := NewChunker(bytes.NewReader(blob), int64(len(blob)), "570", 0)
	chunks := drain(t, c)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, expected 1", len(chunks))
	}
	if !bytes.Equal(chunks[0].Data, blob) {
		t.Errorf("chunk content %q", chunks[0].Data)
	}
	if chunks[0].Total != 1 {
		t.Errorf("Total = %d", chunks[0].Total)
	}
}

func TestChunkerEmpty(t *testing.T) {
	c := NewChunker(bytes.NewReader(nil), 0, "99", 0)
	chunks := drain(t, c)
	if len(chunks) != 1 || len(chunks[0].Data) != 0 {
		t.Fatalf("empty blob: got %v", chunks)
	}
}

func TestChunkerShortSource(t *testing.T) {
	// promises 100 bytes, delivers 40
	c := NewChunker(bytes.NewReader(make([]byte, 40)), 100, "1", 30)
	if _, err := c.Next(); err != nil {
		t.Fatalf("chunk 1: %s", err)
	}
	if _, err := c.Next(); err != nil {
		t.Fatalf("chunk 2: %s", err)
	}
	if _, err := c.Next(); err == nil {
		t.Errorf("short source: expected an error")
	}
}

// collector records sent chunks, optionally failing at a given index.
type collector struct {
	chunks []Chunk
	failAt int // 0 = never
}

var errSendFailed = errors.New("send failed")

func (s *collector) Send(ctx context.Context, c Chunk) error {
	if s.failAt > 0 && len(s.chunks)+1 == s.failAt {
		return errSendFailed
	}
	s.chunks = append(s.chunks, c)
	return nil
}

func TestDeliver(t *testing.T) {
	blob := bytes.Repeat([]byte{1}, 25)
	c := NewChunker(bytes.NewReader(blob), 25, "440", 10)
	s := &collector{}
	sent, err := Deliver(context.Background(), c, s, 0)
	if err != nil {
		t.Fatalf("Deliver: %s", err)
	}
	if sent != 3 || len(s.chunks) != 3 {
		t.Fatalf("sent %d chunks, recorded %d", sent, len(s.chunks))
	}
	for i, chunk := range s.chunks {
		if chunk.N != i+1 {
			t.Errorf("chunk %d arrived at position %d", chunk.N, i)
		}
	}
}

func TestDeliverAbortsOnError(t *testing.T) {
	blob := bytes.Repeat([]byte{1}, 25)
	c := NewChunker(bytes.NewReader(blob), 25, "440", 10)
	s := &collector{failAt: 2}
	sent, err := Deliver(context.Background(), c, s, 0)
	if err == nil {
		t.Fatalf("expected an error")
	}
	if sent != 1 || len(s.chunks) != 1 {
		t.Errorf("sent %d chunks after failure, recorded %d", sent, len(s.chunks))
	}
}

func TestDeliverCancel(t *testing.T) {
	blob := bytes.Repeat([]byte{1}, 25)
	c := NewChunker(bytes.NewReader(blob), 25, "440", 10)
	ctx, cancel := context.WithCancel(context.Background())
	s := &collector{}
	cancel()
	// pause forces a context check between chunks
	sent, err := Deliver(ctx, c, s, time.Hour)
	if err != context.Canceled {
		t.Errorf("got %v, expected context.Canceled", err)
	}
	if sent != 1 {
		t.Errorf("sent %d chunks, expected 1 before cancellation", sent)
	}
}
