package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/depotvault/depotvault/clientapi"
	"github.com/depotvault/depotvault/delivery"
)

// doGet downloads the bundle for key into <outdir>/<key>.bundle.
func doGet(conn *clientapi.Connection, key string) error {
	target := filepath.Join(*outdir, key+".bundle")
	f, err := os.Create(target)
	if err != nil {
		return err
	}
	if *chunked {
		err = conn.DownloadChunked(f, key)
	} else {
		err = conn.Download(f, key)
	}
	if err != nil {
		f.Close()
		os.Remove(target)
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Println("wrote", target)
	return nil
}

// fileSender writes each chunk to its own file in dir.
type fileSender struct {
	dir string
}

func (s fileSender) Send(ctx context.Context, c delivery.Chunk) error {
	target := filepath.Join(s.dir, c.Name())
	err := os.WriteFile(target, c.Data, 0644)
	if err == nil {
		fmt.Printf("wrote %s (%d of %d)\n", target, c.N, c.Total)
	}
	return err
}

// doExport downloads the bundle for key and cuts it into PartN_<key>.bundle
// files in the output directory, pausing between parts if asked. The parts
// concatenated in order are the bundle.
func doExport(ctx context.Context, conn *clientapi.Connection, key string) error {
	tmp, err := os.CreateTemp(*outdir, ".dvault-")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if err := conn.Download(tmp, key); err != nil {
		return err
	}
	size, err := tmp.Seek(0, os.SEEK_CUR)
	if err != nil {
		return err
	}
	if _, err := tmp.Seek(0, os.SEEK_SET); err != nil {
		return err
	}

	chunker := delivery.NewChunker(tmp, size, key, *limit)
	sent, err := delivery.Deliver(ctx, chunker, fileSender{dir: *outdir}, *pause)
	if err != nil {
		return err
	}
	fmt.Printf("exported %d parts of %s\n", sent, key)
	return nil
}

// doAdd asks the server to populate the bundle for key from its origins.
func doAdd(conn *clientapi.Connection, key string) error {
	v, err := conn.Populate(key)
	if err != nil {
		return err
	}
	size, _ := v.GetInt64("Size")
	chunks, _ := v.GetInt64("Chunks")
	from, _ := v.GetString("Origin")
	fmt.Printf("populated %s from %s: %d bytes, %d chunks\n", key, from, size, chunks)
	return nil
}

// doInfo prints the info document for a cached bundle.
func doInfo(conn *clientapi.Connection, key string) error {
	v, err := conn.BundleInfo(key)
	if err != nil {
		return err
	}
	size, _ := v.GetInt64("Size")
	chunks, _ := v.GetInt64("Chunks")
	entries, _ := v.GetStringArray("Entries")
	from, _ := v.GetString("Origin")
	fmt.Printf("Key: %s\nSize: %d\nChunks: %d\n", key, size, chunks)
	if from != "" {
		fmt.Printf("Origin: %s\n", from)
	}
	for _, entry := range entries {
		fmt.Println("  ", entry)
	}
	return nil
}

// doLs lists blob keys on the server, optionally under a prefix.
func doLs(conn *clientapi.Connection, prefix string) error {
	keys, err := conn.List(prefix)
	if err != nil {
		return err
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Println(key)
	}
	return nil
}
