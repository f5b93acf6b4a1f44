package main

import (
	"testing"
)

func TestSplitBucketPrefix(t *testing.T) {
	var table = []struct {
		location string
		addition string
		bucket   string
		prefix   string
	}{
		{"", "", "", ""},
		{"bucket", "", "bucket", ""},
		{"/bucket", "", "bucket", ""},
		{"bucket/and/a/prefix", "", "bucket", "and/a/prefix/"},
		{"bucket", "store", "bucket", "store/"},
		{"bucket/base", "store", "bucket", "base/store/"},
	}
	for _, tab := range table {
		bucket, prefix := splitBucketPrefix(tab.location, tab.addition)
		if bucket != tab.bucket || prefix != tab.prefix {
			t.Errorf("splitBucketPrefix(%q, %q) = (%q, %q), expected (%q, %q)",
				tab.location, tab.addition,
				bucket, prefix,
				tab.bucket, tab.prefix)
		}
	}
}

func TestParseLocation(t *testing.T) {
	if s := parselocation("", ""); s == nil {
		t.Errorf("empty location did not give a memory store")
	}
	dir := t.TempDir()
	if s := parselocation("file:"+dir, "store"); s == nil {
		t.Errorf("file location gave no store")
	}
	if s := parselocation("s3://localhost:9000/bucket", "store"); s == nil {
		t.Errorf("s3 location gave no store")
	}
	if s := parselocation("s3://localhost:9000/", "store"); s != nil {
		t.Errorf("s3 location with no bucket gave a store")
	}
}
