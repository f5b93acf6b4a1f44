package store

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// ErrKeySlash means the key contains a forward slash.
	ErrKeySlash = errors.New("key contains forward slash")

	// ErrKeyBadChar means the key contains whitespace, control characters,
	// or is not valid UTF-8.
	ErrKeyBadChar = errors.New("key contains invalid characters")
)

// validKey checks that a key is safe to use as a file name.
func validKey(key string) error {
	if !utf8.ValidString(key) {
		return ErrKeyBadChar
	}
	if strings.Contains(key, "/") {
		return ErrKeySlash
	}
	for _, r := range key {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return ErrKeyBadChar
		}
	}
	return nil
}
