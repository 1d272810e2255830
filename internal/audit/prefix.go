package audit

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

const maxKeyLength = 64 * 1024

// KeyIndex is an in-memory keys-only snapshot of the store. It is taken once
// per run and shared by every prefix lookup, so discovering prefixes for the
// whole catalog costs string scans rather than repeated remote listings.
type KeyIndex struct {
	keys []string
}

// NewKeyIndex wraps an already listed set of keys.
func NewKeyIndex(keys []string) *KeyIndex {
	return &KeyIndex{keys: keys}
}

// ReadKeyIndex builds an index from a keys-only listing. Blank lines, which
// the store's CLI prints between keys, are ignored.
func ReadKeyIndex(r io.Reader) (*KeyIndex, error) {
	idx := &KeyIndex{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxKeyLength)
	for scanner.Scan() {
		key := strings.TrimSpace(scanner.Text())
		if key == "" {
			continue
		}
		idx.keys = append(idx.keys, key)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read key listing: %w", err)
	}
	return idx, nil
}

// Len returns the number of keys in the snapshot.
func (idx *KeyIndex) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.keys)
}

// CountUnder counts keys that start with prefix + "/".
func (idx *KeyIndex) CountUnder(prefix string) int64 {
	if idx == nil {
		return 0
	}
	scope := strings.TrimSuffix(prefix, "/") + "/"
	var n int64
	for _, k := range idx.keys {
		if strings.HasPrefix(k, scope) {
			n++
		}
	}
	return n
}

// NormalizeKind drops an API group suffix: "widgets.example.com" becomes "widgets".
func NormalizeKind(kind string) string {
	if i := strings.IndexByte(kind, '.'); i >= 0 {
		return kind[:i]
	}
	return kind
}

// InferPrefix is a best-effort guess at the key prefix of a resource kind.
//
// It returns everything up to and including the "/<kind>" segment of the
// first key containing "/<kind>/". Nothing verifies that the match really
// belongs to kind: a short name shared by two API groups resolves to
// whichever key comes first. ErrPrefixNotFound is returned when no key
// matches; a prefix is never guessed.
func (idx *KeyIndex) InferPrefix(kind string) (KeyPrefix, error) {
	name := NormalizeKind(strings.TrimSpace(kind))
	if name == "" || idx == nil {
		return KeyPrefix{}, fmt.Errorf("%w: %q", ErrPrefixNotFound, kind)
	}

	segment := "/" + name + "/"
	for _, k := range idx.keys {
		if i := strings.Index(k, segment); i >= 0 {
			return KeyPrefix{Kind: kind, Prefix: k[:i+len(segment)-1]}, nil
		}
	}
	return KeyPrefix{}, fmt.Errorf("%w: %q", ErrPrefixNotFound, kind)
}
