package store

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
)

// ContentHash returns the hex SHA-256 of data.
func ContentHash(data []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(data))
}

// ComputeSignatureHash computes a deterministic hash from a symbol's
// semantic identity: name, kind, whitespace-normalized signature text and
// decorators. Location changes do NOT affect the hash.
func ComputeSignatureHash(name, kind, signature string, decorators []string) string {
	h := sha256.New()
	fmt.Fprintf(h, "name:%s\n", name)
	fmt.Fprintf(h, "kind:%s\n", kind)
	fmt.Fprintf(h, "signature:%s\n", strings.Join(strings.Fields(signature), " "))

	sorted := make([]string, len(decorators))
	copy(sorted, decorators)
	sort.Strings(sorted)
	fmt.Fprintf(h, "decorators:%s\n", strings.Join(sorted, ","))

	return fmt.Sprintf("%x", h.Sum(nil))
}

// ComputeDocstringHash hashes a docstring after trimming surrounding space.
// An empty docstring hashes to "".
func ComputeDocstringHash(doc string) string {
	doc = strings.TrimSpace(doc)
	if doc == "" {
		return ""
	}
	return ContentHash([]byte(doc))
}
