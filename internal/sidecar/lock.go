package sidecar

import (
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// LockVersion is written to every lock file.
const LockVersion = "1.0"

// Fingerprint keys.
const (
	BaselineStructureHash = "baseline_code_structure_hash"
	BaselineSignatureText = "baseline_code_signature_text"
	BaselineYAMLHash      = "baseline_yaml_content_hash"
	CurrentStructureHash  = "current_code_structure_hash"
	CurrentSignatureText  = "current_code_signature_text"
	CurrentYAMLHash       = "current_yaml_content_hash"
)

// Fingerprint maps fingerprint keys to values for one symbol.
type Fingerprint map[string]string

// Equal reports whether f and o hold the same keys and values.
func (f Fingerprint) Equal(o Fingerprint) bool {
	if len(f) != len(o) {
		return false
	}
	for k, v := range f {
		if ov, ok := o[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

type lockDoc struct {
	Version      string                 `json:"version"`
	Fingerprints map[string]Fingerprint `json:"fingerprints"`
}

// ParseLock decodes a lock file into SURI -> Fingerprint.
func ParseLock(data []byte) (map[string]Fingerprint, error) {
	var doc lockDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("lock file: %w", err)
	}
	if doc.Fingerprints == nil {
		doc.Fingerprints = make(map[string]Fingerprint)
	}
	return doc.Fingerprints, nil
}

// EncodeLock renders entries as a stable, indented lock file. Keys are
// sorted by encoding/json.
func EncodeLock(entries map[string]Fingerprint) (string, error) {
	if entries == nil {
		entries = map[string]Fingerprint{}
	}
	out, err := json.MarshalIndent(lockDoc{Version: LockVersion, Fingerprints: entries}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("lock file: %w", err)
	}
	return string(out) + "\n", nil
}

// YAMLContentHash fingerprints a doc sidecar value.
func YAMLContentHash(value string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(value))
}
