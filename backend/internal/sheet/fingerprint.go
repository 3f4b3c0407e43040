package sheet

import (
	"encoding/json"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// ChangeType is the classifier verdict for one accepted update.
type ChangeType string

const (
	// ChangeBreaking: the GM portion changed, receivers must rebuild the
	// whole view.
	ChangeBreaking ChangeType = "breaking"
	// ChangeSmall: only player values changed, receivers may patch
	// controls in place.
	ChangeSmall ChangeType = "small"
)

// Fingerprint hashes the GM portion for change detection. The portion is
// decoded and re-encoded first so that key order and whitespace do not
// matter (encoding/json sorts object keys). Returns "" for an absent or
// unparsable portion; "" never classifies as equal to anything.
//
// This is a rendering optimization, not a security primitive, so a fast
// non-cryptographic hash is fine.
func Fingerprint(portion json.RawMessage) string {
	if len(portion) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(portion, &v); err != nil {
		return ""
	}
	canonical, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return strconv.FormatUint(xxhash.Sum64(canonical), 16)
}

// Classify compares two fingerprints. When either side is unknown the
// verdict is breaking: a full rebuild is always safe, an in-place patch is
// only safe when the structure provably did not change.
func Classify(oldHash, newHash string) ChangeType {
	if oldHash == "" || newHash == "" {
		return ChangeBreaking
	}
	if oldHash != newHash {
		return ChangeBreaking
	}
	return ChangeSmall
}
