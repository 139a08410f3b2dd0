package expense

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// Fingerprint computes a deterministic digest over a row's raw field values.
// Field ordering does not matter and the reprocess metadata columns are
// excluded, so a row re-exported without edits always hashes to the same
// value it was exported with.
func Fingerprint(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == MetaRowHash || k == MetaErrorReason {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		// unit separator between key and value, record separator between
		// pairs, so ("a", "b:c") and ("a:b", "c") cannot collide
		h.Write([]byte(k))
		h.Write([]byte{0x1f})
		h.Write([]byte(fields[k]))
		h.Write([]byte{0x1e})
	}
	return hex.EncodeToString(h.Sum(nil))
}
