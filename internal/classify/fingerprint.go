package classify

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// Fingerprint computes a deterministic hash of the normalized input.
// Two submissions that differ only in whitespace or URL ordering map to
// the same fingerprint, which the pipeline uses for duplicate
// suppression and result caching.
func Fingerprint(in Input) string {
	c, _ := Classify(in)

	urls := make([]string, len(c.URLs))
	copy(urls, c.URLs)
	sort.Strings(urls)

	h := sha256.New()
	h.Write([]byte(c.NormalizedText))
	for _, u := range urls {
		h.Write([]byte{0})
		h.Write([]byte(u))
	}
	if len(in.ImageData) > 0 {
		h.Write([]byte{0})
		h.Write(in.ImageData)
	}
	return hex.EncodeToString(h.Sum(nil))
}
