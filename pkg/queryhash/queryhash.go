// Package queryhash computes the canonical fingerprint for a research query.
// Every cache store keys entries by this digest.
package queryhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// Digest returns a SHA-256 hex fingerprint of (content, system prompt, model).
// Inputs are trimmed and lower-cased, so queries differing only in case or
// surrounding whitespace share a cache entry. Each field is length-prefixed
// before hashing so distinct triples can never concatenate to the same bytes.
func Digest(content, systemPrompt, model string) string {
	h := sha256.New()
	for _, field := range []string{content, systemPrompt, model} {
		s := strings.ToLower(strings.TrimSpace(field))
		fmt.Fprintf(h, "%d:", len(s))
		io.WriteString(h, s)
	}
	return hex.EncodeToString(h.Sum(nil))
}
