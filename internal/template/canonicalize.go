// Package template canonicalizes event messages into stable patterns
// and caches LLM score vectors per pattern so identical events are
// scored once.
package template

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// DefaultMessageMaxLength bounds the canonicalized pattern length.
const DefaultMessageMaxLength = 512

// Class-token substitutions, applied in order. UUIDs and MACs must be
// rewritten before the generic hex-run rule, timestamps and IPs before
// the numeric-run rule.
var (
	reCanonUUID = regexp.MustCompile(`\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`)
	reCanonTS   = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}[t ]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:z|[+-]\d{2}:?\d{2})?\b`)
	reCanonIPv4 = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	reCanonIPv6 = regexp.MustCompile(`\b(?:[0-9a-f]{1,4}:){2,7}[0-9a-f]{0,4}\b`)
	reCanonMAC  = regexp.MustCompile(`\b(?:[0-9a-f]{2}[:-]){5}[0-9a-f]{2}\b`)
	reCanonHex  = regexp.MustCompile(`\b0?x?[0-9a-f]*[0-9][0-9a-f]*\b`)
	reCanonNum  = regexp.MustCompile(`\b\d{4,}\b`)
	reCanonWS   = regexp.MustCompile(`\s+`)
)

// Canonicalize derives the stable pattern for a message: lowercase,
// variable fragments replaced by class tokens, whitespace collapsed,
// truncated to maxLen.
func Canonicalize(message string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultMessageMaxLength
	}

	s := strings.ToLower(message)
	s = reCanonUUID.ReplaceAllString(s, "<uuid>")
	s = reCanonTS.ReplaceAllString(s, "<ts>")
	s = reCanonMAC.ReplaceAllString(s, "<mac>")
	s = reCanonIPv4.ReplaceAllString(s, "<ip>")
	s = reCanonIPv6.ReplaceAllString(s, "<ip>")
	s = replaceHexRuns(s)
	s = reCanonNum.ReplaceAllString(s, "<num>")
	s = reCanonWS.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)

	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}

// replaceHexRuns rewrites standalone hex runs of length >= 4 that
// contain at least one digit. Pure-alpha words like "dead" carry no
// digit and stay as-is; pure-decimal runs are left for the numeric
// rule so counters become <num>, not <hex>.
func replaceHexRuns(s string) string {
	return reCanonHex.ReplaceAllStringFunc(s, func(tok string) string {
		trimmed := strings.TrimPrefix(strings.TrimPrefix(tok, "0x"), "x")
		if len(trimmed) < 4 {
			return tok
		}
		if tok == trimmed && strings.IndexFunc(trimmed, func(r rune) bool { return r > '9' }) < 0 {
			return tok
		}
		return "<hex>"
	})
}

// Fingerprint computes the stable 128-bit hash of a canonicalized
// pattern, hex encoded. Fingerprints are scoped per system by the
// store, not by the hash itself.
func Fingerprint(pattern string) string {
	sum := sha256.Sum256([]byte(pattern))
	return hex.EncodeToString(sum[:16])
}
