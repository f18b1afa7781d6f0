// Package findings implements the finding lifecycle engine: dedup of
// emitted findings against existing ones, recurrence tracking, severity
// decay, auto-resolve on sustained absence, and operator transitions.
package findings

import (
	"strings"
)

// fingerprintMaxLen bounds the canonical fingerprint length.
const fingerprintMaxLen = 240

// stopwords are dropped during fingerprinting so phrasing variations of
// the same issue ("High CPU on worker-3" vs "High CPU on worker-3
// observed") land near each other.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "was": true,
	"were": true, "be": true, "been": true, "being": true, "has": true,
	"have": true, "had": true, "of": true, "in": true, "on": true, "at": true,
	"to": true, "for": true, "with": true, "and": true, "or": true,
	"observed": true, "detected": true, "noticed": true, "seen": true,
}

// Fingerprint derives the canonical dedup key of a finding text:
// lowercased, stopwords removed, whitespace normalized, truncated.
func Fingerprint(text string) string {
	fields := strings.Fields(strings.ToLower(text))
	kept := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,:;!?\"'()[]")
		if f == "" || stopwords[f] {
			continue
		}
		kept = append(kept, f)
	}
	fp := strings.Join(kept, " ")
	if len(fp) > fingerprintMaxLen {
		fp = fp[:fingerprintMaxLen]
	}
	return fp
}

// Jaccard computes the token Jaccard similarity of two fingerprints.
// Empty inputs score 0.
func Jaccard(a, b string) float64 {
	ta := tokenSet(a)
	tb := tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	inter := 0
	for tok := range ta {
		if tb[tok] {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(s) {
		set[tok] = true
	}
	return set
}
