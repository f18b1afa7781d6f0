package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encOnce sync.Once
	encoder *tiktoken.Tiktoken
)

// CountTokens estimates the token count of a string using the
// cl100k_base encoding. When the encoding cannot be loaded (offline
// first run, before the BPE cache exists) it falls back to the rough
// 4-characters-per-token heuristic.
func CountTokens(s string) int {
	encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoder = enc
		}
	})
	if encoder != nil {
		return len(encoder.Encode(s, nil, nil))
	}
	return (len(s) + 3) / 4
}

// trimToBudget drops events from the tail until the payload fits the
// token budget. The head is kept because callers order events by
// priority before building the payload.
func trimToBudget(events []payloadEvent, maxTokens int) []payloadEvent {
	if maxTokens <= 0 {
		return events
	}
	total := 0
	for i, ev := range events {
		// Per-event overhead for JSON structure and field names.
		total += CountTokens(ev.Message) + CountTokens(ev.Host) + CountTokens(ev.Program) + 24
		if total > maxTokens {
			return events[:i]
		}
	}
	return events
}
