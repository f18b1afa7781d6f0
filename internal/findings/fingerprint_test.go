package findings

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprint(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected string
	}{
		{
			name:     "lowercases and strips punctuation",
			text:     "High CPU usage, worker-3!",
			expected: "high cpu usage worker-3",
		},
		{
			name:     "drops stopwords",
			text:     "The disk is full on the primary node",
			expected: "disk full primary node",
		},
		{
			name:     "phrasing variants converge",
			text:     "High CPU on worker-3 observed",
			expected: "high cpu worker-3",
		},
		{
			name:     "empty input",
			text:     "",
			expected: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Fingerprint(tt.text))
		})
	}
}

func TestFingerprintTruncates(t *testing.T) {
	long := strings.Repeat("token ", 100)
	assert.LessOrEqual(t, len(Fingerprint(long)), 240)
}

func TestFingerprintVariantsShareKey(t *testing.T) {
	a := Fingerprint("Repeated login failures detected for admin")
	b := Fingerprint("Repeated login failures for admin")
	assert.Equal(t, a, b)
}

func TestJaccard(t *testing.T) {
	tests := []struct {
		name     string
		a, b     string
		expected float64
	}{
		{"identical", "disk full node1", "disk full node1", 1},
		{"disjoint", "disk full", "cpu high", 0},
		{"empty left", "", "disk full", 0},
		{"half overlap", "disk full node1 node2", "disk full node3 node4", 1.0 / 3.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, Jaccard(tt.a, tt.b), 1e-9)
		})
	}
}
