package audit

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLogAndRecent(t *testing.T) {
	l := NewLogger(zap.NewNop(), true)

	l.Log(Entry{Operation: "create", Resource: "system", ResourceID: "a"})
	l.Log(Entry{Operation: "delete", Resource: "system", ResourceID: "b", Success: true})

	recent := l.Recent(10)
	require.Len(t, recent, 2)
	// Newest first.
	assert.Equal(t, "b", recent[0].ResourceID)
	assert.Equal(t, "a", recent[1].ResourceID)
	assert.False(t, recent[0].Timestamp.IsZero(), "timestamp filled on log")

	assert.Len(t, l.Recent(1), 1)
	assert.Len(t, l.Recent(0), 2, "non-positive limit returns everything")
}

func TestLogDisabled(t *testing.T) {
	l := NewLogger(zap.NewNop(), false)
	l.Log(Entry{Operation: "create", Resource: "system"})
	assert.Empty(t, l.Recent(10))
}

func TestRingEviction(t *testing.T) {
	l := NewLogger(zap.NewNop(), true)
	l.maxEntries = 3

	for i := 0; i < 5; i++ {
		l.Log(Entry{Operation: "update", Resource: "settings", ResourceID: fmt.Sprintf("%d", i)})
	}

	recent := l.Recent(0)
	require.Len(t, recent, 3)
	assert.Equal(t, "4", recent[0].ResourceID)
	assert.Equal(t, "2", recent[2].ResourceID)
}
