package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanJSONTolerance(t *testing.T) {
	tests := []struct {
		name string
		src  interface{}
	}{
		{"null column", nil},
		{"empty bytes", []byte{}},
		{"corrupt payload", []byte(`{"it_security": 0.7`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m ScoreMap
			require.NoError(t, m.Scan(tt.src))
			assert.Empty(t, m)
		})
	}

	var m ScoreMap
	assert.Error(t, m.Scan(42), "non-text column types are a real error")
}

func TestScoreMapRoundTrip(t *testing.T) {
	m := ScoreMap{"it_security": 0.9, "anomaly": 0.1}
	v, err := m.Value()
	require.NoError(t, err)

	var out ScoreMap
	require.NoError(t, out.Scan(v))
	assert.Equal(t, m, out)

	nilValue, err := ScoreMap(nil).Value()
	require.NoError(t, err)
	assert.Nil(t, nilValue)
}

func TestScoreMapMax(t *testing.T) {
	assert.Zero(t, ScoreMap{}.Max())
	assert.InDelta(t, 0.8, ScoreMap{"a": 0.2, "b": 0.8, "c": 0.5}.Max(), 1e-9)
}

func TestInt64ListScanFromString(t *testing.T) {
	var l Int64List
	require.NoError(t, l.Scan(`[4,5,6]`))
	assert.Equal(t, Int64List{4, 5, 6}, l)
}

func TestEmittedFindingsRoundTrip(t *testing.T) {
	f := EmittedFindings{{
		Text:          "Repeated login failures",
		Severity:      SeverityHigh,
		CriterionSlug: "it_security",
		KeyEventIDs:   []int64{1, 2},
	}}
	v, err := f.Value()
	require.NoError(t, err)

	var out EmittedFindings
	require.NoError(t, out.Scan(v))
	assert.Equal(t, f, out)
}

func TestSeverityRank(t *testing.T) {
	assert.Equal(t, 0, SeverityCritical.Rank())
	assert.Equal(t, 4, SeverityInfo.Rank())
	assert.Greater(t, Severity("bogus").Rank(), SeverityInfo.Rank())
	assert.False(t, Severity("bogus").Valid())
	assert.True(t, SeverityMedium.Valid())
}

func TestSeverityDecay(t *testing.T) {
	assert.Equal(t, SeverityHigh, SeverityCritical.Decay())
	assert.Equal(t, SeverityInfo, SeverityLow.Decay())
	assert.Equal(t, SeverityInfo, SeverityInfo.Decay())
	assert.Equal(t, SeverityInfo, Severity("bogus").Decay())
}
