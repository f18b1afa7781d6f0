package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// The JSONB column types below deliberately tolerate corrupt stored
// JSON: a row with an unparsable column scans to the zero value instead
// of failing the whole read.

// ScoreMap maps criterion slugs to scores in [0,1]. Stored as JSONB.
type ScoreMap map[string]float64

// Value implements driver.Valuer.
func (m ScoreMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *ScoreMap) Scan(src interface{}) error {
	return scanJSON(src, m)
}

// Max returns the highest score in the map, or 0 for an empty map.
func (m ScoreMap) Max() float64 {
	max := 0.0
	for _, v := range m {
		if v > max {
			max = v
		}
	}
	return max
}

// StringList is a JSONB-backed list of short string tags.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src interface{}) error {
	return scanJSON(src, l)
}

// Int64List is a JSONB-backed list of row IDs (key event references).
type Int64List []int64

// Value implements driver.Valuer.
func (l Int64List) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner.
func (l *Int64List) Scan(src interface{}) error {
	return scanJSON(src, l)
}

// JSONMap is an opaque JSONB object column (raw event payloads).
type JSONMap map[string]interface{}

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(src interface{}) error {
	return scanJSON(src, m)
}

// EmittedFinding is a single finding emitted by the meta analyzer for
// one window, before deduplication against durable findings.
type EmittedFinding struct {
	Text          string   `json:"text"`
	Severity      Severity `json:"severity"`
	CriterionSlug string   `json:"criterion_slug,omitempty"`
	KeyEventIDs   []int64  `json:"key_event_ids,omitempty"`
}

// EmittedFindings is the JSONB list of findings attached to a meta result.
type EmittedFindings []EmittedFinding

// Value implements driver.Valuer.
func (f EmittedFindings) Value() (driver.Value, error) {
	if f == nil {
		return nil, nil
	}
	return json.Marshal(f)
}

// Scan implements sql.Scanner.
func (f *EmittedFindings) Scan(src interface{}) error {
	return scanJSON(src, f)
}

// ResolutionEvidence records why a finding was resolved.
type ResolutionEvidence struct {
	Text     string  `json:"text"`
	EventIDs []int64 `json:"event_ids"`
}

// Value implements driver.Valuer.
func (r ResolutionEvidence) Value() (driver.Value, error) {
	return json.Marshal(r)
}

// Scan implements sql.Scanner.
func (r *ResolutionEvidence) Scan(src interface{}) error {
	return scanJSON(src, r)
}

// scanJSON decodes a JSONB column into dst, treating NULL and corrupt
// payloads as the zero value.
func scanJSON(src, dst interface{}) error {
	if src == nil {
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSON column", src)
	}
	if len(data) == 0 {
		return nil
	}
	// Tolerant decode: corrupt stored JSON must not fail row reads.
	_ = json.Unmarshal(data, dst)
	return nil
}
