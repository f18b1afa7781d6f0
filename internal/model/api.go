package model

import (
	"time"

	"github.com/google/uuid"
)

// GroupedScore is one row of the grouped event-score view: all scored
// events sharing a template (or a singleton event) collapsed into one
// dashboard row. GroupKey is the template ID, or the event ID negated
// for events without a template.
type GroupedScore struct {
	GroupKey        int64      `db:"group_key" json:"group_key"`
	Message         string     `db:"message" json:"message"`
	OccurrenceCount int64      `db:"occurrence_count" json:"occurrence_count"`
	FirstSeen       time.Time  `db:"first_seen" json:"first_seen"`
	LastSeen        time.Time  `db:"last_seen" json:"last_seen"`
	Hosts           StringList `db:"hosts" json:"hosts,omitempty"`
	SourceIPs       StringList `db:"source_ips" json:"source_ips,omitempty"`
	Program         string     `db:"program" json:"program,omitempty"`
	Severity        string     `db:"severity" json:"severity,omitempty"`
	CriterionSlug   string     `db:"criterion_slug" json:"criterion_slug"`
	Score           float64    `db:"score" json:"score"`
	SeverityLabel   string     `db:"severity_label" json:"severity_label,omitempty"`
	ReasonCodes     StringList `db:"reason_codes" json:"reason_codes,omitempty"`
	Acknowledged    bool       `db:"acknowledged" json:"acknowledged"`
}

// SystemScore is the per-system rolling-max effective score for one
// criterion over the dashboard display window.
type SystemScore struct {
	SystemID    uuid.UUID `db:"system_id" json:"system_id"`
	CriterionID int       `db:"criterion_id" json:"criterion_id"`
	Value       float64   `db:"value" json:"value"`
}

// DeleteResult reports the row counts of a retention or bulk delete.
type DeleteResult struct {
	DeletedEvents  int64 `json:"deleted_events"`
	DeletedScores  int64 `json:"deleted_scores"`
	CleanedWindows int64 `json:"cleaned_windows,omitempty"`
}

// UsageSummary aggregates llm_usage rows for the usage endpoint.
type UsageSummary struct {
	RunType      string  `db:"run_type" json:"run_type"`
	Model        string  `db:"model" json:"model"`
	TokenInput   int64   `db:"token_input" json:"token_input"`
	TokenOutput  int64   `db:"token_output" json:"token_output"`
	RequestCount int64   `db:"request_count" json:"request_count"`
	EventCount   int64   `db:"event_count" json:"event_count"`
	CostEstimate float64 `db:"cost_estimate" json:"cost_estimate"`
}

// EventFilter narrows event list and search queries.
type EventFilter struct {
	Host     string
	Program  string
	Severity string
	Query    string // substring or full-text, backend dependent
	Limit    int
	Offset   int
}
