package model

import (
	"time"

	"github.com/google/uuid"
)

// MonitoredSystem is a registered log source whose events flow through
// the analysis pipeline.
type MonitoredSystem struct {
	ID            uuid.UUID `db:"id" json:"id"`
	Name          string    `db:"name" json:"name"`
	EventSource   string    `db:"event_source" json:"event_source"`
	RetentionDays *int      `db:"retention_days" json:"retention_days,omitempty"`
	Active        bool      `db:"active" json:"active"`

	// Coordinates for the external search backend; empty for
	// primary-backed systems.
	SearchURL   string `db:"search_url" json:"search_url,omitempty"`
	SearchIndex string `db:"search_index" json:"search_index,omitempty"`
	SearchToken string `db:"search_token" json:"search_token,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Retention returns the effective retention in days given the global default.
func (s *MonitoredSystem) Retention(defaultDays int) int {
	if s.RetentionDays != nil && *s.RetentionDays > 0 {
		return *s.RetentionDays
	}
	return defaultDays
}

// Event is a single ingested log event. Immutable after ingest except
// for acknowledged_at and template_id.
type Event struct {
	ID             int64      `db:"id" json:"id"`
	SystemID       uuid.UUID  `db:"system_id" json:"system_id"`
	Timestamp      time.Time  `db:"ts" json:"timestamp"`
	Message        string     `db:"message" json:"message"`
	Host           string     `db:"host" json:"host,omitempty"`
	Program        string     `db:"program" json:"program,omitempty"`
	Severity       string     `db:"severity" json:"severity,omitempty"`
	Service        string     `db:"service" json:"service,omitempty"`
	Facility       string     `db:"facility" json:"facility,omitempty"`
	SourceIP       string     `db:"source_ip" json:"source_ip,omitempty"`
	TraceID        string     `db:"trace_id" json:"trace_id,omitempty"`
	SpanID         string     `db:"span_id" json:"span_id,omitempty"`
	ExternalID     string     `db:"external_id" json:"external_id,omitempty"`
	TemplateID     *int64     `db:"template_id" json:"template_id,omitempty"`
	AcknowledgedAt *time.Time `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
	Raw            JSONMap    `db:"raw" json:"raw,omitempty"`
}

// MessageTemplate is a canonicalized message pattern with its cached
// score vector. Fingerprints are scoped per system.
type MessageTemplate struct {
	ID           int64      `db:"id" json:"id"`
	SystemID     uuid.UUID  `db:"system_id" json:"system_id"`
	Fingerprint  string     `db:"fingerprint" json:"fingerprint"`
	Pattern      string     `db:"pattern" json:"pattern"`
	CachedScores ScoreMap   `db:"cached_scores" json:"cached_scores,omitempty"`
	// Label and reason codes from the scoring call that produced the
	// cached vector; cache hits fan them out unchanged.
	CachedSeverityLabel string     `db:"cached_severity_label" json:"cached_severity_label,omitempty"`
	CachedReasonCodes   StringList `db:"cached_reason_codes" json:"cached_reason_codes,omitempty"`
	LastScoredAt        *time.Time `db:"last_scored_at" json:"last_scored_at,omitempty"`
	AvgMaxScore  float64    `db:"avg_max_score" json:"avg_max_score"`
	ScoringCount int        `db:"scoring_count" json:"scoring_count"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

// EventScore is one criterion score for one event.
type EventScore struct {
	EventID       int64      `db:"event_id" json:"event_id"`
	CriterionID   int        `db:"criterion_id" json:"criterion_id"`
	Score         float64    `db:"score" json:"score"`
	ScoreType     string     `db:"score_type" json:"score_type"`
	SeverityLabel string     `db:"severity_label" json:"severity_label,omitempty"`
	ReasonCodes   StringList `db:"reason_codes" json:"reason_codes,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// ScoreVector is the per-event result of one LLM scoring call: one
// score per criterion slug plus an overall label and reason tags.
type ScoreVector struct {
	Scores        ScoreMap `json:"scores"`
	SeverityLabel string   `json:"severity_label"`
	ReasonCodes   []string `json:"reason_codes"`
}

// Window is a contiguous analysis interval for one system. Windows of a
// system never overlap; each has exactly one MetaResult.
type Window struct {
	ID        int64     `db:"id" json:"id"`
	SystemID  uuid.UUID `db:"system_id" json:"system_id"`
	FromTS    time.Time `db:"from_ts" json:"from_ts"`
	ToTS      time.Time `db:"to_ts" json:"to_ts"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// MetaResult is the meta-analysis output for a window.
type MetaResult struct {
	WindowID          int64           `db:"window_id" json:"window_id"`
	Summary           string          `db:"summary" json:"summary"`
	MetaScores        ScoreMap        `db:"meta_scores" json:"meta_scores"`
	Findings          EmittedFindings `db:"findings" json:"findings"`
	RecommendedAction string          `db:"recommended_action" json:"recommended_action,omitempty"`
	KeyEventIDs       Int64List       `db:"key_event_ids" json:"key_event_ids,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
}

// EffectiveScore is the dashboard-visible per-criterion value for a
// window, combining the meta score with the max individual event score.
type EffectiveScore struct {
	SystemID       uuid.UUID `db:"system_id" json:"system_id"`
	WindowID       int64     `db:"window_id" json:"window_id"`
	CriterionID    int       `db:"criterion_id" json:"criterion_id"`
	EffectiveValue float64   `db:"effective_value" json:"effective_value"`
	MetaScore      float64   `db:"meta_score" json:"meta_score"`
	MaxEventScore  float64   `db:"max_event_score" json:"max_event_score"`
}

// Finding is a durable, deduplicated issue with a lifecycle.
type Finding struct {
	ID                 int64               `db:"id" json:"id"`
	SystemID           uuid.UUID           `db:"system_id" json:"system_id"`
	Fingerprint        string              `db:"fingerprint" json:"fingerprint"`
	Text               string              `db:"text" json:"text"`
	CriterionSlug      string              `db:"criterion_slug" json:"criterion_slug,omitempty"`
	Severity           Severity            `db:"severity" json:"severity"`
	OriginalSeverity   Severity            `db:"original_severity" json:"original_severity"`
	Status             FindingStatus       `db:"status" json:"status"`
	OccurrenceCount    int                 `db:"occurrence_count" json:"occurrence_count"`
	ConsecutiveMisses  int                 `db:"consecutive_misses" json:"consecutive_misses"`
	FirstSeenAt        time.Time           `db:"first_seen_at" json:"first_seen_at"`
	LastSeenAt         time.Time           `db:"last_seen_at" json:"last_seen_at"`
	AcknowledgedAt     *time.Time          `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
	ResolvedAt         *time.Time          `db:"resolved_at" json:"resolved_at,omitempty"`
	ResolutionEvidence *ResolutionEvidence `db:"resolution_evidence" json:"resolution_evidence,omitempty"`
	KeyEventIDs        Int64List           `db:"key_event_ids" json:"key_event_ids,omitempty"`
}

// NormalBehaviorTemplate is a user-supplied regex that marks matching
// events as known-normal so they do not influence scoring.
type NormalBehaviorTemplate struct {
	ID             int64     `db:"id" json:"id"`
	SystemID       uuid.UUID `db:"system_id" json:"system_id"`
	PatternRegex   string    `db:"pattern_regex" json:"pattern_regex"`
	HostPattern    string    `db:"host_pattern" json:"host_pattern,omitempty"`
	ProgramPattern string    `db:"program_pattern" json:"program_pattern,omitempty"`
	Enabled        bool      `db:"enabled" json:"enabled"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// LLM run types recorded in llm_usage.
const (
	RunTypeScoring    = "scoring"
	RunTypeMeta       = "meta"
	RunTypeReEvaluate = "re_evaluate"
)

// LlmUsage is the token accounting record for one LLM run.
type LlmUsage struct {
	ID           int64      `db:"id" json:"id"`
	SystemID     *uuid.UUID `db:"system_id" json:"system_id,omitempty"`
	RunType      string     `db:"run_type" json:"run_type"`
	Model        string     `db:"model" json:"model"`
	TokenInput   int        `db:"token_input" json:"token_input"`
	TokenOutput  int        `db:"token_output" json:"token_output"`
	RequestCount int        `db:"request_count" json:"request_count"`
	EventCount   int        `db:"event_count" json:"event_count"`
	CostEstimate float64    `db:"cost_estimate" json:"cost_estimate"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

// MaintenanceLog summarizes one maintenance run.
type MaintenanceLog struct {
	ID                int64      `db:"id" json:"id"`
	StartedAt         time.Time  `db:"started_at" json:"started_at"`
	FinishedAt        time.Time  `db:"finished_at" json:"finished_at"`
	DeletedEvents     int64      `db:"deleted_events" json:"deleted_events"`
	DeletedScores     int64      `db:"deleted_scores" json:"deleted_scores"`
	CreatedPartitions int        `db:"created_partitions" json:"created_partitions"`
	DroppedPartitions int        `db:"dropped_partitions" json:"dropped_partitions"`
	DeletedWindows    int64      `db:"deleted_windows" json:"deleted_windows"`
	DeletedTemplates  int64      `db:"deleted_templates" json:"deleted_templates"`
	BackupFile        string     `db:"backup_file" json:"backup_file,omitempty"`
	Errors            StringList `db:"errors" json:"errors,omitempty"`
}
