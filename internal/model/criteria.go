// Package model defines the persistent entities of the log analysis
// pipeline: events, scores, windows, findings and their supporting types.
package model

// Criterion is one of the six fixed risk dimensions every event and
// window is scored against. The set is immutable; IDs and slugs are
// stable across releases and stored by ID in event_scores.
type Criterion struct {
	ID   int    `db:"id" json:"id"`
	Slug string `db:"slug" json:"slug"`
	Name string `db:"name" json:"name"`
}

// Criteria is the fixed criterion set, ordered by ID.
var Criteria = []Criterion{
	{ID: 1, Slug: "it_security", Name: "IT Security"},
	{ID: 2, Slug: "performance_degradation", Name: "Performance Degradation"},
	{ID: 3, Slug: "failure_prediction", Name: "Failure Prediction"},
	{ID: 4, Slug: "anomaly", Name: "Anomaly"},
	{ID: 5, Slug: "compliance_audit", Name: "Compliance & Audit"},
	{ID: 6, Slug: "operational_risk", Name: "Operational Risk"},
}

// CriterionBySlug looks up a criterion by its slug.
func CriterionBySlug(slug string) (Criterion, bool) {
	for _, c := range Criteria {
		if c.Slug == slug {
			return c, true
		}
	}
	return Criterion{}, false
}

// CriterionByID looks up a criterion by its numeric ID.
func CriterionByID(id int) (Criterion, bool) {
	for _, c := range Criteria {
		if c.ID == id {
			return c, true
		}
	}
	return Criterion{}, false
}

// Severity is the ordered severity scale used by findings and score labels.
type Severity string

// Severity levels, highest first.
const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

var severityOrder = []Severity{
	SeverityCritical,
	SeverityHigh,
	SeverityMedium,
	SeverityLow,
	SeverityInfo,
}

// Rank returns the position of s on the severity scale, 0 being critical.
// Unknown severities rank below info.
func (s Severity) Rank() int {
	for i, level := range severityOrder {
		if s == level {
			return i
		}
	}
	return len(severityOrder)
}

// Decay returns the severity one level below s. Info never decays further.
func (s Severity) Decay() Severity {
	r := s.Rank()
	if r >= len(severityOrder)-1 {
		return SeverityInfo
	}
	return severityOrder[r+1]
}

// Valid reports whether s is one of the known severity levels.
func (s Severity) Valid() bool {
	return s.Rank() < len(severityOrder)
}

// FindingStatus is the lifecycle state of a finding.
type FindingStatus string

// Finding lifecycle states. Transitions are one-way except for an
// explicit reopen.
const (
	FindingOpen         FindingStatus = "open"
	FindingAcknowledged FindingStatus = "acknowledged"
	FindingResolved     FindingStatus = "resolved"
)

// Event source backends for a monitored system.
const (
	SourcePrimary  = "primary"
	SourceExternal = "external"
)

// ScoreTypeEvent marks per-event score rows. Meta-analysis scores live
// in meta_results, not event_scores.
const ScoreTypeEvent = "event"
