package llm

import (
	"fmt"
	"strings"

	"github.com/logwarden/logwarden/internal/config"
	"github.com/logwarden/logwarden/internal/model"
)

// Built-in system prompts. Operators override them through the
// ai_prompts settings group; empty overrides fall through to these.

const builtinScoringPrompt = `You are a log analysis engine. You receive a JSON object with an "events" array. Each event has an index, a timestamp and a message from a monitored system.

Score every event independently against each criterion on a scale from 0.0 (no relevance) to 1.0 (critical relevance). Also assign one severity label (critical, high, medium, low, info) and short machine-readable reason codes.

Respond with a JSON object of the form:
{"results":[{"index":0,"scores":{"<slug>":0.0},"severity_label":"info","reason_codes":[]}]}

Include exactly one entry per input event, in any order, each with every criterion slug present.`

const builtinMetaPrompt = `You are a log analysis engine performing a window-level review. You receive a JSON object with an "events" array (the notable events of one time window) and a "prior_summaries" array (summaries of the preceding windows, oldest first).

Assess the window as a whole: correlate events, weigh them against the recent history, and decide whether anything warrants operator attention.

Respond with a JSON object of the form:
{"summary":"...","meta_scores":{"<slug>":0.0},"findings":[{"text":"...","severity":"medium","criterion_slug":"...","key_event_ids":[]}],"recommended_action":"...","key_event_ids":[]}

Only emit findings for conditions an operator should act on. Routine noise gets an empty findings array.`

// scoringSystemPrompt assembles the per-batch scoring prompt: base
// prompt plus the criterion catalog and any operator guidelines.
func scoringSystemPrompt(prompts config.PromptSettings, criteria []model.Criterion) string {
	base := prompts.ScoringSystemPrompt
	if base == "" {
		base = builtinScoringPrompt
	}

	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n\nCriteria:\n")
	for _, crit := range criteria {
		fmt.Fprintf(&b, "- %s: %s\n", crit.Slug, crit.Name)
		if g := prompts.CriterionGuidelines[crit.Slug]; g != "" {
			fmt.Fprintf(&b, "  Guideline: %s\n", g)
		}
	}
	return b.String()
}

// metaSystemPrompt assembles the meta-analysis prompt with the
// criterion catalog appended.
func metaSystemPrompt(prompts config.PromptSettings) string {
	base := prompts.MetaSystemPrompt
	if base == "" {
		base = builtinMetaPrompt
	}

	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n\nCriteria:\n")
	for _, crit := range model.Criteria {
		fmt.Fprintf(&b, "- %s: %s\n", crit.Slug, crit.Name)
	}
	return b.String()
}
