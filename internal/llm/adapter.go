package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/logwarden/logwarden/internal/apperr"
	"github.com/logwarden/logwarden/internal/config"
	"github.com/logwarden/logwarden/internal/model"
	"github.com/logwarden/logwarden/internal/privacy"
)

// repairPrompt is the corrective reprompt sent when the model's output
// fails strict JSON parsing. It gets exactly one shot.
const repairPrompt = `Your previous reply was not valid JSON. Re-emit it as one valid JSON object with exactly the schema requested. Output only JSON, with no prose and no code fences.`

// parseWithRepair decodes model output into dst. On a parse failure it
// reprompts once with the broken content; a second failure is final.
// The returned usage is non-zero only when a repair call ran.
func (c *Client) parseWithRepair(ctx context.Context, ai config.AISettings, modelName, content string, dst interface{}) (callUsage, error) {
	if err := json.Unmarshal([]byte(extractJSON(content)), dst); err == nil {
		return callUsage{}, nil
	}
	repaired, usage, err := c.chat(ctx, ai, modelName, repairPrompt, content)
	if err != nil {
		return usage, err
	}
	return usage, json.Unmarshal([]byte(extractJSON(repaired)), dst)
}

// payloadEvent is the redacted event shape sent to the model.
type payloadEvent struct {
	Index     int    `json:"index"`
	ID        int64  `json:"id"`
	Timestamp string `json:"timestamp"`
	Host      string `json:"host,omitempty"`
	Program   string `json:"program,omitempty"`
	Severity  string `json:"severity,omitempty"`
	Message   string `json:"message"`
}

func toPayload(events []model.Event, filter *privacy.Filter) []payloadEvent {
	out := make([]payloadEvent, len(events))
	for i, ev := range events {
		red := filter.RedactEvent(ev)
		out[i] = payloadEvent{
			Index:     i,
			ID:        ev.ID,
			Timestamp: ev.Timestamp.UTC().Format(time.RFC3339),
			Host:      red.Host,
			Program:   red.Program,
			Severity:  red.Severity,
			Message:   red.Message,
		}
	}
	return out
}

// scoringResult is one entry of the model's scoring response.
type scoringResult struct {
	Index         int                `json:"index"`
	Scores        map[string]float64 `json:"scores"`
	SeverityLabel string             `json:"severity_label"`
	ReasonCodes   []string           `json:"reason_codes"`
}

type scoringResponse struct {
	Results []scoringResult `json:"results"`
}

// ScoreBatch scores a batch of events against all criteria in one LLM
// call. The result preserves input order: out[i] scores events[i].
// runType tags the usage row (scoring or re_evaluate). Transient
// backend failure surfaces as a deferred error; the caller must not
// consume the batch.
func (c *Client) ScoreBatch(ctx context.Context, systemID uuid.UUID, runType string, events []model.Event, criteria []model.Criterion) ([]model.ScoreVector, error) {
	if len(events) == 0 {
		return nil, nil
	}

	ai := c.resolver.AI(ctx)
	tasks := c.resolver.TaskModels(ctx)
	prompts := c.resolver.Prompts(ctx)
	filter := privacy.NewFilter(c.resolver.Privacy(ctx))

	modelName := tasks.ScoringModel
	if modelName == "" {
		modelName = ai.Model
	}

	payload, err := json.Marshal(map[string]interface{}{
		"events": toPayload(events, filter),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build scoring payload: %w", err)
	}

	content, usage, err := c.chat(ctx, ai, modelName, scoringSystemPrompt(prompts, criteria), string(payload))
	c.recordUsage(ctx, &systemID, runType, modelName, usage, 1, len(events))
	if err != nil {
		return nil, apperr.NewDeferred("scoring batch", err)
	}

	var parsed scoringResponse
	repairUsage, perr := c.parseWithRepair(ctx, ai, modelName, content, &parsed)
	if repairUsage != (callUsage{}) {
		c.recordUsage(ctx, &systemID, runType, modelName, repairUsage, 1, 0)
	}
	if perr != nil {
		return nil, apperr.NewLLMError("unparsable scoring response").Wrap(perr)
	}

	out := make([]model.ScoreVector, len(events))
	seen := make([]bool, len(events))
	for _, res := range parsed.Results {
		if res.Index < 0 || res.Index >= len(events) || seen[res.Index] {
			continue
		}
		seen[res.Index] = true
		out[res.Index] = model.ScoreVector{
			Scores:        normalizeScores(res.Scores, criteria),
			SeverityLabel: normalizeSeverity(res.SeverityLabel),
			ReasonCodes:   res.ReasonCodes,
		}
	}
	for i := range events {
		if !seen[i] {
			c.logger.Warn("Scoring response missing entry, assigning zero vector",
				zap.Int("index", i), zap.Int64("event_id", events[i].ID))
			out[i] = model.ScoreVector{
				Scores:        zeroScores(criteria),
				SeverityLabel: string(model.SeverityInfo),
			}
		}
	}

	return out, nil
}

// metaResponse is the model's meta-analysis output shape.
type metaResponse struct {
	Summary           string             `json:"summary"`
	MetaScores        map[string]float64 `json:"meta_scores"`
	Findings          []emittedFinding   `json:"findings"`
	RecommendedAction string             `json:"recommended_action"`
	KeyEventIDs       []int64            `json:"key_event_ids"`
}

type emittedFinding struct {
	Text          string  `json:"text"`
	Severity      string  `json:"severity"`
	CriterionSlug string  `json:"criterion_slug"`
	KeyEventIDs   []int64 `json:"key_event_ids"`
}

// MetaAnalyze runs the window-level analysis over the capped event list
// and the prior window summaries. The returned MetaResult has no window
// ID; the caller assigns it when persisting.
func (c *Client) MetaAnalyze(ctx context.Context, systemID uuid.UUID, windowEvents []model.Event, priors []model.MetaResult, maxContextTokens int) (*model.MetaResult, error) {
	ai := c.resolver.AI(ctx)
	tasks := c.resolver.TaskModels(ctx)
	prompts := c.resolver.Prompts(ctx)
	filter := privacy.NewFilter(c.resolver.Privacy(ctx))

	modelName := tasks.MetaModel
	if modelName == "" {
		modelName = ai.Model
	}

	payload := toPayload(windowEvents, filter)
	payload = trimToBudget(payload, maxContextTokens)

	priorSummaries := make([]string, 0, len(priors))
	for _, p := range priors {
		priorSummaries = append(priorSummaries, p.Summary)
	}

	body, err := json.Marshal(map[string]interface{}{
		"events":          payload,
		"prior_summaries": priorSummaries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build meta payload: %w", err)
	}

	content, usage, err := c.chat(ctx, ai, modelName, metaSystemPrompt(prompts), string(body))
	c.recordUsage(ctx, &systemID, model.RunTypeMeta, modelName, usage, 1, len(windowEvents))
	if err != nil {
		return nil, apperr.NewDeferred("meta analysis", err)
	}

	var parsed metaResponse
	repairUsage, perr := c.parseWithRepair(ctx, ai, modelName, content, &parsed)
	if repairUsage != (callUsage{}) {
		c.recordUsage(ctx, &systemID, model.RunTypeMeta, modelName, repairUsage, 1, 0)
	}
	if perr != nil {
		return nil, apperr.NewLLMError("unparsable meta response").Wrap(perr)
	}

	result := &model.MetaResult{
		Summary:           parsed.Summary,
		MetaScores:        normalizeScores(parsed.MetaScores, model.Criteria),
		RecommendedAction: parsed.RecommendedAction,
		KeyEventIDs:       parsed.KeyEventIDs,
		CreatedAt:         time.Now().UTC(),
	}
	for _, f := range parsed.Findings {
		if strings.TrimSpace(f.Text) == "" {
			continue
		}
		result.Findings = append(result.Findings, model.EmittedFinding{
			Text:          f.Text,
			Severity:      model.Severity(normalizeSeverity(f.Severity)),
			CriterionSlug: f.CriterionSlug,
			KeyEventIDs:   f.KeyEventIDs,
		})
	}

	return result, nil
}

// normalizeScores clamps scores to [0,1] and guarantees every known
// criterion slug is present. Unknown slugs are dropped.
func normalizeScores(raw map[string]float64, criteria []model.Criterion) model.ScoreMap {
	out := make(model.ScoreMap, len(criteria))
	for _, crit := range criteria {
		v := raw[crit.Slug]
		if v < 0 {
			v = 0
		}
		if v > 1 {
			v = 1
		}
		out[crit.Slug] = v
	}
	return out
}

func zeroScores(criteria []model.Criterion) model.ScoreMap {
	out := make(model.ScoreMap, len(criteria))
	for _, crit := range criteria {
		out[crit.Slug] = 0
	}
	return out
}

func normalizeSeverity(s string) string {
	sev := model.Severity(strings.ToLower(strings.TrimSpace(s)))
	if !sev.Valid() {
		return string(model.SeverityMedium)
	}
	return string(sev)
}

// extractJSON strips markdown code fences some models wrap around JSON
// output.
func extractJSON(content string) string {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if i := strings.LastIndex(trimmed, "```"); i >= 0 {
			trimmed = trimmed[:i]
		}
		trimmed = strings.TrimSpace(trimmed)
	}
	return trimmed
}
