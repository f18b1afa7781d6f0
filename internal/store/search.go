package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/logwarden/logwarden/internal/apperr"
	"github.com/logwarden/logwarden/internal/model"
)

// maxSearchResponseBytes caps how much of a search backend response is
// read into memory.
const maxSearchResponseBytes = 8 << 20

// EventSource is the read capability over one system's event backend.
// Writes always go to the primary store; only reads are pluggable.
type EventSource interface {
	Search(ctx context.Context, sys *model.MonitoredSystem, from, to time.Time, filter model.EventFilter) ([]model.Event, error)
}

// SourceFor returns the event source for a system. Branching on
// event_source happens only here.
func (s *Store) SourceFor(sys *model.MonitoredSystem) EventSource {
	if sys.EventSource == model.SourceExternal {
		return &externalSource{
			client: &http.Client{Timeout: 30 * time.Second},
			logger: s.logger.Named("search"),
		}
	}
	return &primarySource{store: s}
}

// primarySource reads from the partitioned events table.
type primarySource struct {
	store *Store
}

func (p *primarySource) Search(ctx context.Context, sys *model.MonitoredSystem, from, to time.Time, filter model.EventFilter) ([]model.Event, error) {
	return p.store.ListEvents(ctx, sys.ID, from, to, filter)
}

// externalSource reads from a search-engine backend addressed by the
// system's search_url and search_index.
type externalSource struct {
	client *http.Client
	logger *zap.Logger
}

// externalHit is one result row from the external search API. Numeric
// fields may arrive as strings depending on the backend; tolerant
// decoding normalizes them here so higher layers see typed values.
type externalHit struct {
	ID        json.Number            `json:"id"`
	Timestamp string                 `json:"timestamp"`
	Message   string                 `json:"message"`
	Host      string                 `json:"host"`
	Program   string                 `json:"program"`
	Severity  string                 `json:"severity"`
	SourceIP  string                 `json:"source_ip"`
	Raw       map[string]interface{} `json:"raw"`
}

func (e *externalSource) Search(ctx context.Context, sys *model.MonitoredSystem, from, to time.Time, filter model.EventFilter) ([]model.Event, error) {
	if sys.SearchURL == "" {
		return nil, apperr.NewInvalidInput("system has no search backend configured")
	}

	params := url.Values{}
	params.Set("index", sys.SearchIndex)
	params.Set("from", from.UTC().Format(time.RFC3339))
	params.Set("to", to.UTC().Format(time.RFC3339))
	params.Set("limit", strconv.Itoa(clampLimit(filter.Limit)))
	if filter.Query != "" {
		params.Set("q", filter.Query)
	}
	if filter.Host != "" {
		params.Set("host", filter.Host)
	}
	if filter.Severity != "" {
		params.Set("severity", filter.Severity)
	}

	endpoint := strings.TrimSuffix(sys.SearchURL, "/") + "/search?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}
	if sys.SearchToken != "" {
		req.Header.Set("Authorization", "Bearer "+sys.SearchToken)
	}

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search backend request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSearchResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.NewProcessError(
			fmt.Sprintf("search backend returned HTTP %d", resp.StatusCode))
	}

	var parsed struct {
		Events []externalHit `json:"events"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	e.logger.Debug("External search completed",
		zap.String("system", sys.Name),
		zap.Int("hits", len(parsed.Events)),
		zap.Duration("duration", time.Since(start)))

	events := make([]model.Event, 0, len(parsed.Events))
	for _, hit := range parsed.Events {
		ev := model.Event{
			SystemID: sys.ID,
			Message:  hit.Message,
			Host:     hit.Host,
			Program:  hit.Program,
			Severity: hit.Severity,
			SourceIP: hit.SourceIP,
			Raw:      hit.Raw,
		}
		ev.ExternalID = hit.ID.String()
		if id, err := hit.ID.Int64(); err == nil {
			ev.ID = id
		}
		if ts, err := time.Parse(time.RFC3339, hit.Timestamp); err == nil {
			ev.Timestamp = ts
		}
		events = append(events, ev)
	}
	return events, nil
}
