// Package llm adapts the analysis pipeline to an OpenAI-compatible
// chat-completions backend. It exposes exactly two operations,
// ScoreBatch and MetaAnalyze, and owns retries, rate limiting, circuit
// breaking, privacy redaction and token accounting for both.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/logwarden/logwarden/internal/apperr"
	"github.com/logwarden/logwarden/internal/config"
	"github.com/logwarden/logwarden/internal/model"
)

// UsageRecorder persists token accounting rows.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, u *model.LlmUsage) error
}

// Client talks to the configured LLM backend.
type Client struct {
	resolver    *config.Resolver
	usage       UsageRecorder
	fallbackKey string // OPENAI_API_KEY fallback when ai_config carries no key
	logger      *zap.Logger

	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
}

// NewClient creates an LLM client. fallbackKey is used when the stored
// AI config carries no API key.
func NewClient(resolver *config.Resolver, usage UsageRecorder, fallbackKey string, logger *zap.Logger) *Client {
	ai := resolver.AI(context.Background())

	rps := ai.RateLimitRPS
	if rps <= 0 {
		rps = 5
	}
	burst := ai.RateLimitBurst
	if burst <= 0 {
		burst = rps
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm",
		MaxRequests: 2,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("LLM circuit breaker state change",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})

	return &Client{
		resolver:    resolver,
		usage:       usage,
		fallbackKey: fallbackKey,
		logger:      logger.Named("llm"),
		httpClient:  &http.Client{},
		limiter:     rate.NewLimiter(rate.Limit(rps), burst),
		breaker:     breaker,
	}
}

// chatMessage is one message in the outbound chat payload.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// callUsage is the per-call token accounting returned by chat.
type callUsage struct {
	tokensIn  int
	tokensOut int
}

// chat executes one chat-completions call with retry, rate limiting and
// circuit breaking. Returns the raw assistant content.
func (c *Client) chat(ctx context.Context, ai config.AISettings, model, systemPrompt, userPrompt string) (string, callUsage, error) {
	apiKey := ai.APIKey
	if apiKey == "" {
		apiKey = c.fallbackKey
	}
	if apiKey == "" {
		return "", callUsage{}, apperr.NewLLMError("no API key configured for LLM backend")
	}

	timeout := time.Duration(ai.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	maxRetries := ai.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	retryBase := time.Duration(ai.RetryBaseMS) * time.Millisecond
	if retryBase <= 0 {
		retryBase = 500 * time.Millisecond
	}

	req := chatRequest{
		Model:       model,
		Temperature: 0.1,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		ResponseFormat: &respFormat{Type: "json_object"},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", callUsage{}, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			// Capped exponential backoff.
			shift := min(attempt-1, 10)
			wait := retryBase * time.Duration(1<<shift)
			if wait > 30*time.Second {
				wait = 30 * time.Second
			}
			c.logger.Debug("Retrying LLM call",
				zap.Int("attempt", attempt), zap.Duration("wait", wait))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return "", callUsage{}, ctx.Err()
			}
		}

		content, usage, err := c.doChat(ctx, ai.BaseURL, apiKey, body, timeout)
		if err == nil {
			return content, usage, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return "", callUsage{}, err
		}
	}

	return "", callUsage{}, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// retryableError marks transport and 5xx failures eligible for retry.
type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

func (c *Client) doChat(ctx context.Context, baseURL, apiKey string, body []byte, timeout time.Duration) (string, callUsage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", callUsage{}, fmt.Errorf("rate limit wait failed: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := c.breaker.Execute(func() (interface{}, error) {
		url := strings.TrimSuffix(baseURL, "/") + "/chat/completions"
		httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)

		start := time.Now()
		httpResp, err := c.httpClient.Do(httpReq)
		if err != nil {
			if isTransient(err) {
				return nil, &retryableError{err: err}
			}
			return nil, fmt.Errorf("request failed: %w", err)
		}
		defer func() {
			_ = httpResp.Body.Close()
		}()

		respBody, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return nil, &retryableError{err: fmt.Errorf("failed to read response body: %w", err)}
		}

		c.logger.Debug("LLM call completed",
			zap.Int("status", httpResp.StatusCode),
			zap.Duration("duration", time.Since(start)),
			zap.Int("response_size", len(respBody)),
		)

		if httpResp.StatusCode >= 500 || httpResp.StatusCode == http.StatusTooManyRequests {
			return nil, &retryableError{err: fmt.Errorf("HTTP %d: %s", httpResp.StatusCode, truncate(string(respBody), 200))}
		}
		if httpResp.StatusCode != http.StatusOK {
			return nil, apperr.NewLLMError(fmt.Sprintf("LLM backend returned HTTP %d", httpResp.StatusCode))
		}

		var parsed chatResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return nil, fmt.Errorf("failed to decode chat response: %w", err)
		}
		if parsed.Error != nil {
			return nil, apperr.NewLLMError(parsed.Error.Message)
		}
		if len(parsed.Choices) == 0 {
			return nil, apperr.NewLLMError("chat response contained no choices")
		}
		return &parsed, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", callUsage{}, &retryableError{err: err}
		}
		return "", callUsage{}, err
	}

	parsed := result.(*chatResponse)
	return parsed.Choices[0].Message.Content, callUsage{
		tokensIn:  parsed.Usage.PromptTokens,
		tokensOut: parsed.Usage.CompletionTokens,
	}, nil
}

// isTransient reports whether a transport error is worth retrying.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection reset", "connection refused", "no such host",
		"network is unreachable", "i/o timeout", "tls handshake timeout", "eof",
	} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func (c *Client) recordUsage(ctx context.Context, systemID *uuid.UUID, runType, modelName string, usage callUsage, requests, events int) {
	if c.usage == nil {
		return
	}
	row := &model.LlmUsage{
		SystemID:     systemID,
		RunType:      runType,
		Model:        modelName,
		TokenInput:   usage.tokensIn,
		TokenOutput:  usage.tokensOut,
		RequestCount: requests,
		EventCount:   events,
		CostEstimate: Cost(modelName, usage.tokensIn, usage.tokensOut),
		CreatedAt:    time.Now().UTC(),
	}
	if err := c.usage.RecordUsage(ctx, row); err != nil {
		c.logger.Warn("Failed to record LLM usage", zap.Error(err))
	}
}
