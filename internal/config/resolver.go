package config

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultResolverTTL is how long a resolved settings group stays cached
// before it is re-read from app_config.
const DefaultResolverTTL = 60 * time.Second

// Source reads and writes raw settings values. Implemented by the
// app_config table in the store.
type Source interface {
	GetAppConfig(ctx context.Context, key string) (json.RawMessage, error)
	SetAppConfig(ctx context.Context, key string, value json.RawMessage) error
}

type cacheEntry struct {
	raw       json.RawMessage
	fetchedAt time.Time
}

// Resolver resolves runtime settings groups from app_config through a
// TTL cache. Any config mutation must call Invalidate.
type Resolver struct {
	src    Source
	ttl    time.Duration
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewResolver creates a settings resolver backed by src.
func NewResolver(src Source, logger *zap.Logger) *Resolver {
	return &Resolver{
		src:    src,
		ttl:    DefaultResolverTTL,
		logger: logger.Named("config"),
		cache:  make(map[string]cacheEntry),
	}
}

// Invalidate drops all cached settings groups. Called on any config
// mutation so the next resolve re-reads the store.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.cache = make(map[string]cacheEntry)
	r.mu.Unlock()
}

// Raw returns the stored raw JSON for a settings key, going through the
// TTL cache. A missing key returns nil without error.
func (r *Resolver) Raw(ctx context.Context, key string) (json.RawMessage, error) {
	r.mu.RLock()
	entry, ok := r.cache[key]
	r.mu.RUnlock()

	if ok && time.Since(entry.fetchedAt) < r.ttl {
		return entry.raw, nil
	}

	raw, err := r.src.GetAppConfig(ctx, key)
	if err != nil {
		// Serve a stale entry rather than failing the pipeline tick.
		if ok {
			r.logger.Warn("Serving stale settings after read failure",
				zap.String("key", key), zap.Error(err))
			return entry.raw, nil
		}
		return nil, err
	}

	r.mu.Lock()
	r.cache[key] = cacheEntry{raw: raw, fetchedAt: time.Now()}
	r.mu.Unlock()

	return raw, nil
}

// Update validates and persists a settings group, then invalidates the cache.
func (r *Resolver) Update(ctx context.Context, key string, value json.RawMessage) error {
	if !knownKey(key) {
		return fmt.Errorf("unknown settings key: %s", key)
	}
	if !json.Valid(value) {
		return fmt.Errorf("settings value for %s is not valid JSON", key)
	}
	if err := r.src.SetAppConfig(ctx, key, value); err != nil {
		return fmt.Errorf("failed to persist settings %s: %w", key, err)
	}
	r.Invalidate()
	return nil
}

func knownKey(key string) bool {
	switch key {
	case KeyAI, KeyTaskModels, KeyPrompts, KeyPipeline, KeyMetaAnalysis,
		KeyTokenOpt, KeyDashboard, KeyPrivacy, KeyMaintenance:
		return true
	}
	return false
}

// resolve overlays the stored JSON for key onto dst, which must already
// hold the defaults. Corrupt stored JSON keeps the defaults.
func (r *Resolver) resolve(ctx context.Context, key string, dst interface{}) {
	raw, err := r.Raw(ctx, key)
	if err != nil {
		r.logger.Warn("Settings resolve failed, using defaults",
			zap.String("key", key), zap.Error(err))
		return
	}
	if len(raw) == 0 {
		return
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		r.logger.Warn("Corrupt stored settings, using defaults",
			zap.String("key", key), zap.Error(err))
	}
}

// AI resolves the LLM backend settings.
func (r *Resolver) AI(ctx context.Context) AISettings {
	s := DefaultAISettings()
	r.resolve(ctx, KeyAI, &s)
	return s
}

// TaskModels resolves per-task model overrides.
func (r *Resolver) TaskModels(ctx context.Context) TaskModelSettings {
	var s TaskModelSettings
	r.resolve(ctx, KeyTaskModels, &s)
	return s
}

// Prompts resolves operator prompt overrides.
func (r *Resolver) Prompts(ctx context.Context) PromptSettings {
	var s PromptSettings
	r.resolve(ctx, KeyPrompts, &s)
	return s
}

// Pipeline resolves the scoring loop settings.
func (r *Resolver) Pipeline(ctx context.Context) PipelineSettings {
	s := DefaultPipelineSettings()
	r.resolve(ctx, KeyPipeline, &s)
	return s
}

// Meta resolves the meta analysis and finding engine settings.
func (r *Resolver) Meta(ctx context.Context) MetaSettings {
	s := DefaultMetaSettings()
	r.resolve(ctx, KeyMetaAnalysis, &s)
	return s
}

// TokenOpt resolves the token optimization settings.
func (r *Resolver) TokenOpt(ctx context.Context) TokenOptSettings {
	s := DefaultTokenOptSettings()
	r.resolve(ctx, KeyTokenOpt, &s)
	return s
}

// Dashboard resolves the dashboard aggregation settings.
func (r *Resolver) Dashboard(ctx context.Context) DashboardSettings {
	s := DefaultDashboardSettings()
	r.resolve(ctx, KeyDashboard, &s)
	return s
}

// Privacy resolves the outbound redaction settings.
func (r *Resolver) Privacy(ctx context.Context) PrivacySettings {
	s := DefaultPrivacySettings()
	r.resolve(ctx, KeyPrivacy, &s)
	return s
}

// Maintenance resolves the maintenance scheduler settings.
func (r *Resolver) Maintenance(ctx context.Context) MaintenanceSettings {
	s := DefaultMaintenanceSettings()
	r.resolve(ctx, KeyMaintenance, &s)
	return s
}
