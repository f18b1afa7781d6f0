package config

// Runtime settings groups. Each group is stored as one JSONB value in
// app_config under its key and is mutable through the HTTP API. Zero or
// missing values fall back to the defaults below at resolve time.

// Settings keys in app_config.
const (
	KeyAI           = "ai_config"
	KeyTaskModels   = "task_model_config"
	KeyPrompts      = "ai_prompts"
	KeyPipeline     = "pipeline_config"
	KeyMetaAnalysis = "meta_analysis_config"
	KeyTokenOpt     = "token_optimization"
	KeyDashboard    = "dashboard_config"
	KeyPrivacy      = "privacy_config"
	KeyMaintenance  = "maintenance_config"
)

// AISettings configures the LLM backend connection.
type AISettings struct {
	BaseURL        string `json:"base_url"`
	APIKey         string `json:"api_key,omitempty"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	MaxRetries     int    `json:"max_retries"`
	RetryBaseMS    int    `json:"retry_base_ms"`
	RateLimitRPS   int    `json:"rate_limit_rps"`
	RateLimitBurst int    `json:"rate_limit_burst"`
}

// DefaultAISettings returns the default AI backend settings.
func DefaultAISettings() AISettings {
	return AISettings{
		BaseURL:        "https://api.openai.com/v1",
		Model:          "gpt-4o-mini",
		TimeoutSeconds: 60,
		MaxRetries:     2,
		RetryBaseMS:    500,
		RateLimitRPS:   5,
		RateLimitBurst: 10,
	}
}

// TaskModelSettings carries per-task model overrides. Empty values fall
// back to the base AI model.
type TaskModelSettings struct {
	ScoringModel string `json:"scoring_model,omitempty"`
	MetaModel    string `json:"meta_model,omitempty"`
}

// PromptSettings holds operator-editable prompt templates. Empty fields
// use the built-in prompts.
type PromptSettings struct {
	ScoringSystemPrompt string            `json:"scoring_system_prompt,omitempty"`
	MetaSystemPrompt    string            `json:"meta_system_prompt,omitempty"`
	CriterionGuidelines map[string]string `json:"criterion_guidelines,omitempty"` // slug -> guideline text
}

// PipelineSettings tunes the scoring loop scheduler.
type PipelineSettings struct {
	IntervalMinutes       int      `json:"pipeline_interval_minutes"`
	ScoringLimitPerRun    int      `json:"scoring_limit_per_run"`
	ScoringBatchSize      int      `json:"scoring_batch_size"`
	MaxParallelSystems    int      `json:"max_parallel_systems"`
	SeverityFilterEnabled bool     `json:"severity_filter_enabled"`
	SkipSeverities        []string `json:"skip_severities,omitempty"`
}

// DefaultPipelineSettings returns the default scoring loop settings.
func DefaultPipelineSettings() PipelineSettings {
	return PipelineSettings{
		IntervalMinutes:    5,
		ScoringLimitPerRun: 500,
		ScoringBatchSize:   20,
		MaxParallelSystems: 4,
	}
}

// MetaSettings tunes the meta analyzer and the finding engine.
type MetaSettings struct {
	WindowMinutes            int     `json:"window_minutes"`
	ContextWindowSize        int     `json:"context_window_size"`
	EffectiveScoreMetaWeight float64 `json:"effective_score_meta_weight"`

	FindingDedupEnabled           bool    `json:"finding_dedup_enabled"`
	FindingDedupThreshold         float64 `json:"finding_dedup_threshold"`
	SeverityDecayEnabled          bool    `json:"severity_decay_enabled"`
	SeverityDecayAfterOccurrences int     `json:"severity_decay_after_occurrences"`
	AutoResolveAfterMisses        int     `json:"auto_resolve_after_misses"`
	RecurringLookbackDays         int     `json:"recurring_lookback_days"`
	MaxNewFindingsPerWindow       int     `json:"max_new_findings_per_window"`
	MaxOpenFindingsPerSystem      int     `json:"max_open_findings_per_system"`
}

// DefaultMetaSettings returns the default meta analysis settings.
func DefaultMetaSettings() MetaSettings {
	return MetaSettings{
		WindowMinutes:            5,
		ContextWindowSize:        5,
		EffectiveScoreMetaWeight: 0.7,

		FindingDedupEnabled:           true,
		FindingDedupThreshold:         0.6,
		SeverityDecayEnabled:          true,
		SeverityDecayAfterOccurrences: 5,
		AutoResolveAfterMisses:        3,
		RecurringLookbackDays:         14,
		MaxNewFindingsPerWindow:       3,
		MaxOpenFindingsPerSystem:      50,
	}
}

// TokenOptSettings groups the token-saving optimizations.
type TokenOptSettings struct {
	SkipZeroScoreMeta         bool    `json:"skip_zero_score_meta"`
	FilterZeroScoreMetaEvents bool    `json:"filter_zero_score_meta_events"`
	MetaPrioritizeHighScores  bool    `json:"meta_prioritize_high_scores"`
	MetaMaxEvents             int     `json:"meta_max_events"`
	ScoreCacheTTLMinutes      int     `json:"score_cache_ttl_minutes"`
	LowScoreSkipEnabled       bool    `json:"low_score_skip_enabled"`
	LowScoreThreshold         float64 `json:"low_score_threshold"`
	LowScoreMinScorings       int     `json:"low_score_min_scorings"`
	MessageMaxLength          int     `json:"message_max_length"`
	MetaMaxContextTokens      int     `json:"meta_max_context_tokens"`
}

// DefaultTokenOptSettings returns the default token optimization settings.
func DefaultTokenOptSettings() TokenOptSettings {
	return TokenOptSettings{
		SkipZeroScoreMeta:         true,
		FilterZeroScoreMetaEvents: true,
		MetaPrioritizeHighScores:  true,
		MetaMaxEvents:             200,
		ScoreCacheTTLMinutes:      360,
		LowScoreThreshold:         0.1,
		LowScoreMinScorings:       3,
		MessageMaxLength:          512,
		MetaMaxContextTokens:      12000,
	}
}

// DashboardSettings tunes the dashboard aggregation queries.
type DashboardSettings struct {
	ScoreDisplayWindowDays int `json:"score_display_window_days"`
}

// DefaultDashboardSettings returns the default dashboard settings.
func DefaultDashboardSettings() DashboardSettings {
	return DashboardSettings{ScoreDisplayWindowDays: 7}
}

// PrivacySettings configures the outbound PII redaction pipeline.
// Filtering applies only to LLM payloads, never to persisted events.
type PrivacySettings struct {
	RedactIPs         bool     `json:"redact_ips"`
	RedactEmails      bool     `json:"redact_emails"`
	RedactPhones      bool     `json:"redact_phones"`
	RedactURLs        bool     `json:"redact_urls"`
	RedactMACs        bool     `json:"redact_macs"`
	RedactCreditCards bool     `json:"redact_credit_cards"`
	RedactAPIKeys     bool     `json:"redact_api_keys"`
	RedactCredentials bool     `json:"redact_credentials"`
	RedactUserPaths   bool     `json:"redact_user_paths"`
	StripHost         bool     `json:"strip_host"`
	StripProgram      bool     `json:"strip_program"`
	CustomPatterns    []string `json:"custom_patterns,omitempty"`
}

// DefaultPrivacySettings returns the default privacy filter settings.
// Everything except field stripping is on by default.
func DefaultPrivacySettings() PrivacySettings {
	return PrivacySettings{
		RedactIPs:         true,
		RedactEmails:      true,
		RedactPhones:      true,
		RedactURLs:        true,
		RedactMACs:        true,
		RedactCreditCards: true,
		RedactAPIKeys:     true,
		RedactCredentials: true,
		RedactUserPaths:   true,
	}
}

// MaintenanceSettings tunes the maintenance scheduler and backups.
type MaintenanceSettings struct {
	IntervalHours        int    `json:"maintenance_interval_hours"`
	DefaultRetentionDays int    `json:"default_retention_days"`
	BackupEnabled        bool   `json:"backup_enabled"`
	BackupIntervalHours  int    `json:"backup_interval_hours"`
	BackupRetentionCount int    `json:"backup_retention_count"`
	BackupFormat         string `json:"backup_format"` // "custom" or "plain"
}

// DefaultMaintenanceSettings returns the default maintenance settings.
func DefaultMaintenanceSettings() MaintenanceSettings {
	return MaintenanceSettings{
		IntervalHours:        6,
		DefaultRetentionDays: 30,
		BackupIntervalHours:  24,
		BackupRetentionCount: 7,
		BackupFormat:         "custom",
	}
}
