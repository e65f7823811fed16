// Package config loads and validates process configuration for the
// prflow core. It mirrors the teacher's plugin configuration surface
// (an immutable struct, defaults applied after load, IsValid rather
// than panicking on bad values) but sources values from the process
// environment instead of a plugin settings page.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// MergeMethod is one of the three merge strategies the Merge Queue may
// use once an item is gated ready.
type MergeMethod string

const (
	MergeMethodMerge  MergeMethod = "merge"
	MergeMethodSquash MergeMethod = "squash"
	MergeMethodRebase MergeMethod = "rebase"
)

// CommitStrategy controls how Auto-Remediation batches applied fixes
// into commits.
type CommitStrategy string

const (
	CommitStrategySingle   CommitStrategy = "single"
	CommitStrategyPerPhase CommitStrategy = "per-phase"
	CommitStrategyPerFile  CommitStrategy = "per-file"
)

// QueueBackend selects the Merge Queue's backing ordered-set
// implementation.
type QueueBackend string

const (
	QueueBackendMemory QueueBackend = "memory"
	QueueBackendRedis  QueueBackend = "redis"
)

// SessionBackend selects the Conversation Session Store's backing
// implementation.
type SessionBackend string

const (
	SessionBackendMemory SessionBackend = "memory"
	SessionBackendRedis  SessionBackend = "redis"
)

// RepositorySettings holds the per-repository toggles the Workflow
// Orchestrator consults (spec §4.2 step 1).
type RepositorySettings struct {
	ReviewEnabled         bool
	TestGenerationEnabled bool
	DocUpdatesEnabled     bool
	// CommentSeverityThreshold is the minimum severity (inclusive) at
	// which a review comment is posted back to the provider.
	CommentSeverityThreshold string
}

// MergeQueueConfig is the per-repository merge-queue configuration
// from spec §6, with the defaults listed there.
type MergeQueueConfig struct {
	Enabled              bool
	AutoMergeEnabled     bool
	RequireApprovals     int
	RequireChecks        bool
	RequireUpToDate      bool
	CheckConflicts       bool
	AutoResolveConflicts bool
	MergeMethod          MergeMethod
	BatchSize            int
	MaxWaitTimeMinutes   int
	// ConflictLineBuffer is the number of context lines either side of
	// a changed range that still counts as an overlap (spec §4.3 step
	// 6, open question in §9 — resolved as a per-repo override of a
	// global default rather than a hardcoded constant).
	ConflictLineBuffer int
}

// DefaultMergeQueueConfig returns the defaults spec.md §6 specifies:
// {true, false, 1, true, true, true, false, squash, 1, 60}.
func DefaultMergeQueueConfig() MergeQueueConfig {
	return MergeQueueConfig{
		Enabled:              true,
		AutoMergeEnabled:     false,
		RequireApprovals:     1,
		RequireChecks:        true,
		RequireUpToDate:      true,
		CheckConflicts:       true,
		AutoResolveConflicts: false,
		MergeMethod:          MergeMethodSquash,
		BatchSize:            1,
		MaxWaitTimeMinutes:   60,
		ConflictLineBuffer:   3,
	}
}

// RemediationConfig drives Auto-Remediation plan generation (spec
// §4.4).
type RemediationConfig struct {
	AutoApplyThreshold   float64
	IncludeSeverities    []string
	IncludeCategories    []string
	SkipBreakingChanges  bool
	CommitStrategy       CommitStrategy
	TriggerReanalysis    bool
	DryRun               bool
}

// DefaultRemediationConfig returns a conservative default: only the
// highest-confidence, non-breaking fixes across all severities and
// categories are eligible, applied with one commit per phase, and
// remediation re-triggers analysis on success.
func DefaultRemediationConfig() RemediationConfig {
	return RemediationConfig{
		AutoApplyThreshold:  0.8,
		IncludeSeverities:   []string{"critical", "high", "medium", "low", "nitpick"},
		IncludeCategories:   []string{"security", "bug", "performance", "error_handling", "style", "maintainability"},
		SkipBreakingChanges: true,
		CommitStrategy:      CommitStrategySingle,
		TriggerReanalysis:   true,
		DryRun:              false,
	}
}

// Config is the process-wide configuration for cmd/prflow.
type Config struct {
	GitHubToken       string
	GitHubWebhookSecret string
	AnthropicAPIKey   string

	ListenAddr string

	QueueBackend   QueueBackend
	SessionBackend SessionBackend
	RedisAddr      string

	AgentTimeout time.Duration

	SessionTTL time.Duration

	EnableDebugLogging bool
}

// Load reads configuration from the environment, optionally loading a
// .env file first (ignored if absent — mirrors godotenv.Load's usual
// call site in local dev tooling).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		GitHubToken:         os.Getenv("PRFLOW_GITHUB_TOKEN"),
		GitHubWebhookSecret: os.Getenv("PRFLOW_GITHUB_WEBHOOK_SECRET"),
		AnthropicAPIKey:     os.Getenv("PRFLOW_ANTHROPIC_API_KEY"),
		ListenAddr:          getEnvOr("PRFLOW_LISTEN_ADDR", ":8080"),
		QueueBackend:        QueueBackend(getEnvOr("PRFLOW_QUEUE_BACKEND", string(QueueBackendMemory))),
		SessionBackend:      SessionBackend(getEnvOr("PRFLOW_SESSION_BACKEND", string(SessionBackendMemory))),
		RedisAddr:           getEnvOr("PRFLOW_REDIS_ADDR", "localhost:6379"),
		AgentTimeout:        5 * time.Minute,
		SessionTTL:          30 * time.Minute,
		EnableDebugLogging:  strings.EqualFold(os.Getenv("PRFLOW_DEBUG"), "true"),
	}

	if v := os.Getenv("PRFLOW_AGENT_TIMEOUT_SECONDS"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid PRFLOW_AGENT_TIMEOUT_SECONDS %q", v)
		}
		cfg.AgentTimeout = time.Duration(secs) * time.Second
	}

	if err := cfg.IsValid(); err != nil {
		return nil, errors.Wrap(err, "failed to load prflow configuration")
	}
	return cfg, nil
}

// IsValid checks that the configuration is well-formed. It does not
// require provider credentials to be set — a degraded mode (logging
// only, no provider I/O) is valid for local development.
func (c *Config) IsValid() error {
	switch c.QueueBackend {
	case QueueBackendMemory, QueueBackendRedis:
	default:
		return fmt.Errorf("unknown queue backend %q", c.QueueBackend)
	}
	switch c.SessionBackend {
	case SessionBackendMemory, SessionBackendRedis:
	default:
		return fmt.Errorf("unknown session backend %q", c.SessionBackend)
	}
	if c.AgentTimeout <= 0 {
		return fmt.Errorf("agent timeout must be positive, got %s", c.AgentTimeout)
	}
	return nil
}

func getEnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
