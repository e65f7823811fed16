package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMergeQueueConfigMatchesSpec(t *testing.T) {
	cfg := DefaultMergeQueueConfig()

	assert.True(t, cfg.Enabled)
	assert.False(t, cfg.AutoMergeEnabled)
	assert.Equal(t, 1, cfg.RequireApprovals)
	assert.True(t, cfg.RequireChecks)
	assert.True(t, cfg.RequireUpToDate)
	assert.True(t, cfg.CheckConflicts)
	assert.False(t, cfg.AutoResolveConflicts)
	assert.Equal(t, MergeMethodSquash, cfg.MergeMethod)
	assert.Equal(t, 1, cfg.BatchSize)
	assert.Equal(t, 60, cfg.MaxWaitTimeMinutes)
	assert.Equal(t, 3, cfg.ConflictLineBuffer)
}

func TestDefaultRemediationConfig(t *testing.T) {
	cfg := DefaultRemediationConfig()

	assert.Equal(t, 0.8, cfg.AutoApplyThreshold)
	assert.True(t, cfg.SkipBreakingChanges)
	assert.True(t, cfg.TriggerReanalysis)
	assert.False(t, cfg.DryRun)
}

func TestIsValidRejectsUnknownBackend(t *testing.T) {
	cfg := &Config{QueueBackend: "bogus", SessionBackend: SessionBackendMemory, AgentTimeout: 1}
	require.Error(t, cfg.IsValid())

	cfg = &Config{QueueBackend: QueueBackendMemory, SessionBackend: "bogus", AgentTimeout: 1}
	require.Error(t, cfg.IsValid())
}

func TestIsValidRejectsNonPositiveTimeout(t *testing.T) {
	cfg := &Config{QueueBackend: QueueBackendMemory, SessionBackend: SessionBackendMemory, AgentTimeout: 0}
	require.Error(t, cfg.IsValid())
}
