package remediation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/josedab/prflow/internal/config"
	"github.com/josedab/prflow/internal/orchestrator"
)

func seedWorkflow(t *testing.T, store orchestrator.Store, review *orchestrator.Review) string {
	t.Helper()
	wf := &orchestrator.Workflow{
		ID:           "wf-1",
		RepositoryID: "repo-1",
		PRNumber:     42,
		Owner:        "acme",
		Repo:         "widgets",
		Status:       orchestrator.StatusReviewing,
		Review:       review,
	}
	require.NoError(t, store.CreateWorkflow(wf))
	return wf.ID
}

// TestExecuteSecurityOnlyPlanCommitsAndReanalyzes covers Scenario F: a
// review with one critical security fix, one low-severity
// maintainability rename, and one nitpick (both filtered by severity)
// produces a plan with a single auto-applicable security phase; after
// execution, the fix is applied in one commit and reanalysis is
// triggered.
func TestExecuteSecurityOnlyPlanCommitsAndReanalyzes(t *testing.T) {
	review := &orchestrator.Review{
		Comments: []orchestrator.ReviewComment{
			{
				ID: "c1", File: "auth.go", Severity: orchestrator.SeverityCritical, Category: orchestrator.CategorySecurity,
				Confidence: 0.95,
				Suggestion: &orchestrator.Suggestion{OriginalCode: "if token == \"\" {", SuggestedCode: "if token == \"\" || !isValid(token) {"},
			},
			{
				ID: "c2", File: "util.go", Severity: orchestrator.SeverityLow, Category: orchestrator.CategoryMaintainability,
				Confidence: 0.9,
				Suggestion: &orchestrator.Suggestion{OriginalCode: "function helper(x) {", SuggestedCode: "function helperRenamed(x) {"},
			},
			{
				ID: "c3", File: "util.go", Severity: orchestrator.SeverityNitpick, Category: orchestrator.CategoryStyle,
				Confidence: 0.99,
				Suggestion: &orchestrator.Suggestion{OriginalCode: "x:=1", SuggestedCode: "x := 1"},
			},
		},
	}

	store := orchestrator.NewMemoryStore()
	workflowID := seedWorkflow(t, store, review)

	cfg := config.DefaultRemediationConfig()
	cfg.IncludeSeverities = []string{"critical", "high"} // low and nitpick excluded up front

	plan := GeneratePlan(workflowID, review, cfg)
	require.Len(t, plan.Phases, 1, "only the security phase should survive filtering")
	require.Equal(t, phaseSecurity, plan.Phases[0].Name)
	require.True(t, plan.Phases[0].CanAutoApply)

	writer := &StubBranchWriter{}
	executor := NewExecutor(store, writer, cfg)
	result, err := executor.Execute(context.Background(), plan, Target{Owner: "acme", Repo: "widgets", Branch: "feature"})
	require.NoError(t, err)

	require.True(t, result.Success)
	require.Len(t, result.Applied, 1)
	require.Equal(t, "c1", result.Applied[0].ID)
	require.Len(t, writer.Commits, 1, "single commit strategy batches the whole phase")
	require.True(t, result.ReanalysisTriggered)

	wf, _, err := store.GetWorkflowWithSettings("repo-1", 42)
	require.NoError(t, err)
	require.Equal(t, orchestrator.StatusAnalyzing, wf.Status)
	require.Equal(t, orchestrator.CommentStatusFixApplied, wf.Review.Comments[0].Status)
}

// TestGroupIntoPhasesNeverAutoAppliesABreakingFix covers invariant 8:
// no fix flagged isBreaking may appear in any phase with
// CanAutoApply = true.
func TestGroupIntoPhasesNeverAutoAppliesABreakingFix(t *testing.T) {
	candidates := []Candidate{
		{ReviewComment: orchestrator.ReviewComment{
			ID: "c1", Severity: orchestrator.SeverityHigh, Category: orchestrator.CategoryMaintainability, Confidence: 0.9,
			Suggestion: &orchestrator.Suggestion{OriginalCode: "function a(x) {", SuggestedCode: "function b(x) {"},
		}},
		{ReviewComment: orchestrator.ReviewComment{
			ID: "c2", Severity: orchestrator.SeverityHigh, Category: orchestrator.CategoryBug, Confidence: 0.9,
			Suggestion: &orchestrator.Suggestion{OriginalCode: "if x > 0 {", SuggestedCode: "if x >= 0 {"},
		}},
	}

	decisions := make([]Decision, 0, len(candidates))
	for _, c := range candidates {
		decisions = append(decisions, Decide(c, 0.8))
	}
	phases := GroupIntoPhases(decisions, 0.8)

	for _, p := range phases {
		if !p.CanAutoApply {
			continue
		}
		for _, d := range p.Decisions {
			require.False(t, d.IsBreaking, "phase %q marked auto-applicable but contains a breaking fix", p.Name)
		}
	}

	// The rename itself must have been caught as breaking.
	var renameDecision Decision
	for _, d := range decisions {
		if d.Candidate.ID == "c1" {
			renameDecision = d
		}
	}
	require.True(t, renameDecision.IsBreaking)
	require.False(t, renameDecision.AutoApplicable)
}

// TestExecuteConservesEveryCandidate covers invariant 9: every fix
// that enters execution ends up in exactly one of applied, skipped, or
// failed.
func TestExecuteConservesEveryCandidate(t *testing.T) {
	review := &orchestrator.Review{
		Comments: []orchestrator.ReviewComment{
			{ID: "applied-1", File: "a.go", Severity: orchestrator.SeverityHigh, Category: orchestrator.CategoryBug, Confidence: 0.95,
				Suggestion: &orchestrator.Suggestion{OriginalCode: "foo()", SuggestedCode: "foo(ctx)"}},
			{ID: "low-confidence", File: "b.go", Severity: orchestrator.SeverityMedium, Category: orchestrator.CategoryPerformance, Confidence: 0.1,
				Suggestion: &orchestrator.Suggestion{OriginalCode: "slow()", SuggestedCode: "fast()"}},
			{ID: "style-review", File: "c.go", Severity: orchestrator.SeverityLow, Category: orchestrator.CategoryStyle, Confidence: 0.95,
				Suggestion: &orchestrator.Suggestion{OriginalCode: "x=1", SuggestedCode: "x = 1"}},
		},
	}

	store := orchestrator.NewMemoryStore()
	workflowID := seedWorkflow(t, store, review)

	cfg := config.DefaultRemediationConfig()
	plan := GeneratePlan(workflowID, review, cfg)

	writer := &StubBranchWriter{}
	executor := NewExecutor(store, writer, cfg)
	result, err := executor.Execute(context.Background(), plan, Target{Owner: "acme", Repo: "widgets", Branch: "feature"})
	require.NoError(t, err)

	seen := make(map[string]string)
	for _, c := range result.Applied {
		seen[c.ID] = "applied"
	}
	for _, s := range result.Skipped {
		seen[s.Candidate.ID] = "skipped"
	}
	for _, f := range result.Failed {
		seen[f.Candidate.ID] = "failed"
	}

	for _, comment := range review.Comments {
		_, ok := seen[comment.ID]
		require.True(t, ok, "candidate %s must land in applied/skipped/failed", comment.ID)
	}
	require.Len(t, seen, len(review.Comments))
}
