// Package remediation implements the Auto-Remediation Engine (spec
// §4.4): given a workflow's review artifact, it decides which
// comments are safe to auto-apply, groups them into ordered phases,
// and (optionally) commits fixes to the PR branch.
package remediation

import "github.com/josedab/prflow/internal/orchestrator"

// Candidate is one review comment under consideration for remediation.
type Candidate struct {
	orchestrator.ReviewComment
}

// Decision is the applicability verdict for one candidate.
type Decision struct {
	Candidate     Candidate
	AutoApplicable bool
	IsBreaking    bool
	Reason        string
}

// Phase is an ordered group of fixes applied (or skipped) together.
type Phase struct {
	Name          string
	Decisions     []Decision
	CanAutoApply  bool
	RequiresReview bool
}

// Plan is the output of plan generation: every eligible candidate
// bucketed into phases in application order.
type Plan struct {
	WorkflowID string
	Phases     []Phase
}

// CommitResult records one commit produced during execution.
type CommitResult struct {
	Phase string
	Files []string
	SHA   string
}

// Result is the outcome of executing a Plan (spec §4.4 failure
// semantics: "the call returns a result summary").
type Result struct {
	Success              bool
	PhasesCompleted      int
	Applied              []Candidate
	Skipped              []SkippedFix
	Failed               []FailedFix
	CommitShas           []string
	ReanalysisTriggered  bool
}

// SkippedFix records a candidate that was filtered out or left for
// human review, with why.
type SkippedFix struct {
	Candidate Candidate
	Reason    string
}

// FailedFix records a candidate whose application failed.
type FailedFix struct {
	Candidate Candidate
	Err       string
}
