package remediation

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/josedab/prflow/internal/config"
	"github.com/josedab/prflow/internal/orchestrator"
)

// Target bundles the PR identity a Plan's fixes are applied against.
type Target struct {
	Owner  string
	Repo   string
	Branch string
}

// Executor walks a Plan's phases and applies eligible fixes via a
// BranchWriter, persisting comment status and workflow transitions
// through an orchestrator.Store (spec §4.4 "Execution").
type Executor struct {
	Store   orchestrator.Store
	Writer  BranchWriter
	Config  config.RemediationConfig

	sf singleflight.Group
}

// NewExecutor builds an Executor.
func NewExecutor(store orchestrator.Store, writer BranchWriter, cfg config.RemediationConfig) *Executor {
	return &Executor{Store: store, Writer: writer, Config: cfg}
}

// Execute runs plan against target, serialized per workflow (spec
// §4.4 "Concurrency contract": "at most one plan executing at a time
// per workflow").
func (e *Executor) Execute(ctx context.Context, plan Plan, target Target) (Result, error) {
	v, err, _ := e.sf.Do(plan.WorkflowID, func() (any, error) {
		result := e.runPlan(ctx, plan, target)
		return result, nil
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (e *Executor) runPlan(ctx context.Context, plan Plan, target Target) Result {
	result := Result{Success: true}

	for _, phase := range plan.Phases {
		if !phase.CanAutoApply && !e.Config.DryRun {
			for _, d := range phase.Decisions {
				result.Skipped = append(result.Skipped, SkippedFix{Candidate: d.Candidate, Reason: phaseSkipReason(d)})
			}
			continue
		}

		edits := editsFor(phase.Decisions)
		if e.Config.DryRun {
			// DryRun never calls the BranchWriter; every fix in a
			// dry-run phase is reported as skipped so callers can see
			// what WOULD have applied without touching the branch.
			for _, d := range phase.Decisions {
				result.Skipped = append(result.Skipped, SkippedFix{Candidate: d.Candidate, Reason: "dry run"})
			}
			result.PhasesCompleted++
			continue
		}

		shas, applyErr := e.applyPhase(ctx, phase, edits, target)
		if applyErr != nil {
			for _, d := range phase.Decisions {
				result.Failed = append(result.Failed, FailedFix{Candidate: d.Candidate, Err: applyErr.Error()})
			}
			// A failed phase aborts only itself; later phases still run
			// (spec §4.4 failure semantics).
			continue
		}

		for _, d := range phase.Decisions {
			result.Applied = append(result.Applied, d.Candidate)
			_ = e.Store.UpdateCommentStatus(plan.WorkflowID, d.Candidate.ID, orchestrator.CommentStatusFixApplied)
		}
		result.CommitShas = append(result.CommitShas, shas...)
		result.PhasesCompleted++
	}

	result.Success = len(result.Failed) == 0
	if e.Config.TriggerReanalysis && len(result.Applied) > 0 {
		if err := e.Store.UpdateWorkflowStatus(plan.WorkflowID, orchestrator.StatusAnalyzing); err == nil {
			result.ReanalysisTriggered = true
		}
	}
	return result
}

func phaseSkipReason(d Decision) string {
	if d.IsBreaking {
		return "breaking change: " + d.Reason
	}
	if !d.AutoApplicable {
		return d.Reason
	}
	return "phase requires human review"
}

// applyPhase commits a phase's edits per the configured commit
// strategy (spec §4.4 "Execution"): `single`/`per-phase` produce one
// commit for the whole phase, `per-file` produces one commit per file.
func (e *Executor) applyPhase(ctx context.Context, phase Phase, edits []Edit, target Target) ([]string, error) {
	switch e.Config.CommitStrategy {
	case config.CommitStrategyPerFile:
		byFile := make(map[string][]Edit)
		order := make([]string, 0)
		for _, edit := range edits {
			if _, seen := byFile[edit.File]; !seen {
				order = append(order, edit.File)
			}
			byFile[edit.File] = append(byFile[edit.File], edit)
		}
		shas := make([]string, 0, len(order))
		for _, file := range order {
			sha, err := e.Writer.Commit(ctx, target.Owner, target.Repo, target.Branch, byFile[file],
				fmt.Sprintf("prflow: apply %s fixes in %s", phase.Name, file))
			if err != nil {
				return nil, err
			}
			shas = append(shas, sha)
		}
		return shas, nil
	default: // "single" and "per-phase" are equivalent: one commit per phase.
		sha, err := e.Writer.Commit(ctx, target.Owner, target.Repo, target.Branch, edits,
			fmt.Sprintf("prflow: apply %s fixes", phase.Name))
		if err != nil {
			return nil, err
		}
		return []string{sha}, nil
	}
}

func editsFor(decisions []Decision) []Edit {
	edits := make([]Edit, 0, len(decisions))
	for _, d := range decisions {
		if d.Candidate.Suggestion == nil {
			continue
		}
		edits = append(edits, Edit{
			File:      d.Candidate.File,
			Original:  d.Candidate.Suggestion.OriginalCode,
			Suggested: d.Candidate.Suggestion.SuggestedCode,
		})
	}
	return edits
}
