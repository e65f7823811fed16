package remediation

import (
	"github.com/josedab/prflow/internal/config"
	"github.com/josedab/prflow/internal/orchestrator"
)

// GeneratePlan builds a Plan from a workflow's review comments: filter
// by severity/category, prioritize, decide auto-applicability (dropping
// breaking fixes when skipBreakingChanges is set), then bucket into
// ordered phases (spec §4.4 "Plan generation").
func GeneratePlan(workflowID string, review *orchestrator.Review, cfg config.RemediationConfig) Plan {
	if review == nil {
		return Plan{WorkflowID: workflowID}
	}

	candidates := make([]Candidate, 0, len(review.Comments))
	for _, comment := range review.Comments {
		candidates = append(candidates, Candidate{ReviewComment: comment})
	}

	eligible := Eligible(candidates, cfg)
	prioritized := Prioritize(eligible)

	decisions := make([]Decision, 0, len(prioritized))
	for _, c := range prioritized {
		d := Decide(c, cfg.AutoApplyThreshold)
		if d.IsBreaking && cfg.SkipBreakingChanges {
			continue
		}
		decisions = append(decisions, d)
	}

	phases := GroupIntoPhases(decisions, cfg.AutoApplyThreshold)
	return Plan{WorkflowID: workflowID, Phases: phases}
}
