package remediation

import (
	"regexp"
	"strings"

	"github.com/josedab/prflow/internal/config"
	"github.com/josedab/prflow/internal/orchestrator"
)

// signaturePattern matches a function/const/let/var declaration's
// name, used by the breaking-change heuristic to compare the declared
// symbol between original and suggested code (spec §4.4).
var signaturePattern = regexp.MustCompile(`\b(?:function|const|let|var)\s+([A-Za-z_$][A-Za-z0-9_$]*)\s*\(`)

// Decide evaluates one candidate's auto-applicability per spec §4.4:
// both code snippets must be present, the change must not trip the
// breaking-change heuristics, and confidence must clear the
// configured threshold.
func Decide(c Candidate, threshold float64) Decision {
	if c.Suggestion == nil || c.Suggestion.OriginalCode == "" || c.Suggestion.SuggestedCode == "" {
		return Decision{Candidate: c, AutoApplicable: false, Reason: "no suggested fix present"}
	}

	if breaking, reason := isBreakingChange(c); breaking {
		return Decision{Candidate: c, AutoApplicable: false, IsBreaking: true, Reason: reason}
	}

	if c.Confidence < threshold {
		return Decision{Candidate: c, AutoApplicable: false, Reason: "confidence below threshold"}
	}

	return Decision{Candidate: c, AutoApplicable: true, Reason: "meets auto-apply criteria"}
}

// isBreakingChange applies the three conservative heuristics spec
// §4.4 names: a maintainability rename, a dropped `export`, or a
// public-to-private narrowing. Any match marks the fix breaking,
// regardless of category, since a false negative here is worse than a
// false positive (a real fix simply falls back to requiring review).
func isBreakingChange(c Candidate) (bool, string) {
	original, suggested := c.Suggestion.OriginalCode, c.Suggestion.SuggestedCode

	if c.Category == orchestrator.CategoryMaintainability {
		origName := signaturePattern.FindStringSubmatch(original)
		newName := signaturePattern.FindStringSubmatch(suggested)
		if len(origName) == 2 && len(newName) == 2 && origName[1] != newName[1] {
			return true, "renames a function/const/let/var signature"
		}
	}

	if strings.Contains(original, "export") && !strings.Contains(suggested, "export") {
		return true, "drops an export keyword"
	}

	if strings.Contains(original, "public") && strings.Contains(suggested, "private") {
		return true, "narrows visibility from public to private"
	}

	return false, ""
}

// Prioritize orders candidates by (severity asc, category asc,
// confidence desc), the ordering spec §4.4 "Prioritization" defines.
func Prioritize(candidates []Candidate) []Candidate {
	sorted := append([]Candidate(nil), candidates...)
	less := func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() < b.Severity.Rank()
		}
		if a.Category.Rank() != b.Category.Rank() {
			return a.Category.Rank() < b.Category.Rank()
		}
		return a.Confidence > b.Confidence
	}
	insertionSort(sorted, less)
	return sorted
}

func insertionSort(items []Candidate, less func(i, j int) bool) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && less(j, j-1); j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}

const (
	phaseSecurity          = "security"
	phaseBugFixes          = "bug_fixes"
	phasePerformance       = "performance"
	phaseErrorHandling     = "error_handling"
	phaseStyleMaintainability = "style_and_maintainability"
)

// GroupIntoPhases buckets prioritized candidates into the five ordered
// phases spec §4.4 defines. A candidate that already landed in an
// earlier phase is excluded from later ones (e.g. a critical security
// bug is a security fix, not also a bug fix).
func GroupIntoPhases(decisions []Decision, threshold float64) []Phase {
	phases := []Phase{
		{Name: phaseSecurity},
		{Name: phaseBugFixes},
		{Name: phasePerformance},
		{Name: phaseErrorHandling},
		{Name: phaseStyleMaintainability, RequiresReview: true},
	}

	placed := make(map[string]bool, len(decisions))
	for _, d := range decisions {
		key := d.Candidate.ID
		cat := d.Candidate.Category
		sev := d.Candidate.Severity

		switch {
		case cat == orchestrator.CategorySecurity && (sev == orchestrator.SeverityCritical || sev == orchestrator.SeverityHigh):
			phases[0].Decisions = append(phases[0].Decisions, d)
			placed[key] = true
		}
	}
	for _, d := range decisions {
		key := d.Candidate.ID
		if placed[key] {
			continue
		}
		if d.Candidate.Category == orchestrator.CategoryBug {
			phases[1].Decisions = append(phases[1].Decisions, d)
			placed[key] = true
		}
	}
	for _, d := range decisions {
		key := d.Candidate.ID
		if placed[key] {
			continue
		}
		if d.Candidate.Category == orchestrator.CategoryPerformance {
			phases[2].Decisions = append(phases[2].Decisions, d)
			placed[key] = true
		}
	}
	for _, d := range decisions {
		key := d.Candidate.ID
		if placed[key] {
			continue
		}
		if d.Candidate.Category == orchestrator.CategoryErrorHandling {
			phases[3].Decisions = append(phases[3].Decisions, d)
			placed[key] = true
		}
	}
	for _, d := range decisions {
		key := d.Candidate.ID
		if placed[key] {
			continue
		}
		phases[4].Decisions = append(phases[4].Decisions, d)
		placed[key] = true
	}

	for i := range phases {
		phases[i].CanAutoApply = phaseCanAutoApply(phases[i])
	}

	// Drop empty phases so a Plan's phase list only reflects what was
	// actually found (spec's worked Scenario F expects "one phase").
	nonEmpty := phases[:0]
	for _, p := range phases {
		if len(p.Decisions) > 0 {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return nonEmpty
}

// phaseCanAutoApply is true iff the phase isn't style/maintainability
// (always requires review) and every decision in it is auto-applicable
// (spec §4.4, §8 invariant 8: "no fix flagged isBreaking may be
// present in any phase that has canAutoApply = true").
func phaseCanAutoApply(p Phase) bool {
	if p.RequiresReview {
		return false
	}
	for _, d := range p.Decisions {
		if !d.AutoApplicable || d.IsBreaking {
			return false
		}
	}
	return len(p.Decisions) > 0
}

// Eligible filters candidates by the configured severity/category
// allow-lists before prioritization (spec §4.4 "Plan generation").
func Eligible(candidates []Candidate, cfg config.RemediationConfig) []Candidate {
	severities := toSet(cfg.IncludeSeverities)
	categories := toSet(cfg.IncludeCategories)

	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if len(severities) > 0 && !severities[string(c.Severity)] {
			continue
		}
		if len(categories) > 0 && !categories[string(c.Category)] {
			continue
		}
		out = append(out, c)
	}
	return out
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
