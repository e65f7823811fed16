package mergequeue

import (
	"context"
	"regexp"
	"strconv"

	"github.com/josedab/prflow/internal/config"
	"github.com/josedab/prflow/internal/provider"
)

// gateOutcome is the result of evaluating one gate: pass, or a reason
// the item should transition to blocked/conflicted/queued instead.
type gateOutcome struct {
	passed  bool
	status  Status // target status when not passed; zero value means "stay queued, retry next run"
	reason  string
	peerPRs []int // populated for StatusConflicted
}

func passed() gateOutcome { return gateOutcome{passed: true} }

// checkDraft fails the item if the PR is a draft (spec §4.3 step 2).
func checkDraft(pr *provider.PullRequest) gateOutcome {
	if pr.Draft {
		return gateOutcome{status: StatusBlocked, reason: "pull request is a draft"}
	}
	return passed()
}

// checkRequiredChecks consults both the combined-status and check-runs
// APIs; either reporting failure or pending fails the gate (spec §4.3
// step 3). A provider error is treated as "gate not passing" but
// conservatively — the item is left queued to retry, not blocked.
func checkRequiredChecks(ctx context.Context, prov provider.Facade, owner, repo, sha string) gateOutcome {
	status, err := prov.GetCombinedStatus(ctx, owner, repo, sha)
	if err != nil {
		return gateOutcome{reason: "combined status check failed: " + err.Error()}
	}
	if status.State != provider.CombinedStatusSuccess {
		return gateOutcome{status: StatusBlocked, reason: "combined status is " + string(status.State)}
	}

	runs, err := prov.GetCheckRuns(ctx, owner, repo, sha)
	if err != nil {
		return gateOutcome{reason: "check runs lookup failed: " + err.Error()}
	}
	if runs.Conclusion != provider.CheckConclusionSuccess && runs.Conclusion != provider.CheckConclusionNeutral {
		return gateOutcome{status: StatusBlocked, reason: "check runs conclusion is " + string(runs.Conclusion)}
	}
	return passed()
}

// checkRequiredApprovals counts the latest review state per reviewer;
// any CHANGES_REQUESTED fails the gate outright, otherwise the
// approval count must meet the requirement (spec §4.3 step 4).
func checkRequiredApprovals(ctx context.Context, prov provider.Facade, owner, repo string, number, required int) gateOutcome {
	reviews, err := prov.GetReviews(ctx, owner, repo, number)
	if err != nil {
		return gateOutcome{reason: "reviews lookup failed: " + err.Error()}
	}

	latest := make(map[string]provider.Review)
	for _, r := range reviews {
		if r.State == provider.ReviewStatePending {
			continue
		}
		existing, ok := latest[r.ReviewerLogin]
		if !ok || r.SubmittedAt >= existing.SubmittedAt {
			latest[r.ReviewerLogin] = r
		}
	}

	approvals := 0
	for _, r := range latest {
		if r.State == provider.ReviewStateChangesRequested {
			return gateOutcome{status: StatusBlocked, reason: r.ReviewerLogin + " requested changes"}
		}
		if r.State == provider.ReviewStateApproved {
			approvals++
		}
	}
	if approvals < required {
		return gateOutcome{status: StatusBlocked, reason: "insufficient approvals"}
	}
	return passed()
}

// checkUpToDate compares head vs base; if behind and auto-resolve is
// enabled it attempts a branch update (spec §4.3 step 5).
func checkUpToDate(ctx context.Context, prov provider.Facade, item *Item, autoResolve bool) gateOutcome {
	cmp, err := prov.CompareBranches(ctx, item.Owner, item.Repo, item.BaseBranch, item.HeadBranch)
	if err != nil {
		return gateOutcome{reason: "branch comparison failed: " + err.Error()}
	}
	if cmp.BehindBy == 0 {
		return passed()
	}
	if !autoResolve {
		return gateOutcome{status: StatusBlocked, reason: "branch is behind base"}
	}
	if err := prov.UpdateBranch(ctx, item.Owner, item.Repo, item.PRNumber); err != nil {
		return gateOutcome{status: StatusBlocked, reason: "branch update failed: " + err.Error()}
	}
	// Re-entering queued lets the next processing run re-evaluate from
	// the top rather than assuming every other gate still holds.
	return gateOutcome{status: StatusQueued, reason: "branch updated, re-queued for re-check"}
}

// checkConflicts scans items strictly ahead of item in the same base
// branch for overlapping changed-line ranges (spec §4.3 step 6).
func checkConflicts(item *Item, ahead []Item, buffer int) gateOutcome {
	if item.Diff == nil {
		return passed()
	}
	var conflicting []int
	for _, peer := range ahead {
		if peer.BaseBranch != item.BaseBranch || peer.Diff == nil {
			continue
		}
		if filesOverlap(item.Diff, peer.Diff, buffer) {
			conflicting = append(conflicting, peer.PRNumber)
		}
	}
	if len(conflicting) == 0 {
		return passed()
	}
	return gateOutcome{status: StatusConflicted, reason: "overlaps in-flight peers", peerPRs: conflicting}
}

func filesOverlap(a, b *DiffSnapshot, buffer int) bool {
	byName := make(map[string]FileChange, len(b.Files))
	for _, f := range b.Files {
		byName[f.Filename] = f
	}
	for _, fa := range a.Files {
		fb, ok := byName[fa.Filename]
		if !ok {
			continue
		}
		for _, ra := range fa.Ranges {
			for _, rb := range fb.Ranges {
				if ra.Overlaps(rb, buffer) {
					return true
				}
			}
		}
	}
	return false
}

var hunkHeaderPattern = regexp.MustCompile(`@@ -\d+(?:,\d+)? \+(\d+)(?:,(\d+))? @@`)

// ParsePatchRanges extracts the new-file changed-line ranges from a
// unified-diff patch, one range per hunk. The core only needs ranges
// on the PR's own side of the diff since conflicts are about what
// landed where, not about deleted context.
func ParsePatchRanges(patch string) []LineRange {
	matches := hunkHeaderPattern.FindAllStringSubmatch(patch, -1)
	ranges := make([]LineRange, 0, len(matches))
	for _, m := range matches {
		start, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		length := 1
		if m[2] != "" {
			if l, err := strconv.Atoi(m[2]); err == nil {
				length = l
			}
		}
		end := start + length - 1
		if end < start {
			end = start
		}
		ranges = append(ranges, LineRange{Start: start, End: end})
	}
	return ranges
}

// SnapshotFromDiff converts a provider Diff into the conflict
// detector's DiffSnapshot shape, parsing each file's patch text.
func SnapshotFromDiff(diff *provider.Diff) *DiffSnapshot {
	if diff == nil {
		return nil
	}
	files := make([]FileChange, 0, len(diff.Files))
	for _, f := range diff.Files {
		files = append(files, FileChange{Filename: f.Filename, Ranges: ParsePatchRanges(f.Patch)})
	}
	return &DiffSnapshot{Files: files}
}

// defaultConfig is used when a repository has no merge-queue
// configuration recorded yet.
func defaultConfig() config.MergeQueueConfig { return config.DefaultMergeQueueConfig() }
