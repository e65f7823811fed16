// Package provider defines the Provider Interaction Facade (spec §6):
// the typed surface the core needs from the external source-hosting
// service, abstracted so the Orchestrator and Merge Queue never touch
// a provider SDK directly.
package provider

import "context"

// PullRequest is the subset of a provider PR the core cares about.
type PullRequest struct {
	Number     int
	Title      string
	Author     string
	HeadRef    string
	HeadSHA    string
	BaseRef    string
	Draft      bool
	Merged     bool
	State      string
	HTMLURL    string
	NodeID     string
}

// DiffFile is one file entry from a PR's diff.
type DiffFile struct {
	Filename  string
	Status    string
	Additions int
	Deletions int
	Patch     string
}

// Diff is a PR's full changeset.
type Diff struct {
	Files              []DiffFile
	TotalAdditions     int
	TotalDeletions     int
	TotalFilesChanged  int
}

// CombinedStatusState mirrors the provider's combined status API.
type CombinedStatusState string

const (
	CombinedStatusSuccess CombinedStatusState = "success"
	CombinedStatusFailure CombinedStatusState = "failure"
	CombinedStatusPending CombinedStatusState = "pending"
)

// CombinedStatus is the result of the provider's combined status check.
type CombinedStatus struct {
	State CombinedStatusState
}

// CheckConclusion mirrors the provider's check-runs API conclusion.
type CheckConclusion string

const (
	CheckConclusionSuccess CheckConclusion = "success"
	CheckConclusionFailure CheckConclusion = "failure"
	CheckConclusionPending CheckConclusion = "pending"
	CheckConclusionNeutral CheckConclusion = "neutral"
)

// CheckRunsResult is the result of the provider's check-runs API.
type CheckRunsResult struct {
	Conclusion CheckConclusion
}

// ReviewState mirrors the provider's PR review states.
type ReviewState string

const (
	ReviewStateApproved         ReviewState = "APPROVED"
	ReviewStateChangesRequested ReviewState = "CHANGES_REQUESTED"
	ReviewStateCommented        ReviewState = "COMMENTED"
	ReviewStatePending          ReviewState = "PENDING"
)

// Review is a single PR review.
type Review struct {
	ReviewerLogin string
	State         ReviewState
	SubmittedAt   int64 // unix millis
}

// CompareResult is the result of comparing two branches.
type CompareResult struct {
	BehindBy int
	Status   string
}

// MergeMethod selects the provider-side merge strategy.
type MergeMethod string

const (
	MergeMethodMerge  MergeMethod = "merge"
	MergeMethodSquash MergeMethod = "squash"
	MergeMethodRebase MergeMethod = "rebase"
)

// CheckRunConclusion is the terminal state posted when a workflow's
// check-run is finalized.
type CheckRunConclusion string

const (
	CheckRunConclusionSuccess        CheckRunConclusion = "success"
	CheckRunConclusionFailure        CheckRunConclusion = "failure"
	CheckRunConclusionNeutral        CheckRunConclusion = "neutral"
	CheckRunConclusionCancelled      CheckRunConclusion = "cancelled"
	CheckRunConclusionActionRequired CheckRunConclusion = "action_required"
)

// ReviewComment is a single inline comment the core wants posted.
type ReviewComment struct {
	File     string
	Line     int
	Severity string
	Body     string
}

// Facade is the typed operations the core needs from the source
// hosting provider (spec §6). Implementations must treat patch text
// and check conclusions as opaque and carry them through verbatim.
type Facade interface {
	GetPullRequest(ctx context.Context, owner, repo string, number int) (*PullRequest, error)
	GetPullRequestDiff(ctx context.Context, owner, repo string, number int) (*Diff, error)
	GetChangedFiles(ctx context.Context, owner, repo string, number int) ([]DiffFile, error)
	GetCombinedStatus(ctx context.Context, owner, repo, sha string) (*CombinedStatus, error)
	GetCheckRuns(ctx context.Context, owner, repo, sha string) (*CheckRunsResult, error)
	GetReviews(ctx context.Context, owner, repo string, number int) ([]Review, error)
	CompareBranches(ctx context.Context, owner, repo, base, head string) (*CompareResult, error)
	UpdateBranch(ctx context.Context, owner, repo string, number int) error
	MergePullRequest(ctx context.Context, owner, repo string, number int, method MergeMethod) error

	CreateCheckRun(ctx context.Context, owner, repo, sha, name, body string) (checkRunID int64, err error)
	CompleteCheckRun(ctx context.Context, owner, repo string, checkRunID int64, conclusion CheckRunConclusion, title, summary string) error

	PostSummaryComment(ctx context.Context, owner, repo string, number int, body string) error
	PostReviewComments(ctx context.Context, owner, repo string, number int, comments []ReviewComment, severityThreshold string) error
}
