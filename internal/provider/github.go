package provider

import (
	"context"
	"fmt"

	"github.com/google/go-github/v68/github"
	"github.com/sony/gobreaker"
)

// GitHubProvider implements Facade by delegating to go-github. It
// mirrors the teacher's ghclient.Client: a thin wrapper with
// auto-pagination loops and a constructor seam for test injection
// (NewGitHubProviderFrom), plus a circuit breaker around read calls so
// a flaky provider degrades a single gate check instead of cascading
// into every queue item's processing run.
type GitHubProvider struct {
	gh       *github.Client
	readCB   *gobreaker.CircuitBreaker
	writeCB  *gobreaker.CircuitBreaker
}

// NewGitHubProvider creates a Facade authenticated with the given
// token. Returns nil if token is empty, matching the teacher's
// ghclient.NewClient nil-on-empty-token convention.
func NewGitHubProvider(token string) Facade {
	if token == "" {
		return nil
	}
	return NewGitHubProviderFrom(github.NewClient(nil).WithAuthToken(token))
}

// NewGitHubProviderFrom builds a Facade from an existing *github.Client,
// used in tests to point at an httptest server.
func NewGitHubProviderFrom(gh *github.Client) Facade {
	return &GitHubProvider{
		gh:      gh,
		readCB:  newBreaker("provider-reads"),
		writeCB: newBreaker("provider-writes"),
	}
}

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     30_000_000_000, // 30s, expressed in ns to avoid importing time just for this
	})
}

func (p *GitHubProvider) GetPullRequest(ctx context.Context, owner, repo string, number int) (*PullRequest, error) {
	result, err := p.readCB.Execute(func() (any, error) {
		pr, _, err := p.gh.PullRequests.Get(ctx, owner, repo, number)
		return pr, err
	})
	if err != nil {
		return nil, err
	}
	return toPullRequest(result.(*github.PullRequest)), nil
}

func toPullRequest(pr *github.PullRequest) *PullRequest {
	return &PullRequest{
		Number:  pr.GetNumber(),
		Title:   pr.GetTitle(),
		Author:  pr.GetUser().GetLogin(),
		HeadRef: pr.GetHead().GetRef(),
		HeadSHA: pr.GetHead().GetSHA(),
		BaseRef: pr.GetBase().GetRef(),
		Draft:   pr.GetDraft(),
		Merged:  pr.GetMerged(),
		State:   pr.GetState(),
		HTMLURL: pr.GetHTMLURL(),
		NodeID:  pr.GetNodeID(),
	}
}

func (p *GitHubProvider) GetPullRequestDiff(ctx context.Context, owner, repo string, number int) (*Diff, error) {
	files, err := p.GetChangedFiles(ctx, owner, repo, number)
	if err != nil {
		return nil, err
	}
	diff := &Diff{Files: files, TotalFilesChanged: len(files)}
	for _, f := range files {
		diff.TotalAdditions += f.Additions
		diff.TotalDeletions += f.Deletions
	}
	return diff, nil
}

func (p *GitHubProvider) GetChangedFiles(ctx context.Context, owner, repo string, number int) ([]DiffFile, error) {
	var all []DiffFile
	opts := &github.ListOptions{PerPage: 100}
	for {
		result, err := p.readCB.Execute(func() (any, error) {
			files, resp, err := p.gh.PullRequests.ListFiles(ctx, owner, repo, number, opts)
			if err != nil {
				return nil, err
			}
			return struct {
				files []*github.CommitFile
				resp  *github.Response
			}{files, resp}, nil
		})
		if err != nil {
			return nil, err
		}
		page := result.(struct {
			files []*github.CommitFile
			resp  *github.Response
		})
		for _, f := range page.files {
			all = append(all, DiffFile{
				Filename:  f.GetFilename(),
				Status:    f.GetStatus(),
				Additions: f.GetAdditions(),
				Deletions: f.GetDeletions(),
				Patch:     f.GetPatch(),
			})
		}
		if page.resp.NextPage == 0 {
			break
		}
		opts.Page = page.resp.NextPage
	}
	return all, nil
}

func (p *GitHubProvider) GetCombinedStatus(ctx context.Context, owner, repo, sha string) (*CombinedStatus, error) {
	result, err := p.readCB.Execute(func() (any, error) {
		status, _, err := p.gh.Repositories.GetCombinedStatus(ctx, owner, repo, sha, nil)
		return status, err
	})
	if err != nil {
		return nil, err
	}
	status := result.(*github.CombinedStatus)
	return &CombinedStatus{State: CombinedStatusState(status.GetState())}, nil
}

func (p *GitHubProvider) GetCheckRuns(ctx context.Context, owner, repo, sha string) (*CheckRunsResult, error) {
	result, err := p.readCB.Execute(func() (any, error) {
		runs, _, err := p.gh.Checks.ListCheckRunsForRef(ctx, owner, repo, sha, nil)
		return runs, err
	})
	if err != nil {
		return nil, err
	}
	runs := result.(*github.ListCheckRunsResults)
	return &CheckRunsResult{Conclusion: aggregateCheckConclusion(runs)}, nil
}

// aggregateCheckConclusion reduces a set of check runs to a single
// conclusion: any failure wins, any pending run with no failures keeps
// the set pending, and only a set where every run succeeded is
// success. An empty set is treated as success (no checks configured).
func aggregateCheckConclusion(runs *github.ListCheckRunsResults) CheckConclusion {
	if runs == nil || runs.GetTotal() == 0 {
		return CheckConclusionSuccess
	}
	sawPending := false
	for _, run := range runs.CheckRuns {
		switch run.GetStatus() {
		case "completed":
			switch run.GetConclusion() {
			case "success", "neutral", "skipped":
			default:
				return CheckConclusionFailure
			}
		default:
			sawPending = true
		}
	}
	if sawPending {
		return CheckConclusionPending
	}
	return CheckConclusionSuccess
}

func (p *GitHubProvider) GetReviews(ctx context.Context, owner, repo string, number int) ([]Review, error) {
	var all []Review
	opts := &github.ListOptions{PerPage: 100}
	for {
		result, err := p.readCB.Execute(func() (any, error) {
			reviews, resp, err := p.gh.PullRequests.ListReviews(ctx, owner, repo, number, opts)
			if err != nil {
				return nil, err
			}
			return struct {
				reviews []*github.PullRequestReview
				resp    *github.Response
			}{reviews, resp}, nil
		})
		if err != nil {
			return nil, err
		}
		page := result.(struct {
			reviews []*github.PullRequestReview
			resp    *github.Response
		})
		for _, r := range page.reviews {
			all = append(all, Review{
				ReviewerLogin: r.GetUser().GetLogin(),
				State:         ReviewState(r.GetState()),
				SubmittedAt:   r.GetSubmittedAt().UnixMilli(),
			})
		}
		if page.resp.NextPage == 0 {
			break
		}
		opts.Page = page.resp.NextPage
	}
	return all, nil
}

func (p *GitHubProvider) CompareBranches(ctx context.Context, owner, repo, base, head string) (*CompareResult, error) {
	result, err := p.readCB.Execute(func() (any, error) {
		cmp, _, err := p.gh.Repositories.CompareCommits(ctx, owner, repo, base, head, nil)
		return cmp, err
	})
	if err != nil {
		return nil, err
	}
	cmp := result.(*github.CommitsComparison)
	return &CompareResult{BehindBy: cmp.GetBehindBy(), Status: cmp.GetStatus()}, nil
}

func (p *GitHubProvider) UpdateBranch(ctx context.Context, owner, repo string, number int) error {
	_, err := p.writeCB.Execute(func() (any, error) {
		_, _, err := p.gh.PullRequests.UpdateBranch(ctx, owner, repo, number, nil)
		return nil, err
	})
	return err
}

func (p *GitHubProvider) MergePullRequest(ctx context.Context, owner, repo string, number int, method MergeMethod) error {
	_, err := p.writeCB.Execute(func() (any, error) {
		_, _, err := p.gh.PullRequests.Merge(ctx, owner, repo, number, "", &github.PullRequestOptions{
			MergeMethod: string(method),
		})
		return nil, err
	})
	return err
}

func (p *GitHubProvider) CreateCheckRun(ctx context.Context, owner, repo, sha, name, body string) (int64, error) {
	result, err := p.writeCB.Execute(func() (any, error) {
		run, _, err := p.gh.Checks.CreateCheckRun(ctx, owner, repo, github.CreateCheckRunOptions{
			Name:    name,
			HeadSHA: sha,
			Status:  github.Ptr("in_progress"),
			Output: &github.CheckRunOutput{
				Title:   github.Ptr(name),
				Summary: github.Ptr(body),
			},
		})
		return run, err
	})
	if err != nil {
		return 0, err
	}
	return result.(*github.CheckRun).GetID(), nil
}

func (p *GitHubProvider) CompleteCheckRun(ctx context.Context, owner, repo string, checkRunID int64, conclusion CheckRunConclusion, title, summary string) error {
	_, err := p.writeCB.Execute(func() (any, error) {
		_, _, err := p.gh.Checks.UpdateCheckRun(ctx, owner, repo, checkRunID, github.UpdateCheckRunOptions{
			Status:     github.Ptr("completed"),
			Conclusion: github.Ptr(string(conclusion)),
			Output: &github.CheckRunOutput{
				Title:   github.Ptr(title),
				Summary: github.Ptr(summary),
			},
		})
		return nil, err
	})
	return err
}

func (p *GitHubProvider) PostSummaryComment(ctx context.Context, owner, repo string, number int, body string) error {
	_, err := p.writeCB.Execute(func() (any, error) {
		comment, _, err := p.gh.Issues.CreateComment(ctx, owner, repo, number, &github.IssueComment{
			Body: github.Ptr(body),
		})
		return comment, err
	})
	return err
}

func (p *GitHubProvider) PostReviewComments(ctx context.Context, owner, repo string, number int, comments []ReviewComment, severityThreshold string) error {
	threshold := severityRank(severityThreshold)
	for _, c := range comments {
		if severityRank(c.Severity) > threshold {
			continue // below the configured publication threshold
		}
		_, err := p.writeCB.Execute(func() (any, error) {
			_, _, err := p.gh.PullRequests.CreateComment(ctx, owner, repo, number, &github.PullRequestComment{
				Path: github.Ptr(c.File),
				Line: github.Ptr(c.Line),
				Body: github.Ptr(c.Body),
			})
			return nil, err
		})
		if err != nil {
			return fmt.Errorf("posting review comment for %s:%d: %w", c.File, c.Line, err)
		}
	}
	return nil
}

// severityRank orders severities from most (0) to least (4) severe,
// matching spec §3's critical < high < medium < low < nitpick order.
// Unknown severities sort as the least severe so they never suppress
// publication of a recognized one.
func severityRank(severity string) int {
	switch severity {
	case "critical":
		return 0
	case "high":
		return 1
	case "medium":
		return 2
	case "low":
		return 3
	case "nitpick":
		return 4
	default:
		return 4
	}
}
