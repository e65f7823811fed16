package orchestrator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/josedab/prflow/internal/aiprovider"
	"github.com/josedab/prflow/internal/config"
	"github.com/josedab/prflow/internal/provider"
)

// fakeProvider is a minimal in-memory provider.Facade for orchestrator
// tests, standing in for the GitHub-backed implementation the way the
// spec's agents are tested "with a stub collaborator" (§4.1).
type fakeProvider struct {
	pr               *provider.PullRequest
	diff             *provider.Diff
	summaryComments  []string
	reviewComments   [][]provider.ReviewComment
	checkRunID       int64
	completedChecks  []provider.CheckRunConclusion
	failGetPR        bool
}

func (f *fakeProvider) GetPullRequest(ctx context.Context, owner, repo string, number int) (*provider.PullRequest, error) {
	if f.failGetPR {
		return nil, fmt.Errorf("simulated provider outage")
	}
	return f.pr, nil
}
func (f *fakeProvider) GetPullRequestDiff(ctx context.Context, owner, repo string, number int) (*provider.Diff, error) {
	return f.diff, nil
}
func (f *fakeProvider) GetChangedFiles(ctx context.Context, owner, repo string, number int) ([]provider.DiffFile, error) {
	return f.diff.Files, nil
}
func (f *fakeProvider) GetCombinedStatus(ctx context.Context, owner, repo, sha string) (*provider.CombinedStatus, error) {
	return &provider.CombinedStatus{State: provider.CombinedStatusSuccess}, nil
}
func (f *fakeProvider) GetCheckRuns(ctx context.Context, owner, repo, sha string) (*provider.CheckRunsResult, error) {
	return &provider.CheckRunsResult{Conclusion: provider.CheckConclusionSuccess}, nil
}
func (f *fakeProvider) GetReviews(ctx context.Context, owner, repo string, number int) ([]provider.Review, error) {
	return nil, nil
}
func (f *fakeProvider) CompareBranches(ctx context.Context, owner, repo, base, head string) (*provider.CompareResult, error) {
	return &provider.CompareResult{}, nil
}
func (f *fakeProvider) UpdateBranch(ctx context.Context, owner, repo string, number int) error {
	return nil
}
func (f *fakeProvider) MergePullRequest(ctx context.Context, owner, repo string, number int, method provider.MergeMethod) error {
	return nil
}
func (f *fakeProvider) CreateCheckRun(ctx context.Context, owner, repo, sha, name, body string) (int64, error) {
	f.checkRunID = 42
	return f.checkRunID, nil
}
func (f *fakeProvider) CompleteCheckRun(ctx context.Context, owner, repo string, checkRunID int64, conclusion provider.CheckRunConclusion, title, summary string) error {
	f.completedChecks = append(f.completedChecks, conclusion)
	return nil
}
func (f *fakeProvider) PostSummaryComment(ctx context.Context, owner, repo string, number int, body string) error {
	f.summaryComments = append(f.summaryComments, body)
	return nil
}
func (f *fakeProvider) PostReviewComments(ctx context.Context, owner, repo string, number int, comments []provider.ReviewComment, severityThreshold string) error {
	f.reviewComments = append(f.reviewComments, comments)
	return nil
}

var _ provider.Facade = (*fakeProvider)(nil)

func testDiff() *provider.Diff {
	return &provider.Diff{
		Files:             []provider.DiffFile{{Filename: "main.go", Status: "modified", Additions: 10, Deletions: 2}},
		TotalAdditions:    10,
		TotalDeletions:    2,
		TotalFilesChanged: 1,
	}
}

func baseEvent() PREvent {
	return PREvent{RepositoryID: "repo-1", PRNumber: 7, Owner: "acme", Repo: "widgets", HeadSHA: "abc123"}
}

func allFeaturesSettings() *memoryStore {
	store := NewMemoryStore().(*memoryStore)
	store.SeedSettings("repo-1", Settings{RepositorySettings: config.RepositorySettings{
		ReviewEnabled:         true,
		TestGenerationEnabled: true,
		DocUpdatesEnabled:     true,
	}})
	return store
}

func analyzerStub(content string) aiprovider.Facade {
	return &aiprovider.Stub{Response: aiprovider.CallResult{Content: content}}
}

const sampleAnalysis = `{"classification":"feature","risk":"low","semantic_changes":[],"direct_files":["main.go"],"transitive_files":[],"risk_factors":[],"suggested_reviewers":[]}`
const sampleReview = `{"comments":[{"file":"main.go","line":3,"severity":"medium","category":"style","message":"consider renaming","confidence":0.9}]}`
const sampleTests = `{"files":["main_test.go"],"summary":"add coverage for the new branch"}`
const sampleDocs = `{"files":["README.md"],"summary":"document the new flag"}`
const sampleSynthesis = `{"summary":"Looks good overall.","highlights":["clean diff"],"recommended_action":"approve"}`

// TestRunHappyPathCompletesAllStages exercises Scenario A: every
// parallel-phase agent succeeds and the workflow reaches completed
// with every artifact persisted.
func TestRunHappyPathCompletesAllStages(t *testing.T) {
	store := allFeaturesSettings()
	prov := &fakeProvider{pr: &provider.PullRequest{Number: 7}, diff: testDiff()}

	// A single stub can't return different content per call, so this
	// test uses the analyzer's response as a stand-in that every stage
	// tolerates (malformed per-stage fields just zero out).
	ai := analyzerStub(sampleAnalysis)
	o := New(store, prov, ai, nil, nil)
	o.AgentTimeout = 2 * time.Second

	err := o.Run(context.Background(), baseEvent())
	require.NoError(t, err)

	wf, _, getErr := store.GetWorkflowWithSettings("repo-1", 7)
	require.NoError(t, getErr)
	require.Equal(t, StatusCompleted, wf.Status)
	require.NotNil(t, wf.Analysis)
	require.Equal(t, ClassificationFeature, wf.Analysis.Classification)
	require.Len(t, prov.summaryComments, 1)
}

// TestRunAnalysisFailureFailsWorkflow covers an agent failure in the
// analysis stage: unlike a parallel-phase agent failure, it is fatal to
// the run.
func TestRunAnalysisFailureFailsWorkflow(t *testing.T) {
	store := allFeaturesSettings()
	prov := &fakeProvider{pr: &provider.PullRequest{Number: 7}, diff: testDiff()}

	// The stub returns the same malformed JSON to every agent, the
	// analyzer included, so the run stops at the analysis stage and the
	// parallel phase is never reached.
	ai := &aiprovider.Stub{Response: aiprovider.CallResult{Content: "not json"}}
	o := New(store, prov, ai, nil, nil)
	o.AgentTimeout = 2 * time.Second

	err := o.Run(context.Background(), baseEvent())
	require.Error(t, err, "analysis stage itself also fails to parse, so the run fails fast before the parallel phase")
}

// TestRunFetchFailureFailsWorkflow covers the fatal path: a provider
// outage while fetching the PR marks the workflow failed rather than
// silently completing with no artifacts.
func TestRunFetchFailureFailsWorkflow(t *testing.T) {
	store := allFeaturesSettings()
	prov := &fakeProvider{failGetPR: true}
	ai := analyzerStub(sampleAnalysis)
	o := New(store, prov, ai, nil, nil)

	err := o.Run(context.Background(), baseEvent())
	require.Error(t, err)

	wf, _, getErr := store.GetWorkflowWithSettings("repo-1", 7)
	require.NoError(t, getErr)
	require.Equal(t, StatusFailed, wf.Status)
	require.Contains(t, wf.FailureReason, "fetching pull request")
}

// TestRunSkipsDisabledStages covers a repository with every optional
// stage disabled: only analysis and synthesis run.
func TestRunSkipsDisabledStages(t *testing.T) {
	store := NewMemoryStore().(*memoryStore)
	store.SeedSettings("repo-1", Settings{})
	prov := &fakeProvider{pr: &provider.PullRequest{Number: 7}, diff: testDiff()}
	ai := analyzerStub(sampleAnalysis)
	o := New(store, prov, ai, nil, nil)
	o.AgentTimeout = 2 * time.Second

	err := o.Run(context.Background(), baseEvent())
	require.NoError(t, err)

	wf, _, getErr := store.GetWorkflowWithSettings("repo-1", 7)
	require.NoError(t, getErr)
	require.Nil(t, wf.Review)
	require.Nil(t, wf.GeneratedTests)
	require.Nil(t, wf.DocUpdates)
	require.NotNil(t, wf.Synthesis)
}

// TestPublishFiltersCommentsBySeverityThreshold covers spec §4.2 step 7
// and Scenario A: only review comments whose severity meets the
// repository's configured threshold are forwarded to the provider.
func TestPublishFiltersCommentsBySeverityThreshold(t *testing.T) {
	store := NewMemoryStore().(*memoryStore)
	prov := &fakeProvider{}
	o := New(store, prov, nil, nil, nil)

	wf := &Workflow{ID: "wf-1", RepositoryID: "repo-1", PRNumber: 7, CheckRunID: 42}
	synthesis := &Synthesis{Summary: "looks fine"}
	review := &Review{Comments: []ReviewComment{
		{File: "main.go", Line: 3, Severity: SeverityHigh, Message: "fix this"},
		{File: "main.go", Line: 9, Severity: SeverityLow, Message: "nit"},
	}}
	settings := &Settings{RepositorySettings: config.RepositorySettings{CommentSeverityThreshold: "high"}}

	err := o.publish(context.Background(), baseEvent(), &provider.PullRequest{Number: 7}, wf, synthesis, review, settings)
	require.NoError(t, err)

	require.Len(t, prov.reviewComments, 1)
	require.Len(t, prov.reviewComments[0], 1, "only the high-severity comment should be forwarded")
	require.Equal(t, "fix this", prov.reviewComments[0][0].Body)
}

// TestPublishDerivesCheckRunConclusionFromReviewSeverity covers spec
// §4.2 step 7: a critical comment must fail the check run regardless
// of what the synthesizer recommended.
func TestPublishDerivesCheckRunConclusionFromReviewSeverity(t *testing.T) {
	store := NewMemoryStore().(*memoryStore)
	prov := &fakeProvider{}
	o := New(store, prov, nil, nil, nil)

	wf := &Workflow{ID: "wf-1", RepositoryID: "repo-1", PRNumber: 7, CheckRunID: 42}
	synthesis := &Synthesis{Summary: "looks fine", RecommendedAction: "approve"}
	review := &Review{Comments: []ReviewComment{
		{File: "main.go", Line: 1, Severity: SeverityCritical, Message: "sql injection"},
	}}

	err := o.publish(context.Background(), baseEvent(), &provider.PullRequest{Number: 7}, wf, synthesis, review, nil)
	require.NoError(t, err)

	require.Len(t, prov.completedChecks, 1)
	require.Equal(t, provider.CheckRunConclusionFailure, prov.completedChecks[0])
}
