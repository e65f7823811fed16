package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/josedab/prflow/internal/aiprovider"
	"github.com/josedab/prflow/internal/concurrency"
	"github.com/josedab/prflow/internal/contract"
	"github.com/josedab/prflow/internal/errs"
	"github.com/josedab/prflow/internal/events"
	"github.com/josedab/prflow/internal/provider"
)

// Orchestrator drives a single PR through the staged pipeline (spec
// §4.2): load/create, analyze, fan out to the parallel agent phase,
// synthesize, publish, finalize. One Orchestrator is shared across all
// repositories; each Run call is independent and safe to run
// concurrently with others.
type Orchestrator struct {
	Store        Store
	Provider     provider.Facade
	AI           aiprovider.Facade
	Notifier     *events.Notifier
	Pool         *concurrency.Pool
	AgentTimeout time.Duration
	Logger       *zap.Logger
}

// New builds an Orchestrator with the given collaborators. Pool
// defaults to width 3 (one slot per parallel-phase agent) and
// AgentTimeout to 5 minutes when zero, matching the defaults resolved
// in config.Config.
func New(store Store, prov provider.Facade, ai aiprovider.Facade, notifier *events.Notifier, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		Store:        store,
		Provider:     prov,
		AI:           ai,
		Notifier:     notifier,
		Pool:         concurrency.NewPool(3),
		AgentTimeout: 5 * time.Minute,
		Logger:       logger,
	}
}

// Run advances the workflow for event through every stage (spec §4.2
// steps 1-8). A failure fetching the PR or creating the check run
// fails the whole workflow; a failure in a single parallel-phase agent
// does not (spec §8 property 3) — its artifact is simply absent from
// the synthesis and publish stages.
func (o *Orchestrator) Run(ctx context.Context, event PREvent) error {
	wf, settings, err := o.loadOrCreateWorkflow(event)
	if err != nil {
		return fmt.Errorf("loading workflow: %w", err)
	}
	o.notify(wf, "workflow.started", nil)

	if err := o.Store.UpdateWorkflowStatus(wf.ID, StatusPending); err != nil {
		return fmt.Errorf("marking workflow pending: %w", err)
	}

	pr, diff, err := o.fetchPR(ctx, event)
	if err != nil {
		o.fail(wf, "fetching pull request", err)
		return fmt.Errorf("fetching pull request: %w", err)
	}

	checkRunID, err := o.ensureCheckRun(ctx, event, wf)
	if err != nil {
		o.fail(wf, "creating check run", err)
		return fmt.Errorf("creating check run: %w", err)
	}
	wf.CheckRunID = checkRunID

	if err := o.Store.UpdateWorkflowStatus(wf.ID, StatusAnalyzing); err != nil {
		return fmt.Errorf("marking workflow analyzing: %w", err)
	}
	o.notify(wf, "workflow.analyzing", nil)

	baseInput := AgentInput{Event: event, Diff: diff}
	analysis, analysisErr := o.runAnalyzer(ctx, baseInput)
	if analysisErr != nil {
		o.fail(wf, "analysis stage", analysisErr)
		return fmt.Errorf("analysis stage: %w", analysisErr)
	}
	if err := o.Store.SaveAnalysis(wf.ID, &analysis); err != nil {
		return fmt.Errorf("saving analysis: %w", err)
	}
	wf.Analysis = &analysis
	o.notify(wf, "workflow.analysis_complete", map[string]any{"risk": string(analysis.Risk)})

	if err := o.Store.UpdateWorkflowStatus(wf.ID, StatusReviewing); err != nil {
		return fmt.Errorf("marking workflow reviewing: %w", err)
	}
	review, tests, docs := o.runParallelPhase(ctx, baseInput, &analysis, settings)

	if review != nil {
		if err := o.Store.SaveReviewComments(wf.ID, review); err != nil {
			return fmt.Errorf("saving review comments: %w", err)
		}
		wf.Review = review
	}
	if tests != nil {
		if err := o.Store.SaveGeneratedTests(wf.ID, tests); err != nil {
			return fmt.Errorf("saving generated tests: %w", err)
		}
		wf.GeneratedTests = tests
	}
	if docs != nil {
		if err := o.Store.SaveDocUpdates(wf.ID, docs); err != nil {
			return fmt.Errorf("saving doc updates: %w", err)
		}
		wf.DocUpdates = docs
	}

	if err := o.Store.UpdateWorkflowStatus(wf.ID, StatusSynthesizing); err != nil {
		return fmt.Errorf("marking workflow synthesizing: %w", err)
	}

	synthesis, synthErr := o.runSynthesizer(ctx, SynthesisInput{
		Event:          event,
		Analysis:       &analysis,
		Review:         review,
		GeneratedTests: tests,
		DocUpdates:     docs,
	})
	if synthErr != nil {
		o.fail(wf, "synthesis stage", synthErr)
		return fmt.Errorf("synthesis stage: %w", synthErr)
	}
	if err := o.Store.SaveSynthesis(wf.ID, &synthesis); err != nil {
		return fmt.Errorf("saving synthesis: %w", err)
	}
	wf.Synthesis = &synthesis

	if err := o.publish(ctx, event, pr, wf, &synthesis, review, settings); err != nil {
		o.fail(wf, "publishing results", err)
		return fmt.Errorf("publishing results: %w", err)
	}

	if err := o.Store.MarkWorkflowComplete(wf.ID); err != nil {
		return fmt.Errorf("marking workflow complete: %w", err)
	}
	o.notify(wf, "workflow.completed", map[string]any{"recommended_action": synthesis.RecommendedAction})
	return nil
}

func (o *Orchestrator) loadOrCreateWorkflow(event PREvent) (*Workflow, *Settings, *errs.Error) {
	wf, settings, err := o.Store.GetWorkflowWithSettings(event.RepositoryID, event.PRNumber)
	if err == nil {
		return wf, settings, nil
	}
	typed, isTyped := errs.As(err)
	if !isTyped || typed.Kind != errs.KindNotFound {
		return nil, nil, errs.Wrap(errs.KindProviderError, err, "loading workflow")
	}

	wf = &Workflow{
		ID:           uuid.NewString(),
		RepositoryID: event.RepositoryID,
		PRNumber:     event.PRNumber,
		Owner:        event.Owner,
		Repo:         event.Repo,
		Status:       StatusPending,
		CreatedAt:    time.Now(),
	}
	if createErr := o.Store.CreateWorkflow(wf); createErr != nil {
		return nil, nil, errs.Wrap(errs.KindProviderError, createErr, "creating workflow")
	}
	_, settings, err = o.Store.GetWorkflowWithSettings(event.RepositoryID, event.PRNumber)
	if err != nil {
		return nil, nil, errs.Wrap(errs.KindProviderError, err, "reloading workflow after create")
	}
	return wf, settings, nil
}

func (o *Orchestrator) fetchPR(ctx context.Context, event PREvent) (*provider.PullRequest, *provider.Diff, error) {
	if o.Provider == nil {
		return nil, nil, fmt.Errorf("no provider facade configured")
	}
	pr, err := o.Provider.GetPullRequest(ctx, event.Owner, event.Repo, event.PRNumber)
	if err != nil {
		return nil, nil, err
	}
	diff, err := o.Provider.GetPullRequestDiff(ctx, event.Owner, event.Repo, event.PRNumber)
	if err != nil {
		return nil, nil, err
	}
	return pr, diff, nil
}

func (o *Orchestrator) ensureCheckRun(ctx context.Context, event PREvent, wf *Workflow) (int64, error) {
	if wf.CheckRunID != 0 {
		return wf.CheckRunID, nil
	}
	if o.Provider == nil {
		return 0, nil
	}
	return o.Provider.CreateCheckRun(ctx, event.Owner, event.Repo, event.HeadSHA, "prflow", "Analyzing pull request...")
}

func (o *Orchestrator) runAnalyzer(ctx context.Context, input AgentInput) (Analysis, *errs.Error) {
	agent := &Analyzer{AI: o.AI}
	var result contract.Result[Analysis]
	timeoutErr := concurrency.RunWithTimeout(ctx, o.agentTimeout(), agent.Name(), func(cctx context.Context) error {
		result = contract.Invoke[AgentInput, Analysis](cctx, agent, input)
		if !result.Success {
			return result.Err
		}
		return nil
	})
	if timeoutErr != nil {
		if typed, ok := errs.As(timeoutErr); ok {
			return Analysis{}, typed
		}
		return Analysis{}, errs.AgentError(timeoutErr.Error())
	}
	return result.Data, nil
}

// runParallelPhase fans Reviewer, TestGenerator, and DocUpdater out
// across the pool, each individually time-bounded, and returns
// whichever artifacts succeeded. A nil return for any one of them
// means that agent failed or was disabled — never that the whole
// workflow failed (spec §4.2 step 5, §8 property 3).
func (o *Orchestrator) runParallelPhase(ctx context.Context, input AgentInput, analysis *Analysis, settings *Settings) (*Review, *GeneratedTests, *DocUpdates) {
	input.Analysis = analysis

	var review *Review
	var tests *GeneratedTests
	var docs *DocUpdates

	var tasks []func(context.Context) error
	var labels []string

	if settings == nil || settings.ReviewEnabled {
		tasks = append(tasks, func(cctx context.Context) error {
			agent := &Reviewer{AI: o.AI}
			result := contract.Invoke[AgentInput, Review](cctx, agent, input)
			if result.Success {
				review = &result.Data
				return nil
			}
			return result.Err
		})
		labels = append(labels, "reviewer")
	}
	if settings != nil && settings.TestGenerationEnabled {
		tasks = append(tasks, func(cctx context.Context) error {
			agent := &TestGenerator{AI: o.AI}
			result := contract.Invoke[AgentInput, GeneratedTests](cctx, agent, input)
			if result.Success {
				tests = &result.Data
				return nil
			}
			return result.Err
		})
		labels = append(labels, "test_generator")
	}
	if settings != nil && settings.DocUpdatesEnabled {
		tasks = append(tasks, func(cctx context.Context) error {
			agent := &DocUpdater{AI: o.AI}
			result := contract.Invoke[AgentInput, DocUpdates](cctx, agent, input)
			if result.Success {
				docs = &result.Data
				return nil
			}
			return result.Err
		})
		labels = append(labels, "doc_updater")
	}

	if len(tasks) == 0 {
		return nil, nil, nil
	}

	bounded := make([]func(context.Context) error, len(tasks))
	for i, task := range tasks {
		i, task, label := i, task, labels[i]
		bounded[i] = func(cctx context.Context) error {
			return concurrency.RunWithTimeout(cctx, o.agentTimeout(), label, task)
		}
	}

	results := o.Pool.RunSettled(ctx, bounded...)
	for i, err := range results {
		if err != nil {
			o.Logger.Warn("parallel-phase agent failed, continuing without its artifact",
				zap.String("agent", labels[i]), zap.Error(err))
		}
	}
	return review, tests, docs
}

func (o *Orchestrator) runSynthesizer(ctx context.Context, input SynthesisInput) (Synthesis, *errs.Error) {
	agent := &Synthesizer{AI: o.AI}
	var result contract.Result[Synthesis]
	timeoutErr := concurrency.RunWithTimeout(ctx, o.agentTimeout(), agent.Name(), func(cctx context.Context) error {
		result = contract.Invoke[SynthesisInput, Synthesis](cctx, agent, input)
		if !result.Success {
			return result.Err
		}
		return nil
	})
	if timeoutErr != nil {
		if typed, ok := errs.As(timeoutErr); ok {
			return Synthesis{}, typed
		}
		return Synthesis{}, errs.AgentError(timeoutErr.Error())
	}
	return result.Data, nil
}

func (o *Orchestrator) publish(ctx context.Context, event PREvent, pr *provider.PullRequest, wf *Workflow, synthesis *Synthesis, review *Review, settings *Settings) error {
	if o.Provider == nil {
		return nil
	}

	summary := synthesis.Summary
	if err := o.Provider.PostSummaryComment(ctx, event.Owner, event.Repo, event.PRNumber, summary); err != nil {
		return fmt.Errorf("posting summary comment: %w", err)
	}

	if review != nil && len(review.Comments) > 0 {
		threshold := commentSeverityThreshold(settings)
		comments := make([]provider.ReviewComment, 0, len(review.Comments))
		for _, c := range review.Comments {
			if c.Severity.Rank() > Severity(threshold).Rank() {
				continue
			}
			comments = append(comments, provider.ReviewComment{
				File:     c.File,
				Line:     c.Line,
				Severity: string(c.Severity),
				Body:     c.Message,
			})
		}
		if len(comments) > 0 {
			if err := o.Provider.PostReviewComments(ctx, event.Owner, event.Repo, event.PRNumber, comments, threshold); err != nil {
				return fmt.Errorf("posting review comments: %w", err)
			}
		}
	}

	if wf.CheckRunID != 0 {
		conclusion := conclusionForReview(review)
		if err := o.Provider.CompleteCheckRun(ctx, event.Owner, event.Repo, wf.CheckRunID, conclusion, "PR review complete", summary); err != nil {
			return fmt.Errorf("completing check run: %w", err)
		}
	}
	_ = pr // reserved for future use (e.g. draft/merged gating before publish)
	return nil
}

// commentSeverityThreshold resolves the configured minimum severity
// for comment publication (spec §4.2 step 1), defaulting to "low"
// when a repository hasn't set one.
func commentSeverityThreshold(settings *Settings) string {
	if settings == nil || settings.CommentSeverityThreshold == "" {
		return "low"
	}
	return settings.CommentSeverityThreshold
}

// conclusionForReview derives a check-run conclusion from review
// content rather than the synthesizer's subjective recommendation
// (spec §4.2 step 7): any critical comment fails the run, any high
// comment requires action, otherwise it succeeds.
func conclusionForReview(review *Review) provider.CheckRunConclusion {
	if review == nil {
		return provider.CheckRunConclusionSuccess
	}
	hasHigh := false
	for _, c := range review.Comments {
		switch c.Severity {
		case SeverityCritical:
			return provider.CheckRunConclusionFailure
		case SeverityHigh:
			hasHigh = true
		}
	}
	if hasHigh {
		return provider.CheckRunConclusionActionRequired
	}
	return provider.CheckRunConclusionSuccess
}

func (o *Orchestrator) fail(wf *Workflow, stage string, err error) {
	reason := fmt.Sprintf("%s: %v", stage, err)
	if markErr := o.Store.MarkWorkflowFailed(wf.ID, reason); markErr != nil {
		o.Logger.Error("failed to persist workflow failure", zap.Error(markErr))
	}
	o.notify(wf, "workflow.failed", map[string]any{"reason": reason})
}

func (o *Orchestrator) notify(wf *Workflow, name string, payload map[string]any) {
	if o.Notifier == nil {
		return
	}
	o.Notifier.Notify(wf.RepositoryID, wf.ID, name, payload)
}

func (o *Orchestrator) agentTimeout() time.Duration {
	if o.AgentTimeout <= 0 {
		return 5 * time.Minute
	}
	return o.AgentTimeout
}
