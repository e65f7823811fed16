package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/josedab/prflow/internal/aiprovider"
	"github.com/josedab/prflow/internal/contract"
	"github.com/josedab/prflow/internal/errs"
	"github.com/josedab/prflow/internal/provider"
)

// AgentInput is the common envelope every pipeline agent receives: the
// PR's identity, its diff, and (once available) the prior stage's
// Analysis — the only artifact later stages are allowed to depend on
// (spec §4.2: "the analysis stage's output is visible to every other
// agent; agents in the parallel phase do not see each other's output").
type AgentInput struct {
	Event    PREvent
	Diff     *provider.Diff
	Analysis *Analysis // nil when the Analyzer itself is running
}

// newChatCall is the shared system+user prompt plumbing every agent
// below drives its aiprovider.Facade call through, mirroring the
// teacher's single doRequest-for-every-callsite pattern.
func newChatCall(ctx context.Context, ai aiprovider.Facade, system, user string) (string, error) {
	if ai == nil {
		return "", fmt.Errorf("no AI provider facade configured")
	}
	result, err := ai.Call(ctx, []aiprovider.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}, aiprovider.CallOptions{Temperature: 0.2, MaxTokens: 2048})
	if err != nil {
		return "", err
	}
	return result.Content, nil
}

func diffSummary(diff *provider.Diff) string {
	if diff == nil {
		return "(no diff available)"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d files changed, +%d/-%d\n", diff.TotalFilesChanged, diff.TotalAdditions, diff.TotalDeletions)
	for _, f := range diff.Files {
		fmt.Fprintf(&sb, "- %s (%s, +%d/-%d)\n", f.Filename, f.Status, f.Additions, f.Deletions)
	}
	return sb.String()
}

// extractJSON pulls the first top-level JSON object or array out of a
// model response, tolerating the surrounding prose models tend to add
// even when explicitly asked for JSON-only output.
func extractJSON(raw string) string {
	trimmed := strings.TrimSpace(raw)
	start := strings.IndexAny(trimmed, "{[")
	if start < 0 {
		return trimmed
	}
	open, close := trimmed[start], byte('}')
	if open == '[' {
		close = ']'
	}
	end := strings.LastIndexByte(trimmed, close)
	if end < start {
		return trimmed
	}
	return trimmed[start : end+1]
}

// --- Analyzer -----------------------------------------------------------

// analyzerOutput is the wire shape the model is asked to emit; it maps
// 1:1 onto Analysis.
type analyzerOutput struct {
	Classification     string   `json:"classification"`
	Risk               string   `json:"risk"`
	SemanticChanges    []SemanticChange `json:"semantic_changes"`
	DirectFiles        []string `json:"direct_files"`
	TransitiveFiles    []string `json:"transitive_files"`
	RiskFactors        []string `json:"risk_factors"`
	SuggestedReviewers []string `json:"suggested_reviewers"`
}

// Analyzer classifies a PR's change and estimates its blast radius
// (spec §4.2 step 3). It is the only agent whose output other agents
// in the parallel phase may read.
type Analyzer struct {
	AI aiprovider.Facade
}

func (a *Analyzer) Name() string { return "analyzer" }

func (a *Analyzer) Execute(ctx context.Context, input AgentInput) (Analysis, *errs.Error) {
	raw, err := newChatCall(ctx, a.AI,
		"You are a senior engineer classifying a pull request's change and risk. "+
			"Respond with a single JSON object matching this shape: "+
			`{"classification":"feature|bugfix|refactor|docs|chore|test|deps","risk":"low|medium|high|critical",`+
			`"semantic_changes":[{"kind":"","symbol":"","file":"","impact":""}],`+
			`"direct_files":[""],"transitive_files":[""],"risk_factors":[""],"suggested_reviewers":[""]}`,
		fmt.Sprintf("PR #%d %q by %s\n\n%s", input.Event.PRNumber, input.Event.HeadSHA, input.Event.Owner, diffSummary(input.Diff)),
	)
	if err != nil {
		return Analysis{}, errs.AgentError("analyzer call failed").WithDetail(err.Error())
	}

	var out analyzerOutput
	if jsonErr := json.Unmarshal([]byte(extractJSON(raw)), &out); jsonErr != nil {
		return Analysis{}, errs.AgentError("analyzer returned malformed output").WithDetail(jsonErr.Error())
	}

	filesChanged, linesAdded, linesRemoved := 0, 0, 0
	if input.Diff != nil {
		filesChanged = input.Diff.TotalFilesChanged
		linesAdded = input.Diff.TotalAdditions
		linesRemoved = input.Diff.TotalDeletions
	}

	analysis := Analysis{
		Classification: Classification(out.Classification),
		Risk:           RiskLevel(out.Risk),
		FilesChanged:   filesChanged,
		LinesAdded:     linesAdded,
		LinesRemoved:   linesRemoved,
		SemanticChanges: out.SemanticChanges,
		ImpactRadius: ImpactRadius{
			DirectFiles:     out.DirectFiles,
			TransitiveFiles: out.TransitiveFiles,
			AffectedFiles:   append(append([]string{}, out.DirectFiles...), out.TransitiveFiles...),
		},
		RiskFactors:        out.RiskFactors,
		SuggestedReviewers: out.SuggestedReviewers,
	}
	return analysis, nil
}

// --- Reviewer -------------------------------------------------------------

type reviewerComment struct {
	File       string  `json:"file"`
	Line       int     `json:"line"`
	Severity   string  `json:"severity"`
	Category   string  `json:"category"`
	Message    string  `json:"message"`
	Confidence float64 `json:"confidence"`
	Original   string  `json:"original_code"`
	Suggested  string  `json:"suggested_code"`
}

type reviewerOutput struct {
	Comments []reviewerComment `json:"comments"`
}

// Reviewer produces line-level review comments (spec §4.2 step 5a).
type Reviewer struct {
	AI aiprovider.Facade
}

func (r *Reviewer) Name() string { return "reviewer" }

func (r *Reviewer) Execute(ctx context.Context, input AgentInput) (Review, *errs.Error) {
	raw, err := newChatCall(ctx, r.AI,
		"You are a meticulous code reviewer. Respond with a single JSON object: "+
			`{"comments":[{"file":"","line":0,"severity":"critical|high|medium|low|nitpick",`+
			`"category":"security|bug|performance|error_handling|style|maintainability",`+
			`"message":"","confidence":0.0,"original_code":"","suggested_code":""}]}`,
		fmt.Sprintf("PR #%d risk=%s\n\n%s", input.Event.PRNumber, classificationOf(input.Analysis), diffSummary(input.Diff)),
	)
	if err != nil {
		return Review{}, errs.AgentError("reviewer call failed").WithDetail(err.Error())
	}

	var out reviewerOutput
	if jsonErr := json.Unmarshal([]byte(extractJSON(raw)), &out); jsonErr != nil {
		return Review{}, errs.AgentError("reviewer returned malformed output").WithDetail(jsonErr.Error())
	}

	comments := make([]ReviewComment, 0, len(out.Comments))
	for i, c := range out.Comments {
		comment := ReviewComment{
			ID:         fmt.Sprintf("%s-%d", input.Event.HeadSHA, i),
			File:       c.File,
			Line:       c.Line,
			Severity:   Severity(c.Severity),
			Category:   Category(c.Category),
			Message:    c.Message,
			Status:     CommentStatusPending,
			Confidence: c.Confidence,
		}
		if c.Original != "" || c.Suggested != "" {
			comment.Suggestion = &Suggestion{OriginalCode: c.Original, SuggestedCode: c.Suggested}
		}
		comments = append(comments, comment)
	}
	return Review{Comments: comments}, nil
}

func classificationOf(a *Analysis) string {
	if a == nil {
		return "unknown"
	}
	return string(a.Classification)
}

// --- Test Generator ---------------------------------------------------

type testGenOutput struct {
	Files   []string `json:"files"`
	Summary string   `json:"summary"`
}

// TestGenerator proposes test coverage for a change (spec §4.2 step 5b).
type TestGenerator struct {
	AI aiprovider.Facade
}

func (g *TestGenerator) Name() string { return "test_generator" }

func (g *TestGenerator) Execute(ctx context.Context, input AgentInput) (GeneratedTests, *errs.Error) {
	raw, err := newChatCall(ctx, g.AI,
		"You suggest test coverage for a pull request. Respond with JSON: "+
			`{"files":[""],"summary":""}`,
		fmt.Sprintf("PR #%d\n\n%s", input.Event.PRNumber, diffSummary(input.Diff)),
	)
	if err != nil {
		return GeneratedTests{}, errs.AgentError("test generator call failed").WithDetail(err.Error())
	}

	var out testGenOutput
	if jsonErr := json.Unmarshal([]byte(extractJSON(raw)), &out); jsonErr != nil {
		return GeneratedTests{}, errs.AgentError("test generator returned malformed output").WithDetail(jsonErr.Error())
	}
	return GeneratedTests{Files: out.Files, Summary: out.Summary}, nil
}

// --- Doc Updater --------------------------------------------------------

type docOutput struct {
	Files   []string `json:"files"`
	Summary string   `json:"summary"`
}

// DocUpdater proposes documentation updates for a change (spec §4.2
// step 5c).
type DocUpdater struct {
	AI aiprovider.Facade
}

func (d *DocUpdater) Name() string { return "doc_updater" }

func (d *DocUpdater) Execute(ctx context.Context, input AgentInput) (DocUpdates, *errs.Error) {
	raw, err := newChatCall(ctx, d.AI,
		"You propose documentation updates for a pull request. Respond with JSON: "+
			`{"files":[""],"summary":""}`,
		fmt.Sprintf("PR #%d\n\n%s", input.Event.PRNumber, diffSummary(input.Diff)),
	)
	if err != nil {
		return DocUpdates{}, errs.AgentError("doc updater call failed").WithDetail(err.Error())
	}

	var out docOutput
	if jsonErr := json.Unmarshal([]byte(extractJSON(raw)), &out); jsonErr != nil {
		return DocUpdates{}, errs.AgentError("doc updater returned malformed output").WithDetail(jsonErr.Error())
	}
	return DocUpdates{Files: out.Files, Summary: out.Summary}, nil
}

// --- Synthesizer --------------------------------------------------------

// SynthesisInput carries every parallel-phase artifact that completed,
// which is why it's distinct from AgentInput: the Synthesizer is the
// one agent that reads its siblings' output (spec §4.2 step 6).
type SynthesisInput struct {
	Event          PREvent
	Analysis       *Analysis
	Review         *Review
	GeneratedTests *GeneratedTests
	DocUpdates     *DocUpdates
}

type synthesisOutput struct {
	Summary           string   `json:"summary"`
	Highlights        []string `json:"highlights"`
	RecommendedAction string   `json:"recommended_action"`
}

// Synthesizer produces the final human-facing summary of a workflow
// run (spec §4.2 step 6).
type Synthesizer struct {
	AI aiprovider.Facade
}

func (s *Synthesizer) Name() string { return "synthesizer" }

func (s *Synthesizer) Execute(ctx context.Context, input SynthesisInput) (Synthesis, *errs.Error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "PR #%d classification=%s risk=%s\n", input.Event.PRNumber, classificationOf(input.Analysis), riskOf(input.Analysis))
	if input.Review != nil {
		fmt.Fprintf(&sb, "%d review comments\n", len(input.Review.Comments))
	}
	if input.GeneratedTests != nil {
		fmt.Fprintf(&sb, "test suggestions: %s\n", input.GeneratedTests.Summary)
	}
	if input.DocUpdates != nil {
		fmt.Fprintf(&sb, "doc suggestions: %s\n", input.DocUpdates.Summary)
	}

	raw, err := newChatCall(ctx, s.AI,
		"You summarize a completed automated PR review for a human to skim. Respond with JSON: "+
			`{"summary":"","highlights":[""],"recommended_action":"approve|request_changes|comment"}`,
		sb.String(),
	)
	if err != nil {
		return Synthesis{}, errs.AgentError("synthesizer call failed").WithDetail(err.Error())
	}

	var out synthesisOutput
	if jsonErr := json.Unmarshal([]byte(extractJSON(raw)), &out); jsonErr != nil {
		return Synthesis{}, errs.AgentError("synthesizer returned malformed output").WithDetail(jsonErr.Error())
	}
	return Synthesis{Summary: out.Summary, Highlights: out.Highlights, RecommendedAction: out.RecommendedAction}, nil
}

func riskOf(a *Analysis) string {
	if a == nil {
		return "unknown"
	}
	return string(a.Risk)
}

// ensure every agent satisfies contract.Agent at compile time.
var (
	_ contract.Agent[AgentInput, Analysis]       = (*Analyzer)(nil)
	_ contract.Agent[AgentInput, Review]         = (*Reviewer)(nil)
	_ contract.Agent[AgentInput, GeneratedTests] = (*TestGenerator)(nil)
	_ contract.Agent[AgentInput, DocUpdates]     = (*DocUpdater)(nil)
	_ contract.Agent[SynthesisInput, Synthesis]  = (*Synthesizer)(nil)
)
