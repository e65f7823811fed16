package remediation

import (
	"context"
	"fmt"

	"github.com/google/go-github/v68/github"

	"github.com/josedab/prflow/internal/errs"
)

// Edit is one applied fix: the file it belongs to, and the snippet
// substitution that was made.
type Edit struct {
	File      string
	Original  string
	Suggested string
}

// BranchWriter is the external collaborator remediation execution
// writes through: given a set of edits, it produces one commit on the
// PR's branch and returns its sha. Implementations decide how original
// snippets are located and replaced within each file.
type BranchWriter interface {
	Commit(ctx context.Context, owner, repo, branch string, edits []Edit, message string) (sha string, err error)
}

// GitHubBranchWriter applies edits via the contents API: it reads each
// file, performs a literal substring replacement of original with
// suggested, and writes each file back with its own contents-API
// commit. A batch touching several files therefore makes one commit per
// file, and Commit returns the sha of the last one.
type GitHubBranchWriter struct {
	gh *github.Client
}

// NewGitHubBranchWriter wraps an authenticated github.Client.
func NewGitHubBranchWriter(gh *github.Client) *GitHubBranchWriter {
	return &GitHubBranchWriter{gh: gh}
}

func (w *GitHubBranchWriter) Commit(ctx context.Context, owner, repo, branch string, edits []Edit, message string) (string, error) {
	if w.gh == nil {
		return "", errs.ProviderError(nil, "no GitHub client configured")
	}

	byFile := make(map[string][]Edit)
	order := make([]string, 0)
	for _, e := range edits {
		if _, seen := byFile[e.File]; !seen {
			order = append(order, e.File)
		}
		byFile[e.File] = append(byFile[e.File], e)
	}

	var lastSHA string
	for _, file := range order {
		content, _, resp, err := w.gh.Repositories.GetContents(ctx, owner, repo, file, &github.RepositoryContentGetOptions{Ref: branch})
		if err != nil {
			return "", errs.ProviderError(err, fmt.Sprintf("reading %s from %s", file, branch)).WithDetail(respStatus(resp))
		}
		decoded, err := content.GetContent()
		if err != nil {
			return "", errs.ProviderError(err, "decoding file content")
		}

		patched := decoded
		for _, e := range byFile[file] {
			patched = replaceOnce(patched, e.Original, e.Suggested)
		}
		if patched == decoded {
			return "", errs.New(errs.KindAgentError, fmt.Sprintf("original snippet not found in %s", file))
		}

		result, _, err := w.gh.Repositories.UpdateFile(ctx, owner, repo, file, &github.RepositoryContentFileOptions{
			Message: github.Ptr(message),
			Content: []byte(patched),
			SHA:     content.SHA,
			Branch:  github.Ptr(branch),
		})
		if err != nil {
			return "", errs.ProviderError(err, fmt.Sprintf("committing %s", file))
		}
		if result.Commit.SHA != nil {
			lastSHA = *result.Commit.SHA
		}
	}
	return lastSHA, nil
}

func respStatus(resp *github.Response) string {
	if resp == nil || resp.Response == nil {
		return ""
	}
	return resp.Response.Status
}

// replaceOnce replaces the first occurrence of original with
// suggested, a conservative choice over a global replace since a
// snippet can legitimately recur elsewhere in the file.
func replaceOnce(content, original, suggested string) string {
	idx := indexOf(content, original)
	if idx < 0 {
		return content
	}
	return content[:idx] + suggested + content[idx+len(original):]
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

// StubBranchWriter is a deterministic, no-network BranchWriter for
// tests: it records every commit it was asked to make and returns a
// synthetic sha, or Err if configured to fail.
type StubBranchWriter struct {
	Commits []StubCommit
	Err     error
	shaSeq  int
}

// StubCommit is one recorded call to Commit.
type StubCommit struct {
	Branch  string
	Edits   []Edit
	Message string
}

func (s *StubBranchWriter) Commit(ctx context.Context, owner, repo, branch string, edits []Edit, message string) (string, error) {
	if s.Err != nil {
		return "", s.Err
	}
	s.Commits = append(s.Commits, StubCommit{Branch: branch, Edits: edits, Message: message})
	s.shaSeq++
	return fmt.Sprintf("stubsha%d", s.shaSeq), nil
}

var _ BranchWriter = (*StubBranchWriter)(nil)
