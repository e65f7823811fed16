package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/google/go-github/v68/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseURLPath = "/api-v3"

// setup spins up an httptest server and a Facade pointed at it,
// mirroring the teacher's ghclient test harness.
func setup(t *testing.T) (facade Facade, mux *http.ServeMux) {
	t.Helper()

	mux = http.NewServeMux()
	apiHandler := http.NewServeMux()
	apiHandler.Handle(baseURLPath+"/", http.StripPrefix(baseURLPath, mux))

	server := httptest.NewServer(apiHandler)
	t.Cleanup(server.Close)

	ghClient := github.NewClient(nil)
	u, _ := url.Parse(server.URL + baseURLPath + "/")
	ghClient.BaseURL = u

	return NewGitHubProviderFrom(ghClient), mux
}

func TestGetPullRequest(t *testing.T) {
	facade, mux := setup(t)

	mux.HandleFunc("/repos/acme/widgets/pulls/42", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `{"number":42,"title":"Add widget","draft":false,"state":"open","head":{"ref":"feature","sha":"abc123"},"base":{"ref":"main"},"user":{"login":"alice"}}`)
	})

	pr, err := facade.GetPullRequest(context.Background(), "acme", "widgets", 42)
	require.NoError(t, err)
	assert.Equal(t, "Add widget", pr.Title)
	assert.Equal(t, "alice", pr.Author)
	assert.Equal(t, "abc123", pr.HeadSHA)
	assert.False(t, pr.Draft)
}

func TestGetChangedFilesPaginates(t *testing.T) {
	facade, mux := setup(t)

	mux.HandleFunc("/repos/acme/widgets/pulls/42/files", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			_, _ = fmt.Fprint(w, `[{"filename":"b.go","status":"modified","additions":2,"deletions":1}]`)
			return
		}
		w.Header().Set("Link", `<http://x/?page=2>; rel="next"`)
		_, _ = fmt.Fprint(w, `[{"filename":"a.go","status":"added","additions":10,"deletions":0}]`)
	})

	files, err := facade.GetChangedFiles(context.Background(), "acme", "widgets", 42)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "a.go", files[0].Filename)
	assert.Equal(t, "b.go", files[1].Filename)
}

func TestGetCombinedStatus(t *testing.T) {
	facade, mux := setup(t)

	mux.HandleFunc("/repos/acme/widgets/commits/abc/status", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `{"state":"pending"}`)
	})

	status, err := facade.GetCombinedStatus(context.Background(), "acme", "widgets", "abc")
	require.NoError(t, err)
	assert.Equal(t, CombinedStatusPending, status.State)
}

func TestGetCheckRunsAggregatesFailure(t *testing.T) {
	facade, mux := setup(t)

	mux.HandleFunc("/repos/acme/widgets/commits/abc/check-runs", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `{"total_count":2,"check_runs":[
			{"status":"completed","conclusion":"success"},
			{"status":"completed","conclusion":"failure"}
		]}`)
	})

	runs, err := facade.GetCheckRuns(context.Background(), "acme", "widgets", "abc")
	require.NoError(t, err)
	assert.Equal(t, CheckConclusionFailure, runs.Conclusion)
}

func TestGetCheckRunsPendingWhenIncomplete(t *testing.T) {
	facade, mux := setup(t)

	mux.HandleFunc("/repos/acme/widgets/commits/abc/check-runs", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `{"total_count":1,"check_runs":[{"status":"in_progress"}]}`)
	})

	runs, err := facade.GetCheckRuns(context.Background(), "acme", "widgets", "abc")
	require.NoError(t, err)
	assert.Equal(t, CheckConclusionPending, runs.Conclusion)
}

func TestGetReviews(t *testing.T) {
	facade, mux := setup(t)

	mux.HandleFunc("/repos/acme/widgets/pulls/42/reviews", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `[{"state":"APPROVED","user":{"login":"bob"}},{"state":"CHANGES_REQUESTED","user":{"login":"carol"}}]`)
	})

	reviews, err := facade.GetReviews(context.Background(), "acme", "widgets", 42)
	require.NoError(t, err)
	require.Len(t, reviews, 2)
	assert.Equal(t, ReviewStateApproved, reviews[0].State)
	assert.Equal(t, ReviewStateChangesRequested, reviews[1].State)
}

func TestCompareBranches(t *testing.T) {
	facade, mux := setup(t)

	mux.HandleFunc("/repos/acme/widgets/compare/main...feature", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `{"status":"behind","behind_by":3}`)
	})

	cmp, err := facade.CompareBranches(context.Background(), "acme", "widgets", "main", "feature")
	require.NoError(t, err)
	assert.Equal(t, 3, cmp.BehindBy)
}

func TestPostReviewCommentsRespectsThreshold(t *testing.T) {
	facade, mux := setup(t)

	var posted int
	mux.HandleFunc("/repos/acme/widgets/pulls/42/comments", func(w http.ResponseWriter, r *http.Request) {
		posted++
		_, _ = fmt.Fprint(w, `{"id":1}`)
	})

	comments := []ReviewComment{
		{File: "a.go", Line: 1, Severity: "high", Body: "fix this"},
		{File: "b.go", Line: 2, Severity: "nitpick", Body: "minor"},
	}
	err := facade.PostReviewComments(context.Background(), "acme", "widgets", 42, comments, "high")
	require.NoError(t, err)
	assert.Equal(t, 1, posted)
}

func TestCreateAndCompleteCheckRun(t *testing.T) {
	facade, mux := setup(t)

	mux.HandleFunc("/repos/acme/widgets/check-runs", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `{"id":99}`)
	})
	mux.HandleFunc("/repos/acme/widgets/check-runs/99", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `{"id":99,"conclusion":"success"}`)
	})

	id, err := facade.CreateCheckRun(context.Background(), "acme", "widgets", "abc", "prflow", "running")
	require.NoError(t, err)
	assert.Equal(t, int64(99), id)

	err = facade.CompleteCheckRun(context.Background(), "acme", "widgets", id, CheckRunConclusionSuccess, "done", "all good")
	require.NoError(t, err)
}
