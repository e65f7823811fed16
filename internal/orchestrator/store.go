package orchestrator

import (
	"sync"
	"time"

	"github.com/josedab/prflow/internal/config"
	"github.com/josedab/prflow/internal/errs"
)

// Settings bundles a workflow's repository-level toggles, fetched
// alongside the workflow itself (spec §4.2 step 1).
type Settings struct {
	config.RepositorySettings
}

// Store is the Workflow Persistence Facade (spec §6): idempotent
// upserts for each stage's artifact, keyed by workflow id. All writes
// here must be safe to call twice with the same input (spec §8
// property 2: "invoking a stage twice ... results in exactly one
// artifact per stage per workflow").
type Store interface {
	GetWorkflowWithSettings(repositoryID string, prNumber int) (*Workflow, *Settings, error)
	CreateWorkflow(wf *Workflow) error
	UpdateWorkflowStatus(workflowID string, status Status) error
	SaveAnalysis(workflowID string, analysis *Analysis) error
	SaveReviewComments(workflowID string, review *Review) error
	SaveGeneratedTests(workflowID string, tests *GeneratedTests) error
	SaveDocUpdates(workflowID string, docs *DocUpdates) error
	SaveSynthesis(workflowID string, synthesis *Synthesis) error
	MarkWorkflowComplete(workflowID string) error
	MarkWorkflowFailed(workflowID string, reason string) error
	SetCheckRunID(workflowID string, checkRunID int64) error
	UpdateCommentStatus(workflowID string, commentID string, status CommentStatus) error
}

// memoryStore is the in-memory reference Store, grounded on the
// teacher's kvstore.store: a primary map keyed by id plus a secondary
// index for lookup by (repository, pr-number), all guarded by one
// mutex (the spec requires only per-workflow serialization, and a
// single mutex trivially satisfies that without per-key lock
// bookkeeping at this scale).
type memoryStore struct {
	mu        sync.Mutex
	workflows map[string]*Workflow       // workflow id -> workflow
	byKey     map[string]string          // Key(repo, pr) -> workflow id
	settings  map[string]*Settings       // repository id -> settings
}

// NewMemoryStore returns a Store backed by an in-process map. It is
// the reference implementation for the persistence facade spec.md §6
// treats as an external collaborator.
func NewMemoryStore() Store {
	return &memoryStore{
		workflows: make(map[string]*Workflow),
		byKey:     make(map[string]string),
		settings:  make(map[string]*Settings),
	}
}

// SeedSettings installs repository settings for tests/wiring; in a
// real deployment these would come from a configuration service.
func (s *memoryStore) SeedSettings(repositoryID string, settings Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[repositoryID] = &settings
}

func (s *memoryStore) GetWorkflowWithSettings(repositoryID string, prNumber int) (*Workflow, *Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byKey[Key(repositoryID, prNumber)]
	if !ok {
		return nil, nil, errs.NotFound("workflow not found for repository/pr")
	}
	wf := s.workflows[id]
	settings, ok := s.settings[repositoryID]
	if !ok {
		settings = &Settings{} // default-off settings for unconfigured repos
	}
	return cloneWorkflow(wf), settings, nil
}

func (s *memoryStore) CreateWorkflow(wf *Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := Key(wf.RepositoryID, wf.PRNumber)
	if existingID, ok := s.byKey[key]; ok {
		// Idempotent: re-entrant creation on an already-settled workflow
		// (spec §4.2 failure semantics) reuses the existing record.
		wf.ID = existingID
		existing := s.workflows[existingID]
		existing.Status = wf.Status
		existing.Owner = wf.Owner
		existing.Repo = wf.Repo
		existing.Author = wf.Author
		existing.Title = wf.Title
		existing.HeadBranch = wf.HeadBranch
		return nil
	}

	s.workflows[wf.ID] = wf
	s.byKey[key] = wf.ID
	return nil
}

func (s *memoryStore) withWorkflow(workflowID string, fn func(*Workflow) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wf, ok := s.workflows[workflowID]
	if !ok {
		return errs.NotFound("workflow not found: " + workflowID)
	}
	return fn(wf)
}

func (s *memoryStore) UpdateWorkflowStatus(workflowID string, status Status) error {
	return s.withWorkflow(workflowID, func(wf *Workflow) error {
		wf.Status = status
		if status == StatusAnalyzing && wf.StartedAt == nil {
			now := time.Now()
			wf.StartedAt = &now
		}
		return nil
	})
}

func (s *memoryStore) SaveAnalysis(workflowID string, analysis *Analysis) error {
	return s.withWorkflow(workflowID, func(wf *Workflow) error {
		wf.Analysis = analysis // upsert: overwrite any prior artifact
		return nil
	})
}

func (s *memoryStore) SaveReviewComments(workflowID string, review *Review) error {
	return s.withWorkflow(workflowID, func(wf *Workflow) error {
		wf.Review = review
		return nil
	})
}

func (s *memoryStore) SaveGeneratedTests(workflowID string, tests *GeneratedTests) error {
	return s.withWorkflow(workflowID, func(wf *Workflow) error {
		wf.GeneratedTests = tests
		return nil
	})
}

func (s *memoryStore) SaveDocUpdates(workflowID string, docs *DocUpdates) error {
	return s.withWorkflow(workflowID, func(wf *Workflow) error {
		wf.DocUpdates = docs
		return nil
	})
}

func (s *memoryStore) SaveSynthesis(workflowID string, synthesis *Synthesis) error {
	return s.withWorkflow(workflowID, func(wf *Workflow) error {
		wf.Synthesis = synthesis
		return nil
	})
}

func (s *memoryStore) MarkWorkflowComplete(workflowID string) error {
	return s.withWorkflow(workflowID, func(wf *Workflow) error {
		wf.Status = StatusCompleted
		now := time.Now()
		wf.CompletedAt = &now
		return nil
	})
}

func (s *memoryStore) MarkWorkflowFailed(workflowID string, reason string) error {
	return s.withWorkflow(workflowID, func(wf *Workflow) error {
		wf.Status = StatusFailed
		wf.FailureReason = reason
		now := time.Now()
		wf.CompletedAt = &now
		return nil
	})
}

func (s *memoryStore) SetCheckRunID(workflowID string, checkRunID int64) error {
	return s.withWorkflow(workflowID, func(wf *Workflow) error {
		wf.CheckRunID = checkRunID
		return nil
	})
}

func (s *memoryStore) UpdateCommentStatus(workflowID string, commentID string, status CommentStatus) error {
	return s.withWorkflow(workflowID, func(wf *Workflow) error {
		if wf.Review == nil {
			return errs.NotFound("workflow has no review artifact")
		}
		for i := range wf.Review.Comments {
			if wf.Review.Comments[i].ID == commentID {
				wf.Review.Comments[i].Status = status
				return nil
			}
		}
		return errs.NotFound("review comment not found: " + commentID)
	})
}

// cloneWorkflow returns a shallow copy so callers can't mutate store
// state through the pointer they were handed back.
func cloneWorkflow(wf *Workflow) *Workflow {
	clone := *wf
	return &clone
}
