// Package mergequeue implements the per-repository Merge Queue (spec
// §4.3): an ordered set of PRs awaiting merge, advanced head-first
// through gating checks and merged once every gate passes.
package mergequeue

import "time"

// Status is a queue item's lifecycle state.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusChecking   Status = "checking"
	StatusReady      Status = "ready"
	StatusMerging    Status = "merging"
	StatusMerged     Status = "merged"
	StatusBlocked    Status = "blocked"
	StatusConflicted Status = "conflicted"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status ends an item's lifecycle.
func (s Status) Terminal() bool {
	return s == StatusMerged || s == StatusFailed
}

// Item is one PR tracked by a repository's merge queue.
type Item struct {
	RepositoryID string
	PRNumber     int
	Owner        string
	Repo         string
	BaseBranch   string
	HeadBranch   string
	HeadSHA      string

	Status Status
	// Priority biases ordering: higher priority sorts earlier (spec
	// §4.3: score = now_ms − priority*1_000_000).
	Priority int
	// Score is fixed at insertion time (now_ms − priority*1_000_000);
	// Position is derived from it on every read, never stored
	// authoritatively (spec §4.3: "recomputed after every insertion,
	// removal, or priority change").
	Score    int64
	Position int

	AddedAt        time.Time
	ChecksPassedAt *time.Time
	MergedAt       *time.Time

	ConflictsWith []int // peer PR numbers this item conflicts with
	BlockedReason string
	FailureReason string

	// Diff is stored so peers' conflict checks can read it; it is
	// refetched each time the item itself reaches the conflict gate.
	Diff *DiffSnapshot
}

// DiffSnapshot is the subset of a PR's diff conflict detection needs.
type DiffSnapshot struct {
	Files []FileChange
}

// FileChange is one file's changed-line ranges within a diff.
type FileChange struct {
	Filename string
	Ranges   []LineRange
}

// LineRange is an inclusive [Start, End] line range touched by a patch
// hunk.
type LineRange struct {
	Start int
	End   int
}

// Overlaps reports whether r and other intersect once each side is
// padded by buffer lines (spec §4.3 step 6).
func (r LineRange) Overlaps(other LineRange, buffer int) bool {
	return r.Start-buffer <= other.End+buffer && other.Start-buffer <= r.End+buffer
}

// ScoreFor computes the ordering score for an item added at addedAtMs
// with the given priority: higher priority yields a smaller (earlier)
// score (spec §4.3: "score = now_ms − priority*1_000_000").
func ScoreFor(addedAtMs int64, priority int) int64 {
	return addedAtMs - int64(priority)*1_000_000
}

// Snapshot is a read-only view of one repository's queue, ordered by
// position ascending.
type Snapshot struct {
	RepositoryID string
	Items        []Item
}
