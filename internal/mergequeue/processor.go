package mergequeue

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/josedab/prflow/internal/config"
	"github.com/josedab/prflow/internal/events"
	"github.com/josedab/prflow/internal/provider"
)

// ConfigSource resolves a repository's merge-queue configuration.
type ConfigSource func(repositoryID string) config.MergeQueueConfig

// Processor advances a repository's queue through the gating pipeline
// (spec §4.3). Processing for a given repository is single-flight: a
// second call while one is in flight joins the first rather than
// running concurrently, but different repositories run fully
// independently (spec §4.3 "Concurrency contract").
type Processor struct {
	Store     Store
	Provider  provider.Facade
	Notifier  *events.Notifier
	ConfigFor ConfigSource

	sf singleflight.Group
}

// NewProcessor builds a Processor. configFor may be nil, in which case
// every repository uses config.DefaultMergeQueueConfig.
func NewProcessor(store Store, prov provider.Facade, notifier *events.Notifier, configFor ConfigSource) *Processor {
	if configFor == nil {
		configFor = func(string) config.MergeQueueConfig { return config.DefaultMergeQueueConfig() }
	}
	return &Processor{Store: store, Provider: prov, Notifier: notifier, ConfigFor: configFor}
}

// Enqueue adds a PR to its repository's queue at a score fixed to the
// moment of insertion, then kicks off processing asynchronously (spec
// §4.3: "an insertion triggers processing asynchronously").
func (p *Processor) Enqueue(ctx context.Context, item Item) error {
	now := time.Now()
	item.AddedAt = now
	item.Score = ScoreFor(now.UnixMilli(), item.Priority)
	if item.Status == "" {
		item.Status = StatusQueued
	}
	if err := p.Store.Add(ctx, item); err != nil {
		return err
	}
	p.notify(item.RepositoryID, item.PRNumber, "queue.item_added", map[string]any{"priority": item.Priority})
	go p.Process(context.Background(), item.RepositoryID)
	return nil
}

// Reprioritize changes an item's priority and re-scores it, which
// changes its position on the next Snapshot read (spec §9 open
// question: implementers must decide whether to expose this — this
// core exposes it explicitly as an operator action, not an automatic
// one, since the spec leaves the triggering semantics unspecified).
func (p *Processor) Reprioritize(ctx context.Context, repositoryID string, prNumber int, priority int) error {
	return p.Store.Mutate(ctx, repositoryID, prNumber, func(item *Item) {
		item.Priority = priority
		item.Score = ScoreFor(item.AddedAt.UnixMilli(), priority)
	})
}

// Process runs one gating pass over repositoryID's head items,
// coalescing concurrent callers via singleflight.
func (p *Processor) Process(ctx context.Context, repositoryID string) error {
	_, err, _ := p.sf.Do(repositoryID, func() (any, error) {
		return nil, p.runUntilIdle(ctx, repositoryID)
	})
	return err
}

// runUntilIdle repeats a processing pass as long as a merge happened
// on the prior pass, mirroring the spec's "recursively trigger
// processing for the same repository" on merge success without
// growing the call stack.
func (p *Processor) runUntilIdle(ctx context.Context, repositoryID string) error {
	for {
		mergedAny, err := p.runOnce(ctx, repositoryID)
		if err != nil {
			return err
		}
		if !mergedAny {
			return nil
		}
	}
}

func (p *Processor) runOnce(ctx context.Context, repositoryID string) (bool, error) {
	cfg := p.ConfigFor(repositoryID)
	if !cfg.Enabled {
		return false, nil
	}

	snapshot, err := p.Store.Snapshot(ctx, repositoryID)
	if err != nil {
		return false, err
	}

	head := make([]Item, 0, cfg.BatchSize)
	for _, item := range snapshot.Items {
		if item.Status != StatusQueued {
			continue
		}
		head = append(head, item)
		if len(head) >= cfg.BatchSize {
			break
		}
	}

	mergedAny := false
	for _, item := range head {
		merged, err := p.processItem(ctx, item, cfg, snapshot.Items)
		if err != nil {
			// A single item's processing error must not stall its
			// siblings (spec §4.3 failure semantics: conservative retry).
			continue
		}
		if merged {
			mergedAny = true
		}
	}
	return mergedAny, nil
}

// processItem runs item through the gates in spec §4.3 order,
// sequentially (processing within a repository is intentionally
// sequential for predictable ordering, unlike the Orchestrator's
// parallel agent phase).
func (p *Processor) processItem(ctx context.Context, item Item, cfg config.MergeQueueConfig, ahead []Item) (merged bool, err error) {
	p.setStatus(ctx, &item, StatusChecking, "")

	pr, err := p.Provider.GetPullRequest(ctx, item.Owner, item.Repo, item.PRNumber)
	if err != nil {
		p.setStatus(ctx, &item, StatusQueued, "pull request lookup failed, will retry")
		return false, nil
	}
	if pr.State != "open" {
		_ = p.Store.Remove(ctx, item.RepositoryID, item.PRNumber)
		p.notify(item.RepositoryID, item.PRNumber, "queue.item_removed", map[string]any{"reason": "pull request no longer open"})
		return false, nil
	}

	if outcome := checkDraft(pr); !outcome.passed {
		p.setStatus(ctx, &item, outcome.status, outcome.reason)
		return false, nil
	}

	if cfg.RequireChecks {
		if outcome := checkRequiredChecks(ctx, p.Provider, item.Owner, item.Repo, item.HeadSHA); !outcome.passed {
			if outcome.status == "" {
				p.setStatus(ctx, &item, StatusQueued, outcome.reason)
			} else {
				p.setStatus(ctx, &item, outcome.status, outcome.reason)
			}
			return false, nil
		}
	}

	if cfg.RequireApprovals > 0 {
		if outcome := checkRequiredApprovals(ctx, p.Provider, item.Owner, item.Repo, item.PRNumber, cfg.RequireApprovals); !outcome.passed {
			p.setStatus(ctx, &item, outcome.status, outcome.reason)
			return false, nil
		}
	}

	if cfg.RequireUpToDate {
		outcome := checkUpToDate(ctx, p.Provider, &item, cfg.AutoResolveConflicts)
		if !outcome.passed {
			p.setStatus(ctx, &item, outcome.status, outcome.reason)
			return false, nil
		}
	}

	if cfg.CheckConflicts {
		diff, diffErr := p.Provider.GetPullRequestDiff(ctx, item.Owner, item.Repo, item.PRNumber)
		if diffErr == nil {
			item.Diff = SnapshotFromDiff(diff)
		}

		aheadOf := aheadItems(ahead, item.Position)
		outcome := checkConflicts(&item, aheadOf, cfg.ConflictLineBuffer)
		if !outcome.passed {
			if outcome.status == StatusConflicted && cfg.AutoResolveConflicts {
				if err := p.Provider.UpdateBranch(ctx, item.Owner, item.Repo, item.PRNumber); err != nil {
					item.ConflictsWith = outcome.peerPRs
					p.setStatus(ctx, &item, StatusConflicted, "auto-resolve failed: "+err.Error())
					return false, nil
				}
				p.setStatus(ctx, &item, StatusQueued, "conflicts auto-resolved, re-queued for re-check")
				return false, nil
			}
			item.ConflictsWith = outcome.peerPRs
			p.setStatus(ctx, &item, StatusConflicted, outcome.reason)
			return false, nil
		}
	}

	now := time.Now()
	item.ChecksPassedAt = &now
	p.setStatus(ctx, &item, StatusReady, "all gates satisfied")

	if !cfg.AutoMergeEnabled {
		return false, nil
	}

	p.setStatus(ctx, &item, StatusMerging, "")
	if err := p.Provider.MergePullRequest(ctx, item.Owner, item.Repo, item.PRNumber, provider.MergeMethod(cfg.MergeMethod)); err != nil {
		p.setStatus(ctx, &item, StatusFailed, "merge failed: "+err.Error())
		return false, nil
	}

	mergedAt := time.Now()
	item.MergedAt = &mergedAt
	p.setStatus(ctx, &item, StatusMerged, "")
	if err := p.Store.Remove(ctx, item.RepositoryID, item.PRNumber); err != nil {
		return true, err
	}
	return true, nil
}

func aheadItems(all []Item, position int) []Item {
	ahead := make([]Item, 0, len(all))
	for _, it := range all {
		if it.Position < position {
			ahead = append(ahead, it)
		}
	}
	return ahead
}

// setStatus persists the new status/reason via Mutate and emits an
// observability event, which is how every transition becomes visible
// without blocking on delivery (spec §4.3 "Concurrency contract").
func (p *Processor) setStatus(ctx context.Context, item *Item, status Status, reason string) {
	if status == "" {
		// A gate outcome with no target status leaves the item queued.
		status = StatusQueued
	}
	item.Status = status
	switch status {
	case StatusBlocked:
		item.BlockedReason = reason
	case StatusFailed:
		item.FailureReason = reason
	}
	// A mutate failure here means the item was removed by a concurrent
	// caller (e.g. an operator dequeue); there's nothing left to
	// transition, so it's not reported as a processing error.
	_ = p.Store.Mutate(ctx, item.RepositoryID, item.PRNumber, func(stored *Item) {
		*stored = *item
	})
	p.notify(item.RepositoryID, item.PRNumber, fmt.Sprintf("queue.%s", status), map[string]any{"reason": reason})
}

func (p *Processor) notify(repositoryID string, prNumber int, name string, payload map[string]any) {
	if p.Notifier == nil {
		return
	}
	p.Notifier.Notify(repositoryID, fmt.Sprintf("%d", prNumber), name, payload)
}
