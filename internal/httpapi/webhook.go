// Package httpapi is the inbound HTTP surface: GitHub webhook
// ingestion plus a health endpoint, grounded on the teacher's
// webhook.go (HMAC verification, delivery-id idempotency, event-type
// routing) adapted from a Mattermost plugin's ServeHTTP to a
// standalone gorilla/mux router (spec §6 "External Interfaces").
package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/josedab/prflow/internal/mergequeue"
	"github.com/josedab/prflow/internal/orchestrator"
)

const (
	signatureHeader = "X-Hub-Signature-256"
	eventHeader     = "X-GitHub-Event"
	deliveryHeader  = "X-GitHub-Delivery"

	maxWebhookBodyBytes = 1 << 20 // 1 MB

	eventPing               = "ping"
	eventPullRequest        = "pull_request"
	eventPullRequestReview  = "pull_request_review"
	eventCheckSuite         = "check_suite"
	eventCheckRun           = "check_run"

	actionOpened      = "opened"
	actionReopened    = "reopened"
	actionSynchronize = "synchronize"
)

// Handler wires inbound GitHub webhooks to the Orchestrator and Merge
// Queue processor. Both dispatches are fire-and-forget goroutines so
// the webhook response never blocks on agent or gate latency (spec
// §4.2/§4.3 "Concurrency contract").
type Handler struct {
	Orchestrator  *orchestrator.Orchestrator
	Processor     *mergequeue.Processor
	Logger        *zap.Logger
	WebhookSecret string

	deliveries seenDeliveries
}

// NewHandler builds a Handler.
func NewHandler(orch *orchestrator.Orchestrator, processor *mergequeue.Processor, secret string, logger *zap.Logger) *Handler {
	return &Handler{
		Orchestrator:  orch,
		Processor:     processor,
		Logger:        logger,
		WebhookSecret: secret,
		deliveries:    seenDeliveries{seen: make(map[string]time.Time)},
	}
}

// seenDeliveries is a small bounded set used for webhook idempotency
// (spec §6), grounded on the teacher's HasDeliveryBeenProcessed /
// MarkDeliveryProcessed pair but kept in-process since redelivery
// windows are short-lived (GitHub retries within minutes, not days).
type seenDeliveries struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

const deliveryRetention = 10 * time.Minute

func (d *seenDeliveries) markAndCheck(id string) (alreadySeen bool) {
	if id == "" {
		return false
	}
	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	for existingID, at := range d.seen {
		if now.Sub(at) > deliveryRetention {
			delete(d.seen, existingID)
		}
	}
	if _, ok := d.seen[id]; ok {
		return true
	}
	d.seen[id] = now
	return false
}

// ghPullRequest is the subset of a GitHub webhook PR payload the core
// needs to dispatch work.
type ghPullRequest struct {
	Number int    `json:"number"`
	Merged bool   `json:"merged"`
	State  string `json:"state"`
	Head   struct {
		Ref string `json:"ref"`
		SHA string `json:"sha"`
	} `json:"head"`
}

type ghRepository struct {
	FullName string `json:"full_name"`
	Name     string `json:"name"`
	Owner    struct {
		Login string `json:"login"`
	} `json:"owner"`
}

type pullRequestEvent struct {
	Action      string        `json:"action"`
	PullRequest ghPullRequest `json:"pull_request"`
	Repository  ghRepository  `json:"repository"`
	Installation struct {
		ID int64 `json:"id"`
	} `json:"installation"`
}

type pullRequestReviewEvent struct {
	Action      string        `json:"action"`
	PullRequest ghPullRequest `json:"pull_request"`
	Repository  ghRepository  `json:"repository"`
}

type checkEvent struct {
	Repository ghRepository `json:"repository"`
}

// ServeWebhook handles one inbound GitHub webhook delivery.
func (h *Handler) ServeWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	defer func() { _ = r.Body.Close() }()

	if h.WebhookSecret == "" {
		h.Logger.Warn("github webhook received but no secret configured")
		http.Error(w, "webhook secret not configured", http.StatusInternalServerError)
		return
	}
	if !verifySignature([]byte(h.WebhookSecret), r.Header.Get(signatureHeader), body) {
		h.Logger.Warn("github webhook signature verification failed")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	deliveryID := r.Header.Get(deliveryHeader)
	if h.deliveries.markAndCheck(deliveryID) {
		h.Logger.Debug("duplicate webhook delivery, skipping", zap.String("delivery", deliveryID))
		w.WriteHeader(http.StatusOK)
		return
	}

	eventType := r.Header.Get(eventHeader)
	h.Logger.Debug("github webhook received", zap.String("event", eventType), zap.String("delivery", deliveryID))

	switch eventType {
	case eventPing:
		w.WriteHeader(http.StatusOK)
	case eventPullRequest:
		h.handlePullRequest(w, body)
	case eventPullRequestReview:
		h.handlePullRequestReview(w, body)
	case eventCheckSuite, eventCheckRun:
		h.handleCheckEvent(w, body)
	default:
		h.Logger.Debug("ignoring unhandled github event", zap.String("event", eventType))
		w.WriteHeader(http.StatusOK)
	}
}

func (h *Handler) handlePullRequest(w http.ResponseWriter, body []byte) {
	var event pullRequestEvent
	if err := json.Unmarshal(body, &event); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	switch event.Action {
	case actionOpened, actionReopened, actionSynchronize:
		prEvent := orchestrator.PREvent{
			RepositoryID:   repositoryID(event.Repository),
			PRNumber:       event.PullRequest.Number,
			Owner:          event.Repository.Owner.Login,
			Repo:           event.Repository.Name,
			HeadSHA:        event.PullRequest.Head.SHA,
			InstallationID: fmt.Sprintf("%d", event.Installation.ID),
		}
		go h.runOrchestrator(prEvent)
	default:
		// A PR closing (merged or not) is settled by the Merge Queue
		// processor's own "still open?" gate on its next pass; no
		// dispatch is needed here.
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handlePullRequestReview(w http.ResponseWriter, body []byte) {
	var event pullRequestReviewEvent
	if err := json.Unmarshal(body, &event); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	go h.runProcessor(repositoryID(event.Repository))
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleCheckEvent(w http.ResponseWriter, body []byte) {
	var event checkEvent
	if err := json.Unmarshal(body, &event); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	go h.runProcessor(repositoryID(event.Repository))
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) runOrchestrator(event orchestrator.PREvent) {
	if h.Orchestrator == nil {
		return
	}
	if err := h.Orchestrator.Run(context.Background(), event); err != nil {
		h.Logger.Error("orchestrator run failed",
			zap.String("repository", event.RepositoryID),
			zap.Int("pr", event.PRNumber),
			zap.Error(err),
		)
	}
}

func (h *Handler) runProcessor(repoID string) {
	if h.Processor == nil || repoID == "" {
		return
	}
	if err := h.Processor.Process(context.Background(), repoID); err != nil {
		h.Logger.Error("queue processing failed", zap.String("repository", repoID), zap.Error(err))
	}
}

func repositoryID(repo ghRepository) string {
	if repo.FullName != "" {
		return repo.FullName
	}
	return repo.Owner.Login + "/" + repo.Name
}

func verifySignature(secret []byte, signature string, body []byte) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(signature, prefix) {
		return false
	}
	sigBytes, err := hex.DecodeString(signature[len(prefix):])
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(sigBytes, mac.Sum(nil))
}
