// Package pipeline drives a review from claim to outcome: it runs the
// reviewer, records the result, and fans the change out to live clients,
// outbound webhooks, and operator alerts.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/zulandar/switchboard/internal/alert"
	"github.com/zulandar/switchboard/internal/hub"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/review"
	"github.com/zulandar/switchboard/internal/reviewer"
	"github.com/zulandar/switchboard/internal/webhook"
	"github.com/zulandar/switchboard/internal/worker"
	"gorm.io/gorm"
)

const (
	DefaultReviewTimeout = 2 * time.Minute
	DefaultMaxAttempts   = 3
	DefaultBatchLimit    = 20
	MaxBatchLimit        = 200

	msgCallNotFound = "call log not found"
)

var (
	// ErrCallNotFound is returned when the referenced call log does not exist.
	ErrCallNotFound = errors.New("pipeline: call log not found")
	// ErrBusy is returned when the worker queue cannot take the review job.
	ErrBusy = errors.New("pipeline: review queue is full")
)

// Submitter queues background jobs.
type Submitter interface {
	Submit(job worker.Job) error
}

// Opts holds the collaborators and tunables for a Pipeline.
type Opts struct {
	DB       *gorm.DB
	Hub      hub.Hub
	Reviewer reviewer.Reviewer
	Webhooks *webhook.Dispatcher // nil disables outbound webhooks
	Alerts   alert.Notifier      // nil disables operator alerts
	Pool     Submitter

	ReviewTimeout   time.Duration
	StaleAfter      time.Duration
	MaxAttempts     int
	BatchLimit      int // upper bound for EnqueueBatch; defaults to MaxBatchLimit
	RelayRetention  time.Duration
	AlertOnFailure  bool
	AlertOnFindings bool
}

// Pipeline processes reviews. It is safe for concurrent use.
type Pipeline struct {
	db       *gorm.DB
	hub      hub.Hub
	reviewer reviewer.Reviewer
	webhooks *webhook.Dispatcher
	alerts   alert.Notifier
	pool     Submitter

	reviewTimeout   time.Duration
	staleAfter      time.Duration
	maxAttempts     int
	batchLimit      int
	relayRetention  time.Duration
	alertOnFailure  bool
	alertOnFindings bool
}

// New creates a Pipeline.
func New(opts Opts) (*Pipeline, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("pipeline: db is required")
	}
	if opts.Reviewer == nil {
		return nil, fmt.Errorf("pipeline: reviewer is required")
	}
	if opts.Pool == nil {
		return nil, fmt.Errorf("pipeline: pool is required")
	}
	p := &Pipeline{
		db:              opts.DB,
		hub:             opts.Hub,
		reviewer:        opts.Reviewer,
		webhooks:        opts.Webhooks,
		alerts:          opts.Alerts,
		pool:            opts.Pool,
		reviewTimeout:   opts.ReviewTimeout,
		staleAfter:      opts.StaleAfter,
		maxAttempts:     opts.MaxAttempts,
		batchLimit:      opts.BatchLimit,
		relayRetention:  opts.RelayRetention,
		alertOnFailure:  opts.AlertOnFailure,
		alertOnFindings: opts.AlertOnFindings,
	}
	if p.hub == nil {
		p.hub = hub.NewMemory()
	}
	if p.alerts == nil {
		p.alerts = alert.Nop{}
	}
	if p.reviewTimeout <= 0 {
		p.reviewTimeout = DefaultReviewTimeout
	}
	if p.staleAfter <= 0 {
		p.staleAfter = 3 * p.reviewTimeout
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = DefaultMaxAttempts
	}
	if p.batchLimit <= 0 || p.batchLimit > MaxBatchLimit {
		p.batchLimit = MaxBatchLimit
	}
	return p, nil
}

// Process claims the review for callID and runs it. Losing the claim to a
// concurrent caller, or finding the record already finished, is not an error.
func (p *Pipeline) Process(ctx context.Context, callID string) error {
	rec, claimed, err := review.Claim(p.db.WithContext(ctx), callID)
	if err != nil {
		return err
	}
	if !claimed {
		log.Printf("pipeline: review for %s not claimed (status %s)", callID, rec.Status)
		return nil
	}
	return p.run(ctx, rec)
}

// Resume runs a review that is already claimed, such as one the reconciler
// reclaimed from a lost worker.
func (p *Pipeline) Resume(ctx context.Context, rec models.ReviewRecord) error {
	if rec.Status != review.StatusProcessing {
		return fmt.Errorf("pipeline: resume %s: status is %s", rec.CallID, rec.Status)
	}
	return p.run(ctx, &rec)
}

func (p *Pipeline) run(ctx context.Context, rec *models.ReviewRecord) error {
	call, err := p.callLog(ctx, rec.CallID)
	if errors.Is(err, ErrCallNotFound) {
		p.fail(ctx, rec.CallID, nil, msgCallNotFound)
		return nil
	}
	if err != nil {
		return err
	}

	reviewCtx, cancel := context.WithTimeout(ctx, p.reviewTimeout)
	res, err := p.reviewer.Review(reviewCtx, call)
	cancel()
	if err != nil {
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = fmt.Sprintf("review timed out after %s", p.reviewTimeout)
		}
		p.fail(ctx, rec.CallID, call, msg)
		return nil
	}

	done, applied, err := review.Complete(p.db.WithContext(ctx), rec.CallID, res)
	if err != nil {
		return err
	}
	if !applied {
		log.Printf("pipeline: result for %s discarded, record is %s", rec.CallID, done.Status)
		return nil
	}

	findings := 0
	if res != nil {
		findings = len(res.Errors)
	}
	log.Printf("pipeline: review %s for call %s completed with %d findings", done.ID, done.CallID, findings)
	p.broadcast(ctx, done, call, findings)

	if p.alertOnFindings && findings > 0 {
		p.alert(ctx, alert.FormatReviewFindings(done, res))
	}
	p.submitWebhooks(ctx, webhook.EventReviewCompleted, done.AgentID, call, done)
	return nil
}

// fail marks the review failed and announces it. A record that already
// reached a terminal state is left alone and nothing is announced. The
// current record is returned when it could be read.
func (p *Pipeline) fail(ctx context.Context, callID string, call *models.CallLog, msg string) *models.ReviewRecord {
	rec, applied, err := review.Fail(p.db.WithContext(ctx), callID, msg)
	if err != nil {
		log.Printf("pipeline: fail %s: %v", callID, err)
		return nil
	}
	if applied {
		log.Printf("pipeline: review %s for call %s failed: %s", rec.ID, callID, msg)
		p.announceFailure(ctx, rec, call)
	}
	return rec
}

func (p *Pipeline) announceFailure(ctx context.Context, rec *models.ReviewRecord, call *models.CallLog) {
	p.broadcast(ctx, rec, call, 0)
	if p.alertOnFailure {
		p.alert(ctx, alert.FormatReviewFailed(rec))
	}
	p.submitWebhooks(ctx, webhook.EventReviewFailed, rec.AgentID, call, rec)
}

func (p *Pipeline) callLog(ctx context.Context, callID string) (*models.CallLog, error) {
	var call models.CallLog
	err := p.db.WithContext(ctx).Where("id = ?", callID).First(&call).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrCallNotFound, callID)
	}
	if err != nil {
		return nil, fmt.Errorf("pipeline: load call log %s: %w", callID, err)
	}
	return &call, nil
}

// UpdateData is the payload of a live update event.
type UpdateData struct {
	CallLogID    string     `json:"callLogId"`
	ReviewID     string     `json:"reviewId"`
	AgentID      string     `json:"agentId"`
	Status       string     `json:"status"`
	ErrorMessage *string    `json:"errorMessage,omitempty"`
	FindingCount int        `json:"findingCount"`
	ReviewedAt   *time.Time `json:"reviewedAt,omitempty"`
}

// Scopes returns the hub scopes an update for rec is broadcast to: the
// agent, the bare call, and the project+agent+call key when the call
// belongs to a project. A subscriber matches at most one of them.
func Scopes(rec *models.ReviewRecord, call *models.CallLog) []hub.Key {
	scopes := []hub.Key{
		hub.NewKey(rec.AgentID),
		{Calls: []string{rec.CallID}},
	}
	if call != nil && call.ProjectID != "" {
		scopes = append(scopes, hub.NewKey(call.ProjectID, rec.AgentID).WithCalls(rec.CallID))
	}
	return scopes
}

func (p *Pipeline) broadcast(ctx context.Context, rec *models.ReviewRecord, call *models.CallLog, findings int) {
	if call == nil {
		// The project scope needs the call; a lookup miss only narrows the fan-out.
		call, _ = p.callLog(ctx, rec.CallID)
	}
	evt := hub.Update(UpdateData{
		CallLogID:    rec.CallID,
		ReviewID:     rec.ID,
		AgentID:      rec.AgentID,
		Status:       rec.Status,
		ErrorMessage: rec.ErrorMessage,
		FindingCount: findings,
		ReviewedAt:   rec.ReviewedAt,
	})
	for _, scope := range Scopes(rec, call) {
		p.hub.Broadcast(scope, evt)
	}
}

func (p *Pipeline) alert(ctx context.Context, evt alert.Event) {
	if err := p.alerts.Notify(ctx, evt); err != nil {
		log.Printf("pipeline: alert %q: %v", evt.Title, err)
	}
}

// deliverWebhooks fans event out to the agent's matching subscriptions.
// Failures are logged by the dispatcher and never reach the caller.
func (p *Pipeline) deliverWebhooks(ctx context.Context, event, agentID string, call *models.CallLog, rec *models.ReviewRecord) {
	if p.webhooks == nil {
		return
	}
	subs, err := webhook.Subscriptions(p.db.WithContext(ctx), agentID, event)
	if err != nil {
		log.Printf("pipeline: %v", err)
		return
	}
	if len(subs) == 0 {
		return
	}
	payload := webhook.BuildPayload(event, call, rec)
	results := p.webhooks.FanOut(ctx, subs, payload)
	failed := 0
	for _, r := range results {
		if !r.OK() {
			failed++
		}
	}
	if failed > 0 {
		log.Printf("pipeline: %s webhooks for %s: %d of %d failed", event, agentID, failed, len(results))
	}
}
