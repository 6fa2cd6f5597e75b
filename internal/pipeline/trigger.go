package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/review"
	"github.com/zulandar/switchboard/internal/webhook"
	"github.com/zulandar/switchboard/internal/worker"
)

// TriggerResult reports the record a trigger left behind.
type TriggerResult struct {
	Record  *models.ReviewRecord
	Created bool
}

// Trigger handles a call-completed notification. It enqueues the review,
// fails it right away when the call log is missing, and otherwise queues the
// review job plus the call.completed webhooks. Redundant triggers for the
// same call are harmless.
//
// Errors: ErrCallNotFound when the call log is missing (the record is
// failed); ErrBusy when the review job could not be queued (the record stays
// pending for the reconciler).
func (p *Pipeline) Trigger(ctx context.Context, callID, agentID string) (*TriggerResult, error) {
	rec, created, err := review.Enqueue(p.db.WithContext(ctx), callID, agentID)
	if err != nil {
		return nil, err
	}
	res := &TriggerResult{Record: rec, Created: created}

	call, err := p.callLog(ctx, callID)
	if errors.Is(err, ErrCallNotFound) {
		if cur := p.fail(ctx, callID, nil, msgCallNotFound); cur != nil {
			res.Record = cur
		}
		return res, err
	}
	if err != nil {
		return res, err
	}

	if err := p.submitReview(rec); err != nil {
		return res, err
	}
	if created {
		p.submitCallWebhooks(call)
	}
	return res, nil
}

// submitReview queues the review job for a pending record. Records in any
// other status need no job.
func (p *Pipeline) submitReview(rec *models.ReviewRecord) error {
	if rec.Status != review.StatusPending {
		return nil
	}
	callID := rec.CallID
	err := p.pool.Submit(worker.Job{
		Name: "review " + callID,
		Run: func(ctx context.Context) error {
			return p.Process(ctx, callID)
		},
	})
	if errors.Is(err, worker.ErrQueueFull) || errors.Is(err, worker.ErrClosed) {
		return fmt.Errorf("%w: %s: %v", ErrBusy, callID, err)
	}
	return err
}

func (p *Pipeline) submitCallWebhooks(call *models.CallLog) {
	if p.webhooks == nil {
		return
	}
	err := p.pool.Submit(worker.Job{
		Name: "webhooks " + call.ID,
		Run: func(ctx context.Context) error {
			p.deliverWebhooks(ctx, webhook.EventCallCompleted, call.AgentID, call, nil)
			return nil
		},
	})
	if err != nil {
		log.Printf("pipeline: queue call.completed webhooks for %s: %v", call.ID, err)
	}
}

// submitWebhooks queues the review event fan-out as its own job so slow
// endpoints never hold a review worker. When the queue cannot take the job
// the fan-out runs inline; a terminal review event is not dropped.
func (p *Pipeline) submitWebhooks(ctx context.Context, event, agentID string, call *models.CallLog, rec *models.ReviewRecord) {
	if p.webhooks == nil {
		return
	}
	err := p.pool.Submit(worker.Job{
		Name: "webhooks " + event + " " + rec.CallID,
		Run: func(ctx context.Context) error {
			p.deliverWebhooks(ctx, event, agentID, call, rec)
			return nil
		},
	})
	if err != nil {
		log.Printf("pipeline: queue %s webhooks for %s: %v; delivering inline", event, rec.CallID, err)
		p.deliverWebhooks(ctx, event, agentID, call, rec)
	}
}

// BatchSummary counts the outcome of a batch enqueue. Queued counts newly
// created records only; calls that already had a record in any status are
// Skipped; calls that could not be enqueued, including unknown call ids,
// are Errored. CallIDs lists the calls considered, in order.
type BatchSummary struct {
	Total   int      `json:"total"`
	Queued  int      `json:"queued"`
	Skipped int      `json:"skipped"`
	Errored int      `json:"errored"`
	AgentID string   `json:"agentId,omitempty"`
	CallIDs []string `json:"-"`
}

// BatchLimit clamps a requested batch size to the allowed range.
func (p *Pipeline) BatchLimit(requested int) int {
	if requested <= 0 {
		requested = DefaultBatchLimit
	}
	if requested > p.batchLimit {
		requested = p.batchLimit
	}
	return requested
}

// EnqueueBatch queues reviews for the agent's most recent calls.
func (p *Pipeline) EnqueueBatch(ctx context.Context, agentID string, limit int) (BatchSummary, error) {
	summary := BatchSummary{AgentID: agentID}
	if agentID == "" {
		return summary, fmt.Errorf("pipeline: agentID is required")
	}

	var calls []models.CallLog
	if err := p.db.WithContext(ctx).Where("agent_id = ?", agentID).
		Order("created_at DESC").Limit(p.BatchLimit(limit)).Find(&calls).Error; err != nil {
		return summary, fmt.Errorf("pipeline: select calls for %s: %w", agentID, err)
	}

	summary.Total = len(calls)
	for i := range calls {
		summary.CallIDs = append(summary.CallIDs, calls[i].ID)
		summary.add(p.enqueueOne(ctx, &calls[i]))
	}
	log.Printf("pipeline: batch for %s: %d total, %d queued, %d skipped, %d errored",
		agentID, summary.Total, summary.Queued, summary.Skipped, summary.Errored)
	return summary, nil
}

// EnqueueCalls queues reviews for specific calls. Duplicate ids are counted
// once.
func (p *Pipeline) EnqueueCalls(ctx context.Context, callIDs []string) BatchSummary {
	var summary BatchSummary
	seen := make(map[string]bool, len(callIDs))
	for _, id := range callIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		summary.Total++
		summary.CallIDs = append(summary.CallIDs, id)

		call, err := p.callLog(ctx, id)
		if err != nil {
			log.Printf("pipeline: enqueue %s: %v", id, err)
			summary.Errored++
			continue
		}
		summary.add(p.enqueueOne(ctx, call))
	}
	return summary
}

type outcome int

const (
	outcomeQueued outcome = iota
	outcomeSkipped
	outcomeErrored
)

func (s *BatchSummary) add(o outcome) {
	switch o {
	case outcomeQueued:
		s.Queued++
	case outcomeSkipped:
		s.Skipped++
	default:
		s.Errored++
	}
}

// enqueueOne creates the record for call and queues its job. An existing
// pending record gets its job resubmitted but still counts as skipped.
func (p *Pipeline) enqueueOne(ctx context.Context, call *models.CallLog) outcome {
	rec, created, err := review.Enqueue(p.db.WithContext(ctx), call.ID, call.AgentID)
	if err != nil {
		log.Printf("pipeline: enqueue %s: %v", call.ID, err)
		return outcomeErrored
	}
	if err := p.submitReview(rec); err != nil {
		log.Printf("pipeline: %v", err)
	}
	if created {
		return outcomeQueued
	}
	return outcomeSkipped
}
