package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/switchboard/internal/hub"
	"github.com/zulandar/switchboard/internal/review"
	"github.com/zulandar/switchboard/internal/worker"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ReconcileSummary reports one reconciler pass.
type ReconcileSummary struct {
	Reclaimed   int
	Expired     int
	Resubmitted int
	Pruned      int64
}

// Reconcile recovers reviews whose worker was lost. Stale processing
// records are reclaimed and resumed, or failed once they reach the attempt
// limit; pending records older than the stale window get their job
// resubmitted. Relay events past retention are pruned.
func (p *Pipeline) Reconcile(ctx context.Context) (ReconcileSummary, error) {
	var summary ReconcileSummary
	db := p.db.WithContext(ctx)

	reclaimed, expired, err := review.ReclaimStale(db, p.staleAfter, p.maxAttempts)
	if err != nil {
		return summary, err
	}
	for _, rec := range reclaimed {
		rec := rec
		err := p.pool.Submit(worker.Job{
			Name: "resume " + rec.CallID,
			Run: func(ctx context.Context) error {
				return p.Resume(ctx, rec)
			},
		})
		if err != nil {
			log.Printf("pipeline: resume %s: %v", rec.CallID, err)
			continue
		}
		summary.Reclaimed++
	}
	for i := range expired {
		log.Printf("pipeline: review for %s expired after %d attempts", expired[i].CallID, expired[i].Attempts)
		p.announceFailure(ctx, &expired[i], nil)
		summary.Expired++
	}

	pending, err := review.PendingOlderThan(db, p.staleAfter, p.batchLimit)
	if err != nil {
		return summary, err
	}
	for i := range pending {
		if err := p.submitReview(&pending[i]); err != nil {
			log.Printf("pipeline: %v", err)
			break
		}
		summary.Resubmitted++
	}

	if _, ok := p.hub.(*hub.Relay); ok && p.relayRetention > 0 {
		n, err := hub.Prune(db, p.relayRetention)
		if err != nil {
			return summary, err
		}
		summary.Pruned = n
	}
	return summary, nil
}

// RunReconciler runs Reconcile on the cron schedule expr until ctx is
// cancelled.
func (p *Pipeline) RunReconciler(ctx context.Context, expr string) error {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return fmt.Errorf("pipeline: parse reconcile schedule %q: %w", expr, err)
	}

	timer := time.NewTimer(time.Until(sched.Next(time.Now())))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			summary, err := p.Reconcile(ctx)
			if err != nil {
				log.Printf("pipeline: reconcile: %v", err)
			} else if summary != (ReconcileSummary{}) {
				log.Printf("pipeline: reconcile: %d reclaimed, %d expired, %d resubmitted, %d relay events pruned",
					summary.Reclaimed, summary.Expired, summary.Resubmitted, summary.Pruned)
			}
			timer.Reset(time.Until(sched.Next(time.Now())))
		}
	}
}
