// Package webhook delivers event payloads to agent-configured outbound
// webhooks with a per-attempt timeout and a bounded retry budget.
package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/switchboard/internal/models"
)

// Event kinds a subscription can listen for.
const (
	EventCallCompleted   = "call.completed"
	EventReviewCompleted = "review.completed"
	EventReviewFailed    = "review.failed"
)

// Headers set on every delivery.
const (
	HeaderEvent    = "X-Switchboard-Event"
	HeaderDelivery = "X-Switchboard-Delivery"
)

const (
	defaultTimeout = 10 * time.Second
	defaultBackoff = time.Second
)

// Doer is the subset of *http.Client the dispatcher uses.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// DispatcherOpts configures a Dispatcher. Subscription values override the
// defaults when positive.
type DispatcherOpts struct {
	Client         Doer
	Backoff        time.Duration
	DefaultTimeout time.Duration
	DefaultRetries int
}

// Dispatcher delivers payloads to webhook subscriptions.
type Dispatcher struct {
	client         Doer
	backoff        time.Duration
	defaultTimeout time.Duration
	defaultRetries int
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(opts DispatcherOpts) *Dispatcher {
	d := &Dispatcher{
		client:         opts.Client,
		backoff:        opts.Backoff,
		defaultTimeout: opts.DefaultTimeout,
		defaultRetries: opts.DefaultRetries,
	}
	if d.client == nil {
		d.client = http.DefaultClient
	}
	if d.backoff < 0 {
		d.backoff = 0
	}
	if d.defaultTimeout <= 0 {
		d.defaultTimeout = defaultTimeout
	}
	if d.defaultRetries < 0 {
		d.defaultRetries = 0
	}
	return d
}

// Result describes the outcome of one Deliver call.
type Result struct {
	SubscriptionID uint
	DeliveryID     string
	Attempts       int
	StatusCode     int
	Err            error
}

// OK reports whether the final attempt succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Deliver sends payload to sub. It makes at most retries+1 attempts, each
// bounded by the subscription timeout, waiting the fixed backoff between
// attempts. Failures are logged and returned in the Result; Deliver never
// panics into its caller.
func (d *Dispatcher) Deliver(ctx context.Context, sub models.WebhookSubscription, payload Payload) (res Result) {
	res = Result{SubscriptionID: sub.ID, DeliveryID: uuid.NewString()}
	defer func() {
		if p := recover(); p != nil {
			res.Err = fmt.Errorf("webhook: delivery panic: %v", p)
			log.Printf("webhook: subscription %d delivery %s: %v", sub.ID, res.DeliveryID, res.Err)
		}
	}()

	body, err := payload.Marshal()
	if err != nil {
		res.Err = err
		log.Printf("webhook: subscription %d: %v", sub.ID, err)
		return res
	}

	retries := d.defaultRetries
	if sub.Retries != nil {
		retries = max(*sub.Retries, 0)
	}
	timeout := d.defaultTimeout
	if sub.TimeoutSec != nil && *sub.TimeoutSec > 0 {
		timeout = time.Duration(*sub.TimeoutSec) * time.Second
	}

	for attempt := 0; attempt <= retries; attempt++ {
		res.Attempts++
		res.StatusCode, res.Err = d.attempt(ctx, sub, payload.Event, res.DeliveryID, body, timeout)
		if res.Err == nil {
			return res
		}
		if attempt == retries {
			break
		}

		log.Printf("webhook: subscription %d attempt %d/%d failed: %v (retrying in %v)",
			sub.ID, attempt+1, retries+1, res.Err, d.backoff)

		select {
		case <-ctx.Done():
			res.Err = fmt.Errorf("webhook: delivery cancelled after %d attempts: %w", res.Attempts, ctx.Err())
			log.Printf("webhook: subscription %d: %v", sub.ID, res.Err)
			return res
		case <-time.After(d.backoff):
		}
	}

	log.Printf("webhook: subscription %d %s giving up after %d attempts: %v",
		sub.ID, payload.Event, res.Attempts, res.Err)
	return res
}

func (d *Dispatcher) attempt(ctx context.Context, sub models.WebhookSubscription, event, deliveryID string, body []byte, timeout time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := strings.ToUpper(strings.TrimSpace(sub.Method))
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, sub.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("webhook: build request: %w", err)
	}
	for k, v := range sub.HeaderMap() {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, event)
	req.Header.Set(HeaderDelivery, deliveryID)

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("webhook: %s %s: %w", method, sub.URL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("webhook: %s %s: status %d", method, sub.URL, resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// FanOut delivers payload to every subscription concurrently. Each delivery
// is independent; one subscriber's failure does not affect the others.
// Results are returned in subscription order.
func (d *Dispatcher) FanOut(ctx context.Context, subs []models.WebhookSubscription, payload Payload) []Result {
	results := make([]Result, len(subs))
	var wg sync.WaitGroup
	for i, sub := range subs {
		wg.Add(1)
		go func(i int, sub models.WebhookSubscription) {
			defer wg.Done()
			results[i] = d.Deliver(ctx, sub, payload)
		}(i, sub)
	}
	wg.Wait()
	return results
}
