// Package slack posts alerts to a Slack incoming webhook.
package slack

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/switchboard/internal/alert"
)

// maxRetries is the max number of retries for rate-limited posts.
const maxRetries = 3

// postFunc matches slackapi.PostWebhookContext.
type postFunc func(ctx context.Context, url string, msg *slackapi.WebhookMessage) error

// Notifier posts alerts to one Slack incoming webhook URL.
type Notifier struct {
	url  string
	post postFunc
}

// New creates a Notifier for webhookURL.
func New(webhookURL string) (*Notifier, error) {
	if webhookURL == "" {
		return nil, fmt.Errorf("slack: webhook url is required")
	}
	return &Notifier{url: webhookURL, post: slackapi.PostWebhookContext}, nil
}

// Name returns "slack".
func (n *Notifier) Name() string { return "slack" }

// Notify posts evt as a message attachment.
func (n *Notifier) Notify(ctx context.Context, evt alert.Event) error {
	msg := &slackapi.WebhookMessage{
		Text:        evt.Title,
		Attachments: []slackapi.Attachment{eventToAttachment(evt)},
	}
	err := retryOnRateLimit(ctx, func() error {
		return n.post(ctx, n.url, msg)
	})
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	return nil
}

func eventToAttachment(evt alert.Event) slackapi.Attachment {
	att := slackapi.Attachment{
		Title:    evt.Title,
		Text:     evt.Body,
		Color:    evt.Color,
		Fallback: evt.Title,
	}
	for _, f := range evt.Fields {
		att.Fields = append(att.Fields, slackapi.AttachmentField{
			Title: f.Name,
			Value: f.Value,
			Short: f.Short,
		})
	}
	return att
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit errors.
// It respects context cancellation and the RetryAfter duration from Slack.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) || attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}
