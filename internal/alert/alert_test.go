package alert

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/zulandar/switchboard/internal/models"
)

type recordingNotifier struct {
	name   string
	err    error
	events []Event
}

func (r *recordingNotifier) Name() string { return r.name }

func (r *recordingNotifier) Notify(_ context.Context, evt Event) error {
	r.events = append(r.events, evt)
	return r.err
}

func TestMulti_NotifiesAllAndJoinsErrors(t *testing.T) {
	ok := &recordingNotifier{name: "ok"}
	bad := &recordingNotifier{name: "bad", err: errors.New("webhook gone")}
	last := &recordingNotifier{name: "last"}

	err := Multi{ok, bad, last}.Notify(context.Background(), Event{Title: "t"})
	if err == nil || !strings.Contains(err.Error(), "webhook gone") {
		t.Fatalf("error = %v, want joined webhook error", err)
	}
	for _, n := range []*recordingNotifier{ok, bad, last} {
		if len(n.events) != 1 {
			t.Errorf("%s got %d events, want 1", n.name, len(n.events))
		}
	}
}

func TestMulti_Empty(t *testing.T) {
	if err := (Multi{}).Notify(context.Background(), Event{}); err != nil {
		t.Errorf("empty Multi error = %v", err)
	}
	if err := (Nop{}).Notify(context.Background(), Event{}); err != nil {
		t.Errorf("Nop error = %v", err)
	}
}

func TestSeverityColor(t *testing.T) {
	tests := map[string]string{
		"success": ColorSuccess,
		"info":    ColorInfo,
		"warning": ColorWarning,
		"error":   ColorError,
		"":        ColorInfo,
	}
	for sev, want := range tests {
		if got := severityColor(sev); got != want {
			t.Errorf("severityColor(%q) = %q, want %q", sev, got, want)
		}
	}
}

func TestFormatReviewFailed(t *testing.T) {
	msg := "reviewer timed out"
	rec := &models.ReviewRecord{ID: "rev_1", CallID: "c1", AgentID: "a1", ErrorMessage: &msg, Attempts: 2}
	evt := FormatReviewFailed(rec)

	if evt.Title != "Review failed for call c1" {
		t.Errorf("Title = %q", evt.Title)
	}
	if evt.Body != msg {
		t.Errorf("Body = %q", evt.Body)
	}
	if evt.Color != ColorError {
		t.Errorf("Color = %q", evt.Color)
	}
	if len(evt.Fields) != 4 {
		t.Errorf("Fields = %d, want 4 (attempts included)", len(evt.Fields))
	}

	evt = FormatReviewFailed(&models.ReviewRecord{CallID: "c2", Attempts: 1})
	if evt.Body != "review failed" {
		t.Errorf("default Body = %q", evt.Body)
	}
	if len(evt.Fields) != 3 {
		t.Errorf("Fields = %d, want 3", len(evt.Fields))
	}
}

func TestFormatReviewFindings(t *testing.T) {
	rec := &models.ReviewRecord{ID: "rev_1", CallID: "c1", AgentID: "a1", Attempts: 1}
	res := &models.ReviewResult{
		Summary: "agent ignored a cancellation",
		Errors: []models.Finding{
			{Type: "missed_intent", Description: "ignored cancel", Impact: "high"},
			{Type: "tone", Description: "abrupt", Impact: "low"},
		},
	}
	evt := FormatReviewFindings(rec, res)

	if evt.Title != "Call c1: 2 issues found" {
		t.Errorf("Title = %q", evt.Title)
	}
	if evt.Severity != "error" || evt.Color != ColorError {
		t.Errorf("Severity/Color = %q/%q, want error", evt.Severity, evt.Color)
	}
	if !strings.Contains(evt.Body, "agent ignored a cancellation") || !strings.Contains(evt.Body, "[high] missed_intent: ignored cancel") {
		t.Errorf("Body = %q", evt.Body)
	}

	one := FormatReviewFindings(rec, &models.ReviewResult{Errors: []models.Finding{{Type: "tone", Description: "abrupt", Impact: "low"}}})
	if one.Title != "Call c1: 1 issue found" || one.Severity != "warning" {
		t.Errorf("single finding = %q/%q", one.Title, one.Severity)
	}
}

func TestFormatReviewFindings_TruncatesList(t *testing.T) {
	var findings []models.Finding
	for i := 0; i < maxListedFindings+3; i++ {
		findings = append(findings, models.Finding{Type: "tone", Description: "x", Impact: "low"})
	}
	evt := FormatReviewFindings(&models.ReviewRecord{CallID: "c1"}, &models.ReviewResult{Errors: findings})
	if !strings.Contains(evt.Body, "and 3 more") {
		t.Errorf("Body = %q, want truncation note", evt.Body)
	}
}
