package discord

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/switchboard/internal/alert"
)

type mockExecutor struct {
	calls  int
	id     string
	token  string
	params *discordgo.WebhookParams
	errs   []error
}

func (m *mockExecutor) WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.calls++
	m.id, m.token, m.params = webhookID, token, data
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return nil, err
	}
	return &discordgo.Message{}, nil
}

func rateLimited() error {
	return &discordgo.RESTError{Response: &http.Response{StatusCode: 429}}
}

func TestParseWebhookURL(t *testing.T) {
	tests := []struct {
		in        string
		wantID    string
		wantToken string
		wantErr   bool
	}{
		{in: "https://discord.com/api/webhooks/123/abc", wantID: "123", wantToken: "abc"},
		{in: "https://discordapp.com/api/v10/webhooks/9/tok-en/", wantID: "9", wantToken: "tok-en"},
		{in: "https://discord.com/api/webhooks/123", wantErr: true},
		{in: "https://example.com/hooks/1/2", wantErr: true},
		{in: "://bad", wantErr: true},
	}
	for _, tt := range tests {
		id, token, err := ParseWebhookURL(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseWebhookURL(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil || id != tt.wantID || token != tt.wantToken {
			t.Errorf("ParseWebhookURL(%q) = %q, %q, %v", tt.in, id, token, err)
		}
	}
}

func TestNew(t *testing.T) {
	n, err := New("https://discord.com/api/webhooks/123/abc")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if n.webhookID != "123" || n.token != "abc" || n.Name() != "discord" {
		t.Errorf("notifier = %+v", n)
	}
	if _, err := New("https://discord.com/nope"); err == nil {
		t.Error("expected error for bad url")
	}
}

func TestNotify_SendsEmbed(t *testing.T) {
	m := &mockExecutor{}
	n := &Notifier{exec: m, webhookID: "123", token: "abc", baseBackoff: time.Millisecond}

	evt := alert.Event{
		Title:  "Call c1: 2 issues found",
		Body:   "summary",
		Color:  "#36a64f",
		Fields: []alert.Field{{Name: "Agent", Value: "a1", Short: true}},
	}
	if err := n.Notify(context.Background(), evt); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if m.id != "123" || m.token != "abc" {
		t.Errorf("executed with %q/%q", m.id, m.token)
	}
	if len(m.params.Embeds) != 1 {
		t.Fatalf("embeds = %d, want 1", len(m.params.Embeds))
	}
	embed := m.params.Embeds[0]
	if embed.Title != evt.Title || embed.Description != "summary" {
		t.Errorf("embed = %+v", embed)
	}
	if embed.Color != 0x36a64f {
		t.Errorf("Color = %#x, want 0x36a64f", embed.Color)
	}
	if len(embed.Fields) != 1 || !embed.Fields[0].Inline {
		t.Errorf("fields = %+v", embed.Fields)
	}
}

func TestNotify_RetriesRateLimit(t *testing.T) {
	m := &mockExecutor{errs: []error{rateLimited(), rateLimited()}}
	n := &Notifier{exec: m, webhookID: "1", token: "t", baseBackoff: time.Millisecond}

	if err := n.Notify(context.Background(), alert.Event{Title: "x"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if m.calls != 3 {
		t.Errorf("calls = %d, want 3", m.calls)
	}
}

func TestNotify_GivesUpAfterMaxRetries(t *testing.T) {
	m := &mockExecutor{errs: []error{rateLimited(), rateLimited(), rateLimited(), rateLimited(), rateLimited()}}
	n := &Notifier{exec: m, webhookID: "1", token: "t", baseBackoff: time.Millisecond}

	if err := n.Notify(context.Background(), alert.Event{Title: "x"}); err == nil {
		t.Fatal("expected error")
	}
	if m.calls != maxRetries+1 {
		t.Errorf("calls = %d, want %d", m.calls, maxRetries+1)
	}
}

func TestNotify_NonRateLimitError(t *testing.T) {
	m := &mockExecutor{errs: []error{errors.New("unknown webhook")}}
	n := &Notifier{exec: m, webhookID: "1", token: "t", baseBackoff: time.Millisecond}

	if err := n.Notify(context.Background(), alert.Event{Title: "x"}); err == nil {
		t.Fatal("expected error")
	}
	if m.calls != 1 {
		t.Errorf("calls = %d, want 1", m.calls)
	}
}

func TestParseHexColor(t *testing.T) {
	tests := map[string]int{"#36a64f": 0x36a64f, "E53935": 0xe53935, "": 0}
	for in, want := range tests {
		if got := parseHexColor(in); got != want {
			t.Errorf("parseHexColor(%q) = %#x, want %#x", in, got, want)
		}
	}
}
