package models

import (
	"encoding/json"
	"time"
)

// WebhookSubscription is an agent-owned outbound webhook configuration.
// It is managed by the configuration API and read-only here.
type WebhookSubscription struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	AgentID    string `gorm:"size:64;not null;index"`
	URL        string `gorm:"type:text;not null"`
	Method     string `gorm:"size:8;default:POST"`
	Headers    string `gorm:"type:text"` // JSON object of static headers
	Events     string `gorm:"type:text"` // JSON array of event kinds
	Active     bool   `gorm:"default:true;index"`
	TimeoutSec *int // nil or non-positive uses the dispatcher default
	Retries    *int // nil uses the dispatcher default; 0 disables retries
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// HeaderMap decodes the static headers. Malformed JSON yields an empty map.
func (w *WebhookSubscription) HeaderMap() map[string]string {
	out := map[string]string{}
	if w.Headers == "" {
		return out
	}
	_ = json.Unmarshal([]byte(w.Headers), &out)
	return out
}

// EventList decodes the trigger event kinds. Malformed JSON yields nil.
func (w *WebhookSubscription) EventList() []string {
	if w.Events == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(w.Events), &out); err != nil {
		return nil
	}
	return out
}

// Triggers reports whether the subscription fires for the given event kind.
func (w *WebhookSubscription) Triggers(event string) bool {
	for _, e := range w.EventList() {
		if e == event || e == "*" {
			return true
		}
	}
	return false
}
