// Package alert posts operator notifications about review outcomes to chat
// platforms (Slack, Discord).
package alert

import (
	"context"
	"errors"
	"log"
)

// Notifier delivers one alert to a chat platform.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, evt Event) error
}

// Event is an alert formatted for display in chat.
type Event struct {
	Title    string  // headline, e.g. "Review failed for call c1"
	Body     string  // detail text
	Severity string  // "info", "warning", "error", "success"
	Color    string  // sidebar color hint
	Fields   []Field // key-value metadata pairs
}

// Field is a key-value pair displayed with an alert.
type Field struct {
	Name  string
	Value string
	Short bool // hint: render side-by-side with another field
}

// Multi sends each alert to every notifier. A failing notifier does not stop
// the others; all errors are joined.
type Multi []Notifier

// Name returns "multi".
func (m Multi) Name() string { return "multi" }

// Notify fans evt out to every notifier.
func (m Multi) Notify(ctx context.Context, evt Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, evt); err != nil {
			log.Printf("alert: %s: %v", n.Name(), err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards every alert.
type Nop struct{}

func (Nop) Name() string                        { return "nop" }
func (Nop) Notify(context.Context, Event) error { return nil }
