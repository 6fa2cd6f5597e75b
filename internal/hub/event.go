package hub

import (
	"encoding/json"
	"fmt"
)

// Event types on the live channel.
const (
	TypeConnected = "connected"
	TypeUpdate    = "update"
)

// Event is one message on the live channel.
type Event struct {
	Type            string `json:"type"`
	SubscriptionKey string `json:"subscriptionKey,omitempty"`
	Data            any    `json:"data,omitempty"`
}

// KeepaliveFrame is a comment-only SSE frame. Clients ignore it; proxies see
// traffic on an otherwise idle stream.
var KeepaliveFrame = []byte(": keepalive\n\n")

// Encode renders evt as an SSE data frame.
func Encode(evt Event) ([]byte, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("hub: encode event: %w", err)
	}
	return dataFrame(data), nil
}

// Connected builds the greeting sent when a live connection opens.
func Connected(key Key) Event {
	return Event{Type: TypeConnected, SubscriptionKey: key.String()}
}

// Update wraps a payload in an update event.
func Update(data any) Event {
	return Event{Type: TypeUpdate, Data: data}
}
