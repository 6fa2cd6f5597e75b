package webhook

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/zulandar/switchboard/internal/models"
)

// Payload is the JSON body of an outbound delivery.
type Payload struct {
	Event     string         `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Call      CallPayload    `json:"call"`
	Review    *ReviewPayload `json:"review,omitempty"`
}

// CallPayload describes the call that triggered the event.
type CallPayload struct {
	ID              string          `json:"call_log_id"`
	AgentID         string          `json:"agent_id"`
	ProjectID       string          `json:"project_id,omitempty"`
	CustomerNumber  string          `json:"customer_number"`
	EndReason       string          `json:"end_reason"`
	StartedAt       *time.Time      `json:"started_at"`
	EndedAt         *time.Time      `json:"ended_at"`
	RecordingURL    string          `json:"recording_url"`
	DurationSeconds int             `json:"duration_seconds"`
	Metrics         json.RawMessage `json:"metrics"`
	Transcription   json.RawMessage `json:"transcription"`
	CreatedAt       time.Time       `json:"created_at"`
}

// ReviewPayload carries the review outcome for review.* events.
type ReviewPayload struct {
	ID           string           `json:"review_id"`
	Status       string           `json:"status"`
	Attempts     int              `json:"attempts"`
	ErrorMessage *string          `json:"error_message,omitempty"`
	Findings     []models.Finding `json:"findings"`
	Summary      string           `json:"summary,omitempty"`
	ReviewedAt   *time.Time       `json:"reviewed_at,omitempty"`
}

// BuildPayload assembles the body for event. record may be nil for
// call.completed; for review events it adds the review section.
func BuildPayload(event string, call *models.CallLog, record *models.ReviewRecord) Payload {
	p := Payload{Event: event, Timestamp: time.Now().UTC()}
	if call != nil {
		p.Call = CallPayload{
			ID:              call.ID,
			AgentID:         call.AgentID,
			ProjectID:       call.ProjectID,
			CustomerNumber:  call.CustomerNumber,
			EndReason:       call.EndReason,
			StartedAt:       call.StartedAt,
			EndedAt:         call.EndedAt,
			RecordingURL:    call.RecordingURL,
			DurationSeconds: call.DurationSeconds,
			Metrics:         rawJSON(call.Metrics),
			Transcription:   rawJSON(call.Transcription),
			CreatedAt:       call.CreatedAt,
		}
	}
	if record != nil {
		if call == nil {
			p.Call.ID = record.CallID
			p.Call.AgentID = record.AgentID
		}
		rp := &ReviewPayload{
			ID:           record.ID,
			Status:       record.Status,
			Attempts:     record.Attempts,
			ErrorMessage: record.ErrorMessage,
			Findings:     []models.Finding{},
			ReviewedAt:   record.ReviewedAt,
		}
		if res, err := record.DecodeResult(); err == nil && res != nil {
			if res.Errors != nil {
				rp.Findings = res.Errors
			}
			rp.Summary = res.Summary
		}
		p.Review = rp
	}
	return p
}

// Marshal encodes the payload.
func (p Payload) Marshal() ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("webhook: encode %s payload: %w", p.Event, err)
	}
	return b, nil
}

// rawJSON passes stored JSON blobs through untouched. Empty or invalid text
// becomes null so the body stays valid JSON.
func rawJSON(s string) json.RawMessage {
	if s == "" || !json.Valid([]byte(s)) {
		return json.RawMessage("null")
	}
	return json.RawMessage(s)
}
