package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ReviewRecord tracks the AI-review lifecycle of one call. CallID is unique,
// so there is at most one record per call.
type ReviewRecord struct {
	ID           string     `gorm:"primaryKey;size:40" json:"id"`
	CallID       string     `gorm:"size:64;not null;uniqueIndex" json:"call_log_id"`
	AgentID      string     `gorm:"size:64;not null;index" json:"agent_id"`
	Status       string     `gorm:"size:16;not null;default:pending;index" json:"status"`
	Result       *string    `gorm:"type:text" json:"-"`
	ErrorMessage *string    `gorm:"type:text" json:"error_message"`
	Attempts     int        `gorm:"not null;default:0" json:"attempts"`
	ClaimedAt    *time.Time `json:"claimed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `gorm:"index" json:"updated_at"`
	ReviewedAt   *time.Time `json:"reviewed_at,omitempty"`
}

// ReviewResult is the structured output of a reviewer.
type ReviewResult struct {
	Errors  []Finding `json:"errors"`
	Summary string    `json:"summary,omitempty"`
}

// Finding is a single issue the reviewer found in a call.
type Finding struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Evidence    string `json:"evidence"`
	Impact      string `json:"impact"`
}

// DecodeResult parses the stored result. It returns nil, nil when the record
// has no result yet.
func (r *ReviewRecord) DecodeResult() (*ReviewResult, error) {
	if r.Result == nil || *r.Result == "" {
		return nil, nil
	}
	var res ReviewResult
	if err := json.Unmarshal([]byte(*r.Result), &res); err != nil {
		return nil, fmt.Errorf("models: decode review result for %s: %w", r.CallID, err)
	}
	return &res, nil
}

// EncodeResult renders a result for storage. A nil Errors slice is stored
// as an empty list.
func EncodeResult(res *ReviewResult) (string, error) {
	if res == nil {
		res = &ReviewResult{}
	}
	out := *res
	if out.Errors == nil {
		out.Errors = []Finding{}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("models: encode review result: %w", err)
	}
	return string(data), nil
}
