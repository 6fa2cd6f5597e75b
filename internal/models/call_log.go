package models

import "time"

// CallLog is a completed voice-agent call. Rows are written by the call
// ingest service; Switchboard only reads them.
type CallLog struct {
	ID              string     `gorm:"primaryKey;size:64" json:"id"`
	AgentID         string     `gorm:"size:64;not null;index:idx_agent_created" json:"agent_id"`
	ProjectID       string     `gorm:"size:64;index" json:"project_id"`
	CustomerNumber  string     `gorm:"size:32" json:"customer_number"`
	EndReason       string     `gorm:"size:64" json:"end_reason"`
	StartedAt       *time.Time `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at"`
	RecordingURL    string     `gorm:"type:text" json:"recording_url"`
	DurationSeconds int        `json:"duration_seconds"`
	Metrics         string     `gorm:"type:text" json:"-"`
	Transcription   string     `gorm:"type:mediumtext" json:"-"`
	CreatedAt       time.Time  `gorm:"index:idx_agent_created" json:"created_at"`
}
