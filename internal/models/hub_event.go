package models

import "time"

// HubEvent is one broadcast relayed between Switchboard instances.
type HubEvent struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Scope     string    `gorm:"size:512;not null"`
	Payload   string    `gorm:"type:text;not null"`
	Origin    string    `gorm:"size:64"`
	CreatedAt time.Time `gorm:"index"`
}
