// Package review implements the ReviewRecord state machine.
//
// A record moves pending → processing → {completed, failed}, or directly
// pending → failed. Every transition is a single conditional UPDATE keyed on
// the expected prior status, so concurrent callers cannot both win. Calls
// against a record that has already moved on are silent no-ops: the returned
// bool reports whether this call changed anything.
package review

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Review statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// ErrNotFound is returned when no record exists for a call.
var ErrNotFound = errors.New("review: record not found")

// ValidTransitions maps each status to its legal next statuses.
var ValidTransitions = map[string][]string{
	StatusPending:    {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed},
}

// IsTerminal reports whether status is completed or failed.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// IsValidTransition reports whether from → to is a legal transition.
func IsValidTransition(from, to string) bool {
	for _, s := range ValidTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// GenerateID creates a review ID in rev_<ULID> format.
func GenerateID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return "rev_" + ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Enqueue creates a pending record for callID unless one already exists.
// The existing record is returned unmodified in that case and created is
// false.
func Enqueue(db *gorm.DB, callID, agentID string) (*models.ReviewRecord, bool, error) {
	if callID == "" {
		return nil, false, fmt.Errorf("review: callID is required")
	}
	if agentID == "" {
		return nil, false, fmt.Errorf("review: agentID is required")
	}

	rec := models.ReviewRecord{
		ID:      GenerateID(),
		CallID:  callID,
		AgentID: agentID,
		Status:  StatusPending,
	}
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "call_id"}},
		DoNothing: true,
	}).Create(&rec)
	if result.Error != nil {
		return nil, false, fmt.Errorf("review: enqueue %s: %w", callID, result.Error)
	}
	if result.RowsAffected == 1 {
		return &rec, true, nil
	}

	existing, err := Get(db, callID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// Claim moves a pending record to processing. It returns claimed=false with
// the current record when another caller got there first or the record is
// already terminal, and ErrNotFound when there is no record.
func Claim(db *gorm.DB, callID string) (*models.ReviewRecord, bool, error) {
	if callID == "" {
		return nil, false, fmt.Errorf("review: callID is required")
	}

	now := time.Now()
	result := db.Model(&models.ReviewRecord{}).
		Where("call_id = ? AND status = ?", callID, StatusPending).
		Updates(map[string]interface{}{
			"status":     StatusProcessing,
			"claimed_at": now,
			"attempts":   gorm.Expr("attempts + 1"),
			"updated_at": now,
		})
	if result.Error != nil {
		return nil, false, fmt.Errorf("review: claim %s: %w", callID, result.Error)
	}
	return readBack(db, callID, result.RowsAffected == 1)
}

// Complete moves a processing record to completed and stores the result.
// Records in any other status are left untouched.
func Complete(db *gorm.DB, callID string, res *models.ReviewResult) (*models.ReviewRecord, bool, error) {
	if callID == "" {
		return nil, false, fmt.Errorf("review: callID is required")
	}
	encoded, err := models.EncodeResult(res)
	if err != nil {
		return nil, false, err
	}

	now := time.Now()
	result := db.Model(&models.ReviewRecord{}).
		Where("call_id = ? AND status = ?", callID, StatusProcessing).
		Updates(map[string]interface{}{
			"status":        StatusCompleted,
			"result":        encoded,
			"error_message": nil,
			"reviewed_at":   now,
			"updated_at":    now,
		})
	if result.Error != nil {
		return nil, false, fmt.Errorf("review: complete %s: %w", callID, result.Error)
	}
	return readBack(db, callID, result.RowsAffected == 1)
}

// Fail moves a pending or processing record to failed with a reason.
// Terminal records are left untouched.
func Fail(db *gorm.DB, callID, message string) (*models.ReviewRecord, bool, error) {
	if callID == "" {
		return nil, false, fmt.Errorf("review: callID is required")
	}
	if message == "" {
		message = "review failed"
	}

	now := time.Now()
	result := db.Model(&models.ReviewRecord{}).
		Where("call_id = ? AND status IN ?", callID, []string{StatusPending, StatusProcessing}).
		Updates(map[string]interface{}{
			"status":        StatusFailed,
			"error_message": message,
			"reviewed_at":   now,
			"updated_at":    now,
		})
	if result.Error != nil {
		return nil, false, fmt.Errorf("review: fail %s: %w", callID, result.Error)
	}
	return readBack(db, callID, result.RowsAffected == 1)
}

// Get returns the record for callID.
func Get(db *gorm.DB, callID string) (*models.ReviewRecord, error) {
	var rec models.ReviewRecord
	if err := db.Where("call_id = ?", callID).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, callID)
		}
		return nil, fmt.Errorf("review: get %s: %w", callID, err)
	}
	return &rec, nil
}

// readBack loads the record after a conditional update.
func readBack(db *gorm.DB, callID string, changed bool) (*models.ReviewRecord, bool, error) {
	rec, err := Get(db, callID)
	if err != nil {
		return nil, false, err
	}
	return rec, changed, nil
}
