package review

import (
	"fmt"
	"time"

	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// DefaultStaleAfter is how long a record may sit in processing before the
// reconciler considers its worker lost.
const DefaultStaleAfter = 6 * time.Minute

// ReclaimStale finds processing records not updated within staleAfter.
// Records below maxAttempts are re-claimed in place (attempts+1, fresh
// claimed_at) and returned as reclaimed so the caller can resubmit them.
// Records at maxAttempts are failed and returned as expired. Each update is
// conditioned on the attempts value that was read, so a worker that reports
// in concurrently wins and the record is skipped.
func ReclaimStale(db *gorm.DB, staleAfter time.Duration, maxAttempts int) (reclaimed, expired []models.ReviewRecord, err error) {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	cutoff := time.Now().Add(-staleAfter)

	var stale []models.ReviewRecord
	if err := db.Where("status = ? AND updated_at < ?", StatusProcessing, cutoff).
		Order("updated_at ASC").Find(&stale).Error; err != nil {
		return nil, nil, fmt.Errorf("review: find stale: %w", err)
	}

	for _, rec := range stale {
		now := time.Now()
		cas := db.Model(&models.ReviewRecord{}).
			Where("call_id = ? AND status = ? AND attempts = ?", rec.CallID, StatusProcessing, rec.Attempts)

		if maxAttempts > 0 && rec.Attempts >= maxAttempts {
			msg := fmt.Sprintf("review timed out after %d attempts", rec.Attempts)
			result := cas.Updates(map[string]interface{}{
				"status":        StatusFailed,
				"error_message": msg,
				"reviewed_at":   now,
				"updated_at":    now,
			})
			if result.Error != nil {
				return reclaimed, expired, fmt.Errorf("review: expire %s: %w", rec.CallID, result.Error)
			}
			if result.RowsAffected == 1 {
				rec.Status = StatusFailed
				rec.ErrorMessage = &msg
				rec.ReviewedAt = &now
				rec.UpdatedAt = now
				expired = append(expired, rec)
			}
			continue
		}

		result := cas.Updates(map[string]interface{}{
			"attempts":   gorm.Expr("attempts + 1"),
			"claimed_at": now,
			"updated_at": now,
		})
		if result.Error != nil {
			return reclaimed, expired, fmt.Errorf("review: reclaim %s: %w", rec.CallID, result.Error)
		}
		if result.RowsAffected == 1 {
			rec.Attempts++
			rec.ClaimedAt = &now
			rec.UpdatedAt = now
			reclaimed = append(reclaimed, rec)
		}
	}
	return reclaimed, expired, nil
}

// PendingOlderThan returns pending records created more than age ago,
// oldest first. These are records whose job never ran, for example because
// the queue was full or the process restarted; the caller resubmits them and
// Claim keeps the retry harmless.
func PendingOlderThan(db *gorm.DB, age time.Duration, limit int) ([]models.ReviewRecord, error) {
	q := db.Where("status = ? AND created_at < ?", StatusPending, time.Now().Add(-age)).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []models.ReviewRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("review: find pending: %w", err)
	}
	return recs, nil
}
