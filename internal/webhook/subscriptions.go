package webhook

import (
	"fmt"

	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// Subscriptions returns the active subscriptions for agentID that trigger on
// event.
func Subscriptions(db *gorm.DB, agentID, event string) ([]models.WebhookSubscription, error) {
	var all []models.WebhookSubscription
	if err := db.Where("agent_id = ? AND active = ?", agentID, true).
		Order("id ASC").Find(&all).Error; err != nil {
		return nil, fmt.Errorf("webhook: list subscriptions for %s: %w", agentID, err)
	}
	matched := all[:0]
	for _, s := range all {
		if s.Triggers(event) {
			matched = append(matched, s)
		}
	}
	return matched, nil
}
