package review

import (
	"fmt"

	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// ListFilters holds optional filters for listing records.
type ListFilters struct {
	AgentID string
	Status  string
	Limit   int
}

// List returns records matching the filters, newest first.
func List(db *gorm.DB, filters ListFilters) ([]models.ReviewRecord, error) {
	q := db.Model(&models.ReviewRecord{})
	if filters.AgentID != "" {
		q = q.Where("agent_id = ?", filters.AgentID)
	}
	if filters.Status != "" {
		q = q.Where("status = ?", filters.Status)
	}
	if filters.Limit > 0 {
		q = q.Limit(filters.Limit)
	}

	var recs []models.ReviewRecord
	if err := q.Order("created_at DESC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("review: list: %w", err)
	}
	return recs, nil
}

// CountByStatus returns the number of records per status for an agent.
// An empty agentID counts across all agents.
func CountByStatus(db *gorm.DB, agentID string) (map[string]int64, error) {
	type row struct {
		Status string
		Count  int64
	}
	q := db.Model(&models.ReviewRecord{}).Select("status, COUNT(*) AS count")
	if agentID != "" {
		q = q.Where("agent_id = ?", agentID)
	}

	var rows []row
	if err := q.Group("status").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("review: count by status: %w", err)
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}
