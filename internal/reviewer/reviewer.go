// Package reviewer scores a completed call and reports the issues found.
package reviewer

import (
	"context"

	"github.com/zulandar/switchboard/internal/models"
)

// Reviewer inspects a call and returns structured findings.
type Reviewer interface {
	Review(ctx context.Context, call *models.CallLog) (*models.ReviewResult, error)
}

// Func adapts a plain function to the Reviewer interface.
type Func func(ctx context.Context, call *models.CallLog) (*models.ReviewResult, error)

// Review calls f.
func (f Func) Review(ctx context.Context, call *models.CallLog) (*models.ReviewResult, error) {
	return f(ctx, call)
}
