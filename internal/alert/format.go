package alert

import (
	"fmt"
	"strings"

	"github.com/zulandar/switchboard/internal/models"
)

// Color constants for alert severity.
const (
	ColorSuccess = "#36a64f"
	ColorInfo    = "#2196f3"
	ColorWarning = "#ff9800"
	ColorError   = "#e53935"
)

// maxListedFindings caps how many findings appear in one alert body.
const maxListedFindings = 5

func severityColor(severity string) string {
	switch severity {
	case "success":
		return ColorSuccess
	case "warning":
		return ColorWarning
	case "error":
		return ColorError
	default:
		return ColorInfo
	}
}

// findingsSeverity escalates to error when any finding is high impact.
func findingsSeverity(findings []models.Finding) string {
	for _, f := range findings {
		if f.Impact == "high" || f.Impact == "critical" {
			return "error"
		}
	}
	return "warning"
}

func recordFields(rec *models.ReviewRecord) []Field {
	fields := []Field{
		{Name: "Call", Value: rec.CallID, Short: true},
		{Name: "Agent", Value: rec.AgentID, Short: true},
		{Name: "Review", Value: rec.ID, Short: true},
	}
	if rec.Attempts > 1 {
		fields = append(fields, Field{Name: "Attempts", Value: fmt.Sprintf("%d", rec.Attempts), Short: true})
	}
	return fields
}

// FormatReviewFailed formats a review that ended in the failed state.
func FormatReviewFailed(rec *models.ReviewRecord) Event {
	body := "review failed"
	if rec.ErrorMessage != nil && *rec.ErrorMessage != "" {
		body = *rec.ErrorMessage
	}
	return Event{
		Title:    fmt.Sprintf("Review failed for call %s", rec.CallID),
		Body:     body,
		Severity: "error",
		Color:    ColorError,
		Fields:   recordFields(rec),
	}
}

// FormatReviewFindings formats a completed review that reported issues.
func FormatReviewFindings(rec *models.ReviewRecord, res *models.ReviewResult) Event {
	var findings []models.Finding
	if res != nil {
		findings = res.Errors
	}
	severity := findingsSeverity(findings)

	var lines []string
	if res != nil && res.Summary != "" {
		lines = append(lines, res.Summary)
	}
	for i, f := range findings {
		if i == maxListedFindings {
			lines = append(lines, fmt.Sprintf("…and %d more", len(findings)-maxListedFindings))
			break
		}
		lines = append(lines, fmt.Sprintf("• [%s] %s: %s", f.Impact, f.Type, f.Description))
	}

	fields := recordFields(rec)
	fields = append(fields, Field{Name: "Findings", Value: fmt.Sprintf("%d", len(findings)), Short: true})

	noun := "issues"
	if len(findings) == 1 {
		noun = "issue"
	}
	return Event{
		Title:    fmt.Sprintf("Call %s: %d %s found", rec.CallID, len(findings), noun),
		Body:     strings.Join(lines, "\n"),
		Severity: severity,
		Color:    severityColor(severity),
		Fields:   fields,
	}
}
