package reviewer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/zulandar/switchboard/internal/models"
)

const (
	DefaultModel     = "claude-sonnet-4-5"
	DefaultMaxTokens = 2048

	// maxTranscriptChars bounds the prompt for very long calls.
	maxTranscriptChars = 60000
)

// Impact levels accepted in findings.
var impactLevels = map[string]bool{"low": true, "medium": true, "high": true, "critical": true}

// messages is the slice of the Messages API the reviewer uses.
type messages interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Anthropic reviews calls with Claude via the Messages API.
type Anthropic struct {
	api       messages
	model     anthropic.Model
	maxTokens int64
}

// AnthropicOpts configures NewAnthropic.
type AnthropicOpts struct {
	APIKey    string
	Model     string
	MaxTokens int
	BaseURL   string // overrides the API endpoint; empty uses the default
}

// NewAnthropic creates a reviewer backed by the Anthropic API.
func NewAnthropic(opts AnthropicOpts) *Anthropic {
	reqOpts := []option.RequestOption{}
	if opts.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	client := anthropic.NewClient(reqOpts...)
	return newAnthropic(&client.Messages, opts.Model, opts.MaxTokens)
}

func newAnthropic(api messages, model string, maxTokens int) *Anthropic {
	if model == "" {
		model = DefaultModel
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Anthropic{api: api, model: anthropic.Model(model), maxTokens: int64(maxTokens)}
}

// Review sends the call transcript and metrics to the model and parses the
// findings it returns.
func (a *Anthropic) Review(ctx context.Context, call *models.CallLog) (*models.ReviewResult, error) {
	if call == nil {
		return nil, fmt.Errorf("reviewer: call is required")
	}
	system, user := buildPrompt(call)

	msg, err := a.api.New(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("reviewer: anthropic call for %s: %w", call.ID, err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return nil, fmt.Errorf("reviewer: no text content in response for %s", call.ID)
	}
	return parseResult(text)
}

func buildPrompt(call *models.CallLog) (system string, user string) {
	system = `You review phone calls handled by a voice AI agent. Identify mistakes the agent made. Return ONLY a JSON object with these fields:
- "errors": an array of findings, each an object with:
  - "type": short snake_case category such as "hallucination", "missed_intent", "wrong_information", "poor_handoff", "interruption", "tone"
  - "description": one or two sentences describing the mistake
  - "evidence": the exact transcript excerpt that shows it
  - "impact": one of "low", "medium", "high", "critical"
- "summary": one sentence describing the overall quality of the call

Rules:
- Only report mistakes made by the agent, not by the customer
- Return an empty "errors" array when the agent made no mistakes
- Return valid JSON only, no markdown fencing or explanation`

	var sb strings.Builder
	fmt.Fprintf(&sb, "Call ID: %s\nAgent ID: %s\n", call.ID, call.AgentID)
	if call.EndReason != "" {
		fmt.Fprintf(&sb, "End reason: %s\n", call.EndReason)
	}
	if call.DurationSeconds > 0 {
		fmt.Fprintf(&sb, "Duration: %ds\n", call.DurationSeconds)
	}
	if m := strings.TrimSpace(call.Metrics); m != "" {
		sb.WriteString("\nMetrics:\n")
		sb.WriteString(m)
		sb.WriteString("\n")
	}
	sb.WriteString("\nTranscript:\n")
	transcript := strings.TrimSpace(call.Transcription)
	if transcript == "" {
		transcript = "(no transcript recorded)"
	}
	if len(transcript) > maxTranscriptChars {
		transcript = truncate(transcript, maxTranscriptChars) + "\n(truncated)"
	}
	sb.WriteString(transcript)
	user = sb.String()
	return
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// parseResult decodes the model output, tolerating markdown fences, and
// validates each finding.
func parseResult(text string) (*models.ReviewResult, error) {
	text = stripFence(text)

	var res models.ReviewResult
	if err := json.Unmarshal([]byte(text), &res); err != nil {
		return nil, fmt.Errorf("reviewer: parse response as JSON: %w\nraw response: %s", err, text)
	}

	var problems []string
	for i := range res.Errors {
		f := &res.Errors[i]
		f.Type = strings.TrimSpace(f.Type)
		f.Impact = strings.ToLower(strings.TrimSpace(f.Impact))
		if f.Type == "" {
			problems = append(problems, fmt.Sprintf("finding %d: type is required", i))
		}
		if strings.TrimSpace(f.Description) == "" {
			problems = append(problems, fmt.Sprintf("finding %d: description is required", i))
		}
		if f.Impact == "" {
			f.Impact = "medium"
		} else if !impactLevels[f.Impact] {
			problems = append(problems, fmt.Sprintf("finding %d: unknown impact %q", i, f.Impact))
		}
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("reviewer: invalid response: %s", strings.Join(problems, "; "))
	}
	if res.Errors == nil {
		res.Errors = []models.Finding{}
	}
	return &res, nil
}

func stripFence(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	return text
}
