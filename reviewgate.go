package examauditor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// ReviewOutcome is the judge's verdict on a set of heuristic findings.
type ReviewOutcome string

const (
	ReviewConfirmed ReviewOutcome = "confirmed"
	ReviewCleared   ReviewOutcome = "cleared"
	ReviewError     ReviewOutcome = "error"
	ReviewSkipped   ReviewOutcome = "skipped"
)

// ReviewResult carries the outcome plus the judge's one-line rationale, which
// is persisted for audit trails. Err holds the typed cause when the outcome is
// ReviewError.
type ReviewResult struct {
	Outcome   ReviewOutcome `json:"outcome"`
	Rationale string        `json:"rationale,omitempty"`
	Err       error         `json:"-"`
}

// ReviewGate asks a judge model whether heuristic findings represent a genuine
// quality problem before regeneration resources are committed. It protects
// against false positives from the cheap local checks, particularly category
// mismatches and prefilter-driven duplicate flags.
type ReviewGate struct {
	client     ChatCompleter
	model      string
	transcript *TranscriptLog
}

func NewReviewGate(client ChatCompleter, model string, transcript *TranscriptLog) *ReviewGate {
	return &ReviewGate{client: client, model: model, transcript: transcript}
}

// Review confirms or dismisses the findings for one question. With no findings
// it returns skipped immediately, without a model call.
func (g *ReviewGate) Review(ctx context.Context, q Question, findings []Finding) ReviewResult {
	if len(findings) == 0 {
		return ReviewResult{Outcome: ReviewSkipped}
	}

	prompt := g.buildPrompt(q, findings)
	g.transcript.LogRequest("ReviewGate", prompt)

	tools, toolChoice := forcedTool("review_findings",
		"Confirm or dismiss automated quality findings for a quiz question",
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"confirmed": map[string]interface{}{
					"type":        "boolean",
					"description": "True if the findings describe a genuine quality problem that warrants replacing the question",
				},
				"rationale": map[string]interface{}{
					"type":        "string",
					"description": "One-line justification for the decision",
				},
			},
			"required": []string{"confirmed", "rationale"},
		})

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You are an expert reviewer of multiple choice exam questions. Automated heuristics flagged the question below; decide whether the flags are genuine problems or false positives.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		Tools:      tools,
		ToolChoice: toolChoice,
	})
	if err != nil {
		err = wrapModelError("failed to review findings", err)
		return ReviewResult{Outcome: ReviewError, Rationale: err.Error(), Err: err}
	}

	args, err := toolArguments(resp, "review_findings")
	if err != nil {
		return ReviewResult{Outcome: ReviewError, Rationale: err.Error(), Err: err}
	}
	g.transcript.LogResponse("ReviewGate", args)

	var verdict struct {
		Confirmed bool   `json:"confirmed"`
		Rationale string `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(args), &verdict); err != nil {
		err = fmt.Errorf("failed to parse tool arguments: %w", err)
		return ReviewResult{Outcome: ReviewError, Rationale: err.Error(), Err: err}
	}

	if verdict.Confirmed {
		return ReviewResult{Outcome: ReviewConfirmed, Rationale: verdict.Rationale}
	}
	return ReviewResult{Outcome: ReviewCleared, Rationale: verdict.Rationale}
}

func (g *ReviewGate) buildPrompt(q Question, findings []Finding) string {
	var sb strings.Builder

	sb.WriteString("Flagged question:\n\n")
	sb.WriteString(fmt.Sprintf("Category: %s (%s / %s)\n", q.Category, q.ExamType, q.TestType))
	sb.WriteString(fmt.Sprintf("Question: %s\n", q.Text))
	sb.WriteString("Options:\n")
	for i, option := range q.Options {
		marker := " "
		if i == q.CorrectIndex {
			marker = "*"
		}
		sb.WriteString(fmt.Sprintf("%s%d. %s\n", marker, i+1, option))
	}
	sb.WriteString(fmt.Sprintf("Explanation: %s\n\n", q.Explanation))

	sb.WriteString("Automated findings:\n")
	for _, f := range findings {
		sb.WriteString(fmt.Sprintf("- [%s/%s] %s\n", f.Kind, f.Severity, f.Message))
		for k, v := range f.Metadata {
			sb.WriteString(fmt.Sprintf("    %s: %s\n", k, v))
		}
	}
	sb.WriteString("\n")

	sb.WriteString("Decide whether these findings are genuine quality problems.\n")
	sb.WriteString("- Confirm if the question really is defective and should be replaced.\n")
	sb.WriteString("- Dismiss if the flags are false positives (for example a legitimate loanword tripping the language check, or two questions on the same topic that are not actually duplicates).\n")
	sb.WriteString("Use the review_findings tool to answer.")

	return sb.String()
}
