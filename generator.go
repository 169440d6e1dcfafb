package examauditor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// CandidateGenerator produces one replacement draft per call from the
// generation model. It validates structure locally before returning; language
// and topical correctness are the ConsensusValidator's job.
type CandidateGenerator struct {
	client     ChatCompleter
	model      string
	transcript *TranscriptLog
}

func NewCandidateGenerator(client ChatCompleter, model string, transcript *TranscriptLog) *CandidateGenerator {
	return &CandidateGenerator{client: client, model: model, transcript: transcript}
}

// Generate requests a structurally complete draft for the target. Malformed
// model output yields a *GenerationError; a parsed draft that violates a local
// invariant yields a *StructuralInvalidError. Both are retryable.
func (g *CandidateGenerator) Generate(ctx context.Context, target ReplacementTarget) (*ReplacementCandidate, error) {
	prompt := g.buildPrompt(target)
	g.transcript.LogRequest("CandidateGenerator", prompt)

	tools, toolChoice := forcedTool("submit_question",
		"Submit the generated replacement question",
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"question": questionDraftSchema(),
			},
			"required": []string{"question"},
		})

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You are an expert exam item writer. Generate one high-quality multiple choice question with exactly 4 options.",
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
		return nil, wrapModelError("failed to generate replacement", err)
	}

	args, err := toolArguments(resp, "submit_question")
	if err != nil {
		return nil, &GenerationError{Reason: err.Error()}
	}
	g.transcript.LogResponse("CandidateGenerator", args)

	var toolArgs struct {
		Question struct {
			Text          string   `json:"text"`
			Options       []string `json:"options"`
			CorrectAnswer int      `json:"correct_answer"`
			Explanation   string   `json:"explanation"`
		} `json:"question"`
	}
	if err := json.Unmarshal([]byte(args), &toolArgs); err != nil {
		return nil, &GenerationError{Reason: fmt.Sprintf("failed to parse tool arguments: %v", err), Raw: args}
	}

	candidate := &ReplacementCandidate{
		QuestionID:        target.QuestionID,
		DraftText:         strings.TrimSpace(toolArgs.Question.Text),
		DraftOptions:      toolArgs.Question.Options,
		DraftCorrectIndex: toolArgs.Question.CorrectAnswer,
		DraftExplanation:  strings.TrimSpace(toolArgs.Question.Explanation),
		TargetCategory:    target.Category,
		TargetDifficulty:  target.Difficulty,
	}
	if err := candidate.Structural(); err != nil {
		return nil, err
	}
	return candidate, nil
}

func (g *CandidateGenerator) buildPrompt(target ReplacementTarget) string {
	var sb strings.Builder

	sb.WriteString("Generate one multiple choice question to replace a defective question in an exam bank.\n\n")
	sb.WriteString(fmt.Sprintf("Exam type: %s\n", target.ExamType))
	sb.WriteString(fmt.Sprintf("Category: %s\n", target.Category))
	if target.SubCategory != "" {
		sb.WriteString(fmt.Sprintf("Sub-category: %s\n", target.SubCategory))
	}
	sb.WriteString(fmt.Sprintf("Difficulty: %s\n", target.Difficulty))
	if target.Language != "" {
		sb.WriteString(fmt.Sprintf("Language: write the question, options and explanation entirely in %s\n", languageName(target.Language)))
	}
	sb.WriteString("\n")

	if len(target.Reasons) > 0 {
		sb.WriteString("The question being replaced was rejected for these reasons; do not repeat them:\n")
		for _, reason := range target.Reasons {
			sb.WriteString(fmt.Sprintf("- %s\n", reason))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Requirements:\n")
	sb.WriteString("- Exactly 4 multiple choice options, all distinct and non-empty\n")
	sb.WriteString("- The correct answer should be non-obvious but clearly correct\n")
	sb.WriteString("- Incorrect options should be plausible but clearly wrong\n")
	sb.WriteString("- Do not give the answer away in the question text\n")
	sb.WriteString("- Provide an explanation of why the correct answer is right, not just a restatement of it\n")
	sb.WriteString("- Use the submit_question tool to return the question\n")

	return sb.String()
}

func languageName(code string) string {
	switch strings.ToLower(code) {
	case "en":
		return "English"
	case "fr":
		return "French"
	default:
		return code
	}
}
