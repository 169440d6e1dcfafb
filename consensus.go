package examauditor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Judge is one independent judge model.
type Judge struct {
	Name   string
	Client ChatCompleter
	Model  string
}

// JudgeVerdict is one judge's checklist for one draft.
type JudgeVerdict struct {
	Judge         string `json:"judge"`
	LanguageOK    bool   `json:"language_ok"`
	DifficultyOK  bool   `json:"difficulty_ok"`
	CorrectOK     bool   `json:"correct_ok"`
	ExplanationOK bool   `json:"explanation_ok"`
	Rationale     string `json:"rationale"`
}

// Approved reports whether every check on this judge's checklist passed.
func (v JudgeVerdict) Approved() bool {
	return v.LanguageOK && v.DifficultyOK && v.CorrectOK && v.ExplanationOK
}

// ConsensusResult is the combined decision over all judges.
type ConsensusResult struct {
	Approved bool           `json:"approved"`
	Reason   string         `json:"reason"`
	Verdicts []JudgeVerdict `json:"verdicts,omitempty"`
}

// ConsensusValidator accepts a draft only when a local language check and
// every boolean check from every judge pass. A single false anywhere rejects.
type ConsensusValidator struct {
	judges            []Judge
	scorer            LanguageScorer
	languageThreshold float64
	transcript        *TranscriptLog
}

func NewConsensusValidator(judges []Judge, scorer LanguageScorer, languageThreshold float64, transcript *TranscriptLog) *ConsensusValidator {
	return &ConsensusValidator{
		judges:            judges,
		scorer:            scorer,
		languageThreshold: languageThreshold,
		transcript:        transcript,
	}
}

// Validate runs the cheap language check first, then the judge panel. A
// non-nil error means a judge could not be consulted (transport or parse
// failure) and the attempt should be retried, not treated as a verdict.
func (v *ConsensusValidator) Validate(ctx context.Context, candidate *ReplacementCandidate, target ReplacementTarget) (ConsensusResult, error) {
	if target.Language != "" {
		prose := questionProse(candidate.DraftText, candidate.DraftOptions, candidate.DraftExplanation)
		prob := v.scorer.ScoreLanguages(prose)[target.Language]
		if prob < v.languageThreshold {
			return ConsensusResult{
				Approved: false,
				Reason:   fmt.Sprintf("local language check failed: %s probability %.2f below %.2f", target.Language, prob, v.languageThreshold),
			}, nil
		}
	}

	result := ConsensusResult{Approved: true}
	for _, judge := range v.judges {
		verdict, err := v.askJudge(ctx, judge, candidate, target)
		if err != nil {
			return ConsensusResult{}, fmt.Errorf("judge %s: %w", judge.Name, err)
		}
		result.Verdicts = append(result.Verdicts, verdict)
		if !verdict.Approved() {
			result.Approved = false
			if result.Reason == "" {
				result.Reason = fmt.Sprintf("judge %s rejected: %s", judge.Name, verdict.Rationale)
			}
		}
	}
	if result.Approved {
		result.Reason = "all judges approved"
	}
	return result, nil
}

func (v *ConsensusValidator) askJudge(ctx context.Context, judge Judge, candidate *ReplacementCandidate, target ReplacementTarget) (JudgeVerdict, error) {
	prompt := v.buildPrompt(candidate, target)
	v.transcript.LogRequest("ConsensusValidator/"+judge.Name, prompt)

	tools, toolChoice := forcedTool("evaluate_replacement",
		"Evaluate a candidate replacement question against the checklist",
		map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"language_ok": map[string]interface{}{
					"type":        "boolean",
					"description": "The question, options and explanation are written in the required language",
				},
				"difficulty_ok": map[string]interface{}{
					"type":        "boolean",
					"description": "The question matches the required difficulty",
				},
				"correct_ok": map[string]interface{}{
					"type":        "boolean",
					"description": "The marked answer is factually correct and the others are wrong",
				},
				"explanation_ok": map[string]interface{}{
					"type":        "boolean",
					"description": "The explanation genuinely explains why the answer is correct",
				},
				"rationale": map[string]interface{}{
					"type":        "string",
					"description": "One-line justification for the checklist",
				},
			},
			"required": []string{"language_ok", "difficulty_ok", "correct_ok", "explanation_ok", "rationale"},
		})

	resp, err := judge.Client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: judge.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You are an expert validator of multiple choice exam questions. Evaluate the candidate strictly against the checklist.",
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
		return JudgeVerdict{}, wrapModelError("failed to evaluate candidate", err)
	}

	args, err := toolArguments(resp, "evaluate_replacement")
	if err != nil {
		return JudgeVerdict{}, err
	}
	v.transcript.LogResponse("ConsensusValidator/"+judge.Name, args)

	var toolArgs struct {
		LanguageOK    bool   `json:"language_ok"`
		DifficultyOK  bool   `json:"difficulty_ok"`
		CorrectOK     bool   `json:"correct_ok"`
		ExplanationOK bool   `json:"explanation_ok"`
		Rationale     string `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(args), &toolArgs); err != nil {
		return JudgeVerdict{}, fmt.Errorf("failed to parse tool arguments: %w", err)
	}

	return JudgeVerdict{
		Judge:         judge.Name,
		LanguageOK:    toolArgs.LanguageOK,
		DifficultyOK:  toolArgs.DifficultyOK,
		CorrectOK:     toolArgs.CorrectOK,
		ExplanationOK: toolArgs.ExplanationOK,
		Rationale:     toolArgs.Rationale,
	}, nil
}

func (v *ConsensusValidator) buildPrompt(candidate *ReplacementCandidate, target ReplacementTarget) string {
	var sb strings.Builder

	sb.WriteString("Candidate replacement question:\n\n")
	sb.WriteString(fmt.Sprintf("Question: %s\n", candidate.DraftText))
	sb.WriteString("Options:\n")
	for i, option := range candidate.DraftOptions {
		marker := " "
		if i == candidate.DraftCorrectIndex {
			marker = "*"
		}
		sb.WriteString(fmt.Sprintf("%s%d. %s\n", marker, i+1, option))
	}
	sb.WriteString(fmt.Sprintf("Explanation: %s\n\n", candidate.DraftExplanation))

	sb.WriteString("Requirements:\n")
	sb.WriteString(fmt.Sprintf("- Exam type: %s, category: %s", target.ExamType, target.Category))
	if target.SubCategory != "" {
		sb.WriteString(fmt.Sprintf(", sub-category: %s", target.SubCategory))
	}
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("- Difficulty: %s\n", target.Difficulty))
	if target.Language != "" {
		sb.WriteString(fmt.Sprintf("- Language: %s\n", languageName(target.Language)))
	}
	sb.WriteString("\n")

	sb.WriteString("Evaluate each checklist item independently. Mark an item false on any doubt.\n")
	sb.WriteString("Use the evaluate_replacement tool to answer.")

	return sb.String()
}
