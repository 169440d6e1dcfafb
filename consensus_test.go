package examauditor

import (
	"context"
	"fmt"
	"testing"

	openai "github.com/sashabaranov/go-openai"
)

func goodCandidate() *ReplacementCandidate {
	return &ReplacementCandidate{
		QuestionID:        "q1",
		DraftText:         "Quelle année marque l'indépendance de la Côte d'Ivoire ?",
		DraftOptions:      []string{"1960", "1958", "1963", "1971"},
		DraftCorrectIndex: 0,
		DraftExplanation:  "La Côte d'Ivoire a proclamé son indépendance le 7 août 1960.",
		TargetCategory:    "Histoire",
		TargetDifficulty:  "medium",
	}
}

func verdictArgs(lang, diff, correct, expl bool) string {
	return fmt.Sprintf(
		`{"language_ok":%t,"difficulty_ok":%t,"correct_ok":%t,"explanation_ok":%t,"rationale":"checked"}`,
		lang, diff, correct, expl)
}

func TestValidateLanguageFastRejectSkipsJudges(t *testing.T) {
	judgeClient := &fakeCompleter{responses: []openai.ChatCompletionResponse{
		toolResponse("evaluate_replacement", verdictArgs(true, true, true, true)),
	}}
	v := NewConsensusValidator(
		[]Judge{{Name: "j1", Client: judgeClient, Model: "gpt-4o"}},
		fixedScorer{"fr": 0.10, "en": 0.90},
		0.60, nil)

	result, err := v.Validate(context.Background(), goodCandidate(), testTarget())
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if result.Approved {
		t.Error("expected rejection from local language check")
	}
	if judgeClient.callCount() != 0 {
		t.Errorf("expected no judge calls after local reject, got %d", judgeClient.callCount())
	}
}

func TestValidateApprovesWhenEveryCheckTrue(t *testing.T) {
	j1 := &fakeCompleter{responses: []openai.ChatCompletionResponse{
		toolResponse("evaluate_replacement", verdictArgs(true, true, true, true)),
	}}
	j2 := &fakeCompleter{responses: []openai.ChatCompletionResponse{
		toolResponse("evaluate_replacement", verdictArgs(true, true, true, true)),
	}}
	v := NewConsensusValidator(
		[]Judge{
			{Name: "j1", Client: j1, Model: "gpt-4o"},
			{Name: "j2", Client: j2, Model: "gpt-4o-mini"},
		},
		fixedScorer{"fr": 0.99}, 0.60, nil)

	result, err := v.Validate(context.Background(), goodCandidate(), testTarget())
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if !result.Approved {
		t.Errorf("expected approval, got rejection: %s", result.Reason)
	}
	if j1.callCount() != 1 || j2.callCount() != 1 {
		t.Error("every judge should be consulted exactly once")
	}
}

func TestValidateAnySingleFalseRejects(t *testing.T) {
	// Flip each boolean of each judge in turn; any single false must reject.
	for judgeIdx := 0; judgeIdx < 2; judgeIdx++ {
		for flipped := 0; flipped < 4; flipped++ {
			name := fmt.Sprintf("judge%d_check%d", judgeIdx, flipped)
			t.Run(name, func(t *testing.T) {
				checks := [2][4]bool{{true, true, true, true}, {true, true, true, true}}
				checks[judgeIdx][flipped] = false

				judges := make([]Judge, 2)
				for i := range judges {
					c := checks[i]
					judges[i] = Judge{
						Name:  fmt.Sprintf("j%d", i),
						Model: "gpt-4o",
						Client: &fakeCompleter{responses: []openai.ChatCompletionResponse{
							toolResponse("evaluate_replacement", verdictArgs(c[0], c[1], c[2], c[3])),
						}},
					}
				}
				v := NewConsensusValidator(judges, fixedScorer{"fr": 0.99}, 0.60, nil)

				result, err := v.Validate(context.Background(), goodCandidate(), testTarget())
				if err != nil {
					t.Fatalf("Validate returned error: %v", err)
				}
				if result.Approved {
					t.Error("a single false check must reject the candidate")
				}
			})
		}
	}
}

func TestValidateJudgeParseFailureIsError(t *testing.T) {
	j := &fakeCompleter{responses: []openai.ChatCompletionResponse{
		toolResponse("evaluate_replacement", "not json"),
	}}
	v := NewConsensusValidator(
		[]Judge{{Name: "j1", Client: j, Model: "gpt-4o"}},
		fixedScorer{"fr": 0.99}, 0.60, nil)

	_, err := v.Validate(context.Background(), goodCandidate(), testTarget())
	if err == nil {
		t.Fatal("parse failure must surface as an error, not a verdict")
	}
}

func TestValidateNoLanguageExpectationSkipsFastReject(t *testing.T) {
	j := &fakeCompleter{responses: []openai.ChatCompletionResponse{
		toolResponse("evaluate_replacement", verdictArgs(true, true, true, true)),
	}}
	v := NewConsensusValidator(
		[]Judge{{Name: "j1", Client: j, Model: "gpt-4o"}},
		fixedScorer{}, 0.60, nil)

	target := testTarget()
	target.Language = ""
	result, err := v.Validate(context.Background(), goodCandidate(), target)
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if !result.Approved {
		t.Errorf("expected approval, got %s", result.Reason)
	}
}

func TestValidateJudgeRejectedCredentialsAreFatal(t *testing.T) {
	j := &fakeCompleter{errs: []error{&openai.APIError{HTTPStatusCode: 401, Message: "Incorrect API key provided"}}}
	v := NewConsensusValidator(
		[]Judge{{Name: "j1", Client: j, Model: "gpt-4o"}},
		fixedScorer{"fr": 0.99}, 0.60, nil)

	_, err := v.Validate(context.Background(), goodCandidate(), testTarget())
	if !IsFatal(err) {
		t.Fatalf("expected fatal ConfigError, got %v", err)
	}
}
