package examauditor

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// ChatCompleter is the single capability this system needs from a model
// provider. *openai.Client satisfies it; tests inject doubles.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// wrapModelError wraps a provider transport error. Rejected credentials and
// unknown models become ConfigError: no retry can fix a dead client.
func wrapModelError(op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return &ConfigError{Reason: fmt.Sprintf("%s: provider rejected credentials: %v", op, err)}
		case http.StatusNotFound:
			return &ConfigError{Reason: fmt.Sprintf("%s: model not available: %v", op, err)}
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// toolArguments extracts the arguments of the expected tool call from a chat
// completion. The models are instructed to answer through a forced tool call,
// so anything else is malformed output.
func toolArguments(resp openai.ChatCompletionResponse, wantTool string) (string, error) {
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response, no choices")
	}
	choice := resp.Choices[0]
	if len(choice.Message.ToolCalls) == 0 {
		return "", fmt.Errorf("no tool calls in response")
	}
	toolCall := choice.Message.ToolCalls[0]
	if toolCall.Function.Name != wantTool {
		return "", fmt.Errorf("unexpected tool call: %s", toolCall.Function.Name)
	}
	return toolCall.Function.Arguments, nil
}

// forcedTool builds the request fragments that make the model answer through a
// single named function call with the given JSON-schema parameters.
func forcedTool(name, description string, parameters map[string]interface{}) ([]openai.Tool, openai.ToolChoice) {
	tools := []openai.Tool{
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        name,
				Description: description,
				Parameters:  parameters,
			},
		},
	}
	choice := openai.ToolChoice{
		Type: openai.ToolTypeFunction,
		Function: openai.ToolFunction{
			Name: name,
		},
	}
	return tools, choice
}

// questionDraftSchema is the JSON schema of the generation tool's question
// payload.
func questionDraftSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"text": map[string]interface{}{
				"type":        "string",
				"description": "The question text",
			},
			"options": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "string",
				},
				"description": "Array of 4 multiple choice options",
			},
			"correct_answer": map[string]interface{}{
				"type":        "integer",
				"description": "0-based index of the correct answer",
			},
			"explanation": map[string]interface{}{
				"type":        "string",
				"description": "Explanation of why the answer is correct",
			},
		},
		"required": []string{"text", "options", "correct_answer", "explanation"},
	}
}
