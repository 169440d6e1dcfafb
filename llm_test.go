package examauditor

import (
	"context"
	"sync"

	openai "github.com/sashabaranov/go-openai"
)

// fakeCompleter scripts chat completion responses and counts calls, so tests
// can assert that no network call happens on local-rejection paths.
type fakeCompleter struct {
	mu        sync.Mutex
	calls     int
	responses []openai.ChatCompletionResponse
	errs      []error
}

func (f *fakeCompleter) CreateChatCompletion(_ context.Context, _ openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	var resp openai.ChatCompletionResponse
	var err error
	if i < len(f.responses) {
		resp = f.responses[i]
	} else if len(f.responses) > 0 {
		resp = f.responses[len(f.responses)-1]
	}
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return resp, err
}

func (f *fakeCompleter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// toolResponse builds a completion answering through the named tool call.
func toolResponse(tool, arguments string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{
				Message: openai.ChatCompletionMessage{
					ToolCalls: []openai.ToolCall{
						{
							Type: openai.ToolTypeFunction,
							Function: openai.FunctionCall{
								Name:      tool,
								Arguments: arguments,
							},
						},
					},
				},
			},
		},
	}
}

// fixedScorer returns the same language probabilities for any text.
type fixedScorer map[string]float64

func (s fixedScorer) ScoreLanguages(string) map[string]float64 { return s }
