package solver

import (
	"context"
	"encoding/base64"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"cartpilot/internal/apperr"
)

type OpenAISolver struct {
	client *openai.Client
	model  string
}

// NewOpenAISolver reads CARTPILOT_OPENAI_KEY or OPENAI_API_KEY. baseURL is for tests.
func NewOpenAISolver(model, baseURL string) (*OpenAISolver, error) {
	key, err := apiKey("CARTPILOT_OPENAI_KEY", "OPENAI_API_KEY")
	if err != nil {
		return nil, err
	}

	cfg := openai.DefaultConfig(key)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT4o
	}

	return &OpenAISolver{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

func (s *OpenAISolver) Solve(ctx context.Context, png []byte) (string, error) {
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     s.model,
		MaxTokens: maxAnswerTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: prompt},
					{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: dataURL, Detail: openai.ImageURLDetailHigh},
					},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: openai: %v", apperr.ErrSolverUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: openai returned no choices", apperr.ErrSolverUnavailable)
	}

	answer := cleanAnswer(resp.Choices[0].Message.Content)
	if answer == "" {
		return "", fmt.Errorf("%w: openai returned an empty answer", apperr.ErrSolverUnavailable)
	}
	return answer, nil
}
