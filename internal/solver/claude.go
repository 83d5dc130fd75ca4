package solver

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"cartpilot/internal/apperr"
)

type ClaudeSolver struct {
	client *anthropic.Client
	model  string
}

// NewClaudeSolver reads CARTPILOT_ANTHROPIC_KEY or ANTHROPIC_API_KEY. baseURL is for tests.
func NewClaudeSolver(model, baseURL string) (*ClaudeSolver, error) {
	key, err := apiKey("CARTPILOT_ANTHROPIC_KEY", "ANTHROPIC_API_KEY")
	if err != nil {
		return nil, err
	}

	opts := []option.RequestOption{option.WithAPIKey(key), option.WithMaxRetries(1)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL), option.WithMaxRetries(0))
	}
	client := anthropic.NewClient(opts...)

	if model == "" {
		model = string(anthropic.ModelClaudeSonnet4_20250514)
	}

	return &ClaudeSolver{client: &client, model: model}, nil
}

func (s *ClaudeSolver) Solve(ctx context.Context, png []byte) (string, error) {
	resp, err := s.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: maxAnswerTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64("image/png", base64.StdEncoding.EncodeToString(png)),
				anthropic.NewTextBlock(prompt),
			),
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: claude: %v", apperr.ErrSolverUnavailable, err)
	}

	for _, block := range resp.Content {
		if block.Type == "text" {
			if answer := cleanAnswer(block.Text); answer != "" {
				return answer, nil
			}
		}
	}
	return "", fmt.Errorf("%w: claude returned an empty answer", apperr.ErrSolverUnavailable)
}
