// Package solver reads inline challenge images with a hosted vision model.
package solver

import (
	"fmt"
	"os"
	"strings"
	"unicode"

	"cartpilot/internal/apperr"
	"cartpilot/internal/challenge"
)

const prompt = "Read the text or numbers in this captcha image. Reply with only the answer."

// maxAnswerTokens keeps replies to the answer itself.
const maxAnswerTokens = 16

// New returns the solver for provider, or nil when provider is empty or "none".
func New(provider, model string) (challenge.Solver, error) {
	switch strings.ToLower(provider) {
	case "", "none":
		return nil, nil
	case "claude", "anthropic":
		s, err := NewClaudeSolver(model, "")
		if err != nil {
			return nil, err
		}
		return s, nil
	case "openai", "gpt":
		s, err := NewOpenAISolver(model, "")
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown solver provider: %s (supported: claude, openai)", provider)
	}
}

func apiKey(envs ...string) (string, error) {
	for _, e := range envs {
		if v := os.Getenv(e); v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: %s environment variable required", apperr.ErrSolverUnavailable, strings.Join(envs, " or "))
}

// cleanAnswer keeps the first line of the reply and drops quotes, spaces and punctuation
// models like to wrap answers in.
func cleanAnswer(reply string) string {
	line := strings.TrimSpace(reply)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimPrefix(strings.TrimPrefix(line, "Answer:"), "answer:")
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return -1
	}, line)
}
