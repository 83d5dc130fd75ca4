// Package selector resolves a logical UI action against whichever DOM variant the
// current page happens to render.
package selector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"cartpilot/internal/apperr"
	"cartpilot/internal/driver"
)

// DefaultCandidateTimeout bounds the wait on a single locator candidate.
const DefaultCandidateTimeout = 2 * time.Second

// ActionSpec binds a named action to ordered locator candidates. Earlier candidates
// are preferred; the order is part of the data.
type ActionSpec struct {
	Name       string
	Candidates []driver.Locator
	Timeout    time.Duration
	Kind       driver.Kind
}

// Empty reports whether the spec has nothing to try.
func (s ActionSpec) Empty() bool { return len(s.Candidates) == 0 }

// WithKind returns a copy of s performing kind instead.
func (s ActionSpec) WithKind(kind driver.Kind) ActionSpec {
	s.Kind = kind
	return s
}

func (s ActionSpec) candidateTimeout() time.Duration {
	if s.Timeout <= 0 {
		return DefaultCandidateTimeout
	}
	return s.Timeout
}

// Result describes the candidate that matched and what the interaction produced.
type Result struct {
	Action  string
	Locator driver.Locator
	Index   int
	driver.Interaction
}

// NotFoundError is returned when no candidate matched within its timeout.
type NotFoundError struct {
	Action     string
	Candidates []driver.Locator
}

func (e *NotFoundError) Error() string {
	parts := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		parts[i] = string(c)
	}
	return fmt.Sprintf("%s: no candidate matched [%s]", e.Action, strings.Join(parts, ", "))
}

func (e *NotFoundError) Is(target error) bool { return target == apperr.ErrActionNotFound }

// Engine runs the ordered fallback policy.
type Engine struct {
	logger *zap.Logger
}

func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger.Named("selector")}
}

// Resolve tries spec's candidates in order and performs the interaction on the first
// one that materializes. Once a candidate matched, its interaction error is returned
// as is; later candidates are never tried in the same call.
func (e *Engine) Resolve(ctx context.Context, page driver.Page, spec ActionSpec, payload string) (Result, error) {
	timeout := spec.candidateTimeout()

	for i, candidate := range spec.Candidates {
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("%s: %w", spec.Name, err)
		}

		started := time.Now()
		got, err := page.Interact(ctx, candidate, spec.Kind, timeout, payload)
		if errors.Is(err, driver.ErrNotFound) {
			e.logger.Debug("candidate missed",
				zap.String("action", spec.Name),
				zap.String("locator", string(candidate)),
				zap.Duration("waited", time.Since(started)))
			continue
		}
		if err != nil {
			return Result{}, fmt.Errorf("%s via %s: %w", spec.Name, candidate, err)
		}

		e.logger.Debug("candidate matched",
			zap.String("action", spec.Name),
			zap.String("locator", string(candidate)),
			zap.Int("index", i),
			zap.Stringer("kind", spec.Kind))

		return Result{
			Action:      spec.Name,
			Locator:     candidate,
			Index:       i,
			Interaction: got,
		}, nil
	}

	return Result{}, &NotFoundError{Action: spec.Name, Candidates: spec.Candidates}
}

// FirstPresent returns the first locator that currently exists, without waiting.
func FirstPresent(ctx context.Context, page driver.Page, candidates []driver.Locator) (driver.Locator, bool) {
	for _, c := range candidates {
		ok, err := page.Exists(ctx, c)
		if err == nil && ok {
			return c, true
		}
	}
	return "", false
}
