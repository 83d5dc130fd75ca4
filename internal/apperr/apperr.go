// Package apperr holds the failure taxonomy shared by every checkout component.
package apperr

import (
	"context"
	"errors"
)

var (
	ErrUnsupportedPlatform    = errors.New("unsupported platform")
	ErrNavigationFailed       = errors.New("navigation failed")
	ErrActionNotFound         = errors.New("action not found")
	ErrLoginFailed            = errors.New("login failed")
	ErrChallengeUnresolved    = errors.New("challenge unresolved")
	ErrCartVerificationFailed = errors.New("cart verification failed")
	ErrCheckoutAborted        = errors.New("checkout aborted")
	ErrUnexpectedTerminalURL  = errors.New("unexpected terminal url")
	ErrSolverUnavailable      = errors.New("solver unavailable")
)

// Kind maps an error to a stable reason code for reports and exit messages.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""

	case errors.Is(err, ErrUnsupportedPlatform):
		return "unsupported_platform"

	case errors.Is(err, ErrNavigationFailed):
		return "navigation_failed"

	case errors.Is(err, ErrActionNotFound):
		return "action_not_found"

	case errors.Is(err, ErrLoginFailed):
		return "login_failed"

	case errors.Is(err, ErrChallengeUnresolved):
		return "challenge_unresolved"

	case errors.Is(err, ErrCartVerificationFailed):
		return "cart_verification_failed"

	case errors.Is(err, ErrCheckoutAborted):
		return "checkout_aborted"

	case errors.Is(err, ErrUnexpectedTerminalURL):
		return "unexpected_terminal_url"

	case errors.Is(err, ErrSolverUnavailable):
		return "solver_unavailable"

	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"

	case errors.Is(err, context.Canceled):
		return "canceled"

	default:
		return "internal"
	}
}

// Soft reports whether a failure only degrades confidence rather than ending the session.
func Soft(err error) bool {
	return errors.Is(err, ErrCartVerificationFailed)
}
