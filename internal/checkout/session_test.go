package checkout

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cartpilot/internal/apperr"
)

func TestTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to State
		ok       bool
	}{
		{Init, DetectPlatform, true},
		{DetectPlatform, Authenticate, true},
		{DetectPlatform, Failed, true},
		{NavigateCheckout, ReAuthenticate, true},
		{NavigateCheckout, AutofillAddress, true},
		{ReAuthenticate, AutofillAddress, true},
		{AutofillAddress, Completed, true},
		{ReAuthenticate, NavigateCheckout, false},
		{ReAuthenticate, ReAuthenticate, false},
		{Init, Authenticate, false},
		{Completed, Failed, false},
		{Failed, Init, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(fmt.Sprintf("%s_to_%s", tt.from, tt.to), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.ok, canTransition(tt.from, tt.to))
		})
	}
}

func TestSessionAdvance(t *testing.T) {
	s := newSession(productURL)
	_, err := uuid.Parse(s.ID)
	require.NoError(t, err)

	require.NoError(t, s.advance(DetectPlatform))
	assert.Error(t, s.advance(Completed))
	assert.Equal(t, DetectPlatform, s.State)
	assert.Equal(t, []State{Init, DetectPlatform}, s.History)
}

func TestStateNames(t *testing.T) {
	assert.Equal(t, "reauthenticate", ReAuthenticate.String())
	assert.Equal(t, "state(42)", State(42).String())
	assert.True(t, Completed.Terminal())
	assert.True(t, Failed.Terminal())
	assert.False(t, AutofillAddress.Terminal())
}

func TestFailure(t *testing.T) {
	f := &Failure{State: NavigateCheckout, URL: cartURL, Err: fmt.Errorf("%w: cart has no items", apperr.ErrCheckoutAborted)}

	assert.Equal(t, "navigate_checkout: checkout aborted: cart has no items (at "+cartURL+")", f.Error())
	assert.ErrorIs(t, f, apperr.ErrCheckoutAborted)
	assert.Equal(t, "checkout_aborted", f.Reason())

	bare := &Failure{State: DetectPlatform, Err: apperr.ErrUnsupportedPlatform}
	assert.Equal(t, "detect_platform: unsupported platform", bare.Error())
}

func TestSessionRecord(t *testing.T) {
	s := newSession(productURL)
	s.Platform = "amazon"
	s.LoginAttempts = 2
	s.Timing.Start("authenticate").End(nil)

	require.NoError(t, s.advance(DetectPlatform))
	require.NoError(t, s.advance(Failed))
	s.Failure = &Failure{State: DetectPlatform, URL: reloginURL, Err: apperr.ErrLoginFailed}

	rec := s.Record(25 * time.Second)
	assert.Equal(t, s.ID, rec.ID)
	assert.Equal(t, "amazon", rec.Platform)
	assert.Equal(t, "failed", rec.State)
	assert.False(t, rec.Success)
	assert.Equal(t, "login_failed", rec.Reason)
	assert.Equal(t, reloginURL, rec.FinalURL)
	assert.Equal(t, 2, rec.LoginTries)
	assert.True(t, rec.MetBudget)
}
