package checkout

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"cartpilot/internal/apperr"
	"cartpilot/internal/challenge"
	"cartpilot/internal/platform"
	"cartpilot/internal/timing"
)

type State int

const (
	Init State = iota
	DetectPlatform
	Authenticate
	LoadProduct
	AddToCart
	VerifyCart
	NavigateCheckout
	ReAuthenticate
	AutofillAddress
	Completed
	Failed
)

var stateNames = map[State]string{
	Init:             "init",
	DetectPlatform:   "detect_platform",
	Authenticate:     "authenticate",
	LoadProduct:      "load_product",
	AddToCart:        "add_to_cart",
	VerifyCart:       "verify_cart",
	NavigateCheckout: "navigate_checkout",
	ReAuthenticate:   "reauthenticate",
	AutofillAddress:  "autofill_address",
	Completed:        "completed",
	Failed:           "failed",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) Terminal() bool { return s == Completed || s == Failed }

// transitions lists the legal successors of each state. ReAuthenticate is the only
// backwards edge and is reachable once from NavigateCheckout.
var transitions = map[State][]State{
	Init:             {DetectPlatform},
	DetectPlatform:   {Authenticate, Failed},
	Authenticate:     {LoadProduct, Failed},
	LoadProduct:      {AddToCart, Failed},
	AddToCart:        {VerifyCart, Failed},
	VerifyCart:       {NavigateCheckout, Failed},
	NavigateCheckout: {ReAuthenticate, AutofillAddress, Failed},
	ReAuthenticate:   {AutofillAddress, Failed},
	AutofillAddress:  {Completed, Failed},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// StepOutcome is what one state produced.
type StepOutcome struct {
	State   State
	Success bool
	Err     error
	// Soft marks a failure that was logged and the flow continued past.
	Soft    bool
	Payload string
	Elapsed time.Duration
}

// ChallengeEvent records one probe at a step boundary.
type ChallengeEvent struct {
	State      State
	Kind       challenge.Kind
	Resolution challenge.Resolution
}

// Failure is the terminal error of a failed session.
type Failure struct {
	State State
	URL   string
	Err   error
}

func (f *Failure) Error() string {
	if f.URL != "" {
		return fmt.Sprintf("%s: %v (at %s)", f.State, f.Err, f.URL)
	}
	return fmt.Sprintf("%s: %v", f.State, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Reason is the stable reason code of the failure.
func (f *Failure) Reason() string { return apperr.Kind(f.Err) }

// Session is the state of one checkout attempt. It is owned by a single Run call.
type Session struct {
	ID            string
	TargetURL     string
	Platform      platform.ID
	ProductID     string
	State         State
	History       []State
	StartedAt     time.Time
	FinishedAt    time.Time
	LoginAttempts int
	Outcomes      []StepOutcome
	Challenges    []ChallengeEvent
	CheckoutURL   string
	Failure       *Failure
	Timing        *timing.Recorder
}

func newSession(targetURL string) *Session {
	return &Session{
		ID:        uuid.NewString(),
		TargetURL: targetURL,
		State:     Init,
		History:   []State{Init},
		StartedAt: time.Now(),
		Timing:    timing.NewRecorder(),
	}
}

func (s *Session) advance(next State) error {
	if !canTransition(s.State, next) {
		return fmt.Errorf("illegal transition %s -> %s", s.State, next)
	}
	s.State = next
	s.History = append(s.History, next)
	return nil
}

// Succeeded reports whether the session reached Completed.
func (s *Session) Succeeded() bool { return s.State == Completed }

// Outcome returns the last recorded outcome of state.
func (s *Session) Outcome(state State) (StepOutcome, bool) {
	for i := len(s.Outcomes) - 1; i >= 0; i-- {
		if s.Outcomes[i].State == state {
			return s.Outcomes[i], true
		}
	}
	return StepOutcome{}, false
}

// Record flattens the session for the history store.
func (s *Session) Record(target time.Duration) timing.SessionRecord {
	rep := s.Timing.Report(target)
	rec := timing.SessionRecord{
		ID:         s.ID,
		Platform:   string(s.Platform),
		ProductURL: s.TargetURL,
		State:      s.State.String(),
		Success:    s.Succeeded(),
		FinalURL:   s.CheckoutURL,
		StartedAt:  s.StartedAt,
		Total:      rep.Total(),
		MetBudget:  rep.MetBudget(),
		LoginTries: s.LoginAttempts,
	}
	if s.Failure != nil {
		rec.Reason = s.Failure.Reason()
		rec.FinalURL = s.Failure.URL
	}
	return rec
}
