// Package checkout drives one purchase attempt from a product URL to the
// store's checkout page.
//
// The flow is a linear state machine:
//
//	Init -> DetectPlatform -> Authenticate -> LoadProduct -> AddToCart ->
//	VerifyCart -> NavigateCheckout -> [ReAuthenticate] -> AutofillAddress ->
//	Completed | Failed
//
// Every state either advances or fails the session. The only backwards edge is
// a single re-authentication when the checkout click lands on a login page.
package checkout

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"cartpilot/internal/apperr"
	"cartpilot/internal/challenge"
	"cartpilot/internal/config"
	"cartpilot/internal/driver"
	"cartpilot/internal/interactive"
	"cartpilot/internal/locale"
	"cartpilot/internal/platform"
	"cartpilot/internal/selector"
)

// Policy holds the switches for failures whose severity is a judgement call.
type Policy struct {
	// AddToCartMissingFatal fails the session when no add-to-cart control matched.
	AddToCartMissingFatal bool
	// CartVerificationFatal fails the session when the cart shows no evidence of the item.
	CartVerificationFatal bool
}

func DefaultPolicy() Policy {
	return Policy{AddToCartMissingFatal: true}
}

// Timeouts bound navigation and the fixed settle pauses between steps.
// Zero settle values skip the pause.
type Timeouts struct {
	Navigation      time.Duration
	LoginNavigation time.Duration
	AddressFormWait time.Duration
	SettleShort     time.Duration
	SettleLong      time.Duration
	ChallengeBudget time.Duration
	ManualCap       time.Duration
	SolverCall      time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Navigation:      8 * time.Second,
		LoginNavigation: 15 * time.Second,
		AddressFormWait: 5 * time.Second,
		SettleShort:     200 * time.Millisecond,
		SettleLong:      time.Second,
		ChallengeBudget: 2 * time.Minute,
		ManualCap:       challenge.DefaultManualCap,
		SolverCall:      challenge.DefaultSolverTimeout,
	}
}

// CredentialSource returns the login for a platform.
type CredentialSource func(platform.ID) config.Credentials

type Options struct {
	Registry    *platform.Registry
	Launcher    driver.Launcher
	Engine      *selector.Engine
	Solver      challenge.Solver
	Confirmer   interactive.Confirmer
	Credentials CredentialSource
	Address     config.Address
	Policy      Policy
	Timeouts    Timeouts
	// Hold runs between Authenticate and LoadProduct, signed in and off the clock.
	// A sale scheduler uses it to wait for the sale to open.
	Hold func(ctx context.Context) error
	// BeforeClose runs with the page still open after the flow ends.
	BeforeClose func(ctx context.Context, s *Session)
	Out         io.Writer
	Logger      *zap.Logger
}

type Orchestrator struct {
	registry    *platform.Registry
	launcher    driver.Launcher
	engine      *selector.Engine
	solver      challenge.Solver
	confirmer   interactive.Confirmer
	credentials CredentialSource
	address     config.Address
	policy      Policy
	timeouts    Timeouts
	hold        func(ctx context.Context) error
	beforeClose func(ctx context.Context, s *Session)
	out         io.Writer
	logger      *zap.Logger
}

func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		registry:    opts.Registry,
		launcher:    opts.Launcher,
		engine:      opts.Engine,
		solver:      opts.Solver,
		confirmer:   opts.Confirmer,
		credentials: opts.Credentials,
		address:     opts.Address,
		policy:      opts.Policy,
		timeouts:    opts.Timeouts,
		hold:        opts.Hold,
		beforeClose: opts.BeforeClose,
		out:         opts.Out,
		logger:      opts.Logger,
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	o.logger = o.logger.Named("checkout")
	if o.registry == nil {
		o.registry = platform.NewRegistry(nil, 0)
	}
	if o.engine == nil {
		o.engine = selector.NewEngine(o.logger)
	}
	if o.confirmer == nil {
		o.confirmer = interactive.NonInteractive{}
	}
	if o.credentials == nil {
		o.credentials = func(id platform.ID) config.Credentials { return config.LoadCredentials(string(id)) }
	}
	if o.out == nil {
		o.out = os.Stdout
	}
	return o
}

// Run executes one session. The returned Session is never nil; err is a *Failure
// when the session did not complete.
func (o *Orchestrator) Run(ctx context.Context, productURL string) (sess *Session, err error) {
	sess = newSession(productURL)
	log := o.logger.With(zap.String("session", sess.ID))

	o.enter(sess, DetectPlatform)
	span := sess.Timing.Start(DetectPlatform.String())
	plat, err := o.registry.ResolveURL(productURL)
	elapsed := span.End(err)
	if err != nil {
		sess.Outcomes = append(sess.Outcomes, StepOutcome{State: DetectPlatform, Err: err, Elapsed: elapsed})
		return sess, o.fail(sess, DetectPlatform, "", err)
	}
	sess.Platform = plat.ID
	sess.Outcomes = append(sess.Outcomes, StepOutcome{State: DetectPlatform, Success: true, Payload: string(plat.ID), Elapsed: elapsed})
	sess.ProductID, _ = platform.ProductID(productURL, plat.ID)
	o.say("platform_detected", plat.ID)
	if sess.ProductID != "" {
		o.say("product_id", sess.ProductID)
	}
	log.Info("platform detected", zap.String("platform", string(plat.ID)), zap.String("product_id", sess.ProductID))

	span = sess.Timing.Start("launch_browser")
	page, err := o.launcher.Launch(ctx)
	span.End(err)
	if err != nil {
		return sess, o.fail(sess, DetectPlatform, "", fmt.Errorf("launch browser: %w", err))
	}

	r := &run{
		o:    o,
		sess: sess,
		plat: plat,
		page: page,
		log:  log,
		chal: challenge.NewCoordinator(challenge.Options{
			Engine:        o.engine,
			Solver:        o.solver,
			Confirmer:     o.confirmer,
			Input:         plat.Action(platform.ActionCaptchaInput),
			ManualCap:     o.timeouts.ManualCap,
			SolverTimeout: o.timeouts.SolverCall,
			Out:           o.out,
			Logger:        log,
		}),
	}

	defer func() {
		if p := recover(); p != nil {
			log.Error("checkout panicked", zap.Any("panic", p), zap.Stack("stack"))
			url, _ := page.CurrentURL(context.Background())
			err = o.fail(sess, sess.State, url, fmt.Errorf("internal error: %v", p))
		}
		if o.beforeClose != nil {
			o.beforeClose(ctx, sess)
		}
		if cerr := page.Close(); cerr != nil {
			log.Debug("page close failed", zap.Error(cerr))
		}
	}()

	return sess, r.execute(ctx)
}

func (o *Orchestrator) say(key string, args ...any) {
	fmt.Fprintln(o.out, locale.T(key, args...))
}

func (o *Orchestrator) enter(s *Session, next State) {
	if err := s.advance(next); err != nil {
		o.logger.DPanic("state machine violated", zap.Error(err))
	}
}

// fail moves the session to Failed and returns the terminal *Failure.
func (o *Orchestrator) fail(s *Session, at State, url string, err error) error {
	f := &Failure{State: at, URL: url, Err: err}
	if !s.State.Terminal() {
		o.enter(s, Failed)
	}
	s.Failure = f
	s.FinishedAt = time.Now()
	o.logger.Warn("checkout failed",
		zap.String("session", s.ID),
		zap.Stringer("state", at),
		zap.String("reason", apperr.Kind(err)),
		zap.String("url", url),
		zap.Error(err))
	return f
}
