// Package challenge detects interactive verification challenges (captchas) on a
// page and drives them to a resolution: machine-solved, human-confirmed, skipped
// or unresolved. It never fails a checkout by itself; callers decide what an
// unresolved challenge means for their step.
package challenge

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"cartpilot/internal/driver"
	"cartpilot/internal/interactive"
	"cartpilot/internal/locale"
	"cartpilot/internal/selector"
)

const (
	// DefaultManualCap bounds how long a human is waited for.
	DefaultManualCap = 5 * time.Minute
	// DefaultSolverTimeout bounds a single solver call.
	DefaultSolverTimeout = 30 * time.Second
)

type Kind int

const (
	// Inline challenges render an image next to a text input.
	Inline Kind = iota + 1
	// Widget challenges run inside a third-party frame and need a human.
	Widget
)

func (k Kind) String() string {
	switch k {
	case Inline:
		return "inline"
	case Widget:
		return "widget"
	default:
		return "none"
	}
}

// Descriptor is the result of one probe.
type Descriptor struct {
	Detected bool
	Kind     Kind
	Locator  driver.Locator
	// Frame is the iframe src that matched, when detection came from the frame scan.
	Frame string
}

type Resolution int

const (
	Clear Resolution = iota
	Solved
	Confirmed
	Skipped
	Unresolved
)

func (r Resolution) String() string {
	switch r {
	case Clear:
		return "clear"
	case Solved:
		return "solved"
	case Confirmed:
		return "confirmed"
	case Skipped:
		return "skipped"
	case Unresolved:
		return "unresolved"
	default:
		return "unknown"
	}
}

// Cleared reports whether the page is believed to be free of the challenge.
func (r Resolution) Cleared() bool {
	return r == Clear || r == Solved || r == Confirmed
}

// Solver reads an inline challenge image and returns the answer text.
type Solver interface {
	Solve(ctx context.Context, png []byte) (string, error)
}

type probe struct {
	locator driver.Locator
	kind    Kind
}

// battery is checked in order; the first present locator wins.
var battery = []probe{
	{`img[src*="captcha"]`, Inline},
	{`[id*="captcha"]`, Inline},
	{`[class*="captcha"]`, Inline},
	{`iframe[src*="recaptcha"]`, Widget},
	{".g-recaptcha", Widget},
	{`[data-testid="captcha"]`, Inline},
	{`canvas[class*="captcha"]`, Inline},
	{`div[class*="captcha"]`, Inline},
	{`img[alt*="captcha"]`, Inline},
	{`img[alt*="verification"]`, Inline},
}

// widgetFrames are iframe src fragments of hosted challenge widgets.
var widgetFrames = []string{
	"recaptcha",
	"hcaptcha",
	"arkoselabs",
	"funcaptcha",
	"turnstile",
	"captcha",
}

type Options struct {
	Engine    *selector.Engine
	Solver    Solver
	Confirmer interactive.Confirmer
	// Input is where inline answers are typed.
	Input         selector.ActionSpec
	ManualCap     time.Duration
	SolverTimeout time.Duration
	// Out receives the prompts shown to the user. Defaults to stdout.
	Out    io.Writer
	Logger *zap.Logger
}

// Coordinator owns challenge handling for one session.
type Coordinator struct {
	engine        *selector.Engine
	solver        Solver
	confirmer     interactive.Confirmer
	input         selector.ActionSpec
	manualCap     time.Duration
	solverTimeout time.Duration
	out           io.Writer
	logger        *zap.Logger
}

func NewCoordinator(opts Options) *Coordinator {
	c := &Coordinator{
		engine:        opts.Engine,
		solver:        opts.Solver,
		confirmer:     opts.Confirmer,
		input:         opts.Input.WithKind(driver.Type),
		manualCap:     opts.ManualCap,
		solverTimeout: opts.SolverTimeout,
		out:           opts.Out,
		logger:        opts.Logger,
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	c.logger = c.logger.Named("challenge")
	if c.engine == nil {
		c.engine = selector.NewEngine(c.logger)
	}
	if c.confirmer == nil {
		c.confirmer = interactive.NonInteractive{}
	}
	if c.manualCap <= 0 {
		c.manualCap = DefaultManualCap
	}
	if c.solverTimeout <= 0 {
		c.solverTimeout = DefaultSolverTimeout
	}
	if c.out == nil {
		c.out = os.Stdout
	}
	return c
}

// Probe inspects the current page without changing it.
func (c *Coordinator) Probe(ctx context.Context, page driver.Page) Descriptor {
	for _, p := range battery {
		ok, err := page.Exists(ctx, p.locator)
		if err != nil || !ok {
			continue
		}
		return Descriptor{Detected: true, Kind: p.kind, Locator: p.locator}
	}

	html, err := page.HTML(ctx)
	if err != nil || html == "" {
		return Descriptor{}
	}
	if src, ok := scanFrames(html); ok {
		return Descriptor{Detected: true, Kind: Widget, Locator: "iframe", Frame: src}
	}
	return Descriptor{}
}

func scanFrames(html string) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", false
	}
	var found string
	doc.Find("iframe[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src, _ := s.Attr("src")
		lower := strings.ToLower(src)
		for _, sig := range widgetFrames {
			if strings.Contains(lower, sig) {
				found = src
				return false
			}
		}
		return true
	})
	return found, found != ""
}

// Resolve drives desc to a resolution within budget. It never returns an error.
func (c *Coordinator) Resolve(ctx context.Context, page driver.Page, desc Descriptor, budget time.Duration) Resolution {
	if !desc.Detected {
		return Clear
	}

	c.logger.Info("challenge detected",
		zap.Stringer("kind", desc.Kind),
		zap.String("locator", string(desc.Locator)),
		zap.String("frame", desc.Frame))

	if desc.Kind == Inline && c.solver != nil {
		if c.solveInline(ctx, page, desc, budget) {
			return Solved
		}
	}
	return c.manual(ctx, budget)
}

// ProbeAndResolve is the step-boundary check: probe once and resolve what was found.
func (c *Coordinator) ProbeAndResolve(ctx context.Context, page driver.Page, budget time.Duration) (Descriptor, Resolution) {
	desc := c.Probe(ctx, page)
	return desc, c.Resolve(ctx, page, desc, budget)
}

// solveInline spends at most min(solverTimeout, budget) waiting on the solver.
func (c *Coordinator) solveInline(ctx context.Context, page driver.Page, desc Descriptor, budget time.Duration) bool {
	if c.input.Empty() {
		return false
	}
	png, err := page.Screenshot(ctx, desc.Locator)
	if err != nil {
		c.logger.Warn("challenge screenshot failed", zap.Error(err))
		return false
	}
	limit := c.solverTimeout
	if budget > 0 && budget < limit {
		limit = budget
	}
	sctx, cancel := context.WithTimeout(ctx, limit)
	answer, err := c.solver.Solve(sctx, png)
	cancel()
	if err != nil || answer == "" {
		c.logger.Warn("solver gave no answer", zap.Error(err))
		return false
	}
	if _, err := c.engine.Resolve(ctx, page, c.input, answer); err != nil {
		c.logger.Warn("could not enter challenge answer", zap.Error(err))
		return false
	}
	c.logger.Info("challenge answered by solver")
	return true
}

func (c *Coordinator) manual(ctx context.Context, budget time.Duration) Resolution {
	if !c.confirmer.Interactive() {
		c.logger.Warn("challenge needs a human but no terminal is attached")
		fmt.Fprintln(c.out, locale.T("challenge_skipped"))
		return Skipped
	}

	wait := c.manualCap
	if budget > 0 && budget < wait {
		wait = budget
	}

	fmt.Fprintln(c.out, locale.T("challenge_manual_header"))
	ok, err := c.confirmer.Confirm(ctx, locale.T("challenge_manual_prompt", int(wait.Seconds())), wait)
	if err != nil {
		c.logger.Warn("confirmation failed", zap.Error(err))
		return Unresolved
	}
	if !ok {
		return Unresolved
	}
	return Confirmed
}
