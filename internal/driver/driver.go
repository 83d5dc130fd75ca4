// Package driver defines the page automation capability the checkout flow consumes.
//
// The flow never talks to a browser directly. Everything it needs from a live page
// goes through Page, which keeps the orchestration testable with scripted fakes and
// lets the rod-backed implementation in internal/browser own all browser concerns.
package driver

import (
	"context"
	"errors"
	"time"
)

// Locator is an opaque selector understood by the Page implementation.
type Locator string

// Kind is the interaction performed once a locator matches.
type Kind int

const (
	// Click dispatches a single left click.
	Click Kind = iota
	// ClickNavigate clicks and waits for the navigation that click causes.
	ClickNavigate
	// Type clears the field and writes the payload.
	Type
	// ReadText returns the element's text content.
	ReadText
	// CountExists reports how many elements matched.
	CountExists
)

func (k Kind) String() string {
	switch k {
	case Click:
		return "click"
	case ClickNavigate:
		return "click_navigate"
	case Type:
		return "type"
	case ReadText:
		return "read_text"
	case CountExists:
		return "count_exists"
	default:
		return "unknown"
	}
}

// ErrNotFound is returned by Interact when nothing matched within the timeout.
// Any other error means the locator matched and the interaction itself failed.
var ErrNotFound = errors.New("no element matched")

// Interaction is the result of a successful Interact call.
type Interaction struct {
	Text  string
	Count int
}

// Page is a single browser tab owned by one checkout session.
type Page interface {
	// Navigate loads url and waits for the document, bounded by timeout.
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	// Interact waits up to timeout for locator to match, then performs kind.
	Interact(ctx context.Context, locator Locator, kind Kind, timeout time.Duration, payload string) (Interaction, error)
	// Exists checks the current DOM without waiting.
	Exists(ctx context.Context, locator Locator) (bool, error)
	// TextContent returns the first match's text; ok is false when nothing matched.
	TextContent(ctx context.Context, locator Locator) (text string, ok bool, err error)
	// Screenshot captures the first element matching locator as PNG.
	Screenshot(ctx context.Context, locator Locator) ([]byte, error)
	CurrentURL(ctx context.Context) (string, error)
	// HTML returns the serialized document of the main frame.
	HTML(ctx context.Context) (string, error)
	// PressEnter sends an Enter key press to the focused element.
	PressEnter(ctx context.Context) error
	Close() error
}

// ResourceGate is implemented by pages that block some resource types during the
// flow and can lift that blocking once full rendering is wanted.
type ResourceGate interface {
	AllowAllResources(ctx context.Context) error
}

// Launcher acquires a fresh Page for a session.
type Launcher interface {
	Launch(ctx context.Context) (Page, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context) (Page, error)

func (f LauncherFunc) Launch(ctx context.Context) (Page, error) { return f(ctx) }
