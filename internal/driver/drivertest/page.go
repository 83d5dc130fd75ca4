// Package drivertest provides a scripted in-memory driver.Page for tests.
package drivertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cartpilot/internal/driver"
)

// Element is a node the fake page currently renders.
type Element struct {
	Text  string
	Count int
	Value string
	PNG   []byte
	// Err is returned by any interaction after the element matched.
	Err error
}

// Call records one driver invocation.
type Call struct {
	Method  string
	Locator driver.Locator
	Kind    driver.Kind
	Timeout time.Duration
	Payload string
	URL     string
}

// Page is a fake driver.Page whose DOM is a map of locators to elements.
// Hooks run with the page lock released so they may mutate the page.
type Page struct {
	mu       sync.Mutex
	url      string
	html     string
	elements map[driver.Locator]*Element
	calls    []Call
	closed   bool
	allowAll bool

	// WaitOnMiss makes Interact sleep for the full timeout before reporting a miss.
	WaitOnMiss bool
	// NavigateErr fails navigation to specific URLs.
	NavigateErr map[string]error
	// OnNavigate runs after the URL changed.
	OnNavigate func(p *Page, url string)
	// OnClick runs when a Click or ClickNavigate interaction matched locator.
	OnClick map[driver.Locator]func(p *Page) error
	// OnEnter runs when PressEnter is called.
	OnEnter func(p *Page)
}

func New() *Page {
	return &Page{
		url:         "about:blank",
		elements:    make(map[driver.Locator]*Element),
		NavigateErr: make(map[string]error),
		OnClick:     make(map[driver.Locator]func(p *Page) error),
	}
}

// Set renders el under locator.
func (p *Page) Set(locator driver.Locator, el Element) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e := el
	if e.Count == 0 {
		e.Count = 1
	}
	p.elements[locator] = &e
}

// Remove drops locator from the DOM.
func (p *Page) Remove(locators ...driver.Locator) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, l := range locators {
		delete(p.elements, l)
	}
}

// Clear drops every element and the HTML document.
func (p *Page) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.elements = make(map[driver.Locator]*Element)
	p.html = ""
}

func (p *Page) SetURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
}

func (p *Page) SetHTML(html string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.html = html
}

// Value returns what was typed into locator.
func (p *Page) Value(locator driver.Locator) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if el, ok := p.elements[locator]; ok {
		return el.Value
	}
	return ""
}

// Calls returns a copy of every recorded call.
func (p *Page) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}

// CallsTo returns the recorded calls of one method.
func (p *Page) CallsTo(method string) []Call {
	var out []Call
	for _, c := range p.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Page) ResourcesAllowed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allowAll
}

func (p *Page) record(c Call) {
	p.mu.Lock()
	p.calls = append(p.calls, c)
	p.mu.Unlock()
}

func (p *Page) lookup(locator driver.Locator) (*Element, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.elements[locator]
	return el, ok
}

func (p *Page) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	p.record(Call{Method: "Navigate", URL: url, Timeout: timeout})
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.NavigateErr[url]; err != nil {
		return err
	}
	p.SetURL(url)
	if p.OnNavigate != nil {
		p.OnNavigate(p, url)
	}
	return nil
}

func (p *Page) Interact(ctx context.Context, locator driver.Locator, kind driver.Kind, timeout time.Duration, payload string) (driver.Interaction, error) {
	p.record(Call{Method: "Interact", Locator: locator, Kind: kind, Timeout: timeout, Payload: payload})

	el, ok := p.lookup(locator)
	if !ok {
		if p.WaitOnMiss {
			select {
			case <-time.After(timeout):
			case <-ctx.Done():
				return driver.Interaction{}, ctx.Err()
			}
		}
		return driver.Interaction{}, driver.ErrNotFound
	}
	if el.Err != nil {
		return driver.Interaction{}, el.Err
	}

	switch kind {
	case driver.Click, driver.ClickNavigate:
		before, _ := p.CurrentURL(ctx)
		if hook := p.OnClick[locator]; hook != nil {
			if err := hook(p); err != nil {
				return driver.Interaction{}, err
			}
		}
		if kind == driver.ClickNavigate {
			if after, _ := p.CurrentURL(ctx); after == before {
				return driver.Interaction{}, fmt.Errorf("click on %s: %w", locator, context.DeadlineExceeded)
			}
		}
		return driver.Interaction{Count: 1}, nil

	case driver.Type:
		p.mu.Lock()
		el.Value = payload
		p.mu.Unlock()
		return driver.Interaction{Count: 1}, nil

	case driver.ReadText:
		return driver.Interaction{Text: el.Text, Count: 1}, nil

	case driver.CountExists:
		return driver.Interaction{Count: el.Count}, nil
	}
	return driver.Interaction{}, errors.New("unsupported interaction")
}

func (p *Page) Exists(ctx context.Context, locator driver.Locator) (bool, error) {
	p.record(Call{Method: "Exists", Locator: locator})
	_, ok := p.lookup(locator)
	return ok, ctx.Err()
}

func (p *Page) TextContent(ctx context.Context, locator driver.Locator) (string, bool, error) {
	p.record(Call{Method: "TextContent", Locator: locator})
	el, ok := p.lookup(locator)
	if !ok {
		return "", false, ctx.Err()
	}
	return el.Text, true, ctx.Err()
}

func (p *Page) Screenshot(ctx context.Context, locator driver.Locator) ([]byte, error) {
	p.record(Call{Method: "Screenshot", Locator: locator})
	el, ok := p.lookup(locator)
	if !ok {
		return nil, driver.ErrNotFound
	}
	if len(el.PNG) == 0 {
		return []byte("png"), nil
	}
	return el.PNG, nil
}

func (p *Page) CurrentURL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	p.record(Call{Method: "HTML"})
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.html, nil
}

func (p *Page) PressEnter(ctx context.Context) error {
	p.record(Call{Method: "PressEnter"})
	if p.OnEnter != nil {
		p.OnEnter(p)
	}
	return nil
}

func (p *Page) AllowAllResources(ctx context.Context) error {
	p.record(Call{Method: "AllowAllResources"})
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowAll = true
	return nil
}

func (p *Page) Close() error {
	p.record(Call{Method: "Close"})
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

var (
	_ driver.Page         = (*Page)(nil)
	_ driver.ResourceGate = (*Page)(nil)
)
