package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"cartpilot/internal/driver"
	"cartpilot/internal/locale"
)

// Page is one rod tab. Closing it tears down the whole browser it was launched with.
type Page struct {
	page     *rod.Page
	browser  *rod.Browser
	launcher *launcher.Launcher
	opts     Options
	logger   *zap.Logger

	mu     sync.Mutex
	router *rod.HijackRouter

	stop      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// isXPath reports whether loc should be evaluated as XPath.
func isXPath(loc driver.Locator) bool {
	s := string(loc)
	return strings.HasPrefix(s, "//") || strings.HasPrefix(s, "(//")
}

func (p *Page) find(ctx context.Context, loc driver.Locator, timeout time.Duration) (*rod.Element, error) {
	tp := p.page.Context(ctx).Timeout(timeout)
	defer tp.CancelTimeout()

	var (
		el  *rod.Element
		err error
	)
	if isXPath(loc) {
		el, err = tp.ElementX(string(loc))
	} else {
		el, err = tp.Element(string(loc))
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, driver.ErrNotFound
		}
		return nil, err
	}
	return el.Context(ctx), nil
}

func (p *Page) all(ctx context.Context, loc driver.Locator) (rod.Elements, error) {
	cp := p.page.Context(ctx)
	if isXPath(loc) {
		return cp.ElementsX(string(loc))
	}
	return cp.Elements(string(loc))
}

func (p *Page) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	tp := p.page.Context(ctx).Timeout(timeout)
	defer tp.CancelTimeout()

	if err := tp.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := tp.WaitLoad(); err != nil {
		return fmt.Errorf("load %s: %w", url, err)
	}
	return nil
}

func (p *Page) Interact(ctx context.Context, loc driver.Locator, kind driver.Kind, timeout time.Duration, payload string) (driver.Interaction, error) {
	el, err := p.find(ctx, loc, timeout)
	if err != nil {
		return driver.Interaction{}, err
	}

	switch kind {
	case driver.Click:
		return driver.Interaction{Count: 1}, p.click(ctx, loc, el, timeout)

	case driver.ClickNavigate:
		return driver.Interaction{Count: 1}, p.clickAndWait(ctx, loc, el, timeout)

	case driver.Type:
		return driver.Interaction{Count: 1}, p.typeInto(el, payload, timeout)

	case driver.ReadText:
		text, err := el.Text()
		return driver.Interaction{Text: text, Count: 1}, err

	case driver.CountExists:
		els, err := p.all(ctx, loc)
		if err != nil {
			return driver.Interaction{}, err
		}
		return driver.Interaction{Count: len(els)}, nil
	}
	return driver.Interaction{}, fmt.Errorf("unsupported interaction %s", kind)
}

// fresh re-queries loc when el was detached between match and dispatch.
func (p *Page) fresh(ctx context.Context, loc driver.Locator, el *rod.Element) (*rod.Element, error) {
	res, err := el.Eval(`() => this.isConnected`)
	if err == nil && res.Value.Bool() {
		return el, nil
	}
	p.logger.Debug("element went stale, re-querying", zap.String("locator", string(loc)))
	els, err := p.all(ctx, loc)
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, fmt.Errorf("%s detached before click", loc)
	}
	return els[0], nil
}

func (p *Page) click(ctx context.Context, loc driver.Locator, el *rod.Element, timeout time.Duration) error {
	el, err := p.fresh(ctx, loc, el)
	if err != nil {
		return err
	}
	tel := el.Timeout(timeout)
	defer tel.CancelTimeout()
	return tel.Click(proto.InputMouseButtonLeft, 1)
}

// clickAndWait clicks and waits for the navigation the click causes.
func (p *Page) clickAndWait(ctx context.Context, loc driver.Locator, el *rod.Element, timeout time.Duration) error {
	nav := p.page.Context(ctx).Timeout(p.opts.NavigationWait)
	defer nav.CancelTimeout()

	wait := nav.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	if err := p.click(ctx, loc, el, timeout); err != nil {
		return err
	}
	wait()

	if err := nav.GetContext().Err(); err != nil {
		return fmt.Errorf("no navigation after clicking %s: %w", loc, err)
	}
	return nil
}

func (p *Page) typeInto(el *rod.Element, text string, timeout time.Duration) error {
	el = el.Timeout(timeout)
	defer el.CancelTimeout()
	if err := el.Focus(); err != nil {
		return err
	}
	if err := el.SelectAllText(); err != nil {
		return err
	}
	if err := p.page.Keyboard.Press(input.Backspace); err != nil {
		return err
	}

	if p.opts.TypingDelay <= 0 {
		return p.page.InsertText(text)
	}
	for _, r := range text {
		if err := p.page.InsertText(string(r)); err != nil {
			return err
		}
		time.Sleep(p.opts.TypingDelay)
	}
	return nil
}

func (p *Page) Exists(ctx context.Context, loc driver.Locator) (bool, error) {
	cp := p.page.Context(ctx)
	var (
		has bool
		err error
	)
	if isXPath(loc) {
		has, _, err = cp.HasX(string(loc))
	} else {
		has, _, err = cp.Has(string(loc))
	}
	return has, err
}

func (p *Page) TextContent(ctx context.Context, loc driver.Locator) (string, bool, error) {
	cp := p.page.Context(ctx)
	var (
		has bool
		el  *rod.Element
		err error
	)
	if isXPath(loc) {
		has, el, err = cp.HasX(string(loc))
	} else {
		has, el, err = cp.Has(string(loc))
	}
	if err != nil || !has {
		return "", false, err
	}
	text, err := el.Text()
	return text, err == nil, err
}

func (p *Page) Screenshot(ctx context.Context, loc driver.Locator) ([]byte, error) {
	el, err := p.find(ctx, loc, 2*time.Second)
	if err != nil {
		return nil, err
	}
	return el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
}

func (p *Page) CurrentURL(ctx context.Context) (string, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	return p.page.Context(ctx).HTML()
}

func (p *Page) PressEnter(ctx context.Context) error {
	return p.page.Context(ctx).Keyboard.Press(input.Enter)
}

// AllowAllResources stops request interception so the checkout page renders fully.
func (p *Page) AllowAllResources(ctx context.Context) error {
	p.mu.Lock()
	router := p.router
	p.router = nil
	p.mu.Unlock()

	if router == nil {
		return nil
	}
	p.logger.Debug("lifting resource blocking")
	return router.Stop()
}

// Close stops the watcher and tears down page, browser and launcher. Safe to call twice.
func (p *Page) Close() error {
	p.closeOnce.Do(func() {
		close(p.stop)
		fmt.Println(locale.T("cleaning_up"))

		_ = p.AllowAllResources(context.Background())

		var errs []error
		if err := p.page.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := p.browser.Close(); err != nil {
			errs = append(errs, err)
		}
		if p.launcher != nil {
			p.launcher.Cleanup()
		}
		p.closeErr = errors.Join(errs...)

		fmt.Println(locale.T("browser_destroyed"))
	})
	return p.closeErr
}

var (
	_ driver.Page         = (*Page)(nil)
	_ driver.ResourceGate = (*Page)(nil)
)
