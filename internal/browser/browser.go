// Package browser implements the page driver on a real Chrome via rod.
package browser

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"

	"cartpilot/internal/driver"
	"cartpilot/internal/locale"
)

// ErrProfileInUse is returned when another Chrome holds the profile directory.
var ErrProfileInUse = errors.New("browser profile already in use")

type Options struct {
	Headless   bool
	ProfileDir string
	// Bin overrides the Chrome lookup.
	Bin            string
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	BlockImages    bool
	TypingDelay    time.Duration
	// NavigationWait bounds the navigation a ClickNavigate interaction waits for.
	NavigationWait time.Duration
	// OnGone is called once if the browser disappears while a page is open.
	OnGone func()
	Logger *zap.Logger
}

// Launcher starts one Chrome per Launch call.
type Launcher struct {
	opts   Options
	logger *zap.Logger
}

func NewLauncher(opts Options) *Launcher {
	if opts.NavigationWait <= 0 {
		opts.NavigationWait = 7 * time.Second
	}
	if opts.ViewportWidth == 0 || opts.ViewportHeight == 0 {
		opts.ViewportWidth, opts.ViewportHeight = 1920, 1080
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{opts: opts, logger: logger.Named("browser")}
}

// Launch starts Chrome, opens a stealth page and applies the configured identity.
func (l *Launcher) Launch(ctx context.Context) (driver.Page, error) {
	fmt.Println(locale.T("browser_launching"))

	// Leakless deadlocks on Windows: https://github.com/go-rod/rod/issues/853
	lc := launcher.New().
		Context(ctx).
		Leakless(runtime.GOOS != "windows").
		Headless(l.opts.Headless)

	if l.opts.ProfileDir != "" {
		lc = lc.UserDataDir(l.opts.ProfileDir)
		l.logger.Debug("profile directory set", zap.String("dir", l.opts.ProfileDir))
	}

	bin := l.opts.Bin
	if bin == "" {
		if path, ok := launcher.LookPath(); ok {
			bin = path
			fmt.Println(locale.T("browser_using_system_chrome"))
		} else {
			fmt.Println(locale.T("browser_chrome_not_found"))
		}
	}
	if bin != "" {
		lc = lc.Bin(bin)
	}

	controlURL, err := lc.Launch()
	if err != nil {
		if isProfileLocked(err.Error()) {
			return nil, fmt.Errorf("%w: %s", ErrProfileInUse, locale.T("error_chrome_already_running"))
		}
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		lc.Cleanup()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	rp, err := stealth.Page(b)
	if err != nil {
		b.Close()
		lc.Cleanup()
		return nil, fmt.Errorf("failed to create stealth page: %w", err)
	}

	p := &Page{
		page:     rp,
		browser:  b,
		launcher: lc,
		opts:     l.opts,
		logger:   l.logger,
		stop:     make(chan struct{}),
	}

	if err := p.configure(); err != nil {
		p.Close()
		return nil, err
	}

	go p.watch()

	fmt.Println(locale.T("browser_launched"))
	return p, nil
}

func (p *Page) configure() error {
	if p.opts.UserAgent != "" {
		if err := p.page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: p.opts.UserAgent}); err != nil {
			p.logger.Warn("failed to set user agent", zap.Error(err))
		}
	}

	err := p.page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             p.opts.ViewportWidth,
		Height:            p.opts.ViewportHeight,
		DeviceScaleFactor: 1,
	})
	if err != nil {
		return fmt.Errorf("failed to set viewport: %w", err)
	}

	if p.opts.BlockImages {
		p.blockImages()
	}
	return nil
}

// blockImages fails image requests until AllowAllResources is called.
func (p *Page) blockImages() {
	router := p.page.HijackRequests()
	err := router.Add("*", proto.NetworkResourceTypeImage, func(h *rod.Hijack) {
		h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
	})
	if err != nil {
		p.logger.Warn("image blocking unavailable", zap.Error(err))
		return
	}
	go router.Run()

	p.mu.Lock()
	p.router = router
	p.mu.Unlock()
	p.logger.Debug("image requests blocked")
}

func isProfileLocked(msg string) bool {
	return strings.Contains(msg, "Opening in existing browser session") ||
		strings.Contains(msg, "ProcessSingleton") ||
		strings.Contains(msg, "SingletonLock")
}

func (p *Page) alive() bool {
	if _, err := p.browser.Version(); err != nil {
		p.logger.Debug("browser version check failed", zap.Error(err))
		return false
	}
	if _, err := p.page.Info(); err != nil {
		p.logger.Debug("page info check failed", zap.Error(err))
		return false
	}
	return true
}

// watch polls browser liveness until Close.
func (p *Page) watch() {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			if p.alive() {
				continue
			}
			p.logger.Warn("browser closed underneath the session")
			fmt.Println(locale.T("browser_closed_by_user"))
			if p.opts.OnGone != nil {
				p.opts.OnGone()
			}
			return
		}
	}
}

var _ driver.Launcher = (*Launcher)(nil)
