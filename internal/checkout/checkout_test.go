package checkout

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"cartpilot/internal/apperr"
	"cartpilot/internal/challenge"
	"cartpilot/internal/config"
	"cartpilot/internal/driver"
	"cartpilot/internal/driver/drivertest"
	"cartpilot/internal/interactive"
	"cartpilot/internal/platform"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	homeURL     = "https://www.amazon.in"
	productURL  = "https://www.amazon.in/Steel-Bottle/dp/B0ABCDEFGH?th=1"
	signinURL   = "https://www.amazon.in/ap/signin"
	signin2URL  = "https://www.amazon.in/gp/sign-in.html"
	cartURL     = "https://www.amazon.in/gp/cart/view.html"
	checkoutURL = "https://www.amazon.in/checkout/p/p-171-2290/address"
	reloginURL  = "https://www.amazon.in/ap/signin?openid.return_to=checkout"

	accountMenu    driver.Locator = "#nav-link-accountList"
	addToCartBtn   driver.Locator = "#add-to-cart-button"
	cartCountBadge driver.Locator = "#nav-cart-count"
	checkoutBtn    driver.Locator = `input[name="proceedToRetailCheckout"]`
	nameField      driver.Locator = `input[name="enterAddressFullName"]`
	phoneField     driver.Locator = `input[name="enterAddressPhoneNumber"]`
	cityField      driver.Locator = `input[name="enterAddressCity"]`
	addressSubmit  driver.Locator = `input.a-button-input[name="shipToThisAddress"]`
	recaptchaFrame driver.Locator = `iframe[src*="recaptcha"]`
	inlineCaptcha  driver.Locator = `img[src*="captcha"]`
)

var testAddress = config.Address{
	Name:       "Asha Rao",
	Phone:      "9876543210",
	PostalCode: "411001",
	Street:     "12 MG Road",
	City:       "Pune",
}

// store scripts an amazon-like storefront on a fake page.
type store struct {
	page *drivertest.Page

	launches       int
	checkoutClicks int
	// checkoutTargets is where each checkout click lands; the last entry repeats.
	checkoutTargets []string

	cartCountText string
	confirmHTML   string
	productExtras map[driver.Locator]drivertest.Element
	signinExtras  map[driver.Locator]drivertest.Element
	noAddToCart   bool
	noContinue    bool
	emptyCart     bool
	noCheckoutBtn bool
	noAddressForm bool
	missingFields []driver.Locator
}

func newStore() *store {
	s := &store{
		page:            drivertest.New(),
		checkoutTargets: []string{checkoutURL},
		cartCountText:   "1",
	}
	s.page.OnNavigate = s.render
	s.page.OnClick["#signInSubmit"] = s.signedIn
	s.page.OnClick[addToCartBtn] = s.added
	s.page.OnClick[checkoutBtn] = s.checkout
	s.page.OnClick[accountMenu] = func(p *drivertest.Page) error {
		p.SetURL(signinURL)
		s.render(p, signinURL)
		return nil
	}
	return s
}

func (s *store) render(p *drivertest.Page, url string) {
	p.Clear()
	switch url {
	case homeURL:
		p.Set(accountMenu, drivertest.Element{Text: "Sign in"})
	case signinURL, signin2URL:
		p.Set(`input[name="email"]`, drivertest.Element{})
		if !s.noContinue {
			p.Set("#continue", drivertest.Element{})
		}
		p.Set("#ap_password", drivertest.Element{})
		p.Set("#signInSubmit", drivertest.Element{})
		for loc, el := range s.signinExtras {
			p.Set(loc, el)
		}
	case productURL:
		if !s.noAddToCart {
			p.Set(addToCartBtn, drivertest.Element{})
		}
		for loc, el := range s.productExtras {
			p.Set(loc, el)
		}
	case cartURL:
		if !s.emptyCart {
			p.Set(`[data-name="Active Items"]`, drivertest.Element{Count: 2})
			if !s.noCheckoutBtn {
				p.Set(checkoutBtn, drivertest.Element{})
			}
		}
	}
}

func (s *store) signedIn(p *drivertest.Page) error {
	p.Clear()
	p.SetURL(homeURL + "/")
	p.Set(accountMenu, drivertest.Element{Text: "Hello, Asha\nAccount & Lists"})
	return nil
}

func (s *store) added(p *drivertest.Page) error {
	if s.cartCountText != "" {
		p.Set(cartCountBadge, drivertest.Element{Text: s.cartCountText})
	}
	if s.confirmHTML != "" {
		p.SetHTML(s.confirmHTML)
	}
	return nil
}

func (s *store) checkout(p *drivertest.Page) error {
	i := s.checkoutClicks
	if i >= len(s.checkoutTargets) {
		i = len(s.checkoutTargets) - 1
	}
	s.checkoutClicks++
	target := s.checkoutTargets[i]

	p.Clear()
	p.SetURL(target)
	if target == checkoutURL && !s.noAddressForm {
		for _, loc := range []driver.Locator{
			nameField,
			phoneField,
			`input[name="enterAddressPostalCode"]`,
			`input[name="enterAddressAddressLine1"]`,
			cityField,
			addressSubmit,
		} {
			p.Set(loc, drivertest.Element{})
		}
		p.Remove(s.missingFields...)
	}
	return nil
}

func (s *store) orchestrator(mutate ...func(*Options)) *Orchestrator {
	opts := Options{
		Launcher: driver.LauncherFunc(func(ctx context.Context) (driver.Page, error) {
			s.launches++
			return s.page, nil
		}),
		Credentials: func(platform.ID) config.Credentials {
			return config.Credentials{Email: "asha@example.com", Password: "hunter2"}
		},
		Address:  testAddress,
		Policy:   DefaultPolicy(),
		Timeouts: Timeouts{ManualCap: time.Second},
		Out:      io.Discard,
	}
	for _, m := range mutate {
		m(&opts)
	}
	return New(opts)
}

func payloads(calls []drivertest.Call) []string {
	var out []string
	for _, c := range calls {
		if c.Payload != "" {
			out = append(out, c.Payload)
		}
	}
	return out
}

func requireFailure(t *testing.T, err error) *Failure {
	t.Helper()
	var f *Failure
	require.ErrorAs(t, err, &f)
	return f
}

func TestRunHappyPath(t *testing.T) {
	s := newStore()

	sess, err := s.orchestrator().Run(context.Background(), productURL)
	require.NoError(t, err)

	assert.True(t, sess.Succeeded())
	assert.Equal(t, checkoutURL, sess.CheckoutURL)
	assert.Equal(t, platform.Amazon, sess.Platform)
	assert.Equal(t, "B0ABCDEFGH", sess.ProductID)
	assert.Equal(t, 1, sess.LoginAttempts)
	assert.Nil(t, sess.Failure)
	assert.Equal(t, []State{
		Init, DetectPlatform, Authenticate, LoadProduct, AddToCart,
		VerifyCart, NavigateCheckout, AutofillAddress, Completed,
	}, sess.History)

	verify, ok := sess.Outcome(VerifyCart)
	require.True(t, ok)
	assert.Equal(t, "count 1", verify.Payload)

	typed := payloads(s.page.CallsTo("Interact"))
	assert.Contains(t, typed, "asha@example.com")
	assert.Contains(t, typed, "hunter2")

	assert.Equal(t, "Asha Rao", s.page.Value(nameField))
	assert.Equal(t, "Pune", s.page.Value(cityField))

	assert.Equal(t, 1, s.launches)
	assert.True(t, s.page.ResourcesAllowed(), "resource blocking must be lifted after checkout")
	assert.True(t, s.page.Closed())

	var ops []string
	for _, m := range sess.Timing.Metrics() {
		ops = append(ops, m.Operation)
	}
	assert.Contains(t, ops, "launch_browser")
	assert.Contains(t, ops, "navigate_checkout")
}

func TestRunUnsupportedPlatformNeverLaunches(t *testing.T) {
	s := newStore()

	sess, err := s.orchestrator().Run(context.Background(), "https://www.example.com/item/42")

	f := requireFailure(t, err)
	assert.Equal(t, "unsupported_platform", f.Reason())
	assert.Equal(t, DetectPlatform, f.State)
	assert.Equal(t, []State{Init, DetectPlatform, Failed}, sess.History)
	assert.Zero(t, s.launches)
	assert.Empty(t, s.page.Calls())
}

func TestRunForcedReAuthentication(t *testing.T) {
	s := newStore()
	s.checkoutTargets = []string{reloginURL, checkoutURL}

	sess, err := s.orchestrator().Run(context.Background(), productURL)
	require.NoError(t, err)

	assert.True(t, sess.Succeeded())
	assert.Equal(t, 2, sess.LoginAttempts)
	assert.Equal(t, 2, s.checkoutClicks)
	assert.Contains(t, sess.History, ReAuthenticate)
	assert.Equal(t, checkoutURL, sess.CheckoutURL)
}

func TestRunReAuthenticationIsBounded(t *testing.T) {
	s := newStore()
	s.checkoutTargets = []string{reloginURL}

	sess, err := s.orchestrator().Run(context.Background(), productURL)

	f := requireFailure(t, err)
	assert.ErrorIs(t, err, apperr.ErrCheckoutAborted)
	assert.Equal(t, ReAuthenticate, f.State)
	assert.Equal(t, reloginURL, f.URL)
	assert.Equal(t, 2, sess.LoginAttempts)
	assert.Equal(t, 2, s.checkoutClicks)
	assert.Equal(t, Failed, sess.State)
	assert.True(t, s.page.Closed())
}

func TestRunWidgetChallengeDoesNotPoisonCheckout(t *testing.T) {
	s := newStore()
	s.productExtras = map[driver.Locator]drivertest.Element{recaptchaFrame: {}}

	sess, err := s.orchestrator().Run(context.Background(), productURL)
	require.NoError(t, err)
	assert.True(t, sess.Succeeded())

	var atCart, atCheckout []ChallengeEvent
	for _, ev := range sess.Challenges {
		switch ev.State {
		case AddToCart:
			atCart = append(atCart, ev)
		case NavigateCheckout:
			atCheckout = append(atCheckout, ev)
		}
	}
	require.Len(t, atCart, 1)
	assert.Equal(t, challenge.Widget, atCart[0].Kind)
	assert.Equal(t, challenge.Skipped, atCart[0].Resolution)

	require.NotEmpty(t, atCheckout)
	for _, ev := range atCheckout {
		assert.Equal(t, challenge.Clear, ev.Resolution)
	}
}

type refusingConfirmer struct{}

func (refusingConfirmer) Interactive() bool { return true }

func (refusingConfirmer) Confirm(context.Context, string, time.Duration) (bool, error) {
	return false, nil
}

func (refusingConfirmer) Prompt(context.Context, string) (string, error) {
	return "", interactive.ErrNotInteractive
}

func TestRunUnresolvedChallengeGatesLogin(t *testing.T) {
	s := newStore()
	s.signinExtras = map[driver.Locator]drivertest.Element{inlineCaptcha: {}}

	_, err := s.orchestrator(func(o *Options) {
		o.Confirmer = refusingConfirmer{}
	}).Run(context.Background(), productURL)

	f := requireFailure(t, err)
	assert.ErrorIs(t, err, apperr.ErrChallengeUnresolved)
	assert.Equal(t, Authenticate, f.State)
	assert.Empty(t, payloads(s.page.CallsTo("Interact")), "no credentials typed past an unresolved challenge")
}

func TestRunSkipsLoginWhenAlreadySignedIn(t *testing.T) {
	s := newStore()
	s.page.SetURL("https://www.amazon.in/gp/yourstore/home")

	sess, err := s.orchestrator(func(o *Options) {
		o.Credentials = func(platform.ID) config.Credentials { return config.Credentials{} }
	}).Run(context.Background(), productURL)
	require.NoError(t, err)

	assert.True(t, sess.Succeeded())
	for _, c := range s.page.CallsTo("Navigate") {
		assert.NotEqual(t, signinURL, c.URL)
	}
	auth, ok := sess.Outcome(Authenticate)
	require.True(t, ok)
	assert.Equal(t, "already_logged_in", auth.Payload)
}

func TestRunWithoutCredentialsFailsLogin(t *testing.T) {
	s := newStore()

	_, err := s.orchestrator(func(o *Options) {
		o.Credentials = func(platform.ID) config.Credentials { return config.Credentials{Email: "asha@example.com"} }
	}).Run(context.Background(), productURL)

	f := requireFailure(t, err)
	assert.Equal(t, "login_failed", f.Reason())
	assert.Empty(t, s.page.CallsTo("Navigate"))
}

func TestRunFallsBackToHomepageSignIn(t *testing.T) {
	s := newStore()
	s.page.NavigateErr[signinURL] = errors.New("net::ERR_CONNECTION_RESET")
	s.page.NavigateErr[signin2URL] = errors.New("net::ERR_CONNECTION_RESET")

	sess, err := s.orchestrator().Run(context.Background(), productURL)
	require.NoError(t, err)
	assert.True(t, sess.Succeeded())

	auth, _ := sess.Outcome(Authenticate)
	assert.Equal(t, homeURL, auth.Payload)

	var clickedMenu bool
	for _, c := range s.page.CallsTo("Interact") {
		if c.Locator == accountMenu && c.Kind == driver.Click {
			clickedMenu = true
		}
	}
	assert.True(t, clickedMenu, "homepage entry must click the sign-in affordance")
}

func TestRunPressesEnterWhenContinueIsMissing(t *testing.T) {
	s := newStore()
	s.noContinue = true

	sess, err := s.orchestrator().Run(context.Background(), productURL)
	require.NoError(t, err)
	assert.True(t, sess.Succeeded())
	assert.Len(t, s.page.CallsTo("PressEnter"), 1)
}

func TestRunProductNavigationFailure(t *testing.T) {
	s := newStore()
	s.page.NavigateErr[productURL] = errors.New("net::ERR_TIMED_OUT")

	sess, err := s.orchestrator().Run(context.Background(), productURL)

	f := requireFailure(t, err)
	assert.Equal(t, "navigation_failed", f.Reason())
	assert.Equal(t, LoadProduct, f.State)
	assert.True(t, s.page.Closed())
	assert.Equal(t, Failed, sess.State)
}

func TestRunAddToCartPolicy(t *testing.T) {
	t.Run("missing button is fatal by default", func(t *testing.T) {
		s := newStore()
		s.noAddToCart = true

		_, err := s.orchestrator().Run(context.Background(), productURL)

		f := requireFailure(t, err)
		assert.Equal(t, AddToCart, f.State)
		assert.ErrorIs(t, err, apperr.ErrActionNotFound)
	})

	t.Run("missing button tolerated", func(t *testing.T) {
		s := newStore()
		s.noAddToCart = true

		sess, err := s.orchestrator(func(o *Options) {
			o.Policy.AddToCartMissingFatal = false
		}).Run(context.Background(), productURL)
		require.NoError(t, err)

		out, ok := sess.Outcome(AddToCart)
		require.True(t, ok)
		assert.True(t, out.Soft)
		assert.False(t, out.Success)
	})
}

func TestRunCartVerification(t *testing.T) {
	t.Run("confirmation message counts", func(t *testing.T) {
		s := newStore()
		s.cartCountText = ""
		s.confirmHTML = `<html><body><div id="attach"><h4>Added to Cart</h4></div></body></html>`

		sess, err := s.orchestrator().Run(context.Background(), productURL)
		require.NoError(t, err)

		out, _ := sess.Outcome(VerifyCart)
		assert.True(t, out.Success)
		assert.Equal(t, "Added to Cart", out.Payload)
	})

	t.Run("zero count is not evidence", func(t *testing.T) {
		s := newStore()
		s.cartCountText = "0"

		sess, err := s.orchestrator().Run(context.Background(), productURL)
		require.NoError(t, err)

		out, _ := sess.Outcome(VerifyCart)
		assert.False(t, out.Success)
		assert.True(t, out.Soft)
		assert.True(t, sess.Succeeded(), "unverified cart still proceeds to checkout")
	})

	t.Run("badge label is not a count", func(t *testing.T) {
		s := newStore()
		s.cartCountText = "Cart"

		sess, err := s.orchestrator().Run(context.Background(), productURL)
		require.NoError(t, err)

		out, _ := sess.Outcome(VerifyCart)
		assert.False(t, out.Success)
		assert.True(t, out.Soft)
	})

	t.Run("capped badge counts", func(t *testing.T) {
		s := newStore()
		s.cartCountText = " 9+ "

		sess, err := s.orchestrator().Run(context.Background(), productURL)
		require.NoError(t, err)

		out, _ := sess.Outcome(VerifyCart)
		assert.True(t, out.Success)
		assert.Equal(t, "count 9", out.Payload)
	})

	t.Run("fatal when configured", func(t *testing.T) {
		s := newStore()
		s.cartCountText = ""

		_, err := s.orchestrator(func(o *Options) {
			o.Policy.CartVerificationFatal = true
		}).Run(context.Background(), productURL)

		f := requireFailure(t, err)
		assert.Equal(t, VerifyCart, f.State)
		assert.Equal(t, "cart_verification_failed", f.Reason())
	})
}

func TestRunEmptyCartAborts(t *testing.T) {
	s := newStore()
	s.emptyCart = true

	_, err := s.orchestrator().Run(context.Background(), productURL)

	f := requireFailure(t, err)
	assert.Equal(t, NavigateCheckout, f.State)
	assert.ErrorIs(t, err, apperr.ErrCheckoutAborted)
	assert.Len(t, s.page.CallsTo("Navigate"), 4, "signin, product and both cart urls")
}

func TestRunMissingCheckoutButtonAborts(t *testing.T) {
	s := newStore()
	s.noCheckoutBtn = true

	sess, err := s.orchestrator().Run(context.Background(), productURL)

	f := requireFailure(t, err)
	assert.Equal(t, "checkout_aborted", f.Reason())
	assert.ErrorIs(t, err, apperr.ErrCheckoutAborted)
	assert.Equal(t, NavigateCheckout, f.State)
	assert.Equal(t, cartURL, f.URL)
	assert.Zero(t, s.checkoutClicks)
	assert.Equal(t, Failed, sess.State)
}

func TestRunAutofill(t *testing.T) {
	t.Run("no form is a no-op", func(t *testing.T) {
		s := newStore()
		s.noAddressForm = true

		sess, err := s.orchestrator().Run(context.Background(), productURL)
		require.NoError(t, err)

		out, _ := sess.Outcome(AutofillAddress)
		assert.Equal(t, "no_form", out.Payload)
		assert.NotContains(t, payloads(s.page.CallsTo("Interact")), testAddress.Name)
	})

	t.Run("only configured fields are filled", func(t *testing.T) {
		s := newStore()

		sess, err := s.orchestrator(func(o *Options) {
			o.Address = config.Address{Name: "Asha Rao", City: "Pune"}
		}).Run(context.Background(), productURL)
		require.NoError(t, err)

		out, _ := sess.Outcome(AutofillAddress)
		assert.Equal(t, "2 fields", out.Payload)
		assert.Equal(t, "Asha Rao", s.page.Value(nameField))
		assert.Equal(t, "Pune", s.page.Value(cityField))
		assert.Empty(t, s.page.Value(phoneField))

		var submitted bool
		for _, c := range s.page.CallsTo("Interact") {
			if c.Locator == addressSubmit {
				submitted = true
			}
		}
		assert.True(t, submitted)
	})

	t.Run("fields missing from the form are not waited on", func(t *testing.T) {
		s := newStore()
		s.missingFields = []driver.Locator{phoneField}

		sess, err := s.orchestrator().Run(context.Background(), productURL)
		require.NoError(t, err)

		out, _ := sess.Outcome(AutofillAddress)
		assert.Equal(t, "4 fields", out.Payload)
		for _, c := range s.page.CallsTo("Interact") {
			assert.NotEqual(t, phoneField, c.Locator)
		}
	})
}

func TestRunUnexpectedTerminalURL(t *testing.T) {
	s := newStore()
	landing := "https://www.amazon.in/gp/cart/view.html?ref_=sw_gtc"
	s.checkoutTargets = []string{landing}

	_, err := s.orchestrator().Run(context.Background(), productURL)

	f := requireFailure(t, err)
	assert.Equal(t, "unexpected_terminal_url", f.Reason())
	assert.Equal(t, landing, f.URL)
	assert.Equal(t, AutofillAddress, f.State)
}

type crashingPage struct {
	*drivertest.Page
}

func (crashingPage) Navigate(context.Context, string, time.Duration) error {
	panic("renderer crashed")
}

func TestRunRecoversPanicAndClosesPage(t *testing.T) {
	s := newStore()
	var closedHook bool

	sess, err := s.orchestrator(func(o *Options) {
		o.Launcher = driver.LauncherFunc(func(context.Context) (driver.Page, error) {
			return crashingPage{s.page}, nil
		})
		o.BeforeClose = func(context.Context, *Session) { closedHook = true }
	}).Run(context.Background(), productURL)

	f := requireFailure(t, err)
	assert.Equal(t, "internal", f.Reason())
	assert.Equal(t, Authenticate, f.State)
	assert.Equal(t, Failed, sess.State)
	assert.True(t, closedHook)
	assert.True(t, s.page.Closed())
}

func TestRunLaunchFailure(t *testing.T) {
	s := newStore()

	_, err := s.orchestrator(func(o *Options) {
		o.Launcher = driver.LauncherFunc(func(context.Context) (driver.Page, error) {
			return nil, errors.New("chrome exited")
		})
	}).Run(context.Background(), productURL)

	f := requireFailure(t, err)
	assert.ErrorContains(t, f, "launch browser")
	assert.False(t, s.page.Closed())
}

func TestRunHoldsBetweenLoginAndProduct(t *testing.T) {
	t.Run("hold runs signed in, before the product page", func(t *testing.T) {
		s := newStore()
		var navigatedBefore []string

		sess, err := s.orchestrator(func(o *Options) {
			o.Hold = func(context.Context) error {
				for _, c := range s.page.CallsTo("Navigate") {
					navigatedBefore = append(navigatedBefore, c.URL)
				}
				return nil
			}
		}).Run(context.Background(), productURL)
		require.NoError(t, err)

		assert.True(t, sess.Succeeded())
		assert.Equal(t, []string{signinURL}, navigatedBefore)

		for _, m := range sess.Timing.Metrics() {
			assert.NotEqual(t, "hold", m.Operation)
		}
		rep := sess.Timing.Report(0)
		require.Len(t, rep.Idle, 1)
		assert.Equal(t, "hold", rep.Idle[0].Operation)
	})

	t.Run("canceled hold fails the session", func(t *testing.T) {
		s := newStore()

		sess, err := s.orchestrator(func(o *Options) {
			o.Hold = func(context.Context) error { return context.Canceled }
		}).Run(context.Background(), productURL)

		f := requireFailure(t, err)
		assert.Equal(t, "canceled", f.Reason())
		assert.Equal(t, Authenticate, f.State)
		assert.NotContains(t, sess.History, LoadProduct)
		assert.True(t, s.page.Closed())
	})
}
