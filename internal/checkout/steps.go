package checkout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"cartpilot/internal/apperr"
	"cartpilot/internal/challenge"
	"cartpilot/internal/driver"
	"cartpilot/internal/platform"
	"cartpilot/internal/selector"
)

// run is the per-session working set. It is never shared between sessions.
type run struct {
	o    *Orchestrator
	sess *Session
	plat *platform.Platform
	page driver.Page
	chal *challenge.Coordinator
	log  *zap.Logger

	needReauth bool
}

type stepFunc func(ctx context.Context) (string, error)

func (r *run) execute(ctx context.Context) error {
	if err := r.step(ctx, Authenticate, r.authenticate); err != nil {
		return err
	}
	if r.o.hold != nil {
		span := r.sess.Timing.Idle("hold")
		err := r.o.hold(ctx)
		span.End(err)
		if err != nil {
			return r.o.fail(r.sess, Authenticate, r.url(ctx), fmt.Errorf("waiting to start: %w", err))
		}
	}

	linear := []struct {
		state State
		fn    stepFunc
	}{
		{LoadProduct, r.loadProduct},
		{AddToCart, r.addToCart},
		{VerifyCart, r.verifyCart},
		{NavigateCheckout, r.navigateCheckout},
	}
	for _, s := range linear {
		if err := r.step(ctx, s.state, s.fn); err != nil {
			return err
		}
	}

	if r.needReauth {
		if err := r.step(ctx, ReAuthenticate, r.reAuthenticate); err != nil {
			return err
		}
	}

	if err := r.step(ctx, AutofillAddress, r.autofillAddress); err != nil {
		return err
	}
	return r.finish(ctx)
}

// step enters state, times fn and records its outcome. Hard failures end the session.
func (r *run) step(ctx context.Context, state State, fn stepFunc) error {
	r.o.enter(r.sess, state)
	r.log.Debug("entering state", zap.Stringer("state", state))

	span := r.sess.Timing.Start(state.String())
	payload, err := fn(ctx)
	elapsed := span.End(err)

	soft := err != nil && r.soft(state, err)
	r.sess.Outcomes = append(r.sess.Outcomes, StepOutcome{
		State:   state,
		Success: err == nil,
		Err:     err,
		Soft:    soft,
		Payload: payload,
		Elapsed: elapsed,
	})

	if err == nil {
		return nil
	}
	if soft {
		r.log.Warn("continuing past soft failure", zap.Stringer("state", state), zap.Error(err))
		return nil
	}
	return r.o.fail(r.sess, state, r.url(ctx), err)
}

func (r *run) soft(state State, err error) bool {
	switch state {
	case AddToCart:
		return errors.Is(err, apperr.ErrActionNotFound) && !r.o.policy.AddToCartMissingFatal
	case VerifyCart:
		return apperr.Soft(err) && !r.o.policy.CartVerificationFatal
	}
	return false
}

func (r *run) url(ctx context.Context) string {
	u, err := r.page.CurrentURL(ctx)
	if err != nil {
		return ""
	}
	return u
}

func (r *run) settle(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// clearChallenge probes once and resolves whatever it finds. Only an unresolved
// challenge at a gating step is an error; a skipped one is always a warning.
func (r *run) clearChallenge(ctx context.Context, gating bool) error {
	desc, res := r.chal.ProbeAndResolve(ctx, r.page, r.o.timeouts.ChallengeBudget)
	r.sess.Challenges = append(r.sess.Challenges, ChallengeEvent{State: r.sess.State, Kind: desc.Kind, Resolution: res})

	if res.Cleared() {
		return nil
	}
	if res == challenge.Skipped || !gating {
		r.log.Warn("continuing with challenge on page",
			zap.Stringer("state", r.sess.State),
			zap.Stringer("resolution", res))
		return nil
	}
	return fmt.Errorf("%w at %s", apperr.ErrChallengeUnresolved, r.sess.State)
}

// loggedIn holds when an account indicator greets the user, or when the page is a
// store page other than the homepage whose URL carries no login marker.
func (r *run) loggedIn(ctx context.Context) bool {
	for _, loc := range r.plat.AccountIndicators {
		text, ok, err := r.page.TextContent(ctx, loc)
		if err != nil || !ok {
			continue
		}
		lower := strings.ToLower(text)
		for _, w := range r.plat.IndicatorWords {
			if strings.Contains(lower, w) {
				return true
			}
		}
	}

	u := r.url(ctx)
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		return false
	}
	return !r.plat.IsHomepage(u) && !r.plat.HasLoginMarker(u)
}

func (r *run) authenticate(ctx context.Context) (string, error) {
	r.sess.LoginAttempts++

	if r.loggedIn(ctx) {
		r.o.say("login_already")
		return "already_logged_in", nil
	}

	creds := r.o.credentials(r.plat.ID)
	if !creds.Complete() {
		r.o.say("login_no_credentials", strings.ToUpper(string(r.plat.ID)))
		return "", fmt.Errorf("%w: no credentials for %s", apperr.ErrLoginFailed, r.plat.ID)
	}

	for _, entry := range r.plat.LoginURLs {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		r.o.say("login_trying", entry)
		ok, err := r.tryEntry(ctx, entry, creds.Identifier(), creds.Password)
		if err != nil {
			return "", err
		}
		if ok {
			r.o.say("login_success")
			return entry, nil
		}
		r.log.Info("login entry did not produce a session", zap.String("entry", entry))
	}

	r.o.say("login_failed")
	return "", fmt.Errorf("%w: %d entry urls tried", apperr.ErrLoginFailed, len(r.plat.LoginURLs))
}

// tryEntry runs the credential sequence from one entry URL. A false result moves
// on to the next entry; an error ends the step.
func (r *run) tryEntry(ctx context.Context, entry, identifier, password string) (bool, error) {
	if err := r.page.Navigate(ctx, entry, r.o.timeouts.LoginNavigation); err != nil {
		r.log.Warn("login entry unreachable", zap.String("entry", entry), zap.Error(err))
		return false, nil
	}
	r.settle(ctx, r.o.timeouts.SettleLong)

	if r.loggedIn(ctx) {
		return true, nil
	}

	if r.plat.IsHomepage(entry) {
		if err := r.clearChallenge(ctx, true); err != nil {
			return false, err
		}
		if _, err := r.o.engine.Resolve(ctx, r.page, r.plat.Action(platform.ActionSignIn), ""); err != nil {
			r.log.Info("no sign-in affordance on homepage", zap.Error(err))
			return false, nil
		}
		r.settle(ctx, r.o.timeouts.SettleLong)
	}

	if popup := r.plat.Action(platform.ActionDismissPopup); !popup.Empty() {
		if _, err := r.o.engine.Resolve(ctx, r.page, popup, ""); err != nil {
			r.log.Debug("no popup to dismiss", zap.Error(err))
		}
	}

	sequence := []struct {
		action      string
		payload     string
		enterOnMiss bool
	}{
		{platform.ActionLoginIdentifier, identifier, false},
		{platform.ActionLoginContinue, "", true},
		{platform.ActionLoginPassword, password, false},
		{platform.ActionLoginSubmit, "", true},
	}

	for _, sub := range sequence {
		spec := r.plat.Action(sub.action)
		if spec.Empty() {
			continue
		}
		if err := r.clearChallenge(ctx, true); err != nil {
			return false, err
		}

		_, err := r.o.engine.Resolve(ctx, r.page, spec, sub.payload)
		switch {
		case err == nil:
		case sub.enterOnMiss && errors.Is(err, apperr.ErrActionNotFound):
			if perr := r.page.PressEnter(ctx); perr != nil {
				r.log.Warn("enter fallback failed", zap.String("action", sub.action), zap.Error(perr))
				return false, nil
			}
		default:
			r.log.Info("login sub-step failed", zap.String("action", sub.action), zap.Error(err))
			return false, nil
		}
		r.settle(ctx, r.o.timeouts.SettleShort)
	}

	r.settle(ctx, r.o.timeouts.SettleLong)
	return r.loggedIn(ctx), nil
}

func (r *run) loadProduct(ctx context.Context) (string, error) {
	if err := r.page.Navigate(ctx, r.sess.TargetURL, r.o.timeouts.Navigation); err != nil {
		return "", fmt.Errorf("%w: product page: %v", apperr.ErrNavigationFailed, err)
	}
	r.settle(ctx, r.o.timeouts.SettleLong)
	return r.sess.TargetURL, nil
}

func (r *run) addToCart(ctx context.Context) (string, error) {
	if err := r.clearChallenge(ctx, false); err != nil {
		return "", err
	}
	res, err := r.o.engine.Resolve(ctx, r.page, r.plat.Action(platform.ActionAddToCart), "")
	if err != nil {
		return "", err
	}
	r.o.say("cart_added")
	r.settle(ctx, r.o.timeouts.SettleLong)
	return string(res.Locator), nil
}

func (r *run) verifyCart(ctx context.Context) (string, error) {
	for _, loc := range r.plat.CartCountLocators {
		text, ok, err := r.page.TextContent(ctx, loc)
		if err != nil || !ok {
			continue
		}
		if n, ok := cartCount(text); ok && n > 0 {
			r.o.say("cart_verified", strconv.Itoa(n))
			return fmt.Sprintf("count %d", n), nil
		}
	}

	if html, err := r.page.HTML(ctx); err == nil {
		if msg, ok := findMessage(html, r.plat.SuccessMessages); ok {
			r.o.say("cart_verified", msg)
			return msg, nil
		}
	}

	r.o.say("cart_unverified")
	return "", fmt.Errorf("%w: no cart count or confirmation message", apperr.ErrCartVerificationFailed)
}

// cartCount reads the leading integer of a cart badge such as "3" or "9+".
func cartCount(text string) (int, bool) {
	text = strings.TrimSpace(text)
	end := 0
	for end < len(text) && text[end] >= '0' && text[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(text[:end])
	return n, err == nil
}

// findMessage looks for any of messages in the document's visible text, ignoring case.
func findMessage(html string, messages []string) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", false
	}
	text := strings.ToLower(doc.Find("body").Text())
	for _, m := range messages {
		if strings.Contains(text, strings.ToLower(m)) {
			return m, true
		}
	}
	return "", false
}

func (r *run) navigateCheckout(ctx context.Context) (string, error) {
	r.o.say("checkout_navigating")
	u, err := r.proceed(ctx)
	if err != nil {
		return "", err
	}
	if r.plat.HasLoginMarker(u) {
		r.o.say("checkout_login_required")
		r.needReauth = true
	}
	return u, nil
}

// proceed opens the cart, clicks through to checkout and waits for the address
// form. It returns the URL the click landed on.
func (r *run) proceed(ctx context.Context) (string, error) {
	if !r.openCart(ctx) {
		return "", fmt.Errorf("%w: cart has no items", apperr.ErrCheckoutAborted)
	}
	if err := r.clearChallenge(ctx, true); err != nil {
		return "", err
	}

	if _, err := r.o.engine.Resolve(ctx, r.page, r.plat.Action(platform.ActionCheckout), ""); err != nil {
		if errors.Is(err, apperr.ErrActionNotFound) {
			return "", fmt.Errorf("%w: checkout button: %v", apperr.ErrCheckoutAborted, err)
		}
		return "", fmt.Errorf("%w: checkout click: %v", apperr.ErrNavigationFailed, err)
	}

	if gate, ok := r.page.(driver.ResourceGate); ok {
		if err := gate.AllowAllResources(ctx); err != nil {
			r.log.Warn("could not lift resource blocking", zap.Error(err))
		}
	}

	r.waitAddressForm(ctx)
	return r.url(ctx), nil
}

func (r *run) openCart(ctx context.Context) bool {
	items := r.plat.Action(platform.ActionCartItems).WithKind(driver.CountExists)
	for _, u := range r.plat.CartURLs {
		if err := r.page.Navigate(ctx, u, r.o.timeouts.Navigation); err != nil {
			r.log.Info("cart url unreachable", zap.String("url", u), zap.Error(err))
			continue
		}
		r.settle(ctx, r.o.timeouts.SettleShort)

		res, err := r.o.engine.Resolve(ctx, r.page, items, "")
		if err == nil && res.Count > 0 {
			return true
		}
	}
	return false
}

// waitAddressForm gives the address form a bounded chance to render. It never fails.
func (r *run) waitAddressForm(ctx context.Context) {
	form := r.plat.AddressForm
	if len(form) == 0 || r.o.timeouts.AddressFormWait <= 0 {
		return
	}
	spec := selector.ActionSpec{
		Name:       "address_form",
		Candidates: form,
		Timeout:    r.o.timeouts.AddressFormWait / time.Duration(len(form)),
		Kind:       driver.CountExists,
	}
	if _, err := r.o.engine.Resolve(ctx, r.page, spec, ""); err != nil {
		r.log.Debug("address form did not appear", zap.Error(err))
	}
}

func (r *run) reAuthenticate(ctx context.Context) (string, error) {
	if _, err := r.authenticate(ctx); err != nil {
		return "", err
	}

	u, err := r.proceed(ctx)
	if err != nil {
		return "", err
	}
	if r.plat.HasLoginMarker(u) {
		return "", fmt.Errorf("%w: still on login page after re-authentication", apperr.ErrCheckoutAborted)
	}
	return u, nil
}

type addressField struct {
	name    string
	locator driver.Locator
	value   string
}

func (r *run) addressFields() []addressField {
	f, a := r.plat.Address, r.o.address
	return []addressField{
		{"name", f.Name, a.Name},
		{"phone", f.Phone, a.Phone},
		{"postal_code", f.PostalCode, a.PostalCode},
		{"street", f.Street, a.Street},
		{"city", f.City, a.City},
	}
}

func (r *run) autofillAddress(ctx context.Context) (string, error) {
	if err := r.clearChallenge(ctx, false); err != nil {
		return "", err
	}

	if _, ok := selector.FirstPresent(ctx, r.page, r.plat.Address.Locators()); !ok {
		r.o.say("address_skipped")
		return "no_form", nil
	}

	filled := 0
	for _, f := range r.addressFields() {
		if f.locator == "" || f.value == "" {
			continue
		}
		if ok, err := r.page.Exists(ctx, f.locator); err != nil || !ok {
			r.log.Debug("address field absent", zap.String("field", f.name))
			continue
		}
		spec := selector.ActionSpec{
			Name:       "address_" + f.name,
			Candidates: []driver.Locator{f.locator},
			Kind:       driver.Type,
		}
		if _, err := r.o.engine.Resolve(ctx, r.page, spec, f.value); err != nil {
			r.log.Info("address field not filled", zap.String("field", f.name), zap.Error(err))
			continue
		}
		filled++
	}

	if submit, ok := selector.FirstPresent(ctx, r.page, r.plat.AddressSubmit); ok {
		spec := selector.ActionSpec{Name: "address_submit", Candidates: []driver.Locator{submit}, Kind: driver.Click}
		if _, err := r.o.engine.Resolve(ctx, r.page, spec, ""); err != nil {
			r.log.Warn("address submit failed", zap.Error(err))
		}
	}
	r.settle(ctx, r.o.timeouts.SettleLong)

	r.o.say("address_filled", filled)
	return fmt.Sprintf("%d fields", filled), nil
}

func (r *run) finish(ctx context.Context) error {
	u := r.url(ctx)
	if !r.plat.IsCheckoutURL(u) {
		return r.o.fail(r.sess, r.sess.State, u, fmt.Errorf("%w: %s", apperr.ErrUnexpectedTerminalURL, u))
	}
	r.o.enter(r.sess, Completed)
	r.sess.CheckoutURL = u
	r.sess.FinishedAt = time.Now()
	r.log.Info("checkout reached", zap.String("url", u))
	return nil
}
