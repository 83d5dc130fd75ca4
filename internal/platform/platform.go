// Package platform recognises supported storefronts and carries the per-store data
// the checkout flow runs on: entry URLs, URL markers and selector tables.
package platform

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"cartpilot/internal/apperr"
	"cartpilot/internal/driver"
	"cartpilot/internal/selector"
)

// ID names a supported storefront.
type ID string

const (
	Amazon   ID = "amazon"
	Flipkart ID = "flipkart"
	Myntra   ID = "myntra"
)

// Action names used as keys of Platform.Actions and of yaml overrides.
const (
	ActionSignIn          = "signin_affordance"
	ActionDismissPopup    = "dismiss_popup"
	ActionLoginIdentifier = "login_identifier"
	ActionLoginContinue   = "login_continue"
	ActionLoginPassword   = "login_password"
	ActionLoginSubmit     = "login_submit"
	ActionAddToCart       = "add_to_cart"
	ActionCartItems       = "cart_items"
	ActionCheckout        = "checkout"
	ActionCaptchaInput    = "captcha_input"
)

// hostTable is matched in order against the lower-cased host.
var hostTable = []struct {
	fragment string
	id       ID
}{
	{"amazon", Amazon},
	{"flipkart", Flipkart},
	{"myntra", Myntra},
}

// Resolve maps a product URL to its platform by host substring.
func Resolve(rawURL string) (ID, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrUnsupportedPlatform, err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("%w: no host in %q", apperr.ErrUnsupportedPlatform, rawURL)
	}
	for _, h := range hostTable {
		if strings.Contains(host, h.fragment) {
			return h.id, nil
		}
	}
	return "", fmt.Errorf("%w: %s", apperr.ErrUnsupportedPlatform, host)
}

var productPatterns = map[ID]*regexp.Regexp{
	Amazon:   regexp.MustCompile(`/dp/([A-Z0-9]{10})`),
	Flipkart: regexp.MustCompile(`/p/([^?]+)`),
}

// ProductID extracts the store's product identifier from rawURL, if the store has a
// known URL shape. Used for diagnostics only.
func ProductID(rawURL string, id ID) (string, bool) {
	re, ok := productPatterns[id]
	if !ok {
		return "", false
	}
	m := re.FindStringSubmatch(rawURL)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// AddressFields holds one locator per address input. Empty locators are skipped.
type AddressFields struct {
	Name       driver.Locator
	Phone      driver.Locator
	PostalCode driver.Locator
	Street     driver.Locator
	City       driver.Locator
}

// Locators returns the non-empty field locators in fill order.
func (a AddressFields) Locators() []driver.Locator {
	var out []driver.Locator
	for _, l := range []driver.Locator{a.Name, a.Phone, a.PostalCode, a.Street, a.City} {
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

// Platform is the immutable data for one store.
type Platform struct {
	ID      ID
	BaseURL string

	// LoginURLs are tried in order until one yields an authenticated session.
	// An entry equal to BaseURL is the homepage path, which needs ActionSignIn first.
	LoginURLs []string
	CartURLs  []string

	AccountIndicators []driver.Locator
	IndicatorWords    []string
	CartCountLocators []driver.Locator
	SuccessMessages   []string

	// AddressForm is waited on after the checkout click.
	AddressForm   []driver.Locator
	Address       AddressFields
	AddressSubmit []driver.Locator

	// URL path markers, lower case.
	LoginMarkers   []string
	CheckoutMarker string
	CartMarker     string

	Actions map[string]selector.ActionSpec
}

// Action returns the named spec, or an empty spec when the store has none.
func (p *Platform) Action(name string) selector.ActionSpec {
	if spec, ok := p.Actions[name]; ok {
		return spec
	}
	return selector.ActionSpec{Name: name}
}

// IsHomepage reports whether entry is the store's homepage rather than a login page.
func (p *Platform) IsHomepage(entry string) bool {
	return strings.TrimRight(entry, "/") == strings.TrimRight(p.BaseURL, "/")
}

// HasLoginMarker reports whether rawURL's path or query carries a login marker.
func (p *Platform) HasLoginMarker(rawURL string) bool {
	rest := pathAndQuery(rawURL)
	for _, m := range p.LoginMarkers {
		if strings.Contains(rest, m) {
			return true
		}
	}
	return false
}

// IsCheckoutURL reports whether rawURL is a checkout page and not the cart.
func (p *Platform) IsCheckoutURL(rawURL string) bool {
	rest := pathAndQuery(rawURL)
	if p.CheckoutMarker == "" || !strings.Contains(rest, p.CheckoutMarker) {
		return false
	}
	return p.CartMarker == "" || !strings.Contains(rest, p.CartMarker)
}

// pathAndQuery strips scheme and host so markers never match a domain name.
func pathAndQuery(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return strings.ToLower(rawURL)
	}
	return strings.ToLower(u.EscapedPath() + "?" + u.RawQuery)
}

// WithOverrides returns a copy of p where each named action's candidates are
// replaced by the given locators. Unknown action names add new specs.
func (p *Platform) WithOverrides(overrides map[string][]string) *Platform {
	cp := *p
	cp.Actions = make(map[string]selector.ActionSpec, len(p.Actions))
	for k, v := range p.Actions {
		cp.Actions[k] = v
	}
	for name, locs := range overrides {
		if len(locs) == 0 {
			continue
		}
		spec := cp.Action(name)
		spec.Candidates = make([]driver.Locator, len(locs))
		for i, l := range locs {
			spec.Candidates[i] = driver.Locator(l)
		}
		cp.Actions[name] = spec
	}
	return &cp
}

// Registry holds the platforms available to a run.
type Registry struct {
	platforms map[ID]*Platform
}

// NewRegistry builds the default tables with the given per-platform selector
// overrides applied (platform id -> action -> locators).
func NewRegistry(overrides map[string]map[string][]string, candidateTimeout time.Duration) *Registry {
	r := &Registry{platforms: make(map[ID]*Platform)}
	for id, p := range defaults(candidateTimeout) {
		if o, ok := overrides[string(id)]; ok {
			p = p.WithOverrides(o)
		}
		r.platforms[id] = p
	}
	return r
}

// Lookup returns the platform for id.
func (r *Registry) Lookup(id ID) (*Platform, error) {
	p, ok := r.platforms[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperr.ErrUnsupportedPlatform, id)
	}
	return p, nil
}

// ResolveURL is Resolve followed by Lookup.
func (r *Registry) ResolveURL(rawURL string) (*Platform, error) {
	id, err := Resolve(rawURL)
	if err != nil {
		return nil, err
	}
	return r.Lookup(id)
}
