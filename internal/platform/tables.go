package platform

import (
	"time"

	"cartpilot/internal/driver"
	"cartpilot/internal/selector"
)

// Locators starting with "//" are XPath; everything else is CSS.

func action(name string, kind driver.Kind, timeout time.Duration, candidates ...driver.Locator) selector.ActionSpec {
	return selector.ActionSpec{Name: name, Candidates: candidates, Timeout: timeout, Kind: kind}
}

// captchaInputs is shared by every store; stores may override it.
var captchaInputs = []driver.Locator{
	`input[name*="captcha"]`,
	`input[id*="captcha"]`,
	`input[placeholder*="captcha"]`,
}

func defaults(timeout time.Duration) map[ID]*Platform {
	if timeout <= 0 {
		timeout = selector.DefaultCandidateTimeout
	}
	return map[ID]*Platform{
		Amazon:   amazon(timeout),
		Flipkart: flipkart(timeout),
		Myntra:   myntra(timeout),
	}
}

func amazon(t time.Duration) *Platform {
	base := "https://www.amazon.in"
	return &Platform{
		ID:      Amazon,
		BaseURL: base,
		LoginURLs: []string{
			base + "/ap/signin",
			base + "/gp/sign-in.html",
			base,
		},
		CartURLs: []string{
			base + "/gp/cart/view.html",
			base + "/cart",
		},
		AccountIndicators: []driver.Locator{
			"#nav-link-accountList",
			`[data-nav-role="signin"]`,
			"#nav-your-account",
		},
		IndicatorWords: []string{"hello", "account"},
		CartCountLocators: []driver.Locator{
			"#nav-cart-count",
			`[data-testid="cart-count"]`,
			".nav-cart-count",
			`span[class*="cart-count"]`,
		},
		SuccessMessages: []string{"Added to Cart", "Item added to cart", "Successfully added"},
		AddressForm: []driver.Locator{
			`form[name="addressForm"]`,
			`input[name="enterAddressFullName"]`,
			`input[name="add-new-address"]`,
		},
		Address: AddressFields{
			Name:       `input[name="enterAddressFullName"]`,
			Phone:      `input[name="enterAddressPhoneNumber"]`,
			PostalCode: `input[name="enterAddressPostalCode"]`,
			Street:     `input[name="enterAddressAddressLine1"]`,
			City:       `input[name="enterAddressCity"]`,
		},
		AddressSubmit: []driver.Locator{
			`input.a-button-input[name="shipToThisAddress"]`,
			`input.a-button-input[name="useSelectedAddress"]`,
			`input.a-button-input[type="submit"]`,
			`input[type="submit"]`,
			"button.a-button-text",
		},
		LoginMarkers:   []string{"signin", "sign-in", "login"},
		CheckoutMarker: "checkout",
		CartMarker:     "cart",
		Actions: map[string]selector.ActionSpec{
			ActionSignIn: action(ActionSignIn, driver.Click, t,
				"#nav-link-accountList",
				`a[data-nav-role="signin"]`),
			ActionLoginIdentifier: action(ActionLoginIdentifier, driver.Type, t,
				`input[name="email"]`,
				"#ap_email",
				`input[type="tel"]`,
				`input[placeholder*="phone"]`,
				`input[placeholder*="mobile"]`),
			ActionLoginContinue: action(ActionLoginContinue, driver.Click, t,
				"#continue",
				`input[id="continue"]`,
				`button[type="submit"]`),
			ActionLoginPassword: action(ActionLoginPassword, driver.Type, t,
				"#ap_password",
				`input[name="password"]`,
				`input[type="password"]`),
			ActionLoginSubmit: action(ActionLoginSubmit, driver.Click, t,
				"#signInSubmit",
				`input[id="signInSubmit"]`,
				`button[type="submit"]`),
			ActionAddToCart: action(ActionAddToCart, driver.Click, t,
				"#add-to-cart-button",
				`input[name="submit.add-to-cart"]`,
				`[data-testid="add-to-cart-button"]`,
				`button[aria-labelledby*="add-to-cart"]`,
				`input[value*="Add to Cart"]`,
				`//button[contains(normalize-space(.), "Add to Cart")]`,
				`input[type="submit"][value*="Cart"]`),
			ActionCartItems: action(ActionCartItems, driver.CountExists, t,
				`[data-name="Active Items"]`,
				".sc-list-item",
				".cart-item",
				`[data-testid="cart-item"]`),
			ActionCheckout: action(ActionCheckout, driver.ClickNavigate, t,
				`input[name="proceedToRetailCheckout"]`,
				`[data-testid="proceed-to-checkout-action"]`,
				`input[aria-labelledby*="checkout"]`,
				`button[aria-labelledby*="checkout"]`,
				`input[value*="Proceed to checkout"]`,
				`//button[contains(normalize-space(.), "Proceed to checkout")]`),
			ActionCaptchaInput: action(ActionCaptchaInput, driver.Type, t, captchaInputs...),
		},
	}
}

func flipkart(t time.Duration) *Platform {
	base := "https://www.flipkart.com"
	return &Platform{
		ID:      Flipkart,
		BaseURL: base,
		LoginURLs: []string{
			base + "/account/login",
			base,
		},
		CartURLs: []string{base + "/viewcart"},
		AccountIndicators: []driver.Locator{
			`a[href*="/account"]`,
			`[data-testid="account-menu"]`,
		},
		IndicatorWords: []string{"my account", "account", "hello"},
		CartCountLocators: []driver.Locator{
			`a[href="/viewcart"] span`,
			`[data-testid="cart-count"]`,
			`span[class*="cart-count"]`,
		},
		SuccessMessages: []string{"Added to cart", "Item added to cart", "Successfully added"},
		AddressForm: []driver.Locator{
			`input[name="pincode"]`,
			`textarea[name="addressLine1"]`,
		},
		Address: AddressFields{
			Name:       `input[name="name"]`,
			Phone:      `input[name="phone"]`,
			PostalCode: `input[name="pincode"]`,
			Street:     `textarea[name="addressLine1"]`,
			City:       `input[name="city"]`,
		},
		AddressSubmit: []driver.Locator{
			`//button[contains(normalize-space(.), "SAVE AND DELIVER HERE")]`,
			`button[type="submit"]`,
		},
		LoginMarkers:   []string{"login", "signin"},
		CheckoutMarker: "checkout",
		CartMarker:     "viewcart",
		Actions: map[string]selector.ActionSpec{
			ActionSignIn: action(ActionSignIn, driver.Click, t,
				`a[href*="/account/login"]`,
				`//a[normalize-space(.)="Login"]`),
			ActionDismissPopup: action(ActionDismissPopup, driver.Click, t,
				"button._2KpZ6l._2doB4z"),
			ActionLoginIdentifier: action(ActionLoginIdentifier, driver.Type, t,
				`input[type="text"]`,
				`input[type="tel"]`),
			ActionLoginPassword: action(ActionLoginPassword, driver.Type, t,
				`input[type="password"]`),
			ActionLoginSubmit: action(ActionLoginSubmit, driver.Click, t,
				`button[type="submit"]`),
			ActionAddToCart: action(ActionAddToCart, driver.Click, t,
				"button._2KpZ6l._2U9uOA._3v1-ww",
				`//button[contains(translate(normalize-space(.), "abcdefghijklmnopqrstuvwxyz", "ABCDEFGHIJKLMNOPQRSTUVWXYZ"), "ADD TO CART")]`),
			ActionCartItems: action(ActionCartItems, driver.CountExists, t,
				`[data-testid="cart-item"]`,
				`//button[contains(normalize-space(.), "PLACE ORDER")]`),
			ActionCheckout: action(ActionCheckout, driver.ClickNavigate, t,
				`//button[.//span[contains(normalize-space(.), "PLACE ORDER")]]`,
				`//button[contains(normalize-space(.), "PLACE ORDER")]`),
			ActionCaptchaInput: action(ActionCaptchaInput, driver.Type, t, captchaInputs...),
		},
	}
}

func myntra(t time.Duration) *Platform {
	base := "https://www.myntra.com"
	return &Platform{
		ID:      Myntra,
		BaseURL: base,
		LoginURLs: []string{
			base + "/login",
			base,
		},
		CartURLs: []string{base + "/checkout/cart"},
		AccountIndicators: []driver.Locator{
			".desktop-userTitle",
			".desktop-user",
		},
		IndicatorWords: []string{"hello", "account"},
		CartCountLocators: []driver.Locator{
			".desktop-badge",
			`span[class*="cart-count"]`,
		},
		SuccessMessages: []string{"Added to bag", "Go to bag", "Successfully added"},
		AddressForm: []driver.Locator{
			`input[id="name"]`,
			`input[id="pincode"]`,
		},
		Address: AddressFields{
			Name:       `input[id="name"]`,
			Phone:      `input[id="mobile"]`,
			PostalCode: `input[id="pincode"]`,
			Street:     `input[id="streetAddress"]`,
			City:       `input[id="city"]`,
		},
		AddressSubmit: []driver.Locator{
			`//div[contains(@class, "addressFormUI-base-saveBtn")]`,
			`button[type="submit"]`,
		},
		LoginMarkers: []string{"login", "signin"},
		// Myntra's cart lives under /checkout/cart.
		CheckoutMarker: "/checkout/",
		CartMarker:     "/checkout/cart",
		Actions: map[string]selector.ActionSpec{
			ActionSignIn: action(ActionSignIn, driver.Click, t,
				`a[href*="/login"]`,
				".desktop-userIconsContainer"),
			ActionLoginIdentifier: action(ActionLoginIdentifier, driver.Type, t,
				"input.mobileNumberInput",
				`input[type="tel"]`),
			ActionLoginContinue: action(ActionLoginContinue, driver.Click, t,
				".submitBottomOption",
				`//div[contains(normalize-space(.), "CONTINUE")]`),
			ActionLoginPassword: action(ActionLoginPassword, driver.Type, t,
				`input[type="password"]`),
			ActionLoginSubmit: action(ActionLoginSubmit, driver.Click, t,
				`button[type="submit"]`),
			ActionAddToCart: action(ActionAddToCart, driver.Click, t,
				".pdp-add-to-bag",
				`//div[contains(normalize-space(.), "ADD TO BAG")]`),
			ActionCartItems: action(ActionCartItems, driver.CountExists, t,
				".itemContainer-base-item",
				`[data-testid="cart-item"]`),
			ActionCheckout: action(ActionCheckout, driver.ClickNavigate, t,
				`//div[contains(@class, "button-base-button") and contains(normalize-space(.), "PLACE ORDER")]`,
				`//button[contains(normalize-space(.), "PLACE ORDER")]`),
			ActionCaptchaInput: action(ActionCaptchaInput, driver.Type, t, captchaInputs...),
		},
	}
}
