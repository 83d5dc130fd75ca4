package platform

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cartpilot/internal/apperr"
	"cartpilot/internal/driver"
)

func TestResolve(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url     string
		want    ID
		wantErr bool
	}{
		{"https://www.amazon.in/dp/B0ABCDEFGH", Amazon, false},
		{"https://AMAZON.com/gp/product/x", Amazon, false},
		{"https://www.flipkart.com/p/itm123", Flipkart, false},
		{"https://www.myntra.com/shoes/123", Myntra, false},
		{"https://example.com/product", "", true},
		{"not a url", "", true},
		{"", "", true},
		{"://bad", "", true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.url, func(t *testing.T) {
			t.Parallel()
			got, err := Resolve(tt.url)
			if tt.wantErr {
				require.ErrorIs(t, err, apperr.ErrUnsupportedPlatform)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProductID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		url    string
		id     ID
		want   string
		wantOK bool
	}{
		{"asin", "https://www.amazon.in/Some-Thing/dp/B0C1234567/ref=sr_1", Amazon, "B0C1234567", true},
		{"asin too short", "https://www.amazon.in/dp/B0C12", Amazon, "", false},
		{"flipkart slug", "https://www.flipkart.com/x/p/itmabc123?pid=1", Flipkart, "itmabc123", true},
		{"myntra unsupported", "https://www.myntra.com/123/buy", Myntra, "", false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := ProductID(tt.url, tt.id)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPlatformMarkers(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil, 0)
	amz, err := r.Lookup(Amazon)
	require.NoError(t, err)
	myn, err := r.Lookup(Myntra)
	require.NoError(t, err)

	assert.True(t, amz.HasLoginMarker("https://www.amazon.in/ap/signin?openid=x"))
	assert.True(t, amz.HasLoginMarker("https://www.amazon.in/gp/sign-in.html"))
	assert.False(t, amz.HasLoginMarker("https://www.amazon.in/dp/B0C1234567"))

	assert.True(t, amz.IsCheckoutURL("https://www.amazon.in/gp/buy/checkout/handlers/display.html"))
	assert.False(t, amz.IsCheckoutURL("https://www.amazon.in/gp/cart/view.html"))
	assert.False(t, amz.IsCheckoutURL("https://www.amazon.in/checkout/entry/cart"))

	assert.True(t, myn.IsCheckoutURL("https://www.myntra.com/checkout/address"))
	assert.False(t, myn.IsCheckoutURL("https://www.myntra.com/checkout/cart"))

	assert.True(t, amz.IsHomepage("https://www.amazon.in/"))
	assert.False(t, amz.IsHomepage("https://www.amazon.in/ap/signin"))
}

func TestRegistryDefaults(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil, 3*time.Second)
	for _, id := range []ID{Amazon, Flipkart, Myntra} {
		p, err := r.Lookup(id)
		require.NoError(t, err, id)
		assert.NotEmpty(t, p.LoginURLs, id)
		assert.NotEmpty(t, p.CartURLs, id)
		assert.False(t, p.Action(ActionAddToCart).Empty(), id)
		assert.Equal(t, driver.ClickNavigate, p.Action(ActionCheckout).Kind, id)
		assert.Equal(t, 3*time.Second, p.Action(ActionCheckout).Timeout, id)
	}

	_, err := r.Lookup("ebay")
	assert.ErrorIs(t, err, apperr.ErrUnsupportedPlatform)
}

func TestRegistryOverrides(t *testing.T) {
	t.Parallel()

	r := NewRegistry(map[string]map[string][]string{
		"amazon": {
			ActionAddToCart: {"#buy-box-add"},
			"wishlist":      {"#add-to-wishlist"},
			ActionCheckout:  nil,
		},
	}, 0)

	p, err := r.Lookup(Amazon)
	require.NoError(t, err)

	atc := p.Action(ActionAddToCart)
	assert.Equal(t, []driver.Locator{"#buy-box-add"}, atc.Candidates)
	assert.Equal(t, driver.Click, atc.Kind, "kind survives an override")
	assert.Equal(t, "wishlist", p.Action("wishlist").Name)
	assert.NotEmpty(t, p.Action(ActionCheckout).Candidates, "empty override keeps defaults")

	pristine := NewRegistry(nil, 0)
	orig, _ := pristine.Lookup(Amazon)
	assert.NotEqual(t, atc.Candidates, orig.Action(ActionAddToCart).Candidates)
}

func TestAddressLocators(t *testing.T) {
	t.Parallel()

	a := AddressFields{Name: "#n", City: "#c"}
	assert.Equal(t, []driver.Locator{"#n", "#c"}, a.Locators())
}

func TestResolveURL(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil, 0)
	p, err := r.ResolveURL("https://www.flipkart.com/p/itm1")
	require.NoError(t, err)
	assert.Equal(t, Flipkart, p.ID)
	assert.True(t, p.IsHomepage("https://www.flipkart.com"))
}
