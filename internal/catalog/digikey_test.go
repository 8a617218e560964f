package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabworks/bomcheck/internal/bom"
	"github.com/fabworks/bomcheck/internal/config"
)

// dkFixture runs a fake DigiKey API. Products are keyed by MPN; searches
// for unknown MPNs return an empty product list.
type dkFixture struct {
	mu          sync.Mutex
	products    map[string]map[string]any
	substitutes map[string][]map[string]any
	failMPNs    map[string]int // MPN -> status code to fail with

	tokenCalls   int
	searched     []string
	rejectBearer string // bearer token value to reject with 401

	server *httptest.Server
}

func newDKFixture(t *testing.T) *dkFixture {
	t.Helper()
	f := &dkFixture{
		products:    map[string]map[string]any{},
		substitutes: map[string][]map[string]any{},
		failMPNs:    map[string]int{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.tokenCalls++
		n := f.tokenCalls
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": fmt.Sprintf("token-%d", n),
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/products/v4/search/keyword", func(w http.ResponseWriter, r *http.Request) {
		var req dkSearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		// Keywords is "manufacturer mpn"; the MPN is the last field.
		fields := strings.Fields(req.Keywords)
		mpn := fields[len(fields)-1]

		f.mu.Lock()
		f.searched = append(f.searched, mpn)
		reject := f.rejectBearer != "" && r.Header.Get("Authorization") == "Bearer "+f.rejectBearer
		code := f.failMPNs[mpn]
		product := f.products[mpn]
		f.mu.Unlock()

		if reject {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if code != 0 {
			w.WriteHeader(code)
			return
		}
		products := []map[string]any{}
		if product != nil {
			products = append(products, product)
		}
		json.NewEncoder(w).Encode(map[string]any{"Products": products})
	})
	mux.HandleFunc("/products/v4/search/", func(w http.ResponseWriter, r *http.Request) {
		// /products/v4/search/{pn}/substitutions
		pn := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/products/v4/search/"), "/substitutions")
		f.mu.Lock()
		subs := f.substitutes[pn]
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"ProductSubstitutes": subs})
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *dkFixture) resolver(t *testing.T) *DigiKey {
	t.Helper()
	return NewDigiKey(config.DigiKeyConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		BaseURL:      f.server.URL,
		TokenFile:    filepath.Join(t.TempDir(), "digikey_token.json"),
	})
}

func dkProductJSON(mpn string, qty int, digikeyPN string) map[string]any {
	return map[string]any{
		"ManufacturerProductNumber": mpn,
		"Manufacturer":              map[string]any{"Name": "Acme"},
		"Description":               map[string]any{"ProductDescription": "desc for " + mpn},
		"QuantityAvailable":         qty,
		"ManufacturerLeadWeeks":     "4",
		"ProductStatus":             map[string]any{"Status": "Active"},
		"ProductVariations": []map[string]any{
			{
				"DigiKeyProductNumber": digikeyPN,
				"MinimumOrderQuantity": 1,
				"StandardPricing": []map[string]any{
					{"BreakQuantity": 10, "UnitPrice": 0.95},
					{"BreakQuantity": 1, "UnitPrice": 1.02},
				},
			},
		},
	}
}

func (f *dkFixture) searchedMPNs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.searched...)
}

func TestDigiKeyFirstInStockWins(t *testing.T) {
	f := newDKFixture(t)
	f.products["ABC123"] = dkProductJSON("ABC123", 312, "ABC123-ND")
	f.products["NEVER"] = dkProductJSON("NEVER", 999, "NEVER-ND")

	outcomes := f.resolver(t).Resolve(context.Background(),
		bom.Row{MPNs: []string{"ABC123", "NEVER"}, Manufacturer: "Acme"})

	require.Len(t, outcomes, 1)
	out := outcomes[0]
	assert.Equal(t, OutcomeFound, out.Kind)
	assert.Equal(t, "ABC123", out.Part.MPN, "requested identifier wins over catalog spelling")
	assert.Equal(t, StatusInStock, out.Part.Status)
	assert.Equal(t, "DigiKey", out.Part.Source)
	assert.Equal(t, []string{"ABC123"}, f.searchedMPNs(), "later candidates must not be queried")
}

func TestDigiKeyPriceBreakNormalization(t *testing.T) {
	f := newDKFixture(t)
	f.products["ABC123"] = dkProductJSON("ABC123", 312, "ABC123-ND")

	outcomes := f.resolver(t).Resolve(context.Background(), bom.Row{MPNs: []string{"ABC123"}})
	require.Len(t, outcomes, 1)
	part := outcomes[0].Part

	require.Len(t, part.PriceBreaks, 2)
	assert.Equal(t, PriceBreak{Quantity: 1, Price: 1.02}, part.PriceBreaks[0], "breaks sorted ascending")
	assert.Equal(t, PriceBreak{Quantity: 10, Price: 0.95}, part.PriceBreaks[1])
	assert.Equal(t, 1.02, part.Price, "unit price is the lowest break")
	require.NotNil(t, part.LeadTimeWeeks)
	assert.Equal(t, 4, *part.LeadTimeWeeks)
	assert.Equal(t, "desc for ABC123", part.Description)
	assert.Equal(t, 1, part.MinimumOrderQuantity)
}

func TestDigiKeyFlatUnitPriceFallback(t *testing.T) {
	f := newDKFixture(t)
	f.products["FLAT1"] = map[string]any{
		"ManufacturerProductNumber": "FLAT1",
		"Manufacturer":              map[string]any{"Name": "Acme"},
		"Description":               "flat priced",
		"QuantityAvailable":         5,
		"UnitPrice":                 0.42,
	}

	outcomes := f.resolver(t).Resolve(context.Background(), bom.Row{MPNs: []string{"FLAT1"}})
	require.Len(t, outcomes, 1)
	part := outcomes[0].Part

	require.Len(t, part.PriceBreaks, 1)
	assert.Equal(t, PriceBreak{Quantity: 1, Price: 0.42}, part.PriceBreaks[0])
	assert.Equal(t, 0.42, part.Price)
	assert.Nil(t, part.LeadTimeWeeks, "absent lead time stays absent")
}

func TestDigiKeyOutOfStockFallbackWithSubstitutes(t *testing.T) {
	f := newDKFixture(t)
	f.products["OOS1"] = dkProductJSON("OOS1", 0, "OOS1-ND")
	f.products["OOS2"] = dkProductJSON("OOS2", 0, "OOS2-ND")
	f.substitutes["OOS1-ND"] = []map[string]any{
		dkProductJSON("SUB1", 100, "SUB1-ND"),
		dkProductJSON("SUB2", 200, "SUB2-ND"),
	}

	outcomes := f.resolver(t).Resolve(context.Background(), bom.Row{MPNs: []string{"OOS1", "OOS2"}})

	require.Len(t, outcomes, 1)
	out := outcomes[0]
	assert.Equal(t, OutcomeNotFound, out.Kind)
	assert.Equal(t, "OOS1", out.Part.MPN, "first out-of-stock candidate stays the fallback")
	assert.Equal(t, StatusOutOfStock, out.Part.Status)
	require.Len(t, out.Part.Substitutes, 2)
	assert.Equal(t, "SUB1", out.Part.Substitutes[0].MPN)
	assert.Equal(t, []string{"OOS1", "OOS2"}, f.searchedMPNs(), "all candidates tried before giving up")
}

func TestDigiKeySubstitutesBounded(t *testing.T) {
	f := newDKFixture(t)
	f.products["OOS1"] = dkProductJSON("OOS1", 0, "OOS1-ND")
	for i := 0; i < 8; i++ {
		f.substitutes["OOS1-ND"] = append(f.substitutes["OOS1-ND"],
			dkProductJSON(fmt.Sprintf("SUB%d", i), 10, fmt.Sprintf("SUB%d-ND", i)))
	}

	outcomes := f.resolver(t).Resolve(context.Background(), bom.Row{MPNs: []string{"OOS1"}})
	require.Len(t, outcomes, 1)
	assert.Len(t, outcomes[0].Part.Substitutes, maxSubstitutes)
}

func TestDigiKeyNoMatchPlaceholder(t *testing.T) {
	f := newDKFixture(t)

	outcomes := f.resolver(t).Resolve(context.Background(),
		bom.Row{MPNs: []string{"MISSING1", "MISSING2"}, Manufacturer: "Acme"})

	require.Len(t, outcomes, 1)
	out := outcomes[0]
	assert.Equal(t, OutcomeNotFound, out.Kind)
	assert.Equal(t, "MISSING1", out.Part.MPN, "placeholder carries the first requested identifier")
	assert.Equal(t, StatusNotFound, out.Part.Status)
	assert.Equal(t, "Acme", out.Part.Manufacturer)
	assert.Zero(t, out.Part.QuantityAvailable)
	assert.Zero(t, out.Part.Price)
	assert.NotNil(t, out.Part.PriceBreaks)
	assert.Empty(t, out.Part.PriceBreaks)
}

func TestDigiKeyFailedCandidateContinues(t *testing.T) {
	f := newDKFixture(t)
	f.failMPNs["BROKEN"] = http.StatusInternalServerError
	f.products["GOOD"] = dkProductJSON("GOOD", 7, "GOOD-ND")

	outcomes := f.resolver(t).Resolve(context.Background(), bom.Row{MPNs: []string{"BROKEN", "GOOD"}})

	require.Len(t, outcomes, 1)
	assert.Equal(t, OutcomeFound, outcomes[0].Kind)
	assert.Equal(t, "GOOD", outcomes[0].Part.MPN)
}

func TestDigiKeyReauthenticatesOnceOn401(t *testing.T) {
	f := newDKFixture(t)
	f.products["ABC123"] = dkProductJSON("ABC123", 10, "ABC123-ND")
	// The first issued token is rejected; the retry's fresh token passes.
	f.rejectBearer = "token-1"

	outcomes := f.resolver(t).Resolve(context.Background(), bom.Row{MPNs: []string{"ABC123"}})

	require.Len(t, outcomes, 1)
	assert.Equal(t, OutcomeFound, outcomes[0].Kind)
	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, 2, f.tokenCalls, "401 must trigger exactly one re-authentication")
}

func TestTokenCachePersistsAcrossInstances(t *testing.T) {
	f := newDKFixture(t)
	tokenFile := filepath.Join(t.TempDir(), "digikey_token.json")
	cfg := config.DigiKeyConfig{
		ClientID: "client", ClientSecret: "secret",
		BaseURL: f.server.URL, TokenFile: tokenFile,
	}

	f.products["ABC123"] = dkProductJSON("ABC123", 10, "ABC123-ND")

	_ = NewDigiKey(cfg).Resolve(context.Background(), bom.Row{MPNs: []string{"ABC123"}})
	_ = NewDigiKey(cfg).Resolve(context.Background(), bom.Row{MPNs: []string{"ABC123"}})

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, 1, f.tokenCalls, "second instance must reuse the persisted token")
}

func TestParseLeadWeeks(t *testing.T) {
	four := 4
	twelve := 12
	tests := []struct {
		raw  string
		want *int
	}{
		{"4", &four},
		{"12 Weeks", &twelve},
		{"", nil},
		{"None", nil},
		{"soon", nil},
	}
	for _, tt := range tests {
		got := parseLeadWeeks(tt.raw)
		if tt.want == nil {
			assert.Nil(t, got, "parseLeadWeeks(%q)", tt.raw)
		} else {
			require.NotNil(t, got, "parseLeadWeeks(%q)", tt.raw)
			assert.Equal(t, *tt.want, *got)
		}
	}
}
