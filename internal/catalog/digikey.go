package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fabworks/bomcheck/internal/bom"
	"github.com/fabworks/bomcheck/internal/config"
)

const (
	dkProductionBase = "https://api.digikey.com"
	dkSandboxBase    = "https://api-sandbox.digikey.com"
	dkSearchPath     = "/products/v4/search/keyword"
	dkTokenPath      = "/v1/oauth2/token"

	vendorTimeout = 20 * time.Second
)

// DigiKey resolves rows against the DigiKey product search API.
// One instance serves all concurrent streams; the token cache is the only
// shared mutable state and is synchronized internally.
type DigiKey struct {
	clientID string
	base     string
	client   *http.Client
	tokens   *tokenSource
}

// NewDigiKey builds a resolver from configuration. The base URL override
// exists for tests; otherwise sandbox mode picks the sandbox host.
func NewDigiKey(cfg config.DigiKeyConfig) *DigiKey {
	base := cfg.BaseURL
	if base == "" {
		base = dkProductionBase
		if cfg.Sandbox {
			base = dkSandboxBase
		}
	}
	client := &http.Client{Timeout: vendorTimeout}
	return &DigiKey{
		clientID: cfg.ClientID,
		base:     base,
		client:   client,
		tokens:   newTokenSource(base+dkTokenPath, cfg.ClientID, cfg.ClientSecret, cfg.TokenFile, client),
	}
}

// Source implements Resolver.
func (d *DigiKey) Source() string { return "DigiKey" }

// Resolve implements Resolver. Candidates are tried in listed order; the
// first in-stock match wins and stops the scan. With no in-stock hit, the
// first out-of-stock record becomes the fallback and gets one bounded
// substitute lookup before the terminal not_found.
func (d *DigiKey) Resolve(ctx context.Context, row bom.Row) []Outcome {
	var fallback *Part

	for _, mpn := range row.MPNs {
		product, err := d.search(ctx, mpn, row.Manufacturer)
		if err != nil {
			// A failed candidate is "no match", never a failed row.
			slog.Warn("digikey search failed", "mpn", mpn, "error", err)
			continue
		}
		if product == nil {
			continue
		}

		part := d.normalize(product)
		part.MPN = mpn
		if part.Status == StatusInStock {
			return []Outcome{{Kind: OutcomeFound, Part: part}}
		}
		if fallback == nil {
			fallback = part
		}
	}

	if fallback != nil && fallback.DigiKeyPN != "" {
		subs, err := d.substitutes(ctx, fallback.DigiKeyPN)
		if err != nil {
			slog.Warn("digikey substitute search failed", "digikey_pn", fallback.DigiKeyPN, "error", err)
		} else {
			fallback.Substitutes = subs
		}
	}
	if fallback == nil {
		fallback = placeholder(row, d.Source())
	}
	return []Outcome{{Kind: OutcomeNotFound, Part: fallback}}
}

// search runs an exact manufacturer-part-number keyword search and returns
// the first matching product, or nil when nothing matched.
func (d *DigiKey) search(ctx context.Context, mpn, manufacturer string) (*dkProduct, error) {
	payload, err := json.Marshal(dkSearchRequest{
		Keywords:                    strings.TrimSpace(manufacturer + " " + mpn),
		RecordCount:                 20,
		ExactManufacturerPartNumber: true,
		SearchOptions:               []string{"ManufacturerPartSearch"},
	})
	if err != nil {
		return nil, err
	}

	resp, err := d.doAuthorized(ctx, http.MethodPost, d.base+dkSearchPath, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("keyword search returned %s", resp.Status)
	}

	var out struct {
		Products []dkProduct `json:"Products"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	if len(out.Products) == 0 {
		return nil, nil
	}
	return &out.Products[0], nil
}

// substitutes fetches vendor-suggested alternatives for a DigiKey product
// number, bounded to maxSubstitutes.
func (d *DigiKey) substitutes(ctx context.Context, digikeyPN string) ([]*Part, error) {
	url := fmt.Sprintf("%s/products/v4/search/%s/substitutions", d.base, digikeyPN)
	resp, err := d.doAuthorized(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("substitute search returned %s", resp.Status)
	}

	var out struct {
		ProductSubstitutes []dkProduct `json:"ProductSubstitutes"`
		Products           []dkProduct `json:"Products"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode substitute response: %w", err)
	}

	products := out.ProductSubstitutes
	if len(products) == 0 {
		products = out.Products
	}
	if len(products) > maxSubstitutes {
		products = products[:maxSubstitutes]
	}

	subs := make([]*Part, len(products))
	for i := range products {
		subs[i] = d.normalize(&products[i])
	}
	return subs, nil
}

// doAuthorized sends a bearer-authenticated request, transparently
// re-authenticating exactly once when the API rejects the token.
func (d *DigiKey) doAuthorized(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		token, err := d.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire token: %w", err)
		}

		var reader *bytes.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		} else {
			reader = bytes.NewReader(nil)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("X-DIGIKEY-Client-Id", d.clientID)
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			resp.Body.Close()
			d.tokens.Invalidate()
			continue
		}
		return resp, nil
	}
}

// normalize trims a DigiKey product payload down to the part record the
// client consumes.
func (d *DigiKey) normalize(p *dkProduct) *Part {
	variation := p.firstVariation()

	breaks := make([]PriceBreak, 0, 4)
	pricing := p.StandardPricing
	if variation != nil && len(variation.StandardPricing) > 0 {
		pricing = variation.StandardPricing
	}
	for _, br := range pricing {
		breaks = append(breaks, PriceBreak{Quantity: br.BreakQuantity, Price: br.UnitPrice})
	}
	// No break table: synthesize one break from the flat unit price.
	if len(breaks) == 0 && p.UnitPrice > 0 {
		breaks = append(breaks, PriceBreak{Quantity: 1, Price: p.UnitPrice})
	}
	breaks, unitPrice := sortBreaks(breaks)

	digikeyPN := p.DigiKeyProductNumber
	moq := 0
	if variation != nil {
		if variation.DigiKeyProductNumber != "" {
			digikeyPN = variation.DigiKeyProductNumber
		}
		moq = variation.MinimumOrderQuantity
	}

	return &Part{
		MPN:                  p.partNumber(),
		Manufacturer:         p.Manufacturer.name(),
		Description:          p.Description.Text,
		DigiKeyPN:            digikeyPN,
		Status:               stockStatus(p.QuantityAvailable),
		QuantityAvailable:    p.QuantityAvailable,
		Price:                unitPrice,
		PriceBreaks:          breaks,
		MinimumOrderQuantity: moq,
		LeadTimeWeeks:        parseLeadWeeks(string(p.ManufacturerLeadWeeks)),
		ProductStatus:        p.ProductStatus.Status,
		Source:               d.Source(),
	}
}

// DigiKey wire types. Field sets vary across API versions, so decoding is
// permissive: alternative spellings are all carried and collapsed in
// normalize.

type dkSearchRequest struct {
	Keywords                    string   `json:"Keywords"`
	RecordCount                 int      `json:"RecordCount"`
	ExactManufacturerPartNumber bool     `json:"ExactManufacturerPartNumber"`
	SearchOptions               []string `json:"SearchOptions"`
}

type dkProduct struct {
	ManufacturerPartNumber    string         `json:"ManufacturerPartNumber"`
	ManufacturerProductNumber string         `json:"ManufacturerProductNumber"`
	Manufacturer              dkManufacturer `json:"Manufacturer"`
	Description               dkDescription  `json:"Description"`
	DigiKeyProductNumber      string         `json:"DigiKeyProductNumber"`
	QuantityAvailable         int            `json:"QuantityAvailable"`
	UnitPrice                 float64        `json:"UnitPrice"`
	StandardPricing           []dkPriceBreak `json:"StandardPricing"`
	ProductVariations         []dkVariation  `json:"ProductVariations"`
	ManufacturerLeadWeeks     flexString     `json:"ManufacturerLeadWeeks"`
	ProductStatus             dkStatus       `json:"ProductStatus"`
}

func (p *dkProduct) partNumber() string {
	if p.ManufacturerPartNumber != "" {
		return p.ManufacturerPartNumber
	}
	return p.ManufacturerProductNumber
}

func (p *dkProduct) firstVariation() *dkVariation {
	if len(p.ProductVariations) == 0 {
		return nil
	}
	return &p.ProductVariations[0]
}

type dkVariation struct {
	DigiKeyProductNumber string         `json:"DigiKeyProductNumber"`
	MinimumOrderQuantity int            `json:"MinimumOrderQuantity"`
	StandardPricing      []dkPriceBreak `json:"StandardPricing"`
}

type dkPriceBreak struct {
	BreakQuantity int     `json:"BreakQuantity"`
	UnitPrice     float64 `json:"UnitPrice"`
}

type dkManufacturer struct {
	Name  string `json:"Name"`
	Value string `json:"Value"`
}

func (m dkManufacturer) name() string {
	if m.Name != "" {
		return m.Name
	}
	return m.Value
}

type dkStatus struct {
	Status string `json:"Status"`
}

// dkDescription accepts both the bare-string and the nested-object shape
// the API has used for product descriptions.
type dkDescription struct {
	Text string
}

func (d *dkDescription) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		d.Text = s
		return nil
	}
	var obj struct {
		ProductDescription string `json:"ProductDescription"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	d.Text = obj.ProductDescription
	return nil
}

// flexString decodes a JSON string or number into a string, tolerating
// null and other shapes as empty.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		*f = flexString(n.String())
		return nil
	}
	*f = ""
	return nil
}

// parseLeadWeeks parses a lead time like "4" or "12 Weeks" into weeks.
// Non-numeric lead times are absent, not an error.
func parseLeadWeeks(raw string) *int {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return nil
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil
	}
	return &n
}
