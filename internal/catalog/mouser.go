package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/fabworks/bomcheck/internal/bom"
	"github.com/fabworks/bomcheck/internal/config"
)

// Mouser resolves rows against the Mouser keyword search API.
// Unlike DigiKey it authenticates per request with an API key, so there is
// no token state; the instance is trivially safe for concurrent streams.
type Mouser struct {
	apiKey string
	base   string
	client *http.Client
}

// NewMouser builds a resolver from configuration.
func NewMouser(cfg config.MouserConfig) *Mouser {
	return &Mouser{
		apiKey: cfg.APIKey,
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		client: &http.Client{Timeout: vendorTimeout},
	}
}

// Source implements Resolver.
func (m *Mouser) Source() string { return "Mouser" }

// Resolve implements Resolver. Same candidate scan as DigiKey with one
// difference: a failed candidate additionally surfaces an error outcome
// alongside continuing, so the client can show partial failures.
func (m *Mouser) Resolve(ctx context.Context, row bom.Row) []Outcome {
	if len(row.MPNs) == 0 {
		p := placeholder(row, m.Source())
		p.Status = "No MPN in BOM row"
		return []Outcome{{Kind: OutcomeNotFound, Part: p}}
	}

	var outcomes []Outcome
	var fallback *Part

	for _, mpn := range row.MPNs {
		product, err := m.search(ctx, mpn)
		if err != nil {
			outcomes = append(outcomes, Outcome{Kind: OutcomeError, MPN: mpn, Err: err})
			continue
		}
		if product == nil {
			continue
		}

		part := m.normalize(product)
		part.MPN = mpn
		if part.Status == StatusInStock {
			return append(outcomes, Outcome{Kind: OutcomeFound, Part: part})
		}
		if fallback == nil {
			fallback = part
		}
	}

	if fallback == nil {
		fallback = placeholder(row, m.Source())
	}
	return append(outcomes, Outcome{Kind: OutcomeNotFound, Part: fallback})
}

// search runs a keyword search and returns the first part, or nil.
func (m *Mouser) search(ctx context.Context, mpn string) (*mPart, error) {
	payload, err := json.Marshal(mSearchRequest{
		SearchByKeywordRequest: mKeywordRequest{
			Keyword:        mpn,
			Records:        10,
			StartingRecord: 0,
			SearchOptions:  "None",
		},
	})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/search/keyword?apiKey=%s", m.base, m.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("keyword search returned %s", resp.Status)
	}

	var out mSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	parts := out.Parts
	if out.SearchResults != nil {
		parts = out.SearchResults.Parts
	}
	if len(parts) == 0 {
		return nil, nil
	}
	return &parts[0], nil
}

// normalize trims a Mouser part payload down to the record the client
// consumes. Mouser fields arrive as display strings ("1,234 In Stock",
// "$0.23", "12 Weeks") and are parsed permissively.
func (m *Mouser) normalize(p *mPart) *Part {
	qty := parseAvailability(p.Availability)

	breaks := make([]PriceBreak, 0, len(p.PriceBreaks))
	for _, br := range p.PriceBreaks {
		breaks = append(breaks, PriceBreak{
			Quantity: atoiSafe(string(br.Quantity)),
			Price:    parsePrice(br.Price),
		})
	}
	breaks, unitPrice := sortBreaks(breaks)

	return &Part{
		MPN:                  p.MouserPartNumber,
		Manufacturer:         p.Manufacturer,
		Description:          p.Description,
		MouserPN:             p.MouserPartNumber,
		Status:               stockStatus(qty),
		QuantityAvailable:    qty,
		Price:                unitPrice,
		PriceBreaks:          breaks,
		MinimumOrderQuantity: atoiSafe(string(p.Min)),
		LeadTimeWeeks:        parseLeadWeeks(p.LeadTime),
		ProductStatus:        p.LifecycleStatus,
		Source:               m.Source(),
	}
}

// parseAvailability extracts the stock count from strings like
// "1,234 In Stock", "0", "None" or "".
func parseAvailability(raw string) int {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return 0
	}
	return atoiSafe(strings.ReplaceAll(fields[0], ",", ""))
}

// parsePrice strips currency decoration from strings like "$1.02".
func parsePrice(raw string) float64 {
	cleaned := strings.TrimSpace(strings.ReplaceAll(strings.ReplaceAll(raw, "$", ""), ",", ""))
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0
	}
	return f
}

func atoiSafe(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return n
}

// Mouser wire types. Older API responses nest parts under SearchResults;
// both shapes are accepted.

type mSearchRequest struct {
	SearchByKeywordRequest mKeywordRequest `json:"SearchByKeywordRequest"`
}

type mKeywordRequest struct {
	Keyword        string `json:"keyword"`
	Records        int    `json:"records"`
	StartingRecord int    `json:"startingRecord"`
	SearchOptions  string `json:"searchOptions"`
}

type mSearchResponse struct {
	SearchResults *mResults `json:"SearchResults"`
	Parts         []mPart   `json:"Parts"`
}

type mResults struct {
	Parts []mPart `json:"Parts"`
}

type mPart struct {
	MouserPartNumber string       `json:"MouserPartNumber"`
	Manufacturer     string       `json:"Manufacturer"`
	Description      string       `json:"Description"`
	Availability     string       `json:"Availability"`
	Min              flexString   `json:"Min"`
	LeadTime         string       `json:"LeadTime"`
	LifecycleStatus  string       `json:"LifecycleStatus"`
	PriceBreaks      []mPriceBreak `json:"PriceBreaks"`
}

type mPriceBreak struct {
	Quantity flexString `json:"Quantity"`
	Price    string     `json:"Price"`
}
