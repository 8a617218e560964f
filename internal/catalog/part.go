// Package catalog resolves BOM rows against distributor part catalogs.
//
// Each vendor backend implements the Resolver contract: one BOM row in,
// a finite ordered list of outcomes out, ending in exactly one terminal
// outcome (found or not_found). Vendor call failures degrade to "no match
// for this candidate" so a flaky API never aborts a row.
package catalog

import (
	"context"
	"sort"

	"github.com/fabworks/bomcheck/internal/bom"
)

// Part availability statuses, as shown to the client.
const (
	StatusInStock    = "In Stock"
	StatusOutOfStock = "Out of Stock"
	StatusNotFound   = "Not Found"
)

// PriceBreak is one (quantity threshold, unit price) pair.
type PriceBreak struct {
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

// Part is a normalized distributor part record. It is assembled once per
// resolution attempt and never mutated afterwards.
//
// PriceBreaks is sorted ascending by quantity and Price always equals the
// lowest break's price when any breaks exist.
type Part struct {
	MPN                  string       `json:"mpn"`
	Manufacturer         string       `json:"manufacturer"`
	Description          string       `json:"description"`
	DigiKeyPN            string       `json:"digikey_pn,omitempty"`
	MouserPN             string       `json:"mouser_pn,omitempty"`
	Status               string       `json:"status"`
	QuantityAvailable    int          `json:"quantity_available"`
	Price                float64      `json:"price"`
	PriceBreaks          []PriceBreak `json:"price_breaks"`
	MinimumOrderQuantity int          `json:"minimum_order_quantity"`
	LeadTimeWeeks        *int         `json:"lead_time_weeks"`
	ProductStatus        string       `json:"product_status"`
	Source               string       `json:"source"`
	Substitutes          []*Part      `json:"substitutes,omitempty"`
}

// OutcomeKind tags one resolver outcome.
type OutcomeKind string

const (
	// OutcomeFound is terminal: an in-stock match, no further candidates tried.
	OutcomeFound OutcomeKind = "found"

	// OutcomeNotFound is terminal: all candidates exhausted without stock.
	OutcomeNotFound OutcomeKind = "not_found"

	// OutcomeError is informational: one candidate lookup failed. Resolution
	// continues with the remaining candidates.
	OutcomeError OutcomeKind = "error"
)

// Outcome is one tagged result from resolving a row.
type Outcome struct {
	Kind OutcomeKind
	Part *Part  // found and not_found outcomes
	MPN  string // error outcomes: the candidate that failed
	Err  error  // error outcomes only
}

// Resolver resolves a single BOM row against one vendor catalog.
//
// The returned outcomes are ordered: zero or more error outcomes, then
// exactly one terminal outcome. Implementations must be safe for use by
// concurrent streams; a single instance per vendor serves the process.
type Resolver interface {
	Source() string
	Resolve(ctx context.Context, row bom.Row) []Outcome
}

// maxSubstitutes bounds the substitute lookup issued for an out-of-stock
// fallback record.
const maxSubstitutes = 5

// placeholder builds the record yielded when no candidate produced any
// product at all.
func placeholder(row bom.Row, source string) *Part {
	mpn := "Unknown"
	if len(row.MPNs) > 0 {
		mpn = row.MPNs[0]
	}
	return &Part{
		MPN:          mpn,
		Manufacturer: row.Manufacturer,
		Description:  "Part not found",
		Status:       StatusNotFound,
		PriceBreaks:  []PriceBreak{},
		Source:       source,
	}
}

// sortBreaks orders price breaks ascending by quantity and returns the
// unit price at the lowest break.
func sortBreaks(breaks []PriceBreak) ([]PriceBreak, float64) {
	sort.Slice(breaks, func(i, j int) bool { return breaks[i].Quantity < breaks[j].Quantity })
	if len(breaks) == 0 {
		return []PriceBreak{}, 0
	}
	return breaks, breaks[0].Price
}

func stockStatus(qty int) string {
	if qty > 0 {
		return StatusInStock
	}
	return StatusOutOfStock
}
