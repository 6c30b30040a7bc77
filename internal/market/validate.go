package market

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MinVintageYear is the oldest vintage accepted anywhere in the marketplace.
const MinVintageYear = 2005

// recognizedStandards is the allow-list of carbon registry names. Matching is
// a case-insensitive substring check, so "Verra VCS" or "Gold Standard (GS)"
// both pass.
var recognizedStandards = []string{
	"verra",
	"vcs",
	"gold standard",
	"acr",
	"american carbon registry",
	"car",
	"climate action reserve",
}

// IsRecognizedStandard reports whether the standard text names an
// allow-listed carbon registry. This is the permissive creation-time
// predicate; canonical consistency (canonical.go) is the strict one.
func IsRecognizedStandard(standard string) bool {
	normalized := strings.ToLower(strings.TrimSpace(standard))
	for _, s := range recognizedStandards {
		if strings.Contains(normalized, s) {
			return true
		}
	}
	return false
}

// ListingInput carries the caller-supplied lot fields, pre-trim.
type ListingInput struct {
	ProjectName    string
	Standard       string
	VintageYear    int
	Geography      string
	QuantityTons   float64
	AskPricePerTon decimal.Decimal
}

// ValidateListing applies shape validation to a prospective lot and returns
// the first-failing field as an invalid_input error, or nil if the listing is
// acceptable. This check is deliberately permissive: any plausible registry
// and any geography pass, so agents can list real-world projects freely.
func ValidateListing(in ListingInput) *Error {
	if len(strings.TrimSpace(in.ProjectName)) < 3 {
		return invalidField("project_name", "Invalid project_name",
			"project_name must be at least 3 characters.")
	}
	if !IsRecognizedStandard(in.Standard) {
		return invalidField("standard", "Invalid standard",
			"standard must be a recognized carbon registry standard (e.g., Verra, VCS, Gold Standard, ACR, CAR).")
	}
	currentYear := time.Now().UTC().Year()
	if in.VintageYear < MinVintageYear || in.VintageYear > currentYear {
		return invalidField("vintage_year", "Invalid vintage_year",
			fmt.Sprintf("vintage_year must be between %d and %d.", MinVintageYear, currentYear))
	}
	if len(strings.TrimSpace(in.Geography)) < 2 {
		return invalidField("geography", "Invalid geography",
			"geography must be at least 2 characters.")
	}
	if math.IsNaN(in.QuantityTons) || math.IsInf(in.QuantityTons, 0) || in.QuantityTons <= 0 {
		return invalidField("quantity_tons", "Invalid quantity_tons",
			"quantity_tons must be a positive number.")
	}
	if !in.AskPricePerTon.IsPositive() {
		return invalidField("ask_price_per_ton", "Invalid ask_price_per_ton",
			"ask_price_per_ton must be a positive number.")
	}
	return nil
}
