package market

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func validInput() ListingInput {
	return ListingInput{
		ProjectName:    "Katingan Mentaya Peatland Restoration",
		Standard:       "Verra",
		VintageYear:    2020,
		Geography:      "Indonesia",
		QuantityTons:   100,
		AskPricePerTon: decimal.NewFromInt(12),
	}
}

func TestValidateListingAccepts(t *testing.T) {
	if err := ValidateListing(validInput()); err != nil {
		t.Fatalf("valid input rejected: %v", err)
	}
}

func TestValidateListingFirstFailingField(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*ListingInput)
		wantField string
	}{
		{"short project name", func(in *ListingInput) { in.ProjectName = "ab" }, "project_name"},
		{"whitespace project name", func(in *ListingInput) { in.ProjectName = "   " }, "project_name"},
		{"unknown standard", func(in *ListingInput) { in.Standard = "TotallyMadeUp" }, "standard"},
		{"vintage too old", func(in *ListingInput) { in.VintageYear = 2004 }, "vintage_year"},
		{"vintage in future", func(in *ListingInput) { in.VintageYear = time.Now().UTC().Year() + 1 }, "vintage_year"},
		{"short geography", func(in *ListingInput) { in.Geography = "X" }, "geography"},
		{"zero quantity", func(in *ListingInput) { in.QuantityTons = 0 }, "quantity_tons"},
		{"negative quantity", func(in *ListingInput) { in.QuantityTons = -5 }, "quantity_tons"},
		{"zero price", func(in *ListingInput) { in.AskPricePerTon = decimal.Zero }, "ask_price_per_ton"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mutate(&in)
			err := ValidateListing(in)
			if err == nil {
				t.Fatalf("expected rejection, got nil")
			}
			if err.Kind != KindInvalidInput {
				t.Errorf("kind = %s, want %s", err.Kind, KindInvalidInput)
			}
			if err.Field != tt.wantField {
				t.Errorf("field = %q, want %q", err.Field, tt.wantField)
			}
		})
	}
}

func TestValidateListingFirstFailureWins(t *testing.T) {
	in := validInput()
	in.ProjectName = "x"
	in.VintageYear = 1990
	err := ValidateListing(in)
	if err == nil {
		t.Fatal("expected rejection")
	}
	if err.Field != "project_name" {
		t.Errorf("field = %q, want project_name (first failing field)", err.Field)
	}
}

func TestIsRecognizedStandard(t *testing.T) {
	accepted := []string{"Verra", "verra vcs", "Gold Standard (GS)", "ACR", "American Carbon Registry", "Climate Action Reserve", "CAR"}
	for _, s := range accepted {
		if !IsRecognizedStandard(s) {
			t.Errorf("IsRecognizedStandard(%q) = false, want true", s)
		}
	}
	rejected := []string{"", "Bespoke Registry", "ISO 9001"}
	for _, s := range rejected {
		if IsRecognizedStandard(s) {
			t.Errorf("IsRecognizedStandard(%q) = true, want false", s)
		}
	}
}
