package market

import (
	"strings"

	"github.com/carbonpit/carbonpit/pkg/models"
)

// CanonicalProject is a fixed reference record used to validate demo lot
// authenticity: one canonical standard, one canonical geography, and a valid
// vintage range per named project.
type CanonicalProject struct {
	Name       string
	Aliases    []string
	Standard   string
	Geography  string
	MinVintage int
	MaxVintage int
}

// CanonicalProjects is the registry of known demo projects. Name, standard,
// and geography matching is case-insensitive and whitespace-normalized.
var CanonicalProjects = []CanonicalProject{
	{
		Name:       "Katingan Mentaya Peatland Restoration",
		Aliases:    []string{"katingan mentaya", "katingan"},
		Standard:   "Verra",
		Geography:  "Indonesia",
		MinVintage: 2017,
		MaxVintage: 2024,
	},
	{
		Name:       "Southern Cardamom REDD+",
		Aliases:    []string{"southern cardamom"},
		Standard:   "Verra",
		Geography:  "Cambodia",
		MinVintage: 2018,
		MaxVintage: 2024,
	},
	{
		Name:       "Kasigau Corridor REDD+",
		Aliases:    []string{"kasigau corridor"},
		Standard:   "Verra",
		Geography:  "Kenya",
		MinVintage: 2016,
		MaxVintage: 2024,
	},
	{
		Name:       "Bagepalli Clean Cookstoves",
		Aliases:    []string{"bagepalli cookstoves"},
		Standard:   "Gold Standard",
		Geography:  "India",
		MinVintage: 2015,
		MaxVintage: 2024,
	},
	{
		Name:       "Guanaré Forest Conservation",
		Aliases:    []string{"guanaré conservation"},
		Standard:   "ACR",
		Geography:  "Colombia",
		MinVintage: 2017,
		MaxVintage: 2024,
	},
	{
		Name:       "Yurok Improved Forest Management",
		Aliases:    []string{"yurok ifm"},
		Standard:   "CAR",
		Geography:  "United States",
		MinVintage: 2014,
		MaxVintage: 2024,
	},
}

// normalizeText lowercases, trims, and collapses internal whitespace.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// FindCanonicalProject resolves a project name (or alias) to its canonical
// registry entry, or nil when the name matches no known project.
func FindCanonicalProject(projectName string) *CanonicalProject {
	normalized := normalizeText(projectName)
	for i := range CanonicalProjects {
		p := &CanonicalProjects[i]
		if normalizeText(p.Name) == normalized {
			return p
		}
		for _, alias := range p.Aliases {
			if normalizeText(alias) == normalized {
				return p
			}
		}
	}
	return nil
}

// IsCanonicallyConsistent is the strict maintenance-time predicate: a lot is
// consistent only if its project name resolves to a canonical entry AND its
// standard, geography, and vintage year all match that entry exactly. Lots
// naming unknown projects fail this check even when they pass shape
// validation; that two-tier split is intentional (permissive at creation,
// strict for cleanup tooling).
func IsCanonicallyConsistent(lot *models.CreditLot) bool {
	canonical := FindCanonicalProject(lot.ProjectName)
	if canonical == nil {
		return false
	}
	if normalizeText(lot.Standard) != normalizeText(canonical.Standard) {
		return false
	}
	if normalizeText(lot.Geography) != normalizeText(canonical.Geography) {
		return false
	}
	if lot.VintageYear < canonical.MinVintage || lot.VintageYear > canonical.MaxVintage {
		return false
	}
	return true
}

// LotShapeValid re-applies shape validation to an already-persisted lot.
// Used by the cleanup pass, where malformed historical rows may predate
// creation-time validation.
func LotShapeValid(lot *models.CreditLot) bool {
	return ValidateListing(ListingInput{
		ProjectName:    lot.ProjectName,
		Standard:       lot.Standard,
		VintageYear:    lot.VintageYear,
		Geography:      lot.Geography,
		QuantityTons:   lot.QuantityTons,
		AskPricePerTon: lot.AskPricePerTon,
	}) == nil
}
