package scrapers

import (
	"strings"

	"github.com/ekaya-inc/ekaya-watch/pkg/models"
)

// Permit significance.
var permitKeywords = []string{
	"multi", "apartment", "condo", "mixed", "commercial", "office", "retail", "industrial",
}

const (
	permitValueThreshold = 500_000
	permitBasePriority   = 5
	permitTitleMaxLen    = 200
)

// permitValueTiers are checked highest first.
var permitValueTiers = []struct {
	over     float64
	priority int
}{
	{10_000_000, 9},
	{5_000_000, 8},
	{1_000_000, 7},
}

// IsSignificantPermit keeps permits that mention a commercial or multi-unit use,
// or whose construction value exceeds the threshold.
func IsSignificantPermit(permitType, description, occupancy string, value float64) bool {
	if value > permitValueThreshold {
		return true
	}
	text := strings.ToLower(permitType + " " + description + " " + occupancy)
	return containsAny(text, permitKeywords)
}

// PermitPriority is the highest of the value tier and the multi-unit bonus.
func PermitPriority(description string, value float64) int {
	priority := permitBasePriority
	for _, tier := range permitValueTiers {
		if value > tier.over {
			priority = tier.priority
			break
		}
	}
	desc := strings.ToLower(description)
	if strings.Contains(desc, "multi") || strings.Contains(desc, "apartment") {
		priority = max(priority, 8)
	}
	return models.ClampPriority(priority)
}

// Filing significance. Amendments ("/A") share their base form's treatment.
var significantFilingTypes = map[string]bool{
	"8-K":     true,
	"10-Q":    true,
	"10-K":    true,
	"DEF 14A": true,
	"DEFM14A": true,
	"S-1":     true,
	"S-3":     true,
	"S-4":     true,
	"SC 13D":  true,
	"SC 13G":  true,
}

// filingPriorities is ordered so that more specific forms match first.
var filingPriorities = []struct {
	contains string
	priority int
}{
	{"DEFM14A", 9},
	{"S-4", 9},
	{"8-K", 8},
	{"S-1", 8},
	{"S-3", 8},
	{"10-Q", 6},
	{"10-K", 6},
	{"DEF 14A", 6},
}

const filingDefaultPriority = 5

func baseFilingType(filingType string) string {
	t := strings.ToUpper(strings.Join(strings.Fields(filingType), " "))
	return strings.TrimSuffix(t, "/A")
}

// IsSignificantFiling reports whether the form type is on the allow-list.
func IsSignificantFiling(filingType string) bool {
	t := baseFilingType(filingType)
	if t == "" {
		return false
	}
	return significantFilingTypes[t] || strings.HasPrefix(t, "424B")
}

// FilingPriority ranks merger filings highest, then current reports and
// registrations, then periodic reports and proxies.
func FilingPriority(filingType string) int {
	t := baseFilingType(filingType)
	for _, p := range filingPriorities {
		if strings.Contains(t, p.contains) {
			return p.priority
		}
	}
	return filingDefaultPriority
}

// Agenda significance.
var landUseKeywords = []string{
	"rezoning", "rezone", "site plan", "subdivision", "variance",
	"conditional use", "special use", "pud", "planned unit development",
	"annexation", "plat", "mixed-use", "mixed use", "multi-family", "multifamily",
	"apartment", "residential", "commercial", "master plan", "construction",
	"building permit", "development",
}

// Agenda priorities by strategy confidence.
const (
	agendaStructuredPriority = 7
	agendaLoosePriority      = 6
)

// IsLandUseItem reports whether any of the texts mention a land-use action.
func IsLandUseItem(texts ...string) bool {
	return containsAny(strings.ToLower(strings.Join(texts, " ")), landUseKeywords)
}

func containsAny(lower string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}
