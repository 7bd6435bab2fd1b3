package filters

import (
	"sort"
	"strings"

	"extranet-system/internal/services/catalog"
)

const CustomGroupHeading = "Filtres personnalisés"

type FilterOption struct {
	Code  string `json:"code"`
	Label string `json:"label"`
}

type FilterGroup struct {
	Heading string         `json:"heading"`
	Filters []FilterOption `json:"filters"`
}

// Usable reports whether a tag matching count of total products narrows the
// list at all.
func Usable(count, total int) bool {
	return 1 < count && count < total
}

func CountTags(products []catalog.Product) map[string]int {
	counts := make(map[string]int)
	for _, p := range products {
		for _, code := range p.Tags {
			counts[code]++
		}
	}
	return counts
}

// PrepareFilters classifies products and builds the filter groups offered
// for them. Static groups keep only usable codes and disappear when empty;
// usable automatic tags come last under CustomGroupHeading. The returned set
// holds every usable code.
func PrepareFilters(products []catalog.Product, threshold int) ([]catalog.Product, []FilterGroup, map[string]bool) {
	tagged, auto := Classify(products, threshold)

	counts := CountTags(tagged)
	usable := make(map[string]bool)
	for code, n := range counts {
		if Usable(n, len(tagged)) {
			usable[code] = true
		}
	}

	var groups []FilterGroup
	for _, g := range staticGroups {
		var options []FilterOption
		for _, t := range g.Tags {
			if usable[t.Code] {
				options = append(options, FilterOption{Code: t.Code, Label: t.Label})
			}
		}
		if len(options) > 0 {
			groups = append(groups, FilterGroup{Heading: g.Heading, Filters: options})
		}
	}

	var custom []FilterOption
	for code, info := range auto {
		if usable[code] {
			custom = append(custom, FilterOption{Code: code, Label: info.Label})
		}
	}
	if len(custom) > 0 {
		sort.Slice(custom, func(i, j int) bool {
			if custom[i].Label != custom[j].Label {
				return custom[i].Label < custom[j].Label
			}
			return custom[i].Code < custom[j].Code
		})
		groups = append(groups, FilterGroup{Heading: CustomGroupHeading, Filters: custom})
	}

	return tagged, groups, usable
}

// ApplyFilters keeps the products matching query (case-insensitive, on label
// or code) and carrying at least one of the active tags. An empty query or
// an empty active set skips that step. Input order is preserved.
func ApplyFilters(products []catalog.Product, active []string, query string) []catalog.Product {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" && len(active) == 0 {
		return products
	}

	activeSet := make(map[string]struct{}, len(active))
	for _, code := range active {
		activeSet[code] = struct{}{}
	}

	out := make([]catalog.Product, 0, len(products))
	for _, p := range products {
		if query != "" &&
			!strings.Contains(strings.ToLower(p.Label), query) &&
			!strings.Contains(strings.ToLower(p.Code), query) {
			continue
		}
		if len(activeSet) > 0 && !hasAny(p.Tags, activeSet) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func hasAny(tags []string, set map[string]struct{}) bool {
	for _, t := range tags {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}

// View is a filtered catalog page ready to render.
type View struct {
	Products []catalog.Product `json:"products"`
	Groups   []FilterGroup     `json:"filters"`
	Active   []string          `json:"active"`
	Query    string            `json:"query"`
	Total    int               `json:"total"`
}

// Browse classifies products, builds the filter groups and applies the
// selection.
func Browse(products []catalog.Product, threshold int, active []string, query string) View {
	tagged, groups, _ := PrepareFilters(products, threshold)
	if active == nil {
		active = []string{}
	}

	return View{
		Products: ApplyFilters(tagged, active, query),
		Groups:   groups,
		Active:   active,
		Query:    strings.TrimSpace(query),
		Total:    len(tagged),
	}
}
