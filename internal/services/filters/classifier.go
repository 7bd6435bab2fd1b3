package filters

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"extranet-system/internal/services/catalog"
)

const (
	DefaultThreshold   = 3
	FavoritesThreshold = 2
	AutoPrefix         = "auto_"

	minKeywordLen = 3
)

// Registry maps automatic tag codes to their label and terms.
type Registry map[string]TagInfo

// Codes returns the registry codes sorted.
func (r Registry) Codes() []string {
	codes := make([]string, 0, len(r))
	for code := range r {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// stopWords are frequent label words that never describe a category:
// articles, prepositions, units and packaging.
var stopWords = map[string]struct{}{
	"les": {}, "des": {}, "une": {}, "aux": {}, "avec": {}, "sans": {}, "pour": {}, "par": {},
	"sur": {}, "dans": {}, "the": {}, "and": {},
	"kg": {}, "gr": {}, "grs": {}, "litre": {}, "litres": {}, "env": {}, "environ": {},
	"piece": {}, "pieces": {}, "pce": {}, "pcs": {}, "sachet": {}, "sachets": {},
	"barquette": {}, "barquettes": {}, "carton": {}, "cartons": {}, "colis": {},
	"lot": {}, "lots": {}, "unite": {}, "unites": {}, "boite": {}, "seau": {}, "bidon": {},
	"vrac": {}, "poids": {}, "prix": {}, "tranche": {}, "tranches": {},
}

// singular folds the common French plural endings so "saucisses" and
// "saucisse" land in the same cluster.
func singular(word string) string {
	if utf8.RuneCountInString(word) <= minKeywordLen {
		return word
	}
	if strings.HasSuffix(word, "s") || strings.HasSuffix(word, "x") {
		return word[:len(word)-1]
	}
	return word
}

func isKeyword(token string) bool {
	if utf8.RuneCountInString(token) < minKeywordLen {
		return false
	}
	for _, r := range token {
		if unicode.IsDigit(r) {
			return false
		}
	}
	if _, stop := stopWords[token]; stop {
		return false
	}
	if _, covered := staticTerms[token]; covered {
		return false
	}
	if _, covered := staticTerms[singular(token)]; covered {
		return false
	}
	return true
}

type cluster struct {
	variants map[string]int
	products map[int]struct{}
}

// MineAutomaticTags finds keywords recurring across product labels. Variants
// sharing a singular form form one cluster, and a cluster becomes tag
// auto_<stem> once it appears in at least threshold distinct products.
func MineAutomaticTags(products []catalog.Product, threshold int) Registry {
	if threshold < 1 {
		threshold = 1
	}

	clusters := make(map[string]*cluster)
	for i, p := range products {
		for _, token := range strings.Fields(Normalize(p.Label)) {
			if !isKeyword(token) {
				continue
			}
			stem := singular(token)
			c, ok := clusters[stem]
			if !ok {
				c = &cluster{variants: make(map[string]int), products: make(map[int]struct{})}
				clusters[stem] = c
			}
			c.variants[token]++
			c.products[i] = struct{}{}
		}
	}

	registry := make(Registry)
	for stem, c := range clusters {
		if len(c.products) < threshold {
			continue
		}
		terms := make([]string, 0, len(c.variants))
		for v := range c.variants {
			terms = append(terms, v)
		}
		sort.Strings(terms)

		best := terms[0]
		for _, v := range terms[1:] {
			if c.variants[v] > c.variants[best] {
				best = v
			}
		}
		registry[AutoPrefix+stem] = TagInfo{Label: capitalize(best), Terms: terms}
	}
	return registry
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

func matches(normalized string, terms []string) bool {
	if normalized == "" {
		return false
	}
	for _, term := range terms {
		if strings.Contains(normalized, term) {
			return true
		}
	}
	return false
}

// Classify returns a copy of products with tag sets filled from the static
// registry and from the automatic tags mined out of the same list, plus the
// automatic registry. Tags already present are kept and no code appears
// twice, so classifying an already classified list changes nothing.
func Classify(products []catalog.Product, threshold int) ([]catalog.Product, Registry) {
	auto := MineAutomaticTags(products, threshold)
	autoCodes := auto.Codes()

	tagged := make([]catalog.Product, len(products))
	for i, p := range products {
		normalized := Normalize(p.Label)

		tags := make([]string, 0, len(p.Tags)+2)
		seen := make(map[string]struct{}, len(p.Tags)+2)
		add := func(code string) {
			if _, dup := seen[code]; dup {
				return
			}
			seen[code] = struct{}{}
			tags = append(tags, code)
		}

		for _, code := range p.Tags {
			add(code)
		}
		for _, g := range staticGroups {
			for _, t := range g.Tags {
				if matches(normalized, t.Terms) {
					add(t.Code)
				}
			}
		}
		for _, code := range autoCodes {
			if matches(normalized, auto[code].Terms) {
				add(code)
			}
		}

		p.Tags = tags
		tagged[i] = p
	}
	return tagged, auto
}
