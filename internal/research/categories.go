package research

import "strings"

// DefaultCategories is the standard fan-out used for company research when a
// submission does not supply its own category keys.
var DefaultCategories = []string{
	"customers",
	"products",
	"features",
	"pricing",
	"positioning",
}

// categoryHeadings maps well-known category keys to report section headings.
var categoryHeadings = map[string]string{
	"customers":   "Target Customers and Audience",
	"products":    "Products and Services",
	"features":    "Key Features and Capabilities",
	"pricing":     "Pricing Structure",
	"positioning": "Market Positioning and Competitive Analysis",
}

// categoryPhrases maps well-known category keys to the research phrasing the
// analysis prompt uses. Unknown keys fall back to the key itself.
var categoryPhrases = map[string]string{
	"customers":   "customers and target audience",
	"products":    "products and services",
	"features":    "features and capabilities",
	"pricing":     "pricing information",
	"positioning": "market positioning and competitors",
}

// CategoryHeading returns the human-readable report heading for a key.
func CategoryHeading(key string) string {
	if h, ok := categoryHeadings[key]; ok {
		return h
	}
	return titleCase(key)
}

// CategoryPhrase returns the research phrasing for a key.
func CategoryPhrase(key string) string {
	if p, ok := categoryPhrases[key]; ok {
		return p
	}
	return strings.ReplaceAll(key, "_", " ")
}

func titleCase(key string) string {
	words := strings.FieldsFunc(key, func(r rune) bool {
		return r == '_' || r == '-' || r == ' '
	})
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// NormalizeCategories trims, lowercases, and de-duplicates caller-supplied
// category keys, preserving order. An empty result means the caller supplied
// nothing usable.
func NormalizeCategories(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
