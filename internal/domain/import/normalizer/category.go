package normalizer

import (
	"github.com/cloudflare/ahocorasick"
)

// Uncategorized is assigned when no keyword rule matches.
const Uncategorized = "Uncategorized"

// KeywordRule maps a list of case-insensitive substrings to a category.
type KeywordRule struct {
	Category string
	Keywords []string
}

// Categorizer assigns a category to free text using an ordered keyword table.
// Rules are tried in table order and the first rule with any keyword found in
// the text wins. All keywords are matched in a single pass with Aho-Corasick.
// A Categorizer is immutable once built and safe for concurrent use.
type Categorizer struct {
	matcher *ahocorasick.Matcher
	// ruleOf maps a dictionary index of the matcher to its rule index
	ruleOf     []int
	categories []string
}

// NewCategorizer compiles rules into a matcher. Empty keywords are skipped.
func NewCategorizer(rules []KeywordRule) *Categorizer {
	c := &Categorizer{categories: make([]string, len(rules))}

	// A keyword shared by several rules is added once, owned by the first.
	var dictionary []string
	seen := make(map[string]struct{})
	for i, rule := range rules {
		c.categories[i] = rule.Category
		for _, kw := range rule.Keywords {
			kw = Key(CleanText(kw))
			if kw == "" {
				continue
			}
			if _, ok := seen[kw]; ok {
				continue
			}
			seen[kw] = struct{}{}
			dictionary = append(dictionary, kw)
			c.ruleOf = append(c.ruleOf, i)
		}
	}

	if len(dictionary) > 0 {
		c.matcher = ahocorasick.NewStringMatcher(dictionary)
	}
	return c
}

// Categorize returns the category of the first matching rule, or
// Uncategorized.
func (c *Categorizer) Categorize(text string) string {
	if c == nil || c.matcher == nil {
		return Uncategorized
	}

	hits := c.matcher.MatchThreadSafe([]byte(Key(CleanText(text))))
	best := -1
	for _, hit := range hits {
		if rule := c.ruleOf[hit]; best == -1 || rule < best {
			best = rule
		}
	}
	if best == -1 {
		return Uncategorized
	}
	return c.categories[best]
}

// DefaultKeywordRules is the stock keyword table used when no other table is
// configured. Order matters: earlier rules win.
func DefaultKeywordRules() []KeywordRule {
	return []KeywordRule{
		{Category: "Groceries", Keywords: []string{"grocery", "supermarket", "whole foods", "trader joe", "safeway", "kroger", "aldi", "lidl", "costco"}},
		{Category: "Dining", Keywords: []string{"restaurant", "cafe", "coffee", "starbucks", "mcdonald", "pizza", "burger", "doordash", "uber eats", "grubhub"}},
		{Category: "Transportation", Keywords: []string{"uber", "lyft", "taxi", "parking", "fuel", "gas station", "shell", "chevron", "metro", "transit"}},
		{Category: "Travel", Keywords: []string{"airline", "airbnb", "hotel", "flight", "booking.com", "expedia"}},
		{Category: "Utilities", Keywords: []string{"electric", "water bill", "internet", "comcast", "verizon", "at&t", "utility"}},
		{Category: "Housing", Keywords: []string{"rent", "mortgage", "hoa"}},
		{Category: "Subscriptions", Keywords: []string{"netflix", "spotify", "hulu", "disney+", "subscription", "youtube premium", "icloud"}},
		{Category: "Shopping", Keywords: []string{"amazon", "target", "walmart", "best buy", "ikea", "ebay"}},
		{Category: "Health", Keywords: []string{"pharmacy", "cvs", "walgreens", "doctor", "dental", "hospital", "gym"}},
		{Category: "Entertainment", Keywords: []string{"cinema", "movie", "concert", "theater", "steam", "playstation"}},
	}
}
