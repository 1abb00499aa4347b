package core

import (
	"strings"

	"github.com/jo-hoe/goprint/internal/backend/imagecheck"
)

// CategoryFor picks the category of a product name. Every category whose
// keyword occurs in the name (case-insensitive) matches and later entries win,
// so "Mug + camiseta" counts as a shirt order.
func (c *ServiceConfig) CategoryFor(product string) CategoryConfig {
	lower := strings.ToLower(product)
	found := false
	var category CategoryConfig
	for _, candidate := range c.Categories {
		keyword := strings.ToLower(candidate.Keyword)
		if keyword == "" {
			keyword = strings.ToLower(candidate.Name)
		}
		if strings.Contains(lower, keyword) {
			category = candidate
			found = true
		}
	}
	if found {
		return category
	}
	return c.fallbackCategory()
}

// fallbackCategory uses the print box of the first exact category, or the
// mug defaults when none is configured.
func (c *ServiceConfig) fallbackCategory() CategoryConfig {
	fallback := DefaultCategories()[0]
	for _, candidate := range c.Categories {
		if candidate.Policy == PolicyExact {
			fallback = candidate
			break
		}
	}
	fallback.Name = c.FallbackCategory
	fallback.Keyword = ""
	fallback.Policy = PolicyExact
	return fallback
}

// Rule returns the image rule uploads of this category are checked against.
func (cat CategoryConfig) Rule() imagecheck.Rule {
	policy := imagecheck.Exact
	if cat.Policy == PolicyBounded {
		policy = imagecheck.Bounded
	}
	return imagecheck.Rule{
		Policy:    policy,
		Width:     cat.Width,
		Height:    cat.Height,
		Tolerance: cat.Tolerance,
	}
}
