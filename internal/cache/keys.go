package cache

import (
	"cachegate/internal/models"
	"net/http"
	"sort"
	"strings"
)

// Key identifies a request for caching: its path plus the raw query, if any.
func Key(r *http.Request) string {
	if r.URL.RawQuery == "" {
		return r.URL.Path
	}
	return r.URL.Path + "?" + r.URL.RawQuery
}

// EntityTag builds the tag for an entity collection, or for one entity when id is set.
// EntityTag("products", "") is "products"; EntityTag("products", "42") is "products:42".
func EntityTag(entity, id string) string {
	if id == "" {
		return entity
	}
	return entity + ":" + id
}

// Rules maps request paths to cache options by longest matching prefix.
type Rules struct {
	rules []models.CacheRule
}

// NewRules orders rules so that longer prefixes are matched first.
func NewRules(rules []models.CacheRule) *Rules {
	sorted := append([]models.CacheRule(nil), rules...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Prefix) > len(sorted[j].Prefix)
	})
	return &Rules{rules: sorted}
}

// Match returns the rule with the longest prefix matching path on a segment
// boundary. "/products" matches "/products" and "/products/42" but not "/productsx".
func (rs *Rules) Match(path string) (models.CacheRule, bool) {
	for _, rule := range rs.rules {
		if matchesPrefix(path, rule.Prefix) {
			return rule, true
		}
	}
	return models.CacheRule{}, false
}

// Options returns annotation options for path. Unmatched paths get the
// annotator defaults with no tags.
func (rs *Rules) Options(path string) Options {
	rule, ok := rs.Match(path)
	if !ok {
		return Options{}
	}
	return Options{
		TTL:       rule.TTL,
		Tags:      append([]string(nil), rule.Tags...),
		SkipCache: rule.Skip,
	}
}

func matchesPrefix(path, prefix string) bool {
	if prefix == "/" {
		return true
	}
	prefix = strings.TrimSuffix(prefix, "/")
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}
