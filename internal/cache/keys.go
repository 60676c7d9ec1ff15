package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Default time-to-live tiers, chosen by data volatility. Usage counts go
// stale in minutes, key listings in tens of minutes, billing plans in hours.
const (
	TTLShort  = 5 * time.Minute
	TTLMedium = 30 * time.Minute
	TTLLong   = 6 * time.Hour
)

// BuildKey derives a deterministic cache key from a namespace prefix, the
// owning entity's identifier, and an optional filter. Two semantically equal
// filters produce the same key regardless of construction order.
func BuildKey(prefix, entityID string, filter map[string]any) string {
	var b strings.Builder
	b.WriteString(prefix)
	if entityID != "" {
		b.WriteString(":")
		b.WriteString(entityID)
	}
	if len(filter) > 0 {
		b.WriteString(":")
		b.WriteString(canonicalMap(filter))
	}
	return b.String()
}

// Tag builds an invalidation tag scoped to one entity, e.g. "api-keys:u42".
func Tag(name, entityID string) string {
	if entityID == "" {
		return name
	}
	return name + ":" + entityID
}

func canonicalMap(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, url.QueryEscape(k)+"="+canonicalValue(m[k]))
	}
	return strings.Join(parts, "&")
}

// canonicalValue escapes scalar values so the separator characters stay
// unambiguous and keys cannot collide across different filter shapes.
func canonicalValue(v any) string {
	switch val := v.(type) {
	case map[string]any:
		return "{" + canonicalMap(val) + "}"
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = canonicalValue(item)
		}
		return "[" + strings.Join(parts, ",") + "]"
	case []string:
		parts := make([]string, len(val))
		for i, s := range val {
			parts[i] = url.QueryEscape(s)
		}
		return "[" + strings.Join(parts, ",") + "]"
	default:
		return url.QueryEscape(fmt.Sprintf("%v", v))
	}
}
