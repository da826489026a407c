package normalize

import (
	"encoding/json"
	"strings"
)

// FilterJSONLD returns the first real-estate-like schema.org object in raw,
// looking through arrays and @graph containers. It returns nil when nothing
// matches or raw is not JSON.
func FilterJSONLD(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil
	}
	return findListingObject(value, 0)
}

func findListingObject(value any, depth int) map[string]any {
	if depth > 4 {
		return nil
	}
	switch v := value.(type) {
	case []any:
		for _, item := range v {
			if found := findListingObject(item, depth+1); found != nil {
				return found
			}
		}
	case map[string]any:
		if graph, ok := v["@graph"]; ok {
			if found := findListingObject(graph, depth+1); found != nil {
				return found
			}
		}
		if isListingType(v["@type"]) {
			return v
		}
	}
	return nil
}

func isListingType(value any) bool {
	switch t := value.(type) {
	case string:
		return listingTypeName(t)
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && listingTypeName(s) {
				return true
			}
		}
	}
	return false
}

func listingTypeName(name string) bool {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexAny(name, "/:"); i >= 0 {
		name = name[i+1:]
	}
	if name == "Product" {
		return true
	}
	lower := strings.ToLower(name)
	for _, marker := range []string{"realestate", "accommodation", "apartment", "house", "residence"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
