package extract

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rpattn/apietl/internal/domain"
)

// page is one decoded response of a paginated endpoint.
type page struct {
	Items   []any
	HasMore bool
}

// parsePage accepts the response shapes served by tenant APIs:
// an object with a "data" list and pagination fields, a bare list (single terminal page),
// or a bare object (one item). Anything else is an empty page.
func parsePage(body []byte) (page, error) {
	decoded, err := domain.DecodeJSON(body)
	if err != nil {
		return page{}, err
	}

	switch typed := decoded.(type) {
	case map[string]any:
		if data, ok := typed["data"].([]any); ok {
			return page{Items: nonEmpty(data), HasMore: hasMore(typed)}, nil
		}
		return page{Items: nonEmpty([]any{typed})}, nil
	case []any:
		return page{Items: nonEmpty(typed)}, nil
	default:
		return page{}, nil
	}
}

func hasMore(envelope map[string]any) bool {
	if next, ok := envelope["next_page_url"]; ok && next != nil {
		return true
	}
	current := intField(envelope, "current_page", 0)
	if current < intField(envelope, "last_page", 1) {
		return true
	}
	return current < intField(envelope, "total_pages", 1)
}

func intField(m map[string]any, key string, fallback int64) int64 {
	switch typed := m[key].(type) {
	case json.Number:
		if n, err := typed.Int64(); err == nil {
			return n
		}
		if f, err := typed.Float64(); err == nil {
			return int64(f)
		}
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func nonEmpty(items []any) []any {
	kept := make([]any, 0, len(items))
	for _, item := range items {
		if !isBlank(item) {
			kept = append(kept, item)
		}
	}
	return kept
}

func isBlank(v any) bool {
	switch typed := v.(type) {
	case nil:
		return true
	case map[string]any:
		return len(typed) == 0
	case []any:
		return len(typed) == 0
	case string:
		return typed == ""
	case bool:
		return !typed
	case json.Number:
		f, err := typed.Float64()
		return err == nil && f == 0
	default:
		return false
	}
}
