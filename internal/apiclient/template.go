package apiclient

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Placeholders understood by URL and header templates.
const (
	PlaceholderTenantID = "{tenant_id}"
	PlaceholderRecordID = "{record_id}"
	PlaceholderToken    = "{token}"
)

// ResolveURL substitutes the tenant id into a route URL template.
func ResolveURL(template string, tenantID int64) string {
	return strings.ReplaceAll(template, PlaceholderTenantID, strconv.FormatInt(tenantID, 10))
}

// ResolveDetailURL substitutes the tenant and record ids into a detail URL template.
func ResolveDetailURL(template string, tenantID, recordID int64) string {
	return strings.ReplaceAll(ResolveURL(template, tenantID), PlaceholderRecordID, strconv.FormatInt(recordID, 10))
}

// ResolveHeaders returns a copy of headers with {token} and {tenant_id} substituted.
func ResolveHeaders(headers map[string]string, token string, tenantID int64) map[string]string {
	resolved := make(map[string]string, len(headers))
	tenant := strconv.FormatInt(tenantID, 10)
	for k, v := range headers {
		v = strings.ReplaceAll(v, PlaceholderToken, token)
		resolved[k] = strings.ReplaceAll(v, PlaceholderTenantID, tenant)
	}
	return resolved
}

// ParseHeaders decodes a JSON object of header templates. Empty input yields no headers.
func ParseHeaders(raw string) (map[string]string, error) {
	headers := map[string]string{}
	if strings.TrimSpace(raw) == "" {
		return headers, nil
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("headers must be a JSON object: %w", err)
	}
	for k, v := range decoded {
		switch typed := v.(type) {
		case string:
			headers[k] = typed
		case nil:
		default:
			headers[k] = fmt.Sprint(typed)
		}
	}
	return headers, nil
}
