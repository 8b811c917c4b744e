package schema

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	rawPrefix    = "raw_"
	bronzePrefix = "bronze_"
	detailPrefix = "details_raw_"

	// MaxRawTableNameLength keeps derived bronze tables and their index names
	// under the 63 byte identifier limit.
	MaxRawTableNameLength = 44
	hashSuffixLength      = 8
)

var (
	nonAlphanumeric = regexp.MustCompile(`[^a-z0-9]+`)
	identifierRe    = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)
)

// NormalizeName lower-cases s, strips accents, collapses runs of anything outside
// [a-z0-9] into a single underscore and trims underscores from both ends.
func NormalizeName(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	lowered := strings.ToLower(stripped)
	return strings.Trim(nonAlphanumeric.ReplaceAllString(lowered, "_"), "_")
}

// RawTableName returns raw_<tenant>_<normalized route name>, shortened with a hash
// suffix when it would exceed MaxRawTableNameLength.
func RawTableName(tenantID int64, routeName string) (string, error) {
	if tenantID <= 0 {
		return "", fmt.Errorf("invalid tenant id %d", tenantID)
	}
	normalized := NormalizeName(routeName)
	if normalized == "" {
		return "", fmt.Errorf("route name %q has no usable characters", routeName)
	}
	return shorten(fmt.Sprintf("%s%d_%s", rawPrefix, tenantID, normalized), MaxRawTableNameLength), nil
}

// DetailTableName returns details_raw_<tenant>.
func DetailTableName(tenantID int64) (string, error) {
	if tenantID <= 0 {
		return "", fmt.Errorf("invalid tenant id %d", tenantID)
	}
	return fmt.Sprintf("%s%d", detailPrefix, tenantID), nil
}

// BronzeTableName derives bronze_<tenant>_<route> from a raw table name.
func BronzeTableName(rawTable string) (string, error) {
	if _, err := ParseRawTableName(rawTable); err != nil {
		return "", err
	}
	return bronzePrefix + strings.TrimPrefix(rawTable, rawPrefix), nil
}

// ParseRawTableName extracts the tenant id embedded in a raw table name.
func ParseRawTableName(rawTable string) (int64, error) {
	if !strings.HasPrefix(rawTable, rawPrefix) || !ValidIdentifier(rawTable) {
		return 0, fmt.Errorf("%q is not a raw table name", rawTable)
	}
	rest := strings.TrimPrefix(rawTable, rawPrefix)
	tenantPart, suffix, found := strings.Cut(rest, "_")
	if !found || suffix == "" {
		return 0, fmt.Errorf("%q is not a raw table name", rawTable)
	}
	tenantID, err := strconv.ParseInt(tenantPart, 10, 64)
	if err != nil || tenantID <= 0 {
		return 0, fmt.Errorf("%q does not carry a tenant id", rawTable)
	}
	return tenantID, nil
}

// ValidIdentifier reports whether name is a lower-case unquoted Postgres identifier.
func ValidIdentifier(name string) bool {
	return identifierRe.MatchString(name)
}

func shorten(name string, limit int) string {
	if len(name) <= limit {
		return name
	}
	sum := sha1.Sum([]byte(name))
	suffix := hex.EncodeToString(sum[:])[:hashSuffixLength]
	head := strings.TrimRight(name[:limit-hashSuffixLength-1], "_")
	return head + "_" + suffix
}

func indexName(table, suffix string) string {
	return "idx_" + table + "_" + suffix
}
