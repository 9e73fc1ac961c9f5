// Package universe builds the ordered list of instruments to scan. Building
// is pure: no function here touches the network or the cache.
package universe

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bobmcallan/weekscan/internal/models"
)

// RangeSpec is a numeric code range rendered as zero-padded ids with a suffix
type RangeSpec struct {
	Start  int
	End    int // inclusive
	Width  int
	Suffix string
}

// NormalizeTicker turns bare numeric codes into zero-padded ids with the
// market suffix ("7203" -> "7203.T"). Ids that already carry a suffix and
// non-numeric symbols are returned trimmed and upper-cased.
func NormalizeTicker(raw string, width int, suffix string) string {
	t := strings.ToUpper(strings.TrimSpace(raw))
	if t == "" {
		return ""
	}
	if n, err := strconv.Atoi(t); err == nil && n >= 0 {
		return fmt.Sprintf("%0*d%s", width, n, suffix)
	}
	return t
}

// BuildRange returns every code in the range not present in exclusions, in
// ascending order.
func BuildRange(rs RangeSpec, exclusions *models.ExclusionSet) ([]string, error) {
	if rs.End < rs.Start {
		return nil, fmt.Errorf("invalid range %d-%d", rs.Start, rs.End)
	}
	if rs.Start < 0 {
		return nil, fmt.Errorf("range start must not be negative, got %d", rs.Start)
	}
	out := make([]string, 0, rs.End-rs.Start+1)
	for code := rs.Start; code <= rs.End; code++ {
		id := fmt.Sprintf("%0*d%s", rs.Width, code, rs.Suffix)
		if exclusions.Contains(id) {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

// BuildList normalizes ids, drops blanks and duplicates (first occurrence
// wins) and removes excluded ids. Input order is kept.
func BuildList(ids []string, width int, suffix string, exclusions *models.ExclusionSet) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, raw := range ids {
		id := NormalizeTicker(raw, width, suffix)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if exclusions.Contains(id) {
			continue
		}
		out = append(out, id)
	}
	return out
}

// FromCacheKeys builds a universe from cached instrument ids. Ids whose
// numeric code is below minCode are dropped; non-numeric ids are kept.
func FromCacheKeys(keys []string, minCode int, exclusions *models.ExclusionSet) []string {
	var filtered []string
	for _, k := range keys {
		code := k
		if i := strings.IndexByte(k, '.'); i >= 0 {
			code = k[:i]
		}
		if n, err := strconv.Atoi(code); err == nil && n < minCode {
			continue
		}
		filtered = append(filtered, k)
	}
	return BuildList(filtered, 0, "", exclusions)
}

// Chunk splits ids into consecutive slices of at most size.
func Chunk(ids []string, size int) [][]string {
	if size <= 0 {
		size = len(ids)
	}
	var out [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}
