// Package transform turns fetched provider pages into typed rows ready for
// bulk upsert: per-content-type field mapping, shape checks, value
// normalization and per-row quality scoring. Everything here is stateless;
// a page goes in, a Report comes out.
package transform

import (
	"strconv"
	"strings"
	"time"

	"github.com/weatherflick/weather-flick-batch/pkg/textx"
)

// Korea bounding box. Rows whose coordinates fall outside are provider noise
// (swapped axes, zero-filled fields) and get dropped.
const (
	minLatitude  = 32.0
	maxLatitude  = 39.0
	minLongitude = 123.0
	maxLongitude = 132.0
)

// DefaultChunkSize is the emission size when the caller does not tune one.
const DefaultChunkSize = 1000

// Discard names one dropped row and why.
type Discard struct {
	Index  int    `json:"index"`
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// Report is the outcome of transforming one fetched page: rows aligned to
// Columns, plus the rows that did not survive the shape checks.
type Report struct {
	Table        string
	Columns      []string
	ConflictKeys []string
	Rows         [][]any
	Discards     []Discard
}

// Kept returns the number of rows that survived.
func (r Report) Kept() int { return len(r.Rows) }

// Dropped returns the number of rows discarded.
func (r Report) Dropped() int { return len(r.Discards) }

// Chunks splits rows into slices of at most size, reusing the backing array.
func Chunks(rows [][]any, size int) [][][]any {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if len(rows) == 0 {
		return nil
	}
	out := make([][][]any, 0, (len(rows)+size-1)/size)
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		out = append(out, rows[start:end])
	}
	return out
}

// str extracts a string field stripped of control characters. Numeric JSON
// values are rendered the way the provider would have sent them as strings.
func str(item map[string]any, key string) string {
	switch v := item[key].(type) {
	case string:
		return textx.SanitizeText(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// line extracts a single-line string field: sanitized, with whitespace runs
// collapsed. Names, addresses and venues go through here.
func line(item map[string]any, key string) string {
	return textx.NormalizeSpace(str(item, key))
}

// coord parses a coordinate field; ok is false when the field is absent or
// not numeric.
func coord(item map[string]any, key string) (float64, bool) {
	s := str(item, key)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// intOf parses an integer field, zero when absent or malformed.
func intOf(item map[string]any, key string) int {
	s := str(item, key)
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// intOrNil parses an integer field into a nullable column value.
func intOrNil(item map[string]any, key string) any {
	s := str(item, key)
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return n
}

// floatOrNil parses a numeric string into a nullable column value.
func floatOrNil(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return f
}

// normTimestamp normalizes provider timestamps to YYYYMMDDHHMMSS. Date-only
// and minute-precision values are zero-padded; anything unparseable is kept
// digits-only so the column stays sortable.
func normTimestamp(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	switch {
	case len(digits) >= 14:
		return digits[:14]
	case len(digits) == 12:
		return digits + "00"
	case len(digits) == 8:
		return digits + "000000"
	default:
		return digits
	}
}

// dateOrNil parses YYYYMMDD into a nullable date column value.
func dateOrNil(s string) any {
	s = strings.TrimSpace(s)
	if len(s) != 8 {
		return nil
	}
	t, err := time.Parse("20060102", s)
	if err != nil {
		return nil
	}
	return t
}

// rawIDOrNil turns an absent archive id into NULL; the column is a uuid.
func rawIDOrNil(id string) any {
	if id == "" {
		return nil
	}
	return id
}

// timeOrNil turns a zero time into NULL.
func timeOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
