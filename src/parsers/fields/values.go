package fields

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/username/tradelog/backend/src/models"
)

var looseFloatJunkRe = regexp.MustCompile(`[\s\x{00a0}']+`)

// ParseLooseFloat parses broker-formatted numbers: thousands separators,
// comma decimals, embedded spaces and non-breaking spaces.
func ParseLooseFloat(s string) (float64, bool) {
	s = looseFloatJunkRe.ReplaceAllString(s, "")
	s = strings.TrimSuffix(s, "%")
	if s == "" || s == "-" {
		return 0, false
	}

	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		// Whichever separator comes last is the decimal point.
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// timeLayouts is ordered from most to least specific; the first layout
// that parses wins. Covers MT4/MT5 statement formats plus common CSV
// export variants.
var timeLayouts = []string{
	"2006.01.02 15:04:05",
	"2006.01.02 15:04",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"02.01.2006 15:04:05",
	"02.01.2006 15:04",
	"02-01-2006 15:04:05",
	"02-01-2006 15:04",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"2006.01.02",
	"2006-01-02",
	"02-01-2006",
	"01/02/2006",
}

// ParseLooseTime parses broker-formatted timestamps. Bare integers are
// treated as unix seconds or milliseconds by magnitude.
func ParseLooseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 {
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), true
		}
		return time.Unix(n, 0).UTC(), true
	}
	return time.Time{}, false
}

// ParseSide maps free-text side keywords to a trade direction. Unknown
// keywords yield ok=false and the caller drops the row.
func ParseSide(s string) (models.Direction, bool) {
	s = strings.ToLower(s)
	switch {
	case strings.Contains(s, "sell") || strings.Contains(s, "short"):
		return models.DirectionShort, true
	case strings.Contains(s, "buy") || strings.Contains(s, "long"):
		return models.DirectionLong, true
	}
	return "", false
}

var symbolJunkRe = regexp.MustCompile(`[^A-Z0-9]+`)

// NormalizeSymbol uppercases and strips everything but alphanumerics,
// e.g. "eur/usd.m" -> "EURUSDM".
func NormalizeSymbol(s string) string {
	return symbolJunkRe.ReplaceAllString(strings.ToUpper(strings.TrimSpace(s)), "")
}

// ParseEntryMarker interprets an explicit entry/exit marker cell.
func ParseEntryMarker(s string) models.EntryMarker {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.Contains(s, "inout") || strings.Contains(s, "in/out") || strings.Contains(s, "both"):
		return models.EntryBoth
	case strings.Contains(s, "out") || strings.Contains(s, "exit") || strings.Contains(s, "close"):
		return models.EntryOut
	case strings.Contains(s, "in") || strings.Contains(s, "entry") || strings.Contains(s, "open"):
		return models.EntryIn
	}
	return ""
}
