// Package fields holds the data-driven header/tag synonym tables shared by
// all report parsers. Broker export formats have no common schema; each
// logical field is located by trying an ordered list of regex pattern
// families, first match wins. New broker variants are supported by
// extending the tables, not by adding branching.
package fields

import (
	"regexp"
	"sort"
	"strings"
)

const (
	Ticket     = "ticket"
	Position   = "position"
	Symbol     = "symbol"
	Side       = "side"
	OpenTime   = "open_time"
	CloseTime  = "close_time"
	OpenPrice  = "open_price"
	ClosePrice = "close_price"
	Price      = "price"
	Volume     = "volume"
	Profit     = "profit"
	Commission = "commission"
	Swap       = "swap"
	Entry      = "entry"
)

// patterns maps each logical field to its synonym family, in priority
// order. Matched against NormalizeHeader output.
var patterns = map[string][]*regexp.Regexp{
	Ticket: {
		regexp.MustCompile(`^(ticket|deal|order|trade)( ?(no|id|number|#))?$`),
		regexp.MustCompile(`\b(ticket|deal)\b`),
	},
	Position: {
		regexp.MustCompile(`^position( ?(no|id|number|#))?$`),
		regexp.MustCompile(`\bposition\b`),
	},
	Symbol: {
		regexp.MustCompile(`^(symbol|item|instrument|market|pair|product)$`),
		regexp.MustCompile(`\b(symbol|instrument)\b`),
	},
	Side: {
		regexp.MustCompile(`^(type|side|direction|action|buy ?/? ?sell|b ?/? ?s)$`),
		regexp.MustCompile(`\b(side|direction)\b`),
	},
	OpenTime: {
		regexp.MustCompile(`^open ?(time|date)( ?utc)?$`),
		regexp.MustCompile(`^(entry|start) ?(time|date)$`),
		regexp.MustCompile(`^(time|date|datetime|date ?/? ?time)$`),
	},
	CloseTime: {
		regexp.MustCompile(`^close ?(time|date)( ?utc)?$`),
		regexp.MustCompile(`^(exit|end) ?(time|date)$`),
	},
	OpenPrice: {
		regexp.MustCompile(`^(open|entry) ?price$`),
		regexp.MustCompile(`^(entry|open|price ?open)$`),
	},
	ClosePrice: {
		regexp.MustCompile(`^(close|exit) ?price$`),
		regexp.MustCompile(`^(exit|close|price ?close)$`),
	},
	Price: {
		regexp.MustCompile(`^price$`),
		regexp.MustCompile(`\bprice\b`),
	},
	Volume: {
		regexp.MustCompile(`^(volume|size|lots?|quantity|qty|contracts?)$`),
		regexp.MustCompile(`\b(volume|lots?|size)\b`),
	},
	Profit: {
		regexp.MustCompile(`^(profit|pnl|p ?[/&]? ?l|net ?profit|gain)$`),
		regexp.MustCompile(`\b(profit|pnl)\b`),
	},
	Commission: {
		regexp.MustCompile(`^(commissions?|fees?|comm)$`),
		regexp.MustCompile(`\bcommission\b`),
	},
	Swap: {
		regexp.MustCompile(`^(swap|rollover|storage)$`),
	},
	Entry: {
		regexp.MustCompile(`^(entry|in ?/? ?out)$`),
		regexp.MustCompile(`^direction$`),
	},
}

var headerJunkRe = regexp.MustCompile(`[^a-z0-9/&#]+`)

// NormalizeHeader lowercases a column label and collapses punctuation so
// the pattern families see a predictable shape.
func NormalizeHeader(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = headerJunkRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Match reports whether a normalized label names the given logical field.
func Match(field, normalizedLabel string) bool {
	for _, re := range patterns[field] {
		if re.MatchString(normalizedLabel) {
			return true
		}
	}
	return false
}

// FindColumn returns the index of the first header matching the field's
// pattern family, or -1. Patterns are tried in priority order so an
// exact synonym beats a loose substring hit in a later column.
func FindColumn(headers []string, field string) int {
	for _, re := range patterns[field] {
		for i, h := range headers {
			if re.MatchString(h) {
				return i
			}
		}
	}
	return -1
}

// FindColumns returns every header index matching the field. Used for
// the two-price-column disambiguation.
func FindColumns(headers []string, field string) []int {
	var idxs []int
	seen := make(map[int]bool)
	for _, re := range patterns[field] {
		for i, h := range headers {
			if re.MatchString(h) && !seen[i] {
				seen[i] = true
				idxs = append(idxs, i)
			}
		}
	}
	sort.Ints(idxs)
	return idxs
}
