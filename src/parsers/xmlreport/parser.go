// Package xmlreport extracts trades from self-describing XML reports.
// Element and attribute names vary by exporter, so each logical field
// is looked up through an ordered synonym list. When the document is
// malformed or holds no recognizable trade nodes, the text is handed
// to the tabular parser instead; broker exporters mislabel formats
// interchangeably.
package xmlreport

import (
	"encoding/xml"
	"regexp"
	"strings"

	"github.com/username/tradelog/backend/src/logger"
	"github.com/username/tradelog/backend/src/models"
	"github.com/username/tradelog/backend/src/parsers/fields"
	"github.com/username/tradelog/backend/src/parsers/htmlreport"
)

// element is a schema-less view of one XML node.
type element struct {
	name     string
	attrs    map[string]string
	text     string
	children []*element
}

var tradeTagRe = regexp.MustCompile(`^(trade|deal|order|position|transaction|row)$`)

// Per-field synonym lists, tried in order; the first present name wins.
// Names are matched against normalized attribute and child tag names.
var fieldSynonyms = map[string][]string{
	"ticket":     {"ticket", "dealid", "orderid", "id", "order", "deal", "number"},
	"position":   {"positionid", "position", "posid"},
	"symbol":     {"symbol", "instrument", "item", "pair", "market"},
	"side":       {"side", "type", "direction", "action", "buysell"},
	"opentime":   {"opentime", "entrytime", "timeopen", "open", "time", "date", "datetime"},
	"closetime":  {"closetime", "exittime", "timeclose", "close"},
	"openprice":  {"openprice", "entryprice", "priceopen", "entry", "open", "price"},
	"closeprice": {"closeprice", "exitprice", "priceclose", "exit", "close"},
	"volume":     {"volume", "lots", "size", "quantity", "qty", "amount"},
	"profit":     {"profit", "pnl", "pl", "netprofit", "gain"},
	"commission": {"commission", "fee", "fees"},
	"swap":       {"swap", "rollover", "storage"},
}

// Parse extracts trades from structured markup, falling back to the
// tabular parser when the document cannot serve.
func Parse(text string) []models.CanonicalTrade {
	root, err := parseTree(text)
	if err != nil {
		logger.L.Debug("xmlreport: document malformed, falling back to tabular parser", "error", err)
		return htmlreport.Parse(text)
	}

	var candidates []*element
	collectCandidates(root, &candidates)
	if len(candidates) == 0 {
		logger.L.Debug("xmlreport: no candidate trade nodes, falling back to tabular parser")
		return htmlreport.Parse(text)
	}

	var trades []models.CanonicalTrade
	for _, el := range candidates {
		trade, ok := parseTradeElement(el)
		if !ok {
			continue
		}
		trades = append(trades, trade)
	}
	if len(trades) == 0 {
		return htmlreport.Parse(text)
	}
	return trades
}

func parseTradeElement(el *element) (models.CanonicalTrade, bool) {
	ticket := lookup(el, "ticket")
	symbol := fields.NormalizeSymbol(lookup(el, "symbol"))
	if symbol == "" {
		return models.CanonicalTrade{}, false
	}
	direction, ok := fields.ParseSide(lookup(el, "side"))
	if !ok {
		return models.CanonicalTrade{}, false
	}
	entryPrice, ok := fields.ParseLooseFloat(lookup(el, "openprice"))
	if !ok {
		return models.CanonicalTrade{}, false
	}
	exitPrice, ok := fields.ParseLooseFloat(lookup(el, "closeprice"))
	if !ok {
		// A lone price field serves both sides, best effort.
		exitPrice = entryPrice
	}
	volume, ok := fields.ParseLooseFloat(lookup(el, "volume"))
	if !ok || volume <= 0 {
		return models.CanonicalTrade{}, false
	}
	profit, ok := fields.ParseLooseFloat(lookup(el, "profit"))
	if !ok {
		return models.CanonicalTrade{}, false
	}
	openTime, ok := fields.ParseLooseTime(lookup(el, "opentime"))
	if !ok {
		return models.CanonicalTrade{}, false
	}
	closeTime, ok := fields.ParseLooseTime(lookup(el, "closetime"))
	if !ok {
		closeTime = openTime
	}

	pnl := profit
	if commission, ok := fields.ParseLooseFloat(lookup(el, "commission")); ok {
		pnl += commission
	}
	if swap, ok := fields.ParseLooseFloat(lookup(el, "swap")); ok {
		pnl += swap
	}

	positionKey := lookup(el, "position")
	if positionKey == "" {
		positionKey = ticket
	}
	if positionKey == "" {
		return models.CanonicalTrade{}, false
	}

	pnlPercent := 0.0
	if entryPrice != 0 {
		pnlPercent = (exitPrice - entryPrice) / entryPrice * 100
		if direction == models.DirectionShort {
			pnlPercent = -pnlPercent
		}
	}

	return models.CanonicalTrade{
		Symbol:      symbol,
		Direction:   direction,
		EntryPrice:  entryPrice,
		ExitPrice:   exitPrice,
		Quantity:    volume,
		Pnl:         pnl,
		PnlPercent:  pnlPercent,
		OpenTime:    openTime,
		CloseTime:   closeTime,
		Provider:    models.FileProvider,
		PositionKey: positionKey,
		ExternalID:  ticket,
		SourceKey:   models.SourceKey(models.FileProvider, "", positionKey),
		Provenance:  "xml report node <" + el.name + ">",
	}, true
}

// lookup resolves a logical field on an element: attributes first,
// then direct child elements, trying each synonym in order.
func lookup(el *element, field string) string {
	for _, name := range fieldSynonyms[field] {
		if v, ok := el.attrs[name]; ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	for _, name := range fieldSynonyms[field] {
		for _, child := range el.children {
			if child.name == name && strings.TrimSpace(child.text) != "" {
				return strings.TrimSpace(child.text)
			}
		}
	}
	return ""
}

func collectCandidates(el *element, out *[]*element) {
	if tradeTagRe.MatchString(el.name) {
		*out = append(*out, el)
		return
	}
	for _, child := range el.children {
		collectCandidates(child, out)
	}
}

func normalizeName(s string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// parseTree builds a schema-less element tree via a token walk; the
// report root may be any tag.
func parseTree(text string) (*element, error) {
	decoder := xml.NewDecoder(strings.NewReader(text))
	decoder.Strict = false

	root := &element{name: "", attrs: map[string]string{}}
	stack := []*element{root}
	for {
		tok, err := decoder.Token()
		if tok == nil {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			el := &element{name: normalizeName(t.Name.Local), attrs: map[string]string{}}
			for _, attr := range t.Attr {
				el.attrs[normalizeName(attr.Name.Local)] = attr.Value
			}
			parent := stack[len(stack)-1]
			parent.children = append(parent.children, el)
			stack = append(stack, el)
		case xml.EndElement:
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			stack[len(stack)-1].text += string(t)
		}
	}
	if len(root.children) == 0 {
		return nil, errEmptyDocument
	}
	return root, nil
}

var errEmptyDocument = xml.UnmarshalError("document has no elements")
