// Package htmlreport extracts trades from grid-shaped markup reports
// (MT4/MT5 HTML statements and similar exports). Column meanings are
// inferred from header labels; there is no fixed schema.
package htmlreport

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/username/tradelog/backend/src/aggregator"
	"github.com/username/tradelog/backend/src/logger"
	"github.com/username/tradelog/backend/src/models"
	"github.com/username/tradelog/backend/src/parsers/fields"
)

// layout holds the resolved column indexes for one qualified grid.
// Missing optional columns are -1.
type layout struct {
	ticket     int
	position   int
	symbol     int
	side       int
	openTime   int
	closeTime  int
	entryPrice int
	exitPrice  int
	volume     int
	profit     int
	commission int
	swap       int
	entry      int
}

// Parse extracts trades from markup-bearing text. Malformed markup is
// tolerated by the html parser itself; tables that never qualify a
// header row simply contribute nothing.
func Parse(text string) []models.CanonicalTrade {
	doc, err := html.Parse(strings.NewReader(text))
	if err != nil {
		logger.L.Warn("htmlreport: markup parse failed", "error", err)
		return nil
	}

	var trades []models.CanonicalTrade
	for _, table := range findTables(doc) {
		trades = append(trades, parseGrid(tableRows(table))...)
	}
	return trades
}

// parseGrid locates the first qualifying header row and parses the
// rows after it. A header row qualifies only when it names all three
// required concepts: a fill/order identifier, a profit value and a
// symbol label.
func parseGrid(rows [][]string) []models.CanonicalTrade {
	for i, row := range rows {
		headers := make([]string, len(row))
		for j, cell := range row {
			headers[j] = fields.NormalizeHeader(cell)
		}
		if fields.FindColumn(headers, fields.Ticket) < 0 ||
			fields.FindColumn(headers, fields.Profit) < 0 ||
			fields.FindColumn(headers, fields.Symbol) < 0 {
			continue
		}

		lay := resolveLayout(headers)
		if lay.entry >= 0 {
			// An explicit entry/exit marker column means the grid is
			// fill-level; reconcile through the shared aggregator.
			deals := parseFillRows(lay, rows[i+1:])
			return aggregator.Aggregate(deals, models.FileProvider, "")
		}
		return parseTradeRows(lay, rows[i+1:])
	}
	return nil
}

func resolveLayout(headers []string) layout {
	lay := layout{
		ticket:     fields.FindColumn(headers, fields.Ticket),
		position:   fields.FindColumn(headers, fields.Position),
		symbol:     fields.FindColumn(headers, fields.Symbol),
		side:       fields.FindColumn(headers, fields.Side),
		openTime:   fields.FindColumn(headers, fields.OpenTime),
		closeTime:  fields.FindColumn(headers, fields.CloseTime),
		entryPrice: fields.FindColumn(headers, fields.OpenPrice),
		exitPrice:  fields.FindColumn(headers, fields.ClosePrice),
		volume:     fields.FindColumn(headers, fields.Volume),
		profit:     fields.FindColumn(headers, fields.Profit),
		commission: fields.FindColumn(headers, fields.Commission),
		swap:       fields.FindColumn(headers, fields.Swap),
		entry:      fields.FindColumn(headers, fields.Entry),
	}

	// "direction" can label either the buy/sell column or an in/out
	// marker column; when both resolve to the same column the grid has
	// no independent marker and is treated as round-trip-level.
	if lay.entry == lay.side {
		lay.entry = -1
	}

	if lay.entryPrice < 0 || lay.exitPrice < 0 {
		prices := fields.FindColumns(headers, fields.Price)
		switch {
		case len(prices) >= 2:
			// Two generic price columns: the one before the close-time
			// column is the entry, the one after it is the exit. With
			// no close-time column this falls back to document order.
			lay.entryPrice, lay.exitPrice = prices[0], prices[len(prices)-1]
			if lay.closeTime >= 0 {
				for _, p := range prices {
					if p < lay.closeTime {
						lay.entryPrice = p
					}
				}
				for i := len(prices) - 1; i >= 0; i-- {
					if prices[i] > lay.closeTime {
						lay.exitPrice = prices[i]
					}
				}
			}
		case len(prices) == 1:
			// Best-effort: a lone price column serves as both sides.
			lay.entryPrice, lay.exitPrice = prices[0], prices[0]
		}
	}

	// "entry" can label either the open-price column or an in/out
	// marker column; when it resolved to the price column the grid has
	// no independent marker and is treated as round-trip-level.
	if lay.entry == lay.entryPrice {
		lay.entry = -1
	}
	return lay
}

func parseTradeRows(lay layout, rows [][]string) []models.CanonicalTrade {
	var trades []models.CanonicalTrade
	for _, row := range rows {
		trade, ok := parseTradeRow(lay, row)
		if !ok {
			continue
		}
		trades = append(trades, trade)
	}
	return trades
}

// parseTradeRow maps one row to a round-trip trade. Rows failing a
// required field are dropped individually so a handful of bad rows
// cannot abort the whole import.
func parseTradeRow(lay layout, row []string) (models.CanonicalTrade, bool) {
	ticket := cell(row, lay.ticket)
	symbol := fields.NormalizeSymbol(cell(row, lay.symbol))
	if ticket == "" || symbol == "" {
		return models.CanonicalTrade{}, false
	}
	direction, ok := fields.ParseSide(cell(row, lay.side))
	if !ok {
		return models.CanonicalTrade{}, false
	}
	profit, ok := fields.ParseLooseFloat(cell(row, lay.profit))
	if !ok {
		return models.CanonicalTrade{}, false
	}
	volume, ok := fields.ParseLooseFloat(cell(row, lay.volume))
	if !ok || volume <= 0 {
		return models.CanonicalTrade{}, false
	}
	entryPrice, ok := fields.ParseLooseFloat(cell(row, lay.entryPrice))
	if !ok {
		return models.CanonicalTrade{}, false
	}
	exitPrice, ok := fields.ParseLooseFloat(cell(row, lay.exitPrice))
	if !ok {
		return models.CanonicalTrade{}, false
	}
	openTime, ok := fields.ParseLooseTime(cell(row, lay.openTime))
	if !ok {
		return models.CanonicalTrade{}, false
	}
	closeTime, ok := fields.ParseLooseTime(cell(row, lay.closeTime))
	if !ok {
		closeTime = openTime
	}

	pnl := profit
	if commission, ok := fields.ParseLooseFloat(cell(row, lay.commission)); ok {
		pnl += commission
	}
	if swap, ok := fields.ParseLooseFloat(cell(row, lay.swap)); ok {
		pnl += swap
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
		PositionKey: ticket,
		ExternalID:  ticket,
		SourceKey:   models.SourceKey(models.FileProvider, "", ticket),
		Provenance:  "html report row",
	}, true
}

// parseFillRows maps rows of a fill-level grid to raw deals for the
// aggregator. The same drop-not-abort rules apply per row.
func parseFillRows(lay layout, rows [][]string) []models.RawDeal {
	var deals []models.RawDeal
	for _, row := range rows {
		ticket := cell(row, lay.ticket)
		symbol := cell(row, lay.symbol)
		if ticket == "" || symbol == "" {
			continue
		}
		price, ok := fields.ParseLooseFloat(cell(row, lay.entryPrice))
		if !ok {
			continue
		}
		volume, ok := fields.ParseLooseFloat(cell(row, lay.volume))
		if !ok || volume <= 0 {
			continue
		}
		timestamp, ok := fields.ParseLooseTime(cell(row, lay.openTime))
		if !ok {
			continue
		}

		deal := models.RawDeal{
			ExternalID:  ticket,
			PositionKey: cell(row, lay.position),
			Symbol:      symbol,
			SideHint:    cell(row, lay.side),
			Price:       price,
			Volume:      volume,
			Timestamp:   timestamp,
			EntryMarker: fields.ParseEntryMarker(cell(row, lay.entry)),
		}
		if deal.PositionKey == "" {
			deal.PositionKey = ticket
		}
		if profit, ok := fields.ParseLooseFloat(cell(row, lay.profit)); ok {
			deal.Profit = profit
		}
		if commission, ok := fields.ParseLooseFloat(cell(row, lay.commission)); ok {
			deal.Commission = commission
		}
		if swap, ok := fields.ParseLooseFloat(cell(row, lay.swap)); ok {
			deal.Swap = swap
		}
		deals = append(deals, deal)
	}
	return deals
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func findTables(node *html.Node) []*html.Node {
	var tables []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "table" {
			tables = append(tables, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(node)
	return tables
}

func tableRows(table *html.Node) [][]string {
	var rows [][]string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "tr" {
			var cells []string
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && (c.Data == "td" || c.Data == "th") {
					cells = append(cells, nodeText(c))
				}
			}
			rows = append(rows, cells)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(table)
	return rows
}

func nodeText(node *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(node)
	return strings.TrimSpace(sb.String())
}
