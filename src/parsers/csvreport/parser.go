// Package csvreport extracts trades from plain delimited text. The
// delimiter is not assumed: comma, semicolon and tab are counted in
// the header line and the most frequent one wins.
package csvreport

import (
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/username/tradelog/backend/src/logger"
	"github.com/username/tradelog/backend/src/models"
	"github.com/username/tradelog/backend/src/parsers/fields"
)

var candidateDelimiters = []rune{',', ';', '\t'}

// DetectDelimiter picks the most frequent candidate delimiter in the
// header line. Ties resolve in candidate order, so comma wins them.
func DetectDelimiter(headerLine string) rune {
	best := candidateDelimiters[0]
	bestCount := -1
	for _, d := range candidateDelimiters {
		count := strings.Count(headerLine, string(d))
		if count > bestCount {
			best = d
			bestCount = count
		}
	}
	return best
}

// Parse extracts trades from delimited text. Each row is treated as a
// complete round trip; rows with unparseable numeric or date fields
// are dropped individually.
func Parse(text string) []models.CanonicalTrade {
	text = strings.TrimLeft(text, "\ufeff\r\n ")
	headerLine, _, _ := strings.Cut(text, "\n")
	if headerLine == "" {
		return nil
	}

	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = DetectDelimiter(headerLine)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil || len(records) < 2 {
		if err != nil {
			logger.L.Warn("csvreport: failed to read delimited text", "error", err)
		}
		return nil
	}

	headers := make([]string, len(records[0]))
	for i, h := range records[0] {
		headers[i] = fields.NormalizeHeader(h)
	}
	if fields.FindColumn(headers, fields.Symbol) < 0 || fields.FindColumn(headers, fields.Profit) < 0 {
		return nil
	}

	lay := resolveLayout(headers)
	var trades []models.CanonicalTrade
	seen := make(map[string]int)
	for _, record := range records[1:] {
		trade, ok := parseRow(lay, record)
		if !ok {
			continue
		}
		if lay.ticket < 0 {
			// Synthesized keys can collide when one symbol opens twice
			// in the same second; suffix repeats by their ordinal so a
			// later row never overwrites an earlier one on upsert.
			key := trade.PositionKey
			seen[key]++
			if n := seen[key]; n > 1 {
				trade.PositionKey = fmt.Sprintf("%s#%d", key, n-1)
				trade.ExternalID = trade.PositionKey
				trade.SourceKey = models.SourceKey(models.FileProvider, "", trade.PositionKey)
			}
		}
		trades = append(trades, trade)
	}
	return trades
}

type layout struct {
	ticket     int
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
}

func resolveLayout(headers []string) layout {
	lay := layout{
		ticket:     fields.FindColumn(headers, fields.Ticket),
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
	}
	if lay.entryPrice < 0 || lay.exitPrice < 0 {
		prices := fields.FindColumns(headers, fields.Price)
		if len(prices) >= 2 {
			lay.entryPrice, lay.exitPrice = prices[0], prices[len(prices)-1]
		} else if len(prices) == 1 {
			lay.entryPrice, lay.exitPrice = prices[0], prices[0]
		}
	}
	return lay
}

func parseRow(lay layout, record []string) (models.CanonicalTrade, bool) {
	symbol := fields.NormalizeSymbol(cell(record, lay.symbol))
	if symbol == "" {
		return models.CanonicalTrade{}, false
	}
	direction, ok := fields.ParseSide(cell(record, lay.side))
	if !ok {
		return models.CanonicalTrade{}, false
	}
	entryPrice, ok := fields.ParseLooseFloat(cell(record, lay.entryPrice))
	if !ok {
		return models.CanonicalTrade{}, false
	}
	exitPrice, ok := fields.ParseLooseFloat(cell(record, lay.exitPrice))
	if !ok {
		return models.CanonicalTrade{}, false
	}
	volume, ok := fields.ParseLooseFloat(cell(record, lay.volume))
	if !ok || volume <= 0 {
		return models.CanonicalTrade{}, false
	}
	profit, ok := fields.ParseLooseFloat(cell(record, lay.profit))
	if !ok {
		return models.CanonicalTrade{}, false
	}
	openTime, ok := fields.ParseLooseTime(cell(record, lay.openTime))
	if !ok {
		return models.CanonicalTrade{}, false
	}
	closeTime, ok := fields.ParseLooseTime(cell(record, lay.closeTime))
	if !ok {
		closeTime = openTime
	}

	pnl := profit
	if commission, ok := fields.ParseLooseFloat(cell(record, lay.commission)); ok {
		pnl += commission
	}
	if swap, ok := fields.ParseLooseFloat(cell(record, lay.swap)); ok {
		pnl += swap
	}

	// Delimited exports often lack a ticket column; a deterministic
	// key from symbol and open time keeps re-imports idempotent.
	positionKey := cell(record, lay.ticket)
	if positionKey == "" {
		positionKey = fmt.Sprintf("%s@%d", symbol, openTime.Unix())
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
		ExternalID:  positionKey,
		SourceKey:   models.SourceKey(models.FileProvider, "", positionKey),
		Provenance:  "delimited report row",
	}, true
}

func cell(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}
