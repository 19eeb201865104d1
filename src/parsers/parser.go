// Package parsers turns heterogeneous broker report files into
// canonical trades. A file is decoded, classified by content sniffing
// and routed through a chain of format parsers; each parser either
// yields trades or control passes to the next one.
package parsers

import (
	"errors"

	"github.com/username/tradelog/backend/src/logger"
	"github.com/username/tradelog/backend/src/models"
	"github.com/username/tradelog/backend/src/parsers/csvreport"
	"github.com/username/tradelog/backend/src/parsers/htmlreport"
	"github.com/username/tradelog/backend/src/parsers/xmlreport"
)

// ErrNoTrades is returned when every parser in the fallback chain
// produced an empty result.
var ErrNoTrades = errors.New("no valid trades found in report")

// ParseReport decodes and parses a raw report file. The filename is a
// weak hint used only for logging; format selection is governed by
// content sniffing. Row-level failures inside a parser are dropped
// individually, so a partially malformed report still yields trades.
func ParseReport(data []byte, filename string) ([]models.CanonicalTrade, error) {
	text := DecodeReport(data)
	format := sniffFormat(text)
	logger.L.Info("Report classified", "filename", filename, "format", format.String(), "bytes", len(data))

	var trades []models.CanonicalTrade
	switch format {
	case formatHTML:
		trades = htmlreport.Parse(text)
	case formatXML:
		// xmlreport falls back to the tabular parser itself when the
		// document is malformed or holds no recognizable trade nodes.
		trades = xmlreport.Parse(text)
	default:
		trades = csvreport.Parse(text)
	}

	// Exporters mislabel formats interchangeably; run the rest of the
	// chain before giving up.
	if len(trades) == 0 {
		switch format {
		case formatHTML, formatXML:
			trades = csvreport.Parse(text)
		default:
			trades = xmlreport.Parse(text)
		}
	}

	if len(trades) == 0 {
		logger.L.Warn("Report yielded no trades after all parser fallbacks", "filename", filename)
		return nil, ErrNoTrades
	}
	return trades, nil
}
