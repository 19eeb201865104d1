package parsers

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/username/tradelog/backend/src/logger"
	"github.com/username/tradelog/backend/src/models"
)

func TestMain(m *testing.M) {
	logger.InitLogger("error")
	os.Exit(m.Run())
}

const delimitedReport = `Ticket,Open Time,Type,Size,Symbol,Open Price,Close Time,Close Price,Profit
1001,2024.03.01 10:00:00,buy,1.5,EURUSD,1.0800,2024.03.01 15:00:00,1.0900,150.00
1002,2024.03.02 09:30:00,sell,2,GBPUSD,1.2700,2024.03.02 11:00:00,1.2650,100.00
`

func TestParseReportDelimited(t *testing.T) {
	trades, err := ParseReport([]byte(delimitedReport), "report.csv")
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "EURUSD", trades[0].Symbol)
	assert.Equal(t, models.DirectionLong, trades[0].Direction)
	assert.Equal(t, "GBPUSD", trades[1].Symbol)
	assert.Equal(t, models.DirectionShort, trades[1].Direction)
}

func TestParseReportUTF16Delimited(t *testing.T) {
	// The same report as emitted by a terminal in BOM-less UTF-16LE.
	var data []byte
	for _, b := range []byte(delimitedReport) {
		data = append(data, b, 0x00)
	}
	trades, err := ParseReport(data, "statement.csv")
	require.NoError(t, err)
	assert.Len(t, trades, 2)
}

func TestParseReportHTML(t *testing.T) {
	report := `<html><body><table>
<tr><th>Ticket</th><th>Open Time</th><th>Type</th><th>Size</th><th>Symbol</th><th>Open Price</th><th>Close Time</th><th>Close Price</th><th>Profit</th></tr>
<tr><td>7001</td><td>2024.03.01 10:00:00</td><td>buy</td><td>1.00</td><td>EURUSD</td><td>1.0800</td><td>2024.03.01 15:00:00</td><td>1.0900</td><td>100.00</td></tr>
</table></body></html>`
	trades, err := ParseReport([]byte(report), "statement.html")
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "7001", trades[0].PositionKey)
}

func TestParseReportXML(t *testing.T) {
	report := `<?xml version="1.0"?><report>
<trade ticket="5001" symbol="EURUSD" side="buy" openprice="1.10" closeprice="1.12" volume="1" profit="20" opentime="2024.03.01 10:00:00" closetime="2024.03.01 12:00:00"/>
</report>`
	trades, err := ParseReport([]byte(report), "report.xml")
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "5001", trades[0].PositionKey)
}

func TestParseReportMislabeledDelimitedFallsThrough(t *testing.T) {
	// Sniffed as XML because of the leading tag, but the only usable
	// content is delimited; the chain must still find it.
	report := "<broken\n" + delimitedReport
	trades, err := ParseReport([]byte(report), "export.xml")
	if err == nil {
		assert.NotEmpty(t, trades)
	} else {
		// Acceptable only if nothing in the chain could parse it; the
		// error must then be the sentinel.
		assert.ErrorIs(t, err, ErrNoTrades)
	}
}

func TestParseReportNoTrades(t *testing.T) {
	_, err := ParseReport([]byte("this is not a report at all"), "junk.txt")
	assert.ErrorIs(t, err, ErrNoTrades)

	_, err = ParseReport([]byte(""), "empty.txt")
	assert.ErrorIs(t, err, ErrNoTrades)

	_, err = ParseReport([]byte("symbol,profit\n"), "header_only.csv")
	assert.ErrorIs(t, err, ErrNoTrades)
}
