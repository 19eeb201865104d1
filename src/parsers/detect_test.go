package parsers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// utf16le encodes ASCII text as BOM-less UTF-16 little endian.
func utf16le(s string) []byte {
	out := make([]byte, 0, len(s)*2)
	for _, b := range []byte(s) {
		out = append(out, b, 0x00)
	}
	return out
}

// utf16be encodes ASCII text as BOM-less UTF-16 big endian.
func utf16be(s string) []byte {
	out := make([]byte, 0, len(s)*2)
	for _, b := range []byte(s) {
		out = append(out, 0x00, b)
	}
	return out
}

func TestDecodeReportPlainText(t *testing.T) {
	assert.Equal(t, "symbol,profit", DecodeReport([]byte("symbol,profit")))
}

func TestDecodeReportUTF8BOM(t *testing.T) {
	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte("symbol,profit")...)
	assert.Equal(t, "symbol,profit", DecodeReport(data))
}

func TestDecodeReportUTF16WithBOM(t *testing.T) {
	le := append([]byte{0xFF, 0xFE}, utf16le("ticket;profit")...)
	assert.Equal(t, "ticket;profit", DecodeReport(le))

	be := append([]byte{0xFE, 0xFF}, utf16be("ticket;profit")...)
	assert.Equal(t, "ticket;profit", DecodeReport(be))
}

func TestDecodeReportUTF16WithoutBOM(t *testing.T) {
	// MT4 statements are commonly UTF-16LE with no BOM; the null-byte
	// parity must identify the endianness.
	text := "ticket,symbol,type,profit\n1,EURUSD,buy,10.5\n"
	assert.Equal(t, text, DecodeReport(utf16le(text)))
	assert.Equal(t, text, DecodeReport(utf16be(text)))
}

func TestDecodeReportShortInputNotMisdetected(t *testing.T) {
	// Too few nulls to clear the parity threshold; bytes pass through.
	data := []byte{'a', 0x00, 'b', 0x00}
	assert.Equal(t, string(data), DecodeReport(data))
}

func TestSniffFormat(t *testing.T) {
	assert.Equal(t, formatHTML, sniffFormat("<!DOCTYPE html><html><body></body></html>"))
	assert.Equal(t, formatHTML, sniffFormat("<html><table><tr></tr></table></html>"))
	assert.Equal(t, formatHTML, sniffFormat("<div>statement</div><table></table>"))
	assert.Equal(t, formatXML, sniffFormat("<?xml version=\"1.0\"?><report></report>"))
	assert.Equal(t, formatXML, sniffFormat("<report><trade/></report>"))
	assert.Equal(t, formatDelimited, sniffFormat("symbol,profit\nEURUSD,10"))
	assert.Equal(t, formatDelimited, sniffFormat(""))
	assert.Equal(t, formatDelimited, sniffFormat("1 < 2 and 3 > 2"))
}
