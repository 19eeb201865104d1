package parsers

import (
	"bytes"
	"regexp"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

type reportFormat int

const (
	formatDelimited reportFormat = iota
	formatHTML
	formatXML
)

func (f reportFormat) String() string {
	switch f {
	case formatHTML:
		return "html"
	case formatXML:
		return "xml"
	default:
		return "delimited"
	}
}

// nullParityThreshold is the minimum count of null bytes at one parity
// in the sniff window before the input is treated as 16-bit text.
const (
	sniffWindow         = 512
	nullParityThreshold = 8
)

// DecodeReport turns raw report bytes into text. Broker exporters
// commonly emit UTF-16 with or without a BOM; absent a BOM the parity
// of null-byte positions picks the endianness. Decoding never fails:
// an undetected encoding degrades to treating the bytes as-is.
func DecodeReport(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte{0xFF, 0xFE}):
		return decodeUTF16(data, unicode.LittleEndian, unicode.ExpectBOM)
	case bytes.HasPrefix(data, []byte{0xFE, 0xFF}):
		return decodeUTF16(data, unicode.BigEndian, unicode.ExpectBOM)
	case bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}):
		return string(data[3:])
	}

	window := data
	if len(window) > sniffWindow {
		window = window[:sniffWindow]
	}
	var oddNulls, evenNulls int
	for i, b := range window {
		if b == 0 {
			if i%2 == 1 {
				oddNulls++
			} else {
				evenNulls++
			}
		}
	}
	if oddNulls > nullParityThreshold && oddNulls > evenNulls {
		return decodeUTF16(data, unicode.LittleEndian, unicode.IgnoreBOM)
	}
	if evenNulls > nullParityThreshold && evenNulls > oddNulls {
		return decodeUTF16(data, unicode.BigEndian, unicode.IgnoreBOM)
	}
	return string(data)
}

func decodeUTF16(data []byte, endianness unicode.Endianness, bom unicode.BOMPolicy) string {
	decoded, err := unicode.UTF16(endianness, bom).NewDecoder().Bytes(data)
	if err != nil {
		return string(data)
	}
	return string(decoded)
}

var xmlRootRe = regexp.MustCompile(`^<[A-Za-z][\w:.-]*[\s>]`)

// sniffFormat classifies decoded text by content, in priority order:
// html markers or an embedded table tag, then an XML prolog or bare
// report-root tag, else delimited text. Filenames are not trusted.
func sniffFormat(text string) reportFormat {
	trimmed := strings.TrimSpace(text)
	head := trimmed
	if len(head) > 4096 {
		head = head[:4096]
	}
	lower := strings.ToLower(head)

	if strings.HasPrefix(lower, "<!doctype") || strings.HasPrefix(lower, "<html") || strings.Contains(lower, "<table") {
		return formatHTML
	}
	if strings.HasPrefix(lower, "<?xml") || xmlRootRe.MatchString(trimmed) {
		return formatXML
	}
	return formatDelimited
}
