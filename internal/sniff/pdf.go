package sniff

import (
	"bytes"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

const minSamplePages = 3

// pdfTextLayer reports the page count and whether the document needs OCR.
// A sample of pages is probed for extractable text; the document counts as
// digitally born when the configured fraction of sampled pages carries text.
// Unparseable PDFs report zero pages and needs-OCR, never an error: a broken
// text layer is exactly the case OCR exists for.
func (s *Sniffer) pdfTextLayer(path string) (int, bool) {
	f, err := os.Open(path)
	if err != nil {
		return 0, true
	}
	defer f.Close()

	ctx, err := api.ReadValidateAndOptimize(f, model.NewDefaultConfiguration())
	if err != nil {
		return 0, true
	}

	total := ctx.PageCount
	if total <= 0 {
		return 0, true
	}

	sample := total / 10
	if sample < minSamplePages {
		sample = minSamplePages
	}
	if sample > s.samplePages {
		sample = s.samplePages
	}
	if sample > total {
		sample = total
	}

	withText := 0
	for _, pageNr := range samplePageNumbers(total, sample) {
		if s.pageHasText(ctx, pageNr) {
			withText++
		}
	}

	hasLayer := float64(withText) >= s.textRatio*float64(sample)
	return total, !hasLayer
}

// samplePageNumbers spreads sample picks evenly across 1..total.
func samplePageNumbers(total, sample int) []int {
	pages := make([]int, 0, sample)
	if sample >= total {
		for i := 1; i <= total; i++ {
			pages = append(pages, i)
		}
		return pages
	}
	step := float64(total) / float64(sample)
	for i := 0; i < sample; i++ {
		pages = append(pages, 1+int(float64(i)*step))
	}
	return pages
}

func (s *Sniffer) pageHasText(ctx *model.Context, pageNr int) bool {
	r, err := pdfcpu.ExtractPageContent(ctx, pageNr)
	if err != nil || r == nil {
		return false
	}
	data, err := io.ReadAll(r)
	if err != nil || len(data) == 0 {
		return false
	}
	text := strings.TrimSpace(textFromContentStream(data))
	return len([]rune(text)) > s.minChars
}

// pdfStringRe matches PDF string literals in parentheses.
var pdfStringRe = regexp.MustCompile(`\(([^)]*)\)`)

// textFromContentStream pulls the string operands of Tj and TJ show-text
// operators out of a raw page content stream.
func textFromContentStream(data []byte) string {
	var sb strings.Builder
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if !bytes.HasSuffix(line, []byte("Tj")) && !bytes.HasSuffix(line, []byte("TJ")) {
			continue
		}
		for _, match := range pdfStringRe.FindAllSubmatch(line, -1) {
			sb.Write(decodePDFString(match[1]))
		}
	}
	return sb.String()
}

// decodePDFString resolves backslash escapes inside a PDF string literal.
func decodePDFString(raw []byte) []byte {
	var out bytes.Buffer
	for i := 0; i < len(raw); i++ {
		if raw[i] != '\\' || i+1 >= len(raw) {
			out.WriteByte(raw[i])
			continue
		}
		i++
		switch raw[i] {
		case 'n':
			out.WriteByte('\n')
		case 'r':
			out.WriteByte('\r')
		case 't':
			out.WriteByte('\t')
		case '\\', '(', ')':
			out.WriteByte(raw[i])
		default:
			if raw[i] >= '0' && raw[i] <= '7' {
				val := int(raw[i] - '0')
				for j := 0; j < 2 && i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7'; j++ {
					i++
					val = val*8 + int(raw[i]-'0')
				}
				out.WriteByte(byte(val))
			} else {
				out.WriteByte(raw[i])
			}
		}
	}
	return out.Bytes()
}
