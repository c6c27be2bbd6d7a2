// Package sniff detects the real content type of intake files from magic
// bytes, never trusting the claimed extension. ZIP containers are opened to
// split OOXML documents from genuine archives, and PDFs are probed for a
// text layer to decide whether OCR will be needed downstream.
package sniff

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	"docprep/internal/config"
	"docprep/internal/logging"
	"docprep/internal/services"
)

// Kind identifies a detected content type.
type Kind string

const (
	KindPDF     Kind = "pdf"
	KindDocx    Kind = "docx"
	KindXlsx    Kind = "xlsx"
	KindPptx    Kind = "pptx"
	KindDoc     Kind = "doc"
	KindXls     Kind = "xls"
	KindPpt     Kind = "ppt"
	KindMsg     Kind = "msg"
	KindZip     Kind = "zip"
	KindRar     Kind = "rar"
	Kind7z      Kind = "7z"
	KindRtf     Kind = "rtf"
	KindXML     Kind = "xml"
	KindHTML    Kind = "html"
	KindEml     Kind = "eml"
	KindText    Kind = "txt"
	KindJPEG    Kind = "jpg"
	KindPNG     Kind = "png"
	KindTIFF    Kind = "tiff"
	KindUnknown Kind = "unknown"
)

// IsArchive reports whether the kind is an extractable container.
func (k Kind) IsArchive() bool {
	return k == KindZip || k == KindRar || k == Kind7z
}

// MIME returns the canonical MIME type for the kind.
func (k Kind) MIME() string {
	if mime, ok := kindMIME[k]; ok {
		return mime
	}
	return "application/octet-stream"
}

var kindMIME = map[Kind]string{
	KindPDF:  "application/pdf",
	KindDocx: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	KindXlsx: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	KindPptx: "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	KindDoc:  "application/msword",
	KindXls:  "application/vnd.ms-excel",
	KindPpt:  "application/vnd.ms-powerpoint",
	KindMsg:  "application/vnd.ms-outlook",
	KindZip:  "application/zip",
	KindRar:  "application/x-rar-compressed",
	Kind7z:   "application/x-7z-compressed",
	KindRtf:  "application/rtf",
	KindXML:  "application/xml",
	KindHTML: "text/html",
	KindEml:  "message/rfc822",
	KindText: "text/plain",
	KindJPEG: "image/jpeg",
	KindPNG:  "image/png",
	KindTIFF: "image/tiff",
}

// extensionKind maps a claimed extension to the kind it promises. Extensions
// absent from the map make no verifiable claim.
var extensionKind = map[string]Kind{
	"pdf":  KindPDF,
	"docx": KindDocx,
	"xlsx": KindXlsx,
	"pptx": KindPptx,
	"doc":  KindDoc,
	"xls":  KindXls,
	"ppt":  KindPpt,
	"msg":  KindMsg,
	"zip":  KindZip,
	"rar":  KindRar,
	"7z":   Kind7z,
	"rtf":  KindRtf,
	"xml":  KindXML,
	"html": KindHTML,
	"htm":  KindHTML,
	"eml":  KindEml,
	"txt":  KindText,
	"csv":  KindText,
	"jpg":  KindJPEG,
	"jpeg": KindJPEG,
	"png":  KindPNG,
	"tif":  KindTIFF,
	"tiff": KindTIFF,
}

// Result describes a detection verdict for a single file.
type Result struct {
	Kind           Kind
	MIME           string
	Extension      string
	FalseExtension bool
	NeedsOCR       bool
	Pages          int
	Size           int64
}

const (
	headerProbeLen = 2048
	htmlProbeLen   = 1024
)

var (
	magicOLE2 = []byte{0xd0, 0xcf, 0x11, 0xe0, 0xa1, 0xb1, 0x1a, 0xe1}
	magicZip  = []byte("PK\x03\x04")
	magicZip2 = []byte("PK\x05\x06")
	magicRar  = []byte("Rar!\x1a\x07")
	magic7z   = []byte{'7', 'z', 0xbc, 0xaf, 0x27, 0x1c}
	magicPDF  = []byte("%PDF")
	magicRtf  = []byte(`{\rtf`)
	magicJPEG = []byte{0xff, 0xd8, 0xff}
	magicPNG  = []byte{0x89, 'P', 'N', 'G'}
	magicTIFF = [][]byte{[]byte("II*\x00"), []byte("MM\x00*")}
)

var xmlIndicators = [][]byte{
	[]byte("<?xml"),
	[]byte("<w:worddocument"),
	[]byte("xmlns:w="),
}

var htmlIndicators = [][]byte{
	[]byte("<html"), []byte("<!doctype"), []byte("<body"), []byte("<head"),
	[]byte("<div"), []byte("<table"), []byte("<title"), []byte("<meta"),
	[]byte("<script"), []byte("<style"), []byte("<link"),
}

var emlIndicators = [][]byte{
	[]byte("from:"), []byte("received:"), []byte("return-path:"), []byte("delivered-to:"),
}

// Sniffer detects file content types using configured PDF sampling limits.
type Sniffer struct {
	samplePages int
	minChars    int
	textRatio   float64
	logger      *slog.Logger
}

// New constructs a Sniffer from config limits.
func New(cfg *config.Config, logger *slog.Logger) *Sniffer {
	limits := config.Default().Limits
	if cfg != nil {
		limits = cfg.Limits
	}
	return &Sniffer{
		samplePages: limits.PDFSamplePages,
		minChars:    limits.PageTextMinChars,
		textRatio:   limits.TextLayerRatio,
		logger:      logging.NewComponentLogger(logger, "sniff"),
	}
}

// Detect inspects the file at path and returns its detection result. Empty
// or unreadable files return KindUnknown alongside a detection error so the
// caller can record a file-level failure without aborting the unit.
func (s *Sniffer) Detect(path string) (Result, error) {
	claimed := claimedExtension(path)
	result := Result{Kind: KindUnknown, Extension: claimed}

	info, err := os.Stat(path)
	if err != nil {
		return result, services.Wrap(services.ErrDetection, "sniff", "stat", path, err)
	}
	result.Size = info.Size()
	if info.Size() == 0 {
		return result, services.Wrap(services.ErrDetection, "sniff", "detect", "empty file "+filepath.Base(path), nil)
	}

	header := make([]byte, headerProbeLen)
	f, err := os.Open(path)
	if err != nil {
		return result, services.Wrap(services.ErrDetection, "sniff", "open", path, err)
	}
	n, err := io.ReadFull(f, header)
	closeErr := f.Close()
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return result, services.Wrap(services.ErrDetection, "sniff", "read", path, err)
	}
	if closeErr != nil {
		return result, services.Wrap(services.ErrDetection, "sniff", "close", path, closeErr)
	}
	header = header[:n]

	result.Kind = s.detectKind(path, header, claimed)
	result.MIME = result.Kind.MIME()
	result.FalseExtension = isFalseExtension(claimed, result.Kind)

	if result.Kind == KindPDF {
		pages, needsOCR := s.pdfTextLayer(path)
		result.Pages = pages
		result.NeedsOCR = needsOCR
	}

	s.logger.Debug("file detected",
		logging.String(logging.FieldFile, filepath.Base(path)),
		logging.String("kind", string(result.Kind)),
		logging.Bool("false_extension", result.FalseExtension),
		logging.Bool("needs_ocr", result.NeedsOCR))
	return result, nil
}

func (s *Sniffer) detectKind(path string, header []byte, claimed string) Kind {
	switch {
	case bytes.HasPrefix(header, magicOLE2):
		return ole2Kind(claimed)
	case bytes.HasPrefix(header, magicZip) || bytes.HasPrefix(header, magicZip2):
		return zipKind(path)
	case bytes.HasPrefix(header, magicRar):
		return KindRar
	case bytes.HasPrefix(header, magic7z):
		return Kind7z
	case bytes.HasPrefix(header, magicPDF):
		return KindPDF
	case bytes.HasPrefix(header, magicRtf):
		return KindRtf
	case bytes.HasPrefix(header, magicJPEG):
		return KindJPEG
	case bytes.HasPrefix(header, magicPNG):
		return KindPNG
	case bytes.HasPrefix(header, magicTIFF[0]) || bytes.HasPrefix(header, magicTIFF[1]):
		return KindTIFF
	}

	lowered := bytes.ToLower(header)
	// WordML carries xmlns:w markers, so the XML probe runs before HTML.
	for _, indicator := range xmlIndicators {
		if bytes.Contains(lowered, indicator) {
			return KindXML
		}
	}
	htmlProbe := lowered
	if len(htmlProbe) > htmlProbeLen {
		htmlProbe = htmlProbe[:htmlProbeLen]
	}
	for _, tag := range htmlIndicators {
		if bytes.Contains(htmlProbe, tag) {
			return KindHTML
		}
	}
	for _, indicator := range emlIndicators {
		if bytes.HasPrefix(lowered, indicator) {
			return KindEml
		}
	}
	if isMostlyPrintable(header) {
		return KindText
	}
	return KindUnknown
}

// ole2Kind resolves an OLE2 compound file to a legacy Office kind using the
// claimed extension; a lying or missing extension defaults to doc.
func ole2Kind(claimed string) Kind {
	switch claimed {
	case "xls":
		return KindXls
	case "ppt":
		return KindPpt
	case "msg":
		return KindMsg
	default:
		return KindDoc
	}
}

// zipKind opens a ZIP container and inspects entry names to split OOXML
// documents from plain archives. A container that will not open is corrupt,
// which reads as unknown.
func zipKind(path string) Kind {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return KindUnknown
	}
	defer reader.Close()

	hasContentTypes := false
	var ooxml Kind
	for _, entry := range reader.File {
		name := entry.Name
		switch {
		case name == "[Content_Types].xml":
			hasContentTypes = true
		case strings.HasPrefix(name, "word/"):
			ooxml = KindDocx
		case strings.HasPrefix(name, "xl/"):
			ooxml = KindXlsx
		case strings.HasPrefix(name, "ppt/"):
			ooxml = KindPptx
		}
	}
	if hasContentTypes && ooxml != "" {
		return ooxml
	}
	return KindZip
}

func claimedExtension(path string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	return ext
}

func isFalseExtension(claimed string, detected Kind) bool {
	if claimed == "" || detected == KindUnknown {
		return false
	}
	expected, ok := extensionKind[claimed]
	if !ok {
		return false
	}
	if expected == detected {
		return false
	}
	if modernOffice[expected] == detected {
		return false
	}
	// htm/html and jpg/jpeg alias through extensionKind already; txt and csv
	// both promise text.
	return true
}

// modernOffice pairs each legacy Office kind with the modern container that
// may legitimately travel under the legacy extension. Exporters routinely
// write OOXML files named .doc, .xls or .ppt.
var modernOffice = map[Kind]Kind{
	KindDoc: KindDocx,
	KindXls: KindXlsx,
	KindPpt: KindPptx,
}

func isMostlyPrintable(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	printable := 0
	for _, b := range data {
		if b == '\n' || b == '\r' || b == '\t' || (b >= 0x20 && b != 0x7f) {
			printable++
		}
	}
	return float64(printable)/float64(len(data)) > 0.9
}
