// Package classify assigns triage categories to detected files and derives
// the unit-level verdict that drives routing. Category assignment is a fixed
// precedence table over the sniffed kind and the claimed extension; the
// classifier never opens files itself.
package classify

import (
	"log/slog"
	"path/filepath"
	"strings"

	"docprep/internal/logging"
	"docprep/internal/sniff"
)

// Category is a triage work category.
type Category string

const (
	// CategoryDirect files are ready for downstream parsing as-is.
	CategoryDirect Category = "direct"
	// CategoryNormalize files have the right content but a wrong or missing
	// extension.
	CategoryNormalize Category = "normalize"
	// CategoryConvert files are legacy Office formats with a modern target.
	CategoryConvert Category = "convert"
	// CategoryExtract files are archives to unpack.
	CategoryExtract Category = "extract"
	// CategorySpecial files cannot be processed by the standard pipeline.
	CategorySpecial Category = "special"
	// CategoryMixed marks a unit whose files demand incompatible handling.
	CategoryMixed Category = "mixed"
)

// Decision is the classification outcome for one file.
type Decision struct {
	Category      Category
	Reason        string
	ConvertTarget string
}

// Verdict is the unit-level classification outcome.
type Verdict struct {
	Category Category
	Reason   string
}

var signatureExtensions = map[string]struct{}{
	".sig": {}, ".p7s": {}, ".pem": {}, ".cer": {}, ".crt": {},
}

var unsupportedExtensions = map[string]struct{}{
	".exe": {}, ".dll": {}, ".db": {}, ".tmp": {}, ".log": {},
	".ini": {}, ".sys": {}, ".bat": {}, ".sh": {},
}

// complexSuffixes cover multi-part and macro-enabled containers the standard
// extract/convert paths refuse.
var complexSuffixes = []string{
	".tar.gz", ".tar.bz2", ".tar.xz",
	".docm", ".xlsm", ".pptm", ".dotx", ".xltx", ".potx",
}

var convertTargets = map[sniff.Kind]string{
	sniff.KindDoc: "docx",
	sniff.KindXls: "xlsx",
	sniff.KindPpt: "pptx",
}

var directKinds = map[sniff.Kind]struct{}{
	sniff.KindPDF:  {},
	sniff.KindDocx: {},
	sniff.KindXlsx: {},
	sniff.KindPptx: {},
	sniff.KindJPEG: {},
	sniff.KindPNG:  {},
	sniff.KindTIFF: {},
	sniff.KindXML:  {},
	sniff.KindText: {},
}

// Classifier applies the category precedence table.
type Classifier struct {
	logger *slog.Logger
}

// New constructs a Classifier.
func New(logger *slog.Logger) *Classifier {
	return &Classifier{logger: logging.NewComponentLogger(logger, "classify")}
}

// ClassifyFile maps one detection result to a category. Precedence, highest
// first: signature companions, unsupported types, complex containers,
// archives, legacy Office conversions, extension repair, direct passthrough.
// Everything left is special.
func (c *Classifier) ClassifyFile(res sniff.Result, name string) Decision {
	lower := strings.ToLower(name)
	ext := strings.ToLower(filepath.Ext(name))

	decision := c.classifyFile(res, lower, ext)
	c.logger.Debug("file classified",
		logging.String(logging.FieldFile, name),
		logging.String(logging.FieldCategory, string(decision.Category)),
		logging.String("reason", decision.Reason))
	return decision
}

func (c *Classifier) classifyFile(res sniff.Result, lower, ext string) Decision {
	if _, ok := signatureExtensions[ext]; ok {
		return Decision{Category: CategorySpecial, Reason: "signature_companion"}
	}
	if _, ok := unsupportedExtensions[ext]; ok {
		return Decision{Category: CategorySpecial, Reason: "unsupported_type"}
	}
	for _, suffix := range complexSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return Decision{Category: CategorySpecial, Reason: "complex_container"}
		}
	}
	if res.Kind.IsArchive() {
		return Decision{Category: CategoryExtract, Reason: "archive"}
	}
	if target, ok := convertTargets[res.Kind]; ok {
		return Decision{Category: CategoryConvert, Reason: "legacy_office", ConvertTarget: target}
	}
	if _, ok := directKinds[res.Kind]; ok {
		if res.Extension == "" {
			return Decision{Category: CategoryNormalize, Reason: "missing_extension"}
		}
		if res.FalseExtension {
			return Decision{Category: CategoryNormalize, Reason: "false_extension"}
		}
		return Decision{Category: CategoryDirect, Reason: "supported_type"}
	}
	if res.Kind == sniff.KindUnknown {
		return Decision{Category: CategorySpecial, Reason: "unknown_type"}
	}
	// rtf, html, eml, msg and anything else exotic.
	return Decision{Category: CategorySpecial, Reason: "special_format"}
}

// ClassifyUnit reduces file decisions to the unit verdict. The verdict is
// the single category every file agrees on; any blend of distinct
// categories is mixed, and an empty unit is special.
func (c *Classifier) ClassifyUnit(decisions []Decision) Verdict {
	present := map[Category]int{}
	for _, d := range decisions {
		present[d.Category]++
	}

	verdict := classifyUnit(present, len(decisions))
	c.logger.Debug("unit classified",
		logging.String(logging.FieldCategory, string(verdict.Category)),
		logging.String("reason", verdict.Reason),
		logging.Int("files", len(decisions)))
	return verdict
}

func classifyUnit(present map[Category]int, total int) Verdict {
	if total == 0 {
		return Verdict{Category: CategorySpecial, Reason: "empty_unit"}
	}
	if len(present) > 1 {
		return Verdict{Category: CategoryMixed, Reason: "incompatible_blend"}
	}
	for category := range present {
		switch category {
		case CategoryDirect:
			return Verdict{Category: CategoryDirect, Reason: "all_direct"}
		case CategorySpecial:
			return Verdict{Category: CategorySpecial, Reason: "all_special"}
		default:
			return Verdict{Category: category, Reason: "work_required"}
		}
	}
	return Verdict{Category: CategorySpecial, Reason: "unclassifiable"}
}

// Route labels the downstream parser lane for a finished unit.
type Route string

const (
	RoutePDFText  Route = "pdf_text"
	RoutePDFScan  Route = "pdf_scan"
	RouteDocx     Route = "docx"
	RouteXlsx     Route = "xlsx"
	RoutePptx     Route = "pptx"
	RouteHTML     Route = "html"
	RouteXML      Route = "xml"
	RouteImageOCR Route = "image_ocr"
	RouteRtf      Route = "rtf"
	RouteMixed    Route = "mixed"
)

// RouteInput is the per-file shape DetermineRoute consumes.
type RouteInput struct {
	Kind     sniff.Kind
	NeedsOCR bool
}

// DetermineRoute picks the parser lane for the unit's final content. A unit
// whose files disagree on lane is RouteMixed.
func DetermineRoute(files []RouteInput) Route {
	var current Route
	for _, f := range files {
		lane := laneOf(f)
		if current == "" {
			current = lane
			continue
		}
		if lane != current {
			return RouteMixed
		}
	}
	if current == "" {
		return RouteMixed
	}
	return current
}

func laneOf(f RouteInput) Route {
	switch f.Kind {
	case sniff.KindPDF:
		if f.NeedsOCR {
			return RoutePDFScan
		}
		return RoutePDFText
	case sniff.KindDocx:
		return RouteDocx
	case sniff.KindXlsx:
		return RouteXlsx
	case sniff.KindPptx:
		return RoutePptx
	case sniff.KindHTML:
		return RouteHTML
	case sniff.KindXML:
		return RouteXML
	case sniff.KindJPEG, sniff.KindPNG, sniff.KindTIFF:
		return RouteImageOCR
	case sniff.KindRtf:
		return RouteRtf
	default:
		return RouteMixed
	}
}
