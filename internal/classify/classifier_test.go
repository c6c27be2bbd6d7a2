package classify_test

import (
	"testing"

	"docprep/internal/classify"
	"docprep/internal/logging"
	"docprep/internal/sniff"
)

func TestClassifyFilePrecedence(t *testing.T) {
	c := classify.New(logging.NewNop())

	cases := []struct {
		name     string
		res      sniff.Result
		fileName string
		want     classify.Category
		reason   string
	}{
		{
			name:     "signature companion outranks everything",
			res:      sniff.Result{Kind: sniff.KindText, Extension: "p7s"},
			fileName: "contract.pdf.p7s",
			want:     classify.CategorySpecial,
			reason:   "signature_companion",
		},
		{
			name:     "unsupported extension",
			res:      sniff.Result{Kind: sniff.KindUnknown, Extension: "exe"},
			fileName: "setup.exe",
			want:     classify.CategorySpecial,
			reason:   "unsupported_type",
		},
		{
			name:     "complex container by compound suffix",
			res:      sniff.Result{Kind: sniff.KindZip, Extension: "gz"},
			fileName: "bundle.tar.gz",
			want:     classify.CategorySpecial,
			reason:   "complex_container",
		},
		{
			name:     "macro-enabled document",
			res:      sniff.Result{Kind: sniff.KindDocx, Extension: "docm"},
			fileName: "form.docm",
			want:     classify.CategorySpecial,
			reason:   "complex_container",
		},
		{
			name:     "archive",
			res:      sniff.Result{Kind: sniff.KindZip, Extension: "zip"},
			fileName: "docs.zip",
			want:     classify.CategoryExtract,
			reason:   "archive",
		},
		{
			name:     "legacy office",
			res:      sniff.Result{Kind: sniff.KindDoc, Extension: "doc"},
			fileName: "contract.doc",
			want:     classify.CategoryConvert,
			reason:   "legacy_office",
		},
		{
			name:     "false extension forces normalize",
			res:      sniff.Result{Kind: sniff.KindPDF, Extension: "docx", FalseExtension: true},
			fileName: "invoice.docx",
			want:     classify.CategoryNormalize,
			reason:   "false_extension",
		},
		{
			name:     "missing extension forces normalize",
			res:      sniff.Result{Kind: sniff.KindPDF, Extension: ""},
			fileName: "invoice",
			want:     classify.CategoryNormalize,
			reason:   "missing_extension",
		},
		{
			name:     "clean direct",
			res:      sniff.Result{Kind: sniff.KindPDF, Extension: "pdf"},
			fileName: "invoice.pdf",
			want:     classify.CategoryDirect,
			reason:   "supported_type",
		},
		{
			name:     "modern container behind legacy extension",
			res:      sniff.Result{Kind: sniff.KindDocx, Extension: "doc"},
			fileName: "report.doc",
			want:     classify.CategoryDirect,
			reason:   "supported_type",
		},
		{
			name:     "rtf is special",
			res:      sniff.Result{Kind: sniff.KindRtf, Extension: "rtf"},
			fileName: "note.rtf",
			want:     classify.CategorySpecial,
			reason:   "special_format",
		},
		{
			name:     "unknown is special",
			res:      sniff.Result{Kind: sniff.KindUnknown, Extension: "dat"},
			fileName: "blob.dat",
			want:     classify.CategorySpecial,
			reason:   "unknown_type",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := c.ClassifyFile(tc.res, tc.fileName)
			if got.Category != tc.want {
				t.Fatalf("expected category %s, got %s", tc.want, got.Category)
			}
			if got.Reason != tc.reason {
				t.Fatalf("expected reason %s, got %s", tc.reason, got.Reason)
			}
		})
	}
}

func TestClassifyFileConvertTarget(t *testing.T) {
	c := classify.New(logging.NewNop())
	cases := map[sniff.Kind]string{
		sniff.KindDoc: "docx",
		sniff.KindXls: "xlsx",
		sniff.KindPpt: "pptx",
	}
	for kind, target := range cases {
		d := c.ClassifyFile(sniff.Result{Kind: kind, Extension: string(kind)}, "file."+string(kind))
		if d.ConvertTarget != target {
			t.Fatalf("%s: expected target %s, got %s", kind, target, d.ConvertTarget)
		}
	}
}

func TestClassifyUnit(t *testing.T) {
	c := classify.New(logging.NewNop())
	direct := classify.Decision{Category: classify.CategoryDirect}
	extract := classify.Decision{Category: classify.CategoryExtract}
	convert := classify.Decision{Category: classify.CategoryConvert}
	normalize := classify.Decision{Category: classify.CategoryNormalize}
	special := classify.Decision{Category: classify.CategorySpecial}

	cases := []struct {
		name      string
		decisions []classify.Decision
		want      classify.Category
		reason    string
	}{
		{"all direct", []classify.Decision{direct, direct}, classify.CategoryDirect, "all_direct"},
		{"empty unit", nil, classify.CategorySpecial, "empty_unit"},
		{"all special", []classify.Decision{special, special}, classify.CategorySpecial, "all_special"},
		{"special blended with direct", []classify.Decision{special, direct}, classify.CategoryMixed, "incompatible_blend"},
		{"special blended with work", []classify.Decision{special, convert}, classify.CategoryMixed, "incompatible_blend"},
		{"direct blended with extract", []classify.Decision{direct, extract}, classify.CategoryMixed, "incompatible_blend"},
		{"two work categories", []classify.Decision{normalize, convert}, classify.CategoryMixed, "incompatible_blend"},
		{"all extract", []classify.Decision{extract, extract}, classify.CategoryExtract, "work_required"},
		{"all convert", []classify.Decision{convert}, classify.CategoryConvert, "work_required"},
		{"all normalize", []classify.Decision{normalize, normalize}, classify.CategoryNormalize, "work_required"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := c.ClassifyUnit(tc.decisions)
			if got.Category != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got.Category)
			}
			if got.Reason != tc.reason {
				t.Fatalf("expected reason %s, got %s", tc.reason, got.Reason)
			}
		})
	}
}

func TestDetermineRoute(t *testing.T) {
	cases := []struct {
		name  string
		files []classify.RouteInput
		want  classify.Route
	}{
		{"pdf with text", []classify.RouteInput{{Kind: sniff.KindPDF}}, classify.RoutePDFText},
		{"pdf scan", []classify.RouteInput{{Kind: sniff.KindPDF, NeedsOCR: true}}, classify.RoutePDFScan},
		{"docx", []classify.RouteInput{{Kind: sniff.KindDocx}, {Kind: sniff.KindDocx}}, classify.RouteDocx},
		{"images", []classify.RouteInput{{Kind: sniff.KindJPEG}, {Kind: sniff.KindPNG}}, classify.RouteImageOCR},
		{"disagreeing lanes", []classify.RouteInput{{Kind: sniff.KindPDF}, {Kind: sniff.KindXlsx}}, classify.RouteMixed},
		{"pdf text and scan disagree", []classify.RouteInput{{Kind: sniff.KindPDF}, {Kind: sniff.KindPDF, NeedsOCR: true}}, classify.RouteMixed},
		{"no files", nil, classify.RouteMixed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := classify.DetermineRoute(tc.files); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}
