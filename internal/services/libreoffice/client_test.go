package libreoffice

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"docprep/internal/services"
)

// convertStub writes the expected output file when invoked, emulating a
// successful headless conversion.
type convertStub struct {
	failBinaries map[string]bool
	emptyOutput  bool
	skipOutput   bool
	calls        []string
}

func (s *convertStub) Run(_ context.Context, binary string, args []string, _ func(string)) error {
	s.calls = append(s.calls, binary)
	if s.failBinaries[binary] {
		return errors.New("exit status 77")
	}
	if s.skipOutput {
		return nil
	}
	var target, outDir, src string
	for i, arg := range args {
		switch arg {
		case "--convert-to":
			target = args[i+1]
		case "--outdir":
			outDir = args[i+1]
		}
	}
	src = args[len(args)-1]
	stem := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	content := []byte("%PDF-1.4 converted")
	if s.emptyOutput {
		content = nil
	}
	return os.WriteFile(filepath.Join(outDir, stem+"."+target), content, 0o644)
}

func writeSource(t *testing.T, dir string) string {
	t.Helper()
	src := filepath.Join(dir, "offer.docx")
	if err := os.WriteFile(src, []byte("PK\x03\x04 body"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return src
}

func TestConvertProducesOutput(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir)
	stub := &convertStub{}
	client, err := New("libreoffice", 60, WithExecutor(stub))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	outDir := filepath.Join(dir, "out")
	produced, err := client.Convert(context.Background(), src, outDir, "pdf")
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if filepath.Base(produced) != "offer.pdf" {
		t.Fatalf("unexpected output path %s", produced)
	}
	if len(stub.calls) != 1 || stub.calls[0] != "libreoffice" {
		t.Fatalf("unexpected calls %v", stub.calls)
	}
}

func TestConvertFallsBackToSoffice(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir)
	stub := &convertStub{failBinaries: map[string]bool{"libreoffice": true}}
	client, err := New("libreoffice", 60, WithExecutor(stub))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	produced, err := client.Convert(context.Background(), src, filepath.Join(dir, "out"), "pdf")
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if produced == "" {
		t.Fatal("expected output path")
	}
	if len(stub.calls) != 2 || stub.calls[1] != "soffice" {
		t.Fatalf("expected soffice fallback, got %v", stub.calls)
	}
}

func TestConvertRejectsMissingOutput(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir)
	stub := &convertStub{skipOutput: true}
	client, err := New("libreoffice", 60, WithExecutor(stub))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = client.Convert(context.Background(), src, filepath.Join(dir, "out"), "pdf")
	if !errors.Is(err, services.ErrConversion) {
		t.Fatalf("expected conversion error, got %v", err)
	}
}

func TestConvertRejectsEmptyOutput(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir)
	stub := &convertStub{emptyOutput: true}
	client, err := New("libreoffice", 60, WithExecutor(stub))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	outDir := filepath.Join(dir, "out")
	_, err = client.Convert(context.Background(), src, outDir, "pdf")
	if !errors.Is(err, services.ErrConversion) {
		t.Fatalf("expected conversion error, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(outDir, "offer.pdf")); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatal("empty output file should be removed")
	}
}

func TestConvertAllBinariesFail(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir)
	stub := &convertStub{failBinaries: map[string]bool{"libreoffice": true, "soffice": true}}
	client, err := New("libreoffice", 60, WithExecutor(stub))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = client.Convert(context.Background(), src, filepath.Join(dir, "out"), "pdf")
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
}

func TestNewRequiresBinary(t *testing.T) {
	if _, err := New("", 60); err == nil {
		t.Fatal("expected error for empty binary")
	}
}
