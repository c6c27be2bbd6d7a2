// Package distribute moves a classified unit into the pending layout for
// the next cycle's work. The unit travels whole: every file lands under one
// pending shelf chosen by the unit verdict, so the unit never has two live
// locations. Per-file failures are collected, never fatal to siblings.
package distribute

import (
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"docprep/internal/classify"
	"docprep/internal/config"
	"docprep/internal/cycle"
	"docprep/internal/dupes"
	"docprep/internal/fileutil"
	"docprep/internal/logging"
	"docprep/internal/manifest"
	"docprep/internal/metrics"
	"docprep/internal/services"
)

// FileError records a failure that hit one file during distribution.
type FileError struct {
	Name    string
	Message string
}

// Summary reports the outcome of one distribution.
type Summary struct {
	Target      string
	PerCategory map[classify.Category]int
	Duplicates  int
	Errors      []FileError
}

// Distributor places units on pending shelves.
type Distributor struct {
	layout    *cycle.Layout
	detector  *dupes.Detector
	collector *metrics.Collector
	logger    *slog.Logger
}

// New constructs a Distributor.
func New(cfg *config.Config, collector *metrics.Collector, logger *slog.Logger) *Distributor {
	return &Distributor{
		layout:    cycle.NewLayout(cfg),
		detector:  dupes.New(logger),
		collector: collector,
		logger:    logging.NewComponentLogger(logger, "distribute"),
	}
}

// Distribute moves the unit at unitDir into Pending_n based on the verdict.
// The manifest is updated in place (duplicate marks, renames, per-file
// errors) and saved at the destination. Mixed units land on the mixed
// quarantine shelf whole.
func (d *Distributor) Distribute(unitDir string, n int, m *manifest.Manifest, decisions map[string]classify.Decision, verdict classify.Verdict) (*Summary, error) {
	switch verdict.Category {
	case classify.CategoryNormalize, classify.CategoryConvert, classify.CategoryExtract, classify.CategoryMixed:
	default:
		return nil, services.Wrap(services.ErrDistribution, "distribute", "place",
			"category "+string(verdict.Category)+" is routed, not distributed", nil)
	}

	summary := &Summary{PerCategory: make(map[classify.Category]int)}
	for _, decision := range decisions {
		summary.PerCategory[decision.Category]++
		if d.collector != nil {
			d.collector.FileClassified(string(decision.Category))
		}
	}
	summary.Duplicates = len(d.detector.Mark(m))

	shelfExt := shelfExtension(m, decisions, verdict)
	dest := d.layout.PendingDir(n, verdict.Category, shelfExt, m.UnitID)
	destFiles := filepath.Join(dest, "files")
	if err := fileutil.EnsureDir(destFiles); err != nil {
		return nil, services.Wrap(services.ErrDistribution, "distribute", "prepare", dest, err)
	}

	srcFiles := filepath.Join(unitDir, "files")
	for _, name := range sortedNames(decisions) {
		// Extracted content may sit in subdirectories of files/.
		if err := fileutil.EnsureDir(filepath.Dir(filepath.Join(destFiles, name))); err != nil {
			summary.Errors = append(summary.Errors, FileError{Name: name, Message: err.Error()})
			continue
		}
		placed := fileutil.UniqueName(destFiles, name)
		target := filepath.Join(destFiles, placed)
		if err := fileutil.MoveFile(filepath.Join(srcFiles, name), target); err != nil {
			summary.Errors = append(summary.Errors, FileError{Name: name, Message: err.Error()})
			if record := m.File(name); record != nil {
				record.Error = err.Error()
			}
			d.logger.Warn("file distribution failed",
				logging.String(logging.FieldFile, name),
				logging.Error(err))
			continue
		}
		if placed != name {
			if record := m.File(name); record != nil {
				record.CurrentName = placed
			}
		}
	}

	m.Processing.CurrentCycle = n
	if err := m.Save(dest); err != nil {
		return nil, err
	}
	summary.Target = dest

	d.logger.Info("unit distributed",
		logging.String(logging.FieldUnitID, m.UnitID),
		logging.Int(logging.FieldCycle, n),
		logging.String(logging.FieldCategory, string(verdict.Category)),
		logging.Int("errors", len(summary.Errors)))
	return summary, nil
}

// shelfExtension derives the extension shelf from the verdict: the convert
// target when converting, otherwise the first relevant file's extension.
// When the cycle's work already transformed every matching file, the live
// decisions no longer carry the verdict category; the shelf then falls back
// to the extension the recorded transformation consumed.
func shelfExtension(m *manifest.Manifest, decisions map[string]classify.Decision, verdict classify.Verdict) string {
	if verdict.Category == classify.CategoryMixed {
		return "none"
	}
	for _, name := range sortedNames(decisions) {
		decision := decisions[name]
		if decision.Category != verdict.Category {
			continue
		}
		if decision.ConvertTarget != "" {
			return decision.ConvertTarget
		}
		if ext := extensionOf(name); ext != "" {
			return ext
		}
	}
	want := transformationFor(verdict.Category)
	for _, record := range m.Files {
		for _, tr := range record.Transformations {
			if tr.Type != want || tr.From == "" {
				continue
			}
			if ext := extensionOf(tr.From); ext != "" {
				return ext
			}
		}
	}
	return "none"
}

func extensionOf(name string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
}

// transformationFor names the transformation type a work category records.
func transformationFor(category classify.Category) string {
	switch category {
	case classify.CategoryConvert:
		return "converted"
	case classify.CategoryExtract:
		return "extracted"
	default:
		return "normalized"
	}
}

func sortedNames(decisions map[string]classify.Decision) []string {
	names := make([]string, 0, len(decisions))
	for name := range decisions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
