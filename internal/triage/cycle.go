package triage

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"docprep/internal/classify"
	"docprep/internal/cycle"
	"docprep/internal/fileutil"
	"docprep/internal/logging"
	"docprep/internal/manifest"
	"docprep/internal/services"
	"docprep/internal/sniff"
	"docprep/internal/unitstate"
)

// scan holds the sniff result and classification for every live file,
// keyed by path relative to the unit's files directory.
type scan struct {
	results   map[string]sniff.Result
	decisions map[string]classify.Decision
}

func (s *scan) decisionList() []classify.Decision {
	list := make([]classify.Decision, 0, len(s.decisions))
	for _, name := range sortedKeys(s.decisions) {
		list = append(list, s.decisions[name])
	}
	return list
}

// runCycle executes classify, transform, reclassify, route for cycle n.
// The machine already sits at CLASSIFIED_n.
func (o *Orchestrator) runCycle(ctx context.Context, dir string, n int, m *manifest.Manifest, machine *unitstate.Machine) (*Outcome, error) {
	sc := o.scanUnit(dir, m)
	o.detector.Mark(m)
	verdict := o.classifier.ClassifyUnit(sc.decisionList())

	switch verdict.Category {
	case classify.CategoryDirect:
		subcat, reason := entryMergeTarget(n, m)
		return o.merge(ctx, dir, n, subcat, shelfExt(sc), reason, string(routeOf(sc)))
	case classify.CategorySpecial, classify.CategoryMixed:
		return o.exceptions(ctx, dir, n, exceptionsShelf(verdict), "cannot_process", verdict.Reason)
	}

	worked := verdict
	o.transform(ctx, dir, n, m, sc)
	if err := m.Save(dir); err != nil {
		return nil, err
	}

	sc = o.scanUnit(dir, m)
	o.detector.Mark(m)
	verdict = o.classifier.ClassifyUnit(sc.decisionList())
	switch verdict.Category {
	case classify.CategoryDirect:
		// Cycle 1 merges only untouched content. A unit cleaned up by a
		// cycle-1 transformation waits on its pending shelf and merges
		// next cycle under the transformation's subcategory.
		if n == 1 {
			return o.pend(ctx, dir, n, m, machine, sc.decisions, worked)
		}
		subcat, reason := workMergeTarget(worked.Category)
		return o.merge(ctx, dir, n, subcat, shelfExt(sc), reason, string(routeOf(sc)))
	case classify.CategorySpecial, classify.CategoryMixed:
		return o.exceptions(ctx, dir, n, exceptionsShelf(verdict), "cannot_process", verdict.Reason)
	}

	if n >= o.maxCycles {
		return o.exceptions(ctx, dir, n, exceptionsShelf(verdict), "max_cycles_reached", verdict.Reason)
	}
	return o.pend(ctx, dir, n, m, machine, sc.decisions, verdict)
}

// scanUnit sniffs and classifies every file under the unit's files
// directory, syncing manifest records on the way. Detection failures
// resolve to unknown and classify as special; they never abort the unit.
func (o *Orchestrator) scanUnit(dir string, m *manifest.Manifest) *scan {
	filesDir := filepath.Join(dir, "files")
	sc := &scan{
		results:   make(map[string]sniff.Result),
		decisions: make(map[string]classify.Decision),
	}

	_ = filepath.WalkDir(filesDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(filesDir, path)
		if relErr != nil {
			return nil
		}
		res, detErr := o.sniffer.Detect(path)
		record := m.File(rel)
		if record == nil {
			m.Files = append(m.Files, manifest.FileRecord{OriginalName: rel, CurrentName: rel})
			record = m.File(rel)
		}
		record.MIMEDetected = res.MIME
		record.DetectedType = string(res.Kind)
		record.NeedsOCR = res.NeedsOCR
		record.PagesOrParts = res.Pages
		record.Size = res.Size
		record.FalseExtension = res.FalseExtension
		record.IsArchive = res.Kind.IsArchive()
		if hash, hashErr := fileutil.HashFile(path); hashErr == nil {
			record.SHA256 = hash
		}
		if detErr != nil {
			record.Error = detErr.Error()
		}

		decision := o.classifier.ClassifyFile(res, filepath.Base(rel))
		sc.results[rel] = res
		sc.decisions[rel] = decision
		return nil
	})

	// Records whose file vanished, consumed archives mostly, drop out of
	// the live view but keep their manifest entry history.
	return sc
}

// transform applies the per-file work the decisions call for. Failures are
// captured per file and never abort sibling files.
func (o *Orchestrator) transform(ctx context.Context, dir string, n int, m *manifest.Manifest, sc *scan) {
	filesDir := filepath.Join(dir, "files")
	for _, rel := range sortedKeys(sc.decisions) {
		decision := sc.decisions[rel]
		var err error
		switch decision.Category {
		case classify.CategoryNormalize:
			err = o.normalizeFile(m, filesDir, rel, sc.results[rel], n)
		case classify.CategoryConvert:
			err = o.convertFile(ctx, m, filesDir, rel, decision.ConvertTarget, n)
		case classify.CategoryExtract:
			err = o.extractFile(ctx, m, filesDir, rel, n)
		default:
			continue
		}
		if err != nil {
			if record := m.File(rel); record != nil {
				record.Error = err.Error()
			}
			if o.collector != nil {
				if errors.Is(err, services.ErrExtraction) && strings.Contains(err.Error(), "limit") {
					o.collector.BoundViolation()
				} else {
					o.collector.ToolFailure()
				}
			}
			o.logger.Warn("transformation failed",
				logging.String(logging.FieldUnitID, m.UnitID),
				logging.String(logging.FieldFile, rel),
				logging.String(logging.FieldCategory, string(decision.Category)),
				logging.Error(err))
		}
	}
}

// normalizeFile renames the file so its name and extension match the
// detected content.
func (o *Orchestrator) normalizeFile(m *manifest.Manifest, filesDir, rel string, res sniff.Result, n int) error {
	base := filepath.Base(rel)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	fixed := fileutil.NormalizeName(stem + "." + string(res.Kind))
	if fixed == base {
		return nil
	}
	subdir := filepath.Dir(rel)
	targetDir := filepath.Join(filesDir, subdir)
	fixed = fileutil.UniqueName(targetDir, fixed)
	newRel := filepath.Join(subdir, fixed)
	if subdir == "." {
		newRel = fixed
	}

	if err := fileutil.MoveFile(filepath.Join(filesDir, rel), filepath.Join(filesDir, newRel)); err != nil {
		return services.Wrap(services.ErrDistribution, "triage", "normalize", rel, err)
	}
	if record := m.File(rel); record != nil {
		record.CurrentName = newRel
	}
	m.AppendTransformation(newRel, manifest.Transformation{
		Type:      "normalized",
		From:      rel,
		To:        newRel,
		Cycle:     n,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if o.collector != nil {
		o.collector.Transformation("normalized")
	}
	return nil
}

// convertFile renders a legacy Office file into its modern target next to
// the source, which is removed on success.
func (o *Orchestrator) convertFile(ctx context.Context, m *manifest.Manifest, filesDir, rel, target string, n int) error {
	if target == "" {
		return services.Wrap(services.ErrConversion, "triage", "convert", rel+" has no conversion target", nil)
	}
	src := filepath.Join(filesDir, rel)
	outDir := filepath.Dir(src)
	produced, err := o.converter.Convert(ctx, src, outDir, target)
	if err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		return services.Wrap(services.ErrConversion, "triage", "convert", "remove source "+rel, err)
	}

	newRel, relErr := filepath.Rel(filesDir, produced)
	if relErr != nil {
		newRel = filepath.Base(produced)
	}
	if record := m.File(rel); record != nil {
		record.CurrentName = newRel
	}
	m.AppendTransformation(newRel, manifest.Transformation{
		Type:      "converted",
		From:      rel,
		To:        newRel,
		Tool:      "libreoffice",
		Cycle:     n,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if o.collector != nil {
		o.collector.Transformation("converted")
	}
	return nil
}

// extractFile unpacks an archive into the files directory and replaces its
// manifest record with records for the extracted content.
func (o *Orchestrator) extractFile(ctx context.Context, m *manifest.Manifest, filesDir, rel string, n int) error {
	src := filepath.Join(filesDir, rel)
	result, err := o.opener.Extract(ctx, src, filesDir)
	if err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		return services.Wrap(services.ErrExtraction, "triage", "extract", "remove archive "+rel, err)
	}

	dropRecord(m, rel)
	stamp := time.Now().UTC().Format(time.RFC3339)
	for _, extracted := range result.Extracted {
		m.Files = append(m.Files, manifest.FileRecord{
			OriginalName: extracted,
			CurrentName:  extracted,
			Transformations: []manifest.Transformation{{
				Type:      "extracted",
				From:      rel,
				To:        extracted,
				Cycle:     n,
				Timestamp: stamp,
			}},
		})
	}
	for _, skipped := range result.Skipped {
		o.logger.Warn("archive entry skipped",
			logging.String(logging.FieldUnitID, m.UnitID),
			logging.String(logging.FieldFile, skipped.Name),
			logging.String("reason", skipped.Reason))
	}
	if o.collector != nil {
		o.collector.Transformation("extracted")
	}
	return nil
}

func dropRecord(m *manifest.Manifest, currentName string) {
	for i := range m.Files {
		if m.Files[i].CurrentName == currentName {
			m.Files = append(m.Files[:i], m.Files[i+1:]...)
			return
		}
	}
}

// entryMergeTarget picks the merge shelf for a unit that classifies direct
// at cycle entry. Cycle 1 means untouched content; later cycles inherit the
// shelf from the transformation that made the unit direct.
func entryMergeTarget(n int, m *manifest.Manifest) (cycle.MergeSubcategory, string) {
	if n == 1 {
		return cycle.MergeDirect, "direct"
	}
	latest := ""
	var latestStamp string
	for _, record := range m.Files {
		for _, tr := range record.Transformations {
			if tr.Timestamp >= latestStamp {
				latestStamp = tr.Timestamp
				latest = tr.Type
			}
		}
	}
	switch latest {
	case "extracted":
		return cycle.MergeExtracted, "extracted"
	case "converted":
		return cycle.MergeConverted, "converted"
	}
	return cycle.MergeNormalized, "normalized"
}

// exceptionsShelf maps a verdict to its exceptions shelf. A unit emptied of
// content has nothing to diagnose, so it lands on the unknown shelf.
func exceptionsShelf(verdict classify.Verdict) cycle.ExceptionsSubcategory {
	if verdict.Reason == "empty_unit" {
		return cycle.ExceptionsUnknown
	}
	return cycle.ExceptionsSubcategoryFor(verdict.Category)
}

// workMergeTarget maps the work category just performed to its merge shelf.
func workMergeTarget(category classify.Category) (cycle.MergeSubcategory, string) {
	switch category {
	case classify.CategoryExtract:
		return cycle.MergeExtracted, "extracted"
	case classify.CategoryConvert:
		return cycle.MergeConverted, "converted"
	}
	return cycle.MergeNormalized, "normalized"
}

// shelfExt derives the extension shelf from the first live file's detected
// kind.
func shelfExt(sc *scan) string {
	for _, rel := range sortedKeys(sc.results) {
		kind := sc.results[rel].Kind
		if kind != sniff.KindUnknown {
			return string(kind)
		}
	}
	return "none"
}

// routeOf picks the downstream parser lane for the unit's final content.
func routeOf(sc *scan) classify.Route {
	inputs := make([]classify.RouteInput, 0, len(sc.results))
	for _, rel := range sortedKeys(sc.results) {
		res := sc.results[rel]
		inputs = append(inputs, classify.RouteInput{Kind: res.Kind, NeedsOCR: res.NeedsOCR})
	}
	return classify.DetermineRoute(inputs)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
