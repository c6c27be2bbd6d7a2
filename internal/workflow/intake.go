package workflow

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"docprep/internal/cycle"
	"docprep/internal/fileutil"
	"docprep/internal/logging"
	"docprep/internal/manifest"
	"docprep/internal/services"
	"docprep/internal/unitstate"
)

// intake sweeps the raw input directory into the processing tree. Each
// subdirectory becomes one unit; each loose file becomes a single-file
// unit. Units without a usable manifest get a minted id and a fresh
// manifest. Returns the unit ids ready for their first cycle.
func (r *Runner) intake(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(r.cfg.Paths.RawDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, services.Wrap(services.ErrConfiguration, "workflow", "intake", r.cfg.Paths.RawDir, err)
	}

	var unitIDs []string
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return unitIDs, err
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		source := filepath.Join(r.cfg.Paths.RawDir, name)

		var unitID string
		var intakeErr error
		if entry.IsDir() {
			unitID, intakeErr = r.intakeDir(source)
		} else {
			unitID, intakeErr = r.intakeFile(source)
		}
		if intakeErr != nil {
			r.logger.Error("intake failed, entry left in place",
				logging.String("source", source),
				logging.Error(intakeErr))
			continue
		}
		unitIDs = append(unitIDs, unitID)
		r.logger.Info("unit intaken",
			logging.String(logging.FieldUnitID, unitID),
			logging.String("source", name))
	}
	return unitIDs, nil
}

// intakeDir moves one raw unit directory into the intake area. An existing
// manifest keeps its unit id; anything else gets a minted one.
func (r *Runner) intakeDir(source string) (string, error) {
	unitID := ""
	if m, err := manifest.Load(source); err == nil && m.UnitID != "" {
		unitID = m.UnitID
	}
	if unitID == "" {
		unitID = uuid.NewString()
	}

	dest := r.layout.RawDir(unitID)
	if _, err := os.Stat(dest); err == nil {
		return "", services.Wrap(services.ErrDistribution, "workflow", "intake",
			"unit "+unitID+" already present in intake area", nil)
	}
	if err := fileutil.MoveDir(source, dest); err != nil {
		return "", err
	}
	if err := shapeUnitDir(dest); err != nil {
		return "", err
	}
	return unitID, seedManifest(dest, unitID)
}

// intakeFile wraps one loose file into its own unit.
func (r *Runner) intakeFile(source string) (string, error) {
	unitID := uuid.NewString()
	dest := r.layout.RawDir(unitID)
	filesDir := filepath.Join(dest, "files")
	if err := fileutil.EnsureDir(filesDir); err != nil {
		return "", err
	}
	if err := fileutil.MoveFile(source, filepath.Join(filesDir, filepath.Base(source))); err != nil {
		return "", err
	}
	return unitID, seedManifest(dest, unitID)
}

// shapeUnitDir normalizes a unit directory so all content sits under
// files/. Raw deliveries usually arrive with loose files at the top.
func shapeUnitDir(unitDir string) error {
	filesDir := filepath.Join(unitDir, "files")
	if info, err := os.Stat(filesDir); err == nil && info.IsDir() {
		return nil
	}
	if err := fileutil.EnsureDir(filesDir); err != nil {
		return err
	}
	entries, err := os.ReadDir(unitDir)
	if err != nil {
		return services.Wrap(services.ErrDistribution, "workflow", "intake", unitDir, err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if name == "files" || name == manifest.FileName {
			continue
		}
		src := filepath.Join(unitDir, name)
		dst := filepath.Join(filesDir, name)
		if entry.IsDir() {
			if err := fileutil.MoveDir(src, dst); err != nil {
				return err
			}
			continue
		}
		if err := fileutil.MoveFile(src, dst); err != nil {
			return err
		}
	}
	return nil
}

// seedManifest writes a fresh manifest for a newly intaken unit. A loaded
// manifest that already carries a sane trace is kept untouched.
func seedManifest(unitDir, unitID string) error {
	if m, err := manifest.Load(unitDir); err == nil && m.UnitID == unitID {
		if _, ok := unitstate.Replay(m.StateMachine.StateTrace); ok && !m.Sealed() {
			return nil
		}
	}
	return manifest.New(unitID).Save(unitDir)
}

// resumable collects units parked on pending shelves from an earlier run.
// Only cycles 1 and 2 pend; the final cycle always terminates.
func (r *Runner) resumable() []string {
	var unitIDs []string
	for n := 1; n < cycle.MaxCycles; n++ {
		root := r.layout.PendingRoot(n)
		categories, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, category := range categories {
			if !category.IsDir() {
				continue
			}
			shelves, err := os.ReadDir(filepath.Join(root, category.Name()))
			if err != nil {
				continue
			}
			for _, shelf := range shelves {
				if !shelf.IsDir() {
					continue
				}
				units, err := os.ReadDir(filepath.Join(root, category.Name(), shelf.Name()))
				if err != nil {
					continue
				}
				for _, unit := range units {
					if unit.IsDir() {
						unitIDs = append(unitIDs, unit.Name())
					}
				}
			}
		}
	}
	sort.Strings(unitIDs)
	return unitIDs
}
