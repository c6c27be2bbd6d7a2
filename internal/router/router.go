// Package router moves whole units into the merge and exceptions trees.
// A route is the ownership transfer for a unit: the directory rename is the
// commit point, and the manifest carries the state transition and the final
// cluster decision.
package router

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"docprep/internal/config"
	"docprep/internal/cycle"
	"docprep/internal/fileutil"
	"docprep/internal/logging"
	"docprep/internal/manifest"
	"docprep/internal/services"
	"docprep/internal/unitstate"
)

// Router places units in Merge_N and Exceptions_N and finds them again.
type Router struct {
	layout *cycle.Layout
	logger *slog.Logger
}

// New constructs a Router over the configured processing layout.
func New(cfg *config.Config, logger *slog.Logger) *Router {
	return &Router{
		layout: cycle.NewLayout(cfg),
		logger: logging.NewComponentLogger(logger, "router"),
	}
}

// RouteMerge moves the unit at unitDir into Merge_n under the given
// subcategory and extension shelf, transitions the unit to the merged
// state, and stamps the final cluster and reason.
func (r *Router) RouteMerge(unitDir string, n int, subcat cycle.MergeSubcategory, ext, reason string) (string, error) {
	target, err := r.layout.MergeDir(n, subcat, ext, filepath.Base(unitDir))
	if err != nil {
		return "", err
	}
	cluster := fmt.Sprintf("Merge_%d/%s", n, subcat)
	state := unitstate.MergeState(n)
	return r.route(unitDir, target, state, cluster, reason)
}

// RouteExceptions moves the unit at unitDir into Exceptions_n under the
// given subcategory, transitions the unit to the exceptions state, and
// stamps the final cluster and reason.
func (r *Router) RouteExceptions(unitDir string, n int, subcat cycle.ExceptionsSubcategory, reason string) (string, error) {
	target, err := r.layout.ExceptionsDir(n, subcat, filepath.Base(unitDir))
	if err != nil {
		return "", err
	}
	cluster := fmt.Sprintf("Exceptions_%d/%s", n, subcat)
	state := unitstate.ExceptionsState(n)
	return r.route(unitDir, target, state, cluster, reason)
}

func (r *Router) route(unitDir, target string, state unitstate.State, cluster, reason string) (string, error) {
	m, err := manifest.Load(unitDir)
	if err != nil {
		return "", err
	}
	machine, ok := unitstate.Replay(m.StateMachine.StateTrace)
	if !ok {
		return "", services.Wrap(services.ErrTransition, "router", "route",
			fmt.Sprintf("unit %s has a corrupt state trace", m.UnitID), nil)
	}
	if err := machine.Transition(state); err != nil {
		return "", err
	}
	m.SetTrace(machine.TraceStrings())
	m.Processing.FinalCluster = cluster
	m.Processing.FinalReason = reason
	if err := m.Save(unitDir); err != nil {
		return "", err
	}

	// A stale copy of the unit at the target would make the move fail or
	// merge content from two runs. The manifest is the live copy; the
	// stale directory loses.
	if _, statErr := os.Stat(target); statErr == nil {
		if err := os.RemoveAll(target); err != nil {
			return "", services.Wrap(services.ErrDistribution, "router", "route", target, err)
		}
	}
	if err := fileutil.MoveDir(unitDir, target); err != nil {
		return "", services.Wrap(services.ErrDistribution, "router", "route",
			fmt.Sprintf("move %s to %s", unitDir, target), err)
	}

	r.logger.Info("unit routed",
		logging.String(logging.FieldUnitID, m.UnitID),
		logging.String(logging.FieldState, string(state)),
		logging.String("cluster", cluster),
		logging.String("reason", reason))
	return target, nil
}

// Locate finds a unit's live directory by walking pending first, then
// merge, then exceptions. The manifest's recorded state is authoritative:
// when the shelf disagrees with the manifest a corruption warning is
// logged and the manifest's state is returned.
func (r *Router) Locate(unitID string) (string, unitstate.State, error) {
	dir := r.findUnitDir(unitID)
	if dir == "" {
		return "", "", services.Wrap(services.ErrNotFound, "router", "locate",
			fmt.Sprintf("unit %s has no live directory", unitID), nil)
	}
	m, err := manifest.Load(dir)
	if err != nil {
		return dir, unitstate.StateRawInput, nil
	}
	state, ok := unitstate.ParseState(m.StateMachine.CurrentState)
	if !ok {
		return dir, unitstate.StateRawInput, nil
	}
	expected := shelfState(r.layout, dir)
	// READY units stay on their merge shelf, so a merged shelf state is
	// consistent with READY.
	readyOnMerge := state == unitstate.StateReady &&
		(expected == unitstate.StateMerged1 || expected == unitstate.StateMerged2 || expected == unitstate.StateMerged3)
	if expected != "" && expected != state && !readyOnMerge {
		r.logger.Warn("unit shelf disagrees with manifest state",
			logging.String(logging.FieldUnitID, unitID),
			logging.String("shelf_state", string(expected)),
			logging.String(logging.FieldState, string(state)))
	}
	return dir, state, nil
}

func (r *Router) findUnitDir(unitID string) string {
	if dir := findAtDepth(r.layout.RawRoot(), unitID, 0); dir != "" {
		return dir
	}
	for n := 1; n <= cycle.MaxCycles; n++ {
		if dir := findAtDepth(r.layout.PendingRoot(n), unitID, 2); dir != "" {
			return dir
		}
	}
	for n := 1; n <= cycle.MaxCycles; n++ {
		if dir := findAtDepth(r.layout.MergeRoot(n), unitID, 2); dir != "" {
			return dir
		}
	}
	for n := 1; n <= cycle.MaxCycles; n++ {
		if dir := findAtDepth(r.layout.ExceptionsRoot(n), unitID, 1); dir != "" {
			return dir
		}
	}
	return ""
}

// findAtDepth scans root for a directory named unitID exactly depth levels
// below the shelf subdirectories.
func findAtDepth(root, unitID string, depth int) string {
	if depth == 0 {
		candidate := filepath.Join(root, unitID)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		return ""
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return ""
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if dir := findAtDepth(filepath.Join(root, entry.Name()), unitID, depth-1); dir != "" {
			return dir
		}
	}
	return ""
}

// shelfState derives the state a unit's location implies, for the
// corruption check in Locate.
func shelfState(layout *cycle.Layout, dir string) unitstate.State {
	rel, err := filepath.Rel(layout.Root(), dir)
	if err != nil {
		return ""
	}
	top := firstSegment(rel)
	switch {
	case top == "Pending_1":
		return unitstate.StatePending1
	case top == "Pending_2":
		return unitstate.StatePending2
	case top == "Pending_3":
		return ""
	case top == "Merge_1":
		return unitstate.StateMerged1
	case top == "Merge_2":
		return unitstate.StateMerged2
	case top == "Merge_3":
		return unitstate.StateMerged3
	case top == "Exceptions_1":
		return unitstate.StateExceptions1
	case top == "Exceptions_2":
		return unitstate.StateExceptions2
	case top == "Exceptions_3":
		return unitstate.StateExceptions3
	}
	return ""
}

func firstSegment(rel string) string {
	for i := 0; i < len(rel); i++ {
		if os.IsPathSeparator(rel[i]) {
			return rel[:i]
		}
	}
	return rel
}
