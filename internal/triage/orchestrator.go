// Package triage drives units through classification cycles. One call to
// ProcessUnit runs exactly one cycle: classify, transform, reclassify,
// route. ProcessAllCycles repeats until the unit reaches a terminal state,
// which the state machine guarantees within three cycles.
package triage

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"docprep/internal/archive"
	"docprep/internal/catalog"
	"docprep/internal/classify"
	"docprep/internal/config"
	"docprep/internal/cycle"
	"docprep/internal/distribute"
	"docprep/internal/dupes"
	"docprep/internal/logging"
	"docprep/internal/manifest"
	"docprep/internal/metrics"
	"docprep/internal/router"
	"docprep/internal/services"
	"docprep/internal/services/libreoffice"
	"docprep/internal/sniff"
	"docprep/internal/unitstate"
)

// Orchestrator coordinates the per-cycle pipeline for single units.
type Orchestrator struct {
	cfg         *config.Config
	sniffer     *sniff.Sniffer
	classifier  *classify.Classifier
	opener      *archive.Opener
	converter   *libreoffice.Client
	detector    *dupes.Detector
	distributor *distribute.Distributor
	router      *router.Router
	store       *catalog.Store
	collector   *metrics.Collector
	maxCycles   int
	logger      *slog.Logger
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithOpener injects a custom archive opener (primarily for tests).
func WithOpener(opener *archive.Opener) Option {
	return func(o *Orchestrator) {
		if opener != nil {
			o.opener = opener
		}
	}
}

// WithConverter injects a custom conversion client (primarily for tests).
func WithConverter(client *libreoffice.Client) Option {
	return func(o *Orchestrator) {
		if client != nil {
			o.converter = client
		}
	}
}

// New constructs an Orchestrator. The catalog store may be nil, in which
// case outcomes are only recorded in manifests.
func New(cfg *config.Config, store *catalog.Store, collector *metrics.Collector, logger *slog.Logger, opts ...Option) (*Orchestrator, error) {
	converter, err := libreoffice.New(cfg.Tools.LibreOffice, cfg.Tools.ConvertTimeout)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "triage", "new", "conversion client", err)
	}
	maxCycles := cfg.Limits.MaxCycles
	if maxCycles <= 0 || maxCycles > cycle.MaxCycles {
		maxCycles = cycle.MaxCycles
	}
	o := &Orchestrator{
		cfg:         cfg,
		maxCycles:   maxCycles,
		sniffer:     sniff.New(cfg, logger),
		classifier:  classify.New(logger),
		opener:      archive.New(cfg, logger),
		converter:   converter,
		detector:    dupes.New(logger),
		distributor: distribute.New(cfg, collector, logger),
		router:      router.New(cfg, logger),
		store:       store,
		collector:   collector,
		logger:      logging.NewComponentLogger(logger, "triage"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Outcome reports where one processing pass left the unit.
type Outcome struct {
	UnitID  string
	State   unitstate.State
	Cycle   int
	Cluster string
	Reason  string
	Route   string
	Dir     string
}

// AllCyclesResult summarizes a full run of one unit.
type AllCyclesResult struct {
	UnitID     string
	FinalState unitstate.State
	Cycles     []unitstate.State
}

// ProcessUnit runs one classification cycle for the unit. A unit already in
// a terminal state is returned unchanged.
func (o *Orchestrator) ProcessUnit(ctx context.Context, unitID string) (*Outcome, error) {
	dir, _, err := o.router.Locate(unitID)
	if err != nil {
		return nil, err
	}

	m := o.loadOrResetManifest(dir, unitID)
	machine, ok := unitstate.Replay(m.StateMachine.StateTrace)
	if !ok {
		o.logger.Warn("state trace corrupt, reclassifying from scratch",
			logging.String(logging.FieldUnitID, unitID))
		machine = unitstate.New()
		m.SetTrace(machine.TraceStrings())
	}
	if machine.IsTerminal() {
		return &Outcome{
			UnitID:  unitID,
			State:   machine.Current(),
			Cycle:   m.Processing.CurrentCycle,
			Cluster: m.Processing.FinalCluster,
			Reason:  m.Processing.FinalReason,
			Route:   m.Processing.Route,
			Dir:     dir,
		}, nil
	}

	// A trace ending at CLASSIFIED_n means a previous run stopped between
	// the classify save and routing; re-enter the cycle where it stood
	// instead of stranding the unit.
	n, resumed := classifiedCycle(machine.Current())
	if !resumed {
		var ok bool
		n, ok = nextCycle(machine.Current())
		if !ok {
			return nil, services.Wrap(services.ErrTransition, "triage", "process",
				fmt.Sprintf("unit %s cannot start a cycle from state %s", unitID, machine.Current()), nil)
		}
		if err := machine.Transition(unitstate.ClassifiedState(n)); err != nil {
			return nil, err
		}
		m.SetTrace(machine.TraceStrings())
		m.Processing.CurrentCycle = n
		if err := m.Save(dir); err != nil {
			return nil, err
		}
		o.record(ctx, m, "", "")
	}

	outcome, err := o.runCycle(ctx, dir, n, m, machine)
	if err != nil {
		// No forward path: the unit goes to exceptions rather than being
		// silently dropped.
		o.logger.Warn("cycle failed, diverting to exceptions",
			logging.String(logging.FieldUnitID, unitID),
			logging.Int(logging.FieldCycle, n),
			logging.Error(err))
		return o.exceptions(ctx, dir, n, cycle.ExceptionsUnknown, "cannot_process", err.Error())
	}
	return outcome, nil
}

// ProcessAllCycles drives the unit to a terminal state. At most the
// configured number of classification passes ever run.
func (o *Orchestrator) ProcessAllCycles(ctx context.Context, unitID string) (*AllCyclesResult, error) {
	result := &AllCyclesResult{UnitID: unitID}
	for i := 0; i < o.maxCycles; i++ {
		outcome, err := o.ProcessUnit(ctx, unitID)
		if err != nil {
			return result, err
		}
		result.Cycles = append(result.Cycles, outcome.State)
		result.FinalState = outcome.State
		if unitstate.IsTerminal(outcome.State) {
			break
		}
	}
	return result, nil
}

// loadOrResetManifest loads the unit manifest, or rebuilds a fresh one when
// the stored copy is missing or corrupt. A rebuilt manifest forces full
// reclassification from RAW_INPUT.
func (o *Orchestrator) loadOrResetManifest(dir, unitID string) *manifest.Manifest {
	m, err := manifest.Load(dir)
	if err == nil {
		return m
	}
	o.logger.Warn("manifest unreadable, resetting unit",
		logging.String(logging.FieldUnitID, unitID),
		logging.Error(err))
	return manifest.New(unitID)
}

// nextCycle maps a resumable state to the cycle about to run.
func nextCycle(state unitstate.State) (int, bool) {
	switch state {
	case unitstate.StateRawInput:
		return 1, true
	case unitstate.StatePending1:
		return 2, true
	case unitstate.StatePending2:
		return 3, true
	}
	return 0, false
}

// classifiedCycle reports the cycle a CLASSIFIED_n state belongs to.
func classifiedCycle(state unitstate.State) (int, bool) {
	switch state {
	case unitstate.StateClassified1:
		return 1, true
	case unitstate.StateClassified2:
		return 2, true
	case unitstate.StateClassified3:
		return 3, true
	}
	return 0, false
}

// record mirrors the manifest into the catalog. Catalog failures are logged
// and never block triage; the manifest on disk stays authoritative.
func (o *Orchestrator) record(ctx context.Context, m *manifest.Manifest, category, errMsg string) {
	if o.store == nil {
		return
	}
	if err := o.store.Upsert(ctx, catalog.FromManifest(m, category, errMsg)); err != nil {
		o.logger.Warn("catalog update failed",
			logging.String(logging.FieldUnitID, m.UnitID),
			logging.Error(err))
	}
}

// exceptions routes the unit out and finalizes the manifest as terminal.
func (o *Orchestrator) exceptions(ctx context.Context, dir string, n int, subcat cycle.ExceptionsSubcategory, reason, errMsg string) (*Outcome, error) {
	target, err := o.router.RouteExceptions(dir, n, subcat, reason)
	if err != nil {
		return nil, err
	}
	m, err := manifest.Load(target)
	if err != nil {
		return nil, err
	}
	m.Finalize(string(unitstate.ExceptionsState(n)), m.Processing.FinalCluster, reason, "")
	m.RefreshIntegrity()
	if err := m.Save(target); err != nil {
		return nil, err
	}
	if o.collector != nil {
		o.collector.UnitFinished(string(unitstate.ExceptionsState(n)))
	}
	o.record(ctx, m, string(classify.CategorySpecial), errMsg)
	return &Outcome{
		UnitID:  m.UnitID,
		State:   unitstate.ExceptionsState(n),
		Cycle:   n,
		Cluster: m.Processing.FinalCluster,
		Reason:  reason,
		Dir:     target,
	}, nil
}

// merge routes the unit into Merge_n, completes the MERGED to READY
// transition, and seals the manifest.
func (o *Orchestrator) merge(ctx context.Context, dir string, n int, subcat cycle.MergeSubcategory, ext, reason, route string) (*Outcome, error) {
	target, err := o.router.RouteMerge(dir, n, subcat, ext, reason)
	if err != nil {
		return nil, err
	}
	m, err := manifest.Load(target)
	if err != nil {
		return nil, err
	}
	machine, ok := unitstate.Replay(m.StateMachine.StateTrace)
	if !ok {
		return nil, services.Wrap(services.ErrTransition, "triage", "merge",
			fmt.Sprintf("unit %s trace corrupt after merge", m.UnitID), nil)
	}
	if err := machine.Transition(unitstate.StateReady); err != nil {
		return nil, err
	}
	m.SetTrace(machine.TraceStrings())
	m.Finalize(string(unitstate.StateReady), m.Processing.FinalCluster, reason, route)
	m.RefreshIntegrity()
	if err := m.Save(target); err != nil {
		return nil, err
	}
	if o.collector != nil {
		o.collector.UnitFinished(string(unitstate.StateReady))
	}
	o.record(ctx, m, string(classify.CategoryDirect), "")
	o.logger.Info("unit ready",
		logging.String(logging.FieldUnitID, m.UnitID),
		logging.Int(logging.FieldCycle, n),
		logging.String("cluster", m.Processing.FinalCluster),
		logging.String("route", route))
	return &Outcome{
		UnitID:  m.UnitID,
		State:   unitstate.StateReady,
		Cycle:   n,
		Cluster: m.Processing.FinalCluster,
		Reason:  reason,
		Route:   route,
		Dir:     target,
	}, nil
}

// pend transitions the unit to PENDING_n and hands it to the distributor.
func (o *Orchestrator) pend(ctx context.Context, dir string, n int, m *manifest.Manifest, machine *unitstate.Machine, decisions map[string]classify.Decision, verdict classify.Verdict) (*Outcome, error) {
	if err := machine.Transition(unitstate.PendingState(n)); err != nil {
		return nil, err
	}
	m.SetTrace(machine.TraceStrings())
	summary, err := o.distributor.Distribute(dir, n, m, decisions, verdict)
	if err != nil {
		return nil, err
	}
	if err := os.RemoveAll(dir); err != nil {
		o.logger.Warn("stale unit directory not removed",
			logging.String(logging.FieldUnitID, m.UnitID),
			logging.Error(err))
	}
	o.record(ctx, m, string(verdict.Category), "")
	return &Outcome{
		UnitID: m.UnitID,
		State:  unitstate.PendingState(n),
		Cycle:  n,
		Reason: verdict.Reason,
		Dir:    summary.Target,
	}, nil
}
