// Package manifest owns the unit manifest: the authoritative JSON record of
// a unit's files, processing progress, and state history. The manifest on
// disk wins over directory location whenever the two disagree.
package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"docprep/internal/services"
)

// SchemaVersion is the manifest schema this package reads and writes.
const SchemaVersion = "2.0"

// FileName is the manifest's name inside a unit directory.
const FileName = "manifest.json"

// MaxCycles caps triage iterations per unit.
const MaxCycles = 3

// SourceURL records one origin of the unit's content.
type SourceURL struct {
	URL      string `json:"url"`
	FileName string `json:"fileName"`
}

// Source groups the unit's provenance.
type Source struct {
	URLs []SourceURL `json:"urls"`
}

// Semantics carries the procurement context the unit arrived with.
type Semantics struct {
	Domain          string   `json:"domain,omitempty"`
	Entity          string   `json:"entity,omitempty"`
	ExpectedContent []string `json:"expected_content,omitempty"`
}

// Transformation records one change applied to a file.
type Transformation struct {
	Type      string `json:"type"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Tool      string `json:"tool,omitempty"`
	Cycle     int    `json:"cycle"`
	Timestamp string `json:"timestamp"`
}

// FileRecord describes one file belonging to the unit.
type FileRecord struct {
	OriginalName    string           `json:"original_name"`
	CurrentName     string           `json:"current_name"`
	MIMEDetected    string           `json:"mime_detected,omitempty"`
	DetectedType    string           `json:"detected_type,omitempty"`
	NeedsOCR        bool             `json:"needs_ocr"`
	PagesOrParts    int              `json:"pages_or_parts,omitempty"`
	SHA256          string           `json:"sha256,omitempty"`
	Size            int64            `json:"size,omitempty"`
	FalseExtension  bool             `json:"false_extension,omitempty"`
	IsArchive       bool             `json:"is_archive,omitempty"`
	IsDuplicate     bool             `json:"is_duplicate,omitempty"`
	OriginalFile    string           `json:"original_file,omitempty"`
	DuplicateGroup  string           `json:"duplicate_group,omitempty"`
	Error           string           `json:"error,omitempty"`
	Transformations []Transformation `json:"transformations,omitempty"`
}

// Processing tracks triage progress.
type Processing struct {
	CurrentCycle int    `json:"current_cycle"`
	MaxCycles    int    `json:"max_cycles"`
	FinalCluster string `json:"final_cluster,omitempty"`
	FinalReason  string `json:"final_reason,omitempty"`
	Route        string `json:"route,omitempty"`
}

// StateBlock mirrors the unit state machine.
type StateBlock struct {
	InitialState string   `json:"initial_state"`
	CurrentState string   `json:"current_state"`
	FinalState   string   `json:"final_state,omitempty"`
	StateTrace   []string `json:"state_trace"`
}

// Integrity pins the unit contents.
type Integrity struct {
	Checksum  string `json:"checksum,omitempty"`
	FileCount int    `json:"file_count"`
}

// Manifest is the unit manifest, schema version 2.0.
type Manifest struct {
	SchemaVersion string       `json:"schema_version"`
	UnitID        string       `json:"unit_id"`
	ProtocolID    string       `json:"protocol_id,omitempty"`
	ProtocolDate  string       `json:"protocol_date,omitempty"`
	Source        Source       `json:"source"`
	UnitSemantics Semantics    `json:"unit_semantics"`
	Files         []FileRecord `json:"files"`
	Processing    Processing   `json:"processing"`
	StateMachine  StateBlock   `json:"state_machine"`
	Integrity     Integrity    `json:"integrity"`
	CreatedAt     string       `json:"created_at"`
	UpdatedAt     string       `json:"updated_at"`

	sealed bool
}

func nowStamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// New seeds a manifest for a fresh unit at RAW_INPUT.
func New(unitID string) *Manifest {
	now := nowStamp()
	return &Manifest{
		SchemaVersion: SchemaVersion,
		UnitID:        unitID,
		Source:        Source{URLs: []SourceURL{}},
		Files:         []FileRecord{},
		Processing: Processing{
			CurrentCycle: 0,
			MaxCycles:    MaxCycles,
		},
		StateMachine: StateBlock{
			InitialState: "RAW_INPUT",
			CurrentState: "RAW_INPUT",
			StateTrace:   []string{"RAW_INPUT"},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Load reads and validates the manifest inside unitDir. A missing, corrupt,
// or wrong-schema manifest returns ErrManifest.
func Load(unitDir string) (*Manifest, error) {
	path := filepath.Join(unitDir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, services.Wrap(services.ErrManifest, "manifest", "load", path, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, services.Wrap(services.ErrManifest, "manifest", "parse", path, err)
	}
	if m.SchemaVersion != SchemaVersion {
		return nil, services.Wrap(services.ErrManifest, "manifest", "parse",
			"unsupported schema_version "+m.SchemaVersion, nil)
	}
	if m.UnitID == "" {
		return nil, services.Wrap(services.ErrManifest, "manifest", "parse", "missing unit_id", nil)
	}
	if m.Processing.MaxCycles == 0 {
		m.Processing.MaxCycles = MaxCycles
	}
	m.sealed = m.StateMachine.FinalState != ""
	return &m, nil
}

// Save writes the manifest atomically into unitDir. A manifest that has
// already been persisted with a final state is immutable; further saves fail.
func (m *Manifest) Save(unitDir string) error {
	if m.sealed {
		return services.Wrap(services.ErrManifest, "manifest", "save",
			"unit "+m.UnitID+" is finalized", nil)
	}
	m.UpdatedAt = nowStamp()

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return services.Wrap(services.ErrManifest, "manifest", "encode", m.UnitID, err)
	}
	data = append(data, '\n')

	path := filepath.Join(unitDir, FileName)
	tmp, err := os.CreateTemp(unitDir, ".manifest-*.tmp")
	if err != nil {
		return services.Wrap(services.ErrManifest, "manifest", "save", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return services.Wrap(services.ErrManifest, "manifest", "save", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return services.Wrap(services.ErrManifest, "manifest", "save", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return services.Wrap(services.ErrManifest, "manifest", "save", path, err)
	}

	if m.StateMachine.FinalState != "" {
		m.sealed = true
	}
	return nil
}

// SetState records a state transition in the state block.
func (m *Manifest) SetState(state string) {
	m.StateMachine.CurrentState = state
	m.StateMachine.StateTrace = append(m.StateMachine.StateTrace, state)
}

// SetTrace replaces the recorded trace wholesale, used after a replay reset.
func (m *Manifest) SetTrace(trace []string) {
	m.StateMachine.StateTrace = append([]string(nil), trace...)
	if len(trace) > 0 {
		m.StateMachine.CurrentState = trace[len(trace)-1]
	}
}

// Finalize stamps the terminal outcome. The manifest seals on the next Save.
func (m *Manifest) Finalize(state, cluster, reason, route string) {
	m.StateMachine.FinalState = state
	m.StateMachine.CurrentState = state
	m.Processing.FinalCluster = cluster
	m.Processing.FinalReason = reason
	m.Processing.Route = route
}

// File returns a pointer to the record with the given current name.
func (m *Manifest) File(currentName string) *FileRecord {
	for i := range m.Files {
		if m.Files[i].CurrentName == currentName {
			return &m.Files[i]
		}
	}
	return nil
}

// AppendTransformation records a change against the named file.
func (m *Manifest) AppendTransformation(currentName string, tr Transformation) bool {
	record := m.File(currentName)
	if record == nil {
		return false
	}
	if tr.Timestamp == "" {
		tr.Timestamp = nowStamp()
	}
	record.Transformations = append(record.Transformations, tr)
	if tr.To != "" && tr.To != record.CurrentName {
		record.CurrentName = tr.To
	}
	return true
}

// RefreshIntegrity recomputes the file count and combined checksum from the
// per-file hashes. The combined checksum is order-independent.
func (m *Manifest) RefreshIntegrity() {
	m.Integrity.FileCount = len(m.Files)
	m.Integrity.Checksum = CombinedChecksum(m.Files)
}

// Sealed reports whether the manifest refuses further saves.
func (m *Manifest) Sealed() bool {
	return m.sealed
}
