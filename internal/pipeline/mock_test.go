package pipeline

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sheetpipe/sheetpipe/internal/convert"
	"github.com/sheetpipe/sheetpipe/internal/model"
	"github.com/sheetpipe/sheetpipe/internal/store"
	"github.com/sheetpipe/sheetpipe/pkg/llm"
)

// memStore is an in-memory Store with just enough behavior for pipeline
// tests: claimable runs, plan/modification round trips, and wholesale
// table replacement.
type memStore struct {
	mu       sync.Mutex
	runs     map[string]*model.Run
	plans    map[string]*model.ExtractionPlan
	mods     map[string][]model.PlanModification
	projects map[string]*model.Project
	files    map[string][]model.ProjectFile
	tables   map[string][]model.TableRecord

	replaceErr error // injected ReplaceProjectTables failure
}

func newMemStore() *memStore {
	return &memStore{
		runs:     map[string]*model.Run{},
		plans:    map[string]*model.ExtractionPlan{},
		mods:     map[string][]model.PlanModification{},
		projects: map[string]*model.Project{},
		files:    map[string][]model.ProjectFile{},
		tables:   map[string][]model.TableRecord{},
	}
}

func (m *memStore) seedRun(run *model.Run) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run
}

func (m *memStore) seedFile(f model.ProjectFile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[f.ProjectID] = append(m.files[f.ProjectID], f)
}

func (m *memStore) CreateRun(_ context.Context, projectID string, cfg model.RunConfig) (*model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run := &model.Run{ID: "run-" + projectID, ProjectID: projectID, Status: model.RunStatusQueued, Config: cfg}
	m.runs[run.ID] = run
	return run, nil
}

func (m *memStore) ClaimRun(_ context.Context, runID string) (*model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return nil, eris.Errorf("run not found: %s", runID)
	}
	if run.Status != model.RunStatusQueued && run.Status != model.RunStatusReview {
		return nil, eris.Errorf("run %s not claimable", runID)
	}
	run.Status = model.RunStatusRunning
	cp := *run
	return &cp, nil
}

func (m *memStore) GetRun(_ context.Context, runID string) (*model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return nil, eris.Errorf("run not found: %s", runID)
	}
	cp := *run
	return &cp, nil
}

func (m *memStore) ListRuns(_ context.Context, _ store.RunFilter) ([]model.Run, error) {
	return nil, nil
}

func (m *memStore) UpdateRunProgress(_ context.Context, runID, phase string, revisions int, usage model.TokenUsage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run, ok := m.runs[runID]; ok {
		run.Phase = phase
		run.Revisions = revisions
		run.Usage = usage
	}
	return nil
}

func (m *memStore) UpdateRunStatus(_ context.Context, runID string, status model.RunStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run, ok := m.runs[runID]; ok {
		run.Status = status
		run.Error = errMsg
	}
	return nil
}

func (m *memStore) SavePlan(_ context.Context, runID string, plan *model.ExtractionPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[runID] = plan
	return nil
}

func (m *memStore) GetPlan(_ context.Context, runID string) (*model.ExtractionPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.plans[runID], nil
}

func (m *memStore) SaveModifications(_ context.Context, runID string, mods []model.PlanModification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mods[runID] = mods
	return nil
}

func (m *memStore) GetModifications(_ context.Context, runID string) ([]model.PlanModification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mods[runID], nil
}

func (m *memStore) CreateProject(_ context.Context, name string) (*model.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := &model.Project{ID: "proj-" + name, Name: name, Status: model.ProjectStatusPending}
	m.projects[p.ID] = p
	return p, nil
}

func (m *memStore) GetProject(_ context.Context, projectID string) (*model.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[projectID]
	if !ok {
		return nil, eris.Errorf("project not found: %s", projectID)
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) AddProjectFile(_ context.Context, file model.ProjectFile) error {
	m.seedFile(file)
	return nil
}

func (m *memStore) ListProjectFiles(_ context.Context, projectID string) ([]model.ProjectFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.ProjectFile(nil), m.files[projectID]...), nil
}

func (m *memStore) UpdateProjectAggregates(_ context.Context, projectID string, status model.ProjectStatus, tableCount int, totalRows, totalBytes int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[projectID]
	if !ok {
		p = &model.Project{ID: projectID}
		m.projects[projectID] = p
	}
	p.Status = status
	p.TableCount = tableCount
	p.TotalRows = totalRows
	p.TotalBytes = totalBytes
	return nil
}

func (m *memStore) ListTables(_ context.Context, projectID string) ([]model.TableRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.TableRecord(nil), m.tables[projectID]...), nil
}

func (m *memStore) ReplaceProjectTables(_ context.Context, projectID string, tables []model.TableRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.replaceErr != nil {
		return m.replaceErr
	}
	m.tables[projectID] = append([]model.TableRecord(nil), tables...)
	return nil
}

func (m *memStore) Migrate(context.Context) error { return nil }
func (m *memStore) Close() error                  { return nil }

// fakeLLM routes structured calls by schema name.
type fakeLLM struct {
	mu       sync.Mutex
	calls    []string
	analyze  func(prompt string) (any, error)
	design   func(prompt string) (any, error)
	perUsage llm.Usage
}

func (f *fakeLLM) GenerateStructured(_ context.Context, req llm.StructuredRequest) (*llm.StructuredResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.SchemaName)
	f.mu.Unlock()

	var payload any
	var err error
	switch req.SchemaName {
	case "record_sheet_analysis":
		payload, err = f.analyze(req.Prompt)
	case "record_extraction_plan":
		payload, err = f.design(req.Prompt)
	default:
		err = eris.Errorf("unexpected schema %q", req.SchemaName)
	}
	if err != nil {
		return nil, err
	}
	blob, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	usage := f.perUsage
	if usage.TotalTokens == 0 {
		usage = llm.Usage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150}
	}
	return &llm.StructuredResponse{JSON: blob, Usage: usage}, nil
}

func (f *fakeLLM) callCount(schema string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == schema {
			n++
		}
	}
	return n
}

// fakeEngine fabricates conversion outputs without touching XLSX files.
type fakeEngine struct {
	mu      sync.Mutex
	calls   []convert.Request
	convert func(req convert.Request) (convert.Output, error)
}

func (f *fakeEngine) Convert(_ context.Context, req convert.Request) (convert.Output, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.convert(req)
}

func (f *fakeEngine) attemptsFor(table string, format model.OutputFormat) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Table.Name == table && c.Format == format {
			n++
		}
	}
	return n
}
