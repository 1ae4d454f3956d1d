package pipeline

import "github.com/sheetpipe/sheetpipe/internal/model"

// Phase names the stages of an extraction run.
type Phase string

const (
	PhaseIngest   Phase = "ingest"
	PhaseAnalyze  Phase = "analyze"
	PhaseDesign   Phase = "design"
	PhaseExtract  Phase = "extract"
	PhaseValidate Phase = "validate"
	PhasePersist  Phase = "persist"
	PhaseDone     Phase = "done"
	PhaseError    Phase = "error"
)

// State is the accumulated working set of a run. Each phase reads fields
// written by earlier phases and contributes its own through an Update;
// no phase mutates a prior phase's output in place.
type State struct {
	Run         *model.Run
	Files       []model.ProjectFile
	Inventories []model.FileInventory
	Analyses    []model.SheetAnalysis
	Plan        *model.ExtractionPlan
	Mods        []model.PlanModification
	Results     []model.ExtractionResult
	Report      *model.ValidationReport
	Revisions   int
	Usage       model.TokenUsage
	Err         error
}

// Update carries one phase's contribution back into the state.
type Update struct {
	Inventories []model.FileInventory
	Analyses    []model.SheetAnalysis
	Plan        *model.ExtractionPlan
	Results     []model.ExtractionResult
	Report      *model.ValidationReport
	Usage       model.TokenUsage
	Err         error
}

// merge folds an update into the state. Usage is additive; everything else
// overwrites only when the update carries a value.
func (s *State) merge(u Update) {
	if u.Inventories != nil {
		s.Inventories = u.Inventories
	}
	if u.Analyses != nil {
		s.Analyses = u.Analyses
	}
	if u.Plan != nil {
		s.Plan = u.Plan
	}
	if u.Results != nil {
		s.Results = u.Results
	}
	if u.Report != nil {
		s.Report = u.Report
	}
	s.Usage.Add(u.Usage)
	if u.Err != nil {
		s.Err = u.Err
	}
}
