package pipeline

import "github.com/sheetpipe/sheetpipe/internal/model"

// routeEntry decides where a freshly claimed run begins. A run resumed
// after plan review already carries an approved plan, so it skips the
// planning phases and goes straight to extraction.
func routeEntry(s *State) Phase {
	if s.Plan != nil {
		return PhaseExtract
	}
	return PhaseIngest
}

// routeAfterDesign pauses for human review when the run is configured for
// it; otherwise the plan proceeds to extraction. Redesigns inside the
// revision loop never pause again: the reviewer approved the run's shape
// once, and the loop is automatic self-correction.
func routeAfterDesign(s *State) Phase {
	if s.Run.Config.ReviewMode == model.ReviewModeReview && s.Revisions == 0 {
		return PhaseDone
	}
	return PhaseExtract
}

// routeAfterValidate implements the bounded revision loop. A passing
// report persists. A failing report persists anyway once the revision
// budget is spent, so a capped run still produces whatever partial output
// exists. Otherwise the run loops back to the phase the report blames,
// consuming exactly one revision credit per loop regardless of target;
// routing through design costs the same single credit as a direct
// re-extract, so a run performs at most 1 + MaxRevisions extraction
// attempts.
func routeAfterValidate(s *State) Phase {
	if s.Report == nil || s.Report.Passed {
		return PhasePersist
	}
	if s.Revisions >= model.MaxRevisions {
		return PhasePersist
	}
	s.Revisions++
	if s.Report.Recommended == model.RevisionDesigner {
		return PhaseDesign
	}
	return PhaseExtract
}
