package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/sheetpipe/sheetpipe/internal/progress"
)

// validatePhase runs the quality checks over the extraction results. No
// external calls: validation is pure and its failure is a routing signal,
// not an error.
func (p *Service) validatePhase(_ context.Context, s *State, sink progress.Sink) Update {
	report := Validate(s.Results, s.Plan)

	if !report.Passed {
		zap.L().Info("pipeline: validation failed",
			zap.String("run", s.Run.ID),
			zap.String("recommended", string(report.Recommended)),
			zap.Int("revisions", s.Revisions),
			zap.String("diagnosis", report.Diagnosis))
	}

	sink.Emit(progress.Event{
		Type:   progress.EventValidationResult,
		RunID:  s.Run.ID,
		Phase:  string(PhaseValidate),
		Report: report,
	})
	return Update{Report: report}
}
