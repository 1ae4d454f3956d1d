package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sheetpipe/sheetpipe/internal/model"
	"github.com/sheetpipe/sheetpipe/internal/naming"
	"github.com/sheetpipe/sheetpipe/internal/progress"
	"github.com/sheetpipe/sheetpipe/pkg/llm"
)

// design asks the model for an extraction plan covering every analyzed
// sheet, then normalizes it: globally unique snake_case table and column
// names, reconciled source file ids, and one run-scoped output key per
// table. On a revision cycle the prior validation diagnosis rides along in
// the prompt so the redesign targets the reported defect.
func (p *Service) design(ctx context.Context, s *State, sink progress.Sink) Update {
	props, required := designSchema()
	resp, err := p.llm.GenerateStructured(ctx, llm.StructuredRequest{
		System:     designSystemPrompt,
		Prompt:     designPrompt(s),
		SchemaName: "record_extraction_plan",
		Properties: props,
		Required:   required,
	})
	if err != nil {
		return Update{Err: eris.Wrap(err, "pipeline: design plan")}
	}
	usage := model.TokenUsage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}

	var parsed struct {
		Tables        []model.PlannedTable `json:"tables"`
		Relationships []model.Relationship `json:"relationships"`
		Title         string               `json:"title"`
		Description   string               `json:"description"`
	}
	if err := resp.Decode(&parsed); err != nil {
		return Update{Err: err, Usage: usage}
	}
	if len(parsed.Tables) == 0 {
		return Update{Err: eris.New("pipeline: design produced no tables"), Usage: usage}
	}

	plan := &model.ExtractionPlan{
		Tables:        parsed.Tables,
		Relationships: parsed.Relationships,
		Catalog:       model.CatalogMeta{Title: parsed.Title, Description: parsed.Description},
	}
	p.normalizePlan(plan, s)

	sink.Emit(progress.Event{
		Type:  progress.EventPhaseComplete,
		RunID: s.Run.ID,
		Phase: string(PhaseDesign),
		Plan:  plan,
	})
	return Update{Plan: plan, Usage: usage}
}

// normalizePlan enforces the invariants the model cannot be trusted with:
// unique snake_case names, real source file ids, the analyzer's transpose
// flag, and run-scoped output keys. File ids are resolved by exact
// (file name, sheet name) match first, then by file name alone; an
// unresolved id is kept and logged rather than failing the phase, and will
// surface later as a referential-integrity error during persistence.
func (p *Service) normalizePlan(plan *model.ExtractionPlan, s *State) {
	log := zap.L().With(zap.String("run", s.Run.ID))

	exact := map[[2]string]string{}                // (file name, sheet name) -> file id
	byFile := map[string]string{}                  // file name -> file id
	bySheet := map[[2]string]model.SheetAnalysis{} // (file name, sheet name) -> analysis
	for _, a := range s.Analyses {
		exact[[2]string{a.FileName, a.SheetName}] = a.FileID
		byFile[a.FileName] = a.FileID
		bySheet[[2]string{a.FileName, a.SheetName}] = a
	}

	tables := naming.NewUniquer()
	for i := range plan.Tables {
		t := &plan.Tables[i]
		rawName := t.Name
		t.Name = tables.Take(naming.Snake(rawName))

		cols := naming.NewUniquer()
		for j := range t.Columns {
			t.Columns[j].OutputName = cols.Take(naming.Snake(t.Columns[j].OutputName))
		}

		if id, ok := exact[[2]string{t.SourceFileName, t.SourceSheet}]; ok {
			t.SourceFileID = id
		} else if id, ok := byFile[t.SourceFileName]; ok {
			t.SourceFileID = id
		} else {
			log.Warn("pipeline: planned table references unknown source file",
				zap.String("table", t.Name),
				zap.String("file", t.SourceFileName),
				zap.String("sheet", t.SourceSheet))
		}

		if !t.Transpose {
			t.Transpose = sheetTransposed(bySheet[[2]string{t.SourceFileName, t.SourceSheet}], rawName)
		}

		t.OutputKey = fmt.Sprintf("%s/%s/%s.parquet", p.keyPrefix, s.Run.ID, t.Name)
	}
}

// sheetTransposed recovers the analyzer's transpose flag when the designed
// plan dropped it: first by suggested-name match within the source sheet's
// analysis, then unconditionally when the sheet holds a single logical
// table.
func sheetTransposed(a model.SheetAnalysis, plannedName string) bool {
	want := naming.Snake(plannedName)
	for _, lt := range a.Tables {
		if naming.Snake(lt.SuggestedName) == want {
			return lt.Transpose
		}
	}
	if len(a.Tables) == 1 {
		return a.Tables[0].Transpose
	}
	return false
}

// designPrompt renders every sheet analysis, plus the prior diagnosis when
// redesigning after a validation failure.
func designPrompt(s *State) string {
	var b strings.Builder
	if s.Report != nil && !s.Report.Passed && s.Report.Diagnosis != "" {
		b.WriteString(designRevisionPreamble)
		b.WriteString("\n")
		b.WriteString(s.Report.Diagnosis)
		b.WriteString("\n\n")
	}
	b.WriteString("Worksheet analyses:\n")
	for _, a := range s.Analyses {
		blob, err := json.Marshal(a)
		if err != nil {
			continue
		}
		b.Write(blob)
		b.WriteByte('\n')
	}
	return b.String()
}
