package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sheetpipe/sheetpipe/internal/model"
	"github.com/sheetpipe/sheetpipe/internal/progress"
	"github.com/sheetpipe/sheetpipe/internal/runner"
	"github.com/sheetpipe/sheetpipe/pkg/llm"
)

// analyze fans out over every sheet in every inventory, asking the model
// for the logical tables it contains. A failed sheet degrades to an
// empty-but-valid analysis so one unreadable sheet never sinks the run.
func (p *Service) analyze(ctx context.Context, s *State, sink progress.Sink) Update {
	log := zap.L().With(zap.String("run", s.Run.ID))

	var refs []model.SheetRef
	for _, inv := range s.Inventories {
		for _, sheet := range inv.Sheets {
			refs = append(refs, model.SheetRef{FileID: inv.FileID, FileName: inv.FileName, Sheet: sheet})
		}
	}
	if len(refs) == 0 {
		return Update{Err: eris.New("pipeline: no sheets to analyze")}
	}

	var mu sync.Mutex
	var usage model.TokenUsage

	outcomes := runner.Map(ctx, refs, s.Run.Config.Concurrency,
		func(c context.Context, ref model.SheetRef) (model.SheetAnalysis, error) {
			analysis, u, err := p.analyzeSheet(c, ref)
			mu.Lock()
			usage.Add(u)
			mu.Unlock()
			return analysis, err
		})

	analyses := make([]model.SheetAnalysis, 0, len(refs))
	for i, out := range outcomes {
		if out.Err != nil {
			log.Warn("pipeline: sheet analysis failed, continuing with empty analysis",
				zap.String("file", refs[i].FileName),
				zap.String("sheet", refs[i].Sheet.Name),
				zap.Error(out.Err))
			analyses = append(analyses, model.SheetAnalysis{
				FileID:    refs[i].FileID,
				FileName:  refs[i].FileName,
				SheetName: refs[i].Sheet.Name,
			})
		} else {
			analyses = append(analyses, out.Value)
		}
		sink.Emit(progress.Event{
			Type:           progress.EventProgress,
			RunID:          s.Run.ID,
			Phase:          string(PhaseAnalyze),
			Message:        refs[i].Sheet.Name,
			CompletedItems: i + 1,
			TotalItems:     len(refs),
			Percent:        float64(i+1) / float64(len(refs)) * 100,
		})
	}

	return Update{Analyses: analyses, Usage: usage}
}

// analyzeSheet runs one structured LLM call for one sheet.
func (p *Service) analyzeSheet(ctx context.Context, ref model.SheetRef) (model.SheetAnalysis, model.TokenUsage, error) {
	props, required := analyzeSchema()
	resp, err := p.llm.GenerateStructured(ctx, llm.StructuredRequest{
		System:     analyzeSystemPrompt,
		Prompt:     sheetPrompt(ref),
		SchemaName: "record_sheet_analysis",
		Properties: props,
		Required:   required,
	})
	if err != nil {
		return model.SheetAnalysis{}, model.TokenUsage{}, eris.Wrapf(err, "pipeline: analyze sheet %s", ref.Sheet.Name)
	}
	usage := model.TokenUsage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}

	var parsed struct {
		Tables []model.LogicalTable `json:"tables"`
	}
	if err := resp.Decode(&parsed); err != nil {
		return model.SheetAnalysis{}, usage, err
	}

	return model.SheetAnalysis{
		FileID:    ref.FileID,
		FileName:  ref.FileName,
		SheetName: ref.Sheet.Name,
		Tables:    parsed.Tables,
	}, usage, nil
}

// sheetPrompt renders one sheet's structural summary for the model.
func sheetPrompt(ref model.SheetRef) string {
	var b strings.Builder
	fmt.Fprintf(&b, "File: %s\nSheet: %s\nDimensions: %d rows x %d columns\nData density: %.2f\n",
		ref.FileName, ref.Sheet.Name, ref.Sheet.Rows, ref.Sheet.Cols, ref.Sheet.Density)
	if len(ref.Sheet.MergedRanges) > 0 {
		fmt.Fprintf(&b, "Merged ranges: %s\n", strings.Join(ref.Sheet.MergedRanges, ", "))
	}
	if ref.Sheet.HasFormulas {
		b.WriteString("Contains formulas.\n")
	}
	if len(ref.Sheet.HeadSample) > 0 {
		b.WriteString("\nFirst rows:\n")
		writeSample(&b, ref.Sheet.HeadSample)
	}
	if len(ref.Sheet.TailSample) > 0 {
		b.WriteString("\nLast rows:\n")
		writeSample(&b, ref.Sheet.TailSample)
	}
	return b.String()
}

func writeSample(b *strings.Builder, rows [][]string) {
	for _, row := range rows {
		line, err := json.Marshal(row)
		if err != nil {
			continue
		}
		b.Write(line)
		b.WriteByte('\n')
	}
}
