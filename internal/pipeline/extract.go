package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sheetpipe/sheetpipe/internal/convert"
	"github.com/sheetpipe/sheetpipe/internal/model"
	"github.com/sheetpipe/sheetpipe/internal/progress"
	"github.com/sheetpipe/sheetpipe/internal/runner"
)

// extract converts every planned table that survives reviewer
// modifications. Tables fan out with the run's concurrency limit; each
// attempt writes Parquet first and falls back to CSV, and a table failing
// both formats is recorded as failed without aborting the batch.
func (p *Service) extract(ctx context.Context, s *State, sink progress.Sink) Update {
	plan := ApplyModifications(s.Plan, s.Mods)
	if plan == nil || len(plan.Tables) == 0 {
		return Update{Err: eris.New("pipeline: no tables to extract")}
	}
	s.Plan = plan // later phases see the reviewer-adjusted plan

	// Source workbooks are shared across tables, so download each file
	// once up front instead of per table.
	paths, cleanup, err := p.stageSourceFiles(ctx, s)
	if err != nil {
		return Update{Err: err}
	}
	defer cleanup()

	outcomes := runner.Map(ctx, plan.Tables, s.Run.Config.Concurrency,
		func(c context.Context, t model.PlannedTable) (model.ExtractionResult, error) {
			sink.Emit(progress.Event{
				Type:  progress.EventTableStart,
				RunID: s.Run.ID,
				Phase: string(PhaseExtract),
				Table: t.Name,
			})
			return p.extractTable(c, t, paths[t.SourceFileID]), nil
		})

	results := make([]model.ExtractionResult, 0, len(plan.Tables))
	for i, out := range outcomes {
		res := out.Value
		if out.Err != nil {
			// Cancellation or panic inside the runner; record it as a
			// failed table so validation sees the full set.
			res = model.ExtractionResult{
				TableName: plan.Tables[i].Name,
				Status:    model.ExtractFailed,
				Error:     out.Err.Error(),
				OutputKey: plan.Tables[i].OutputKey,
			}
		}
		results = append(results, res)

		evType := progress.EventTableComplete
		if res.Status == model.ExtractFailed {
			evType = progress.EventTableError
		}
		sink.Emit(progress.Event{
			Type:           evType,
			RunID:          s.Run.ID,
			Phase:          string(PhaseExtract),
			Table:          res.TableName,
			Error:          res.Error,
			CompletedItems: i + 1,
			TotalItems:     len(plan.Tables),
			Percent:        float64(i+1) / float64(len(plan.Tables)) * 100,
		})
	}

	return Update{Results: results}
}

// stageSourceFiles downloads every workbook the plan references into the
// scratch directory, keyed by file id. The returned cleanup removes them.
func (p *Service) stageSourceFiles(ctx context.Context, s *State) (map[string]string, func(), error) {
	byID := map[string]model.ProjectFile{}
	for _, f := range s.Files {
		byID[f.ID] = f
	}

	paths := map[string]string{}
	cleanup := func() {
		for _, path := range paths {
			removeScratch(path)
		}
	}

	for _, t := range s.Plan.Tables {
		if _, done := paths[t.SourceFileID]; done {
			continue
		}
		file, ok := byID[t.SourceFileID]
		if !ok {
			// Unresolved source id from design; the table will fail its
			// conversion with a clear error instead of the whole phase.
			continue
		}

		body, err := p.objects.Download(ctx, file.StorageKey)
		if err != nil {
			cleanup()
			return nil, nil, eris.Wrapf(err, "pipeline: stage %s", file.Name)
		}
		scratch := filepath.Join(p.scratchDir, uuid.New().String()+scratchExt(file.Name))
		err = writeScratch(scratch, body)
		body.Close()
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		paths[t.SourceFileID] = scratch
	}
	return paths, cleanup, nil
}

// extractTable converts one table, uploads the artifact, and reports the
// outcome. Never returns an error: failures are encoded in the result.
func (p *Service) extractTable(ctx context.Context, t model.PlannedTable, sourcePath string) model.ExtractionResult {
	start := time.Now()
	res := model.ExtractionResult{
		TableName: t.Name,
		Status:    model.ExtractFailed,
		OutputKey: t.OutputKey,
	}

	if sourcePath == "" {
		res.Error = fmt.Sprintf("source file %q not found in project", t.SourceFileName)
		res.DurationMS = time.Since(start).Milliseconds()
		return res
	}

	out, format, err := p.convertWithFallback(ctx, t, sourcePath)
	if err != nil {
		res.Error = err.Error()
		res.DurationMS = time.Since(start).Milliseconds()
		return res
	}
	defer removeScratch(out.Path)

	key := t.OutputKey
	if format == model.FormatCSV {
		key = csvKey(key)
		res.OutputKey = key
	}
	if err := p.uploadArtifact(ctx, key, out, format); err != nil {
		res.Error = err.Error()
		res.DurationMS = time.Since(start).Milliseconds()
		return res
	}

	res.Status = model.ExtractSuccess
	res.RowCount = out.RowCount
	res.OutputBytes = out.Bytes
	res.Format = format
	res.NullCounts = out.NullCounts
	res.DurationMS = time.Since(start).Milliseconds()
	return res
}

// convertWithFallback tries Parquet and then CSV, each into its own
// uuid-named scratch artifact so concurrent conversions never collide.
func (p *Service) convertWithFallback(ctx context.Context, t model.PlannedTable, sourcePath string) (convert.Output, model.OutputFormat, error) {
	dest := filepath.Join(p.scratchDir, uuid.New().String()+".parquet")
	out, err := p.engine.Convert(ctx, convert.Request{
		SourcePath: sourcePath,
		Table:      t,
		Format:     model.FormatParquet,
		DestPath:   dest,
	})
	if err == nil {
		return out, model.FormatParquet, nil
	}
	removeScratch(dest)
	zap.L().Warn("pipeline: parquet conversion failed, falling back to csv",
		zap.String("table", t.Name), zap.Error(err))

	dest = filepath.Join(p.scratchDir, uuid.New().String()+".csv")
	out, csvErr := p.engine.Convert(ctx, convert.Request{
		SourcePath: sourcePath,
		Table:      t,
		Format:     model.FormatCSV,
		DestPath:   dest,
	})
	if csvErr != nil {
		removeScratch(dest)
		return convert.Output{}, "", eris.Wrapf(csvErr, "pipeline: both formats failed (parquet: %v)", err)
	}
	return out, model.FormatCSV, nil
}

func (p *Service) uploadArtifact(ctx context.Context, key string, out convert.Output, format model.OutputFormat) error {
	f, err := os.Open(out.Path)
	if err != nil {
		return eris.Wrap(err, "pipeline: open artifact")
	}
	defer f.Close()

	contentType := "application/vnd.apache.parquet"
	if format == model.FormatCSV {
		contentType = "text/csv"
	}
	_, err = p.objects.Upload(ctx, key, f, out.Bytes, contentType, nil)
	return eris.Wrapf(err, "pipeline: upload %s", key)
}

// csvKey swaps the planned .parquet suffix for .csv on fallback output.
func csvKey(key string) string {
	if ext := filepath.Ext(key); ext != "" {
		return key[:len(key)-len(ext)] + ".csv"
	}
	return key + ".csv"
}
