package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sheetpipe/sheetpipe/internal/model"
	"github.com/sheetpipe/sheetpipe/internal/progress"
)

// persist publishes the run's output: prior table records and artifacts
// are removed so re-runs never accumulate stale tables, new records are
// written transactionally, project aggregates and status are recomputed,
// and a machine-readable catalog is uploaded. Any failure here is fatal to
// the run, because a persistence failure means nothing was durably saved.
func (p *Service) persist(ctx context.Context, s *State, sink progress.Sink) Update {
	log := zap.L().With(zap.String("run", s.Run.ID), zap.String("project", s.Run.ProjectID))

	// Delete the previous run's artifacts before the records pointing at
	// them vanish.
	prior, err := p.store.ListTables(ctx, s.Run.ProjectID)
	if err != nil {
		return Update{Err: eris.Wrap(err, "pipeline: list prior tables")}
	}
	for _, t := range prior {
		if err := p.objects.Delete(ctx, t.StorageKey); err != nil {
			log.Warn("pipeline: prior artifact delete failed",
				zap.String("key", t.StorageKey), zap.Error(err))
		}
	}

	records, catalogTables, caveatTotal := p.buildRecords(s)

	if err := p.store.ReplaceProjectTables(ctx, s.Run.ProjectID, records); err != nil {
		return Update{Err: eris.Wrap(err, "pipeline: replace project tables")}
	}

	status := projectStatus(s, len(records))
	var totalRows, totalBytes int64
	for _, r := range records {
		totalRows += r.RowCount
		totalBytes += r.SizeBytes
	}
	if err := p.store.UpdateProjectAggregates(ctx, s.Run.ProjectID, status, len(records), totalRows, totalBytes); err != nil {
		return Update{Err: eris.Wrap(err, "pipeline: update project aggregates")}
	}

	catalog := model.Catalog{
		ProjectID:     s.Run.ProjectID,
		RunID:         s.Run.ID,
		Title:         s.Plan.Catalog.Title,
		Description:   s.Plan.Catalog.Description,
		Tables:        catalogTables,
		Relationships: s.Plan.Relationships,
		GeneratedAt:   time.Now().UTC(),
	}
	if err := p.publishCatalog(ctx, s.Run.ID, catalog); err != nil {
		return Update{Err: err}
	}

	log.Info("pipeline: persisted run output",
		zap.Int("tables", len(records)),
		zap.Int64("rows", totalRows),
		zap.String("project_status", string(status)),
		zap.Int("caveats", caveatTotal))

	sink.Emit(progress.Event{
		Type:           progress.EventPhaseComplete,
		RunID:          s.Run.ID,
		Phase:          string(PhasePersist),
		CompletedItems: len(records),
		TotalItems:     len(s.Results),
	})
	return Update{}
}

// buildRecords turns successful extraction results into table records and
// catalog entries, folding in validation caveats.
func (p *Service) buildRecords(s *State) ([]model.TableRecord, []model.CatalogTable, int) {
	planByName := map[string]*model.PlannedTable{}
	for i := range s.Plan.Tables {
		planByName[s.Plan.Tables[i].Name] = &s.Plan.Tables[i]
	}
	caveatsByName := map[string][]string{}
	if s.Report != nil {
		for _, tv := range s.Report.Tables {
			for _, c := range tv.Checks {
				if !c.Passed {
					caveatsByName[tv.TableName] = append(caveatsByName[tv.TableName], c.Message)
				}
			}
		}
	}

	var records []model.TableRecord
	var catalogTables []model.CatalogTable
	caveatTotal := 0

	for _, res := range s.Results {
		if res.Status != model.ExtractSuccess {
			continue
		}
		planned := planByName[res.TableName]
		if planned == nil {
			continue
		}
		caveats := caveatsByName[res.TableName]
		caveatTotal += len(caveats)

		records = append(records, model.TableRecord{
			ProjectID:    s.Run.ProjectID,
			RunID:        s.Run.ID,
			Name:         res.TableName,
			SourceFileID: planned.SourceFileID,
			Columns:      planned.Columns,
			RowCount:     res.RowCount,
			SizeBytes:    res.OutputBytes,
			Format:       res.Format,
			StorageKey:   res.OutputKey,
			Caveats:      caveats,
		})
		catalogTables = append(catalogTables, model.CatalogTable{
			Name:         res.TableName,
			SourceFile:   planned.SourceFileName,
			SourceSheet:  planned.SourceSheet,
			Columns:      planned.Columns,
			RowCount:     res.RowCount,
			SizeBytes:    res.OutputBytes,
			Format:       res.Format,
			StorageKey:   res.OutputKey,
			QualityNotes: caveats,
		})
	}
	return records, catalogTables, caveatTotal
}

// projectStatus derives the published project state: failed when nothing
// was saved, partial when any table failed or validation did not fully
// pass, ready otherwise.
func projectStatus(s *State, saved int) model.ProjectStatus {
	if saved == 0 {
		return model.ProjectStatusFailed
	}
	if saved < len(s.Results) || (s.Report != nil && !s.Report.Passed) {
		return model.ProjectStatusPartial
	}
	return model.ProjectStatusReady
}

func (p *Service) publishCatalog(ctx context.Context, runID string, catalog model.Catalog) error {
	blob, err := json.MarshalIndent(catalog, "", "  ")
	if err != nil {
		return eris.Wrap(err, "pipeline: marshal catalog")
	}
	key := fmt.Sprintf("%s/%s/catalog.json", p.keyPrefix, runID)
	_, err = p.objects.Upload(ctx, key, bytes.NewReader(blob), int64(len(blob)), "application/json", nil)
	return eris.Wrap(err, "pipeline: publish catalog")
}
