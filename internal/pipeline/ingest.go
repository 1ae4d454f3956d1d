package pipeline

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sheetpipe/sheetpipe/internal/model"
	"github.com/sheetpipe/sheetpipe/internal/progress"
	"github.com/sheetpipe/sheetpipe/internal/runner"
	"github.com/sheetpipe/sheetpipe/internal/sheets"
)

// ingest fans out over the project's files: each is downloaded from the
// object store to an isolated scratch path and its workbook structure
// inventoried. A failed file is omitted from the output with its error
// logged; the phase only errors when no file yields an inventory.
func (p *Service) ingest(ctx context.Context, s *State, sink progress.Sink) Update {
	log := zap.L().With(zap.String("run", s.Run.ID))

	outcomes := runner.Map(ctx, s.Files, s.Run.Config.Concurrency,
		func(c context.Context, file model.ProjectFile) (model.FileInventory, error) {
			return p.inventoryFile(c, file)
		})

	var inventories []model.FileInventory
	var firstErr error
	completed := 0
	for i, out := range outcomes {
		completed++
		if out.Err != nil {
			log.Warn("pipeline: file ingest failed",
				zap.String("file", s.Files[i].Name), zap.Error(out.Err))
			if firstErr == nil {
				firstErr = out.Err
			}
			continue
		}
		inventories = append(inventories, out.Value)
		sink.Emit(progress.Event{
			Type:           progress.EventProgress,
			RunID:          s.Run.ID,
			Phase:          string(PhaseIngest),
			Message:        s.Files[i].Name,
			CompletedItems: completed,
			TotalItems:     len(s.Files),
			Percent:        float64(completed) / float64(len(s.Files)) * 100,
		})
	}

	if len(inventories) == 0 {
		if firstErr == nil {
			firstErr = eris.New("pipeline: project has no files to ingest")
		}
		return Update{Err: eris.Wrap(firstErr, "pipeline: ingest produced no inventories")}
	}

	sink.Emit(progress.Event{
		Type:           progress.EventProgress,
		RunID:          s.Run.ID,
		Phase:          string(PhaseIngest),
		CompletedItems: len(s.Files),
		TotalItems:     len(s.Files),
		Percent:        100,
	})
	return Update{Inventories: inventories}
}

// inventoryFile downloads one uploaded workbook and summarizes its sheets.
// The scratch copy is removed on every path.
func (p *Service) inventoryFile(ctx context.Context, file model.ProjectFile) (model.FileInventory, error) {
	body, err := p.objects.Download(ctx, file.StorageKey)
	if err != nil {
		return model.FileInventory{}, eris.Wrapf(err, "pipeline: download %s", file.Name)
	}
	defer body.Close()

	scratch := filepath.Join(p.scratchDir, uuid.New().String()+scratchExt(file.Name))
	if err := writeScratch(scratch, body); err != nil {
		return model.FileInventory{}, err
	}
	defer removeScratch(scratch)

	return sheets.Inventory(scratch, file.ID, file.Name, p.sampleRows)
}

func scratchExt(name string) string {
	if ext := filepath.Ext(name); ext != "" {
		return strings.ToLower(ext)
	}
	return ".xlsx"
}

func writeScratch(path string, body io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "pipeline: create scratch dir")
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "pipeline: create scratch file")
	}
	defer f.Close()
	if _, err := io.Copy(f, body); err != nil {
		return eris.Wrap(err, "pipeline: write scratch file")
	}
	return nil
}

// removeScratch deletes a scratch artifact. Best effort: a failed delete
// is logged, never propagated.
func removeScratch(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		zap.L().Warn("pipeline: scratch cleanup failed", zap.String("path", path), zap.Error(err))
	}
}
