package pipeline

import (
	"path"

	"go.uber.org/zap"

	"github.com/sheetpipe/sheetpipe/internal/model"
	"github.com/sheetpipe/sheetpipe/internal/naming"
)

// ApplyModifications merges reviewer edits into a plan before extraction.
// At most one modification per table is honored (the first wins); a skip
// removes the table from the extraction set, an include keeps it and may
// rename the table or rename/retype individual columns. Renames go through
// the same snake_case normalization and collision suffixing as designed
// names, and a renamed table's output key follows its new name. Overrides
// naming an unknown table or source column are ignored, not errors: a
// reviewer editing against a stale plan should not break the run.
func ApplyModifications(plan *model.ExtractionPlan, mods []model.PlanModification) *model.ExtractionPlan {
	if plan == nil {
		return nil
	}
	if len(mods) == 0 {
		return plan
	}

	byTable := make(map[string]model.PlanModification, len(mods))
	for _, m := range mods {
		if _, dup := byTable[m.TableName]; dup {
			zap.L().Warn("pipeline: duplicate plan modification ignored", zap.String("table", m.TableName))
			continue
		}
		byTable[m.TableName] = m
	}

	out := &model.ExtractionPlan{
		Relationships: plan.Relationships,
		Catalog:       plan.Catalog,
	}

	// Tables keeping their designed name reserve it first, so a reviewer
	// rename can never steal an existing table's name.
	names := naming.NewUniquer()
	var renamed []int // indexes into out.Tables, in plan order
	renames := map[int]string{}

	for _, t := range plan.Tables {
		mod, ok := byTable[t.Name]
		if ok {
			delete(byTable, t.Name)
			if mod.Action == model.ModActionSkip {
				zap.L().Info("pipeline: table skipped by reviewer", zap.String("table", t.Name))
				continue
			}
		}

		if ok && len(mod.Columns) > 0 {
			cols := make([]model.PlannedColumn, len(t.Columns))
			copy(cols, t.Columns)
			for _, ov := range mod.Columns {
				for i := range cols {
					if cols[i].SourceName != ov.SourceName {
						continue
					}
					if ov.Rename != "" {
						cols[i].OutputName = naming.Snake(ov.Rename)
					}
					if ov.Retype != "" {
						cols[i].Type = ov.Retype
					}
				}
			}
			t.Columns = cols
		}

		if ok && mod.Rename != "" {
			renamed = append(renamed, len(out.Tables))
			renames[len(out.Tables)] = mod.Rename
		} else {
			names.Take(t.Name)
		}
		out.Tables = append(out.Tables, t)
	}

	for _, i := range renamed {
		t := &out.Tables[i]
		t.Name = names.Take(renames[i])
		t.OutputKey = retargetKey(t.OutputKey, t.Name)
	}

	for name := range byTable {
		zap.L().Warn("pipeline: modification for unknown table ignored", zap.String("table", name))
	}
	return out
}

// retargetKey swaps the final key segment's base name, keeping prefix and
// extension.
func retargetKey(key, name string) string {
	if key == "" {
		return key
	}
	ext := path.Ext(key)
	if dir := path.Dir(key); dir != "." {
		return dir + "/" + name + ext
	}
	return name + ext
}
