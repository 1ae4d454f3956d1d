package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sheetpipe/sheetpipe/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS projects (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'pending',
	table_count INTEGER NOT NULL DEFAULT 0,
	total_rows  INTEGER NOT NULL DEFAULT 0,
	total_bytes INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS project_files (
	id          TEXT PRIMARY KEY,
	project_id  TEXT NOT NULL REFERENCES projects(id),
	name        TEXT NOT NULL,
	storage_key TEXT NOT NULL,
	size_bytes  INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	project_id    TEXT NOT NULL REFERENCES projects(id),
	phase         TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'queued',
	config        TEXT NOT NULL,
	usage         TEXT NOT NULL DEFAULT '{}',
	revisions     INTEGER NOT NULL DEFAULT 0,
	error         TEXT,
	plan          TEXT,
	modifications TEXT,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS extracted_tables (
	id             TEXT PRIMARY KEY,
	project_id     TEXT NOT NULL REFERENCES projects(id),
	run_id         TEXT NOT NULL REFERENCES runs(id),
	name           TEXT NOT NULL,
	source_file_id TEXT NOT NULL REFERENCES project_files(id),
	columns        TEXT NOT NULL,
	row_count      INTEGER NOT NULL DEFAULT 0,
	size_bytes     INTEGER NOT NULL DEFAULT 0,
	format         TEXT NOT NULL,
	storage_key    TEXT NOT NULL,
	caveats        TEXT,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_project ON runs(project_id);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_files_project ON project_files(project_id);
CREATE INDEX IF NOT EXISTS idx_tables_project ON extracted_tables(project_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, projectID string, cfg model.RunConfig) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal config")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, project_id, status, config, usage, created_at, updated_at) VALUES (?, ?, ?, ?, '{}', ?, ?)`,
		id, projectID, string(model.RunStatusQueued), string(cfgJSON), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		ProjectID: projectID,
		Status:    model.RunStatusQueued,
		Config:    cfg,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) ClaimRun(ctx context.Context, runID string) (*model.Run, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ? AND status IN (?, ?)`,
		string(model.RunStatusRunning), time.Now().UTC(), runID,
		string(model.RunStatusQueued), string(model.RunStatusReview),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: claim run %s", runID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return nil, eris.Errorf("sqlite: run %s not claimable", runID)
	}
	return s.GetRun(ctx, runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, phase, status, config, usage, revisions, error, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, project_id, phase, status, config, usage, revisions, error, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.ProjectID != "" {
		query += ` AND project_id = ?`
		args = append(args, filter.ProjectID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) UpdateRunProgress(ctx context.Context, runID, phase string, revisions int, usage model.TokenUsage) error {
	usageJSON, err := json.Marshal(usage)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal usage")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET phase = ?, revisions = ?, usage = ?, updated_at = ? WHERE id = ?`,
		phase, revisions, string(usageJSON), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run progress %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), nullableString(errMsg), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) SavePlan(ctx context.Context, runID string, plan *model.ExtractionPlan) error {
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal plan")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET plan = ?, updated_at = ? WHERE id = ?`,
		string(planJSON), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save plan %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetPlan(ctx context.Context, runID string) (*model.ExtractionPlan, error) {
	var planJSON sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT plan FROM runs WHERE id = ?`, runID).Scan(&planJSON)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("sqlite: run not found: %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get plan %s", runID)
	}
	if !planJSON.Valid {
		return nil, nil
	}

	var plan model.ExtractionPlan
	if err := json.Unmarshal([]byte(planJSON.String), &plan); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal plan")
	}
	return &plan, nil
}

func (s *SQLiteStore) SaveModifications(ctx context.Context, runID string, mods []model.PlanModification) error {
	modsJSON, err := json.Marshal(mods)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal modifications")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET modifications = ?, updated_at = ? WHERE id = ?`,
		string(modsJSON), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save modifications %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetModifications(ctx context.Context, runID string) ([]model.PlanModification, error) {
	var modsJSON sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT modifications FROM runs WHERE id = ?`, runID).Scan(&modsJSON)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("sqlite: run not found: %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get modifications %s", runID)
	}
	if !modsJSON.Valid {
		return nil, nil
	}

	var mods []model.PlanModification
	if err := json.Unmarshal([]byte(modsJSON.String), &mods); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal modifications")
	}
	return mods, nil
}

func (s *SQLiteStore) CreateProject(ctx context.Context, name string) (*model.Project, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, name, string(model.ProjectStatusPending), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert project")
	}

	return &model.Project{
		ID:        id,
		Name:      name,
		Status:    model.ProjectStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) GetProject(ctx context.Context, projectID string) (*model.Project, error) {
	var p model.Project
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, status, table_count, total_rows, total_bytes, created_at, updated_at FROM projects WHERE id = ?`,
		projectID,
	).Scan(&p.ID, &p.Name, &p.Status, &p.TableCount, &p.TotalRows, &p.TotalBytes, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("sqlite: project not found: %s", projectID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get project")
	}
	return &p, nil
}

func (s *SQLiteStore) AddProjectFile(ctx context.Context, file model.ProjectFile) error {
	if file.ID == "" {
		file.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO project_files (id, project_id, name, storage_key, size_bytes, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		file.ID, file.ProjectID, file.Name, file.StorageKey, file.SizeBytes, time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: insert project file")
}

func (s *SQLiteStore) ListProjectFiles(ctx context.Context, projectID string) ([]model.ProjectFile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, name, storage_key, size_bytes, created_at FROM project_files WHERE project_id = ? ORDER BY created_at`,
		projectID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list project files")
	}
	defer rows.Close()

	var files []model.ProjectFile
	for rows.Next() {
		var f model.ProjectFile
		if err := rows.Scan(&f.ID, &f.ProjectID, &f.Name, &f.StorageKey, &f.SizeBytes, &f.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan project file")
		}
		files = append(files, f)
	}
	return files, eris.Wrap(rows.Err(), "sqlite: list project files iterate")
}

func (s *SQLiteStore) UpdateProjectAggregates(ctx context.Context, projectID string, status model.ProjectStatus, tableCount int, totalRows, totalBytes int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET status = ?, table_count = ?, total_rows = ?, total_bytes = ?, updated_at = ? WHERE id = ?`,
		string(status), tableCount, totalRows, totalBytes, time.Now().UTC(), projectID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update project aggregates %s", projectID)
	}
	return checkRowsAffected(res, "project", projectID)
}

func (s *SQLiteStore) ListTables(ctx context.Context, projectID string) ([]model.TableRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, run_id, name, source_file_id, columns, row_count, size_bytes, format, storage_key, caveats, created_at
		 FROM extracted_tables WHERE project_id = ? ORDER BY name`,
		projectID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list tables")
	}
	defer rows.Close()

	var tables []model.TableRecord
	for rows.Next() {
		t, err := scanTable(rows)
		if err != nil {
			return nil, err
		}
		tables = append(tables, *t)
	}
	return tables, eris.Wrap(rows.Err(), "sqlite: list tables iterate")
}

func (s *SQLiteStore) ReplaceProjectTables(ctx context.Context, projectID string, tables []model.TableRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin replace tables")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM extracted_tables WHERE project_id = ?`, projectID); err != nil {
		return eris.Wrap(err, "sqlite: delete prior tables")
	}

	for _, t := range tables {
		if t.ID == "" {
			t.ID = uuid.New().String()
		}
		colsJSON, err := json.Marshal(t.Columns)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal columns")
		}
		caveatsJSON, err := json.Marshal(t.Caveats)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal caveats")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO extracted_tables (id, project_id, run_id, name, source_file_id, columns, row_count, size_bytes, format, storage_key, caveats, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.ProjectID, t.RunID, t.Name, t.SourceFileID, string(colsJSON),
			t.RowCount, t.SizeBytes, string(t.Format), t.StorageKey, string(caveatsJSON), time.Now().UTC(),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert table %s", t.Name)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit replace tables")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var cfgJSON, usageJSON string
	var errMsg sql.NullString

	err := row.Scan(&r.ID, &r.ProjectID, &r.Phase, &r.Status, &cfgJSON, &usageJSON, &r.Revisions, &errMsg, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if err := json.Unmarshal([]byte(cfgJSON), &r.Config); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal config")
	}
	if err := json.Unmarshal([]byte(usageJSON), &r.Usage); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal usage")
	}
	if errMsg.Valid {
		r.Error = errMsg.String
	}
	return &r, nil
}

func scanTable(row scannable) (*model.TableRecord, error) {
	var t model.TableRecord
	var colsJSON string
	var caveatsJSON sql.NullString

	err := row.Scan(&t.ID, &t.ProjectID, &t.RunID, &t.Name, &t.SourceFileID, &colsJSON,
		&t.RowCount, &t.SizeBytes, &t.Format, &t.StorageKey, &caveatsJSON, &t.CreatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan table")
	}

	if err := json.Unmarshal([]byte(colsJSON), &t.Columns); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal columns")
	}
	if caveatsJSON.Valid && caveatsJSON.String != "null" {
		if err := json.Unmarshal([]byte(caveatsJSON.String), &t.Caveats); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal caveats")
		}
	}
	return &t, nil
}
