package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sheetpipe/sheetpipe/internal/db"
	"github.com/sheetpipe/sheetpipe/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS projects (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name        TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'pending',
	table_count INTEGER NOT NULL DEFAULT 0,
	total_rows  BIGINT NOT NULL DEFAULT 0,
	total_bytes BIGINT NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS project_files (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	project_id  TEXT NOT NULL REFERENCES projects(id),
	name        TEXT NOT NULL,
	storage_key TEXT NOT NULL,
	size_bytes  BIGINT NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	project_id    TEXT NOT NULL REFERENCES projects(id),
	phase         TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'queued',
	config        JSONB NOT NULL,
	usage         JSONB NOT NULL DEFAULT '{}'::jsonb,
	revisions     INTEGER NOT NULL DEFAULT 0,
	error         TEXT,
	plan          JSONB,
	modifications JSONB,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS extracted_tables (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	project_id     TEXT NOT NULL REFERENCES projects(id),
	run_id         TEXT NOT NULL REFERENCES runs(id),
	name           TEXT NOT NULL,
	source_file_id TEXT NOT NULL REFERENCES project_files(id),
	columns        JSONB NOT NULL,
	row_count      BIGINT NOT NULL DEFAULT 0,
	size_bytes     BIGINT NOT NULL DEFAULT 0,
	format         TEXT NOT NULL,
	storage_key    TEXT NOT NULL,
	caveats        JSONB,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_project ON runs(project_id);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_files_project ON project_files(project_id);
CREATE INDEX IF NOT EXISTS idx_tables_project ON extracted_tables(project_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) CreateRun(ctx context.Context, projectID string, cfg model.RunConfig) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal config")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, project_id, status, config, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, projectID, string(model.RunStatusQueued), cfgJSON, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
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

func (s *PostgresStore) ClaimRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3 AND status IN ($4, $5)
		 RETURNING id, project_id, phase, status, config, usage, revisions, error, created_at, updated_at`,
		string(model.RunStatusRunning), time.Now().UTC(), runID,
		string(model.RunStatusQueued), string(model.RunStatusReview),
	)
	r, err := scanPgRun(row)
	if err == pgx.ErrNoRows {
		return nil, eris.Errorf("postgres: run %s not claimable", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: claim run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, project_id, phase, status, config, usage, revisions, error, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	)
	r, err := scanPgRun(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, project_id, phase, status, config, usage, revisions, error, created_at, updated_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.ProjectID != "" {
		query += fmt.Sprintf(` AND project_id = $%d`, argIdx)
		args = append(args, filter.ProjectID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) UpdateRunProgress(ctx context.Context, runID, phase string, revisions int, usage model.TokenUsage) error {
	usageJSON, err := json.Marshal(usage)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal usage")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET phase = $1, revisions = $2, usage = $3, updated_at = $4 WHERE id = $5`,
		phase, revisions, usageJSON, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run progress %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus, errMsg string) error {
	var errVal any
	if errMsg != "" {
		errVal = errMsg
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
		string(status), errVal, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) SavePlan(ctx context.Context, runID string, plan *model.ExtractionPlan) error {
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal plan")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET plan = $1, updated_at = $2 WHERE id = $3`,
		planJSON, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save plan %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetPlan(ctx context.Context, runID string) (*model.ExtractionPlan, error) {
	var planJSON []byte
	err := s.pool.QueryRow(ctx, `SELECT plan FROM runs WHERE id = $1`, runID).Scan(&planJSON)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get plan %s", runID)
	}
	if planJSON == nil {
		return nil, nil
	}

	var plan model.ExtractionPlan
	if err := json.Unmarshal(planJSON, &plan); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal plan")
	}
	return &plan, nil
}

func (s *PostgresStore) SaveModifications(ctx context.Context, runID string, mods []model.PlanModification) error {
	modsJSON, err := json.Marshal(mods)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal modifications")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET modifications = $1, updated_at = $2 WHERE id = $3`,
		modsJSON, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save modifications %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetModifications(ctx context.Context, runID string) ([]model.PlanModification, error) {
	var modsJSON *[]byte
	err := s.pool.QueryRow(ctx, `SELECT modifications FROM runs WHERE id = $1`, runID).Scan(&modsJSON)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get modifications %s", runID)
	}
	if modsJSON == nil {
		return nil, nil
	}

	var mods []model.PlanModification
	if err := json.Unmarshal(*modsJSON, &mods); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal modifications")
	}
	return mods, nil
}

func (s *PostgresStore) CreateProject(ctx context.Context, name string) (*model.Project, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO projects (id, name, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, name, string(model.ProjectStatusPending), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert project")
	}

	return &model.Project{
		ID:        id,
		Name:      name,
		Status:    model.ProjectStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (*model.Project, error) {
	var p model.Project
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, status, table_count, total_rows, total_bytes, created_at, updated_at FROM projects WHERE id = $1`,
		projectID,
	).Scan(&p.ID, &p.Name, &p.Status, &p.TableCount, &p.TotalRows, &p.TotalBytes, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get project %s", projectID)
	}
	return &p, nil
}

func (s *PostgresStore) AddProjectFile(ctx context.Context, file model.ProjectFile) error {
	if file.ID == "" {
		file.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO project_files (id, project_id, name, storage_key, size_bytes, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		file.ID, file.ProjectID, file.Name, file.StorageKey, file.SizeBytes, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: insert project file")
}

func (s *PostgresStore) ListProjectFiles(ctx context.Context, projectID string) ([]model.ProjectFile, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, project_id, name, storage_key, size_bytes, created_at FROM project_files WHERE project_id = $1 ORDER BY created_at`,
		projectID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list project files")
	}
	defer rows.Close()

	var files []model.ProjectFile
	for rows.Next() {
		var f model.ProjectFile
		if err := rows.Scan(&f.ID, &f.ProjectID, &f.Name, &f.StorageKey, &f.SizeBytes, &f.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan project file")
		}
		files = append(files, f)
	}
	return files, eris.Wrap(rows.Err(), "postgres: list project files iterate")
}

func (s *PostgresStore) UpdateProjectAggregates(ctx context.Context, projectID string, status model.ProjectStatus, tableCount int, totalRows, totalBytes int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE projects SET status = $1, table_count = $2, total_rows = $3, total_bytes = $4, updated_at = $5 WHERE id = $6`,
		string(status), tableCount, totalRows, totalBytes, time.Now().UTC(), projectID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update project aggregates %s", projectID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("project not found: %s", projectID)
	}
	return nil
}

func (s *PostgresStore) ListTables(ctx context.Context, projectID string) ([]model.TableRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, project_id, run_id, name, source_file_id, columns, row_count, size_bytes, format, storage_key, caveats, created_at
		 FROM extracted_tables WHERE project_id = $1 ORDER BY name`,
		projectID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list tables")
	}
	defer rows.Close()

	var tables []model.TableRecord
	for rows.Next() {
		var t model.TableRecord
		var colsJSON []byte
		var caveatsJSON *[]byte

		err := rows.Scan(&t.ID, &t.ProjectID, &t.RunID, &t.Name, &t.SourceFileID, &colsJSON,
			&t.RowCount, &t.SizeBytes, &t.Format, &t.StorageKey, &caveatsJSON, &t.CreatedAt)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan table")
		}
		if err := json.Unmarshal(colsJSON, &t.Columns); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal columns")
		}
		if caveatsJSON != nil {
			if err := json.Unmarshal(*caveatsJSON, &t.Caveats); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal caveats")
			}
		}
		tables = append(tables, t)
	}
	return tables, eris.Wrap(rows.Err(), "postgres: list tables iterate")
}

// ReplaceProjectTables swaps the project's catalog atomically: prior rows
// are deleted and the new set bulk-loaded via COPY inside one transaction.
func (s *PostgresStore) ReplaceProjectTables(ctx context.Context, projectID string, tables []model.TableRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin replace tables")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM extracted_tables WHERE project_id = $1`, projectID); err != nil {
		return eris.Wrap(err, "postgres: delete prior tables")
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(tables))
	for _, t := range tables {
		if t.ID == "" {
			t.ID = uuid.New().String()
		}
		colsJSON, err := json.Marshal(t.Columns)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal columns")
		}
		caveatsJSON, err := json.Marshal(t.Caveats)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal caveats")
		}
		rows = append(rows, []any{
			t.ID, t.ProjectID, t.RunID, t.Name, t.SourceFileID, colsJSON,
			t.RowCount, t.SizeBytes, string(t.Format), t.StorageKey, caveatsJSON, now,
		})
	}

	_, err = db.CopyFrom(ctx, tx, "extracted_tables",
		[]string{"id", "project_id", "run_id", "name", "source_file_id", "columns", "row_count", "size_bytes", "format", "storage_key", "caveats", "created_at"},
		rows,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: bulk insert tables")
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit replace tables")
}

func scanPgRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var cfgJSON, usageJSON []byte
	var errMsg *string

	err := row.Scan(&r.ID, &r.ProjectID, &r.Phase, &r.Status, &cfgJSON, &usageJSON, &r.Revisions, &errMsg, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(cfgJSON, &r.Config); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal config")
	}
	if len(usageJSON) > 0 {
		if err := json.Unmarshal(usageJSON, &r.Usage); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal usage")
		}
	}
	if errMsg != nil {
		r.Error = *errMsg
	}
	return &r, nil
}
