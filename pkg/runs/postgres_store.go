package runs

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore persists runs and their logs to Postgres.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(conn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", conn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxIdleConns(5)
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(time.Hour)

	s := &PostgresStore{db: db}
	if err := s.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS appsvcbuild_runs (
    id TEXT PRIMARY KEY,
    stack TEXT NOT NULL,
    versions TEXT NOT NULL,
    succeeded TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ,
    error TEXT
);
CREATE TABLE IF NOT EXISTS appsvcbuild_run_logs (
    id BIGSERIAL PRIMARY KEY,
    run_id TEXT NOT NULL REFERENCES appsvcbuild_runs(id) ON DELETE CASCADE,
    line TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
	_, err := s.db.Exec(schema)
	return err
}

func (s *PostgresStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *PostgresStore) Create(run Run) error {
	query := `INSERT INTO appsvcbuild_runs (id, stack, versions, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO UPDATE SET
    stack = EXCLUDED.stack,
    versions = EXCLUDED.versions,
    status = EXCLUDED.status,
    updated_at = EXCLUDED.updated_at`
	_, err := s.db.Exec(query,
		run.ID,
		run.Stack,
		joinVersions(run.Versions),
		run.Status,
		run.CreatedAt,
		run.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) UpdateStatus(id string, status Status, finishedAt *time.Time, errMsg string) error {
	query := `UPDATE appsvcbuild_runs SET status=$1, updated_at=$2, finished_at=$3, error=$4 WHERE id=$5`
	_, err := s.db.Exec(query, status, time.Now().UTC(), finishedAt, errMsg, id)
	return err
}

func (s *PostgresStore) SetSucceeded(id string, versions []string) error {
	_, err := s.db.Exec(`UPDATE appsvcbuild_runs SET succeeded=$1, updated_at=$2 WHERE id=$3`,
		joinVersions(versions), time.Now().UTC(), id)
	return err
}

func (s *PostgresStore) AppendLog(id string, line string) error {
	_, err := s.db.Exec(`INSERT INTO appsvcbuild_run_logs (run_id, line) VALUES ($1,$2)`, id, line)
	return err
}

const selectRun = `SELECT id, stack, versions, succeeded, status, created_at, updated_at, finished_at, error FROM appsvcbuild_runs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var r Run
	var versions, succeeded string
	var finishedAt sql.NullTime
	var errMsg sql.NullString
	if err := row.Scan(&r.ID, &r.Stack, &versions, &succeeded, &r.Status, &r.CreatedAt, &r.UpdatedAt, &finishedAt, &errMsg); err != nil {
		return Run{}, err
	}
	r.Versions = splitVersions(versions)
	r.Succeeded = splitVersions(succeeded)
	if finishedAt.Valid {
		r.FinishedAt = finishedAt.Time
	}
	if errMsg.Valid {
		r.Error = errMsg.String
	}
	return r, nil
}

func (s *PostgresStore) List() ([]Run, error) {
	rows, err := s.db.Query(selectRun + ` ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (s *PostgresStore) Get(id string) (Run, error) {
	r, err := scanRun(s.db.QueryRow(selectRun+` WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	return r, err
}

func (s *PostgresStore) ListLogs(id string, limit int) ([]string, error) {
	rows, err := s.db.Query(`SELECT line FROM appsvcbuild_run_logs WHERE run_id=$1 ORDER BY id ASC LIMIT $2`, id, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func joinVersions(versions []string) string {
	return strings.Join(versions, ",")
}

func splitVersions(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
