package flstore

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"fldata/lib/timezone"
)

// RunDB is the per-course-run database that holds one table per
// downloaded dataset. The original dashboard provisioned one MySQL
// database per run; here each run gets its own sqlite file under the
// configured database directory.
type RunDB struct {
	DB   *sql.DB
	Slug string
	// run version, e.g. 3 in data-science/3
	Version int
}

func OpenCourseRun(dir, slug string, version int) (RunDB, error) {
	path := filepath.Join(dir, fmt.Sprintf("%s-%d.db", slug, version))
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return RunDB{}, err
	}
	_, err = db.Exec(RunSchema)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		db.Close()
		return RunDB{}, err
	}
	return RunDB{DB: db, Slug: slug, Version: version}, nil
}

func (r RunDB) Close() error {
	return r.DB.Close()
}

func (r RunDB) TableExists(ctx context.Context, table string) (bool, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT count(*) FROM sqlite_master
		WHERE type = 'table' AND name = ?`, table)
	var n int
	if err := row.Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// TableColumns reads the live column list of a dataset table, used by
// the schema-drift checks.
func (r RunDB) TableColumns(ctx context.Context, table string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%q)`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var (
			cid        int64
			name, typ  string
			notnull    int64
			dflt       sql.NullString
			primaryKey int64
		)
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &primaryKey); err != nil {
			return nil, err
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

func (r RunDB) Truncate(ctx context.Context, table string) error {
	_, err := r.DB.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %q`, table))
	return err
}

// Recreate drops the dataset table and rebuilds it from its template.
func (r RunDB) Recreate(ctx context.Context, table, template string) error {
	_, err := r.DB.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %q`, table))
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, template)
	return err
}

// PatchApplied reports whether a named schema patch has already run
// against this dataset, making every patch idempotent across runs.
func (r RunDB) PatchApplied(ctx context.Context, fileName, patch string) (bool, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT count(*) FROM dataset_schema_version
		WHERE file_name = ? AND patch = ?`, fileName, patch)
	var n int
	if err := row.Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r RunDB) RecordPatch(ctx context.Context, fileName, patch string) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO dataset_schema_version (file_name, patch, applied_at)
		VALUES (?, ?, ?)
		ON CONFLICT (file_name, patch) DO NOTHING`,
		fileName, patch, timezone.Now().Format(time.RFC3339),
	)
	return err
}
