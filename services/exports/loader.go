package exports

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strings"
	"time"

	"fldata/lib/flstore"
	"fldata/lib/timezone"
)

// exported datetimes come in a handful of shapes depending on the
// dataset's age
var datetimeLayouts = []string{
	"2006-01-02 15:04:05 MST",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02",
}

const loadedAtLayout = "2006-01-02 15:04:05"

// loadExport reads a downloaded dataset CSV into its table. Values are
// coerced per the column catalog: tinyint columns accept the textual
// booleans the exports use, datetime columns are normalized, anything
// else loads as text. Columns present in the table but absent from the
// CSV stay NULL.
func loadExport(ctx context.Context, run flstore.RunDB, fileName string, columns []flstore.FileColumn, path string, templates map[string]string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return 0, err
	}
	if len(records) < 1 {
		return 0, fmt.Errorf("export file %q has no header row", path)
	}
	header := records[0]

	err = applyPatches(ctx, run, fileName, header, templates)
	if err != nil {
		return 0, err
	}

	types := map[string]string{}
	for _, col := range columns {
		types[col.ColumnName] = strings.ToLower(col.ColumnType)
	}

	quoted := make([]string, len(header))
	marks := make([]string, len(header))
	for i, col := range header {
		quoted[i] = fmt.Sprintf("%q", col)
		marks[i] = "?"
	}
	insert := fmt.Sprintf(`INSERT INTO %q (%s) VALUES (%s)`,
		fileName, strings.Join(quoted, ", "), strings.Join(marks, ", "))

	tx, err := run.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for n, rec := range records[1:] {
		values := make([]any, len(rec))
		for i, raw := range rec {
			value, err := coerceValue(raw, types[header[i]])
			if err != nil {
				return 0, fmt.Errorf("row %d column %q: %w", n+2, header[i], err)
			}
			values[i] = value
		}
		_, err = stmt.ExecContext(ctx, values...)
		if err != nil {
			return 0, fmt.Errorf("row %d: %w", n+2, err)
		}
	}
	return len(records) - 1, tx.Commit()
}

func coerceValue(raw, columnType string) (any, error) {
	switch {
	case strings.HasPrefix(columnType, "tinyint"):
		if raw == "" {
			return nil, nil
		}
		switch strings.ToLower(raw) {
		case "true", "t", "1":
			return 1, nil
		case "false", "f", "0":
			return 0, nil
		}
		return nil, fmt.Errorf("unrecognized boolean %q", raw)
	case strings.HasPrefix(columnType, "datetime"), strings.HasPrefix(columnType, "timestamp"):
		if raw == "" {
			return nil, nil
		}
		for _, layout := range datetimeLayouts {
			t, err := time.ParseInLocation(layout, raw, timezone.Location)
			if err == nil {
				return t.Format(loadedAtLayout), nil
			}
		}
		return nil, fmt.Errorf("unrecognized datetime %q", raw)
	default:
		return raw, nil
	}
}
