// Package flstore wraps the analytics database behind the same
// operations the dashboard's stored procedures expose: course upserts,
// active-course listings, file/column metadata and the two
// fire-and-forget logging tables.
package flstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"fldata/lib/timezone"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

var ErrCourseNotFound = errors.New("course not found")

// Open opens either a local sqlite file or a remote libsql database
// depending on the shape of the path, and applies the embedded schema.
func Open(path string) (*sql.DB, error) {
	driver := "sqlite"
	if strings.HasPrefix(path, "libsql://") {
		driver = "libsql"
	}
	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, err
	}
	_, err = db.Exec(Schema)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		db.Close()
		return nil, err
	}
	return db, nil
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) Store {
	return Store{db: db}
}

func (s Store) DB() *sql.DB {
	return s.db
}

type Course struct {
	Name          string
	Slug          string
	DurationWeeks int
	StartDate     time.Time
	EndDate       time.Time
	Version       int
	Active        bool
	Status        string
	Organisation  string
}

const dateLayout = "2006-01-02"

func (s Store) UpsertCourse(ctx context.Context, c Course) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO course_information
			(course_name, course_name_fl, duration_week, end_date, start_date,
			 version, active, status, organisation)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (course_name_fl, version) DO UPDATE SET
			course_name = excluded.course_name,
			duration_week = excluded.duration_week,
			end_date = excluded.end_date,
			start_date = excluded.start_date,
			active = excluded.active,
			status = excluded.status,
			organisation = excluded.organisation`,
		c.Name, c.Slug, c.DurationWeeks,
		c.EndDate.Format(dateLayout), c.StartDate.Format(dateLayout),
		c.Version, c.Active, c.Status, c.Organisation,
	)
	return err
}

func (s Store) CourseId(ctx context.Context, slug string, version int) (int64, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id FROM course_information
		WHERE course_name_fl = ? AND version = ?`,
		slug, version,
	)
	var id int64
	err := row.Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrCourseNotFound
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s Store) InsertCourseFile(ctx context.Context, courseId, fileId int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO course_file_information (course_id, file_id)
		VALUES (?, ?)
		ON CONFLICT (course_id, file_id) DO NOTHING`,
		courseId, fileId,
	)
	return err
}

// FileInformation returns the id of every known dataset type keyed by
// its type tag (comments, enrolments, ...).
func (s Store) FileInformation(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, file_name FROM file_information`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		out[name] = id
	}
	return out, rows.Err()
}

type CourseRef struct {
	Slug    string
	Version int
}

func (s Store) ActiveCourses(ctx context.Context) ([]CourseRef, error) {
	return s.queryCourseRefs(ctx, `
		SELECT course_name_fl, version FROM course_information
		WHERE active = 1
		ORDER BY course_name_fl, version`)
}

func (s Store) InProgressCourses(ctx context.Context) ([]CourseRef, error) {
	return s.queryCourseRefs(ctx, `
		SELECT course_name_fl, version FROM course_information
		WHERE date(start_date) <= date('now') AND date('now') <= date(end_date)
		ORDER BY course_name_fl, version`)
}

func (s Store) queryCourseRefs(ctx context.Context, query string) ([]CourseRef, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CourseRef
	for rows.Next() {
		var ref CourseRef
		if err := rows.Scan(&ref.Slug, &ref.Version); err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

type CourseFile struct {
	Slug         string
	Version      int
	FileName     string
	Organisation string
}

// ActiveCourseFiles lists every downloadable dataset of every active
// course run, the work list of the export fetcher.
func (s Store) ActiveCourseFiles(ctx context.Context) ([]CourseFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.course_name_fl, c.version, f.file_name, c.organisation
		FROM course_information c
		JOIN course_file_information cf ON cf.course_id = c.id
		JOIN file_information f ON f.id = cf.file_id
		WHERE c.active = 1
		ORDER BY c.course_name_fl, c.version, f.file_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CourseFile
	for rows.Next() {
		var cf CourseFile
		if err := rows.Scan(&cf.Slug, &cf.Version, &cf.FileName, &cf.Organisation); err != nil {
			return nil, err
		}
		out = append(out, cf)
	}
	return out, rows.Err()
}

type FileColumn struct {
	FileName   string
	ColumnName string
	ColumnType string
}

func (s Store) FileColumns(ctx context.Context) ([]FileColumn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT file_name, column_name, column_type
		FROM file_column_information`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FileColumn
	for rows.Next() {
		var fc FileColumn
		if err := rows.Scan(&fc.FileName, &fc.ColumnName, &fc.ColumnType); err != nil {
			return nil, err
		}
		out = append(out, fc)
	}
	return out, rows.Err()
}

type VisTable struct {
	TableName string
	FileName  string
}

// VisTables returns the (visualization table, source file) pairs a
// course run feeds, restricted to the datasets the run actually has.
func (s Store) VisTables(ctx context.Context, slug string, version int) ([]VisTable, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.vis_table_name, v.file_name
		FROM vis_table_information v
		JOIN file_information f ON f.file_name = v.file_name
		JOIN course_file_information cf ON cf.file_id = f.id
		JOIN course_information c ON c.id = cf.course_id
		WHERE c.course_name_fl = ? AND c.version = ?
		ORDER BY v.vis_table_name`,
		slug, version,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []VisTable
	for rows.Next() {
		var vt VisTable
		if err := rows.Scan(&vt.TableName, &vt.FileName); err != nil {
			return nil, err
		}
		out = append(out, vt)
	}
	return out, rows.Err()
}

// LogEvent appends a row to the course logging table. Fire and forget:
// callers log the returned error and move on, a full logging table must
// never stall the pipeline.
func (s Store) LogEvent(ctx context.Context, slug string, version int, fileName, message, detail string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO course_logging
			(course_name_fl, version, file_name, logged_at, message, detail)
		VALUES (?, ?, ?, ?, ?, ?)`,
		slug, fmt.Sprint(version), fileName,
		timezone.Now().Format(time.RFC3339), message, detail,
	)
	return err
}

func (s Store) LogError(ctx context.Context, message string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO error_logging (logged_at, message) VALUES (?, ?)`,
		timezone.Now().Format(time.RFC3339), message,
	)
	return err
}

type StepRow struct {
	CourseId     int64
	StepNumber   string
	Title        string
	Type         string
	Duration     sql.NullString
	DurationSecs sql.NullFloat64
	WeekLabel    string
	WeekDatetime string
	WeekDate     string
	WeekHeading  string
	StepUrl      string
	StepContent  string
}

// ReplaceStepRows swaps out the step details of a course for a freshly
// scraped set, in one transaction.
func (s Store) ReplaceStepRows(ctx context.Context, courseId int64, steps []StepRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM course_information_details WHERE course_id = ?`, courseId)
	if err != nil {
		return err
	}
	for _, row := range steps {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO course_information_details
				(course_id, step_number, title, type, duration, duration_secs,
				 week_label, week_datetime, week_date, week_heading,
				 step_url, step_content)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			courseId, row.StepNumber, row.Title, row.Type,
			row.Duration, row.DurationSecs,
			row.WeekLabel, row.WeekDatetime, row.WeekDate, row.WeekHeading,
			row.StepUrl, row.StepContent,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}
