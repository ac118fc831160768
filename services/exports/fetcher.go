// Package exports downloads the per-run dataset exports, loads them
// into the per-run databases and hands the finished runs to the
// external visualization scripts.
package exports

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"fldata/lib/flstore"
	"fldata/lib/scrapers/futurelearn/core"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/exports")

type Service struct {
	Core  *core.Client
	Store flstore.Store

	// where downloaded CSVs land
	OutputDir string
	// where the per-run sqlite files live
	DatabaseDir string
	// one subfolder per course run instead of a flat output dir
	UseCourseFolders bool
	// CREATE TABLE statement per dataset type, keyed by file_name
	SqlTemplates map[string]string
}

func exportPath(slug string, version int, fileName string) string {
	return fmt.Sprintf("/admin/courses/%s/%d/stats-dashboard/data/%s", slug, version, fileName)
}

func exportFilename(slug string, version int, fileName string) string {
	return fmt.Sprintf("%s-%d_%s.csv", slug, version, strings.ReplaceAll(fileName, "_", "-"))
}

// Download fetches every dataset of every selected course run, writes
// the CSVs to disk and loads them into the run's database. A dataset
// that fails at any stage is recorded in the returned Outcomes, logged
// to the store's error table and skipped; the pass always continues
// with the next dataset.
func (s Service) Download(ctx context.Context, selected []flstore.CourseRef) (*Outcomes, error) {
	ctx, span := tracer.Start(ctx, "exports:Download")
	defer span.End()

	err := os.MkdirAll(s.OutputDir, 0o755)
	if err != nil {
		return nil, err
	}
	err = os.MkdirAll(s.DatabaseDir, 0o755)
	if err != nil {
		return nil, err
	}

	files, err := s.Store.ActiveCourseFiles(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list active course files")
		return nil, err
	}
	files = retainSelected(files, selected)

	columns, err := s.Store.FileColumns(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list file columns")
		return nil, err
	}
	columnsByFile := map[string][]flstore.FileColumn{}
	for _, col := range columns {
		columnsByFile[col.FileName] = append(columnsByFile[col.FileName], col)
	}

	outcomes := NewOutcomes()
	runs := map[fetchKey]flstore.RunDB{}
	defer func() {
		for _, run := range runs {
			run.Close()
		}
	}()

	// provisioning pass: every dataset table of every selected run is
	// created from its template or truncated before the first download,
	// so a failed fetch leaves an empty table behind, never rows from a
	// previous pass
	for _, file := range files {
		key := fetchKey{Slug: file.Slug, Version: file.Version}
		run, open := runs[key]
		if !open {
			run, err = flstore.OpenCourseRun(s.DatabaseDir, file.Slug, file.Version)
			if err != nil {
				slog.ErrorContext(ctx, "failed to open course run database, skipping the whole run",
					"slug", file.Slug, "version", file.Version, "err", err)
				span.RecordError(err)
				outcomes.RecordFailure(file.Slug, file.Version, file.FileName)
				continue
			}
			runs[key] = run
		}

		err := s.provisionTable(ctx, run, file.FileName)
		if err != nil {
			slog.ErrorContext(ctx, "failed to provision dataset table, its download is skipped",
				"slug", file.Slug, "version", file.Version, "file", file.FileName, "err", err)
			span.RecordError(err)
			outcomes.RecordFailure(file.Slug, file.Version, file.FileName)
			s.logError(ctx, fmt.Sprintf("provision %s/%d %s: %v",
				file.Slug, file.Version, file.FileName, err))
		}
	}

	for _, file := range files {
		if outcomes.IsFailed(file.Slug, file.Version, file.FileName) {
			continue
		}
		run, open := runs[fetchKey{Slug: file.Slug, Version: file.Version}]
		if !open {
			continue
		}

		err := s.fetchOne(ctx, run, file, columnsByFile[file.FileName])
		if err != nil {
			slog.ErrorContext(ctx, "failed to fetch dataset, moving to the next one",
				"slug", file.Slug, "version", file.Version, "file", file.FileName, "err", err)
			span.RecordError(err)
			outcomes.RecordFailure(file.Slug, file.Version, file.FileName)
			s.logError(ctx, fmt.Sprintf("fetch %s/%d %s: %v",
				file.Slug, file.Version, file.FileName, err))
		}
	}
	return outcomes, nil
}

func (s Service) fetchOne(ctx context.Context, run flstore.RunDB, file flstore.CourseFile, columns []flstore.FileColumn) error {
	ctx, span := tracer.Start(ctx, "exports:fetchOne")
	defer span.End()
	span.SetAttributes(
		attribute.String("slug", file.Slug),
		attribute.Int("version", file.Version),
		attribute.String("file", file.FileName),
	)

	s.logEvent(ctx, file, "download", "started")
	body, err := s.download(ctx, file)
	if err != nil {
		return err
	}
	s.logEvent(ctx, file, "download", "completed")

	path, err := s.writeExport(file, body)
	if err != nil {
		return err
	}
	s.logEvent(ctx, file, "write", path)

	s.logEvent(ctx, file, "load", "started")
	rows, err := loadExport(ctx, run, file.FileName, columns, path, s.SqlTemplates)
	if err != nil {
		return err
	}
	s.logEvent(ctx, file, "load", fmt.Sprintf("completed, %d rows", rows))
	slog.InfoContext(ctx, "loaded dataset",
		"slug", file.Slug, "version", file.Version, "file", file.FileName, "rows", rows)
	return nil
}

func (s Service) download(ctx context.Context, file flstore.CourseFile) ([]byte, error) {
	res, err := s.Core.Http.R().
		SetContext(ctx).
		Get(exportPath(file.Slug, file.Version, file.FileName))
	if err != nil {
		return nil, err
	}
	if res.IsError() {
		return nil, fmt.Errorf("export endpoint returned %s", res.Status())
	}
	return res.Body(), nil
}

func (s Service) writeExport(file flstore.CourseFile, body []byte) (string, error) {
	dir := s.OutputDir
	if s.UseCourseFolders {
		dir = filepath.Join(dir, fmt.Sprintf("%s-%d", file.Slug, file.Version))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", err
		}
	}
	path := filepath.Join(dir, exportFilename(file.Slug, file.Version, file.FileName))
	return path, os.WriteFile(path, body, 0o644)
}

// provisionTable makes sure the dataset table exists and is empty. A
// missing table is created from its template, an existing one is
// truncated so the load replaces its contents.
func (s Service) provisionTable(ctx context.Context, run flstore.RunDB, fileName string) error {
	exists, err := run.TableExists(ctx, fileName)
	if err != nil {
		return err
	}
	if exists {
		return run.Truncate(ctx, fileName)
	}

	template, known := s.SqlTemplates[fileName]
	if !known {
		return fmt.Errorf("no table template configured for dataset %q", fileName)
	}
	_, err = run.DB.ExecContext(ctx, template)
	return err
}

func retainSelected(files []flstore.CourseFile, selected []flstore.CourseRef) []flstore.CourseFile {
	wanted := map[flstore.CourseRef]bool{}
	for _, ref := range selected {
		wanted[ref] = true
	}
	var out []flstore.CourseFile
	for _, file := range files {
		if wanted[flstore.CourseRef{Slug: file.Slug, Version: file.Version}] {
			out = append(out, file)
		}
	}
	return out
}

func (s Service) logEvent(ctx context.Context, file flstore.CourseFile, message, detail string) {
	err := s.Store.LogEvent(ctx, file.Slug, file.Version, file.FileName, message, detail)
	if err != nil {
		slog.WarnContext(ctx, "failed to write course log row", "err", err)
	}
}

func (s Service) logError(ctx context.Context, message string) {
	err := s.Store.LogError(ctx, message)
	if err != nil {
		slog.WarnContext(ctx, "failed to write error log row", "err", err)
	}
}
