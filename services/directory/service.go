// Package directory runs the course/run discovery scrape and hands the
// results to the analytics store through two fixed-header CSV files,
// CourseSlugData.csv and CourseSlugFileInfo.csv.
package directory

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"fldata/lib/flstore"
	"fldata/lib/scrapers/futurelearn/admin"
	"fldata/lib/timezone"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/directory")

const (
	CourseDataFile = "CourseSlugData.csv"
	FileInfoFile   = "CourseSlugFileInfo.csv"
)

var courseDataHeader = []string{
	"course_name", "course_name_fl", "duration_week", "end_date",
	"start_date", "version", "active", "status", "organisation",
}

var fileInfoHeader = []string{
	"course_name_fl", "version", "file_name", "course_id", "file_id",
}

type Service struct {
	Admin     admin.Client
	Store     flstore.Store
	OutputDir string
}

func NewService(adminClient admin.Client, store flstore.Store, outputDir string) Service {
	return Service{Admin: adminClient, Store: store, OutputDir: outputDir}
}

const dateLayout = "2006-01-02"

// Export scrapes every organisation's course listing and writes the
// two hand-off CSVs. Runs without a single downloadable dataset are
// excluded. Course ids referenced by the file-info CSV are resolved
// against the store, inserting the course first when it is new.
func (s Service) Export(ctx context.Context, organisations []string) error {
	ctx, span := tracer.Start(ctx, "directory:Export")
	defer span.End()

	err := os.MkdirAll(s.OutputDir, 0o755)
	if err != nil {
		return err
	}

	fileIds, err := s.Store.FileInformation(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list file information")
		return err
	}

	var runs []admin.CourseRun
	for _, org := range organisations {
		slog.InfoContext(ctx, "retrieving courses", "organisation", org)
		scraped, err := s.Admin.Courses(ctx, org)
		if err != nil {
			slog.ErrorContext(ctx, "failed to scrape organisation, moving to the next one",
				"organisation", org, "err", err)
			span.RecordError(err)
			continue
		}
		for _, run := range scraped {
			if len(run.Datasets) == 0 {
				continue
			}
			runs = append(runs, run)
		}
	}

	err = s.writeCourseData(runs)
	if err != nil {
		return err
	}
	return s.writeFileInfo(ctx, runs, fileIds)
}

func (s Service) writeCourseData(runs []admin.CourseRun) error {
	f, err := os.Create(filepath.Join(s.OutputDir, CourseDataFile))
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(courseDataHeader); err != nil {
		return err
	}
	for _, run := range runs {
		err := w.Write([]string{
			run.Name, run.Slug,
			strconv.Itoa(run.DurationWeeks),
			run.EndDate.Format(dateLayout),
			run.StartDate.Format(dateLayout),
			strconv.Itoa(run.Version),
			"1", run.Status, run.Organisation,
		})
		if err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func (s Service) writeFileInfo(ctx context.Context, runs []admin.CourseRun, fileIds map[string]int64) error {
	f, err := os.Create(filepath.Join(s.OutputDir, FileInfoFile))
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(fileInfoHeader); err != nil {
		return err
	}
	for _, run := range runs {
		courseId, err := s.resolveCourseId(ctx, run)
		if err != nil {
			slog.ErrorContext(ctx, "failed to resolve course id, skipping its datasets",
				"slug", run.Slug, "version", run.Version, "err", err)
			continue
		}
		for _, dataset := range run.Datasets {
			fileId, known := fileIds[dataset]
			if !known {
				slog.WarnContext(ctx, "dataset type is not in file_information, skipping",
					"dataset", dataset, "slug", run.Slug)
				continue
			}
			err := w.Write([]string{
				run.Slug, strconv.Itoa(run.Version), dataset,
				strconv.FormatInt(courseId, 10),
				strconv.FormatInt(fileId, 10),
			})
			if err != nil {
				return err
			}
		}
	}
	w.Flush()
	return w.Error()
}

func (s Service) resolveCourseId(ctx context.Context, run admin.CourseRun) (int64, error) {
	id, err := s.Store.CourseId(ctx, run.Slug, run.Version)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, flstore.ErrCourseNotFound) {
		return 0, err
	}

	err = s.Store.UpsertCourse(ctx, flstore.Course{
		Name:          run.Name,
		Slug:          run.Slug,
		DurationWeeks: run.DurationWeeks,
		StartDate:     run.StartDate,
		EndDate:       run.EndDate,
		Version:       run.Version,
		Active:        true,
		Status:        run.Status,
		Organisation:  run.Organisation,
	})
	if err != nil {
		return 0, err
	}
	return s.Store.CourseId(ctx, run.Slug, run.Version)
}

// LoadToStore replays the two hand-off CSVs through the store's
// upserts, the bulk-import stage the scrape itself stays decoupled
// from.
func LoadToStore(ctx context.Context, store flstore.Store, outputDir string) error {
	ctx, span := tracer.Start(ctx, "directory:LoadToStore")
	defer span.End()

	courses, err := readCSV(filepath.Join(outputDir, CourseDataFile), len(courseDataHeader))
	if err != nil {
		return err
	}
	for _, rec := range courses {
		course, err := courseFromRecord(rec)
		if err != nil {
			slog.ErrorContext(ctx, "skipping malformed course row", "row", rec, "err", err)
			continue
		}
		err = store.UpsertCourse(ctx, course)
		if err != nil {
			span.RecordError(err)
			return err
		}
	}
	slog.InfoContext(ctx, "loaded course information", "rows", len(courses))

	files, err := readCSV(filepath.Join(outputDir, FileInfoFile), len(fileInfoHeader))
	if err != nil {
		return err
	}
	for _, rec := range files {
		courseId, err := strconv.ParseInt(rec[3], 10, 64)
		if err != nil {
			slog.ErrorContext(ctx, "skipping malformed file row", "row", rec, "err", err)
			continue
		}
		fileId, err := strconv.ParseInt(rec[4], 10, 64)
		if err != nil {
			slog.ErrorContext(ctx, "skipping malformed file row", "row", rec, "err", err)
			continue
		}
		err = store.InsertCourseFile(ctx, courseId, fileId)
		if err != nil {
			span.RecordError(err)
			return err
		}
	}
	slog.InfoContext(ctx, "loaded course file information", "rows", len(files))
	return nil
}

func courseFromRecord(rec []string) (flstore.Course, error) {
	duration, err := strconv.Atoi(rec[2])
	if err != nil {
		return flstore.Course{}, fmt.Errorf("bad duration %q: %w", rec[2], err)
	}
	endDate, err := time.ParseInLocation(dateLayout, rec[3], timezone.Location)
	if err != nil {
		return flstore.Course{}, err
	}
	startDate, err := time.ParseInLocation(dateLayout, rec[4], timezone.Location)
	if err != nil {
		return flstore.Course{}, err
	}
	version, err := strconv.Atoi(rec[5])
	if err != nil {
		return flstore.Course{}, fmt.Errorf("bad version %q: %w", rec[5], err)
	}
	return flstore.Course{
		Name:          rec[0],
		Slug:          rec[1],
		DurationWeeks: duration,
		StartDate:     startDate,
		EndDate:       endDate,
		Version:       version,
		Active:        rec[6] == "1",
		Status:        rec[7],
		Organisation:  rec[8],
	}, nil
}

func readCSV(path string, fields int) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = fields
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 1 {
		return nil, nil
	}
	return records[1:], nil
}
