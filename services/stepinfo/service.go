// Package stepinfo turns scraped step records into one ordered
// step_info table per course run, and loads the written tables into
// the analytics store.
package stepinfo

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"fldata/lib/flstore"
	"fldata/lib/scrapers/futurelearn/steps"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/stepinfo")

type Service struct {
	Steps     steps.Client
	OutputDir string
}

func NewService(stepsClient steps.Client, outputDir string) Service {
	return Service{Steps: stepsClient, OutputDir: outputDir}
}

var csvHeader = []string{
	"step_number", "title", "type", "duration", "duration_secs",
	"week_label", "week_datetime", "week_date", "week_heading",
	"step_url", "step_content",
}

func outputFilename(slug string, version int) string {
	return fmt.Sprintf("%s-%d-step_info.csv", slug, version)
}

// Export scrapes the steps of every given course run and writes one
// `{slug}-{version}-step_info.csv` per run. Runs whose output file
// already exists are skipped, a re-run only fills in the gaps. A run
// that fails to scrape is logged and the remaining runs still go
// through.
func (s Service) Export(ctx context.Context, courses []flstore.CourseRef) error {
	ctx, span := tracer.Start(ctx, "stepinfo:Export")
	defer span.End()

	err := os.MkdirAll(s.OutputDir, 0o755)
	if err != nil {
		return err
	}

	for _, course := range courses {
		path := filepath.Join(s.OutputDir, outputFilename(course.Slug, course.Version))
		if _, err := os.Stat(path); err == nil {
			slog.InfoContext(ctx, "found existing step_info file, skipping",
				"slug", course.Slug, "version", course.Version, "path", path)
			continue
		}

		slog.InfoContext(ctx, "processing course", "slug", course.Slug, "version", course.Version)

		scraped, err := s.Steps.CourseSteps(ctx, course.Slug, course.Version)
		if err != nil {
			slog.ErrorContext(ctx, "failed to scrape course steps, moving to the next course",
				"slug", course.Slug, "version", course.Version, "err", err)
			span.RecordError(err)
			continue
		}
		if len(scraped) == 0 {
			slog.WarnContext(ctx, "course has 0 steps, not writing out a file",
				"slug", course.Slug, "version", course.Version)
			continue
		}

		SortSteps(scraped)

		err = writeStepFile(path, scraped)
		if err != nil {
			slog.ErrorContext(ctx, "failed to write step_info file",
				"path", path, "err", err)
			span.RecordError(err)
			continue
		}
		slog.InfoContext(ctx, "created step_info file", "path", path, "rows", len(scraped))
	}
	return nil
}

// SortSteps orders concatenated week tables by week date. Week pages
// are discovered in URL order, which is not week order; the stable
// sort keeps each week's steps in original discovery order, which is
// the tie-break the step ordinals themselves cannot provide.
func SortSteps(list []steps.Step) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].WeekDatetime < list[j].WeekDatetime
	})
}

func writeStepFile(path string, list []steps.Step) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return err
	}
	for _, step := range list {
		duration := ""
		durationSecs := ""
		if step.Type == "Video" {
			duration = step.Duration
			durationSecs = strconv.Itoa(step.DurationSecs)
		}
		err := w.Write([]string{
			step.Number, step.Title, step.Type, duration, durationSecs,
			step.WeekLabel, step.WeekDatetime, step.WeekDate, step.WeekHeading,
			step.Url, step.Content,
		})
		if err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// LoadToStore walks the output directory and replaces the
// course_information_details rows of every course run a step_info
// file exists for. The slug and version are parsed back out of the
// filename.
func LoadToStore(ctx context.Context, store flstore.Store, outputDir string) error {
	ctx, span := tracer.Start(ctx, "stepinfo:LoadToStore")
	defer span.End()

	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), "-step_info.csv") {
			continue
		}
		slug, version, err := parseFilename(entry.Name())
		if err != nil {
			slog.WarnContext(ctx, "skipping unrecognized file", "name", entry.Name(), "err", err)
			continue
		}

		courseId, err := store.CourseId(ctx, slug, version)
		if errors.Is(err, flstore.ErrCourseNotFound) {
			slog.WarnContext(ctx, "course is not in the store, skipping its step_info file",
				"slug", slug, "version", version)
			continue
		}
		if err != nil {
			return err
		}

		rows, err := readStepFile(filepath.Join(outputDir, entry.Name()), courseId)
		if err != nil {
			slog.ErrorContext(ctx, "failed to read step_info file",
				"name", entry.Name(), "err", err)
			span.RecordError(err)
			continue
		}
		err = store.ReplaceStepRows(ctx, courseId, rows)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to load step rows")
			return err
		}
		slog.InfoContext(ctx, "loaded step_info file",
			"slug", slug, "version", version, "rows", len(rows))
	}
	return nil
}

// parseFilename recovers (slug, version) from
// `{slug}-{version}-step_info.csv`; slugs contain hyphens themselves
// so the version is the last hyphenated field before the suffix.
func parseFilename(name string) (string, int, error) {
	base := strings.TrimSuffix(name, "-step_info.csv")
	cut := strings.LastIndex(base, "-")
	if cut < 1 {
		return "", 0, fmt.Errorf("filename %q does not look like a step_info file", name)
	}
	version, err := strconv.Atoi(base[cut+1:])
	if err != nil {
		return "", 0, fmt.Errorf("filename %q carries no run version: %w", name, err)
	}
	return base[:cut], version, nil
}

func readStepFile(path string, courseId int64) ([]flstore.StepRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 1 {
		return nil, nil
	}

	rows := make([]flstore.StepRow, 0, len(records)-1)
	for _, rec := range records[1:] {
		if len(rec) != len(csvHeader) {
			return nil, fmt.Errorf("row has %d fields, expected %d", len(rec), len(csvHeader))
		}
		row := flstore.StepRow{
			CourseId:     courseId,
			StepNumber:   rec[0],
			Title:        rec[1],
			Type:         rec[2],
			WeekLabel:    rec[5],
			WeekDatetime: rec[6],
			WeekDate:     rec[7],
			WeekHeading:  rec[8],
			StepUrl:      rec[9],
			StepContent:  rec[10],
		}
		if rec[3] != "" {
			row.Duration = sql.NullString{String: rec[3], Valid: true}
		}
		if rec[4] != "" {
			secs, err := strconv.ParseFloat(rec[4], 64)
			if err != nil {
				return nil, fmt.Errorf("bad duration_secs %q: %w", rec[4], err)
			}
			row.DurationSecs = sql.NullFloat64{Float64: secs, Valid: true}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
