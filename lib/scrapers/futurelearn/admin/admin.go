// Package admin scrapes the organisation's administrative course
// listing: course/run discovery, run durations and the set of
// downloadable datasets per run.
package admin

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"fldata/lib/scrapers/futurelearn/core"
	"fldata/lib/timezone"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/futurelearn/admin")

var ErrNotFacilitator = fmt.Errorf("this account does not have facilitator privileges")

type Client struct {
	Core *core.Client
}

func NewClient(coreClient *core.Client) Client {
	return Client{Core: coreClient}
}

// CourseRun is one scheduled offering of a course as the admin listing
// describes it.
type CourseRun struct {
	Name          string
	Slug          string
	Status        string
	DurationWeeks int
	StartDate     time.Time
	EndDate       time.Time
	Version       int
	Organisation  string
	Datasets      []string
}

const startDateLayout = "02 Jan 2006"

// padStartDate zero-pads single-digit days so "9 May 2016" parses the
// same as "09 May 2016".
func padStartDate(s string) string {
	if len(s) == len(startDateLayout)-1 {
		return "0" + s
	}
	return s
}

func retainStatus(status string) bool {
	switch status {
	case "finished", "in progress", "upcoming":
		return true
	}
	return false
}

// Courses lists every retained course run of the organisation. A
// non-200 on the listing page means the session lacks facilitator
// privileges and nothing is returned. A malformed row is logged and
// skipped, it must never abort the rest of the scrape.
func (c Client) Courses(ctx context.Context, organisation string) ([]CourseRun, error) {
	ctx, span := tracer.Start(ctx, "client:Courses")
	defer span.End()
	span.SetAttributes(attribute.String("organisation", organisation))

	res, err := c.Core.Http.R().
		SetContext(ctx).
		Get(fmt.Sprintf("/admin/organisations/%s/courses", organisation))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch course listing")
		return nil, err
	}
	if res.IsError() {
		span.SetStatus(codes.Error, ErrNotFacilitator.Error())
		return nil, ErrNotFacilitator
	}

	page, err := parseCourseListing(res.Body())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse course listing html")
		return nil, err
	}
	slog.InfoContext(ctx, "scraping organisation", "organisation", organisation, "title", page.organisationTitle())

	var out []CourseRun
	for _, course := range page.courses() {
		slog.InfoContext(ctx, "found course", "slug", course.slug, "runs", len(course.runs))

		// runs are listed newest first, so the top row carries the
		// highest version number
		version := len(course.runs)
		for _, run := range course.runs {
			runVersion := version
			version--

			if !retainStatus(run.status) {
				continue
			}

			parsed, err := c.parseRun(ctx, course, run, runVersion, organisation)
			if err != nil {
				slog.ErrorContext(ctx, "failed to parse course run",
					"slug", course.slug, "version", runVersion, "err", err)
				continue
			}
			out = append(out, parsed)
		}
	}
	return out, nil
}

func (c Client) parseRun(ctx context.Context, course listedCourse, run listedRun, version int, organisation string) (CourseRun, error) {
	duration, err := c.RunDuration(ctx, run.runDetailsPath)
	if err != nil {
		return CourseRun{}, err
	}

	startDate, err := time.ParseInLocation(startDateLayout, padStartDate(run.startDate), timezone.Location)
	if err != nil {
		return CourseRun{}, fmt.Errorf("failed to parse start date %q: %w", run.startDate, err)
	}
	endDate := startDate.AddDate(0, 0, duration*7)

	datasets, err := c.Datasets(ctx, run.statsPath)
	if err != nil {
		return CourseRun{}, err
	}

	return CourseRun{
		Name:          course.name,
		Slug:          course.slug,
		Status:        strings.ToUpper(run.status),
		DurationWeeks: duration,
		StartDate:     startDate,
		EndDate:       endDate,
		Version:       version,
		Organisation:  organisation,
		Datasets:      datasets,
	}, nil
}

// RunDuration fetches the public run-details page and reads the
// duration label off it. Durations are deliberately not cached, the
// listing is only scraped a handful of times a day.
func (c Client) RunDuration(ctx context.Context, runDetailsPath string) (int, error) {
	ctx, span := tracer.Start(ctx, "client:RunDuration")
	defer span.End()

	res, err := c.Core.Http.R().
		SetContext(ctx).
		Get(runDetailsPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch run details")
		return 0, err
	}
	page, err := parseRunDetails(res.Body())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse run details html")
		return 0, err
	}
	text, err := page.durationWeeks()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	weeks, err := strconv.Atoi(text)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration %q: %w", text, err)
	}
	return weeks, nil
}

// Datasets fetches the run's stats dashboard and lists the type tags
// of its downloadable CSV exports.
func (c Client) Datasets(ctx context.Context, statsPath string) ([]string, error) {
	ctx, span := tracer.Start(ctx, "client:Datasets")
	defer span.End()

	res, err := c.Core.Http.R().
		SetContext(ctx).
		Get(statsPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch stats dashboard")
		return nil, err
	}
	page, err := parseStatsDashboard(res.Body())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse stats dashboard html")
		return nil, err
	}
	return page.datasetTypes(ctx), nil
}
