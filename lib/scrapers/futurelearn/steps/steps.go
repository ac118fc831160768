// Package steps walks a course run's week pages and extracts the
// ordered step records: ordinal, title, asset type, duration and the
// raw content fragment of every learning item.
package steps

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"fldata/lib/scrapers/futurelearn/core"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/futurelearn/steps")

var ErrEnrolFailed = fmt.Errorf("could not automatically enrol into the course")

type Client struct {
	Core *core.Client
	// how long to let the site settle after a simulated form submit
	// before re-requesting the original url
	WaitTime time.Duration
}

func NewClient(coreClient *core.Client, waitTime time.Duration) Client {
	return Client{Core: coreClient, WaitTime: waitTime}
}

// Step is one learning item of a course run. Duration is the raw
// running-time text and DurationSecs its decoded value; both are only
// meaningful for video steps (DurationSecs is -1 otherwise).
type Step struct {
	Number       string
	Title        string
	Type         string
	Duration     string
	DurationSecs int
	Url          string
	Content      string

	WeekLabel    string
	WeekNumber   int
	WeekDatetime string
	WeekDate     string
	WeekHeading  string
}

// CourseSteps scrapes every week of a course run. Steps come back in
// discovery order, one week after another, with the week URLs visited
// in the order the landing page listed them: NOT week order. Callers
// sort by week date before emitting anything.
//
// A week or step that fails to scrape is logged and skipped; only a
// failure to reach the landing page itself aborts the course run.
func (c Client) CourseSteps(ctx context.Context, slug string, version int) ([]Step, error) {
	ctx, span := tracer.Start(ctx, "client:CourseSteps")
	defer span.End()
	span.SetAttributes(
		attribute.String("slug", slug),
		attribute.Int("version", version),
	)

	todoUrl := fmt.Sprintf("/courses/%s/%d/todo/", slug, version)
	body, err := c.fetchLanding(ctx, slug, version, todoUrl)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch course landing page")
		return nil, err
	}

	page, err := parseTodoPage(body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse course landing page")
		return nil, err
	}

	weekUrls := page.weekUrls(slug, version)
	index := page.weekIndex()
	slog.InfoContext(ctx, "discovered weeks", "slug", slug, "version", version, "count", len(weekUrls))

	var out []Step
	for _, weekUrl := range weekUrls {
		weekSteps, err := c.scrapeWeek(ctx, slug, version, weekUrl, index)
		if err != nil {
			slog.WarnContext(ctx, "failed to scrape week, moving to the next week url",
				"url", weekUrl, "err", err)
			continue
		}
		if len(weekSteps) == 0 {
			slog.InfoContext(ctx, "week has no steps", "slug", slug, "url", weekUrl)
			continue
		}
		out = append(out, weekSteps...)
	}
	return out, nil
}

// fetchLanding requests the run's to-do page and untangles the
// redirect chain an unauthenticated or unenrolled session lands in:
// a bounce to the register page means re-submitting the sign-in form,
// a bounce to quick_enrol means submitting the one-click enroll form.
// Each recovery waits the configured settle time and retries the
// original url exactly once.
func (c Client) fetchLanding(ctx context.Context, slug string, version int, todoUrl string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "client:fetchLanding")
	defer span.End()

	res, err := c.Core.Http.R().
		SetContext(ctx).
		Get(todoUrl)
	if err != nil {
		return nil, err
	}

	landedUrl := finalUrl(res)
	if strings.Contains(landedUrl, "register") {
		slog.InfoContext(ctx, "redirected to register page, signing in again",
			"slug", slug, "version", version)
		err := c.Core.Relogin(ctx)
		if err != nil {
			return nil, err
		}
		time.Sleep(c.WaitTime)

		res, err = c.Core.Http.R().
			SetContext(ctx).
			Get(todoUrl)
		if err != nil {
			return nil, err
		}
		landedUrl = c.finalOrOriginal(res, todoUrl)
	}

	if strings.Contains(landedUrl, "quick_enrol") {
		slog.InfoContext(ctx, "enrolling into the course", "slug", slug, "version", version)
		err := c.enrol(ctx, res)
		if err != nil {
			slog.WarnContext(ctx,
				"having a problem automatically enrolling into the course, you must manually enrol the scraping account",
				"slug", slug, "version", version, "err", err)
			return nil, ErrEnrolFailed
		}
		time.Sleep(c.WaitTime)

		res, err = c.Core.Http.R().
			SetContext(ctx).
			Get(todoUrl)
		if err != nil {
			return nil, err
		}
	}

	if res.IsError() {
		return nil, fmt.Errorf("failed to get %q: %s", finalUrl(res), res.Status())
	}
	return res.Body(), nil
}

func finalUrl(res *resty.Response) string {
	if res.RawResponse != nil && res.RawResponse.Request != nil && res.RawResponse.Request.URL != nil {
		return res.RawResponse.Request.URL.String()
	}
	return res.Request.URL
}

func (c Client) finalOrOriginal(res *resty.Response, original string) string {
	u := finalUrl(res)
	if u == "" {
		return original
	}
	return u
}

// enrol submits the one-click enroll form sitting on the quick_enrol
// page the session was redirected to.
func (c Client) enrol(ctx context.Context, res *resty.Response) error {
	if res.IsError() {
		return fmt.Errorf("quick_enrol page returned %s", res.Status())
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return err
	}

	form := doc.Find("input.a-button[type='submit']").Closest("form")
	if form.Length() == 0 {
		return fmt.Errorf("could not find the enrol form")
	}
	action := form.AttrOr("action", finalUrl(res))

	submit, err := c.Core.Http.R().
		SetContext(ctx).
		SetFormData(core.FormFields(doc)).
		Post(action)
	if err != nil {
		return err
	}
	if submit.IsError() {
		return fmt.Errorf("enrol submit returned %s", submit.Status())
	}
	return nil
}

func (c Client) scrapeWeek(ctx context.Context, slug string, version int, weekUrl string, index []weekIndexEntry) ([]Step, error) {
	ctx, span := tracer.Start(ctx, "client:scrapeWeek")
	defer span.End()
	span.SetAttributes(attribute.String("url", weekUrl))

	slog.InfoContext(ctx, "processing week url", "url", weekUrl)

	res, err := c.Core.Http.R().
		SetContext(ctx).
		Get(weekUrl)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch week page")
		return nil, err
	}
	if res.IsError() {
		span.SetStatus(codes.Error, res.Status())
		return nil, fmt.Errorf("failed to get %q: %s", weekUrl, res.Status())
	}

	page, err := parseWeekPage(res.Body())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse week page html")
		return nil, err
	}

	weekNumber, err := page.weekNumber()
	if err != nil {
		return nil, err
	}
	if weekNumber < 1 || weekNumber > len(index) {
		return nil, fmt.Errorf("week %d is missing from the landing page side index", weekNumber)
	}
	entry := index[weekNumber-1]
	heading := page.heading()

	listed := page.steps()
	out := make([]Step, 0, len(listed))
	for _, item := range listed {
		assetType, duration, durationSecs, err := ParseAssetType(item.assetType)
		if err != nil {
			slog.WarnContext(ctx, "failed to parse asset type, skipping step",
				"url", item.href, "label", item.assetType, "err", err)
			continue
		}

		out = append(out, Step{
			Number:       item.number,
			Title:        item.title,
			Type:         assetType,
			Duration:     duration,
			DurationSecs: durationSecs,
			Url:          item.href,
			Content:      c.stepContent(ctx, item.href),
			WeekLabel:    fmt.Sprintf("%s %s", entry.label, entry.number),
			WeekNumber:   weekNumber,
			WeekDatetime: entry.datetime,
			WeekDate:     entry.date,
			WeekHeading:  heading,
		})
	}
	return out, nil
}

// stepContent fetches one step's page and extracts its content
// fragment. Never fails: a fetch or extraction problem records the
// error marker and the pipeline keeps going.
func (c Client) stepContent(ctx context.Context, stepUrl string) string {
	ctx, span := tracer.Start(ctx, "client:stepContent")
	defer span.End()
	span.SetAttributes(attribute.String("url", stepUrl))

	res, err := c.Core.Http.R().
		SetContext(ctx).
		Get(stepUrl)
	if err != nil || res.IsError() {
		slog.ErrorContext(ctx, "no content at step url", "url", stepUrl, "err", err)
		span.SetStatus(codes.Error, "failed to fetch step page")
		return ContentErrorMarker
	}

	page, err := parseStepPage(res.Body())
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse step page", "url", stepUrl, "err", err)
		span.SetStatus(codes.Error, "failed to parse step page html")
		return ContentErrorMarker
	}

	content := page.content()
	if content == ContentErrorMarker {
		slog.ErrorContext(ctx, "no content at step url", "url", stepUrl)
	}
	return content
}
