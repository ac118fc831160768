package admin

// Every selector the directory scrape depends on lives in this file,
// one extractor per page type. FutureLearn reshuffles its markup a few
// times a year; when that happens only the extractor for the affected
// page should need touching.

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"fldata/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

// courseListingPage is /admin/organisations/{org}/courses: one table
// per course, one tbody row per run.
type courseListingPage struct {
	doc *goquery.Document
}

func parseCourseListing(body []byte) (courseListingPage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(body))
	if err != nil {
		return courseListingPage{}, err
	}
	return courseListingPage{doc: doc}, nil
}

func (p courseListingPage) organisationTitle() string {
	return htmlutil.CleanText(p.doc.Find("div.m-action-bar__title").First().Text())
}

type listedRun struct {
	startDate      string
	status         string
	statsPath      string
	runDetailsPath string
}

type listedCourse struct {
	name string
	slug string
	runs []listedRun
}

func (p courseListingPage) courses() []listedCourse {
	var out []listedCourse
	p.doc.Find("table.m-table--manage-courses tbody").Each(func(i int, body *goquery.Selection) {
		anchor := body.Find("a").First()
		name := anchor.AttrOr("title", "")
		href := anchor.AttrOr("href", "")
		slug := strings.Split(strings.TrimPrefix(href, "/admin/courses/"), "/")[0]

		course := listedCourse{name: name, slug: slug}
		body.Find("tr").Each(func(j int, row *goquery.Selection) {
			spans := row.Find("span")
			if spans.Length() < 3 {
				return
			}
			course.runs = append(course.runs, listedRun{
				status:         strings.ToLower(strings.TrimSpace(spans.Eq(1).Text())),
				startDate:      strings.TrimSpace(spans.Eq(2).Text()),
				statsPath:      row.Find(`[title="View stats"]`).AttrOr("href", ""),
				runDetailsPath: row.Find(`[title="View run on FutureLearn"]`).AttrOr("href", ""),
			})
		})
		out = append(out, course)
	})
	return out
}

// runDetailsPage is the public run page; the only thing pulled off it
// is the "Duration N weeks" metadata label.
type runDetailsPage struct {
	doc *goquery.Document
}

func parseRunDetails(body []byte) (runDetailsPage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(body))
	if err != nil {
		return runDetailsPage{}, err
	}
	return runDetailsPage{doc: doc}, nil
}

func (p runDetailsPage) durationWeeks() (string, error) {
	duration := ""
	p.doc.Find("span.m-metadata__title").Each(func(i int, sel *goquery.Selection) {
		text := sel.Text()
		if strings.Contains(text, "Duration") {
			text = strings.ReplaceAll(text, "Duration", "")
			text = strings.ReplaceAll(text, "weeks", "")
			text = strings.ReplaceAll(text, "week", "")
			duration = strings.TrimSpace(text)
		}
	})
	if duration == "" {
		return "", fmt.Errorf("unable to parse duration")
	}
	return duration, nil
}

// statsDashboardPage is the stats dashboard of one run; the dataset
// download links sit in the only unclassed <ul> on the page.
type statsDashboardPage struct {
	doc *goquery.Document
}

func parseStatsDashboard(body []byte) (statsDashboardPage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(body))
	if err != nil {
		return statsDashboardPage{}, err
	}
	return statsDashboardPage{doc: doc}, nil
}

// the dataset type tag is a fixed path segment of the export url:
// /admin/courses/{slug}/{run}/stats-dashboard/data/{dataset}
const datasetPathSegment = 7

func (p statsDashboardPage) datasetTypes(ctx context.Context) []string {
	var out []string
	for _, anchor := range htmlutil.GetAnchors(ctx, p.doc.Find("ul:not([class]) li a")) {
		link, err := url.Parse(anchor.Href)
		if err != nil {
			continue
		}
		segments := strings.Split(link.Path, "/")
		if len(segments) <= datasetPathSegment {
			continue
		}
		out = append(out, segments[datasetPathSegment])
	}
	return out
}
