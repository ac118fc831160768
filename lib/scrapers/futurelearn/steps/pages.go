package steps

// Selector logic for the three page types the step pipeline touches.
// Same deal as the admin package: when FutureLearn moves its markup
// around, the fix should stay inside this file.

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// todoPage is the per-run landing page ("to-do" view). It references
// every week page and carries the week/date side index.
type todoPage struct {
	doc  *goquery.Document
	body []byte
}

func parseTodoPage(body []byte) (todoPage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(body))
	if err != nil {
		return todoPage{}, err
	}
	return todoPage{doc: doc, body: body}, nil
}

// weekUrls returns the distinct set of week paths referenced anywhere
// on the landing page. The URL numbering is not monotonic in week
// order, ordering is reconstructed later from the week dates.
func (p todoPage) weekUrls(slug string, version int) []string {
	pattern := regexp.MustCompile(fmt.Sprintf(
		`/courses/%s/%d/todo/[0-9]+`,
		regexp.QuoteMeta(slug), version,
	))
	matches := pattern.FindAll(p.body, -1)

	seen := map[string]bool{}
	var urls []string
	for _, m := range matches {
		u := string(m)
		if seen[u] {
			continue
		}
		seen[u] = true
		urls = append(urls, u)
	}
	return urls
}

// weekIndexEntry is one entry of the side index, stored in proper week
// order (index 0 = week 1).
type weekIndexEntry struct {
	label    string // e.g. "Week"
	number   string // e.g. "1"
	datetime string // e.g. "2016-01-11"
	date     string // e.g. "11 Jan"
}

func (p todoPage) weekIndex() []weekIndexEntry {
	var labels, numbers, datetimes, dates []string
	p.doc.Find(".m-run-progress-nav__itembox__label").Each(func(i int, sel *goquery.Selection) {
		labels = append(labels, strings.TrimSpace(sel.Text()))
	})
	p.doc.Find(".m-run-progress-nav__itembox__number").Each(func(i int, sel *goquery.Selection) {
		numbers = append(numbers, strings.TrimSpace(sel.Text()))
	})
	p.doc.Find(".date").Each(func(i int, sel *goquery.Selection) {
		datetimes = append(datetimes, sel.AttrOr("datetime", ""))
		dates = append(dates, strings.TrimSpace(sel.Text()))
	})

	n := len(labels)
	if len(numbers) < n {
		n = len(numbers)
	}
	if len(datetimes) < n {
		n = len(datetimes)
	}

	out := make([]weekIndexEntry, n)
	for i := 0; i < n; i++ {
		out[i] = weekIndexEntry{
			label:    labels[i],
			number:   numbers[i],
			datetime: datetimes[i],
			date:     dates[i],
		}
	}
	return out
}

// weekPage is one /todo/{n} page: a heading plus the list of steps.
type weekPage struct {
	doc *goquery.Document
}

func parseWeekPage(body []byte) (weekPage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(body))
	if err != nil {
		return weekPage{}, err
	}
	return weekPage{doc: doc}, nil
}

// heading returns the full hidden heading, e.g. "Week 6: Conclusion".
func (p weekPage) heading() string {
	return strings.TrimSpace(p.doc.Find(".u-hidden-small").First().Text())
}

// weekNumber pulls the numeric week index out of the heading, which is
// how a week page is related back to the side index: the URL number
// cannot be trusted for this.
func (p weekPage) weekNumber() (int, error) {
	heading := p.heading()
	before, _, found := strings.Cut(heading, ":")
	if !found {
		before = heading
	}
	number := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(before), "Week"))
	n, err := strconv.Atoi(number)
	if err != nil {
		return 0, fmt.Errorf("failed to parse week heading %q: %w", heading, err)
	}
	return n, nil
}

// listedStep is one step row of a week page, before its content page
// has been fetched.
type listedStep struct {
	number    string // ordinal label, e.g. "1.4"
	title     string
	assetType string // raw label, e.g. "video (01:28)"
	href      string
}

func (p weekPage) steps() []listedStep {
	var out []listedStep
	p.doc.Find("#main-content ol li ol li > a").Each(func(i int, sel *goquery.Selection) {
		out = append(out, listedStep{
			number:    strings.TrimSpace(sel.Find("span div").First().Text()),
			title:     strings.TrimSpace(sel.Find(".m-composite-link__primary").First().Text()),
			assetType: strings.TrimSpace(sel.Find(".m-composite-link__secondary.type").First().Text()),
			href:      sel.AttrOr("href", ""),
		})
	})
	return out
}

// ContentErrorMarker is recorded verbatim as a step's content when
// neither content location yields anything, so a broken page shows up
// in the output table instead of killing the scrape.
const ContentErrorMarker = "Got error"

// stepPage is a single step's content page. The content fragment sits
// in one of two locations depending on the step type; the primary one
// is tried first.
type stepPage struct {
	doc *goquery.Document
}

func parseStepPage(body []byte) (stepPage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(body))
	if err != nil {
		return stepPage{}, err
	}
	return stepPage{doc: doc}, nil
}

const (
	primaryContentSelector  = "#main-content article section > div > div:nth-of-type(2) > div > div:nth-of-type(2)"
	fallbackContentSelector = "#main-content article section > div > div:nth-of-type(2) > div > div > div:nth-of-type(3)"
)

func (p stepPage) content() string {
	for _, selector := range []string{primaryContentSelector, fallbackContentSelector} {
		sel := p.doc.Find(selector).First()
		if sel.Length() == 0 {
			continue
		}
		html, err := goquery.OuterHtml(sel)
		if err != nil || strings.TrimSpace(html) == "" {
			continue
		}
		return html
	}
	return ContentErrorMarker
}
