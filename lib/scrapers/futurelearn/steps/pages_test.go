package steps

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const todoFixture = `
<html><body>
<nav>
  <div class="m-run-progress-nav__itembox__label">Week</div>
  <div class="m-run-progress-nav__itembox__number">1</div>
  <time class="date" datetime="2016-01-11">11 Jan</time>
  <div class="m-run-progress-nav__itembox__label">Week</div>
  <div class="m-run-progress-nav__itembox__number">2</div>
  <time class="date" datetime="2016-01-18">18 Jan</time>
</nav>
<a href="/courses/data-science/3/todo/1042">Week 2</a>
<a href="/courses/data-science/3/todo/987">Week 1</a>
<a href="/courses/data-science/3/todo/1042">Week 2 again</a>
<a href="/courses/other-course/1/todo/5">unrelated</a>
</body></html>`

func TestTodoPage(t *testing.T) {
	page, err := parseTodoPage([]byte(todoFixture))
	require.NoError(t, err)

	// duplicates collapse, order of first sighting is kept, other
	// courses never leak in
	urls := page.weekUrls("data-science", 3)
	require.Equal(t, []string{
		"/courses/data-science/3/todo/1042",
		"/courses/data-science/3/todo/987",
	}, urls)

	index := page.weekIndex()
	require.Len(t, index, 2)
	require.Equal(t, "Week", index[0].label)
	require.Equal(t, "1", index[0].number)
	require.Equal(t, "2016-01-11", index[0].datetime)
	require.Equal(t, "11 Jan", index[0].date)
	require.Equal(t, "2016-01-18", index[1].datetime)
}

const weekFixture = `
<html><body>
<h1><span class="u-hidden-small">Week 2: Getting started</span></h1>
<div id="main-content">
<ol><li><ol>
  <li><a href="https://www.futurelearn.com/courses/data-science/3/steps/111">
    <span><div>2.1</div></span>
    <span class="m-composite-link__primary">Welcome back</span>
    <span class="m-composite-link__secondary type">video (02:15)</span>
  </a></li>
  <li><a href="https://www.futurelearn.com/courses/data-science/3/steps/112">
    <span><div>2.2</div></span>
    <span class="m-composite-link__primary">Reading</span>
    <span class="m-composite-link__secondary type">article</span>
  </a></li>
</ol></li></ol>
</div>
</body></html>`

func TestWeekPage(t *testing.T) {
	page, err := parseWeekPage([]byte(weekFixture))
	require.NoError(t, err)

	require.Equal(t, "Week 2: Getting started", page.heading())

	number, err := page.weekNumber()
	require.NoError(t, err)
	require.Equal(t, 2, number)

	listed := page.steps()
	require.Len(t, listed, 2)
	require.Equal(t, "2.1", listed[0].number)
	require.Equal(t, "Welcome back", listed[0].title)
	require.Equal(t, "video (02:15)", listed[0].assetType)
	require.Equal(t, "https://www.futurelearn.com/courses/data-science/3/steps/111", listed[0].href)
	require.Equal(t, "article", listed[1].assetType)
}

func TestStepPageContent(t *testing.T) {
	primary := `
<html><body><div id="main-content"><article><section>
<div>
  <div>first</div>
  <div>
    <div>
      <div>inner first</div>
      <div><p>the actual content</p></div>
    </div>
  </div>
</div>
</section></article></div></body></html>`

	page, err := parseStepPage([]byte(primary))
	require.NoError(t, err)
	require.Contains(t, page.content(), "the actual content")

	// pages with neither content location report the error marker
	page, err = parseStepPage([]byte(`<html><body><p>nothing here</p></body></html>`))
	require.NoError(t, err)
	require.Equal(t, ContentErrorMarker, page.content())
}
