package directory

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"fldata/lib/flstore"
	"fldata/lib/scrapers/futurelearn/admin"
	"fldata/lib/scrapers/futurelearn/core"
	"fldata/lib/testutil"

	"github.com/stretchr/testify/require"
)

const listingFixture = `
<html><body>
<div class="m-action-bar__title">Example University</div>
<table class="m-table--manage-courses">
<tbody>
  <tr>
    <td><a title="Data Science" href="/admin/courses/data-science/3">Data Science</a></td>
    <td><span>x</span><span>in progress</span><span>9 May 2016</span></td>
    <td><a title="View stats" href="/admin/courses/data-science/3/stats-dashboard">stats</a>
        <a title="View run on FutureLearn" href="/courses/data-science/3">view</a></td>
  </tr>
</tbody>
</table>
<table class="m-table--manage-courses">
<tbody>
  <tr>
    <td><a title="Empty Course" href="/admin/courses/empty-course/1">Empty Course</a></td>
    <td><span>x</span><span>finished</span><span>11 Jan 2016</span></td>
    <td><a title="View stats" href="/admin/courses/empty-course/1/stats-dashboard">stats</a>
        <a title="View run on FutureLearn" href="/courses/empty-course/1">view</a></td>
  </tr>
</tbody>
</table>
</body></html>`

const runDetailsFixture = `
<html><body><span class="m-metadata__title">Duration 6 weeks</span></body></html>`

const statsFixture = `
<html><body>
<ul>
  <li><a href="/admin/courses/data-science/3/stats-dashboard/data/comments">comments</a></li>
  <li><a href="/admin/courses/data-science/3/stats-dashboard/data/enrolments">enrolments</a></li>
  <li><a href="/admin/courses/data-science/3/stats-dashboard/data/unknown_export">unknown</a></li>
</ul>
</body></html>`

func setupStore(t *testing.T) flstore.Store {
	setup, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "services/directory",
		DbSchema: flstore.Schema,
	})
	t.Cleanup(cleanup)
	store := flstore.NewStore(setup.DB)

	_, err := store.DB().Exec(`
		INSERT INTO file_information (file_name) VALUES ('comments'), ('enrolments')`)
	require.NoError(t, err)
	return store
}

func readRecords(t *testing.T, path string) [][]string {
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}

func TestExportAndLoad(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/organisations/example-uni/courses", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, listingFixture)
	})
	mux.HandleFunc("/courses/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, runDetailsFixture)
	})
	mux.HandleFunc("/admin/courses/data-science/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, statsFixture)
	})
	mux.HandleFunc("/admin/courses/empty-course/", func(w http.ResponseWriter, r *http.Request) {
		// no dataset list at all
		fmt.Fprint(w, "<html><body></body></html>")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	coreClient, err := core.NewClient(ctx, core.ClientOptions{BaseUrl: server.URL})
	require.NoError(t, err)

	store := setupStore(t)
	dir := t.TempDir()
	service := NewService(admin.NewClient(coreClient), store, dir)

	require.NoError(t, service.Export(ctx, []string{"example-uni"}))

	// the run without datasets is excluded entirely
	courseRecords := readRecords(t, filepath.Join(dir, CourseDataFile))
	require.Len(t, courseRecords, 2)
	require.Equal(t, courseDataHeader, courseRecords[0])
	require.Equal(t, []string{
		"Data Science", "data-science", "6", "2016-06-20", "2016-05-09",
		"3", "1", "IN PROGRESS", "example-uni",
	}, courseRecords[1])

	// the dataset missing from file_information is dropped with a
	// warning, the known two make it through
	fileRecords := readRecords(t, filepath.Join(dir, FileInfoFile))
	require.Len(t, fileRecords, 3)
	require.Equal(t, fileInfoHeader, fileRecords[0])
	require.Equal(t, "data-science", fileRecords[1][0])
	require.Equal(t, "3", fileRecords[1][1])
	require.Equal(t, "comments", fileRecords[1][2])
	require.Equal(t, "enrolments", fileRecords[2][2])

	// replaying the CSVs into a fresh store rebuilds the same rows
	fresh := setupStore(t)
	require.NoError(t, LoadToStore(ctx, fresh, dir))

	courseId, err := fresh.CourseId(ctx, "data-science", 3)
	require.NoError(t, err)

	files, err := fresh.ActiveCourseFiles(ctx)
	require.NoError(t, err)
	require.Len(t, files, 2)
	require.Equal(t, "comments", files[0].FileName)

	// loading twice must not duplicate anything
	require.NoError(t, LoadToStore(ctx, fresh, dir))
	again, err := fresh.CourseId(ctx, "data-science", 3)
	require.NoError(t, err)
	require.Equal(t, courseId, again)
	files, err = fresh.ActiveCourseFiles(ctx)
	require.NoError(t, err)
	require.Len(t, files, 2)
}
