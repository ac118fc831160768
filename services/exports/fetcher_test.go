package exports

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"fldata/lib/flstore"
	"fldata/lib/scrapers/futurelearn/core"

	"github.com/stretchr/testify/require"
)

func seedColumns(t *testing.T, store flstore.Store) {
	_, err := store.DB().Exec(`
		INSERT INTO file_column_information (file_name, column_name, column_type) VALUES
			('comments', 'id', 'int(11)'),
			('comments', 'text', 'text'),
			('comments', 'moderation_state', 'varchar(32)'),
			('enrolments', 'learner_id', 'varchar(36)'),
			('enrolments', 'unlimited', 'tinyint(1)'),
			('enrolments', 'enrolled_at', 'datetime');
	`)
	require.NoError(t, err)
}

func TestDownload(t *testing.T) {
	store := setupVisStore(t)
	seedColumns(t, store)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	mux := http.NewServeMux()
	mux.HandleFunc("/admin/courses/data-science/3/stats-dashboard/data/comments", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "id,text,moderation_state\n1,hello,visible\n2,world,hidden\n")
	})
	mux.HandleFunc("/admin/courses/data-science/3/stats-dashboard/data/enrolments", func(w http.ResponseWriter, r *http.Request) {
		// the export endpoint falls over for this dataset
		w.WriteHeader(http.StatusInternalServerError)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	coreClient, err := core.NewClient(ctx, core.ClientOptions{BaseUrl: server.URL})
	require.NoError(t, err)

	outputDir := t.TempDir()
	dbDir := t.TempDir()
	service := Service{
		Core:        coreClient,
		Store:       store,
		OutputDir:   outputDir,
		DatabaseDir: dbDir,
		SqlTemplates: map[string]string{
			"comments":   newCommentsTemplate,
			"enrolments": newEnrolmentsTemplate,
		},
	}

	selected := []flstore.CourseRef{{Slug: "data-science", Version: 3}}
	outcomes, err := service.Download(ctx, selected)
	require.NoError(t, err)

	require.False(t, outcomes.IsFailed("data-science", 3, "comments"))
	require.True(t, outcomes.IsFailed("data-science", 3, "enrolments"))
	require.Equal(t, []string{"enrolments"}, outcomes.Failed("data-science", 3))

	// the good dataset is on disk and in the run database
	_, err = os.Stat(filepath.Join(outputDir, "data-science-3_comments.csv"))
	require.NoError(t, err)

	run, err := flstore.OpenCourseRun(dbDir, "data-science", 3)
	require.NoError(t, err)
	defer run.Close()

	var count int
	require.NoError(t, run.DB.QueryRowContext(ctx,
		`SELECT count(*) FROM comments`).Scan(&count))
	require.Equal(t, 2, count)

	// the failed dataset landed in the central error log
	require.NoError(t, store.DB().QueryRowContext(ctx,
		`SELECT count(*) FROM error_logging`).Scan(&count))
	require.Equal(t, 1, count)

	// download events for the good dataset were recorded
	require.NoError(t, store.DB().QueryRowContext(ctx,
		`SELECT count(*) FROM course_logging WHERE file_name = 'comments'`).Scan(&count))
	require.Greater(t, count, 0)
}

func TestDownloadCourseFolders(t *testing.T) {
	store := setupVisStore(t)
	seedColumns(t, store)
	ctx := context.Background()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "id,text,moderation_state\n1,hello,visible\n")
	}))
	defer server.Close()

	coreClient, err := core.NewClient(ctx, core.ClientOptions{BaseUrl: server.URL})
	require.NoError(t, err)

	outputDir := t.TempDir()
	service := Service{
		Core:             coreClient,
		Store:            store,
		OutputDir:        outputDir,
		DatabaseDir:      t.TempDir(),
		UseCourseFolders: true,
		SqlTemplates: map[string]string{
			"comments":   newCommentsTemplate,
			"enrolments": newEnrolmentsTemplate,
		},
	}

	selected := []flstore.CourseRef{{Slug: "data-science", Version: 3}}
	_, err = service.Download(ctx, selected)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(outputDir, "data-science-3", "data-science-3_comments.csv"))
	require.NoError(t, err)
}

func TestDownloadEmptiesTablesBeforeFetching(t *testing.T) {
	store := setupVisStore(t)
	seedColumns(t, store)
	ctx := context.Background()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	coreClient, err := core.NewClient(ctx, core.ClientOptions{BaseUrl: server.URL})
	require.NoError(t, err)

	// a previous pass left rows behind
	dbDir := t.TempDir()
	stale, err := flstore.OpenCourseRun(dbDir, "data-science", 3)
	require.NoError(t, err)
	_, err = stale.DB.ExecContext(ctx, newCommentsTemplate)
	require.NoError(t, err)
	_, err = stale.DB.ExecContext(ctx, `INSERT INTO comments (id, text) VALUES (1, 'stale')`)
	require.NoError(t, err)
	require.NoError(t, stale.Close())

	service := Service{
		Core:        coreClient,
		Store:       store,
		OutputDir:   t.TempDir(),
		DatabaseDir: dbDir,
		SqlTemplates: map[string]string{
			"comments":   newCommentsTemplate,
			"enrolments": newEnrolmentsTemplate,
		},
	}

	selected := []flstore.CourseRef{{Slug: "data-science", Version: 3}}
	outcomes, err := service.Download(ctx, selected)
	require.NoError(t, err)
	require.True(t, outcomes.IsFailed("data-science", 3, "comments"))

	// the failed download must not resurface the previous pass's rows:
	// provisioning truncated the table before the fetch was attempted
	run, err := flstore.OpenCourseRun(dbDir, "data-science", 3)
	require.NoError(t, err)
	defer run.Close()

	var count int
	require.NoError(t, run.DB.QueryRowContext(ctx,
		`SELECT count(*) FROM comments`).Scan(&count))
	require.Equal(t, 0, count)

	// the enrolments table was provisioned from its template as well
	exists, err := run.TableExists(ctx, "enrolments")
	require.NoError(t, err)
	require.True(t, exists)
}

func TestRetainSelected(t *testing.T) {
	files := []flstore.CourseFile{
		{Slug: "data-science", Version: 3, FileName: "comments"},
		{Slug: "data-science", Version: 2, FileName: "comments"},
		{Slug: "other-course", Version: 1, FileName: "enrolments"},
	}
	kept := retainSelected(files, []flstore.CourseRef{{Slug: "data-science", Version: 3}})
	require.Len(t, kept, 1)
	require.Equal(t, 3, kept[0].Version)
}

func TestExportNaming(t *testing.T) {
	require.Equal(t, "/admin/courses/data-science/3/stats-dashboard/data/question_response",
		exportPath("data-science", 3, "question_response"))
	// underscores in dataset names flip to hyphens on disk, matching
	// the names the visualization scripts expect
	require.Equal(t, "data-science-3_question-response.csv",
		exportFilename("data-science", 3, "question_response"))
}
