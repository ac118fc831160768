package flstore

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"fldata/lib/testutil"
	"fldata/lib/timezone"

	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) Store {
	setup, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "lib/flstore",
		DbSchema: Schema,
	})
	t.Cleanup(cleanup)
	return NewStore(setup.DB)
}

func date(t *testing.T, s string) time.Time {
	parsed, err := time.ParseInLocation("2006-01-02", s, timezone.Location)
	require.NoError(t, err)
	return parsed
}

func TestCourses(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	course := Course{
		Name:          "Data Science",
		Slug:          "data-science",
		DurationWeeks: 6,
		StartDate:     date(t, "2016-05-09"),
		EndDate:       date(t, "2016-06-20"),
		Version:       3,
		Active:        true,
		Status:        "IN PROGRESS",
		Organisation:  "example-uni",
	}

	_, err := store.CourseId(ctx, "data-science", 3)
	require.ErrorIs(t, err, ErrCourseNotFound)

	require.NoError(t, store.UpsertCourse(ctx, course))
	id, err := store.CourseId(ctx, "data-science", 3)
	require.NoError(t, err)

	// upserting the same run again must not mint a new id
	course.Status = "FINISHED"
	require.NoError(t, store.UpsertCourse(ctx, course))
	again, err := store.CourseId(ctx, "data-science", 3)
	require.NoError(t, err)
	require.Equal(t, id, again)

	active, err := store.ActiveCourses(ctx)
	require.NoError(t, err)
	require.Equal(t, []CourseRef{{Slug: "data-science", Version: 3}}, active)
}

func TestInProgressCourses(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	now := timezone.Now()
	require.NoError(t, store.UpsertCourse(ctx, Course{
		Name: "Running", Slug: "running", DurationWeeks: 2,
		StartDate: now.AddDate(0, 0, -7), EndDate: now.AddDate(0, 0, 7),
		Version: 1, Active: true, Status: "IN PROGRESS", Organisation: "org",
	}))
	require.NoError(t, store.UpsertCourse(ctx, Course{
		Name: "Done", Slug: "done", DurationWeeks: 2,
		StartDate: now.AddDate(0, 0, -30), EndDate: now.AddDate(0, 0, -16),
		Version: 1, Active: true, Status: "FINISHED", Organisation: "org",
	}))

	inProgress, err := store.InProgressCourses(ctx)
	require.NoError(t, err)
	require.Equal(t, []CourseRef{{Slug: "running", Version: 1}}, inProgress)
}

func TestCourseFilesAndVisTables(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	_, err := store.DB().ExecContext(ctx, `
		INSERT INTO file_information (file_name) VALUES ('comments'), ('enrolments');
		INSERT INTO vis_table_information (vis_table_name, file_name) VALUES
			('vis_comments_by_week', 'comments'),
			('vis_enrolment_totals', 'enrolments');
	`)
	require.NoError(t, err)

	require.NoError(t, store.UpsertCourse(ctx, Course{
		Name: "Data Science", Slug: "data-science", DurationWeeks: 6,
		StartDate: date(t, "2016-05-09"), EndDate: date(t, "2016-06-20"),
		Version: 3, Active: true, Status: "IN PROGRESS", Organisation: "example-uni",
	}))
	courseId, err := store.CourseId(ctx, "data-science", 3)
	require.NoError(t, err)

	files, err := store.FileInformation(ctx)
	require.NoError(t, err)
	require.Len(t, files, 2)

	require.NoError(t, store.InsertCourseFile(ctx, courseId, files["comments"]))
	// duplicate insert is a no-op
	require.NoError(t, store.InsertCourseFile(ctx, courseId, files["comments"]))

	courseFiles, err := store.ActiveCourseFiles(ctx)
	require.NoError(t, err)
	require.Equal(t, []CourseFile{{
		Slug: "data-science", Version: 3,
		FileName: "comments", Organisation: "example-uni",
	}}, courseFiles)

	// only vis tables fed by datasets the run actually has come back
	visTables, err := store.VisTables(ctx, "data-science", 3)
	require.NoError(t, err)
	require.Equal(t, []VisTable{{
		TableName: "vis_comments_by_week", FileName: "comments",
	}}, visTables)
}

func TestLogging(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.LogEvent(ctx, "data-science", 3, "comments", "download", "started"))
	require.NoError(t, store.LogError(ctx, "something broke"))

	var count int
	require.NoError(t, store.DB().QueryRowContext(ctx,
		`SELECT count(*) FROM course_logging`).Scan(&count))
	require.Equal(t, 1, count)
	require.NoError(t, store.DB().QueryRowContext(ctx,
		`SELECT count(*) FROM error_logging`).Scan(&count))
	require.Equal(t, 1, count)
}

func TestReplaceStepRows(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertCourse(ctx, Course{
		Name: "Data Science", Slug: "data-science", DurationWeeks: 6,
		StartDate: date(t, "2016-05-09"), EndDate: date(t, "2016-06-20"),
		Version: 3, Active: true, Status: "IN PROGRESS", Organisation: "example-uni",
	}))
	courseId, err := store.CourseId(ctx, "data-science", 3)
	require.NoError(t, err)

	rows := []StepRow{
		{
			CourseId: courseId, StepNumber: "1.1", Title: "Welcome", Type: "Video",
			Duration:     sql.NullString{String: "01:28", Valid: true},
			DurationSecs: sql.NullFloat64{Float64: 88, Valid: true},
			WeekLabel:    "Week 1", WeekDatetime: "2016-05-09", WeekDate: "9 May",
			WeekHeading: "Week 1: Intro", StepUrl: "https://example.org/1", StepContent: "<p>hi</p>",
		},
		{
			CourseId: courseId, StepNumber: "1.2", Title: "Reading", Type: "Article",
			WeekLabel: "Week 1", WeekDatetime: "2016-05-09", WeekDate: "9 May",
			WeekHeading: "Week 1: Intro", StepUrl: "https://example.org/2", StepContent: "<p>text</p>",
		},
	}
	require.NoError(t, store.ReplaceStepRows(ctx, courseId, rows))
	require.NoError(t, store.ReplaceStepRows(ctx, courseId, rows[:1]))

	var count int
	require.NoError(t, store.DB().QueryRowContext(ctx,
		`SELECT count(*) FROM course_information_details WHERE course_id = ?`, courseId).Scan(&count))
	require.Equal(t, 1, count)
}
