package commands

import (
	"context"
	"testing"

	"fldata/lib/flstore"
	"fldata/lib/testutil"
	"fldata/lib/timezone"

	"github.com/stretchr/testify/require"
)

func TestSelectCoursesPrecedence(t *testing.T) {
	setup, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "cmd/fldata",
		DbSchema: flstore.Schema,
	})
	defer cleanup()
	store := flstore.NewStore(setup.DB)
	ctx := context.Background()

	now := timezone.Now()
	require.NoError(t, store.UpsertCourse(ctx, flstore.Course{
		Name: "Running", Slug: "running", DurationWeeks: 2,
		StartDate: now.AddDate(0, 0, -7), EndDate: now.AddDate(0, 0, 7),
		Version: 1, Active: true, Status: "IN PROGRESS", Organisation: "org",
	}))
	require.NoError(t, store.UpsertCourse(ctx, flstore.Course{
		Name: "Done", Slug: "done", DurationWeeks: 2,
		StartDate: now.AddDate(0, 0, -30), EndDate: now.AddDate(0, 0, -16),
		Version: 1, Active: true, Status: "FINISHED", Organisation: "org",
	}))

	// explicit slugs win over every other enabled mode
	cfg := Config{}
	cfg.General.UseCourseSlugs = true
	cfg.General.UseActiveCourses = true
	cfg.General.UseInprogressCourses = true
	cfg.General.CourseSlugs = []CourseSlug{{Slug: "data-science", Version: 3}}
	require.Equal(t,
		[]flstore.CourseRef{{Slug: "data-science", Version: 3}},
		selectCourses(ctx, store, cfg))

	// active wins over in-progress
	cfg.General.UseCourseSlugs = false
	require.Equal(t,
		[]flstore.CourseRef{{Slug: "done", Version: 1}, {Slug: "running", Version: 1}},
		selectCourses(ctx, store, cfg))

	// in-progress alone narrows to the runs currently underway
	cfg.General.UseActiveCourses = false
	require.Equal(t,
		[]flstore.CourseRef{{Slug: "running", Version: 1}},
		selectCourses(ctx, store, cfg))
}
