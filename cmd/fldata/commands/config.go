package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"fldata/lib/configutil"
	"fldata/lib/flstore"
	"fldata/lib/scrapers/futurelearn/admin"
	"fldata/lib/scrapers/futurelearn/core"
	"fldata/lib/scrapers/futurelearn/steps"
	"fldata/lib/serviceutil"
)

type CourseSlug struct {
	Slug    string `json:"slug"`
	Version int    `json:"version"`
}

type GeneralConfig struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	WaitTimeSeconds int    `json:"wait_time_seconds"`

	Organisations    []string `json:"organisations"`
	OutputDir        string   `json:"output_dir"`
	UseCourseFolders bool     `json:"use_course_folders"`

	// which course runs the step/download stages operate on; at least
	// one mode must be enabled, and when several are the first of
	// course_slugs, active, in-progress wins
	CourseSlugs          []CourseSlug `json:"course_slugs"`
	UseCourseSlugs       bool         `json:"use_course_slugs"`
	UseActiveCourses     bool         `json:"use_active_courses"`
	UseInprogressCourses bool         `json:"use_inprogress_courses"`

	BaseUrl string `json:"base_url"`
}

type DatabaseConfig struct {
	// analytics store path, a sqlite file or a libsql:// url
	Path string `json:"path"`
	// directory holding the per-run sqlite files
	RunDir string `json:"run_dir"`
}

type StagesConfig struct {
	CourseExport   bool `json:"course_export"`
	CourseDbExport bool `json:"course_db_export"`
	StepExport     bool `json:"step_export"`
	StepDbExport   bool `json:"step_db_export"`
	Download       bool `json:"download"`
	Postprocess    bool `json:"postprocess"`
}

type RscriptConfig struct {
	Script     string `json:"script"`
	ConfigFile string `json:"config_file"`
}

type Config struct {
	General  GeneralConfig  `json:"general"`
	Database DatabaseConfig `json:"database"`
	// dataset table templates, file_name (or patch template key) to
	// path of the CREATE TABLE script
	SqlScripts map[string]string `json:"sql_scripts"`
	Stages     StagesConfig      `json:"stages"`
	Rscript    RscriptConfig     `json:"rscript"`
}

func loadConfig() Config {
	cfg, err := configutil.ReadConfig[Config](*configPath)
	if err != nil {
		serviceutil.Fatal("failed to read config", err)
	}

	if cfg.General.BaseUrl == "" {
		cfg.General.BaseUrl = "https://www.futurelearn.com"
	}
	if cfg.General.OutputDir == "" {
		cfg.General.OutputDir = "output"
	}
	if cfg.General.Email == "" || cfg.General.Password == "" {
		serviceutil.Fatalf("general.email and general.password must be set")
	}
	if cfg.Database.Path == "" {
		serviceutil.Fatalf("database.path must be set")
	}
	if cfg.Database.RunDir == "" {
		cfg.Database.RunDir = "databases"
	}

	modes := 0
	for _, enabled := range []bool{
		cfg.General.UseCourseSlugs,
		cfg.General.UseActiveCourses,
		cfg.General.UseInprogressCourses,
	} {
		if enabled {
			modes++
		}
	}
	if modes == 0 {
		serviceutil.Fatalf("one of use_course_slugs, use_active_courses and use_inprogress_courses must be enabled")
	}
	if modes > 1 {
		slog.Warn("multiple course selection modes are enabled, taking the first of course_slugs, active courses, in-progress courses")
	}
	if cfg.General.UseCourseSlugs && len(cfg.General.CourseSlugs) == 0 {
		serviceutil.Fatalf("use_course_slugs is enabled but course_slugs is empty")
	}
	return cfg
}

func (c Config) waitTime() time.Duration {
	return time.Duration(c.General.WaitTimeSeconds) * time.Second
}

// selectCourses resolves the configured selection mode into the course
// runs the step and download stages work on. Explicit slugs take
// precedence over active courses, which take precedence over
// in-progress courses.
func selectCourses(ctx context.Context, store flstore.Store, cfg Config) []flstore.CourseRef {
	if cfg.General.UseCourseSlugs {
		out := make([]flstore.CourseRef, 0, len(cfg.General.CourseSlugs))
		for _, cs := range cfg.General.CourseSlugs {
			out = append(out, flstore.CourseRef{Slug: cs.Slug, Version: cs.Version})
		}
		return out
	}

	var (
		refs []flstore.CourseRef
		err  error
	)
	if cfg.General.UseActiveCourses {
		refs, err = store.ActiveCourses(ctx)
	} else {
		refs, err = store.InProgressCourses(ctx)
	}
	if err != nil {
		serviceutil.Fatal("failed to list courses from the store", err)
	}
	return refs
}

// loadSqlTemplates reads every configured CREATE TABLE script into
// memory up front so a missing file fails the run before any scraping
// happens.
func loadSqlTemplates(cfg Config) map[string]string {
	templates := map[string]string{}
	for name, path := range cfg.SqlScripts {
		body, err := os.ReadFile(path)
		if err != nil {
			serviceutil.Fatal(fmt.Sprintf("failed to read sql script for %q", name), err)
		}
		templates[name] = string(body)
	}
	return templates
}

func openStore(cfg Config) flstore.Store {
	db, err := flstore.Open(cfg.Database.Path)
	if err != nil {
		serviceutil.Fatal("failed to open the analytics store", err)
	}
	return flstore.NewStore(db)
}

// createClients logs into FutureLearn once and hands out the scraping
// clients sharing that session.
func createClients(ctx context.Context, cfg Config) (*core.Client, admin.Client, steps.Client) {
	coreClient, err := core.NewClient(ctx, core.ClientOptions{
		BaseUrl: cfg.General.BaseUrl,
	})
	if err != nil {
		serviceutil.Fatal("failed to initialize futurelearn client", err)
	}
	err = coreClient.Login(ctx, cfg.General.Email, cfg.General.Password)
	if err != nil {
		serviceutil.Fatal("failed to login to futurelearn", err)
	}
	return coreClient, admin.NewClient(coreClient), steps.NewClient(coreClient, cfg.waitTime())
}
