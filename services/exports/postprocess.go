package exports

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"fldata/lib/flstore"

	"go.opentelemetry.io/otel/attribute"
)

// CommandRunner executes one external command and returns its combined
// output. Swappable so the visualization stage can be exercised without
// an R installation.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// PostProcessor drives the external Rscript visualization stage, one
// invocation per course run.
type PostProcessor struct {
	Store flstore.Store
	// path of the R entry script
	Script string
	// path of the R-side configuration file, passed through verbatim
	ConfigFile string
	Run        CommandRunner
}

func NewPostProcessor(store flstore.Store, script, configFile string) PostProcessor {
	return PostProcessor{Store: store, Script: script, ConfigFile: configFile, Run: runCommand}
}

// Process runs the visualization script for every selected course run.
// Vis tables fed by a dataset whose download failed are dropped from
// the invocation so the script never rebuilds a visualization from a
// stale table. A failing invocation is logged and the remaining runs
// still go through.
func (p PostProcessor) Process(ctx context.Context, selected []flstore.CourseRef, outcomes *Outcomes) error {
	ctx, span := tracer.Start(ctx, "exports:Process")
	defer span.End()

	for _, ref := range selected {
		err := p.processRun(ctx, ref, outcomes)
		if err != nil {
			slog.ErrorContext(ctx, "post-processing failed, moving to the next course run",
				"slug", ref.Slug, "version", ref.Version, "err", err)
			span.RecordError(err)
			p.logError(ctx, fmt.Sprintf("postprocess %s/%d: %v", ref.Slug, ref.Version, err))
		}
	}
	return nil
}

func (p PostProcessor) processRun(ctx context.Context, ref flstore.CourseRef, outcomes *Outcomes) error {
	ctx, span := tracer.Start(ctx, "exports:processRun")
	defer span.End()
	span.SetAttributes(
		attribute.String("slug", ref.Slug),
		attribute.Int("version", ref.Version),
	)

	visTables, err := p.Store.VisTables(ctx, ref.Slug, ref.Version)
	if err != nil {
		return err
	}

	// the R script parses argv positionally: each vis table name is
	// immediately followed by its source file, except when that source
	// already appeared for an earlier table
	runName := fmt.Sprintf("%s-%d", ref.Slug, ref.Version)
	args := []string{p.Script, p.ConfigFile, runName}
	kept := 0
	sourceSeen := map[string]bool{}
	for _, vt := range visTables {
		if outcomes != nil && outcomes.IsFailed(ref.Slug, ref.Version, vt.FileName) {
			slog.WarnContext(ctx, "source dataset failed to download, suppressing vis table",
				"slug", ref.Slug, "version", ref.Version,
				"table", vt.TableName, "file", vt.FileName)
			p.logEvent(ctx, ref, vt.FileName, "postprocess",
				fmt.Sprintf("suppressed vis table %s, its source failed to download", vt.TableName))
			continue
		}
		args = append(args, vt.TableName)
		if !sourceSeen[vt.FileName] {
			sourceSeen[vt.FileName] = true
			args = append(args, vt.FileName)
		}
		kept++
	}
	if kept == 0 {
		slog.WarnContext(ctx, "no vis tables left for course run, skipping post-processing",
			"slug", ref.Slug, "version", ref.Version)
		return nil
	}

	slog.InfoContext(ctx, "running visualization script",
		"slug", ref.Slug, "version", ref.Version, "tables", kept)
	p.logEvent(ctx, ref, "", "postprocess", "started")
	output, err := p.Run(ctx, "Rscript", args...)
	if err != nil {
		return fmt.Errorf("Rscript failed: %w: %s", err, strings.TrimSpace(string(output)))
	}
	p.logEvent(ctx, ref, "", "postprocess", "completed")
	slog.InfoContext(ctx, "visualization script completed",
		"slug", ref.Slug, "version", ref.Version)
	return nil
}

func (p PostProcessor) logEvent(ctx context.Context, ref flstore.CourseRef, fileName, message, detail string) {
	err := p.Store.LogEvent(ctx, ref.Slug, ref.Version, fileName, message, detail)
	if err != nil {
		slog.WarnContext(ctx, "failed to write course log row", "err", err)
	}
}

func (p PostProcessor) logError(ctx context.Context, message string) {
	err := p.Store.LogError(ctx, message)
	if err != nil {
		slog.WarnContext(ctx, "failed to write error log row", "err", err)
	}
}
