package exports

import (
	"context"
	"fmt"
	"log/slog"

	"fldata/lib/flstore"
)

// FutureLearn widens its exports over time without versioning them, so
// per-run tables created against an old export drift out from under
// later downloads. Each drift case the pipeline has hit is captured
// here as a named patch: a condition on the live table (or the fresh
// CSV header) plus the template to rebuild the table from. A patch
// runs at most once per dataset per run database; the ledger lives in
// the run's dataset_schema_version table.
type schemaPatch struct {
	id       string
	fileName string
	// template key to rebuild the table from when the patch fires
	template string
	needed   func(ctx context.Context, run flstore.RunDB, header []string) (bool, error)
}

var schemaPatches = []schemaPatch{
	{
		// comments grew moderation columns; tables created before
		// that reject the wider insert
		id:       "comments-moderation-columns",
		fileName: "comments",
		template: "comments",
		needed: func(ctx context.Context, run flstore.RunDB, header []string) (bool, error) {
			// an export predating the moderation columns loads into the
			// current template with those columns left NULL
			for _, col := range []string{"first_reported_at", "first_reported_reason", "moderation_state"} {
				if !contains(header, col) {
					return true, nil
				}
			}
			return tableMissingAny(ctx, run, "comments",
				"first_reported_at", "first_reported_reason", "moderation_state")
		},
	},
	{
		// newer quiz exports carry both question_type and
		// cloze_response, which only the second-generation table has
		// room for
		id:       "question-response-v2",
		fileName: "question_response",
		template: "question_response_v2",
		needed: func(ctx context.Context, run flstore.RunDB, header []string) (bool, error) {
			if !contains(header, "question_type") || !contains(header, "cloze_response") {
				return false, nil
			}
			return tableMissingAny(ctx, run, "question_response", "cloze_response")
		},
	},
	{
		id:       "enrolments-detected-country",
		fileName: "enrolments",
		template: "enrolments",
		needed: func(ctx context.Context, run flstore.RunDB, header []string) (bool, error) {
			if !contains(header, "detected_country") {
				return true, nil
			}
			return tableMissingAny(ctx, run, "enrolments", "detected_country")
		},
	},
}

// applyPatches runs every patch registered for a dataset right before
// its load. The table is empty at this point (provisioning truncates),
// so a patch can rebuild it from the template without preserving rows.
func applyPatches(ctx context.Context, run flstore.RunDB, fileName string, header []string, templates map[string]string) error {
	for _, patch := range schemaPatches {
		if patch.fileName != fileName {
			continue
		}
		applied, err := run.PatchApplied(ctx, fileName, patch.id)
		if err != nil {
			return err
		}
		if applied {
			continue
		}
		needed, err := patch.needed(ctx, run, header)
		if err != nil {
			return err
		}
		if !needed {
			continue
		}

		template, known := templates[patch.template]
		if !known {
			return fmt.Errorf("schema patch %q needs the %q table template, which is not configured",
				patch.id, patch.template)
		}
		slog.InfoContext(ctx, "applying dataset schema patch",
			"slug", run.Slug, "version", run.Version, "file", fileName, "patch", patch.id)
		err = run.Recreate(ctx, fileName, template)
		if err != nil {
			return fmt.Errorf("schema patch %q: %w", patch.id, err)
		}
		err = run.RecordPatch(ctx, fileName, patch.id)
		if err != nil {
			return err
		}
	}
	return nil
}

// tableMissingAny reports whether the live table lacks any of the named
// columns. A table that does not exist yet never needs patching, the
// provisioning step creates it from the current template.
func tableMissingAny(ctx context.Context, run flstore.RunDB, table string, columns ...string) (bool, error) {
	exists, err := run.TableExists(ctx, table)
	if err != nil || !exists {
		return false, err
	}
	live, err := run.TableColumns(ctx, table)
	if err != nil {
		return false, err
	}
	for _, col := range columns {
		if !contains(live, col) {
			return true, nil
		}
	}
	return false, nil
}

func contains(list []string, want string) bool {
	for _, item := range list {
		if item == want {
			return true
		}
	}
	return false
}
