package testutil

import (
	"database/sql"
	"strings"
	"testing"

	"fldata/lib/telemetry"

	_ "modernc.org/sqlite"
)

var slogInit = false

type ServiceParams struct {
	Name string
	// if unspecified, it will skip setting up a db
	DbSchema string
	// if unspecified, it will use `:memory:`
	DbPath string
}

type ServiceResult struct {
	DB *sql.DB
}

func SetupService(t testing.TB, params ServiceParams) (ServiceResult, func()) {
	if !slogInit {
		telemetry.InitSlog(true)
		slogInit = true
	}

	if params.DbSchema == "" {
		return ServiceResult{}, func() {}
	}

	dbpath := params.DbPath
	if dbpath == "" {
		dbpath = ":memory:"
	}
	sqlite, err := sql.Open("sqlite", dbpath)
	if err != nil {
		t.Fatal(err)
	}
	_, err = sqlite.Exec(params.DbSchema)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		t.Fatal(err)
	}

	return ServiceResult{DB: sqlite}, func() {
		sqlite.Close()
	}
}
