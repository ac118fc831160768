package main

import (
	"context"

	"fldata/cmd/fldata/commands"
	"fldata/lib/serviceutil"
	"fldata/lib/telemetry"
)

func main() {
	ctx := serviceutil.SignalContext()

	t, err := telemetry.SetupFromEnv(ctx, "fldata")
	if err != nil {
		serviceutil.Fatal("failed to set up telemetry", err)
	}
	defer t.Shutdown(context.Background())
	telemetry.InitSlog(false)

	commands.ExecuteContext(ctx)
}
