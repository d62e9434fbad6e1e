package telemetry_test

import (
	"context"
	"errors"
	"os"

	"github.com/dofigen/dofigen/pkg/telemetry"
)

// Example_structuredLogging demonstrates component loggers.
func Example_structuredLogging() {
	cfg := telemetry.LoggingConfig{Level: "debug", Format: "json"}
	logger := telemetry.NewLoggerWithWriter(cfg, os.Stdout).NewComponentLogger("loader")

	logger.WithResource("dofigen.yml").Debug("Resource loaded")

	// Output varies with the timestamp, no output specified
}

// Example_phase demonstrates an instrumented phase of a run.
func Example_phase() {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Level = "error"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	op := telemetry.StartOperation(ctx, "generate", telemetry.AttrStages.Int(3))
	op.End(nil)

	op = telemetry.StartOperation(ctx, "lock")
	op.End(errors.New("registry unreachable"))

	// Output varies, no output specified
}
