// Package telemetry provides observability for build tree walks.
//
// It combines structured logging (zerolog), tracing (OpenTelemetry),
// metrics (Prometheus) and an in-process event publisher behind a single
// Telemetry value that travels in a context.Context.
//
// # Usage
//
// Initialize telemetry at startup and attach it to the context handed to
// the reader:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// A walk is bracketed by WithWalkContext and EndWalkContext, and each build
// file is instrumented with StartFileOperation. Files get spans of their own
// only when Tracing.FileSpans is set:
//
//	ctx = telemetry.WithWalkContext(ctx, walkID, topsrcdir)
//	defer func() { telemetry.EndWalkContext(ctx, n, err) }()
//
//	ic := telemetry.StartFileOperation(ctx, path)
//	defer func() { ic.End(err) }()
//
// # Metrics
//
// Metrics are registered in a private registry and exposed by
// StartMetricsServer. The reader records files evaluated, duplicate reads
// skipped, contexts yielded by kind, warnings, template calls and
// diagnostics by error kind. All recording methods are no-ops when metrics
// are disabled.
//
// # Events
//
// The EventPublisher delivers events to subscribers either synchronously or
// in batches from a background goroutine when EnableAsync is set. Events
// below Events.MinLevel are dropped before any subscriber sees them:
//
//	tel.Events.Subscribe(func(e telemetry.Event) {
//	    fmt.Println(e.Path, e.Message)
//	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))
package telemetry
