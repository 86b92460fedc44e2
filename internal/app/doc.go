// Package app wires the kpiledger server together and manages its lifecycle.
//
// # Initialization Flow
//
//	1. Load configuration from defaults, YAML and KPI_* environment variables
//	2. Initialize logging and OpenTelemetry
//	3. Open the job store (memory, file or postgres) behind a metrics observer
//	4. Build the websocket hub, job service and health service
//	5. Set up the chi router and middleware
//	6. Create the HTTP server
//
// # Usage
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
//	defer stop()
//
//	a, err := app.NewApplication(ctx, "")
//	if err != nil {
//	    return err
//	}
//	return a.Run(ctx)
//
// # Graceful Shutdown
//
// When ctx is cancelled, Run stops accepting connections, waits for active
// requests up to the configured shutdown timeout, closes websocket clients,
// then closes the store and flushes telemetry.
//
// The package never calls os.Exit; errors are returned to main.
package app
