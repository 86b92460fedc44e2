// Package services holds the operations shared by the HTTP API and kpictl.
//
// JobService creates and lists jobs, turns an uploaded workbook into a
// merge via the stagelog reconciler, and derives progress and timelines.
// After each successful merge it broadcasts a job:updated event with the
// merge counts and fresh pad progress.
//
// HealthService reports store reachability and websocket client counts.
//
// Errors are returned unwrapped from stagelog (SchemaError, ReconcileError,
// the store sentinels) or as *errors.APIError for request validation, so
// the HTTP error handler can map them without string matching.
package services
