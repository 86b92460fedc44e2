// Package http implements the REST handlers of the KPI ledger API.
//
// Handlers stay thin: they decode the request, call the job or health
// service, and either render the result with go-chi/render or hand the error
// to the shared ErrorHandler, which owns the mapping to RFC 7807 problems.
//
// Routes, relative to /api:
//
//	GET  /jobs                                list job summaries
//	POST /jobs                                create a job
//	GET  /jobs/{jobID}                        summary, job start and pad progress
//	GET  /jobs/{jobID}/progress               per-well and pad completion
//	GET  /jobs/{jobID}/timeline               chart entries, ?order=well|chronological
//	GET  /jobs/{jobID}/timeline.csv           the same entries as CSV
//	POST /jobs/{jobID}/wells/{well}/uploads   merge a KPI workbook
//	GET  /health                              store and websocket status
package http
