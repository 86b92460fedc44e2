// Package stagelog turns uploaded KPI workbooks into a job's stage log.
//
// A workbook is parsed row by row into StageRecords, reconciled against the
// latest persisted state of the job keyed by (job, well, stage), and written
// back atomically. Progress and timeline views are derived from the stored
// log on demand and are never persisted.
package stagelog
