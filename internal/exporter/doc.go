// Package exporter renders timelines and progress as CSV for spreadsheet
// users. WriteCSV and WriteCSVFile are the generic writers; WriteTimeline
// and WriteProgress fix the column layout of the two exports.
//
// WriteTemplate produces the empty xlsx workbook crews fill in and upload.
package exporter
