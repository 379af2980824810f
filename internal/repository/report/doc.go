// Package report persists the run report: every AWS resource a run created,
// including partial progress when a stage fails. Streams are not idempotent,
// so the report is the record of what a failed run left behind.
//
// The FileRepository stores the report as YAML on disk.
package report
