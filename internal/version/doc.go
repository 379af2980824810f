// Package version exposes build metadata for create-ota-job.
//
// Version, Commit and BuildTime are injected through -ldflags and default to
// local-build values. The job description sent to AWS IoT and the run report
// both carry Short so created resources can be traced back to a build.
package version
