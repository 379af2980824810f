// Package job submits the assembled job document to AWS IoT as a scheduled
// job with timeout and retry settings. Created jobs are never updated or
// deleted here.
package job
