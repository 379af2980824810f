// Package stream registers the raw firmware binary as an AWS IoT stream.
//
// Like CreateOTAUpdate, it first copies the raw binary over the signed
// object so the signed key holds two versions, then streams the newest one.
// There is no idempotency check: every call creates a new stream.
package stream
