// Package ota contains the domain model of a hand-built OTA update: the
// signing request and its signed output, the stream that delivers the raw
// binary, the job document read by device firmware, the job specification
// and the linear stage progression of a run.
//
// BuildDocument is a pure function: identical input always renders
// byte-identical JSON.
package ota
