// Package objects reads, copies and versions firmware objects in S3.
//
// Every location it returns is pinned to an object version: the signed
// object key ends up with two versions (signed JSON, then the raw binary
// copied over it) and the stream must reference the second one.
package objects
