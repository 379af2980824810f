// Package cloud wires the AWS SDK clients used by the pipeline.
//
// Each service is consumed through a narrow interface holding only the calls
// the pipeline makes, so stages can be tested against in-memory fakes. The
// package also resolves the caller identity and builds the IAM and IoT ARNs
// a run needs.
package cloud
