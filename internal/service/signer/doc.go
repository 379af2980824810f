// Package signer signs a firmware binary with an AWS Signer profile and
// returns the signature details the job document needs.
//
// The signing job is polled at a fixed interval until it leaves InProgress;
// the poll is the only place a run waits.
package signer
