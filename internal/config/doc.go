// Package config defines the settings of a create-ota-job run and provides
// helpers to load, validate and save them in YAML format.
//
// Values that AWS IoT constrains (timeouts, retry counts, schedule windows,
// maintenance windows) are validated here so that a bad setting fails before
// any signing job or stream is created. A dotenv file can be loaded into the
// process environment for the AWS SDK credential chain.
package config
