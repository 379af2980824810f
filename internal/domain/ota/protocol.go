package ota

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Protocol is a file transfer protocol supported by the device OTA agent.
type Protocol string

// Supported protocols.
const (
	ProtocolMQTT Protocol = "MQTT"
	ProtocolHTTP Protocol = "HTTP"
)

// HTTPAuthScheme is the auth scheme of pre-signed S3 download URLs.
const HTTPAuthScheme = "aws.s3.presigned"

// PresignedURLPlaceholder returns the update_data_url IoT replaces with a
// pre-signed S3 GET URL for loc when a device starts the job. s3Endpoint is
// the regional S3 endpoint, e.g. https://s3.cn-north-1.amazonaws.com.cn.
func PresignedURLPlaceholder(loc ObjectLocation, s3Endpoint string) string {
	target := strings.TrimSuffix(s3Endpoint, "/") + "/" + loc.Bucket + "/" + loc.Key
	if loc.Version != "" {
		target += "?versionId=" + loc.Version
	}

	return "${aws:iot:s3-presigned-url:" + target + "}"
}

var (
	// ErrUnknownProtocol is returned for anything other than MQTT or HTTP.
	ErrUnknownProtocol = errors.New("unknown protocol")
	// ErrNoProtocols is returned when no protocol is requested.
	ErrNoProtocols = errors.New("at least one protocol is required")
	// ErrDuplicateProtocol is returned when a protocol is listed twice.
	ErrDuplicateProtocol = errors.New("duplicate protocol")
)

// ParseProtocol converts a case-insensitive name to a Protocol.
func ParseProtocol(s string) (Protocol, error) {
	switch p := Protocol(strings.ToUpper(strings.TrimSpace(s))); p {
	case ProtocolMQTT, ProtocolHTTP:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProtocol, s)
	}
}

// ParseProtocols converts a non-empty list of names, preserving order.
func ParseProtocols(names []string) ([]Protocol, error) {
	if len(names) == 0 {
		return nil, ErrNoProtocols
	}

	protocols := make([]Protocol, 0, len(names))

	for _, name := range names {
		p, err := ParseProtocol(name)
		if err != nil {
			return nil, err
		}

		if slices.Contains(protocols, p) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateProtocol, p)
		}

		protocols = append(protocols, p)
	}

	return protocols, nil
}

// HasProtocol reports whether p is among protocols.
func HasProtocol(protocols []Protocol, p Protocol) bool {
	return slices.Contains(protocols, p)
}
