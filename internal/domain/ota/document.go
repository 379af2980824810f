package ota

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidDocument is returned when a job document cannot be built or parsed.
var ErrInvalidDocument = errors.New("invalid job document")

// signatureKeyPrefix starts every signature field name in a file descriptor.
const signatureKeyPrefix = "sig-"

// JobDocument is the payload the OTA agent on the device receives.
type JobDocument struct {
	OTA OTADocument `json:"afr_ota"`
}

// OTADocument is the afr_ota section of a job document.
type OTADocument struct {
	Protocols  []Protocol       `json:"protocols"`
	StreamName string           `json:"streamname"`
	Files      []FileDescriptor `json:"files"`
}

// FileDescriptor describes one file to download and how to verify it.
// Its JSON form has a fixed key order and a signature key that depends on
// the signing algorithm, hence the custom (un)marshalling.
type FileDescriptor struct {
	FilePath      *string
	FileSize      int64
	FileID        int
	CertFile      string
	UpdateDataURL *string
	AuthScheme    *string
	SignatureKey  string
	Signature     string
}

// DocumentInput is everything BuildDocument maps into a job document.
type DocumentInput struct {
	Protocols       []Protocol
	StreamName      string
	CertificateName string
	Signed          SignedObject
	// UpdateDataURL is the HTTP download URL; required when HTTP is requested.
	UpdateDataURL string
}

// SignatureKey returns the file descriptor key holding a signature made with
// algorithm, e.g. SHA256withECDSA yields sig-sha256-ecdsa.
func SignatureKey(algorithm string) (string, error) {
	if strings.TrimSpace(algorithm) == "" {
		return "", fmt.Errorf("%w: empty signature algorithm", ErrInvalidDocument)
	}

	return signatureKeyPrefix + strings.ToLower(strings.ReplaceAll(algorithm, "with", "-")), nil
}

// BuildDocument maps the signer output and stream into a single-file job document.
func BuildDocument(in DocumentInput) (*JobDocument, error) {
	if len(in.Protocols) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, ErrNoProtocols)
	}

	for i, p := range in.Protocols {
		if _, err := ParseProtocol(string(p)); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
		}

		if HasProtocol(in.Protocols[:i], p) {
			return nil, fmt.Errorf("%w: %w: %s", ErrInvalidDocument, ErrDuplicateProtocol, p)
		}
	}

	switch {
	case in.StreamName == "":
		return nil, fmt.Errorf("%w: empty stream name", ErrInvalidDocument)
	case in.CertificateName == "":
		return nil, fmt.Errorf("%w: empty certificate name", ErrInvalidDocument)
	case in.Signed.Signature == "":
		return nil, fmt.Errorf("%w: empty signature", ErrInvalidDocument)
	case in.Signed.RawPayloadSize < 0:
		return nil, fmt.Errorf("%w: negative file size %d", ErrInvalidDocument, in.Signed.RawPayloadSize)
	}

	sigKey, err := SignatureKey(in.Signed.SignatureAlgorithm)
	if err != nil {
		return nil, err
	}

	file := FileDescriptor{
		FileSize:     in.Signed.RawPayloadSize,
		FileID:       0,
		CertFile:     in.CertificateName,
		SignatureKey: sigKey,
		Signature:    in.Signed.Signature,
	}

	// MQTT-only documents never carry a download URL.
	if HasProtocol(in.Protocols, ProtocolHTTP) {
		if in.UpdateDataURL == "" {
			return nil, fmt.Errorf("%w: HTTP requires an update data URL", ErrInvalidDocument)
		}

		url, scheme := in.UpdateDataURL, HTTPAuthScheme
		file.UpdateDataURL = &url
		file.AuthScheme = &scheme
	}

	return &JobDocument{
		OTA: OTADocument{
			Protocols:  append([]Protocol(nil), in.Protocols...),
			StreamName: in.StreamName,
			Files:      []FileDescriptor{file},
		},
	}, nil
}

// Render encodes the document as compact JSON without HTML escaping.
func (d *JobDocument) Render() ([]byte, error) {
	return marshalCompact(d)
}

// ParseDocument decodes a rendered job document.
func ParseDocument(data []byte) (*JobDocument, error) {
	var doc JobDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}

	return &doc, nil
}

// MarshalJSON writes the descriptor keys in the order the OTA agent documents them.
//
//nolint:gocritic // json.Marshaler on the value type so slices of descriptors encode too.
func (f FileDescriptor) MarshalJSON() ([]byte, error) {
	if f.SignatureKey == "" {
		return nil, fmt.Errorf("%w: missing signature key", ErrInvalidDocument)
	}

	fields := []struct {
		key   string
		value any
	}{
		{"filepath", f.FilePath},
		{"filesize", f.FileSize},
		{"fileid", f.FileID},
		{"certfile", f.CertFile},
		{"update_data_url", f.UpdateDataURL},
		{"auth_scheme", f.AuthScheme},
		{f.SignatureKey, f.Signature},
	}

	var buf bytes.Buffer

	buf.WriteByte('{')

	for i, field := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}

		key, err := marshalCompact(field.key)
		if err != nil {
			return nil, err
		}

		value, err := marshalCompact(field.value)
		if err != nil {
			return nil, err
		}

		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}

	buf.WriteByte('}')

	return buf.Bytes(), nil
}

// UnmarshalJSON reads a descriptor, picking up whichever sig-* key it carries.
func (f *FileDescriptor) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var decoded FileDescriptor

	targets := map[string]any{
		"filepath":        &decoded.FilePath,
		"filesize":        &decoded.FileSize,
		"fileid":          &decoded.FileID,
		"certfile":        &decoded.CertFile,
		"update_data_url": &decoded.UpdateDataURL,
		"auth_scheme":     &decoded.AuthScheme,
	}

	for key, value := range raw {
		target, known := targets[key]
		if !known {
			if !strings.HasPrefix(key, signatureKeyPrefix) {
				continue
			}

			if decoded.SignatureKey != "" {
				return fmt.Errorf("%w: more than one signature key", ErrInvalidDocument)
			}

			decoded.SignatureKey = key
			target = &decoded.Signature
		}

		if err := json.Unmarshal(value, target); err != nil {
			return fmt.Errorf("%w: field %s: %w", ErrInvalidDocument, key, err)
		}
	}

	*f = decoded

	return nil
}

// marshalCompact is json.Marshal without HTML escaping, so pre-signed URLs stay readable.
func marshalCompact(v any) ([]byte, error) {
	var buf bytes.Buffer

	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)

	if err := encoder.Encode(v); err != nil {
		return nil, err
	}

	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
