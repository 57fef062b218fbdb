package canonicalize

import (
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Evidence is a canonicalized, content-addressed piece of evidence:
// the common shape produced whenever the control plane needs to hash
// something it ingested (a run payload, a postmortem artifact, a
// policy snapshot) for storage in a SourceRef or OutcomeRecord.
type Evidence struct {
	SchemaID       string
	ContentType    string
	CanonicalBytes []byte
	Digest         string // "sha256:<hex>"
	Preview        string
}

// Canonicalize converts a raw value into content-addressed Evidence.
// It detects the content type and applies the appropriate
// canonicalization logic before hashing.
func Canonicalize(schemaID string, raw interface{}) (*Evidence, error) {
	var canonicalBytes []byte
	var contentType string
	var err error

	switch v := raw.(type) {
	case string:
		contentType = "text/plain"
		if !utf8.ValidString(v) {
			return nil, fmt.Errorf("canonicalize: invalid UTF-8 string")
		}
		canonicalBytes = []byte(norm.NFC.String(v))
	case []byte:
		contentType = "application/octet-stream"
		canonicalBytes = v
	default:
		contentType = "application/json"
		canonicalBytes, err = JCS(v)
		if err != nil {
			return nil, fmt.Errorf("canonicalize: failed to canonicalize as JSON: %w", err)
		}
	}

	return &Evidence{
		SchemaID:       schemaID,
		ContentType:    contentType,
		CanonicalBytes: canonicalBytes,
		Digest:         ComputeArtifactHash(canonicalBytes),
		Preview:        generatePreview(canonicalBytes),
	}, nil
}

// ComputeArtifactHash returns the sha256 multihash of canonical bytes.
func ComputeArtifactHash(data []byte) string {
	return "sha256:" + HashBytes(data)
}

// generatePreview creates a deterministic, truncated preview of the content.
func generatePreview(data []byte) string {
	const maxPreviewLen = 50
	if len(data) <= maxPreviewLen {
		return string(data)
	}
	return string(data[:maxPreviewLen]) + "..."
}
