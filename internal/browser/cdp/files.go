// internal/browser/cdp/files.go
package cdp

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidFilename is returned for names that reduce to nothing once
// directory components are stripped.
var ErrInvalidFilename = errors.New("invalid filename")

// DecodeDataURI returns the payload of a data: URI. Base64 and percent-encoded
// payloads are supported.
func DecodeDataURI(uri string) ([]byte, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return nil, errors.New("not a data URI")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, errors.New("data URI has no payload")
	}
	if strings.HasSuffix(meta, ";base64") {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 payload: %w", err)
		}
		return data, nil
	}
	text, err := url.PathUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid data URI payload: %w", err)
	}
	return []byte(text), nil
}

// sanitizeFilename keeps only the base name so callers can never write
// outside the output directory.
func sanitizeFilename(name string) (string, error) {
	base := filepath.Base(filepath.Clean(strings.ReplaceAll(name, `\`, "/")))
	switch base {
	case "", ".", "..", "/":
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, name)
	}
	return base, nil
}

// writeArtifact writes data to dir/name through a temporary file and rename,
// creating dir as needed. It returns the final path.
func writeArtifact(dir, name string, data []byte) (string, error) {
	base, err := sanitizeFilename(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+base+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write %s: %w", base, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", base, err)
	}
	path := filepath.Join(dir, base)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to save %s: %w", base, err)
	}
	return path, nil
}
