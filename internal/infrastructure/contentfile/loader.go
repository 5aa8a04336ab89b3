// Package contentfile reads content bundles authored as YAML or JSON.
package contentfile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/alem-hub/civiclearn/internal/domain/catalog"
	"github.com/alem-hub/civiclearn/internal/domain/shared"
)

// Format of an encoded bundle.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// MaxBundleSize caps an uploaded bundle.
const MaxBundleSize = 4 << 20

// DetectFormat picks a format from a file name or content type, falling back
// to sniffing the first non-space byte.
func DetectFormat(hint string, data []byte) Format {
	h := strings.ToLower(hint)
	switch {
	case strings.HasSuffix(h, ".json"), strings.Contains(h, "json"):
		return FormatJSON
	case strings.HasSuffix(h, ".yaml"), strings.HasSuffix(h, ".yml"), strings.Contains(h, "yaml"):
		return FormatYAML
	}
	if t := bytes.TrimSpace(data); len(t) > 0 && t[0] == '{' {
		return FormatJSON
	}
	return FormatYAML
}

// Parse decodes a bundle. Unknown fields and malformed documents are
// configuration errors.
func Parse(data []byte, format Format) (*catalog.Bundle, error) {
	const op = "ParseBundle"
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, shared.NewDomainError("catalog", op, shared.ErrConfiguration, "bundle is empty")
	}
	if len(data) > MaxBundleSize {
		return nil, shared.Errorf("catalog", op, shared.ErrConfiguration, "bundle exceeds %d bytes", MaxBundleSize)
	}

	var b catalog.Bundle
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&b); err != nil {
			return nil, shared.WrapError("catalog", op, shared.ErrConfiguration, "invalid JSON bundle", err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&b); err != nil && !errors.Is(err, io.EOF) {
			return nil, shared.WrapError("catalog", op, shared.ErrConfiguration, "invalid YAML bundle", err)
		}
	default:
		return nil, shared.Errorf("catalog", op, shared.ErrConfiguration, "unsupported bundle format %q", format)
	}
	return &b, nil
}

// LoadFile reads and parses the bundle at path.
func LoadFile(path string) (*catalog.Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle %s: %w", path, err)
	}
	return Parse(data, DetectFormat(filepath.Base(path), data))
}

// Marshal renders a bundle for display.
func Marshal(b *catalog.Bundle, format Format) ([]byte, error) {
	if format == FormatJSON {
		return json.MarshalIndent(b, "", "  ")
	}
	return yaml.Marshal(b)
}
