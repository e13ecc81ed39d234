package gguf

import (
	"fmt"
	"regexp"
	"strings"

	parser "github.com/gpustack/gguf-parser-go"
)

// Summary is the human-readable description of a model file.
type Summary struct {
	Architecture string
	Parameters   string
	Quantization string
	Size         string
}

// Summarize estimates parameter count, quantization and size for the file
// at path.
func Summarize(path string) (Summary, error) {
	f, err := parser.ParseGGUFFile(path)
	if err != nil {
		return Summary{}, fmt.Errorf("summarize %s: %w", path, err)
	}
	md := f.Metadata()
	return Summary{
		Architecture: strings.TrimSpace(md.Architecture),
		Parameters:   normalizeUnitString(md.Parameters.String()),
		Quantization: strings.TrimSpace(md.FileType.String()),
		Size:         normalizeUnitString(md.Size.String()),
	}, nil
}

// spaceBeforeUnitRegex matches the space between a number and its unit.
var spaceBeforeUnitRegex = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)\s+([A-Za-z]+)`)

// normalizeUnitString turns "16.78 M" into "16.78M".
func normalizeUnitString(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	return spaceBeforeUnitRegex.ReplaceAllString(s, "$1$2")
}
