package modelfile

import (
	"bufio"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/docker/model-distribution/pkg/distribution/types"
	"github.com/docker/model-distribution/pkg/internal/utils"
	"github.com/mattn/go-shellwords"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const multilineQuote = `"""`

// ParseInstructions parses Modelfile text. Instructions are matched
// case-insensitively:
//
//	FROM <path>
//	ADAPTER <path> [scale=<float>] [name=<id>]
//	PARAMETER <key> <value>
//	TEMPLATE <string>
//	SYSTEM <string>
//
// TEMPLATE and SYSTEM accept """-delimited values spanning several lines.
// Unknown instructions are ignored with a warning.
func ParseInstructions(text string) (*types.ModelfileConfig, error) {
	return parseInstructions(text, logrus.WithField("component", "modelfile"))
}

func parseInstructions(text string, log *logrus.Entry) (*types.ModelfileConfig, error) {
	decoded, _, err := transform.String(unicode.BOMOverride(unicode.UTF8.NewDecoder()), text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDirective, err)
	}

	cfg := types.NewModelfileConfig()
	scanner := bufio.NewScanner(strings.NewReader(decoded))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		instruction, args := line, ""
		if i := strings.IndexAny(line, " \t"); i >= 0 {
			instruction, args = line[:i], strings.TrimSpace(line[i+1:])
		}

		switch strings.ToUpper(instruction) {
		case "FROM":
			if args == "" {
				return nil, fmt.Errorf("%w: line %d: FROM requires a path", ErrInvalidDirective, lineNo)
			}
			cfg.BaseModel = unquote(args)
		case "ADAPTER":
			adapter, err := parseAdapter(args)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			cfg.LoRAAdapters = append(cfg.LoRAAdapters, adapter)
		case "PARAMETER":
			key, value := args, ""
			if i := strings.IndexAny(args, " \t"); i >= 0 {
				key, value = args[:i], strings.TrimSpace(args[i+1:])
			}
			if key == "" || value == "" {
				return nil, fmt.Errorf("%w: line %d: PARAMETER requires a key and a value", ErrInvalidDirective, lineNo)
			}
			cfg.Parameters[key] = unquote(value)
		case "TEMPLATE", "SYSTEM":
			value := args
			if strings.HasPrefix(value, multilineQuote) {
				value, lineNo = readMultiline(scanner, value, lineNo)
			} else {
				value = unquote(value)
			}
			if strings.EqualFold(instruction, "TEMPLATE") {
				cfg.TemplateFormat = value
			} else {
				cfg.SystemPrompt = value
			}
		default:
			log.Warnf("Ignoring unknown Modelfile instruction %q on line %d", utils.SanitizeForLog(instruction), lineNo)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading Modelfile: %w", err)
	}
	return cfg, nil
}

// readMultiline collects a """-delimited value that starts on the current
// line. An unterminated block runs to the end of the text.
func readMultiline(scanner *bufio.Scanner, first string, lineNo int) (string, int) {
	rest := strings.TrimPrefix(first, multilineQuote)
	if before, _, found := strings.Cut(rest, multilineQuote); found {
		return before, lineNo
	}
	lines := []string{rest}
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if before, _, found := strings.Cut(line, multilineQuote); found {
			lines = append(lines, before)
			break
		}
		lines = append(lines, line)
	}
	if lines[0] == "" {
		lines = lines[1:]
	}
	return strings.Join(lines, "\n"), lineNo
}

func parseAdapter(args string) (types.LoRAAdapter, error) {
	fields, err := shellwords.Parse(args)
	if err != nil {
		return types.LoRAAdapter{}, fmt.Errorf("%w: ADAPTER %v", ErrInvalidDirective, err)
	}
	if len(fields) == 0 {
		return types.LoRAAdapter{}, fmt.Errorf("%w: ADAPTER requires a path", ErrInvalidDirective)
	}

	adapter := types.LoRAAdapter{Path: fields[0], Scale: types.DefaultAdapterScale}
	for _, opt := range fields[1:] {
		key, value, ok := strings.Cut(opt, "=")
		if !ok {
			return types.LoRAAdapter{}, fmt.Errorf("%w: ADAPTER option %q", ErrInvalidDirective, utils.SanitizeForLog(opt))
		}
		switch strings.ToLower(key) {
		case "scale":
			scale, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return types.LoRAAdapter{}, fmt.Errorf("%w: ADAPTER scale %q", ErrInvalidDirective, utils.SanitizeForLog(value))
			}
			adapter.Scale = scale
		case "name":
			adapter.Name = value
		default:
			return types.LoRAAdapter{}, fmt.Errorf("%w: unknown ADAPTER option %q", ErrInvalidDirective, utils.SanitizeForLog(key))
		}
	}
	if adapter.Name == "" {
		adapter.Name = strings.TrimSuffix(filepath.Base(adapter.Path), filepath.Ext(adapter.Path))
	}
	return adapter, nil
}

// ParseParams parses a params blob, either a JSON object or key=value
// lines. JSON values that are not strings keep their JSON text.
func ParseParams(text string) map[string]string {
	if looksLikeJSON(text) {
		if params, err := decodeParams([]byte(text)); err == nil {
			return params
		}
	}
	params := make(map[string]string)
	for _, line := range strings.Split(text, "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		params[key] = strings.TrimSpace(value)
	}
	return params
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
