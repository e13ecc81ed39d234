package modelfile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/docker/model-distribution/pkg/distribution/types"
)

func looksLikeJSON(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}")
}

// jsonConfig mirrors types.ModelfileConfig with loosely typed parameters.
type jsonConfig struct {
	BaseModel      string                     `json:"base_model"`
	Projector      string                     `json:"projector"`
	Adapters       []jsonAdapter              `json:"adapters"`
	Parameters     map[string]json.RawMessage `json:"parameters"`
	SystemPrompt   string                     `json:"system_prompt"`
	TemplateFormat string                     `json:"template_format"`
}

type jsonAdapter struct {
	Name   string   `json:"name"`
	Path   string   `json:"path"`
	Scale  *float64 `json:"scale"`
	Digest string   `json:"digest"`
	Size   int64    `json:"size"`
}

func (a jsonAdapter) adapter() types.LoRAAdapter {
	scale := types.DefaultAdapterScale
	if a.Scale != nil {
		scale = *a.Scale
	}
	return types.LoRAAdapter{
		Name:   a.Name,
		Path:   a.Path,
		Scale:  scale,
		Digest: a.Digest,
		Size:   a.Size,
	}
}

// ParseFromJSON decodes a configuration serialized as JSON.
func ParseFromJSON(data []byte) (*types.ModelfileConfig, error) {
	var raw jsonConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg := types.NewModelfileConfig()
	cfg.BaseModel = raw.BaseModel
	cfg.Projector = raw.Projector
	cfg.SystemPrompt = raw.SystemPrompt
	cfg.TemplateFormat = raw.TemplateFormat
	for _, a := range raw.Adapters {
		cfg.LoRAAdapters = append(cfg.LoRAAdapters, a.adapter())
	}
	for k, v := range raw.Parameters {
		cfg.Parameters[k] = jsonString(v)
	}
	return cfg, nil
}

// ParseFromFile reads a configuration from path. Content wrapped in braces
// is decoded as JSON and anything else as Modelfile instructions.
func ParseFromFile(path string) (*types.ModelfileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if looksLikeJSON(string(data)) {
		return ParseFromJSON(bytes.TrimSpace(data))
	}
	return ParseInstructions(string(data))
}

func parseAdapterJSON(data []byte) (types.LoRAAdapter, error) {
	var a jsonAdapter
	if err := json.Unmarshal(data, &a); err != nil {
		return types.LoRAAdapter{}, err
	}
	return a.adapter(), nil
}

func decodeParams(data []byte) (map[string]string, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	params := make(map[string]string, len(raw))
	for k, v := range raw {
		params[k] = jsonString(v)
	}
	return params, nil
}

// jsonString returns a JSON string's value, or the compacted JSON text of
// any other value.
func jsonString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
