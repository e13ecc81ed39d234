package types

// ModelInfo describes a locally stored model.
type ModelInfo struct {
	Name              string            `json:"name"`
	Tag               string            `json:"tag"`
	Digest            string            `json:"digest"`
	Size              int64             `json:"size"`
	Format            string            `json:"format,omitempty"`
	Families          []string          `json:"families,omitempty"`
	ParameterSize     string            `json:"parameter_size,omitempty"`
	QuantizationLevel string            `json:"quantization_level,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}
