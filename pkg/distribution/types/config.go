package types

import (
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

const (
	// MediaTypeManifestV2 is the manifest media type served by Ollama-style registries.
	MediaTypeManifestV2 = "application/vnd.docker.distribution.manifest.v2+json"

	// MediaTypeConfig is the media type of the model config blob.
	MediaTypeConfig = "application/vnd.docker.container.image.v1+json"

	// MediaTypeModel indicates a GGUF file holding the base model weights.
	MediaTypeModel = "application/vnd.ollama.image.model"

	// MediaTypeAdapter indicates a LoRA adapter, either as a GGUF file or as
	// a JSON/Modelfile description of one.
	MediaTypeAdapter = "application/vnd.ollama.image.adapter"

	// MediaTypeProjector indicates a multimodal projector file.
	MediaTypeProjector = "application/vnd.ollama.image.projector"

	MediaTypeTemplate = "application/vnd.ollama.image.template"
	MediaTypeSystem   = "application/vnd.ollama.image.system"
	MediaTypeParams   = "application/vnd.ollama.image.params"
	MediaTypeLicense  = "application/vnd.ollama.image.license"
	MediaTypeMessages = "application/vnd.ollama.image.messages"

	// MediaTypeDockerLayer is the generic docker rootfs layer, treated as model weights.
	MediaTypeDockerLayer = "application/vnd.docker.image.rootfs.diff.tar.gzip"
)

// IsModelLayer reports whether layers of this media type carry the base
// model weights.
func IsModelLayer(mediaType string) bool {
	switch mediaType {
	case MediaTypeModel, MediaTypeDockerLayer, ocispec.MediaTypeImageLayer, ocispec.MediaTypeImageLayerGzip:
		return true
	}
	return false
}

// ConfigFile is the model config blob referenced by a manifest.
type ConfigFile struct {
	ModelFormat   string   `json:"model_format,omitempty"`
	ModelFamily   string   `json:"model_family,omitempty"`
	ModelFamilies []string `json:"model_families,omitempty"`
	ModelType     string   `json:"model_type,omitempty"`
	FileType      string   `json:"file_type,omitempty"`
	Architecture  string   `json:"architecture,omitempty"`
	OS            string   `json:"os,omitempty"`
}

// ModelfileConfig is the runtime configuration resolved from a manifest's
// layers.
type ModelfileConfig struct {
	BaseModel      string            `json:"base_model,omitempty"`
	Projector      string            `json:"projector,omitempty"`
	LoRAAdapters   []LoRAAdapter     `json:"adapters,omitempty"`
	Parameters     map[string]string `json:"parameters,omitempty"`
	SystemPrompt   string            `json:"system_prompt,omitempty"`
	TemplateFormat string            `json:"template_format,omitempty"`
}

// NewModelfileConfig returns an empty config with an initialized parameter map.
func NewModelfileConfig() *ModelfileConfig {
	return &ModelfileConfig{Parameters: make(map[string]string)}
}

// DefaultAdapterScale is applied when an adapter does not specify one.
const DefaultAdapterScale = 1.0

// LoRAAdapter is a supplementary weight file applied on top of the base model.
type LoRAAdapter struct {
	Name   string  `json:"name"`
	Path   string  `json:"path"`
	Scale  float64 `json:"scale"`
	Digest string  `json:"digest,omitempty"`
	Size   int64   `json:"size,omitempty"`
}
