// Package modelfile turns the layers of a model manifest into the runtime
// configuration of the model: base weights, LoRA adapters, parameters,
// system prompt and prompt template.
package modelfile

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/docker/model-distribution/pkg/distribution/types"
	"github.com/docker/model-distribution/pkg/internal/utils"
	"github.com/sirupsen/logrus"
)

// BlobResolver maps a digest to the path of its blob. It returns "" for
// digests it cannot resolve.
type BlobResolver interface {
	BlobPath(digest string) string
}

// Resolver interprets manifests whose blobs live in a BlobResolver.
type Resolver struct {
	blobs            BlobResolver
	log              *logrus.Entry
	validateAdapters bool
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(log *logrus.Entry) Option {
	return func(r *Resolver) {
		if log != nil {
			r.log = log
		}
	}
}

// WithAdapterValidation drops adapters that fail ValidateLoRAAdapter.
func WithAdapterValidation(enabled bool) Option {
	return func(r *Resolver) {
		r.validateAdapters = enabled
	}
}

// NewResolver returns a resolver reading blobs from blobs.
func NewResolver(blobs BlobResolver, opts ...Option) *Resolver {
	r := &Resolver{
		blobs: blobs,
		log:   logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.WithField("component", "modelfile")
	return r
}

// ParseFromManifest builds the runtime configuration from the manifest's
// layers. Text layers that cannot be read are skipped with a warning.
func (r *Resolver) ParseFromManifest(m *types.Manifest) (*types.ModelfileConfig, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil manifest", ErrInvalidConfig)
	}
	cfg := types.NewModelfileConfig()
	for _, layer := range m.Layers {
		switch {
		case layer.MediaType == types.MediaTypeTemplate:
			if content, ok := r.readLayer(layer); ok {
				cfg.TemplateFormat = content
			}
		case layer.MediaType == types.MediaTypeSystem:
			if content, ok := r.readLayer(layer); ok {
				cfg.SystemPrompt = content
			}
		case layer.MediaType == types.MediaTypeParams:
			if content, ok := r.readLayer(layer); ok {
				for k, v := range ParseParams(content) {
					cfg.Parameters[k] = v
				}
			}
		case layer.MediaType == types.MediaTypeAdapter:
			r.resolveAdapter(layer, cfg)
		case layer.MediaType == types.MediaTypeProjector:
			cfg.Projector = r.blobs.BlobPath(layer.Digest)
		case types.IsModelLayer(layer.MediaType):
			cfg.BaseModel = r.blobs.BlobPath(layer.Digest)
		}
	}

	if r.validateAdapters {
		kept := cfg.LoRAAdapters[:0]
		for _, a := range cfg.LoRAAdapters {
			if err := ValidateLoRAAdapter(a); err != nil {
				r.log.Warnf("Skipping adapter %s: %v", utils.SanitizeForLog(a.Name), err)
				continue
			}
			kept = append(kept, a)
		}
		cfg.LoRAAdapters = kept
	}
	return cfg, nil
}

// resolveAdapter handles an adapter layer, which is either the GGUF adapter
// itself, a JSON description of one, or Modelfile instructions.
func (r *Resolver) resolveAdapter(layer types.Layer, cfg *types.ModelfileConfig) {
	path := r.blobs.BlobPath(layer.Digest)
	if path == "" {
		r.log.Warnf("Skipping adapter layer with invalid digest %q", utils.SanitizeForLog(layer.Digest))
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		r.log.Warnf("Skipping adapter layer %s: %v", layer.Digest, err)
		return
	}

	if bytes.HasPrefix(data, []byte("GGUF")) {
		cfg.LoRAAdapters = append(cfg.LoRAAdapters, types.LoRAAdapter{
			Name:   shortDigest(layer.Digest),
			Path:   path,
			Scale:  types.DefaultAdapterScale,
			Digest: layer.Digest,
			Size:   layer.Size,
		})
		return
	}

	if looksLikeJSON(string(data)) {
		a, err := parseAdapterJSON(data)
		if err == nil {
			a.Digest = layer.Digest
			a.Size = layer.Size
			cfg.LoRAAdapters = append(cfg.LoRAAdapters, a)
			return
		}
		r.log.Debugf("Adapter layer %s is not JSON: %v", layer.Digest, err)
	}

	parsed, err := parseInstructions(string(data), r.log)
	if err != nil {
		r.log.Warnf("Skipping adapter layer %s: %v", layer.Digest, err)
		return
	}
	for _, a := range parsed.LoRAAdapters {
		a.Digest = layer.Digest
		a.Size = layer.Size
		cfg.LoRAAdapters = append(cfg.LoRAAdapters, a)
	}
}

func (r *Resolver) readLayer(layer types.Layer) (string, bool) {
	path := r.blobs.BlobPath(layer.Digest)
	if path == "" {
		r.log.Warnf("Skipping %s layer with invalid digest %q", layer.MediaType, utils.SanitizeForLog(layer.Digest))
		return "", false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		r.log.Warnf("Skipping %s layer: %v", layer.MediaType, err)
		return "", false
	}
	if len(data) == 0 {
		return "", false
	}
	return string(data), true
}

func shortDigest(dgst string) string {
	const n = 12
	if _, hex, ok := strings.Cut(dgst, ":"); ok {
		dgst = hex
	}
	if len(dgst) > n {
		return dgst[:n]
	}
	return dgst
}
