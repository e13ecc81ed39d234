package types

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// ErrInvalidManifest is returned for manifests that cannot be decoded.
var ErrInvalidManifest = fmt.Errorf("invalid manifest: %w", errdefs.ErrInvalidArgument)

// Layer references one blob by digest.
type Layer struct {
	MediaType string `json:"mediaType"`
	Digest    string `json:"digest"`
	Size      int64  `json:"size"`
}

// Descriptor converts the layer into an OCI descriptor, validating its digest.
func (l Layer) Descriptor() (ocispec.Descriptor, error) {
	d, err := digest.Parse(strings.ToLower(l.Digest))
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("layer digest %q: %w: %w", l.Digest, err, errdefs.ErrInvalidArgument)
	}
	return ocispec.Descriptor{
		MediaType: l.MediaType,
		Digest:    d,
		Size:      l.Size,
	}, nil
}

// Manifest lists a model's config and layer blobs. It never embeds content.
type Manifest struct {
	SchemaVersion int     `json:"schemaVersion"`
	MediaType     string  `json:"mediaType"`
	Config        Layer   `json:"config"`
	Layers        []Layer `json:"layers"`
}

// NewManifest returns a schema 2 manifest with the default media type.
func NewManifest(config Layer, layers ...Layer) *Manifest {
	return &Manifest{
		SchemaVersion: 2,
		MediaType:     MediaTypeManifestV2,
		Config:        config,
		Layers:        layers,
	}
}

// ParseManifest decodes a manifest document.
func ParseManifest(r io.Reader) (*Manifest, error) {
	var m Manifest
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}
	if m.MediaType == "" {
		m.MediaType = MediaTypeManifestV2
	}
	return &m, nil
}

// HasConfig reports whether the manifest references a config blob.
func (m *Manifest) HasConfig() bool {
	return m.Config.Digest != ""
}

// TotalSize sums the sizes of the config and all layers.
func (m *Manifest) TotalSize() int64 {
	total := m.Config.Size
	for _, l := range m.Layers {
		total += l.Size
	}
	return total
}

// Digests returns every blob digest the manifest references, config first,
// without duplicates.
func (m *Manifest) Digests() []string {
	seen := make(map[string]struct{}, len(m.Layers)+1)
	var out []string
	add := func(d string) {
		if d == "" {
			return
		}
		if _, ok := seen[d]; ok {
			return
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	add(m.Config.Digest)
	for _, l := range m.Layers {
		add(l.Digest)
	}
	return out
}

// Blobs returns the config (when present) followed by the layers, in
// download order.
func (m *Manifest) Blobs() []Layer {
	var out []Layer
	if m.HasConfig() {
		out = append(out, m.Config)
	}
	return append(out, m.Layers...)
}
