package types

import (
	"strings"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	configDigest = "sha256:1111111111111111111111111111111111111111111111111111111111111111"
	modelDigest  = "sha256:2222222222222222222222222222222222222222222222222222222222222222"
	paramsDigest = "sha256:3333333333333333333333333333333333333333333333333333333333333333"
)

const ollamaManifest = `{
  "schemaVersion": 2,
  "mediaType": "application/vnd.docker.distribution.manifest.v2+json",
  "config": {
    "mediaType": "application/vnd.docker.container.image.v1+json",
    "digest": "` + configDigest + `",
    "size": 485
  },
  "layers": [
    {
      "mediaType": "application/vnd.ollama.image.model",
      "digest": "` + modelDigest + `",
      "size": 2019377376
    },
    {
      "mediaType": "application/vnd.ollama.image.params",
      "digest": "` + paramsDigest + `",
      "size": 110
    }
  ]
}`

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest(strings.NewReader(ollamaManifest))
	require.NoError(t, err)

	want := NewManifest(
		Layer{MediaType: MediaTypeConfig, Digest: configDigest, Size: 485},
		Layer{MediaType: MediaTypeModel, Digest: modelDigest, Size: 2019377376},
		Layer{MediaType: MediaTypeParams, Digest: paramsDigest, Size: 110},
	)
	if diff := cmp.Diff(want, m); diff != "" {
		t.Errorf("manifest mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, m.HasConfig())
	assert.EqualValues(t, 485+2019377376+110, m.TotalSize())
	assert.Equal(t, []string{configDigest, modelDigest, paramsDigest}, m.Digests())
	assert.Len(t, m.Blobs(), 3)
}

func TestParseManifestDefaultsMediaType(t *testing.T) {
	m, err := ParseManifest(strings.NewReader(`{"schemaVersion":2,"layers":[]}`))
	require.NoError(t, err)
	assert.Equal(t, MediaTypeManifestV2, m.MediaType)
	assert.False(t, m.HasConfig())
	assert.Empty(t, m.Blobs())
	assert.Empty(t, m.Digests())
}

func TestParseManifestInvalid(t *testing.T) {
	_, err := ParseManifest(strings.NewReader(`{"layers": [`))
	require.ErrorIs(t, err, ErrInvalidManifest)
	assert.True(t, errdefs.IsInvalidArgument(err))
}

func TestManifestDigestsAreUnique(t *testing.T) {
	m := NewManifest(Layer{},
		Layer{MediaType: MediaTypeModel, Digest: modelDigest},
		Layer{MediaType: MediaTypeProjector, Digest: modelDigest},
	)
	assert.Equal(t, []string{modelDigest}, m.Digests())
}

func TestLayerDescriptor(t *testing.T) {
	desc, err := Layer{MediaType: MediaTypeModel, Digest: strings.ToUpper(modelDigest[:7]) + modelDigest[7:], Size: 10}.Descriptor()
	require.NoError(t, err)
	assert.Equal(t, modelDigest, desc.Digest.String())
	assert.EqualValues(t, 10, desc.Size)

	_, err = Layer{Digest: "sha256:short"}.Descriptor()
	assert.True(t, errdefs.IsInvalidArgument(err))
}

func TestIsModelLayer(t *testing.T) {
	assert.True(t, IsModelLayer(MediaTypeModel))
	assert.True(t, IsModelLayer(MediaTypeDockerLayer))
	assert.False(t, IsModelLayer(MediaTypeParams))
	assert.False(t, IsModelLayer(MediaTypeAdapter))
}
