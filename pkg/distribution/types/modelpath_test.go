package types

import (
	"errors"
	"strings"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseModelPath(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected ModelPath
	}{
		{
			name:  "bare repository",
			input: "llama3.2",
			expected: ModelPath{
				Scheme: DefaultScheme, Registry: DefaultRegistry, Namespace: DefaultNamespace,
				Repository: "llama3.2", Tag: DefaultTag,
			},
		},
		{
			name:  "repository with tag",
			input: "qwen2.5vl:7b",
			expected: ModelPath{
				Scheme: DefaultScheme, Registry: DefaultRegistry, Namespace: DefaultNamespace,
				Repository: "qwen2.5vl", Tag: "7b",
			},
		},
		{
			name:  "namespace",
			input: "someuser/model:q4",
			expected: ModelPath{
				Scheme: DefaultScheme, Registry: DefaultRegistry, Namespace: "someuser",
				Repository: "model", Tag: "q4",
			},
		},
		{
			name:  "fully qualified",
			input: "registry://registry.ollama.ai/library/llama3.2:latest",
			expected: ModelPath{
				Scheme: DefaultScheme, Registry: DefaultRegistry, Namespace: DefaultNamespace,
				Repository: "llama3.2", Tag: DefaultTag,
			},
		},
		{
			name:  "custom registry with port and plain http",
			input: "http://localhost:5000/team/model:v1",
			expected: ModelPath{
				Scheme: "http", Registry: "localhost:5000", Namespace: "team",
				Repository: "model", Tag: "v1",
			},
		},
		{
			name:  "nested namespace",
			input: "hf.co/org/group/model",
			expected: ModelPath{
				Scheme: DefaultScheme, Registry: "hf.co", Namespace: "org/group",
				Repository: "model", Tag: DefaultTag,
			},
		},
		{
			name:  "empty tag keeps default",
			input: "model:",
			expected: ModelPath{
				Scheme: DefaultScheme, Registry: DefaultRegistry, Namespace: DefaultNamespace,
				Repository: "model", Tag: DefaultTag,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseModelPath(tt.input))
		})
	}
}

func TestParseModelPathNormalizes(t *testing.T) {
	short := ParseModelPath("llama3.2")
	long := ParseModelPath("registry://registry.ollama.ai/library/llama3.2:latest")
	assert.Equal(t, long, short)
	assert.Equal(t, "registry.ollama.ai/library/llama3.2:latest", short.String())
	assert.Equal(t, "llama3.2", short.DisplayName())
}

func TestModelPathDisplayNameRoundTrips(t *testing.T) {
	for _, name := range []string{
		"llama3.2",
		"llama3.2:1b",
		"someuser/model",
		"example.com/team/model:v2",
		"http://localhost:5000/team/model",
	} {
		t.Run(name, func(t *testing.T) {
			mp := ParseModelPath(name)
			assert.Equal(t, name, mp.DisplayName())
			assert.Equal(t, mp, ParseModelPath(mp.DisplayName()))
			assert.Equal(t, mp, ParseModelPath(mp.String()))
		})
	}
}

func TestModelPathBaseURL(t *testing.T) {
	assert.Equal(t, DefaultBaseURL, ParseModelPath("llama3.2").BaseURL())
	assert.Equal(t, "http://localhost:5000", ParseModelPath("http://localhost:5000/ns/m").BaseURL())
	assert.Equal(t, "https://example.com", ParseModelPath("https://example.com/ns/m").BaseURL())
}

func TestModelPathValidate(t *testing.T) {
	valid := []string{"llama3.2", "someuser/model:q4_K_M", "localhost:5000/ns/model:v1", "hf.co/Org/Model-GGUF"}
	for _, name := range valid {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, ParseModelPath(name).Validate())
		})
	}

	invalid := []string{"", "bad name", "ns/model:bad/tag", "-lead/model", "model:" + strings.Repeat("a", 200)}
	for _, name := range invalid {
		t.Run("invalid "+name, func(t *testing.T) {
			err := ParseModelPath(name).Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidModelName))
			assert.True(t, errdefs.IsInvalidArgument(err))
		})
	}
}
