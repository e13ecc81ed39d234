package modelfile

import (
	"testing"

	"github.com/containerd/errdefs"
	"github.com/docker/model-distribution/pkg/distribution/types"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gotest.tools/v3/fs"
)

func TestParseInstructions(t *testing.T) {
	text := "\ufeff# a comment\n" +
		"FROM /models/base.gguf\n" +
		"adapter \"/adapters/my style.gguf\" scale=0.25 name=style\n" +
		"ADAPTER /adapters/tone.gguf\n" +
		"PARAMETER temperature 0.8\n" +
		"parameter stop \"<|end|>\"\n" +
		"PARAMETER\tnum_ctx\t4096\n" +
		"SYSTEM 'Answer briefly.'\n" +
		"TEMPLATE \"\"\"{{ if .System }}{{ .System }}\n" +
		"{{ end }}{{ .Prompt }}\"\"\"\n" +
		"LICENSE MIT\n"

	cfg, err := ParseInstructions(text)
	require.NoError(t, err)

	want := &types.ModelfileConfig{
		BaseModel: "/models/base.gguf",
		LoRAAdapters: []types.LoRAAdapter{
			{Name: "style", Path: "/adapters/my style.gguf", Scale: 0.25},
			{Name: "tone", Path: "/adapters/tone.gguf", Scale: 1},
		},
		Parameters: map[string]string{
			"temperature": "0.8",
			"stop":        "<|end|>",
			"num_ctx":     "4096",
		},
		SystemPrompt:   "Answer briefly.",
		TemplateFormat: "{{ if .System }}{{ .System }}\n{{ end }}{{ .Prompt }}",
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("ParseInstructions mismatch (-want +got):\n%s", diff)
	}
}

func TestParseInstructionsMultilineSystem(t *testing.T) {
	cfg, err := ParseInstructions("SYSTEM \"\"\"\nLine one.\nLine two.\n\"\"\"\nPARAMETER top_k 40\n")
	require.NoError(t, err)
	assert.Equal(t, "Line one.\nLine two.\n", cfg.SystemPrompt)
	assert.Equal(t, "40", cfg.Parameters["top_k"])
}

func TestParseInstructionsErrors(t *testing.T) {
	for name, text := range map[string]string{
		"adapter without path":    "ADAPTER\n",
		"adapter bad scale":       "ADAPTER /a.gguf scale=high\n",
		"adapter unknown option":  "ADAPTER /a.gguf rank=8\n",
		"adapter unterminated":    "ADAPTER \"/a.gguf\n",
		"parameter without value": "PARAMETER temperature\n",
		"from without path":       "FROM\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseInstructions(text)
			require.ErrorIs(t, err, ErrInvalidDirective)
			assert.True(t, errdefs.IsInvalidArgument(err))
		})
	}
}

func TestParseParams(t *testing.T) {
	tests := []struct {
		name string
		text string
		want map[string]string
	}{
		{
			name: "json",
			text: `{"temperature": 0.5, "stop": ["a", "b"], "penalize_newline": true, "seed": "42"}`,
			want: map[string]string{"temperature": "0.5", "stop": `["a","b"]`, "penalize_newline": "true", "seed": "42"},
		},
		{
			name: "key value lines",
			text: "temperature = 0.5\nnum_ctx=2048\n\nignored line\n=novalue\n",
			want: map[string]string{"temperature": "0.5", "num_ctx": "2048"},
		},
		{
			name: "braces that are not json",
			text: "{not=json}",
			want: map[string]string{"{not": "json}"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseParams(tt.text))
		})
	}
}

func TestParseFromFile(t *testing.T) {
	dir := fs.NewDir(t, "modelfiles",
		fs.WithFile("config.json", `
{
  "base_model": "/models/base.gguf",
  "adapters": [{"name": "a", "path": "/adapters/a.gguf"}, {"path": "/adapters/b.gguf", "scale": 3}],
  "parameters": {"temperature": 0.1, "stop": "END"},
  "system_prompt": "sys",
  "template_format": "tmpl"
}
`),
		fs.WithFile("Modelfile", "FROM ./base.gguf\nSYSTEM hello\n"),
		fs.WithFile("broken.json", `{"adapters": "nope"}`),
	)
	defer dir.Remove()

	cfg, err := ParseFromFile(dir.Join("config.json"))
	require.NoError(t, err)
	assert.Equal(t, "/models/base.gguf", cfg.BaseModel)
	assert.Equal(t, []types.LoRAAdapter{
		{Name: "a", Path: "/adapters/a.gguf", Scale: 1},
		{Path: "/adapters/b.gguf", Scale: 3},
	}, cfg.LoRAAdapters)
	assert.Equal(t, map[string]string{"temperature": "0.1", "stop": "END"}, cfg.Parameters)
	assert.Equal(t, "sys", cfg.SystemPrompt)
	assert.Equal(t, "tmpl", cfg.TemplateFormat)

	cfg, err = ParseFromFile(dir.Join("Modelfile"))
	require.NoError(t, err)
	assert.Equal(t, "./base.gguf", cfg.BaseModel)
	assert.Equal(t, "hello", cfg.SystemPrompt)

	_, err = ParseFromFile(dir.Join("broken.json"))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = ParseFromFile(dir.Join("missing"))
	assert.Error(t, err)
}
