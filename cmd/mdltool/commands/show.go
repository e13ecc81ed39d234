package commands

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/docker/go-units"
	"github.com/docker/model-distribution/pkg/gguf"
	"github.com/spf13/cobra"
)

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show MODEL",
		Short: "Show a stored model's configuration",
		Long: `Show the runtime configuration resolved from a stored model's layers
and the architecture read from its weights.

Examples:
  mdltool show llama3.2`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd, a, args[0])
		},
	}
}

func runShow(cmd *cobra.Command, a *app, name string) error {
	if err := a.initClient(); err != nil {
		return err
	}
	info, err := a.client.GetModelInfo(name)
	if err != nil {
		return fmt.Errorf("reading %s: %w", name, err)
	}
	cfg, err := a.client.ResolveModelfile(name)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", name, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Model:         %s:%s\n", info.Name, info.Tag)
	fmt.Fprintf(out, "Digest:        %s\n", info.Digest)
	fmt.Fprintf(out, "Size:          %s\n", units.HumanSize(float64(info.Size)))
	printIf(out, "Format:        %s\n", info.Format)
	printIf(out, "Families:      %s\n", strings.Join(info.Families, ", "))
	printIf(out, "Parameters:    %s\n", info.ParameterSize)
	printIf(out, "Quantization:  %s\n", info.QuantizationLevel)
	printIf(out, "Base model:    %s\n", cfg.BaseModel)
	printIf(out, "Projector:     %s\n", cfg.Projector)
	for _, adapter := range cfg.LoRAAdapters {
		fmt.Fprintf(out, "Adapter:       %s (%s, scale %g)\n", adapter.Name, adapter.Path, adapter.Scale)
	}
	if len(cfg.Parameters) > 0 {
		keys := make([]string, 0, len(cfg.Parameters))
		for k := range cfg.Parameters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintln(out, "Parameters:")
		for _, k := range keys {
			fmt.Fprintf(out, "  %-20s %s\n", k, cfg.Parameters[k])
		}
	}
	printIf(out, "System:\n  %s\n", cfg.SystemPrompt)
	printIf(out, "Template:\n  %s\n", cfg.TemplateFormat)

	if cfg.BaseModel == "" {
		return nil
	}
	p := gguf.New(gguf.WithLogger(a.log))
	if err := p.ParseFile(cfg.BaseModel); err != nil {
		a.log.Warnf("Reading architecture: %v", err)
		return nil
	}
	defer p.Close()
	printArchitecture(out, p.Architecture())
	return nil
}

func printIf(w io.Writer, format, value string) {
	if value != "" {
		fmt.Fprintf(w, format, value)
	}
}

func printArchitecture(w io.Writer, arch gguf.Architecture) {
	fmt.Fprintf(w, "Architecture:  %s\n", arch.Name)
	rows := []struct {
		label string
		value uint64
	}{
		{"context length", arch.ContextLength},
		{"embedding length", arch.EmbeddingLength},
		{"block count", arch.BlockCount},
		{"feed forward length", arch.FeedForwardLength},
		{"head count", arch.HeadCount},
		{"head count kv", arch.HeadCountKV},
		{"rope dimensions", arch.RopeDimensionCount},
	}
	for _, r := range rows {
		if r.value != 0 {
			fmt.Fprintf(w, "  %-20s %d\n", r.label, r.value)
		}
	}
	if arch.RopeFreqBase != 0 {
		fmt.Fprintf(w, "  %-20s %g\n", "rope freq base", arch.RopeFreqBase)
	}
	if arch.HasVision {
		fmt.Fprintf(w, "  %-20s %d\n", "vision patch size", arch.VisionPatchSize)
	}
}
