package commands

import (
	"fmt"
	"strconv"

	"github.com/docker/model-distribution/pkg/gguf"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newInspectCmd(a *app) *cobra.Command {
	var metadata bool
	cmd := &cobra.Command{
		Use:   "inspect FILE",
		Short: "Inspect a GGUF file",
		Long: `Print the header, architecture and size summary of a GGUF file.

Examples:
  mdltool inspect ./model.gguf
  mdltool inspect --metadata ~/.ollama/models/blobs/sha256-...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd, a, args[0], metadata)
		},
	}
	cmd.Flags().BoolVar(&metadata, "metadata", false, "Print every metadata key")
	return cmd
}

func runInspect(cmd *cobra.Command, a *app, path string, metadata bool) error {
	p := gguf.New(gguf.WithLogger(a.log))
	if err := p.ParseFile(path); err != nil {
		return err
	}
	defer p.Close()

	out := cmd.OutOrStdout()
	h := p.Header()
	fmt.Fprintf(out, "GGUF version:  %d\n", h.Version)
	fmt.Fprintf(out, "Tensors:       %d\n", h.TensorCount)
	fmt.Fprintf(out, "Metadata keys: %d\n", h.MetadataKVCount)
	fmt.Fprintf(out, "Data offset:   %d (alignment %d)\n", p.TensorDataOffset(), p.Alignment())

	if summary, err := gguf.Summarize(path); err != nil {
		a.log.Debugf("Summary unavailable: %v", err)
	} else {
		printIf(out, "Parameters:    %s\n", summary.Parameters)
		printIf(out, "Quantization:  %s\n", summary.Quantization)
		printIf(out, "Size:          %s\n", summary.Size)
	}
	printArchitecture(out, p.Architecture())

	if !metadata {
		return nil
	}
	table := tablewriter.NewTable(out,
		tablewriter.WithHeader([]string{"KEY", "TYPE", "VALUE"}),
	)
	strs := p.MetadataStrings()
	for _, key := range p.MetadataKeys() {
		v, _ := p.Metadata(key)
		value, ok := strs[key]
		if !ok {
			value = "[" + strconv.Itoa(v.Len()) + " elements]"
		}
		table.Append([]string{key, v.Type.String(), value})
	}
	return table.Render()
}
