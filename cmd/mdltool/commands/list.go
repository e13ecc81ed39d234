package commands

import (
	"fmt"

	"github.com/docker/go-units"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newListCmd(a *app) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List stored models",
		Long: `List the models in the local store. Vision and multimodal models are
hidden unless --all is given.

Examples:
  mdltool list
  mdltool ls --all`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, a, all)
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include vision and multimodal models")
	return cmd
}

func runList(cmd *cobra.Command, a *app, all bool) error {
	if err := a.initClient(); err != nil {
		return err
	}

	list := a.client.ListModels
	if all {
		list = a.client.ListAllModels
	}
	names, err := list()
	if err != nil {
		return fmt.Errorf("listing models: %w", err)
	}
	if len(names) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No models")
		return nil
	}

	table := tablewriter.NewTable(cmd.OutOrStdout(),
		tablewriter.WithHeader([]string{"MODEL", "SIZE", "DIGEST", "STATUS"}),
	)
	for _, name := range names {
		info, err := a.client.GetModelInfo(name)
		if err != nil {
			a.log.Warnf("Reading %s: %v", name, err)
			continue
		}
		status := "complete"
		if !a.client.IsModelDownloaded(name) {
			status = "incomplete"
		}
		table.Append([]string{
			name,
			units.HumanSize(float64(info.Size)),
			shortID(info.Digest),
			status,
		})
	}
	return table.Render()
}
