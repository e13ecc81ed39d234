package commands

import (
	"fmt"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"
)

func newVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify MODEL",
		Short: "Check the digests of a stored model's blobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.initClient(); err != nil {
				return err
			}
			if err := a.client.VerifyModel(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: OK\n", args[0])
			return nil
		},
	}
}

func newRmCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "rm MODEL [MODEL...]",
		Aliases: []string{"remove"},
		Short:   "Remove stored models",
		Long: `Remove models from the local store. Blobs still used by other models
are kept.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.initClient(); err != nil {
				return err
			}
			for _, name := range args {
				if err := a.client.DeleteModel(name); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", name)
			}
			return nil
		},
	}
}

func newPruneCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Remove blobs no model references",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.initClient(); err != nil {
				return err
			}
			before, err := a.client.GetCacheSize()
			if err != nil {
				return err
			}
			removed, err := a.client.CleanupUnusedBlobs()
			if err != nil {
				return err
			}
			after, err := a.client.GetCacheSize()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d blobs, reclaimed %s\n",
				removed, units.BytesSize(float64(before-after)))
			return nil
		},
	}
}

func newDuCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "du",
		Short: "Show the store's disk usage against the cache limit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.initClient(); err != nil {
				return err
			}
			size, err := a.client.GetCacheSize()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Store: %s\n", a.client.GetStorePath())
			fmt.Fprintf(out, "Used:  %s\n", units.BytesSize(float64(size)))
			limit := a.client.MaxCacheSize()
			if limit <= 0 {
				fmt.Fprintln(out, "Limit: none")
				return nil
			}
			fmt.Fprintf(out, "Limit: %s\n", units.BytesSize(float64(limit)))
			if over, err := a.client.CacheOverLimit(); err == nil && over {
				fmt.Fprintln(out, "The store exceeds its limit; run 'mdltool prune' or remove models")
			}
			return nil
		},
	}
}
