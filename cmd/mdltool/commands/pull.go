package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"
)

func newPullCmd(a *app) *cobra.Command {
	var async, jsonOutput bool
	cmd := &cobra.Command{
		Use:   "pull MODEL",
		Short: "Pull a model from a registry",
		Long: `Pull a model's manifest and blobs into the local store. Blobs already
present are not downloaded again.

Examples:
  mdltool pull llama3.2
  mdltool pull someuser/mistral:7b
  mdltool pull --async registry.example.com/team/model:q4`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.initClient(); err != nil {
				return err
			}
			var w io.Writer = &progressPrinter{out: cmd.OutOrStdout()}
			if jsonOutput {
				w = cmd.OutOrStdout()
			}
			if async {
				return runPullAsync(cmd, a, args[0], w)
			}
			return runPull(cmd, a, args[0], w)
		},
	}
	cmd.Flags().BoolVar(&async, "async", false, "Pull in the background and wait for completion or interrupt")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print progress as JSON lines")
	return cmd
}

func runPull(cmd *cobra.Command, a *app, name string, w io.Writer) error {
	result, err := a.client.PullModel(cmd.Context(), name, w)
	if err != nil {
		return fmt.Errorf("pulling %s: %w", name, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Pulled %s (%s downloaded in %s)\n",
		name, units.HumanSize(float64(result.DownloadedBytes)), result.Duration.Round(time.Millisecond))
	return nil
}

func runPullAsync(cmd *cobra.Command, a *app, name string, w io.Writer) error {
	h := a.client.PullModelAsync(cmd.Context(), name, w)
	select {
	case <-h.Done():
	case <-cmd.Context().Done():
		fmt.Fprintln(cmd.ErrOrStderr(), "Interrupted, cancelling pull")
		h.Cancel()
	}
	result, err := h.Wait()
	if err != nil {
		return fmt.Errorf("pulling %s: %w", name, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Pulled %s (%s downloaded in %s)\n",
		name, units.HumanSize(float64(result.DownloadedBytes)), result.Duration.Round(time.Millisecond))
	return nil
}

// progressMessage is the subset of the JSON progress stream that is shown
// to users.
type progressMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Layer   struct {
		ID string `json:"id"`
	} `json:"layer"`
}

// progressPrinter renders the JSON progress stream as one line per update.
type progressPrinter struct {
	out io.Writer
	buf bytes.Buffer
}

func (p *progressPrinter) Write(b []byte) (int, error) {
	p.buf.Write(b)
	for {
		line, err := p.buf.ReadBytes('\n')
		if err != nil {
			// keep the partial line for the next write
			p.buf.Reset()
			p.buf.Write(line)
			return len(b), nil
		}
		if err := p.printLine(bytes.TrimSpace(line)); err != nil {
			return len(b), err
		}
	}
}

func (p *progressPrinter) printLine(line []byte) error {
	if len(line) == 0 {
		return nil
	}
	var msg progressMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		_, err := fmt.Fprintln(p.out, string(line))
		return err
	}
	var err error
	switch msg.Type {
	case "progress":
		_, err = fmt.Fprintf(p.out, "%s: %s\n", shortID(msg.Layer.ID), msg.Message)
	case "error":
		// returned to the caller as an error
	default:
		_, err = fmt.Fprintln(p.out, msg.Message)
	}
	return err
}

func shortID(dgst string) string {
	id := strings.TrimPrefix(dgst, "sha256:")
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
