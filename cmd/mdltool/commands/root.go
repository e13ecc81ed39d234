// Package commands implements the mdltool CLI commands.
package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/docker/model-distribution/pkg/distribution/distribution"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// app carries the global flags and the lazily created client.
type app struct {
	storePath string
	registry  string
	verbose   bool
	logJSON   bool

	log    *logrus.Entry
	client *distribution.Client
}

// NewRootCmd returns the mdltool command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:   "mdltool",
		Short: "Manage models in a local model store",
		Long: `mdltool pulls models from an Ollama-compatible registry into a local
content-addressed store and inspects, verifies and removes them.

Example:
  mdltool pull llama3.2
  mdltool list`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.setupLogging(cmd)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.storePath, "store", distribution.DefaultStorePath(), "Model store directory")
	flags.StringVar(&a.registry, "registry", "", "Registry used for unqualified model names")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "Enable verbose output")
	flags.BoolVar(&a.logJSON, "log-json", false, "Output logs in JSON format")

	rootCmd.AddCommand(
		newPullCmd(a),
		newListCmd(a),
		newShowCmd(a),
		newInspectCmd(a),
		newVerifyCmd(a),
		newRmCmd(a),
		newPruneCmd(a),
		newDuCmd(a),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err := NewRootCmd().ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

func (a *app) setupLogging(cmd *cobra.Command) {
	logger := logrus.New()
	logger.SetOutput(cmd.ErrOrStderr())
	logger.SetLevel(logrus.WarnLevel)
	if a.verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	if a.logJSON {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	if level := os.Getenv("MDLTOOL_LOG_LEVEL"); level != "" {
		if lvl, err := logrus.ParseLevel(level); err == nil {
			logger.SetLevel(lvl)
		}
	}

	a.log = logger.WithField("component", "mdltool")
}

// initClient creates the distribution client on first use.
func (a *app) initClient() error {
	if a.client != nil {
		return nil
	}
	opts := []distribution.Option{
		distribution.WithStoreRootPath(a.storePath),
		distribution.WithLogger(a.log),
		distribution.WithUserAgent("mdltool/" + Version),
	}
	if a.registry != "" {
		registry := strings.TrimSuffix(a.registry, "/")
		if !strings.Contains(registry, "://") {
			registry = "https://" + registry
		}
		opts = append(opts, distribution.WithBaseURL(registry))
	}

	var err error
	a.client, err = distribution.NewClient(opts...)
	if err != nil {
		return fmt.Errorf("initializing store: %w", err)
	}
	return nil
}
