package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/qbandev/gethtml/internal/config"
	"github.com/qbandev/gethtml/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		stop()
		os.Exit(1)
	}
}

// app carries state shared by every subcommand of one invocation.
type app struct {
	loader     *config.Loader
	configPath string
	stdout     io.Writer
	stderr     io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{loader: config.NewLoader(), stdout: stdout, stderr: stderr}

	rootCmd := &cobra.Command{
		Use:           "gethtml",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		Short:         "Fetch the raw HTML of public web pages safely",
		Long:          "Fetches a page's HTML with a size cap and a deadline, refusing hosts that resolve to private, loopback or otherwise internal networks. Runs as a one-shot CLI, a Telegram bot or an HTTP service.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: trace, debug, info, warn or error")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: console or json")

	rootCmd.AddCommand(
		newFetchCmd(a),
		newCheckCmd(a),
		newBotCmd(a),
		newServeCmd(a),
		newConfigCmd(a),
	)
	return rootCmd
}

// load binds the persistent flags plus bindings (config key to flag name) and returns the
// merged config and a logger. The closer flushes the log file, if any.
func (a *app) load(cmd *cobra.Command, bindings map[string]string) (config.Config, zerolog.Logger, io.Closer, error) {
	all := map[string]string{"log.level": "log-level", "log.format": "log-format"}
	for key, name := range bindings {
		all[key] = name
	}
	for key, name := range all {
		if err := a.loader.BindFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return config.Config{}, zerolog.Nop(), nil, err
		}
	}

	cfg, err := a.loader.Load(a.configPath)
	if err != nil {
		return config.Config{}, zerolog.Nop(), nil, err
	}

	log, closer, err := logging.New(cfg.Log, a.stderr)
	if err != nil {
		return config.Config{}, zerolog.Nop(), nil, fmt.Errorf("creating logger: %w", err)
	}
	return cfg, log, closer, nil
}
