package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qbandev/gethtml/internal/fetch"
	"github.com/qbandev/gethtml/internal/output"
	"github.com/qbandev/gethtml/internal/pipeline"
)

// userError prints as the end-user message while keeping the cause for errors.Is.
type userError struct {
	err error
}

func (e userError) Error() string { return pipeline.UserMessage(e.err) }
func (e userError) Unwrap() error { return e.err }

func newFetchCmd(a *app) *cobra.Command {
	var (
		format string
		outDir string
		quiet  bool
	)

	cmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "Fetch one page and print or save its HTML",
		Long: "Normalizes the URL, checks the host, downloads at most fetch.max_download_bytes and prints the page inline " +
			"when it is short enough. Longer pages are written to --out-dir, or to stdout when no directory is given.",
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != output.FormatText && format != output.FormatJSON {
				return fmt.Errorf("invalid output format %q: must be text or json", format)
			}

			raw := pipeline.Argument(args)
			if raw == "" {
				return errors.New(pipeline.MsgUsage)
			}

			cfg, log, closer, err := a.load(cmd, map[string]string{
				"fetch.max_download_bytes": "max-bytes",
				"fetch.max_inline_chars":   "inline-limit",
				"fetch.timeout":            "timeout",
				"fetch.browser_tls":        "browser-tls",
			})
			if err != nil {
				return err
			}
			defer func() { _ = closer.Close() }()

			target, err := fetch.Normalize(raw)
			if err != nil {
				return userError{err}
			}

			p, err := pipeline.NewFromConfig(cfg, log)
			if err != nil {
				return err
			}
			if !quiet {
				fmt.Fprintln(a.stderr, pipeline.ProgressMessage(target))
			}

			reply, err := p.RunTarget(cmd.Context(), target)
			if err != nil {
				return userError{err}
			}

			var saved string
			if reply.Mode == output.ModeFile {
				dir := outDir
				if dir == "" && format == output.FormatJSON {
					dir = "."
				}
				if dir != "" {
					if saved, err = output.SaveFile(dir, *reply); err != nil {
						return err
					}
				}
			}
			return output.Write(a.stdout, *reply, saved, format)
		},
	}

	cmd.Flags().StringVarP(&format, "output", "o", output.FormatText, "Output format: text or json")
	cmd.Flags().StringVar(&outDir, "out-dir", "", "Directory for pages too long to print inline (json output defaults to .)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print the progress line")
	cmd.Flags().Int("max-bytes", 0, "Download cap in bytes (overrides fetch.max_download_bytes)")
	cmd.Flags().Int("inline-limit", 0, "Longest page, in characters, printed inline (overrides fetch.max_inline_chars)")
	cmd.Flags().Duration("timeout", 0, "Overall request deadline (overrides fetch.timeout)")
	cmd.Flags().Bool("browser-tls", false, "Use a browser-like TLS handshake (overrides fetch.browser_tls)")
	return cmd
}
