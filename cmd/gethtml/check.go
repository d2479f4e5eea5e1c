package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/qbandev/gethtml/internal/fetch"
	"github.com/qbandev/gethtml/internal/output"
	"github.com/qbandev/gethtml/internal/pipeline"
)

const checkConcurrency = 8

func newCheckCmd(a *app) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "check <host|url>...",
		Short: "Report whether hosts are safe to fetch",
		Long:  "Resolves each host and reports the verdict the fetcher would reach, without downloading anything. Exits non-zero if any host is unsafe.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "table" && format != output.FormatJSON {
				return fmt.Errorf("invalid output format %q: must be table or json", format)
			}

			cfg, log, closer, err := a.load(cmd, nil)
			if err != nil {
				return err
			}
			defer func() { _ = closer.Close() }()

			guard, err := pipeline.NewGuard(cfg, log)
			if err != nil {
				return err
			}

			checks := make([]output.HostCheck, len(args))
			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(checkConcurrency)
			for i, arg := range args {
				i, arg := i, arg
				g.Go(func() error {
					checks[i] = checkHost(ctx, guard, arg)
					return nil
				})
			}
			_ = g.Wait()

			if err := output.WriteChecks(a.stdout, checks, format); err != nil {
				return err
			}

			unsafe := 0
			for _, c := range checks {
				if !c.Safe {
					unsafe++
				}
			}
			if unsafe > 0 {
				return fmt.Errorf("%d of %d hosts unsafe", unsafe, len(checks))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "output", "o", "table", "Output format: table or json")
	return cmd
}

// checkHost accepts a bare host or anything Normalize takes, so pasted URLs work too.
func checkHost(ctx context.Context, guard *fetch.Guard, arg string) output.HostCheck {
	target, err := fetch.Normalize(arg)
	if err != nil {
		return output.HostCheck{Host: arg, Reason: pipeline.MsgInvalidURL}
	}

	verdict := guard.Check(ctx, target.Host)
	check := output.HostCheck{Host: target.Host, Safe: !verdict.Unsafe, Reason: verdict.Reason}
	for _, addr := range verdict.Addrs {
		check.Addrs = append(check.Addrs, addr.String())
	}
	if verdict.Err != nil {
		check.Reason = fmt.Sprintf("%s: %v", verdict.Reason, verdict.Err)
	}
	return check
}
