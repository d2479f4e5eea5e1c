package main

import (
	"github.com/spf13/cobra"

	"github.com/qbandev/gethtml/internal/pipeline"
	"github.com/qbandev/gethtml/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve GET /v1/fetch?url= over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, closer, err := a.load(cmd, map[string]string{"server.addr": "addr"})
			if err != nil {
				return err
			}
			defer func() { _ = closer.Close() }()

			p, err := pipeline.NewFromConfig(cfg, log)
			if err != nil {
				return err
			}
			return server.New(p, cfg.Server, log.With().Str("component", "http").Logger()).Listen(cmd.Context())
		},
	}

	cmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
	return cmd
}
