package main

import (
	"github.com/spf13/cobra"

	"github.com/qbandev/gethtml/internal/pipeline"
	"github.com/qbandev/gethtml/internal/telegram"
)

func newBotCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bot",
		Short: "Run the Telegram bot",
		Long:  "Long-polls the Telegram Bot API and answers /start and /gethtml <url>. The token comes from telegram.token or GETHTML_TELEGRAM_TOKEN.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, closer, err := a.load(cmd, map[string]string{
				"telegram.max_concurrency": "max-concurrency",
			})
			if err != nil {
				return err
			}
			defer func() { _ = closer.Close() }()

			if err := cfg.Telegram.ValidateToken(); err != nil {
				return err
			}

			p, err := pipeline.NewFromConfig(cfg, log)
			if err != nil {
				return err
			}
			client := telegram.NewClient(nil, cfg.Telegram.APIBaseURL, cfg.Telegram.Token, log.With().Str("component", "telegram").Logger())
			bot := telegram.NewBot(client, p, cfg.Telegram, log.With().Str("component", "bot").Logger())

			log.Info().Int("max_concurrency", cfg.Telegram.MaxConcurrency).Msg("starting bot")
			return bot.Run(cmd.Context())
		},
	}

	cmd.Flags().Int("max-concurrency", 0, "Commands handled at once (overrides telegram.max_concurrency)")
	return cmd
}
