package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/qbandev/gethtml/internal/config"
	"github.com/qbandev/gethtml/internal/fetch"
	"github.com/qbandev/gethtml/internal/output"
	"github.com/qbandev/gethtml/internal/pipeline"
)

const greeting = "Hi! Send /gethtml <url> and I will fetch the page's HTML for you."

// pollBackoff is the pause after a failed getUpdates before polling again.
var pollBackoff = 3 * time.Second

// Runner processes a normalized target. *pipeline.Pipeline satisfies it.
type Runner interface {
	RunTarget(ctx context.Context, target fetch.Target) (*output.Reply, error)
}

type Bot struct {
	api         *Client
	runner      Runner
	pollTimeout time.Duration
	allowed     map[int64]struct{}
	sem         *semaphore.Weighted
	log         zerolog.Logger
}

func NewBot(api *Client, runner Runner, cfg config.Telegram, log zerolog.Logger) *Bot {
	var allowed map[int64]struct{}
	if len(cfg.AllowedChatIDs) > 0 {
		allowed = make(map[int64]struct{}, len(cfg.AllowedChatIDs))
		for _, id := range cfg.AllowedChatIDs {
			allowed[id] = struct{}{}
		}
	}
	return &Bot{
		api:         api,
		runner:      runner,
		pollTimeout: cfg.PollTimeout,
		allowed:     allowed,
		sem:         semaphore.NewWeighted(int64(max(cfg.MaxConcurrency, 1))),
		log:         log,
	}
}

// Run polls for updates until ctx is cancelled, then waits for in-flight commands.
func (b *Bot) Run(ctx context.Context) error {
	me, err := b.api.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("telegram getMe: %w", err)
	}
	b.log.Info().Str("username", me.Username).Int64("id", me.ID).Msg("bot started")

	var wg sync.WaitGroup
	defer wg.Wait()

	var offset int64
	for {
		if ctx.Err() != nil {
			return nil
		}

		updates, next, err := b.api.GetUpdates(ctx, offset, b.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.log.Warn().Err(err).Msg("getUpdates failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(pollBackoff):
			}
			continue
		}
		offset = next

		for _, update := range updates {
			if err := b.sem.Acquire(ctx, 1); err != nil {
				return nil
			}
			wg.Add(1)
			go func(u Update) {
				defer wg.Done()
				defer b.sem.Release(1)
				b.HandleUpdate(ctx, u)
			}(update)
		}
	}
}

// HandleUpdate dispatches one update to its command handler.
func (b *Bot) HandleUpdate(ctx context.Context, u Update) {
	msg := u.Message
	if msg == nil || msg.Chat == nil || strings.TrimSpace(msg.Text) == "" {
		return
	}
	chatID := msg.Chat.ID
	log := b.log.With().Int64("chat_id", chatID).Int64("update_id", u.UpdateID).Logger()

	if !b.isAllowed(chatID) {
		log.Debug().Msg("ignoring chat outside allow-list")
		return
	}

	cmd, rest := splitCommand(msg.Text)
	switch normalizeSlashCommand(cmd) {
	case "/start":
		b.send(ctx, log, chatID, greeting)
	case "/gethtml":
		b.handleGetHTML(ctx, log, chatID, rest)
	}
}

func (b *Bot) handleGetHTML(ctx context.Context, log zerolog.Logger, chatID int64, arg string) {
	raw := pipeline.Argument(strings.Fields(arg))
	if raw == "" {
		b.send(ctx, log, chatID, pipeline.MsgUsage)
		return
	}

	target, err := fetch.Normalize(raw)
	if err != nil {
		b.send(ctx, log, chatID, pipeline.UserMessage(err))
		return
	}
	b.send(ctx, log, chatID, pipeline.ProgressMessage(target))

	reply, err := b.runner.RunTarget(ctx, target)
	if err != nil {
		b.send(ctx, log, chatID, pipeline.UserMessage(err))
		return
	}

	if reply.Mode == output.ModeFile {
		if err := b.api.SendDocument(ctx, chatID, reply.Filename, reply.Data, reply.Caption); err != nil {
			log.Error().Err(err).Str("filename", reply.Filename).Msg("sendDocument failed")
		}
		return
	}
	b.send(ctx, log, chatID, reply.Text)
}

func (b *Bot) send(ctx context.Context, log zerolog.Logger, chatID int64, text string) {
	if err := b.api.SendMessage(ctx, chatID, text); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("sendMessage failed")
	}
}

func (b *Bot) isAllowed(chatID int64) bool {
	if b.allowed == nil {
		return true
	}
	_, ok := b.allowed[chatID]
	return ok
}

func splitCommand(text string) (cmd string, rest string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ""
	}
	i := strings.IndexAny(text, " \n\t")
	if i == -1 {
		return text, ""
	}
	return text[:i], strings.TrimSpace(text[i:])
}

// normalizeSlashCommand lowercases cmd and strips a "@BotName" suffix. Non-commands become "".
func normalizeSlashCommand(cmd string) string {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" || !strings.HasPrefix(cmd, "/") {
		return ""
	}
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	return strings.ToLower(cmd)
}
