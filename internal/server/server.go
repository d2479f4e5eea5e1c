// Package server exposes the fetch pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/qbandev/gethtml/internal/config"
	"github.com/qbandev/gethtml/internal/fetch"
	"github.com/qbandev/gethtml/internal/output"
	"github.com/qbandev/gethtml/internal/pipeline"
)

// Response headers carried by file replies.
const (
	HeaderCaption   = "X-Gethtml-Caption"
	HeaderStatus    = "X-Gethtml-Status"
	HeaderTruncated = "X-Gethtml-Truncated"
)

// Runner processes raw user input. *pipeline.Pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context, raw string) (*output.Reply, error)
}

type Server struct {
	app  *fiber.App
	addr string
	log  zerolog.Logger
}

func New(runner Runner, cfg config.Server, log zerolog.Logger) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "gethtml",
		DisableStartupMessage: true,
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fiberErr *fiber.Error
			if errors.As(err, &fiberErr) {
				code = fiberErr.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})
	app.Use(recover.New())
	app.Use(accessLog(log))

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/v1/fetch", FetchHandler(runner))

	return &Server{app: app, addr: cfg.Addr, log: log}
}

// App exposes the fiber app, mainly for app.Test.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Listen(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.addr).Msg("http server listening")
		errCh <- s.app.Listen(s.addr)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		if err := s.app.ShutdownWithTimeout(10 * time.Second); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		return nil
	}
}

// FetchHandler serves GET /v1/fetch?url=<raw>. Inline replies are JSON; file replies are the
// page itself as an attachment with the caption in headers.
func FetchHandler(runner Runner) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := strings.TrimSpace(c.Query("url"))
		if raw == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing url query parameter"})
		}

		reply, err := runner.Run(c.UserContext(), raw)
		if err != nil {
			return c.Status(statusFor(err)).JSON(fiber.Map{"error": pipeline.UserMessage(err)})
		}

		if reply.Mode == output.ModeInline {
			return c.JSON(reply)
		}

		c.Set(HeaderCaption, reply.Caption)
		c.Set(HeaderStatus, strconv.Itoa(reply.Status))
		c.Set(HeaderTruncated, strconv.FormatBool(reply.Truncated))
		c.Attachment(reply.Filename)
		c.Set(fiber.HeaderContentType, "text/html; charset=utf-8")
		return c.Send(reply.Data)
	}
}

func statusFor(err error) int {
	var netErr *fetch.NetworkError
	switch {
	case errors.Is(err, fetch.ErrInvalidURL):
		return fiber.StatusBadRequest
	case errors.Is(err, fetch.ErrUnsafeHost):
		return fiber.StatusForbidden
	case errors.As(err, &netErr):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func accessLog(log zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		log.Info().
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", c.Response().StatusCode()).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
		return err
	}
}
