package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/qbandev/gethtml/internal/resilience"
)

// MaxMessageRunes is the Bot API limit for sendMessage text.
const MaxMessageRunes = 4096

type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

type Message struct {
	MessageID int64  `json:"message_id"`
	Chat      *Chat  `json:"chat,omitempty"`
	From      *User  `json:"from,omitempty"`
	Text      string `json:"text,omitempty"`
}

type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type,omitempty"`
}

type User struct {
	ID       int64  `json:"id"`
	IsBot    bool   `json:"is_bot,omitempty"`
	Username string `json:"username,omitempty"`
}

type envelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after,omitempty"`
	} `json:"parameters,omitempty"`
}

// APIError is a non-OK Bot API response.
type APIError struct {
	Method      string
	StatusCode  int
	Description string
	retryAfter  time.Duration
}

func (e *APIError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("telegram %s: http %d", e.Method, e.StatusCode)
	}
	return fmt.Sprintf("telegram %s: http %d: %s", e.Method, e.StatusCode, e.Description)
}

// RetryAfter is the wait requested by a 429 response.
func (e *APIError) RetryAfter() time.Duration {
	return e.retryAfter
}

// Client is a minimal Bot API client.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
	policy  resilience.Policy
}

func NewClient(httpClient *http.Client, baseURL, token string, log zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	policy := resilience.DefaultPolicy()
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		log.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("retrying telegram call")
	}
	return &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		policy:  policy,
	}
}

// WithPolicy replaces the retry policy, keeping the logging hook if the new one has none.
func (c *Client) WithPolicy(policy resilience.Policy) *Client {
	if policy.OnRetry == nil {
		policy.OnRetry = c.policy.OnRetry
	}
	c.policy = policy
	return c
}

func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var user User
	err := c.call(ctx, "getMe", func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.methodURL("getMe"), nil)
	}, &user)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUpdates long-polls for updates after offset and returns them with the next offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, int64, error) {
	secs := max(int(timeout.Seconds()), 1)
	url := fmt.Sprintf("%s?timeout=%d&allowed_updates=%%5B%%22message%%22%%5D", c.methodURL("getUpdates"), secs)
	if offset > 0 {
		url += "&offset=" + strconv.FormatInt(offset, 10)
	}

	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(secs)*time.Second+10*time.Second)
	defer cancel()

	var updates []Update
	err := c.call(reqCtx, "getUpdates", func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	}, &updates)
	if err != nil {
		return nil, offset, err
	}

	next := offset
	for _, u := range updates {
		if u.UpdateID >= next {
			next = u.UpdateID + 1
		}
	}
	return updates, next, nil
}

// SendMessage sends plain text, cut to the Bot API length limit.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	payload, err := json.Marshal(struct {
		ChatID                int64  `json:"chat_id"`
		Text                  string `json:"text"`
		DisableWebPagePreview bool   `json:"disable_web_page_preview"`
	}{ChatID: chatID, Text: truncateRunes(text, MaxMessageRunes), DisableWebPagePreview: true})
	if err != nil {
		return fmt.Errorf("encoding sendMessage: %w", err)
	}

	return c.call(ctx, "sendMessage", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL("sendMessage"), bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, nil)
}

// SendDocument uploads data as a file named filename with a caption.
func (c *Client) SendDocument(ctx context.Context, chatID int64, filename string, data []byte, caption string) error {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		filename = "file"
	}
	caption = strings.TrimSpace(caption)

	return c.call(ctx, "sendDocument", func(ctx context.Context) (*http.Request, error) {
		pr, pw := io.Pipe()
		mw := multipart.NewWriter(pw)
		go func() {
			defer pw.Close()
			defer mw.Close()

			_ = mw.WriteField("chat_id", strconv.FormatInt(chatID, 10))
			if caption != "" {
				_ = mw.WriteField("caption", caption)
			}
			part, err := mw.CreateFormFile("document", filename)
			if err != nil {
				_ = pw.CloseWithError(err)
				return
			}
			if _, err := part.Write(data); err != nil {
				_ = pw.CloseWithError(err)
			}
		}()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL("sendDocument"), pr)
		if err != nil {
			_ = pr.Close()
			return nil, err
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())
		return req, nil
	}, nil)
}

func (c *Client) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
}

// call runs one Bot API method with retries and decodes its result into out (if non-nil).
func (c *Client) call(ctx context.Context, method string, build func(context.Context) (*http.Request, error), out any) error {
	raw, err := resilience.Do(ctx, c.policy, isRetryable, func(ctx context.Context) (json.RawMessage, error) {
		req, err := build(ctx)
		if err != nil {
			return nil, err
		}
		return c.do(req, method)
	})
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding telegram %s result: %w", method, err)
	}
	return nil
}

func (c *Client) do(req *http.Request, method string) (json.RawMessage, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram %s: %w", method, redactToken(err, c.token))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("telegram %s: reading response: %w", method, err)
	}

	var env envelope
	if jsonErr := json.Unmarshal(body, &env); jsonErr != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &APIError{Method: method, StatusCode: resp.StatusCode, Description: strings.TrimSpace(string(body))}
		}
		return nil, fmt.Errorf("telegram %s: decoding response: %w", method, jsonErr)
	}
	if !env.OK || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Method: method, StatusCode: resp.StatusCode, Description: env.Description}
		if env.Parameters != nil && env.Parameters.RetryAfter > 0 {
			apiErr.retryAfter = time.Duration(env.Parameters.RetryAfter) * time.Second
		}
		return nil, apiErr
	}
	return env.Result, nil
}

func isRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return resilience.IsRetryableStatus(apiErr.StatusCode)
	}
	return resilience.IsTransient(err)
}

// redactToken keeps the bot token out of logged transport errors, which embed the request URL.
func redactToken(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return &redactedError{msg: strings.ReplaceAll(err.Error(), token, "<token>"), err: err}
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
