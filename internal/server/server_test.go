package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbandev/gethtml/internal/config"
	"github.com/qbandev/gethtml/internal/fetch"
	"github.com/qbandev/gethtml/internal/output"
)

type stubRunner struct {
	reply *output.Reply
	err   error
	raw   []string
}

func (r *stubRunner) Run(_ context.Context, raw string) (*output.Reply, error) {
	r.raw = append(r.raw, raw)
	return r.reply, r.err
}

func newTestServer(runner Runner) *Server {
	return New(runner, config.Server{Addr: ":0"}, zerolog.Nop())
}

func get(t *testing.T, s *Server, target string) *http.Response {
	t.Helper()
	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, target, nil), -1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestHealthz(t *testing.T) {
	resp := get(t, newTestServer(&stubRunner{}), "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decodeJSON(t, resp)["status"])
}

func TestFetchInline(t *testing.T) {
	runner := &stubRunner{reply: &output.Reply{
		Mode:    output.ModeInline,
		Caption: "HTTP status: 200.",
		Text:    "HTTP status: 200.\n\n<p>hi</p>",
		Status:  200,
		Bytes:   9,
	}}
	resp := get(t, newTestServer(runner), "/v1/fetch?url="+url.QueryEscape("example.com/a?b=1"))

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeJSON(t, resp)
	assert.Equal(t, "inline", body["mode"])
	assert.Equal(t, "HTTP status: 200.", body["caption"])
	assert.Equal(t, float64(200), body["status"])
	assert.Equal(t, false, body["truncated"])
	assert.Equal(t, float64(9), body["bytes"])
	assert.Contains(t, body["text"], "<p>hi</p>")
	assert.Equal(t, []string{"example.com/a?b=1"}, runner.raw)
}

func TestFetchFile(t *testing.T) {
	runner := &stubRunner{reply: &output.Reply{
		Mode:      output.ModeFile,
		Caption:   "HTTP status: 200. (truncated)",
		Filename:  "example.com.html",
		Data:      []byte("<html>big</html>"),
		Status:    200,
		Truncated: true,
	}}
	resp := get(t, newTestServer(runner), "/v1/fetch?url=example.com")

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "HTTP status: 200. (truncated)", resp.Header.Get(HeaderCaption))
	assert.Equal(t, "200", resp.Header.Get(HeaderStatus))
	assert.Equal(t, "true", resp.Header.Get(HeaderTruncated))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), `filename="example.com.html"`)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "<html>big</html>", string(data))
}

func TestFetchErrors(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		err        error
		wantStatus int
		wantError  string
	}{
		{name: "missing url", query: "", wantStatus: http.StatusBadRequest, wantError: "missing url query parameter"},
		{name: "invalid url", query: "?url=https%3A%2F%2F", err: fetch.ErrInvalidURL, wantStatus: http.StatusBadRequest, wantError: "Invalid URL."},
		{name: "unsafe host", query: "?url=169.254.169.254", err: fetch.ErrUnsafeHost, wantStatus: http.StatusForbidden, wantError: "Forbidden: host is on a private/loopback network."},
		{
			name:       "network error",
			query:      "?url=example.com",
			err:        &fetch.NetworkError{Op: "GET", URL: "https://example.com", Err: errors.New("connection refused")},
			wantStatus: http.StatusBadGateway,
			wantError:  "Failed to fetch content: connection refused",
		},
		{name: "unexpected", query: "?url=example.com", err: errors.New("boom"), wantStatus: http.StatusInternalServerError, wantError: "Failed to fetch content: boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &stubRunner{err: tt.err}
			resp := get(t, newTestServer(runner), "/v1/fetch"+tt.query)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantError, decodeJSON(t, resp)["error"])
		})
	}
}

func TestUnknownRoute(t *testing.T) {
	resp := get(t, newTestServer(&stubRunner{}), "/nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
