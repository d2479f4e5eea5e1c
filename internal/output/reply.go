package output

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
)

const (
	DefaultMaxInlineChars = 3800
	MaxFilenameLength     = 100
	FileExtension         = ".html"
)

// Mode says how a reply is delivered.
type Mode string

const (
	ModeInline Mode = "inline"
	ModeFile   Mode = "file"
)

// Meta describes the fetch a body came from.
type Meta struct {
	Host      string
	Status    int
	Truncated bool
}

// Reply is a fetch result ready for a front-end. Text is set for inline replies,
// Filename and Data for file replies.
type Reply struct {
	Mode      Mode   `json:"mode"`
	Caption   string `json:"caption"`
	Text      string `json:"text,omitempty"`
	Filename  string `json:"filename,omitempty"`
	Data      []byte `json:"-"`
	Status    int    `json:"status"`
	Truncated bool   `json:"truncated"`
	Bytes     int    `json:"bytes"`
}

// Selector picks inline text or a file attachment by decoded length.
type Selector struct {
	MaxInlineChars int
}

// NewSelector returns a Selector; a non-positive limit uses DefaultMaxInlineChars.
func NewSelector(maxInlineChars int) Selector {
	if maxInlineChars <= 0 {
		maxInlineChars = DefaultMaxInlineChars
	}
	return Selector{MaxInlineChars: maxInlineChars}
}

// Select builds the reply for body.
func (s Selector) Select(body []byte, meta Meta) Reply {
	limit := s.MaxInlineChars
	if limit <= 0 {
		limit = DefaultMaxInlineChars
	}

	text, decoded := Decode(body)
	reply := Reply{
		Caption:   Caption(meta.Status, meta.Truncated),
		Status:    meta.Status,
		Truncated: meta.Truncated,
		Bytes:     len(body),
	}

	if utf8.RuneCountInString(text) <= limit {
		reply.Mode = ModeInline
		reply.Text = reply.Caption
		if text != "" {
			reply.Text += "\n\n" + text
		}
		return reply
	}

	reply.Mode = ModeFile
	reply.Filename = Filename(meta.Host)
	if decoded {
		reply.Data = []byte(text)
	} else {
		reply.Data = body
	}
	return reply
}

// Decode reads body as UTF-8, replacing invalid sequences with U+FFFD.
// The second result is false only if the decoder itself failed.
func Decode(body []byte) (string, bool) {
	out, err := unicode.UTF8.NewDecoder().Bytes(body)
	if err != nil {
		return strings.ToValidUTF8(string(body), "�"), false
	}
	return string(out), true
}

// Caption is the one-line status shown with every reply.
func Caption(status int, truncated bool) string {
	caption := fmt.Sprintf("HTTP status: %d.", status)
	if truncated {
		caption += " (truncated)"
	}
	return caption
}

// Filename derives an attachment name from host. Characters outside [A-Za-z0-9._-] become '_'.
func Filename(host string) string {
	stem := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, strings.Trim(host, "[]"))
	stem = strings.Trim(stem, ".")
	if stem == "" {
		stem = "page"
	}
	if maxStem := MaxFilenameLength - len(FileExtension); len(stem) > maxStem {
		stem = stem[:maxStem]
	}
	return stem + FileExtension
}
