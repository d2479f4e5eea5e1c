package output

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSelectThreshold(t *testing.T) {
	selector := NewSelector(3800)

	tests := []struct {
		name     string
		body     []byte
		wantMode Mode
	}{
		{name: "empty", body: nil, wantMode: ModeInline},
		{name: "small ascii", body: []byte(strings.Repeat("a", 50)), wantMode: ModeInline},
		{name: "exactly budget", body: []byte(strings.Repeat("a", 3800)), wantMode: ModeInline},
		{name: "one over budget", body: []byte(strings.Repeat("a", 3801)), wantMode: ModeFile},
		{name: "multibyte counted as runes", body: []byte(strings.Repeat("é", 3800)), wantMode: ModeInline},
		{name: "multibyte over budget", body: []byte(strings.Repeat("日", 3801)), wantMode: ModeFile},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := selector.Select(tt.body, Meta{Host: "example.com", Status: 200})
			if reply.Mode != tt.wantMode {
				t.Fatalf("Select() mode = %q, want %q", reply.Mode, tt.wantMode)
			}
			if reply.Bytes != len(tt.body) {
				t.Fatalf("Select() bytes = %d, want %d", reply.Bytes, len(tt.body))
			}
		})
	}
}

func TestSelectInline(t *testing.T) {
	body := []byte(strings.Repeat("x", 50))
	reply := NewSelector(0).Select(body, Meta{Host: "example.com", Status: 200})

	if reply.Mode != ModeInline {
		t.Fatalf("Select() mode = %q, want inline", reply.Mode)
	}
	if reply.Caption != "HTTP status: 200." {
		t.Fatalf("Select() caption = %q", reply.Caption)
	}
	want := "HTTP status: 200.\n\n" + string(body)
	if reply.Text != want {
		t.Fatalf("Select() text = %q, want %q", reply.Text, want)
	}
	if reply.Filename != "" || reply.Data != nil {
		t.Fatalf("inline reply carries file payload: %q %d bytes", reply.Filename, len(reply.Data))
	}
}

func TestSelectEmptyBodyIsCaptionOnly(t *testing.T) {
	reply := NewSelector(10).Select(nil, Meta{Status: 204})
	if reply.Text != "HTTP status: 204." {
		t.Fatalf("Select() text = %q", reply.Text)
	}
}

func TestSelectFile(t *testing.T) {
	body := append([]byte(strings.Repeat("<p>", 10)), 0xff, 0xfe)
	reply := NewSelector(5).Select(body, Meta{Host: "example.com:8080", Status: 404, Truncated: true})

	if reply.Mode != ModeFile {
		t.Fatalf("Select() mode = %q, want file", reply.Mode)
	}
	if reply.Caption != "HTTP status: 404. (truncated)" {
		t.Fatalf("Select() caption = %q", reply.Caption)
	}
	if reply.Filename != "example.com_8080.html" {
		t.Fatalf("Select() filename = %q", reply.Filename)
	}
	if !bytes.HasSuffix(reply.Data, []byte("\uFFFD\uFFFD")) {
		t.Fatalf("Select() data = %q, want invalid bytes replaced", reply.Data)
	}
	if reply.Text != "" {
		t.Fatalf("file reply carries text %q", reply.Text)
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want string
	}{
		{name: "ascii", in: []byte("hello"), want: "hello"},
		{name: "utf8", in: []byte("grüße"), want: "grüße"},
		{name: "invalid byte", in: []byte{'a', 0xff, 'b'}, want: "a\uFFFDb"},
		{name: "truncated sequence", in: []byte{'a', 0xe6, 0x97}, want: "a\uFFFD\uFFFD"},
		{name: "empty", in: nil, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Decode(tt.in)
			if !ok {
				t.Fatalf("Decode(%q) reported failure", tt.in)
			}
			if got != tt.want {
				t.Fatalf("Decode(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCaption(t *testing.T) {
	if got := Caption(200, false); got != "HTTP status: 200." {
		t.Errorf("Caption(200, false) = %q", got)
	}
	if got := Caption(500, true); got != "HTTP status: 500. (truncated)" {
		t.Errorf("Caption(500, true) = %q", got)
	}
}

func TestFilename(t *testing.T) {
	long := strings.Repeat("a", 200) + ".com"

	tests := []struct {
		host string
		want string
	}{
		{host: "example.com", want: "example.com.html"},
		{host: "xn--bcher-kva.de", want: "xn--bcher-kva.de.html"},
		{host: "::1", want: "__1.html"},
		{host: "[2001:db8::1]", want: "2001_db8__1.html"},
		{host: "a/b\\c?d", want: "a_b_c_d.html"},
		{host: "", want: "page.html"},
		{host: "..", want: "page.html"},
		{host: long, want: strings.Repeat("a", 95) + ".html"},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			got := Filename(tt.host)
			if got != tt.want {
				t.Fatalf("Filename(%q) = %q, want %q", tt.host, got, tt.want)
			}
			if len(got) > MaxFilenameLength {
				t.Fatalf("Filename(%q) length %d exceeds %d", tt.host, len(got), MaxFilenameLength)
			}
		})
	}
}

func TestWriteInlineText(t *testing.T) {
	var buf bytes.Buffer
	reply := NewSelector(0).Select([]byte("<h1>hi</h1>"), Meta{Host: "example.com", Status: 200})
	if err := Write(&buf, reply, "", FormatText); err != nil {
		t.Fatalf("Write() unexpected error: %v", err)
	}
	if got := buf.String(); got != "HTTP status: 200.\n\n<h1>hi</h1>\n" {
		t.Fatalf("Write() = %q", got)
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	reply := NewSelector(2).Select([]byte("<html>"), Meta{Host: "example.com", Status: 200})
	if err := Write(&buf, reply, "/tmp/example.com.html", FormatJSON); err != nil {
		t.Fatalf("Write() unexpected error: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if got["mode"] != "file" || got["filename"] != "example.com.html" || got["path"] != "/tmp/example.com.html" {
		t.Fatalf("unexpected JSON fields: %v", got)
	}
	if _, ok := got["Data"]; ok {
		t.Fatal("JSON output must not include raw data")
	}
}

func TestWriteFileWithoutPathStreamsData(t *testing.T) {
	var buf bytes.Buffer
	reply := NewSelector(2).Select([]byte("<html>"), Meta{Host: "example.com", Status: 200})
	if err := Write(&buf, reply, "", FormatText); err != nil {
		t.Fatalf("Write() unexpected error: %v", err)
	}
	if buf.String() != "<html>" {
		t.Fatalf("Write() = %q, want raw data", buf.String())
	}
}

func TestSaveFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	reply := NewSelector(2).Select([]byte("<html>"), Meta{Host: "example.com", Status: 200})

	path, err := SaveFile(dir, reply)
	if err != nil {
		t.Fatalf("SaveFile() unexpected error: %v", err)
	}
	if filepath.Base(path) != "example.com.html" {
		t.Fatalf("SaveFile() path = %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading saved file: %v", err)
	}
	if string(data) != "<html>" {
		t.Fatalf("saved data = %q", data)
	}

	inline := NewSelector(0).Select([]byte("x"), Meta{Status: 200})
	if _, err := SaveFile(dir, inline); err == nil {
		t.Fatal("SaveFile() on inline reply expected error")
	}
}

func TestWriteChecksTable(t *testing.T) {
	var buf bytes.Buffer
	checks := []HostCheck{
		{Host: "example.com", Safe: true, Addrs: []string{"93.184.216.34"}, Reason: "all addresses public"},
		{Host: "localhost", Safe: false, Reason: "blocked address [127.0.0.1 (loopback)]"},
	}
	if err := WriteChecks(&buf, checks, FormatText); err != nil {
		t.Fatalf("WriteChecks() unexpected error: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"HOST", "example.com", "safe", "UNSAFE", "93.184.216.34", "┌", "┘"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
	if lines := strings.Count(out, "\n"); lines != 7 {
		t.Errorf("table has %d lines, want 7:\n%s", lines, out)
	}
}

func TestWriteChecksJSON(t *testing.T) {
	var buf bytes.Buffer
	checks := []HostCheck{{Host: "example.com", Safe: true, Addrs: []string{"93.184.216.34"}}}
	if err := WriteChecks(&buf, checks, FormatJSON); err != nil {
		t.Fatalf("WriteChecks() unexpected error: %v", err)
	}
	var got []HostCheck
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if len(got) != 1 || got[0].Host != "example.com" || !got[0].Safe {
		t.Fatalf("WriteChecks() JSON = %+v", got)
	}
}
