// Package transcript defines the durable transcript line format (v1) and the
// parser/formatter pair for it.
//
// Format v1, one logical line per message:
//
//	[YYYY-MM-DD HH:MM] Sender: Body
//
// The body may contain embedded newlines; continuation lines carry no
// timestamp prefix and belong to the preceding logical line. Bodies end with
// two trailing spaces so CommonMark renderers emit a line break. Attachment
// references are embedded in the body as [name](./media/name), with a leading
// "!" when the attachment is an image.
//
// Parser and formatter live in the same package on purpose: the merge engine
// re-parses files the renderer wrote, so the grammar must have exactly one
// owner. Older exports used a comma between date and time; the parser accepts
// both, the formatter only emits the current form.
package transcript

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// linePattern matches the start of a logical line. The three groups keep the
// raw date token (brackets included), the raw sender token (trailing colon
// included) and the rest of the physical line, so that joining the groups
// reproduces the input byte for byte.
var linePattern = regexp.MustCompile(`^(\[\d{4}-\d{2}-\d{2},? \d{2}:\d{2}\])(.*?:)(.*\n?)`)

// Message is one reconstructed logical line.
type Message struct {
	Date   string // "[2024-01-01 10:00]"
	Sender string // " Me:" — leading space and colon preserved
	Body   string // remainder, including the trailing newline and any continuation lines
}

// Line reconstructs the exact textual form the message was parsed from.
func (m Message) Line() string {
	return m.Date + m.Sender + m.Body
}

// When splits the date token into date and time parts, without brackets.
func (m Message) When() (date, clock string) {
	s := strings.Trim(m.Date, "[]")
	s = strings.ReplaceAll(s, ",", "")
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[:i], s[i+1:]
	}
	return s, ""
}

// SenderName returns the sender token without its surrounding space and colon.
func (m Message) SenderName() string {
	return strings.TrimSuffix(strings.TrimPrefix(m.Sender, " "), ":")
}

// FormatLine renders one logical line in format v1. The renderer must go
// through this function so parsing its output round-trips.
func FormatLine(date, sender, body string) string {
	return fmt.Sprintf("[%s] %s: %s\n", date, sender, body)
}

// Parse reconstructs logical lines from physical ones. A physical line that
// does not start with the timestamp prefix is a continuation of the previous
// message; if there is no previous message it is malformed input and gets
// dropped with a warning rather than crashing or silently vanishing.
func Parse(lines []string, logger *slog.Logger) []Message {
	var msgs []Message
	for _, li := range lines {
		m := linePattern.FindStringSubmatch(li)
		if m != nil {
			msgs = append(msgs, Message{Date: m[1], Sender: m[2], Body: m[3]})
			continue
		}
		if len(msgs) == 0 {
			logger.Warn("skipping malformed transcript line with no preceding message", "line", preview(li))
			continue
		}
		msgs[len(msgs)-1].Body += li
	}
	return msgs
}

// ParseFile reads a transcript file and parses it. A missing file is not an
// error; it parses as empty.
func ParseFile(path string, logger *slog.Logger) ([]Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	return Parse(SplitLines(string(data)), logger), nil
}

// SplitLines splits text into physical lines, each keeping its trailing
// newline so reassembly is lossless.
func SplitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func preview(s string) string {
	s = strings.TrimRight(s, "\n")
	if len(s) > 50 {
		return s[:50] + "..."
	}
	return s
}
