// Package export writes one export run to disk: a directory per contact with
// renamed attachments under media/ and an append-only markdown transcript.
package export

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"sigexport/internal/signaldb"
	"sigexport/internal/transcript"
)

// attachmentsDir is where Signal keeps attachment files inside its data dir.
const attachmentsDir = "attachments.noindex"

// imageExts are the attachment extensions rendered inline as images.
var imageExts = map[string]bool{
	"png": true, "jpg": true, "jpeg": true, "gif": true, "tif": true, "tiff": true,
}

// Exporter copies attachments and renders transcripts for loaded
// conversations. Per-record problems are logged and skipped; they never
// abort a conversation.
type Exporter struct {
	Logger *slog.Logger
}

func New(logger *slog.Logger) *Exporter {
	return &Exporter{Logger: logger}
}

// CopyAttachments copies every attachment into <dest>/<contact>/media under
// a collision-resistant name ({date}_{index}_{original}), rewriting each
// attachment's FileName in place so the renderer references the new name.
func (e *Exporter) CopyAttachments(srcDir, destDir string, convos map[string][]signaldb.Message, contacts map[string]*signaldb.Contact, index *DirIndex) error {
	srcAtt := filepath.Join(srcDir, attachmentsDir)

	for _, id := range sortedKeys(convos) {
		c := contacts[id]
		e.Logger.Info("copying attachments", "contact", c.DisplayName())

		mediaDir := filepath.Join(destDir, index.Dir(id), "media")
		if err := os.MkdirAll(mediaDir, 0o755); err != nil {
			return fmt.Errorf("create media dir: %w", err)
		}

		msgs := convos[id]
		for mi := range msgs {
			msg := &msgs[mi]
			if len(msg.Attachments) == 0 {
				continue
			}

			ms, ok := msg.SentMillis()
			if !ok {
				e.Logger.Info("message with attachments has no timestamp, skipping them", "contact", c.DisplayName())
				continue
			}
			date := time.UnixMilli(ms).Format("2006-01-02")

			for ai := range msg.Attachments {
				att := &msg.Attachments[ai]
				if att.FileName == nil {
					e.Logger.Info("broken attachment record", "contact", c.DisplayName(), "date", date)
					continue
				}

				name := fmt.Sprintf("%s_%02d_%s", date, ai, *att.FileName)
				name = strings.ReplaceAll(name, " ", "_")
				name = strings.ReplaceAll(name, "/", "-")
				*att.FileName = name

				// Some records carry backslashes in the relative path.
				rel := filepath.FromSlash(strings.ReplaceAll(att.Path, `\`, "/"))
				if err := copyFile(filepath.Join(srcAtt, rel), filepath.Join(mediaDir, name)); err != nil {
					e.Logger.Info("attachment not found", "contact", c.DisplayName(), "file", name, "error", err)
				}
			}
		}
	}
	return nil
}

// WriteTranscripts appends one logical transcript line per message to each
// conversation's index.md, in message order.
func (e *Exporter) WriteTranscripts(destDir string, convos map[string][]signaldb.Message, contacts map[string]*signaldb.Contact, index *DirIndex) error {
	for _, id := range sortedKeys(convos) {
		c := contacts[id]
		e.Logger.Info("writing transcript", "contact", c.DisplayName())

		dir := filepath.Join(destDir, index.Dir(id))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create contact dir: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(dir, "index.md"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open transcript: %w", err)
		}

		for i := range convos[id] {
			msg := &convos[id][i]
			line := transcript.FormatLine(e.messageDate(msg), e.sender(msg, c, contacts), e.body(msg))
			if _, err := f.WriteString(line); err != nil {
				f.Close()
				return fmt.Errorf("write transcript for %s: %w", c.DisplayName(), err)
			}
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("close transcript: %w", err)
		}
	}
	return nil
}

func (e *Exporter) messageDate(msg *signaldb.Message) string {
	ms, ok := msg.SentMillis()
	if !ok {
		e.Logger.Info("message has no timestamp or sent_at, date set to 1970")
		return "1970-01-01 00:00"
	}
	return time.UnixMilli(ms).Format("2006-01-02 15:04")
}

// sender resolves who wrote the message: the local user for outgoing
// messages, a phone-number match across contacts for groups, the
// conversation's own contact otherwise. Unresolvable senders get a sentinel.
func (e *Exporter) sender(msg *signaldb.Message, c *signaldb.Contact, contacts map[string]*signaldb.Contact) string {
	if msg.Outgoing() {
		return "Me"
	}
	if c.IsGroup {
		for _, other := range contacts {
			if other.Number != "" && other.Number == msg.Source {
				return other.DisplayName()
			}
		}
		return "No-Sender"
	}
	if name := c.DisplayName(); name != "" {
		return name
	}
	return "No-Sender"
}

// body renders the message body plus attachment references. Backticks are
// stripped so the markdown renderer cannot open a code span; two trailing
// spaces force a CommonMark line break.
func (e *Exporter) body(msg *signaldb.Message) string {
	var body string
	if msg.Body != nil {
		body = *msg.Body
	}
	body = strings.ReplaceAll(body, "`", "")
	body += "  "

	for _, att := range msg.Attachments {
		name := "None"
		if att.FileName != nil {
			name = *att.FileName
		}
		target := strings.ReplaceAll("media/"+name, " ", "%20")
		if imageExts[strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))] {
			body += "!"
		}
		body += fmt.Sprintf("[%s](./%s)  ", name, target)
	}
	return body
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	// Keep the original timestamps; exports double as archives.
	if info, err := in.Stat(); err == nil {
		_ = os.Chtimes(dest, info.ModTime(), info.ModTime())
	}
	return nil
}

func sortedKeys(m map[string][]signaldb.Message) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
