// Package htmlout renders already-reconciled transcript files into paginated
// static HTML, one index.html per conversation. It is a pure presentation
// pass: no dedup or merge semantics live here.
package htmlout

import (
	_ "embed"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"sigexport/internal/transcript"
)

//go:embed style.css
var styleCSS []byte

// bareLink matches URLs left as plain text by the markdown pass. The class
// excludes "<" so the match stops at the next tag boundary.
var bareLink = regexp.MustCompile(`(https?://[^\s<]+)`)

// Writer renders paginated HTML for every conversation in an export tree.
type Writer struct {
	Logger          *slog.Logger
	MessagesPerPage int

	md goldmark.Markdown
}

func New(logger *slog.Logger, messagesPerPage int) *Writer {
	if messagesPerPage <= 0 {
		messagesPerPage = 100
	}
	return &Writer{
		Logger:          logger,
		MessagesPerPage: messagesPerPage,
		md:              goldmark.New(),
	}
}

// WriteAll writes the shared stylesheet at the export root and one
// index.html per conversation directory. A failure in one conversation is
// logged and the rest proceed.
func (w *Writer) WriteAll(destDir string) error {
	if err := os.WriteFile(filepath.Join(destDir, "style.css"), styleCSS, 0o644); err != nil {
		return fmt.Errorf("write stylesheet: %w", err)
	}

	entries, err := os.ReadDir(destDir)
	if err != nil {
		return fmt.Errorf("read export dir: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if err := w.writeConversation(destDir, entry.Name()); err != nil {
			w.Logger.Error("html rendering failed, continuing", "conversation", entry.Name(), "error", err)
		}
	}
	return nil
}

func (w *Writer) writeConversation(destDir, name string) error {
	w.Logger.Info("writing html", "conversation", name)

	msgs, err := transcript.ParseFile(filepath.Join(destDir, name, "index.md"), w.Logger)
	if err != nil {
		return err
	}
	lastPage := len(msgs) / w.MessagesPerPage

	f, err := os.Create(filepath.Join(destDir, name, "index.html"))
	if err != nil {
		return fmt.Errorf("create index.html: %w", err)
	}
	defer f.Close()

	fmt.Fprintf(f, "<!doctype html>"+
		"<html lang='en'><head>"+
		"<meta charset='utf-8'>"+
		"<title>%s</title>"+
		"<link rel=stylesheet href='../style.css'>"+
		"</head>"+
		"<body>"+
		"<style>img.emoji { height: 1em; width: 1em; margin: 0 .05em 0 .1em; vertical-align: -0.1em; }</style>"+
		"<script src='https://cdn.jsdelivr.net/npm/twemoji@14.0.2/dist/twemoji.min.js?11.2'></script>"+
		"<script>window.onload = function () { twemoji.parse(document.body);}</script>\n",
		html.EscapeString(name))

	page := 0
	for i, msg := range msgs {
		if i%w.MessagesPerPage == 0 {
			if page > 0 {
				fmt.Fprint(f, "</div>\n")
			}
			w.writeNav(f, page, lastPage)
			fmt.Fprintf(f, "<div class=page id='pg%d'>\n", page)
			page++
		}
		w.writeMessage(f, msg)
	}
	if page > 0 {
		fmt.Fprint(f, "</div>\n")
	}

	fmt.Fprint(f, "<script>if (!document.location.hash){document.location.hash = 'pg0';}</script>")
	fmt.Fprint(f, "</body></html>\n")
	return nil
}

func (w *Writer) writeNav(f io.Writer, page, lastPage int) {
	prev := "&nbsp;"
	if page > 0 {
		prev = fmt.Sprintf("<a href='#pg%d'>previous</a>", page-1)
	}
	next := "&nbsp;"
	if page != lastPage {
		next = fmt.Sprintf("<a href='#pg%d'>next</a>", page+1)
	}
	fmt.Fprintf(f, "<nav><div class=prev>%s</div><div class=next>%s</div></nav>\n", prev, next)
}

func (w *Writer) writeMessage(f io.Writer, msg transcript.Message) {
	date, clock := msg.When()
	sender := msg.SenderName()

	var buf strings.Builder
	if err := w.md.Convert([]byte(msg.Body), &buf); err != nil {
		w.Logger.Warn("markdown conversion failed, using raw body", "error", err)
		buf.Reset()
		buf.WriteString(html.EscapeString(msg.Body))
	}
	body := bareLink.ReplaceAllString(buf.String(), "<a href='$1' target='_blank'>$1</a> ")
	body = w.enrichMedia(body)

	class := "msg"
	if sender == "Me" {
		class = "msg me"
	}
	fmt.Fprintf(f, "<div class='%s'><span class=date>%s</span><span class=time>%s</span><span class=sender>%s</span><span class=body>%s</span></div>\n",
		class, date, clock, html.EscapeString(sender), body)
}

// enrichMedia rewrites the converted markup: images become lightbox figures,
// links to .m4a files become audio players, links to .mp4 files become video
// players. On any parse failure the markup is returned untouched.
func (w *Writer) enrichMedia(body string) string {
	ctx := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(body), ctx)
	if err != nil {
		return body
	}
	for _, n := range nodes {
		ctx.AppendChild(n)
	}

	type swap struct{ old, new *html.Node }
	var swaps []swap

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type != html.ElementNode {
			return
		}
		switch n.DataAtom {
		case atom.Img:
			if src := attr(n, "src"); src != "" {
				swaps = append(swaps, swap{n, figureNode(src, attr(n, "alt"))})
			}
		case atom.A:
			href := attr(n, "href")
			switch {
			case strings.Contains(href, ".m4a"):
				swaps = append(swaps, swap{n, mediaNode("audio", href, "audio/mp4")})
			case strings.Contains(href, ".mp4"):
				swaps = append(swaps, swap{n, mediaNode("video", href, "video/mp4")})
			}
		}
	}
	walk(ctx)

	for _, s := range swaps {
		if s.new == nil || s.old.Parent == nil {
			continue
		}
		s.old.Parent.InsertBefore(s.new, s.old)
		s.old.Parent.RemoveChild(s.old)
	}

	var out strings.Builder
	for c := ctx.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&out, c); err != nil {
			return body
		}
	}
	return out.String()
}

// figureNode builds the image-with-modal markup. The alt text doubles as the
// checkbox id wiring the pure-CSS lightbox together.
func figureNode(src, alt string) *html.Node {
	return parseSnippet(fmt.Sprintf(
		`<figure>`+
			`<label for="%[2]s"><img loading="lazy" src="%[1]s" alt="%[2]s"></label>`+
			`<input class="modal-state" id="%[2]s" type="checkbox">`+
			`<div class="modal"><label for="%[2]s"><div class="modal-content">`+
			`<img class="modal-photo" loading="lazy" src="%[1]s" alt="%[2]s">`+
			`</div></label></div>`+
			`</figure>`,
		html.EscapeString(src), html.EscapeString(alt)))
}

func mediaNode(tag, src, mime string) *html.Node {
	return parseSnippet(fmt.Sprintf(
		`<%[1]s controls><source src="%[2]s" type="%[3]s"></%[1]s>`,
		tag, html.EscapeString(src), mime))
}

func parseSnippet(s string) *html.Node {
	ctx := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(s), ctx)
	if err != nil || len(nodes) == 0 {
		return nil
	}
	return nodes[0]
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}
