package telegram

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// maxMessageRunes is Telegram's limit for a single text message.
const maxMessageRunes = 4096

var (
	mdRenderer    goldmark.Markdown
	htmlSanitizer *bluemonday.Policy
)

func init() {
	mdRenderer = goldmark.New(goldmark.WithExtensions(extension.Strikethrough))

	// Telegram's HTML parse mode accepts only a handful of inline tags.
	htmlSanitizer = bluemonday.NewPolicy()
	htmlSanitizer.AllowElements("b", "strong", "i", "em", "u", "s", "del", "code", "pre")
	htmlSanitizer.AllowAttrs("href").OnElements("a")
	htmlSanitizer.AllowStandardURLs()
	htmlSanitizer.RequireParseableURLs(true)
}

// FormatHTML converts markdown into the HTML subset Telegram renders.
// Paragraphs become blank-line separated text; unsupported tags are dropped
// while their content is kept.
func FormatHTML(src string) string {
	if src == "" {
		return ""
	}

	var buf bytes.Buffer
	if err := mdRenderer.Convert([]byte(src), &buf); err != nil {
		return htmlSanitizer.Sanitize(src)
	}

	out := strings.ReplaceAll(buf.String(), "</p>\n", "\n\n")
	out = strings.ReplaceAll(out, "</li>\n", "\n")
	return strings.TrimSpace(htmlSanitizer.Sanitize(out))
}

// splitMessage breaks text into chunks of at most limit runes, cutting on
// line boundaries where possible.
func splitMessage(text string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var (
		chunks []string
		cur    strings.Builder
		n      int
	)
	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, strings.TrimRight(cur.String(), "\n"))
			cur.Reset()
			n = 0
		}
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		ln := utf8.RuneCountInString(line)
		if n+ln > limit {
			flush()
		}
		for ln > limit {
			cut := runePrefix(line, limit)
			chunks = append(chunks, cut)
			line = line[len(cut):]
			ln -= limit
		}
		cur.WriteString(line)
		n += ln
	}
	flush()
	return chunks
}

func runePrefix(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
