// Package htmlprocessor extracts log-friendly facts from rendered HTML.
package htmlprocessor

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

const (
	maxTitleLength   = 200
	maxSnippetLength = 200
)

// Summary describes a rendered document
type Summary struct {
	Title   string
	Links   int
	Scripts int
	Forms   int
}

// Summarize tokenizes content and counts interesting elements.
// Malformed markup is summarized as far as the tokenizer gets.
func Summarize(content string) Summary {
	var s Summary
	z := html.NewTokenizer(strings.NewReader(content))

	inTitle := false
	var title strings.Builder

	for {
		switch z.Next() {
		case html.ErrorToken:
			s.Title = truncateRunes(collapseWhitespace(title.String()), maxTitleLength)
			return s
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "title":
				inTitle = s.Title == "" && title.Len() == 0
			case "a":
				s.Links++
			case "script":
				s.Scripts++
			case "form":
				s.Forms++
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); string(name) == "title" {
				inTitle = false
			}
		case html.TextToken:
			if inTitle {
				title.Write(z.Text())
			}
		}
	}
}

// Snippet returns the first runes of content on a single line
func Snippet(content string) string {
	return truncateRunes(strings.ReplaceAll(content, "\n", `\n`), maxSnippetLength)
}

func truncateRunes(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen])
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
