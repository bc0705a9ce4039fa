package htmlprocessor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummarize(t *testing.T) {
	content := `<html><head><title>
		Example   Domain
	</title><script src="a.js"></script></head>
	<body><a href="/1">one</a><a href="/2">two</a><form></form><script>var x = 1;</script></body></html>`

	s := Summarize(content)
	assert.Equal(t, "Example Domain", s.Title)
	assert.Equal(t, 2, s.Links)
	assert.Equal(t, 2, s.Scripts)
	assert.Equal(t, 1, s.Forms)
}

func TestSummarize_FirstTitleWins(t *testing.T) {
	s := Summarize(`<title>first</title><svg><title>second</title></svg>`)
	assert.Equal(t, "first", s.Title)
}

func TestSummarize_Empty(t *testing.T) {
	assert.Equal(t, Summary{}, Summarize(""))
	assert.Equal(t, Summary{}, Summarize("plain text"))
}

func TestSummarize_LongTitleTruncated(t *testing.T) {
	long := strings.Repeat("日", 300)
	s := Summarize("<title>" + long + "</title>")
	assert.Equal(t, maxTitleLength, len([]rune(s.Title)))
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, `a\nb`, Snippet("a\nb"))
	assert.Len(t, []rune(Snippet(strings.Repeat("x", 500))), maxSnippetLength)
}
