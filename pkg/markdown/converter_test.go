package markdown

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToTelegramHTML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: ""},
		{name: "bold and italic", in: "**bold** and *it*", want: "<b>bold</b> and <i>it</i>"},
		{name: "inline code", in: "run `ls`", want: "run <code>ls</code>"},
		{name: "code block", in: "```go\nfmt.Println(1)\n```", want: "<pre>fmt.Println(1)\n</pre>"},
		{name: "heading", in: "# Title", want: "<b>Title</b>"},
		{name: "list", in: "- one\n- two", want: "• one\n• two"},
		{name: "escapes", in: "1 < 2", want: "1 &lt; 2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToTelegramHTML(tt.in))
		})
	}
}

func TestToTelegramHTML_DropsUnsupportedTags(t *testing.T) {
	out := ToTelegramHTML("| a | b |\n|---|---|\n| 1 | 2 |")
	assert.NotContains(t, out, "<table")
	assert.NotContains(t, out, "<td")
	assert.Contains(t, out, "1")
}

func TestEscapeHTML(t *testing.T) {
	assert.Equal(t, "&lt;b&gt; &amp;", EscapeHTML("<b> &"))
}
