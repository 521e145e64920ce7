package markdown

import (
	"html"
	"regexp"
	"strings"

	"github.com/russross/blackfriday/v2"
)

var (
	paragraphRe  = regexp.MustCompile(`(?s)<p>(.*?)</p>`)
	codeBlockRe  = regexp.MustCompile(`(?s)<pre><code(?: class="[^"]*")?>(.*?)</code></pre>`)
	headingRe    = regexp.MustCompile(`(?s)<h[1-6][^>]*>(.*?)</h[1-6]>`)
	tagRe        = regexp.MustCompile(`</?([a-zA-Z0-9]+)(?:\s[^>]*)?>`)
	blankLinesRe = regexp.MustCompile(`\n{3,}`)
)

// Tags Telegram accepts in HTML parse mode.
var supportedTags = map[string]bool{
	"b": true, "i": true, "u": true, "s": true,
	"code": true, "pre": true, "a": true, "blockquote": true,
}

// ToTelegramHTML converts markdown to Telegram-compatible HTML
func ToTelegramHTML(markdown string) string {
	if markdown == "" {
		return ""
	}

	out := string(blackfriday.Run([]byte(markdown), blackfriday.WithExtensions(blackfriday.CommonExtensions)))
	return cleanHTMLForTelegram(out)
}

func cleanHTMLForTelegram(out string) string {
	out = paragraphRe.ReplaceAllString(out, "$1\n")
	out = headingRe.ReplaceAllString(out, "<b>$1</b>\n")
	out = codeBlockRe.ReplaceAllString(out, "<pre>$1</pre>")

	replacer := strings.NewReplacer(
		"<strong>", "<b>", "</strong>", "</b>",
		"<em>", "<i>", "</em>", "</i>",
		"<del>", "<s>", "</del>", "</s>",
		"<ul>\n", "", "</ul>\n", "",
		"<ol>\n", "", "</ol>\n", "",
		"<ul>", "", "</ul>", "",
		"<ol>", "", "</ol>", "",
		"<li>", "• ", "</li>", "",
		"<br />", "\n", "<br>", "\n",
		"<hr />", "\n",
	)
	out = replacer.Replace(out)

	out = tagRe.ReplaceAllStringFunc(out, func(match string) string {
		name := strings.ToLower(tagRe.FindStringSubmatch(match)[1])
		if supportedTags[name] {
			return match
		}
		return ""
	})

	out = blankLinesRe.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

// EscapeHTML makes arbitrary text safe to send in HTML parse mode.
func EscapeHTML(text string) string {
	return html.EscapeString(text)
}
