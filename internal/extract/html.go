package extract

import (
	"io"
	"strings"

	"golang.org/x/net/html"
)

var skippedElements = map[string]bool{
	"script": true, "style": true, "noscript": true, "template": true,
	"svg": true, "iframe": true, "head": true,
}

var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true, "section": true,
	"article": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true,
	"h6": true, "header": true, "footer": true, "blockquote": true, "pre": true,
}

// htmlText returns the visible text of a page and its <title>.
func htmlText(r io.Reader) (string, string, error) {
	z := html.NewTokenizer(r)
	var (
		out     strings.Builder
		title   string
		skip    int
		inTitle bool
	)
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				return tidyLines(out.String()), strings.TrimSpace(title), nil
			}
			return "", "", z.Err()
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == "title" {
				inTitle = true
				continue
			}
			if skippedElements[tag] && tt == html.StartTagToken {
				skip++
			}
			if blockElements[tag] {
				out.WriteString("\n")
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == "title" {
				inTitle = false
				continue
			}
			if skippedElements[tag] && skip > 0 {
				skip--
			}
			if blockElements[tag] {
				out.WriteString("\n")
			}
		case html.TextToken:
			text := string(z.Text())
			if inTitle {
				title += text
				continue
			}
			if skip > 0 {
				continue
			}
			if t := strings.TrimSpace(text); t != "" {
				out.WriteString(t)
				out.WriteString(" ")
			}
		}
	}
}

// tidyLines collapses whitespace inside lines and drops blank lines.
func tidyLines(s string) string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = collapseWhitespace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
