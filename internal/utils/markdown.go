package utils

import (
	"bytes"
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	goldhtml "github.com/yuin/goldmark/renderer/html"
)

var (
	mdParser = goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRendererOptions(
			goldhtml.WithHardWraps(),
			goldhtml.WithXHTML(),
		),
	)
	policy = bluemonday.UGCPolicy()
	strict = bluemonday.StrictPolicy()
)

func init() {
	policy.AllowImages()
	policy.AddTargetBlankToFullyQualifiedLinks(true)
	policy.RequireNoReferrerOnLinks(true)
}

// tagPattern matches one HTML start or end tag at the beginning of the input.
// Autolinks such as <https://example.org> or <me@example.org> do not match
// because the scheme or local part is followed by ':' or '@'.
var tagPattern = regexp.MustCompile(`^</?([A-Za-z][A-Za-z0-9-]*)(?:\s+(?:[^<>"']|"[^"]*"|'[^']*')*)?\s*/?>`)

// rawTextElements lose their body together with their tags.
var rawTextElements = map[string]bool{
	"script":   true,
	"style":    true,
	"iframe":   true,
	"object":   true,
	"embed":    true,
	"noscript": true,
	"template": true,
	"textarea": true,
	"title":    true,
	"xmp":      true,
}

// SanitizeMarkdown strips HTML elements and comments from raw user input
// before storage. Everything else is kept byte for byte: Markdown syntax,
// autolinks, backslash escapes, inline code spans, fenced code blocks and
// stray '<' characters. Removing a tag can join the text around it into a new
// tag, so the pass repeats until nothing changes; every pass only deletes, so
// the loop ends.
func SanitizeMarkdown(source string) string {
	cur := source
	for {
		next := stripMarkup(cur)
		if next == cur {
			return strings.TrimSpace(cur)
		}
		cur = next
	}
}

// stripMarkup copies fenced code blocks verbatim and strips the prose between them.
func stripMarkup(src string) string {
	var out, prose strings.Builder
	fence := ""
	for _, line := range strings.SplitAfter(src, "\n") {
		if fence != "" {
			out.WriteString(line)
			if closesFence(line, fence) {
				fence = ""
			}
			continue
		}
		if f := openingFence(line); f != "" {
			out.WriteString(stripProse(prose.String()))
			prose.Reset()
			out.WriteString(line)
			fence = f
			continue
		}
		prose.WriteString(line)
	}
	out.WriteString(stripProse(prose.String()))
	return out.String()
}

func openingFence(line string) string {
	t := strings.TrimLeft(line, " ")
	if len(line)-len(t) > 3 || len(t) < 3 || (t[0] != '`' && t[0] != '~') {
		return ""
	}
	n := runLength(t, t[0])
	if n < 3 {
		return ""
	}
	return t[:n]
}

func closesFence(line, fence string) bool {
	t := strings.TrimSpace(line)
	return len(t) >= len(fence) && strings.Trim(t, fence[:1]) == ""
}

// stripProse scans left to right so a code span or a tag wins by starting first.
func stripProse(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); {
		switch s[i] {
		case '\\':
			if i+1 < len(s) {
				b.WriteString(s[i : i+2])
				i += 2
				continue
			}
		case '`':
			n := runLength(s[i:], '`')
			if end := closingRun(s[i+n:], n); end >= 0 {
				j := i + n + end + n
				b.WriteString(s[i:j])
				i = j
				continue
			}
			b.WriteString(s[i : i+n])
			i += n
			continue
		case '<':
			if j, ok := markupEnd(s, i); ok {
				i = j
				continue
			}
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}

// markupEnd reports where the HTML comment or tag starting at s[i] ends.
func markupEnd(s string, i int) (int, bool) {
	rest := s[i:]
	if strings.HasPrefix(rest, "<!--") {
		end := strings.Index(rest[4:], "-->")
		if end < 0 {
			return 0, false
		}
		return i + 4 + end + 3, true
	}

	m := tagPattern.FindStringSubmatchIndex(rest)
	if m == nil {
		return 0, false
	}
	// Only drop what the strict policy would drop too.
	if strict.Sanitize(rest[:m[1]]) != "" {
		return 0, false
	}
	end := i + m[1]

	name := strings.ToLower(rest[m[2]:m[3]])
	if rest[1] == '/' || !rawTextElements[name] {
		return end, true
	}
	closing := strings.Index(strings.ToLower(s[end:]), "</"+name)
	if closing < 0 {
		return end, true
	}
	gt := strings.IndexByte(s[end+closing:], '>')
	if gt < 0 {
		return end, true
	}
	return end + closing + gt + 1, true
}

func runLength(s string, c byte) int {
	n := 0
	for n < len(s) && s[n] == c {
		n++
	}
	return n
}

// closingRun finds the next backtick run of exactly n characters.
func closingRun(s string, n int) int {
	for i := 0; i < len(s); {
		if s[i] != '`' {
			i++
			continue
		}
		m := runLength(s[i:], '`')
		if m == n {
			return i
		}
		i += m
	}
	return -1
}

// RenderMarkdown converts stored Markdown to sanitized HTML for display.
func RenderMarkdown(source string) string {
	var buf bytes.Buffer
	if err := mdParser.Convert([]byte(source), &buf); err != nil {
		return html.EscapeString(source)
	}

	sanitized := policy.SanitizeBytes(buf.Bytes())
	return EnhanceHTMLContent(string(sanitized))
}
