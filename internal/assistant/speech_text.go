package assistant

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	speechURLPattern          = regexp.MustCompile(`https?://\S+`)
	speechFencedCodePattern   = regexp.MustCompile("(?s)```.*?```")
	speechInlineCodePattern   = regexp.MustCompile("`[^`]*`")
	speechMarkdownLinkPattern = regexp.MustCompile(`\[(.*?)\]\((.*?)\)`)
	speechListMarkerPattern   = regexp.MustCompile(`(?m)^\s*(?:[-*+]|\d+[.)])\s+`)

	speechSymbolReplacer = strings.NewReplacer(
		"*", " ", "_", " ", "\\", " ", "/", " ", "|", " ",
		"#", " ", "~", " ", "<", " ", ">", " ", "&", " and ",
	)
)

// SpeechText strips markup and symbol noise from a model reply so it sounds natural
// when synthesized. Code blocks and URLs are dropped; link labels are kept.
func SpeechText(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	raw = speechFencedCodePattern.ReplaceAllString(raw, " ")
	raw = speechInlineCodePattern.ReplaceAllString(raw, " ")
	raw = speechMarkdownLinkPattern.ReplaceAllString(raw, "$1")
	raw = speechURLPattern.ReplaceAllString(raw, " ")
	raw = speechListMarkerPattern.ReplaceAllString(raw, "")
	raw = speechSymbolReplacer.Replace(raw)

	var b strings.Builder
	b.Grow(len(raw))
	space := true
	for _, r := range raw {
		switch {
		case r == '\u200d' || r == '\ufe0f' || r == '\u20e3':
		case unicode.IsSpace(r):
			if !space {
				b.WriteByte(' ')
				space = true
			}
		case unicode.IsControl(r), unicode.In(r, unicode.So, unicode.Sm, unicode.Sk):
		case speakablePunct(r):
			b.WriteRune(r)
			space = false
		case unicode.IsPunct(r):
			if !space {
				b.WriteByte(' ')
				space = true
			}
		default:
			b.WriteRune(r)
			space = false
		}
	}
	return strings.TrimSpace(b.String())
}

func speakablePunct(r rune) bool {
	switch r {
	case '.', ',', '!', '?', ':', ';', '\'', '"', '-', '(', ')':
		return true
	default:
		return false
	}
}
