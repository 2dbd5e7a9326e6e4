package textgen

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	codeFence    = regexp.MustCompile("(?s)```.*?```")
	markdownLink = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	bareURL      = regexp.MustCompile(`(?:https?://|www\.)\S+`)
	blockMarker  = regexp.MustCompile(`^\s*(?:[-*+•]|\d{1,3}[.)]|#{1,6}|>)\s+`)
	emphasis     = strings.NewReplacer("**", "", "__", "", "~~", "", "`", "")
)

// SpeakableText flattens a chat reply into a line the avatar reads aloud.
// Headings and list items become sentences, links keep their label, and
// emoji and markup glyphs are dropped. Symbols a listener needs to hear,
// such as "+65", "20%", "R&D" or "$40", are kept.
func SpeakableText(reply string) string {
	reply = codeFence.ReplaceAllString(reply, "\n")
	reply = markdownLink.ReplaceAllString(reply, "$1")
	reply = bareURL.ReplaceAllString(reply, " ")

	var parts []string
	for _, line := range strings.Split(reply, "\n") {
		item := blockMarker.MatchString(line)
		line = blockMarker.ReplaceAllString(line, "")
		line = speakableLine(emphasis.Replace(line))
		if line == "" {
			continue
		}
		if item && !endsSentence(line) {
			line += "."
		}
		parts = append(parts, line)
	}
	return strings.Join(parts, " ")
}

func speakableLine(line string) string {
	var b strings.Builder
	b.Grow(len(line))
	space := true
	gap := func() {
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	for _, r := range line {
		switch {
		case r == '\u200d' || r == '\u20e3' || unicode.Is(unicode.Variation_Selector, r):
		case unicode.IsSpace(r):
			gap()
		case unicode.IsControl(r) || unicode.In(r, unicode.Cf, unicode.So, unicode.Sk):
		case unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Sc, r) || keepSymbol(r):
			b.WriteRune(r)
			space = false
		default:
			gap()
		}
	}
	return strings.TrimSpace(b.String())
}

func keepSymbol(r rune) bool {
	return strings.ContainsRune(".,!?:;'\"-()+%&@/", r) || r == '\u2019'
}

func endsSentence(s string) bool {
	return strings.HasSuffix(s, ".") || strings.HasSuffix(s, "!") ||
		strings.HasSuffix(s, "?") || strings.HasSuffix(s, ":")
}
