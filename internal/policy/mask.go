package policy

import (
	"strings"
	"unicode/utf8"
)

// MaskContact reduces free-form visitor details ("name, phone") to a form
// that is safe to log: contact numbers and emails are redacted and every other
// word keeps only its first letter.
func MaskContact(nameTel string) string {
	redacted, _ := RedactPII(strings.TrimSpace(nameTel))
	words := strings.Fields(redacted)
	for i, w := range words {
		if strings.HasPrefix(w, "[REDACTED_") {
			continue
		}
		r, _ := utf8.DecodeRuneInString(w)
		words[i] = string(r) + "***"
	}
	return strings.Join(words, " ")
}
