package dispatch

import (
	"strings"
	"unicode/utf8"
)

// PreviewLength is the number of characters kept in a message preview.
const PreviewLength = 50

const replyPrefix = "Re: "

// BuildPreview returns the first PreviewLength characters of body followed
// by "..." when body is longer, or body itself otherwise.
func BuildPreview(body string) string {
	if utf8.RuneCountInString(body) <= PreviewLength {
		return body
	}
	runes := []rune(body)
	return string(runes[:PreviewLength]) + "..."
}

// ReplySubject prefixes subject with "Re: " unless it already starts with
// "re:" in any case.
func ReplySubject(subject string) string {
	trimmed := strings.TrimSpace(subject)
	if len(trimmed) >= 3 && strings.EqualFold(trimmed[:3], "re:") {
		return subject
	}
	return replyPrefix + subject
}
