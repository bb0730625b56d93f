package content

import (
	"bytes"
	"errors"
	"regexp"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
)

var (
	textPolicy = bluemonday.StrictPolicy()
	htmlPolicy = bluemonday.UGCPolicy()

	roomIDRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
)

// SanitizeText strips all HTML from customer-supplied message text.
// Applied once, on ingest, so every downstream consumer sees plain text.
func SanitizeText(input string) string {
	return textPolicy.Sanitize(input)
}

// RenderMarkdown converts message text to sanitized HTML for transcript
// export. The output is safe to embed in a document as-is.
func RenderMarkdown(input string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(input), &buf); err != nil {
		return "", err
	}
	return htmlPolicy.Sanitize(buf.String()), nil
}

// ValidateRoomID checks that a room identifier contains only allowed
// characters (alphanumeric, dot, dash, underscore) and is not empty.
// Room identifiers are interpolated into REST paths, so this doubles
// as an injection guard.
func ValidateRoomID(roomID string) error {
	if roomID == "" {
		return errors.New("room id cannot be empty")
	}
	if !roomIDRegex.MatchString(roomID) {
		return errors.New("room id contains invalid characters (allowed: alphanumeric, dot, dash, underscore)")
	}
	return nil
}
