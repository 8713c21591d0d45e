package slack

import (
	"regexp"
	"strings"

	goslack "github.com/slack-go/slack"
)

// Fingerprint returns the marker a firing message carries in its fallback
// text so the matching resolution notice can locate it and thread onto it.
func Fingerprint(firingID string) string {
	return "[alert:" + firingID + "]"
}

var whitespaceRe = regexp.MustCompile(`\s+`)

func normalizeText(s string) string {
	s = strings.ToLower(s)
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func collectMessageText(msg goslack.Message) string {
	var parts []string
	if msg.Text != "" {
		parts = append(parts, msg.Text)
	}
	for _, att := range msg.Attachments {
		if att.Text != "" {
			parts = append(parts, att.Text)
		}
		if att.Fallback != "" {
			parts = append(parts, att.Fallback)
		}
	}
	return strings.Join(parts, " ")
}
