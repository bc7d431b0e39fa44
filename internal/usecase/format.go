package usecase

import (
	"regexp"
	"strings"
)

var (
	noiseMarker = regexp.MustCompile(`【.*?】`)
	doubleBold  = regexp.MustCompile(`\*\*(.*?)\*\*`)
)

// FormatForWhatsApp removes 【…】 citation markers and rewrites **bold** to
// WhatsApp's *bold*.
func FormatForWhatsApp(text string) string {
	text = strings.TrimSpace(noiseMarker.ReplaceAllString(text, ""))
	return doubleBold.ReplaceAllString(text, "*${1}*")
}
