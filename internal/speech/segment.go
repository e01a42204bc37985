package speech

import (
	"strings"
	"unicode/utf8"
)

// inputLimiter is implemented by streamers whose backend caps the text of one request.
type inputLimiter interface {
	MaxInput() int
}

// splitText breaks text into segments of at most max bytes. It cuts at the
// last line break in range, else after the last sentence end, else at the
// last space, and only splits a word when none of those exist.
func splitText(text string, max int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if max <= 0 || len(text) <= max {
		return []string{text}
	}

	var segments []string
	for len(text) > max {
		cut := bestCut(text[:max])
		if cut <= 0 {
			cut = max
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			if cut == 0 {
				cut = max
			}
		}
		if seg := strings.TrimSpace(text[:cut]); seg != "" {
			segments = append(segments, seg)
		}
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		segments = append(segments, text)
	}
	return segments
}

func bestCut(window string) int {
	if idx := strings.LastIndexByte(window, '\n'); idx > 0 {
		return idx
	}
	for _, end := range []string{". ", "? ", "! "} {
		if idx := strings.LastIndex(window, end); idx > 0 {
			return idx + 1
		}
	}
	return strings.LastIndexByte(window, ' ')
}
