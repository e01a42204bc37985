package main

import (
	"fmt"
	"strings"

	"github.com/mazznoer/colorgrad"
)

// getBanner returns a colorized ASCII art banner
func getBanner(version string) string {
	banner := `
            _
__   _____ (_) ___ ___ _ __ __ _  __ _
\ \ / / _ \| |/ __/ _ \ '__/ _' |/ _' |
 \ V / (_) | | (_|  __/ | | (_| | (_| |
  \_/ \___/|_|\___\___|_|  \__,_|\__, |
  .  .  ask  it  out  loud       |___/  [v` + version + `]
`
	grad, _ := colorgrad.NewGradient().
		HtmlColors("#0fa3b1ff", "#f7a072ff").
		Build()

	lines := strings.Split(banner, "\n")

	// Find max line length for gradient spread
	maxLen := 0
	for _, line := range lines {
		if len(line) > maxLen {
			maxLen = len(line)
		}
	}

	colors := grad.Colors(uint(maxLen))
	var coloredBanner strings.Builder

	for _, line := range lines {
		for i, ch := range line {
			r, g, b, _ := colors[i].RGBA255()
			coloredBanner.WriteString(fmt.Sprintf("\x1b[38;2;%d;%d;%dm%c", r, g, b, ch))
		}
		coloredBanner.WriteString("\x1b[0m\n")
	}

	return coloredBanner.String()
}
