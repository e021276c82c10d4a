package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// PrintProgressBar renders fraction (0..1) as a bar of width cells.
func PrintProgressBar(fraction float64, width int) string {
	if width <= 0 {
		width = 30
	}
	fraction = min(max(fraction, 0), 1)
	filled := max(0, min(int(fraction*float64(width)), width))
	bar := StyleSymbols["bullet"]
	bar += strings.Repeat(StyleSymbols["hline"], filled)
	if filled < width {
		bar += strings.Repeat(" ", width-filled)
	}
	bar += StyleSymbols["bullet"]
	return debugStyle.Render(fmt.Sprintf("%s %.1f%% %s ", bar, fraction*100, StyleSymbols["bullet"]))
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func terminalSize(w io.Writer) (width, height int) {
	width, height = 80, 24
	if f, ok := w.(*os.File); ok {
		if tw, th, err := term.GetSize(int(f.Fd())); err == nil && tw > 0 && th > 0 {
			width, height = tw, th
		}
	}
	return width, height
}

// truncate shortens text to fit in width runes.
func truncate(text string, width int) string {
	runes := []rune(text)
	if width <= 3 || len(runes) <= width {
		return text
	}
	return string(runes[:width-3]) + "..."
}
