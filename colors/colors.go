// Package colors provides the two terminal palettes used
// for log output: ANSI colors, and a plain palette whose
// codes are all empty.
package colors

import (
	"io"

	"github.com/muesli/termenv"
)

// A Palette maps color names to escape codes.
//
// Palettes are values; the package-level palettes are
// only handed out as copies.
type Palette struct {
	Black   string
	Red     string
	Green   string
	Yellow  string
	Blue    string
	Magenta string
	Cyan    string
	White   string
	Reset   string
}

var colored = Palette{
	Black:   "\033[30m",
	Red:     "\033[31m",
	Green:   "\033[32m",
	Yellow:  "\033[33m",
	Blue:    "\033[34m",
	Magenta: "\033[35m",
	Cyan:    "\033[36m",
	White:   "\033[37m",
	Reset:   "\033[39m",
}

// Colored returns the ANSI palette.
func Colored() Palette {
	return colored
}

// Plain returns the palette with every code empty.
func Plain() Palette {
	return Palette{}
}

// Names lists the color names accepted by Get.
func Names() []string {
	return []string{"black", "red", "green", "yellow", "blue", "magenta", "cyan", "white", "reset"}
}

// Get looks a code up by its lowercase name.
func (p Palette) Get(name string) (string, bool) {
	switch name {
	case "black":
		return p.Black, true
	case "red":
		return p.Red, true
	case "green":
		return p.Green, true
	case "yellow":
		return p.Yellow, true
	case "blue":
		return p.Blue, true
	case "magenta":
		return p.Magenta, true
	case "cyan":
		return p.Cyan, true
	case "white":
		return p.White, true
	case "reset":
		return p.Reset, true
	}
	return "", false
}

// ForOutput picks the palette for w: Plain when w is not
// a terminal or the environment disables colors (for
// example NO_COLOR), Colored otherwise.
func ForOutput(w io.Writer) Palette {
	if termenv.NewOutput(w).EnvColorProfile() == termenv.Ascii {
		return Plain()
	}
	return Colored()
}
