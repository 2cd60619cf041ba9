package cmd

import (
	"os"
	"runtime"
	"strconv"
)

// ANSI sequences for line-oriented output. They are empty while color is off;
// lipgloss styles in render.go are switched together with them.
var (
	colorRed    string
	colorGreen  string
	colorYellow string
	colorCyan   string
	colorDim    string
	colorBold   string
	colorReset  string
)

var ansiPalette = []struct {
	dst  *string
	code string
}{
	{&colorRed, "\033[0;31m"},
	{&colorGreen, "\033[0;32m"},
	{&colorYellow, "\033[0;33m"},
	{&colorCyan, "\033[0;36m"},
	{&colorDim, "\033[2m"},
	{&colorBold, "\033[1m"},
	{&colorReset, "\033[0m"},
}

// Bounds for wrapped output.
const (
	defaultRenderWidth = 80
	minRenderWidth     = 40
)

func init() {
	setColors(colorAllowed(os.Getenv))
}

func setColors(on bool) {
	for _, c := range ansiPalette {
		if on {
			*c.dst = c.code
		} else {
			*c.dst = ""
		}
	}
	setStylesEnabled(on)
}

// applyColorMode applies the --color flag.
func applyColorMode() {
	setColors(wantColor(colorMode, os.Getenv, isTerminal(os.Stdout)))
}

// wantColor resolves a --color value. "auto" colors only a terminal whose
// environment allows it.
func wantColor(mode string, getenv func(string) string, tty bool) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	default:
		return tty && colorAllowed(getenv)
	}
}

// colorAllowed honors NO_COLOR (https://no-color.org/) and TERM=dumb. Legacy
// Windows consoles only get color inside Windows Terminal or an emulator that
// announces itself.
func colorAllowed(getenv func(string) string) bool {
	if getenv("NO_COLOR") != "" || getenv("TERM") == "dumb" {
		return false
	}
	if runtime.GOOS == "windows" {
		return getenv("WT_SESSION") != "" || getenv("TERM_PROGRAM") != "" || getenv("ConEmuANSI") == "ON"
	}
	return true
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// terminalWidth returns the width of stdout, then $COLUMNS, then 80, never
// less than minRenderWidth.
func terminalWidth() int {
	w := ttyColumns(os.Stdout)
	if w <= 0 {
		w, _ = strconv.Atoi(os.Getenv("COLUMNS"))
	}
	if w <= 0 {
		w = defaultRenderWidth
	}
	return max(w, minRenderWidth)
}

// utilizationColor highlights resources at or above the ranking ceiling in
// yellow and overbooked resources in red.
func utilizationColor(pct, ceiling float64) string {
	switch {
	case pct >= 100:
		return colorRed
	case pct >= ceiling:
		return colorYellow
	default:
		return ""
	}
}
