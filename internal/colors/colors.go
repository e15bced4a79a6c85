// Package colors provides centralized color output with TTY-aware defaults.
//
// Colors are automatically disabled when stdout is not a terminal (piped or
// redirected to a file). Use Init() to override based on CLI flags.
package colors

import "github.com/fatih/color"

// Init allows overriding the auto-detected color setting.
//   - forceColor == nil: keep auto-detected value (recommended default)
//   - forceColor == true: force colors on (e.g., --color flag)
//   - forceColor == false: force colors off
func Init(forceColor *bool) {
	if forceColor != nil {
		color.NoColor = !*forceColor
	}
}

// Enabled returns true if colors are currently enabled.
func Enabled() bool {
	return !color.NoColor
}

func Faint() *color.Color       { return color.New(color.Faint) }
func Italic() *color.Color      { return color.New(color.Italic) }
func Red() *color.Color         { return color.New(color.FgRed) }
func BoldHiBlue() *color.Color  { return color.New(color.Bold, color.FgHiBlue) }
func FaintCyan() *color.Color   { return color.New(color.Faint, color.FgCyan) }
func FaintYellow() *color.Color { return color.New(color.Faint, color.FgYellow) }
