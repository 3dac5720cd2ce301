package chat

import "github.com/fatih/color"

// Server→client lines carry ANSI styling. Colors are forced on because the
// output goes over the socket, never to a local tty.
var (
	styleWelcome = newStyle(color.Bold, color.Underline, color.FgHiYellow)
	styleMessage = newStyle(color.FgHiCyan)
	stylePrivate = newStyle(color.Underline, color.FgBlue)
	styleInfo    = newStyle(color.FgHiMagenta)
	styleSuccess = newStyle(color.FgGreen)
	styleWarning = newStyle(color.FgYellow)
	styleError   = newStyle(color.FgRed)
)

func newStyle(attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	c.EnableColor()
	return c
}
