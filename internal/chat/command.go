package chat

import "strings"

type CommandKind int

const (
	KindPlain CommandKind = iota // room broadcast
	KindSlash                    // "/name args"
	KindAt                       // "@user body"
)

// Command is the parsed form of one input line. Parsing is total: every line
// maps to exactly one variant, and unknown slash names only fail at dispatch.
type Command struct {
	Kind CommandKind
	Name string // slash command name, without the "/"
	To   string // private message destination, without the "@"
	Args string // slash argument string, trimmed, "" if absent
	Body string // plain or private message body, "" if absent
}

func ParseCommand(line string) Command {
	switch {
	case strings.HasPrefix(line, "/"):
		name, rest, _ := strings.Cut(line[1:], " ")
		return Command{Kind: KindSlash, Name: name, Args: strings.TrimSpace(rest)}
	case strings.HasPrefix(line, "@"):
		to, rest, _ := strings.Cut(line[1:], " ")
		return Command{Kind: KindAt, To: to, Body: strings.TrimSpace(rest)}
	default:
		return Command{Kind: KindPlain, Body: line}
	}
}
