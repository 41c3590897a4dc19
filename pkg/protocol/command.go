package protocol

import "strings"

// CommandKind classifies an input line
type CommandKind uint8

const (
	CommandUnknown CommandKind = iota
	CommandNull
	CommandLogout
	CommandWhoElse
	CommandWhoLastHr
	CommandHelp
	CommandAnalysis
	CommandBroadcast
	CommandBlock
	CommandUnblock
	CommandMessage
)

// Statistics bucket names
const (
	StatUnknown = "Unknown command"
	StatNull    = "null"
)

var commandNames = map[CommandKind]string{
	CommandUnknown:   StatUnknown,
	CommandNull:      StatNull,
	CommandLogout:    "logout",
	CommandWhoElse:   "whoelse",
	CommandWhoLastHr: "wholasthr",
	CommandHelp:      "help",
	CommandAnalysis:  "analysis",
	CommandBroadcast: "broadcast",
	CommandBlock:     "block",
	CommandUnblock:   "unblock",
	CommandMessage:   "message",
}

// String returns the statistics bucket for the kind.
func (k CommandKind) String() string {
	if name, ok := commandNames[k]; ok {
		return name
	}
	return StatUnknown
}

// Command is a parsed input line.
// Target is set for block, unblock and message; Body for broadcast and message.
type Command struct {
	Kind   CommandKind
	Target string
	Body   string
}

// Tokenize splits a line on single spaces. Empty tokens between two spaces
// are kept; trailing empty tokens are dropped.
func Tokenize(line string) []string {
	tokens := strings.Split(line, " ")
	for len(tokens) > 0 && tokens[len(tokens)-1] == "" {
		tokens = tokens[:len(tokens)-1]
	}
	return tokens
}

// ParseCommand classifies line purely by token count and first token.
func ParseCommand(line string) Command {
	if line == "" {
		return Command{Kind: CommandNull}
	}
	if line == "logout" {
		return Command{Kind: CommandLogout}
	}

	tokens := Tokenize(line)
	switch len(tokens) {
	case 0:
		return Command{Kind: CommandUnknown}

	case 1:
		switch tokens[0] {
		case "whoelse":
			return Command{Kind: CommandWhoElse}
		case "wholasthr":
			return Command{Kind: CommandWhoLastHr}
		case "help":
			return Command{Kind: CommandHelp}
		case "analysis":
			return Command{Kind: CommandAnalysis}
		}
		return Command{Kind: CommandUnknown}

	case 2:
		switch tokens[0] {
		case "broadcast":
			return Command{Kind: CommandBroadcast, Body: tokens[1]}
		case "block":
			return Command{Kind: CommandBlock, Target: tokens[1]}
		case "unblock":
			return Command{Kind: CommandUnblock, Target: tokens[1]}
		}
		return Command{Kind: CommandUnknown}
	}

	switch tokens[0] {
	case "message":
		return Command{
			Kind:   CommandMessage,
			Target: tokens[1],
			Body:   strings.Join(tokens[2:], " "),
		}
	case "broadcast":
		return Command{
			Kind: CommandBroadcast,
			Body: strings.Join(tokens[1:], " "),
		}
	}
	return Command{Kind: CommandUnknown}
}
