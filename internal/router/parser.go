// Package router turns inbound events into downstream dispatches and
// correlates the responses.
package router

import "strings"

// CommandPrefixes are the prefixes the router recognizes at the start of a
// chat message.
var CommandPrefixes = []string{"!", "#"}

// ParsedCommand is the result of tokenizing a prefixed message.
type ParsedCommand struct {
	Prefix  string
	Command string
	Args    []string
}

// ParseCommand tokenizes message into (prefix, command, args). The second
// return is false when the message carries no recognized prefix. Command
// names are case-insensitive.
func ParseCommand(message string) (*ParsedCommand, bool) {
	msg := strings.TrimSpace(message)
	if msg == "" {
		return nil, false
	}
	var prefix string
	for _, p := range CommandPrefixes {
		if strings.HasPrefix(msg, p) {
			prefix = p
			break
		}
	}
	if prefix == "" {
		return nil, false
	}
	fields := strings.Fields(msg[len(prefix):])
	if len(fields) == 0 || fields[0] == "" {
		return nil, false
	}
	return &ParsedCommand{
		Prefix:  prefix,
		Command: strings.ToLower(fields[0]),
		Args:    fields[1:],
	}, true
}
