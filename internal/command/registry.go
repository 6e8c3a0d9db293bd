package command

import (
	"sort"
	"strings"
	"unicode"
)

type Registry struct {
	commands map[string]Command
}

func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]Command)}
}

// Register adds cmd under its name and aliases, wrapped in mws.
func (r *Registry) Register(cmd Command, mws ...Middleware) {
	wrapped := ApplyMiddlewares(cmd, mws...)
	r.commands[strings.ToLower(cmd.Name())] = wrapped
	for _, a := range cmd.Aliases() {
		r.commands[strings.ToLower(a)] = wrapped
	}
}

func (r *Registry) Get(name string) (Command, bool) {
	cmd, ok := r.commands[strings.ToLower(name)]
	return cmd, ok
}

// All returns each registered command once, sorted by name.
func (r *Registry) All() []Command {
	seen := map[string]bool{}
	list := make([]Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		if seen[cmd.Name()] {
			continue
		}
		seen[cmd.Name()] = true
		list = append(list, cmd)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name() < list[j].Name() })
	return list
}

// Parse splits "<prefix><name> <args>". ok is false when content does not
// start with prefix or names no command.
func Parse(prefix, content string) (name, args string, ok bool) {
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return "", "", false
	}
	rest := content[len(prefix):]
	end := strings.IndexFunc(rest, unicode.IsSpace)
	if end == 0 || rest == "" {
		return "", "", false
	}
	if end < 0 {
		end = len(rest)
	}
	return strings.ToLower(rest[:end]), strings.TrimSpace(rest[end:]), true
}
