// Package commands implements the slash-command registry and dispatcher
// for room chat. The command set is a static table built at startup; a
// command's failure is isolated to the invoking connection.
package commands

import (
	"fmt"
	"log"
	"strings"

	"github.com/agorachat/agora/internal/database"
	"github.com/agorachat/agora/internal/types"
)

// Responder receives notices addressed to the invoking connection only.
type Responder interface {
	QueueEvent(event string, payload any) bool
}

// Broadcaster delivers a system message to every client in the room.
type Broadcaster interface {
	BroadcastSystem(roomId int, content string)
}

// Context carries everything a command execution may touch: the invoking
// connection, the invoker's identity, the target room and the room
// broadcast channel.
type Context struct {
	Invoker   Responder
	InvokerId int
	RoomId    int
	Broadcast Broadcaster
}

type Command struct {
	Name        string
	Description string
	Usage       string
	// Role gates execution. Empty means any room member may run the
	// command; RoomRoleLeader requires leadership of the target room.
	Role    types.RoomRole
	Execute func(cc *Context, args []string) error
}

type Dispatcher struct {
	registry map[string]*Command
	db       database.AgoraRepository
	log      *log.Logger
}

// NewDispatcher builds the dispatcher with the given command set. The
// registry is fixed after construction.
func NewDispatcher(db database.AgoraRepository, logger *log.Logger, cmds ...*Command) *Dispatcher {
	d := &Dispatcher{
		registry: make(map[string]*Command, len(cmds)+1),
		db:       db,
		log:      logger,
	}

	for _, cmd := range cmds {
		d.registry[strings.ToLower(cmd.Name)] = cmd
	}

	// help is registered last so it can enumerate the full registry
	help := &Command{
		Name:        "help",
		Description: "list available commands",
		Usage:       "/help",
	}
	help.Execute = func(cc *Context, args []string) error {
		var b strings.Builder
		b.WriteString("Available commands:\n")
		for _, cmd := range d.registry {
			fmt.Fprintf(&b, "%s - %s\n", cmd.Usage, cmd.Description)
		}
		cc.Invoker.QueueEvent("command_result", map[string]any{"content": b.String()})
		return nil
	}
	d.registry["help"] = help

	return d
}

// IsCommand reports whether the chat input should be routed to the
// dispatcher instead of the message pipeline.
func IsCommand(input string) bool {
	return strings.HasPrefix(input, "/")
}

// Parse splits "/name arg1 arg2" into a lowercase command name and its
// arguments. ok is false when the input is not command syntax.
func Parse(input string) (name string, args []string, ok bool) {
	if !IsCommand(input) {
		return "", nil, false
	}

	fields := strings.Fields(input[1:])
	if len(fields) == 0 {
		return "", nil, false
	}

	return strings.ToLower(fields[0]), fields[1:], true
}

// Dispatch parses and executes a slash command. All failure modes --
// unknown command, missing authorization, a panicking or erroring
// command body -- surface only to the invoking connection.
func (d *Dispatcher) Dispatch(cc *Context, input string) {
	name, args, ok := Parse(input)
	if !ok {
		cc.Invoker.QueueEvent("command_error", map[string]any{"message": "invalid command syntax"})
		return
	}

	cmd, found := d.registry[name]
	if !found {
		cc.Invoker.QueueEvent("command_error", map[string]any{"message": fmt.Sprintf("unknown command %q", name)})
		return
	}

	if cmd.Role == types.RoomRoleLeader {
		membership, err := d.db.GetMembership(cc.InvokerId, cc.RoomId)
		if err != nil || membership.Role != types.RoomRoleLeader {
			cc.Invoker.QueueEvent("command_error", map[string]any{"message": fmt.Sprintf("%q requires room leadership", name)})
			return
		}
	}

	d.run(cmd, cc, args)
}

func (d *Dispatcher) run(cmd *Command, cc *Context, args []string) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Printf("command %q panicked: %v", cmd.Name, r)
			cc.Invoker.QueueEvent("command_error", map[string]any{"message": "command failed"})
		}
	}()

	if err := cmd.Execute(cc, args); err != nil {
		d.log.Printf("command %q: %v", cmd.Name, err)
		cc.Invoker.QueueEvent("command_error", map[string]any{"message": "command failed"})
	}
}
