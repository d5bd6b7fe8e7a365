package commands

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/agorachat/agora/internal/database"
	"github.com/agorachat/agora/internal/types"
)

// DefaultCommands builds the standard command set. The weather command
// is only registered when a provider is configured.
func DefaultCommands(db database.AgoraRepository, weather *WeatherCommand) []*Command {
	cmds := []*Command{
		membersCommand(db),
		flipCommand(),
		announceCommand(),
	}

	if weather != nil {
		cmds = append(cmds, weather.Command())
	}

	return cmds
}

func membersCommand(db database.AgoraRepository) *Command {
	return &Command{
		Name:        "members",
		Description: "list room members and their roles",
		Usage:       "/members",
		Execute: func(cc *Context, args []string) error {
			room, err := db.GetRoomWithMembers(cc.RoomId)
			if err != nil {
				return fmt.Errorf("fetch members: %w", err)
			}

			var b strings.Builder
			fmt.Fprintf(&b, "%d member(s):\n", len(room.Members))
			for _, m := range room.Members {
				if m.Role == types.RoomRoleLeader {
					fmt.Fprintf(&b, "%s (leader)\n", m.Username)
				} else {
					fmt.Fprintf(&b, "%s\n", m.Username)
				}
			}

			cc.Invoker.QueueEvent("command_result", map[string]any{"content": b.String()})
			return nil
		},
	}
}

func flipCommand() *Command {
	return &Command{
		Name:        "flip",
		Description: "flip a coin",
		Usage:       "/flip",
		Execute: func(cc *Context, args []string) error {
			result := "heads"
			if rand.Intn(2) == 1 {
				result = "tails"
			}
			cc.Broadcast.BroadcastSystem(cc.RoomId, "The coin landed on "+result)
			return nil
		},
	}
}

func announceCommand() *Command {
	return &Command{
		Name:        "announce",
		Description: "broadcast an announcement to the room",
		Usage:       "/announce <text>",
		Role:        types.RoomRoleLeader,
		Execute: func(cc *Context, args []string) error {
			if len(args) == 0 {
				cc.Invoker.QueueEvent("command_error", map[string]any{"message": "usage: /announce <text>"})
				return nil
			}
			cc.Broadcast.BroadcastSystem(cc.RoomId, "Announcement: "+strings.Join(args, " "))
			return nil
		},
	}
}
