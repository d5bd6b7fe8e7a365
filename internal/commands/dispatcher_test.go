package commands

import (
	"context"
	"errors"
	"testing"

	"github.com/agorachat/agora/internal/database"
	"github.com/agorachat/agora/internal/testutil"
	"github.com/agorachat/agora/internal/types"
	"github.com/stretchr/testify/assert"
)

type fakeResponder struct {
	events []string
}

func (r *fakeResponder) QueueEvent(event string, payload any) bool {
	r.events = append(r.events, event)
	return true
}

type fakeBroadcaster struct {
	messages []string
}

func (b *fakeBroadcaster) BroadcastSystem(roomId int, content string) {
	b.messages = append(b.messages, content)
}

func Test_Parse(t *testing.T) {
	tests := []struct {
		input    string
		wantName string
		wantArgs []string
		wantOk   bool
	}{
		{"/weather New York", "weather", []string{"New", "York"}, true},
		{"/HELP", "help", []string{}, true},
		{"/flip", "flip", []string{}, true},
		{"hello", "", nil, false},
		{"/", "", nil, false},
		{"/   ", "", nil, false},
	}

	for _, tc := range tests {
		name, args, ok := Parse(tc.input)
		assert.Equal(t, tc.wantOk, ok, "input %q", tc.input)
		assert.Equal(t, tc.wantName, name, "input %q", tc.input)
		if tc.wantOk {
			assert.ElementsMatch(t, tc.wantArgs, args, "input %q", tc.input)
		}
	}
}

func Test_DispatchUnknownCommand(t *testing.T) {
	d := NewDispatcher(&database.MockAgoraRepository{}, testutil.TestLogger(t))
	invoker := &fakeResponder{}

	d.Dispatch(&Context{Invoker: invoker, InvokerId: 1, RoomId: 1}, "/nosuchthing")

	assert.Equal(t, []string{"command_error"}, invoker.events)
}

func Test_DispatchLeaderGating(t *testing.T) {
	executed := false
	leaderOnly := &Command{
		Name:  "promote",
		Usage: "/promote",
		Role:  types.RoomRoleLeader,
		Execute: func(cc *Context, args []string) error {
			executed = true
			return nil
		},
	}

	t.Run("non-leader is rejected and command body never runs", func(t *testing.T) {
		executed = false
		db := &database.MockAgoraRepository{}
		db.On("GetMembership", 1, 5).Return(database.Membership{UserId: 1, RoomId: 5, Role: types.RoomRoleMember}, nil)

		d := NewDispatcher(db, testutil.TestLogger(t), leaderOnly)
		invoker := &fakeResponder{}
		d.Dispatch(&Context{Invoker: invoker, InvokerId: 1, RoomId: 5}, "/promote")

		assert.False(t, executed, "command body must not execute for non-leader")
		assert.Equal(t, []string{"command_error"}, invoker.events)
		db.AssertExpectations(t)
	})

	t.Run("membership lookup failure is rejected", func(t *testing.T) {
		executed = false
		db := &database.MockAgoraRepository{}
		db.On("GetMembership", 1, 5).Return(database.Membership{}, errors.New("no membership"))

		d := NewDispatcher(db, testutil.TestLogger(t), leaderOnly)
		invoker := &fakeResponder{}
		d.Dispatch(&Context{Invoker: invoker, InvokerId: 1, RoomId: 5}, "/promote")

		assert.False(t, executed)
		assert.Equal(t, []string{"command_error"}, invoker.events)
	})

	t.Run("room leader may execute", func(t *testing.T) {
		executed = false
		db := &database.MockAgoraRepository{}
		db.On("GetMembership", 1, 5).Return(database.Membership{UserId: 1, RoomId: 5, Role: types.RoomRoleLeader}, nil)

		d := NewDispatcher(db, testutil.TestLogger(t), leaderOnly)
		invoker := &fakeResponder{}
		d.Dispatch(&Context{Invoker: invoker, InvokerId: 1, RoomId: 5}, "/promote")

		assert.True(t, executed)
		assert.Empty(t, invoker.events)
	})
}

func Test_DispatchIsolation(t *testing.T) {
	t.Run("command error surfaces as generic notice", func(t *testing.T) {
		failing := &Command{
			Name:  "boom",
			Usage: "/boom",
			Execute: func(cc *Context, args []string) error {
				return errors.New("provider exploded")
			},
		}

		d := NewDispatcher(&database.MockAgoraRepository{}, testutil.TestLogger(t), failing)
		invoker := &fakeResponder{}
		d.Dispatch(&Context{Invoker: invoker, InvokerId: 1, RoomId: 1}, "/boom")

		assert.Equal(t, []string{"command_error"}, invoker.events)
	})

	t.Run("command panic is recovered", func(t *testing.T) {
		panicking := &Command{
			Name:  "panic",
			Usage: "/panic",
			Execute: func(cc *Context, args []string) error {
				panic("unexpected")
			},
		}

		d := NewDispatcher(&database.MockAgoraRepository{}, testutil.TestLogger(t), panicking)
		invoker := &fakeResponder{}
		assert.NotPanics(t, func() {
			d.Dispatch(&Context{Invoker: invoker, InvokerId: 1, RoomId: 1}, "/panic")
		})
		assert.Equal(t, []string{"command_error"}, invoker.events)
	})
}

func Test_HelpCommand(t *testing.T) {
	d := NewDispatcher(&database.MockAgoraRepository{}, testutil.TestLogger(t), flipCommand())
	invoker := &fakeResponder{}

	d.Dispatch(&Context{Invoker: invoker, InvokerId: 1, RoomId: 1}, "/help")

	assert.Equal(t, []string{"command_result"}, invoker.events)
}

func Test_FlipCommandBroadcasts(t *testing.T) {
	d := NewDispatcher(&database.MockAgoraRepository{}, testutil.TestLogger(t), flipCommand())
	invoker := &fakeResponder{}
	broadcast := &fakeBroadcaster{}

	d.Dispatch(&Context{Invoker: invoker, InvokerId: 1, RoomId: 1, Broadcast: broadcast}, "/flip")

	assert.Len(t, broadcast.messages, 1)
	assert.Contains(t, broadcast.messages[0], "The coin landed on")
}

type fixedWeather struct {
	calls int
}

func (f *fixedWeather) Current(ctx context.Context, city string) (string, error) {
	f.calls++
	return city + ": Sunny, 21°C", nil
}

func Test_WeatherCommandCachesProviderResponses(t *testing.T) {
	provider := &fixedWeather{}
	weather := NewWeatherCommand(provider)

	d := NewDispatcher(&database.MockAgoraRepository{}, testutil.TestLogger(t), weather.Command())
	broadcast := &fakeBroadcaster{}
	cc := &Context{Invoker: &fakeResponder{}, InvokerId: 1, RoomId: 1, Broadcast: broadcast}

	d.Dispatch(cc, "/weather Lisbon")
	d.Dispatch(cc, "/weather lisbon")

	assert.Equal(t, 1, provider.calls, "expected second lookup served from cache")
	assert.Len(t, broadcast.messages, 2)
	assert.Equal(t, broadcast.messages[0], broadcast.messages[1])
}
