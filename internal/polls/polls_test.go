package polls

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/agorachat/agora/internal/apperr"
	"github.com/agorachat/agora/internal/database"
	"github.com/agorachat/agora/internal/testutil"
	"github.com/agorachat/agora/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type fakeNotifier struct {
	emitted []string
}

func (f *fakeNotifier) EmitToUser(userId int, event string, payload any) int {
	f.emitted = append(f.emitted, event)
	return 1
}

type fakeAnnouncer struct {
	announced []string
}

func (f *fakeAnnouncer) Announce(roomId int, event string, payload any) {
	f.announced = append(f.announced, event)
}

func newTestService(t *testing.T, db *database.MockAgoraRepository) (*Service, *fakeNotifier, *fakeAnnouncer) {
	t.Helper()
	notifier := &fakeNotifier{}
	announcer := &fakeAnnouncer{}
	return NewService(db, notifier, announcer, testutil.TestLogger(t)), notifier, announcer
}

func Test_Create(t *testing.T) {
	t.Run("empty question", func(t *testing.T) {
		svc, _, _ := newTestService(t, &database.MockAgoraRepository{})

		_, err := svc.Create(1, 2, "  ", []string{"a", "b"}, time.Time{})
		assert.True(t, apperr.IsValidation(err), "expected validation error, got %v", err)
	})

	t.Run("too few options", func(t *testing.T) {
		svc, _, _ := newTestService(t, &database.MockAgoraRepository{})

		_, err := svc.Create(1, 2, "lunch?", []string{"pizza"}, time.Time{})
		assert.True(t, apperr.IsValidation(err), "expected validation error, got %v", err)
	})

	t.Run("safe mode blocks new polls", func(t *testing.T) {
		db := &database.MockAgoraRepository{}
		db.On("GetRoomById", 2).Return(database.Room{Id: 2, Status: types.RoomSafeMode}, nil)
		svc, _, _ := newTestService(t, db)

		_, err := svc.Create(1, 2, "lunch?", []string{"pizza", "sushi"}, time.Time{})
		assert.True(t, apperr.IsConflict(err), "expected conflict error, got %v", err)
	})

	t.Run("non-member cannot create", func(t *testing.T) {
		db := &database.MockAgoraRepository{}
		db.On("GetRoomById", 2).Return(database.Room{Id: 2, Status: types.RoomPublic}, nil)
		db.On("GetMembership", 1, 2).Return(database.Membership{}, sql.ErrNoRows)
		svc, _, _ := newTestService(t, db)

		_, err := svc.Create(1, 2, "lunch?", []string{"pizza", "sushi"}, time.Time{})
		assert.True(t, apperr.IsAuthorization(err), "expected authorization error, got %v", err)
	})

	t.Run("success announces to the room", func(t *testing.T) {
		db := &database.MockAgoraRepository{}
		db.On("GetRoomById", 2).Return(database.Room{Id: 2, Status: types.RoomPublic}, nil)
		db.On("GetMembership", 1, 2).Return(database.Membership{UserId: 1, RoomId: 2}, nil)
		db.On("CreatePoll", mock.MatchedBy(func(p database.CreatePollParams) bool {
			return p.RoomId == 2 && p.CreatorId == 1 && len(p.Options) == 2 &&
				p.Options[0].Idx == 0 && p.Options[1].Idx == 1 && !p.Election
		})).Return(database.Poll{Id: 7, RoomId: 2, Question: "lunch?"}, nil)
		svc, _, announcer := newTestService(t, db)

		poll, err := svc.Create(1, 2, "lunch?", []string{"pizza", "sushi"}, time.Time{})
		assert.NoError(t, err)
		assert.Equal(t, 7, poll.Id)
		assert.Equal(t, []string{"poll_created"}, announcer.announced)
	})
}

func Test_Vote(t *testing.T) {
	active := database.Poll{
		Id:     7,
		RoomId: 2,
		Status: types.PollActive,
		Options: []database.PollOption{
			{Idx: 0, Text: "pizza"},
			{Idx: 1, Text: "sushi"},
		},
	}

	t.Run("closed poll", func(t *testing.T) {
		db := &database.MockAgoraRepository{}
		db.On("GetPoll", 7).Return(database.Poll{Id: 7, Status: types.PollClosed}, nil)
		svc, _, _ := newTestService(t, db)

		_, err := svc.Vote(7, 1, 0)
		assert.True(t, apperr.IsConflict(err), "expected conflict error, got %v", err)
	})

	t.Run("expired voting window", func(t *testing.T) {
		expired := active
		expired.ExpiresAt = time.Now().Add(-time.Minute)
		db := &database.MockAgoraRepository{}
		db.On("GetPoll", 7).Return(expired, nil)
		svc, _, _ := newTestService(t, db)

		_, err := svc.Vote(7, 1, 0)
		assert.True(t, apperr.IsConflict(err), "expected conflict error, got %v", err)
	})

	t.Run("option index out of range", func(t *testing.T) {
		db := &database.MockAgoraRepository{}
		db.On("GetPoll", 7).Return(active, nil)
		svc, _, _ := newTestService(t, db)

		_, err := svc.Vote(7, 1, 5)
		assert.True(t, apperr.IsValidation(err), "expected validation error, got %v", err)
	})

	t.Run("first vote is cast", func(t *testing.T) {
		voted := active
		voted.Options = []database.PollOption{{Idx: 0, Votes: 1}, {Idx: 1}}
		db := &database.MockAgoraRepository{}
		db.On("GetPoll", 7).Return(active, nil).Once()
		db.On("GetMembership", 1, 2).Return(database.Membership{UserId: 1, RoomId: 2}, nil)
		db.On("GetVote", 7, 1).Return(database.Vote{}, sql.ErrNoRows)
		db.On("CastVote", 7, 1, 0).Return(nil)
		db.On("GetPoll", 7).Return(voted, nil)
		svc, _, _ := newTestService(t, db)

		poll, err := svc.Vote(7, 1, 0)
		assert.NoError(t, err)
		assert.Equal(t, 1, poll.Options[0].Votes)
		db.AssertExpectations(t)
	})

	t.Run("re-voting the same option is redundant", func(t *testing.T) {
		db := &database.MockAgoraRepository{}
		db.On("GetPoll", 7).Return(active, nil)
		db.On("GetMembership", 1, 2).Return(database.Membership{UserId: 1, RoomId: 2}, nil)
		db.On("GetVote", 7, 1).Return(database.Vote{PollId: 7, UserId: 1, OptionIndex: 0}, nil)
		svc, _, _ := newTestService(t, db)

		_, err := svc.Vote(7, 1, 0)
		assert.True(t, apperr.IsConflict(err), "expected conflict error, got %v", err)
		db.AssertNotCalled(t, "CastVote", mock.Anything, mock.Anything, mock.Anything)
		db.AssertNotCalled(t, "ChangeVote", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("changing a vote moves the tally as one unit", func(t *testing.T) {
		db := &database.MockAgoraRepository{}
		db.On("GetPoll", 7).Return(active, nil)
		db.On("GetMembership", 1, 2).Return(database.Membership{UserId: 1, RoomId: 2}, nil)
		db.On("GetVote", 7, 1).Return(database.Vote{PollId: 7, UserId: 1, OptionIndex: 0}, nil)
		db.On("ChangeVote", 7, 1, 0, 1).Return(nil)
		svc, _, _ := newTestService(t, db)

		_, err := svc.Vote(7, 1, 1)
		assert.NoError(t, err)
		db.AssertCalled(t, "ChangeVote", 7, 1, 0, 1)
	})

	t.Run("vote racing a close surfaces as conflict", func(t *testing.T) {
		db := &database.MockAgoraRepository{}
		db.On("GetPoll", 7).Return(active, nil)
		db.On("GetMembership", 1, 2).Return(database.Membership{UserId: 1, RoomId: 2}, nil)
		db.On("GetVote", 7, 1).Return(database.Vote{}, sql.ErrNoRows)
		db.On("CastVote", 7, 1, 0).Return(database.ErrNotActive)
		svc, _, _ := newTestService(t, db)

		_, err := svc.Vote(7, 1, 0)
		assert.True(t, apperr.IsConflict(err), "expected conflict error, got %v", err)
		assert.ErrorContains(t, err, "poll is closed")
	})

	t.Run("vote change racing itself is distinguishable from a closed poll", func(t *testing.T) {
		db := &database.MockAgoraRepository{}
		db.On("GetPoll", 7).Return(active, nil)
		db.On("GetMembership", 1, 2).Return(database.Membership{UserId: 1, RoomId: 2}, nil)
		db.On("GetVote", 7, 1).Return(database.Vote{PollId: 7, UserId: 1, OptionIndex: 0}, nil)
		db.On("ChangeVote", 7, 1, 0, 1).Return(database.ErrStaleVote)
		svc, _, _ := newTestService(t, db)

		_, err := svc.Vote(7, 1, 1)
		assert.True(t, apperr.IsConflict(err), "expected conflict error, got %v", err)
		assert.NotContains(t, err.Error(), "poll is closed")
		assert.ErrorContains(t, err, "vote changed in another request")
	})
}

func Test_Winner(t *testing.T) {
	t.Run("highest tally wins", func(t *testing.T) {
		w, ok := Winner([]database.PollOption{{Idx: 0, Votes: 1}, {Idx: 1, Votes: 4}, {Idx: 2, Votes: 2}})
		assert.True(t, ok)
		assert.Equal(t, 1, w.Idx)
	})

	t.Run("ties go to the first-listed option", func(t *testing.T) {
		w, ok := Winner([]database.PollOption{{Idx: 0, Votes: 3}, {Idx: 1, Votes: 3}})
		assert.True(t, ok)
		assert.Equal(t, 0, w.Idx)
	})

	t.Run("no options", func(t *testing.T) {
		_, ok := Winner(nil)
		assert.False(t, ok)
	})
}

func Test_Close(t *testing.T) {
	active := database.Poll{Id: 7, RoomId: 2, CreatorId: 1, Status: types.PollActive}

	t.Run("requires creator or leader", func(t *testing.T) {
		db := &database.MockAgoraRepository{}
		db.On("GetPoll", 7).Return(active, nil)
		db.On("GetMembership", 5, 2).Return(database.Membership{Role: types.RoomRoleMember}, nil)
		svc, _, _ := newTestService(t, db)

		_, err := svc.Close(7, 5)
		assert.True(t, apperr.IsAuthorization(err), "expected authorization error, got %v", err)
	})

	t.Run("already closed", func(t *testing.T) {
		db := &database.MockAgoraRepository{}
		db.On("GetPoll", 7).Return(database.Poll{Id: 7, Status: types.PollClosed}, nil)
		svc, _, _ := newTestService(t, db)

		_, err := svc.Close(7, 1)
		assert.True(t, apperr.IsConflict(err), "expected conflict error, got %v", err)
	})

	t.Run("creator freezes tallies", func(t *testing.T) {
		db := &database.MockAgoraRepository{}
		db.On("GetPoll", 7).Return(active, nil)
		db.On("ClosePoll", 7).Return(database.Poll{Id: 7, RoomId: 2, Status: types.PollClosed}, nil)
		svc, _, announcer := newTestService(t, db)

		poll, err := svc.Close(7, 1)
		assert.NoError(t, err)
		assert.Equal(t, types.PollClosed, poll.Status)
		assert.Equal(t, []string{"poll_closed"}, announcer.announced)
	})

	t.Run("election close promotes the winner and punishes the target", func(t *testing.T) {
		closed := database.Poll{
			Id:       7,
			RoomId:   2,
			Status:   types.PollClosed,
			Election: true,
			Options: []database.PollOption{
				{Idx: 0, CandidateId: 30, Votes: 1},
				{Idx: 1, CandidateId: 31, Votes: 5},
			},
			Punishment: &database.Punishment{TargetUserId: 9, Level: 3, Reason: "spam"},
		}
		db := &database.MockAgoraRepository{}
		db.On("GetPoll", 7).Return(active, nil)
		db.On("ClosePoll", 7).Return(closed, nil)
		db.On("MarkPunishmentApplied", 7).Return(true, nil)
		db.On("UpdateMembershipRole", 31, 2, types.RoomRoleLeader).Return(nil)
		db.On("UpdateRoomStatus", 2, types.RoomPublic).Return(nil)
		db.On("UpdateAccountStatus", 9, types.AccountBanned).Return(nil)
		svc, notifier, announcer := newTestService(t, db)

		_, err := svc.Close(7, 1)
		assert.NoError(t, err)
		assert.Contains(t, notifier.emitted, "role_updated")
		assert.Contains(t, notifier.emitted, "account_status_changed")
		assert.Contains(t, announcer.announced, "leadership_changed")
		db.AssertExpectations(t)
	})

	t.Run("level 2 deactivates instead of banning", func(t *testing.T) {
		closed := database.Poll{
			Id:         7,
			RoomId:     2,
			Status:     types.PollClosed,
			Punishment: &database.Punishment{TargetUserId: 9, Level: 2, Reason: "spam"},
		}
		db := &database.MockAgoraRepository{}
		db.On("GetPoll", 7).Return(database.Poll{Id: 7, RoomId: 2, CreatorId: 1, Status: types.PollActive}, nil)
		db.On("ClosePoll", 7).Return(closed, nil)
		db.On("MarkPunishmentApplied", 7).Return(true, nil)
		db.On("UpdateAccountStatus", 9, types.AccountInactive).Return(nil)
		svc, _, _ := newTestService(t, db)

		_, err := svc.Close(7, 1)
		assert.NoError(t, err)
		db.AssertExpectations(t)
	})

	t.Run("re-entry into the apply step is a no-op", func(t *testing.T) {
		closed := database.Poll{
			Id:         7,
			RoomId:     2,
			Status:     types.PollClosed,
			Punishment: &database.Punishment{TargetUserId: 9, Level: 3},
		}
		db := &database.MockAgoraRepository{}
		db.On("GetPoll", 7).Return(active, nil)
		db.On("ClosePoll", 7).Return(closed, nil)
		db.On("MarkPunishmentApplied", 7).Return(false, nil)
		svc, _, _ := newTestService(t, db)

		_, err := svc.Close(7, 1)
		assert.NoError(t, err)
		db.AssertNotCalled(t, "UpdateAccountStatus", mock.Anything, mock.Anything)
	})

	t.Run("punishment failure leaves the poll closed", func(t *testing.T) {
		closed := database.Poll{
			Id:         7,
			RoomId:     2,
			Status:     types.PollClosed,
			Punishment: &database.Punishment{TargetUserId: 9, Level: 3},
		}
		db := &database.MockAgoraRepository{}
		db.On("GetPoll", 7).Return(active, nil)
		db.On("ClosePoll", 7).Return(closed, nil)
		db.On("MarkPunishmentApplied", 7).Return(true, nil)
		db.On("UpdateAccountStatus", 9, types.AccountBanned).Return(errors.New("db gone"))
		svc, _, _ := newTestService(t, db)

		poll, err := svc.Close(7, 1)
		assert.NoError(t, err)
		assert.Equal(t, types.PollClosed, poll.Status)
	})
}

func Test_CloseExpired(t *testing.T) {
	now := time.Now()

	t.Run("one bad poll does not stall the sweep", func(t *testing.T) {
		db := &database.MockAgoraRepository{}
		db.On("ListExpiredActivePolls", now).Return([]database.Poll{{Id: 7, RoomId: 2}, {Id: 8, RoomId: 2}}, nil)
		db.On("ClosePoll", 7).Return(database.Poll{}, errors.New("db gone"))
		db.On("ClosePoll", 8).Return(database.Poll{Id: 8, RoomId: 2, Status: types.PollClosed}, nil)
		svc, _, _ := newTestService(t, db)

		closed, err := svc.CloseExpired(now)
		assert.NoError(t, err)
		assert.Equal(t, 1, closed)
	})

	t.Run("nothing overdue", func(t *testing.T) {
		db := &database.MockAgoraRepository{}
		db.On("ListExpiredActivePolls", now).Return([]database.Poll{}, nil)
		svc, _, _ := newTestService(t, db)

		closed, err := svc.CloseExpired(now)
		assert.NoError(t, err)
		assert.Zero(t, closed)
	})
}

func Test_TriggerPunishment(t *testing.T) {
	t.Run("rejects out-of-range levels", func(t *testing.T) {
		svc, _, _ := newTestService(t, &database.MockAgoraRepository{})

		_, err := svc.TriggerPunishment(9, 1, "spam", 50)
		assert.True(t, apperr.IsValidation(err), "expected validation error, got %v", err)
	})

	t.Run("target leading no rooms is punished immediately", func(t *testing.T) {
		db := &database.MockAgoraRepository{}
		db.On("GetAccountById", 9).Return(database.User{Id: 9}, nil)
		db.On("ListRoomsLedBy", 9).Return([]database.Room{}, nil)
		db.On("UpdateAccountStatus", 9, types.AccountInactive).Return(nil)
		svc, _, _ := newTestService(t, db)

		polls, err := svc.TriggerPunishment(9, 2, "spam", 50)
		assert.NoError(t, err)
		assert.Empty(t, polls)
		db.AssertExpectations(t)
	})

	t.Run("led rooms each get an election and the punishment is deferred", func(t *testing.T) {
		db := &database.MockAgoraRepository{}
		db.On("GetAccountById", 9).Return(database.User{Id: 9}, nil)
		db.On("ListRoomsLedBy", 9).Return([]database.Room{{Id: 2, Name: "general"}}, nil)
		db.On("UpdateRoomStatus", 2, types.RoomSafeMode).Return(nil)
		db.On("UpdateMembershipRole", 9, 2, types.RoomRoleMember).Return(nil)
		db.On("ListMembersByReputation", 2, 9, candidateLimit).Return([]database.Membership{
			{UserId: 30, Username: "alice", Reputation: 12},
			{UserId: 31, Username: "bob", Reputation: 8},
		}, nil)
		db.On("CreatePoll", mock.MatchedBy(func(p database.CreatePollParams) bool {
			return p.Election && p.RoomId == 2 && p.Punishment != nil &&
				p.Punishment.TargetUserId == 9 && p.Punishment.Level == 3 &&
				len(p.Options) == 2 && p.Options[0].CandidateId == 30
		})).Return(database.Poll{Id: 7, RoomId: 2, Election: true}, nil)
		svc, _, announcer := newTestService(t, db)

		polls, err := svc.TriggerPunishment(9, 3, "spam", 50)
		assert.NoError(t, err)
		assert.Len(t, polls, 1)
		assert.Contains(t, announcer.announced, "election_started")
		db.AssertNotCalled(t, "UpdateAccountStatus", mock.Anything, mock.Anything)
	})

	t.Run("one failing room does not abort the others", func(t *testing.T) {
		db := &database.MockAgoraRepository{}
		db.On("GetAccountById", 9).Return(database.User{Id: 9}, nil)
		db.On("ListRoomsLedBy", 9).Return([]database.Room{{Id: 2, Name: "general"}, {Id: 3, Name: "random"}}, nil)
		db.On("UpdateRoomStatus", 2, types.RoomSafeMode).Return(errors.New("db gone"))
		db.On("UpdateRoomStatus", 3, types.RoomSafeMode).Return(nil)
		db.On("UpdateMembershipRole", 9, 3, types.RoomRoleMember).Return(nil)
		db.On("ListMembersByReputation", 3, 9, candidateLimit).Return([]database.Membership{
			{UserId: 30, Username: "alice"},
		}, nil)
		db.On("CreatePoll", mock.Anything).Return(database.Poll{Id: 8, RoomId: 3, Election: true}, nil)
		svc, _, _ := newTestService(t, db)

		polls, err := svc.TriggerPunishment(9, 3, "spam", 50)
		assert.NoError(t, err)
		assert.Len(t, polls, 1)
		assert.Equal(t, 3, polls[0].RoomId)
	})

	t.Run("no eligible candidates skips the poll and punishes now", func(t *testing.T) {
		db := &database.MockAgoraRepository{}
		db.On("GetAccountById", 9).Return(database.User{Id: 9}, nil)
		db.On("ListRoomsLedBy", 9).Return([]database.Room{{Id: 2, Name: "general"}}, nil)
		db.On("UpdateRoomStatus", 2, types.RoomSafeMode).Return(nil)
		db.On("UpdateMembershipRole", 9, 2, types.RoomRoleMember).Return(nil)
		db.On("ListMembersByReputation", 2, 9, candidateLimit).Return([]database.Membership{}, nil)
		db.On("UpdateAccountStatus", 9, types.AccountBanned).Return(nil)
		svc, _, _ := newTestService(t, db)

		polls, err := svc.TriggerPunishment(9, 3, "spam", 50)
		assert.NoError(t, err)
		assert.Empty(t, polls)
		db.AssertExpectations(t)
	})
}
