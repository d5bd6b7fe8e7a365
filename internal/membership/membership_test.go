package membership

import (
	"database/sql"
	"testing"
	"time"

	"github.com/agorachat/agora/internal/database"
	"github.com/agorachat/agora/internal/testutil"
	"github.com/agorachat/agora/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/agorachat/agora/internal/apperr"
)

type fakeNotifier struct {
	emitted []string
}

func (f *fakeNotifier) EmitToUser(userId int, event string, payload any) int {
	f.emitted = append(f.emitted, event)
	return 1
}

func newTestService(t *testing.T, db *database.MockAgoraRepository) (*Service, *fakeNotifier) {
	t.Helper()
	notifier := &fakeNotifier{}
	return NewService(db, notifier, testutil.TestLogger(t)), notifier
}

func Test_Create(t *testing.T) {
	t.Run("message too short", func(t *testing.T) {
		svc, _ := newTestService(t, &database.MockAgoraRepository{})

		_, err := svc.Create(1, 2, "short")
		assert.True(t, apperr.IsValidation(err), "expected validation error, got %v", err)
	})

	t.Run("room not found", func(t *testing.T) {
		db := &database.MockAgoraRepository{}
		db.On("GetRoomById", 2).Return(database.Room{}, sql.ErrNoRows)
		svc, _ := newTestService(t, db)

		_, err := svc.Create(1, 2, "please let me join this room")
		assert.True(t, apperr.IsNotFound(err), "expected not found error, got %v", err)
	})

	t.Run("safe mode blocks creation", func(t *testing.T) {
		db := &database.MockAgoraRepository{}
		db.On("GetRoomById", 2).Return(database.Room{Id: 2, Status: types.RoomSafeMode}, nil)
		svc, _ := newTestService(t, db)

		_, err := svc.Create(1, 2, "please let me join this room")
		assert.True(t, apperr.IsConflict(err), "expected conflict error, got %v", err)
	})

	t.Run("second create while pending fails", func(t *testing.T) {
		db := &database.MockAgoraRepository{}
		db.On("GetRoomById", 2).Return(database.Room{Id: 2, Status: types.RoomPublic}, nil)
		db.On("GetActiveJoinRequest", 1, 2).Return(database.JoinRequest{
			Id:        10,
			Status:    types.JoinRequestPending,
			ExpiresAt: time.Now().Add(time.Hour),
		}, nil)
		svc, _ := newTestService(t, db)

		_, err := svc.Create(1, 2, "please let me join this room")
		assert.True(t, apperr.IsConflict(err), "expected conflict error, got %v", err)
		db.AssertNotCalled(t, "ReplaceJoinRequest", mock.Anything)
	})

	t.Run("approved request with live membership fails", func(t *testing.T) {
		db := &database.MockAgoraRepository{}
		db.On("GetRoomById", 2).Return(database.Room{Id: 2, Status: types.RoomPublic}, nil)
		db.On("GetActiveJoinRequest", 1, 2).Return(database.JoinRequest{Id: 10, Status: types.JoinRequestApproved}, nil)
		db.On("GetMembership", 1, 2).Return(database.Membership{UserId: 1, RoomId: 2}, nil)
		svc, _ := newTestService(t, db)

		_, err := svc.Create(1, 2, "please let me join this room")
		assert.True(t, apperr.IsConflict(err), "expected conflict error, got %v", err)
	})

	t.Run("stale approved request without membership is replaced", func(t *testing.T) {
		db := &database.MockAgoraRepository{}
		db.On("GetRoomById", 2).Return(database.Room{Id: 2, Status: types.RoomPublic}, nil)
		db.On("GetActiveJoinRequest", 1, 2).Return(database.JoinRequest{Id: 10, Status: types.JoinRequestApproved}, nil)
		db.On("GetMembership", 1, 2).Return(database.Membership{}, sql.ErrNoRows)
		db.On("ReplaceJoinRequest", mock.MatchedBy(func(p database.CreateJoinRequestParams) bool {
			return p.UserId == 1 && p.RoomId == 2
		})).Return(database.JoinRequest{Id: 11, UserId: 1, RoomId: 2, Status: types.JoinRequestPending}, nil)
		svc, _ := newTestService(t, db)

		req, err := svc.Create(1, 2, "please let me join this room")
		assert.NoError(t, err)
		assert.Equal(t, types.JoinRequestPending, req.Status)
		db.AssertExpectations(t)
	})

	t.Run("concurrent duplicate surfaces as conflict", func(t *testing.T) {
		db := &database.MockAgoraRepository{}
		db.On("GetRoomById", 2).Return(database.Room{Id: 2, Status: types.RoomPublic}, nil)
		db.On("GetActiveJoinRequest", 1, 2).Return(database.JoinRequest{}, sql.ErrNoRows)
		db.On("ReplaceJoinRequest", mock.Anything).Return(database.JoinRequest{}, database.ErrDuplicate)
		svc, _ := newTestService(t, db)

		_, err := svc.Create(1, 2, "please let me join this room")
		assert.True(t, apperr.IsConflict(err), "expected conflict error, got %v", err)
	})
}

func Test_Approve(t *testing.T) {
	pending := database.JoinRequest{Id: 10, RoomId: 2, UserId: 1, Status: types.JoinRequestPending}

	t.Run("success creates membership and notifies", func(t *testing.T) {
		db := &database.MockAgoraRepository{}
		db.On("GetJoinRequest", 10).Return(pending, nil)
		db.On("GetMembership", 9, 2).Return(database.Membership{UserId: 9, RoomId: 2, Role: types.RoomRoleLeader}, nil)
		db.On("GetRoomById", 2).Return(database.Room{Id: 2, Name: "general", Status: types.RoomPublic}, nil)
		db.On("UpdateJoinRequestStatus", 10, types.JoinRequestApproved, 9, "").
			Return(database.JoinRequest{Id: 10, RoomId: 2, UserId: 1, Status: types.JoinRequestApproved, ApproverId: 9}, nil)
		db.On("CreateMembership", 1, 2, types.RoomRoleMember).Return(database.Membership{UserId: 1, RoomId: 2}, nil)
		db.On("CreateNotification", mock.Anything).Return(database.Notification{Id: 77, UserId: 1, Kind: "join_approved"}, nil)
		svc, notifier := newTestService(t, db)

		req, notif, err := svc.Approve(10, 9)
		assert.NoError(t, err)
		assert.Equal(t, types.JoinRequestApproved, req.Status)
		assert.Equal(t, 9, req.ApproverId)
		assert.Equal(t, 77, notif.Id)
		assert.Equal(t, []string{"join_approved"}, notifier.emitted)
		db.AssertExpectations(t)
	})

	t.Run("already processed", func(t *testing.T) {
		db := &database.MockAgoraRepository{}
		db.On("GetJoinRequest", 10).Return(database.JoinRequest{Id: 10, Status: types.JoinRequestRejected}, nil)
		svc, _ := newTestService(t, db)

		_, _, err := svc.Approve(10, 9)
		assert.True(t, apperr.IsConflict(err), "expected conflict error, got %v", err)
		db.AssertNotCalled(t, "CreateMembership", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("safe mode at approval time blocks", func(t *testing.T) {
		db := &database.MockAgoraRepository{}
		db.On("GetJoinRequest", 10).Return(pending, nil)
		db.On("GetMembership", 9, 2).Return(database.Membership{Role: types.RoomRoleLeader}, nil)
		db.On("GetRoomById", 2).Return(database.Room{Id: 2, Status: types.RoomSafeMode}, nil)
		svc, _ := newTestService(t, db)

		_, _, err := svc.Approve(10, 9)
		assert.True(t, apperr.IsConflict(err), "expected conflict error, got %v", err)
		db.AssertNotCalled(t, "UpdateJoinRequestStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("actor without authority", func(t *testing.T) {
		db := &database.MockAgoraRepository{}
		db.On("GetJoinRequest", 10).Return(pending, nil)
		db.On("GetMembership", 5, 2).Return(database.Membership{Role: types.RoomRoleMember}, nil)
		db.On("GetAccountById", 5).Return(database.User{Id: 5, Role: types.RoleUser}, nil)
		svc, _ := newTestService(t, db)

		_, _, err := svc.Approve(10, 5)
		assert.True(t, apperr.IsAuthorization(err), "expected authorization error, got %v", err)
	})

	t.Run("global moderator has authority", func(t *testing.T) {
		db := &database.MockAgoraRepository{}
		db.On("GetJoinRequest", 10).Return(pending, nil)
		db.On("GetMembership", 5, 2).Return(database.Membership{}, sql.ErrNoRows)
		db.On("GetAccountById", 5).Return(database.User{Id: 5, Role: types.RoleModerator}, nil)
		db.On("GetRoomById", 2).Return(database.Room{Id: 2, Name: "general", Status: types.RoomPublic}, nil)
		db.On("UpdateJoinRequestStatus", 10, types.JoinRequestApproved, 5, "").
			Return(database.JoinRequest{Id: 10, Status: types.JoinRequestApproved}, nil)
		db.On("CreateMembership", 1, 2, types.RoomRoleMember).Return(database.Membership{}, nil)
		db.On("CreateNotification", mock.Anything).Return(database.Notification{Id: 1}, nil)
		svc, _ := newTestService(t, db)

		_, _, err := svc.Approve(10, 5)
		assert.NoError(t, err)
	})
}

func Test_Reject(t *testing.T) {
	t.Run("reason too short", func(t *testing.T) {
		svc, _ := newTestService(t, &database.MockAgoraRepository{})

		_, _, err := svc.Reject(10, 9, "no")
		assert.True(t, apperr.IsValidation(err), "expected validation error, got %v", err)
	})

	t.Run("success", func(t *testing.T) {
		db := &database.MockAgoraRepository{}
		db.On("GetJoinRequest", 10).Return(database.JoinRequest{Id: 10, RoomId: 2, UserId: 1, Status: types.JoinRequestPending}, nil)
		db.On("GetMembership", 9, 2).Return(database.Membership{Role: types.RoomRoleLeader}, nil)
		db.On("UpdateJoinRequestStatus", 10, types.JoinRequestRejected, 9, "not a good fit").
			Return(database.JoinRequest{Id: 10, Status: types.JoinRequestRejected, Reason: "not a good fit"}, nil)
		db.On("GetRoomById", 2).Return(database.Room{Id: 2, Name: "general"}, nil)
		db.On("CreateNotification", mock.Anything).Return(database.Notification{Id: 78, Kind: "join_rejected"}, nil)
		svc, notifier := newTestService(t, db)

		req, notif, err := svc.Reject(10, 9, "not a good fit")
		assert.NoError(t, err)
		assert.Equal(t, types.JoinRequestRejected, req.Status)
		assert.Equal(t, 78, notif.Id)
		assert.Equal(t, []string{"join_rejected"}, notifier.emitted)
	})

	t.Run("already processed", func(t *testing.T) {
		db := &database.MockAgoraRepository{}
		db.On("GetJoinRequest", 10).Return(database.JoinRequest{Id: 10, Status: types.JoinRequestExpired}, nil)
		svc, _ := newTestService(t, db)

		_, _, err := svc.Reject(10, 9, "not a good fit")
		assert.True(t, apperr.IsConflict(err), "expected conflict error, got %v", err)
	})
}

func Test_ExpireSweep(t *testing.T) {
	now := time.Now()

	t.Run("notifies requester and moderators once", func(t *testing.T) {
		db := &database.MockAgoraRepository{}
		db.On("ExpirePendingJoinRequests", now).Return([]database.JoinRequest{
			{Id: 10, RoomId: 2, UserId: 1, Status: types.JoinRequestExpired},
		}, nil)
		db.On("ListModerators").Return([]database.User{{Id: 50, Role: types.RoleModerator}}, nil)
		db.On("CreateNotification", mock.Anything).Return(database.Notification{Id: 1}, nil)
		svc, notifier := newTestService(t, db)

		n, err := svc.ExpireSweep(now)
		assert.NoError(t, err)
		assert.Equal(t, 1, n)
		// one event for the requester, one for the moderator
		assert.Len(t, notifier.emitted, 2)
		db.AssertNumberOfCalls(t, "CreateNotification", 2)
	})

	t.Run("second run over swept data notifies nothing", func(t *testing.T) {
		db := &database.MockAgoraRepository{}
		db.On("ExpirePendingJoinRequests", now).Return([]database.JoinRequest{}, nil)
		svc, notifier := newTestService(t, db)

		n, err := svc.ExpireSweep(now)
		assert.NoError(t, err)
		assert.Zero(t, n)
		assert.Empty(t, notifier.emitted)
		db.AssertNotCalled(t, "CreateNotification", mock.Anything)
	})
}

func Test_Leave(t *testing.T) {
	t.Run("leader with remaining members is blocked", func(t *testing.T) {
		db := &database.MockAgoraRepository{}
		db.On("GetMembership", 1, 2).Return(database.Membership{UserId: 1, RoomId: 2, Role: types.RoomRoleLeader}, nil)
		db.On("CountMembers", 2).Return(3, nil)
		svc, _ := newTestService(t, db)

		err := svc.Leave(1, 2)
		assert.True(t, apperr.IsConflict(err), "expected conflict error, got %v", err)
		db.AssertNotCalled(t, "DeleteMembership", mock.Anything, mock.Anything)
	})

	t.Run("last leader may leave", func(t *testing.T) {
		db := &database.MockAgoraRepository{}
		db.On("GetMembership", 1, 2).Return(database.Membership{UserId: 1, RoomId: 2, Role: types.RoomRoleLeader}, nil)
		db.On("CountMembers", 2).Return(1, nil)
		db.On("DeleteMembership", 1, 2).Return(nil)
		svc, _ := newTestService(t, db)

		assert.NoError(t, svc.Leave(1, 2))
		db.AssertExpectations(t)
	})

	t.Run("plain member leaves", func(t *testing.T) {
		db := &database.MockAgoraRepository{}
		db.On("GetMembership", 1, 2).Return(database.Membership{UserId: 1, RoomId: 2, Role: types.RoomRoleMember}, nil)
		db.On("DeleteMembership", 1, 2).Return(nil)
		svc, _ := newTestService(t, db)

		assert.NoError(t, svc.Leave(1, 2))
	})

	t.Run("non-member", func(t *testing.T) {
		db := &database.MockAgoraRepository{}
		db.On("GetMembership", 1, 2).Return(database.Membership{}, sql.ErrNoRows)
		svc, _ := newTestService(t, db)

		err := svc.Leave(1, 2)
		assert.True(t, apperr.IsNotFound(err), "expected not found error, got %v", err)
	})
}
