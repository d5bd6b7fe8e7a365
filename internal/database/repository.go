package database

import (
	"errors"
	"time"

	"github.com/agorachat/agora/internal/types"
)

var (
	// ErrDuplicate is returned when an insert violates a uniqueness
	// constraint (e.g. a second pending join request for the same pair).
	ErrDuplicate = errors.New("duplicate record")
	// ErrNotActive is returned when a guarded update finds the target
	// poll or request no longer in the state the caller assumed.
	ErrNotActive = errors.New("record is not in an active state")
	// ErrStaleVote is returned when a vote change finds the vote row no
	// longer pointing at the expected option (a concurrent change by the
	// same user won).
	ErrStaleVote = errors.New("vote row does not match the expected option")
)

type AgoraRepository interface {
	Ping() error

	CreateAccount(params CreateAccountParams) (User, error)
	GetAccountById(userId int) (User, error)
	GetAccountByEmail(email string) (User, error)
	UpdateAccountStatus(userId int, status types.AccountStatus) error
	ListModerators() ([]User, error)

	CreateRoom(params CreateRoomParams) (Room, error)
	GetRoomByExternalId(externalId string) (Room, error)
	GetRoomById(roomId int) (Room, error)
	GetRoomWithMembers(roomId int) (*Room, error)
	UpdateRoomStatus(roomId int, status types.RoomStatus) error
	UpdateRoomOnMessage(msg Message) error
	DeleteRoom(roomId int) error

	CreateMembership(userId, roomId int, role types.RoomRole) (Membership, error)
	GetMembership(userId, roomId int) (Membership, error)
	DeleteMembership(userId, roomId int) error
	UpdateMembershipRole(userId, roomId int, role types.RoomRole) error
	CountMembers(roomId int) (int, error)
	ListMembersByReputation(roomId, excludeUserId, limit int) ([]Membership, error)
	ListRoomsLedBy(userId int) ([]Room, error)
	ListRoomsForUser(userId int) ([]Room, error)

	CreateMessage(msg Message) error
	GetMessages(roomId, since, before, limit int) ([]Message, error)

	GetJoinRequest(id int) (JoinRequest, error)
	GetActiveJoinRequest(userId, roomId int) (JoinRequest, error)
	ReplaceJoinRequest(params CreateJoinRequestParams) (JoinRequest, error)
	DeleteJoinRequest(id int) error
	UpdateJoinRequestStatus(id int, status types.JoinRequestStatus, approverId int, reason string) (JoinRequest, error)
	ListJoinRequestsByRoom(roomId int) ([]JoinRequest, error)
	ExpirePendingJoinRequests(now time.Time) ([]JoinRequest, error)

	CreatePoll(params CreatePollParams) (Poll, error)
	GetPoll(id int) (Poll, error)
	ListPollsByRoom(roomId int) ([]Poll, error)
	GetVote(pollId, userId int) (Vote, error)
	CastVote(pollId, userId, optionIndex int) error
	ChangeVote(pollId, userId, oldIndex, newIndex int) error
	ClosePoll(pollId int) (Poll, error)
	MarkPunishmentApplied(pollId int) (bool, error)
	ListExpiredActivePolls(now time.Time) ([]Poll, error)

	CreateNotification(params CreateNotificationParams) (Notification, error)
	ListNotifications(userId int) ([]Notification, error)
	MarkNotificationRead(id, userId int) error

	CreateWarning(userId int, reason string, issuerId int) (Warning, error)
}
