package database

import (
	"time"

	"github.com/agorachat/agora/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockAgoraRepository struct {
	mock.Mock
}

func (m *MockAgoraRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockAgoraRepository) CreateAccount(params CreateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockAgoraRepository) GetAccountById(userId int) (User, error) {
	args := m.Called(userId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockAgoraRepository) GetAccountByEmail(email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockAgoraRepository) UpdateAccountStatus(userId int, status types.AccountStatus) error {
	args := m.Called(userId, status)
	return args.Error(0)
}
func (m *MockAgoraRepository) ListModerators() ([]User, error) {
	args := m.Called()
	return args.Get(0).([]User), args.Error(1)
}
func (m *MockAgoraRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	args := m.Called(params)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockAgoraRepository) GetRoomByExternalId(externalId string) (Room, error) {
	args := m.Called(externalId)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockAgoraRepository) GetRoomById(roomId int) (Room, error) {
	args := m.Called(roomId)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockAgoraRepository) GetRoomWithMembers(roomId int) (*Room, error) {
	args := m.Called(roomId)
	if room, ok := args.Get(0).(*Room); ok {
		return room, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockAgoraRepository) UpdateRoomStatus(roomId int, status types.RoomStatus) error {
	args := m.Called(roomId, status)
	return args.Error(0)
}
func (m *MockAgoraRepository) UpdateRoomOnMessage(msg Message) error {
	args := m.Called(msg)
	return args.Error(0)
}
func (m *MockAgoraRepository) DeleteRoom(roomId int) error {
	args := m.Called(roomId)
	return args.Error(0)
}
func (m *MockAgoraRepository) CreateMembership(userId, roomId int, role types.RoomRole) (Membership, error) {
	args := m.Called(userId, roomId, role)
	return args.Get(0).(Membership), args.Error(1)
}
func (m *MockAgoraRepository) GetMembership(userId, roomId int) (Membership, error) {
	args := m.Called(userId, roomId)
	return args.Get(0).(Membership), args.Error(1)
}
func (m *MockAgoraRepository) DeleteMembership(userId, roomId int) error {
	args := m.Called(userId, roomId)
	return args.Error(0)
}
func (m *MockAgoraRepository) UpdateMembershipRole(userId, roomId int, role types.RoomRole) error {
	args := m.Called(userId, roomId, role)
	return args.Error(0)
}
func (m *MockAgoraRepository) CountMembers(roomId int) (int, error) {
	args := m.Called(roomId)
	return args.Int(0), args.Error(1)
}
func (m *MockAgoraRepository) ListMembersByReputation(roomId, excludeUserId, limit int) ([]Membership, error) {
	args := m.Called(roomId, excludeUserId, limit)
	return args.Get(0).([]Membership), args.Error(1)
}
func (m *MockAgoraRepository) ListRoomsLedBy(userId int) ([]Room, error) {
	args := m.Called(userId)
	return args.Get(0).([]Room), args.Error(1)
}
func (m *MockAgoraRepository) ListRoomsForUser(userId int) ([]Room, error) {
	args := m.Called(userId)
	return args.Get(0).([]Room), args.Error(1)
}
func (m *MockAgoraRepository) CreateMessage(msg Message) error {
	args := m.Called(msg)
	return args.Error(0)
}
func (m *MockAgoraRepository) GetMessages(roomId, since, before, limit int) ([]Message, error) {
	args := m.Called(roomId, since, before, limit)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockAgoraRepository) GetJoinRequest(id int) (JoinRequest, error) {
	args := m.Called(id)
	return args.Get(0).(JoinRequest), args.Error(1)
}
func (m *MockAgoraRepository) GetActiveJoinRequest(userId, roomId int) (JoinRequest, error) {
	args := m.Called(userId, roomId)
	return args.Get(0).(JoinRequest), args.Error(1)
}
func (m *MockAgoraRepository) ReplaceJoinRequest(params CreateJoinRequestParams) (JoinRequest, error) {
	args := m.Called(params)
	return args.Get(0).(JoinRequest), args.Error(1)
}
func (m *MockAgoraRepository) DeleteJoinRequest(id int) error {
	args := m.Called(id)
	return args.Error(0)
}
func (m *MockAgoraRepository) UpdateJoinRequestStatus(id int, status types.JoinRequestStatus, approverId int, reason string) (JoinRequest, error) {
	args := m.Called(id, status, approverId, reason)
	return args.Get(0).(JoinRequest), args.Error(1)
}
func (m *MockAgoraRepository) ListJoinRequestsByRoom(roomId int) ([]JoinRequest, error) {
	args := m.Called(roomId)
	return args.Get(0).([]JoinRequest), args.Error(1)
}
func (m *MockAgoraRepository) ExpirePendingJoinRequests(now time.Time) ([]JoinRequest, error) {
	args := m.Called(now)
	return args.Get(0).([]JoinRequest), args.Error(1)
}
func (m *MockAgoraRepository) CreatePoll(params CreatePollParams) (Poll, error) {
	args := m.Called(params)
	return args.Get(0).(Poll), args.Error(1)
}
func (m *MockAgoraRepository) GetPoll(id int) (Poll, error) {
	args := m.Called(id)
	return args.Get(0).(Poll), args.Error(1)
}
func (m *MockAgoraRepository) ListPollsByRoom(roomId int) ([]Poll, error) {
	args := m.Called(roomId)
	return args.Get(0).([]Poll), args.Error(1)
}
func (m *MockAgoraRepository) GetVote(pollId, userId int) (Vote, error) {
	args := m.Called(pollId, userId)
	return args.Get(0).(Vote), args.Error(1)
}
func (m *MockAgoraRepository) CastVote(pollId, userId, optionIndex int) error {
	args := m.Called(pollId, userId, optionIndex)
	return args.Error(0)
}
func (m *MockAgoraRepository) ChangeVote(pollId, userId, oldIndex, newIndex int) error {
	args := m.Called(pollId, userId, oldIndex, newIndex)
	return args.Error(0)
}
func (m *MockAgoraRepository) ClosePoll(pollId int) (Poll, error) {
	args := m.Called(pollId)
	return args.Get(0).(Poll), args.Error(1)
}
func (m *MockAgoraRepository) MarkPunishmentApplied(pollId int) (bool, error) {
	args := m.Called(pollId)
	return args.Bool(0), args.Error(1)
}
func (m *MockAgoraRepository) ListExpiredActivePolls(now time.Time) ([]Poll, error) {
	args := m.Called(now)
	return args.Get(0).([]Poll), args.Error(1)
}
func (m *MockAgoraRepository) CreateNotification(params CreateNotificationParams) (Notification, error) {
	args := m.Called(params)
	return args.Get(0).(Notification), args.Error(1)
}
func (m *MockAgoraRepository) ListNotifications(userId int) ([]Notification, error) {
	args := m.Called(userId)
	return args.Get(0).([]Notification), args.Error(1)
}
func (m *MockAgoraRepository) MarkNotificationRead(id, userId int) error {
	args := m.Called(id, userId)
	return args.Error(0)
}
func (m *MockAgoraRepository) CreateWarning(userId int, reason string, issuerId int) (Warning, error) {
	args := m.Called(userId, reason, issuerId)
	return args.Get(0).(Warning), args.Error(1)
}
