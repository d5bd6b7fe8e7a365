package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/agorachat/agora/internal/database"
	"github.com/agorachat/agora/internal/types"
)

type CreateJoinRequestRequest struct {
	RoomId  string `json:"room_id"`
	Message string `json:"message"`
}

type ReviewJoinRequestRequest struct {
	Id     int    `json:"id"`
	Reason string `json:"reason,omitempty"`
}

type CreatePollRequest struct {
	RoomId    string    `json:"room_id"`
	Question  string    `json:"question"`
	Options   []string  `json:"options"`
	ExpiresAt time.Time `json:"expires_at"`
}

type VoteRequest struct {
	PollId      int `json:"poll_id"`
	OptionIndex int `json:"option_index"`
}

type ClosePollRequest struct {
	PollId int `json:"poll_id"`
}

type PunishRequest struct {
	UserId int    `json:"user_id"`
	Level  int    `json:"level"`
	Reason string `json:"reason"`
}

const defaultPollDuration = 24 * time.Hour

func toApiJoinRequest(req database.JoinRequest) types.JoinRequest {
	return types.JoinRequest{
		Id:         req.Id,
		RoomId:     req.RoomId,
		UserId:     req.UserId,
		Message:    req.Message,
		Status:     req.Status,
		ApproverId: req.ApproverId,
		Reason:     req.Reason,
		ExpiresAt:  req.ExpiresAt,
		CreatedAt:  req.CreatedAt,
	}
}

func toApiPoll(poll database.Poll) types.Poll {
	var options []types.PollOption
	for _, opt := range poll.Options {
		options = append(options, types.PollOption{
			Index:       opt.Idx,
			Text:        opt.Text,
			CandidateId: opt.CandidateId,
			Votes:       opt.Votes,
		})
	}

	return types.Poll{
		Id:        poll.Id,
		RoomId:    poll.RoomId,
		CreatorId: poll.CreatorId,
		Question:  poll.Question,
		Options:   options,
		Status:    poll.Status,
		Election:  poll.Election,
		ExpiresAt: poll.ExpiresAt,
		CreatedAt: poll.CreatedAt,
	}
}

// roomByExternalId resolves a client-facing room id, writing the error
// response itself on failure.
func (s *AgoraApp) roomByExternalId(w http.ResponseWriter, externalId string) (database.Room, bool) {
	if externalId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return database.Room{}, false
	}

	room, err := s.db.GetRoomByExternalId(externalId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return database.Room{}, false
	}

	return room, true
}

func (s *AgoraApp) createJoinRequest(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req CreateJoinRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, ok := s.roomByExternalId(w, req.RoomId)
	if !ok {
		return
	}

	joinReq, err := s.membership.Create(userId, room.Id, req.Message)
	if err != nil {
		errResp := fromAppError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, toApiJoinRequest(joinReq))
}

func (s *AgoraApp) listJoinRequests(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, ok := s.roomByExternalId(w, r.URL.Query().Get("room_id"))
	if !ok {
		return
	}

	if !s.canAdminister(userId, room.Id) {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbReqs, err := s.db.ListJoinRequestsByRoom(room.Id)
	if err != nil {
		s.log.Println("list join requests:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var reqs []types.JoinRequest
	for _, dbReq := range dbReqs {
		reqs = append(reqs, toApiJoinRequest(dbReq))
	}

	s.writeJson(w, http.StatusOK, reqs)
}

func (s *AgoraApp) approveJoinRequest(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req ReviewJoinRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Id == 0 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	joinReq, _, err := s.membership.Approve(req.Id, userId)
	if err != nil {
		errResp := fromAppError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, toApiJoinRequest(joinReq))
}

func (s *AgoraApp) rejectJoinRequest(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req ReviewJoinRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Id == 0 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	joinReq, _, err := s.membership.Reject(req.Id, userId, req.Reason)
	if err != nil {
		errResp := fromAppError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, toApiJoinRequest(joinReq))
}

func (s *AgoraApp) createPoll(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req CreatePollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, ok := s.roomByExternalId(w, req.RoomId)
	if !ok {
		return
	}

	expiresAt := req.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(defaultPollDuration)
	}

	poll, err := s.polls.Create(userId, room.Id, req.Question, req.Options, expiresAt)
	if err != nil {
		errResp := fromAppError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, toApiPoll(poll))
}

func (s *AgoraApp) listPolls(w http.ResponseWriter, r *http.Request) {
	_, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, ok := s.roomByExternalId(w, r.URL.Query().Get("room_id"))
	if !ok {
		return
	}

	dbPolls, err := s.db.ListPollsByRoom(room.Id)
	if err != nil {
		s.log.Println("list polls:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var pollList []types.Poll
	for _, dbPoll := range dbPolls {
		pollList = append(pollList, toApiPoll(dbPoll))
	}

	s.writeJson(w, http.StatusOK, pollList)
}

func (s *AgoraApp) votePoll(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req VoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PollId == 0 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	poll, err := s.polls.Vote(req.PollId, userId, req.OptionIndex)
	if err != nil {
		errResp := fromAppError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, toApiPoll(poll))
}

func (s *AgoraApp) closePoll(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req ClosePollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PollId == 0 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	poll, err := s.polls.Close(req.PollId, userId)
	if err != nil {
		errResp := fromAppError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, toApiPoll(poll))
}

func (s *AgoraApp) punish(w http.ResponseWriter, r *http.Request) {
	issuerId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req PunishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserId == 0 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// level 1 is a recorded warning with no account-status consequence
	if req.Level == 1 {
		if req.Reason == "" {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		if _, err := s.db.CreateWarning(req.UserId, req.Reason, issuerId); err != nil {
			s.log.Println("create warning:", err)
			errResp := NewInternalServerError(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		s.writeJson(w, http.StatusOK, map[string]any{"warned": true})
		return
	}

	created, err := s.polls.TriggerPunishment(req.UserId, req.Level, req.Reason, issuerId)
	if err != nil {
		errResp := fromAppError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var elections []types.Poll
	for _, poll := range created {
		elections = append(elections, toApiPoll(poll))
	}

	s.writeJson(w, http.StatusOK, map[string]any{
		// an empty list means no rooms were led and the punishment
		// was applied immediately
		"elections": elections,
	})
}
