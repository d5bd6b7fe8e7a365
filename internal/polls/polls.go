// Package polls implements room polls and the leader-succession
// election flow that severe moderation punishments trigger.
package polls

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/agorachat/agora/internal/apperr"
	"github.com/agorachat/agora/internal/database"
	"github.com/agorachat/agora/internal/types"
)

const (
	minOptions     = 2
	maxOptions     = 20
	candidateLimit = 10
	electionWindow = 72 * time.Hour
)

// Notifier pushes an event to every live connection of a single user.
type Notifier interface {
	EmitToUser(userId int, event string, payload any) int
}

// Announcer pushes an event to every user currently in a room.
type Announcer interface {
	Announce(roomId int, event string, payload any)
}

type Service struct {
	db        database.AgoraRepository
	notifier  Notifier
	announcer Announcer
	log       *log.Logger
}

func NewService(db database.AgoraRepository, notifier Notifier, announcer Announcer, logger *log.Logger) *Service {
	return &Service{
		db:        db,
		notifier:  notifier,
		announcer: announcer,
		log:       logger,
	}
}

// Create opens a poll in a room. The creator must be a member, the
// question must be non-empty and the poll needs between two and twenty
// options.
func (s *Service) Create(creatorId, roomId int, question string, options []string, expiresAt time.Time) (database.Poll, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return database.Poll{}, apperr.Validation("poll question cannot be empty")
	}
	if len(options) < minOptions || len(options) > maxOptions {
		return database.Poll{}, apperr.Validation("polls need between %d and %d options", minOptions, maxOptions)
	}
	for _, opt := range options {
		if strings.TrimSpace(opt) == "" {
			return database.Poll{}, apperr.Validation("poll options cannot be empty")
		}
	}

	room, err := s.db.GetRoomById(roomId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return database.Poll{}, apperr.NotFound("room %d not found", roomId)
		}
		return database.Poll{}, fmt.Errorf("get room: %w", err)
	}
	if room.Status == types.RoomSafeMode {
		return database.Poll{}, apperr.Conflict("room is in safe mode and not accepting new polls")
	}

	if _, err := s.db.GetMembership(creatorId, roomId); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return database.Poll{}, apperr.Authorization("only room members can create polls")
		}
		return database.Poll{}, fmt.Errorf("get membership: %w", err)
	}

	opts := make([]database.PollOption, len(options))
	for i, text := range options {
		opts[i] = database.PollOption{Idx: i, Text: strings.TrimSpace(text)}
	}

	poll, err := s.db.CreatePoll(database.CreatePollParams{
		RoomId:    roomId,
		CreatorId: creatorId,
		Question:  question,
		Options:   opts,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return database.Poll{}, fmt.Errorf("create poll: %w", err)
	}

	s.announcer.Announce(roomId, "poll_created", map[string]any{
		"poll_id":  poll.Id,
		"question": poll.Question,
	})

	return poll, nil
}

// Vote records or changes a member's vote on an active poll. Re-voting
// for the option already held is rejected as redundant; switching
// options moves the tally in a single storage-level unit.
func (s *Service) Vote(pollId, userId, optionIndex int) (database.Poll, error) {
	poll, err := s.db.GetPoll(pollId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return database.Poll{}, apperr.NotFound("poll %d not found", pollId)
		}
		return database.Poll{}, fmt.Errorf("get poll: %w", err)
	}

	if poll.Status != types.PollActive {
		return database.Poll{}, apperr.Conflict("poll is closed")
	}
	if !poll.ExpiresAt.IsZero() && time.Now().After(poll.ExpiresAt) {
		return database.Poll{}, apperr.Conflict("poll voting window has passed")
	}
	if optionIndex < 0 || optionIndex >= len(poll.Options) {
		return database.Poll{}, apperr.Validation("option index %d out of range", optionIndex)
	}

	if _, err := s.db.GetMembership(userId, poll.RoomId); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return database.Poll{}, apperr.Authorization("only room members can vote")
		}
		return database.Poll{}, fmt.Errorf("get membership: %w", err)
	}

	existing, err := s.db.GetVote(pollId, userId)
	switch {
	case err == nil:
		if existing.OptionIndex == optionIndex {
			return database.Poll{}, apperr.Conflict("you already voted for this option")
		}
		err = s.db.ChangeVote(pollId, userId, existing.OptionIndex, optionIndex)
	case errors.Is(err, sql.ErrNoRows):
		err = s.db.CastVote(pollId, userId, optionIndex)
	default:
		return database.Poll{}, fmt.Errorf("get vote: %w", err)
	}
	if err != nil {
		if errors.Is(err, database.ErrNotActive) {
			return database.Poll{}, apperr.Conflict("poll is closed")
		}
		if errors.Is(err, database.ErrStaleVote) {
			return database.Poll{}, apperr.Conflict("your vote changed in another request; retry with the current state")
		}
		return database.Poll{}, fmt.Errorf("record vote: %w", err)
	}

	return s.db.GetPoll(pollId)
}

// Close freezes a poll's tallies. The actor must be the poll's creator
// or the room's current leader. If the poll carries a punishment
// payload it is applied here, exactly once.
func (s *Service) Close(pollId, actorId int) (database.Poll, error) {
	poll, err := s.db.GetPoll(pollId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return database.Poll{}, apperr.NotFound("poll %d not found", pollId)
		}
		return database.Poll{}, fmt.Errorf("get poll: %w", err)
	}

	if poll.Status != types.PollActive {
		return database.Poll{}, apperr.Conflict("poll is already closed")
	}

	if poll.CreatorId != actorId {
		m, err := s.db.GetMembership(actorId, poll.RoomId)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return database.Poll{}, fmt.Errorf("get membership: %w", err)
		}
		if err != nil || m.Role != types.RoomRoleLeader {
			return database.Poll{}, apperr.Authorization("only the poll creator or the room leader can close a poll")
		}
	}

	return s.close(pollId)
}

// CloseExpired closes every active poll whose voting window has passed.
// Failures are isolated per poll so one bad poll never stalls the rest
// of the sweep. Returns the number of polls closed.
func (s *Service) CloseExpired(now time.Time) (int, error) {
	overdue, err := s.db.ListExpiredActivePolls(now)
	if err != nil {
		return 0, fmt.Errorf("list expired polls: %w", err)
	}

	closed := 0
	for _, poll := range overdue {
		if _, err := s.close(poll.Id); err != nil {
			s.log.Printf("poll sweep: close poll %d: %v", poll.Id, err)
			continue
		}
		closed++
	}

	return closed, nil
}

func (s *Service) close(pollId int) (database.Poll, error) {
	closed, err := s.db.ClosePoll(pollId)
	if err != nil {
		if errors.Is(err, database.ErrNotActive) {
			return database.Poll{}, apperr.Conflict("poll is already closed")
		}
		return database.Poll{}, fmt.Errorf("close poll: %w", err)
	}

	// The poll is closed regardless of what happens below. Punishment
	// application failures are logged, never rolled back into the poll.
	if closed.Punishment != nil && !closed.Punishment.Applied {
		s.applyOutcome(closed)
	}

	s.announcer.Announce(closed.RoomId, "poll_closed", map[string]any{
		"poll_id": closed.Id,
	})

	return closed, nil
}

// applyOutcome consumes a closed poll's punishment payload: promote the
// winning candidate if this is an election, then punish the target.
// The applied flag is claimed first so re-entry can never punish twice.
func (s *Service) applyOutcome(poll database.Poll) {
	claimed, err := s.db.MarkPunishmentApplied(poll.Id)
	if err != nil {
		s.log.Printf("poll %d: mark punishment applied: %v", poll.Id, err)
		return
	}
	if !claimed {
		return
	}

	if poll.Election {
		if winner, ok := Winner(poll.Options); ok && winner.CandidateId != 0 {
			if err := s.db.UpdateMembershipRole(winner.CandidateId, poll.RoomId, types.RoomRoleLeader); err != nil {
				s.log.Printf("poll %d: promote candidate %d: %v", poll.Id, winner.CandidateId, err)
			} else {
				s.notifier.EmitToUser(winner.CandidateId, "role_updated", map[string]any{
					"room_id": poll.RoomId,
					"role":    types.RoomRoleLeader,
				})
				s.announcer.Announce(poll.RoomId, "leadership_changed", map[string]any{
					"room_id":   poll.RoomId,
					"leader_id": winner.CandidateId,
				})
			}
		} else {
			s.log.Printf("poll %d: election closed with no winning candidate", poll.Id)
		}

		// succession settled, the room can accept members again
		if err := s.db.UpdateRoomStatus(poll.RoomId, types.RoomPublic); err != nil {
			s.log.Printf("poll %d: lift safe mode on room %d: %v", poll.Id, poll.RoomId, err)
		}
	}

	if err := s.punish(*poll.Punishment); err != nil {
		s.log.Printf("poll %d: apply punishment to user %d: %v", poll.Id, poll.Punishment.TargetUserId, err)
	}
}

func (s *Service) punish(p database.Punishment) error {
	status := types.AccountInactive
	if p.Level >= 3 {
		status = types.AccountBanned
	}

	if err := s.db.UpdateAccountStatus(p.TargetUserId, status); err != nil {
		return fmt.Errorf("update account status: %w", err)
	}

	s.notifier.EmitToUser(p.TargetUserId, "account_status_changed", map[string]any{
		"status": status,
		"reason": p.Reason,
	})

	return nil
}

// Winner returns the option with the highest tally. Ties go to the
// option listed first.
func Winner(options []database.PollOption) (database.PollOption, bool) {
	if len(options) == 0 {
		return database.PollOption{}, false
	}

	best := options[0]
	for _, opt := range options[1:] {
		if opt.Votes > best.Votes {
			best = opt
		}
	}

	return best, true
}

// TriggerPunishment handles a severe moderation action (level 2
// deactivates the account, level 3 bans it) against a user. If the
// target leads rooms, each led room gets a successor election first and
// the punishment is deferred to poll close; otherwise it applies
// immediately. Returns the election polls created.
func (s *Service) TriggerPunishment(targetUserId, level int, reason string, issuerId int) ([]database.Poll, error) {
	if level < 2 || level > 3 {
		return nil, apperr.Validation("punishment level must be 2 or 3")
	}
	if strings.TrimSpace(reason) == "" {
		return nil, apperr.Validation("punishment reason cannot be empty")
	}

	if _, err := s.db.GetAccountById(targetUserId); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("user %d not found", targetUserId)
		}
		return nil, fmt.Errorf("get account: %w", err)
	}

	ledRooms, err := s.db.ListRoomsLedBy(targetUserId)
	if err != nil {
		return nil, fmt.Errorf("list led rooms: %w", err)
	}

	punishment := database.Punishment{
		TargetUserId: targetUserId,
		Level:        level,
		Reason:       reason,
		IssuerId:     issuerId,
	}

	created := make([]database.Poll, 0, len(ledRooms))
	for _, room := range ledRooms {
		poll, err := s.startElection(room, punishment)
		if err != nil {
			// one room's failure never aborts the others
			s.log.Printf("punishment fan-out: room %d: %v", room.Id, err)
			continue
		}
		if poll != nil {
			created = append(created, *poll)
		}
	}

	// Nothing to wait on: the target led no rooms, or no room produced
	// an election. The punishment takes effect now.
	if len(created) == 0 {
		if err := s.punish(punishment); err != nil {
			return nil, fmt.Errorf("apply punishment: %w", err)
		}
	}

	return created, nil
}

// startElection runs one room's succession sequence in order: safe
// mode, demote the punished leader, rank candidates, open the poll.
// Returns nil without error when the room has no eligible candidates.
func (s *Service) startElection(room database.Room, punishment database.Punishment) (*database.Poll, error) {
	if err := s.db.UpdateRoomStatus(room.Id, types.RoomSafeMode); err != nil {
		return nil, fmt.Errorf("set safe mode: %w", err)
	}

	if err := s.db.UpdateMembershipRole(punishment.TargetUserId, room.Id, types.RoomRoleMember); err != nil {
		return nil, fmt.Errorf("demote leader: %w", err)
	}
	s.notifier.EmitToUser(punishment.TargetUserId, "role_updated", map[string]any{
		"room_id": room.Id,
		"role":    types.RoomRoleMember,
	})

	candidates, err := s.db.ListMembersByReputation(room.Id, punishment.TargetUserId, candidateLimit)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	if len(candidates) == 0 {
		s.log.Printf("punishment fan-out: room %d has no eligible successor, skipping election", room.Id)
		return nil, nil
	}

	opts := make([]database.PollOption, len(candidates))
	for i, c := range candidates {
		opts[i] = database.PollOption{Idx: i, Text: c.Username, CandidateId: c.UserId}
	}

	poll, err := s.db.CreatePoll(database.CreatePollParams{
		RoomId:     room.Id,
		CreatorId:  punishment.IssuerId,
		Question:   fmt.Sprintf("Who should lead %s?", room.Name),
		Options:    opts,
		Election:   true,
		ExpiresAt:  time.Now().Add(electionWindow),
		Punishment: &punishment,
	})
	if err != nil {
		return nil, fmt.Errorf("create election poll: %w", err)
	}

	s.announcer.Announce(room.Id, "election_started", map[string]any{
		"poll_id":  poll.Id,
		"question": poll.Question,
	})

	return &poll, nil
}
