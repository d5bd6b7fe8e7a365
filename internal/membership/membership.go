// Package membership implements the join-request state machine: a
// pending request either gets approved, rejected, or expires; all three
// outcomes are terminal.
package membership

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/agorachat/agora/internal/apperr"
	"github.com/agorachat/agora/internal/database"
	"github.com/agorachat/agora/internal/types"
)

const (
	// joinRequestTTL is the window a pending request stays actionable.
	joinRequestTTL = 72 * time.Hour

	minRequestMessageLen = 10
	minRejectReasonLen   = 4
)

// Notifier pushes a realtime event to a user's live connections.
// Delivery is best-effort; the persisted notification is the durable
// record.
type Notifier interface {
	EmitToUser(userId int, event string, payload any) int
}

type Service struct {
	db       database.AgoraRepository
	notifier Notifier
	log      *log.Logger
}

func NewService(db database.AgoraRepository, notifier Notifier, logger *log.Logger) *Service {
	return &Service{db: db, notifier: notifier, log: logger}
}

// Create files a new join request for the room. At most one active
// request may exist per (requester, room) pair; stale requests are
// cleared before the new one is inserted.
func (s *Service) Create(userId, roomId int, message string) (database.JoinRequest, error) {
	if len(message) < minRequestMessageLen {
		return database.JoinRequest{}, apperr.Validation("request message must be at least %d characters", minRequestMessageLen)
	}

	room, err := s.db.GetRoomById(roomId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return database.JoinRequest{}, apperr.NotFound("room %d not found", roomId)
		}
		return database.JoinRequest{}, fmt.Errorf("get room: %w", err)
	}

	if room.Status == types.RoomSafeMode {
		return database.JoinRequest{}, apperr.Conflict("room is in safe mode and not accepting new members")
	}

	existing, err := s.db.GetActiveJoinRequest(userId, roomId)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return database.JoinRequest{}, fmt.Errorf("check active request: %w", err)
	}

	if err == nil {
		switch existing.Status {
		case types.JoinRequestPending:
			if existing.ExpiresAt.After(time.Now()) {
				return database.JoinRequest{}, apperr.Conflict("a join request for this room is already pending")
			}
			// overdue but not yet swept; fall through and replace
		case types.JoinRequestApproved:
			_, err := s.db.GetMembership(userId, roomId)
			if err == nil {
				return database.JoinRequest{}, apperr.Conflict("already a member of this room")
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return database.JoinRequest{}, fmt.Errorf("check membership: %w", err)
			}
			// approval never became membership (user left since); the
			// stale approved request is cleared by the replace below
		}
	}

	req, err := s.db.ReplaceJoinRequest(database.CreateJoinRequestParams{
		RoomId:    roomId,
		UserId:    userId,
		Message:   message,
		ExpiresAt: time.Now().UTC().Add(joinRequestTTL),
	})
	if err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			// lost a race with a concurrent create for the same pair
			return database.JoinRequest{}, apperr.Conflict("a join request for this room is already pending")
		}
		return database.JoinRequest{}, fmt.Errorf("create join request: %w", err)
	}

	return req, nil
}

// Approve transitions a pending request to approved, creates the
// membership and notifies the requester. Approving a non-pending
// request is always an error; it never silently repeats side effects.
func (s *Service) Approve(requestId, actorId int) (database.JoinRequest, database.Notification, error) {
	req, err := s.db.GetJoinRequest(requestId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return database.JoinRequest{}, database.Notification{}, apperr.NotFound("join request %d not found", requestId)
		}
		return database.JoinRequest{}, database.Notification{}, fmt.Errorf("get join request: %w", err)
	}

	if req.Status != types.JoinRequestPending {
		return database.JoinRequest{}, database.Notification{}, apperr.Conflict("join request already processed")
	}

	if err := s.authorize(actorId, req.RoomId); err != nil {
		return database.JoinRequest{}, database.Notification{}, err
	}

	room, err := s.db.GetRoomById(req.RoomId)
	if err != nil {
		return database.JoinRequest{}, database.Notification{}, fmt.Errorf("get room: %w", err)
	}

	// the room may have entered safe mode since the request was filed
	if room.Status == types.RoomSafeMode {
		return database.JoinRequest{}, database.Notification{}, apperr.Conflict("room is in safe mode and not accepting new members")
	}

	updated, err := s.db.UpdateJoinRequestStatus(requestId, types.JoinRequestApproved, actorId, "")
	if err != nil {
		if errors.Is(err, database.ErrNotActive) {
			return database.JoinRequest{}, database.Notification{}, apperr.Conflict("join request already processed")
		}
		return database.JoinRequest{}, database.Notification{}, fmt.Errorf("update join request: %w", err)
	}

	if _, err := s.db.CreateMembership(req.UserId, req.RoomId, types.RoomRoleMember); err != nil {
		if !errors.Is(err, database.ErrDuplicate) {
			return database.JoinRequest{}, database.Notification{}, fmt.Errorf("create membership: %w", err)
		}
	}

	notif, err := s.notify(req.UserId, "join_approved", "Join request approved",
		fmt.Sprintf("Your request to join %q was approved.", room.Name), room.Id)
	if err != nil {
		// approval already took effect; a lost notification is not
		// worth failing the whole operation over
		s.log.Printf("approve: notify requester %d: %v", req.UserId, err)
	}

	return updated, notif, nil
}

// Reject transitions a pending request to rejected with a reason.
func (s *Service) Reject(requestId, actorId int, reason string) (database.JoinRequest, database.Notification, error) {
	if len(reason) < minRejectReasonLen {
		return database.JoinRequest{}, database.Notification{}, apperr.Validation("rejection reason must be at least %d characters", minRejectReasonLen)
	}

	req, err := s.db.GetJoinRequest(requestId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return database.JoinRequest{}, database.Notification{}, apperr.NotFound("join request %d not found", requestId)
		}
		return database.JoinRequest{}, database.Notification{}, fmt.Errorf("get join request: %w", err)
	}

	if req.Status != types.JoinRequestPending {
		return database.JoinRequest{}, database.Notification{}, apperr.Conflict("join request already processed")
	}

	if err := s.authorize(actorId, req.RoomId); err != nil {
		return database.JoinRequest{}, database.Notification{}, err
	}

	updated, err := s.db.UpdateJoinRequestStatus(requestId, types.JoinRequestRejected, actorId, reason)
	if err != nil {
		if errors.Is(err, database.ErrNotActive) {
			return database.JoinRequest{}, database.Notification{}, apperr.Conflict("join request already processed")
		}
		return database.JoinRequest{}, database.Notification{}, fmt.Errorf("update join request: %w", err)
	}

	room, err := s.db.GetRoomById(req.RoomId)
	if err != nil {
		s.log.Printf("reject: get room %d: %v", req.RoomId, err)
		room = database.Room{Id: req.RoomId, Name: "the room"}
	}

	notif, err := s.notify(req.UserId, "join_rejected", "Join request rejected",
		fmt.Sprintf("Your request to join %q was rejected: %s", room.Name, reason), room.Id)
	if err != nil {
		s.log.Printf("reject: notify requester %d: %v", req.UserId, err)
	}

	return updated, notif, nil
}

// ExpireSweep transitions every overdue pending request to expired and
// notifies the requester plus all moderators. The underlying update only
// touches rows still in pending, so running the sweep twice over the
// same data notifies nothing on the second pass.
func (s *Service) ExpireSweep(now time.Time) (int, error) {
	expired, err := s.db.ExpirePendingJoinRequests(now)
	if err != nil {
		return 0, fmt.Errorf("expire join requests: %w", err)
	}

	if len(expired) == 0 {
		return 0, nil
	}

	mods, err := s.db.ListModerators()
	if err != nil {
		s.log.Printf("expire sweep: list moderators: %v", err)
		mods = nil
	}

	for _, req := range expired {
		if _, err := s.notify(req.UserId, "join_expired", "Join request expired",
			"Your join request expired without a decision.", req.RoomId); err != nil {
			s.log.Printf("expire sweep: notify requester %d: %v", req.UserId, err)
		}

		for _, mod := range mods {
			if _, err := s.notify(mod.Id, "join_expired", "Join request expired",
				fmt.Sprintf("A join request for room %d expired unhandled.", req.RoomId), req.RoomId); err != nil {
				s.log.Printf("expire sweep: notify moderator %d: %v", mod.Id, err)
			}
		}
	}

	return len(expired), nil
}

// Leave removes the user's membership. A leader cannot leave while the
// room still has other members; there is no implicit succession outside
// the election flow.
func (s *Service) Leave(userId, roomId int) error {
	m, err := s.db.GetMembership(userId, roomId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NotFound("not a member of this room")
		}
		return fmt.Errorf("get membership: %w", err)
	}

	if m.Role == types.RoomRoleLeader {
		count, err := s.db.CountMembers(roomId)
		if err != nil {
			return fmt.Errorf("count members: %w", err)
		}
		if count > 1 {
			return apperr.Conflict("a leader cannot leave a room with remaining members")
		}
	}

	if err := s.db.DeleteMembership(userId, roomId); err != nil {
		return fmt.Errorf("delete membership: %w", err)
	}

	return nil
}

// authorize requires the actor to lead the room or hold moderation
// authority system-wide.
func (s *Service) authorize(actorId, roomId int) error {
	m, err := s.db.GetMembership(actorId, roomId)
	if err == nil && m.Role == types.RoomRoleLeader {
		return nil
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("get membership: %w", err)
	}

	actor, err := s.db.GetAccountById(actorId)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	if actor.Role.CanModerate() {
		return nil
	}

	return apperr.Authorization("no authority over this room")
}

// notify persists a notification and pushes it to the user's live
// connections.
func (s *Service) notify(userId int, kind, title, content string, roomId int) (database.Notification, error) {
	meta, _ := json.Marshal(map[string]int{"room_id": roomId})

	notif, err := s.db.CreateNotification(database.CreateNotificationParams{
		UserId:   userId,
		Kind:     kind,
		Title:    title,
		Content:  content,
		Metadata: string(meta),
	})
	if err != nil {
		return database.Notification{}, err
	}

	s.notifier.EmitToUser(userId, kind, map[string]any{
		"notification_id": notif.Id,
		"title":           title,
		"content":         content,
		"room_id":         roomId,
	})

	return notif, nil
}
