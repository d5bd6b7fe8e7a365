package types

import (
	"time"
)

// SystemRole is the account-wide role of a user.
type SystemRole string

const (
	RoleUser      SystemRole = "user"
	RoleModerator SystemRole = "moderator"
	RoleAdmin     SystemRole = "admin"
)

func (r SystemRole) CanModerate() bool {
	return r == RoleModerator || r == RoleAdmin
}

// RoomRole is a user's role within a single room.
type RoomRole string

const (
	RoomRoleMember RoomRole = "member"
	RoomRoleLeader RoomRole = "leader"
)

// AccountStatus tracks moderation state of an account.
type AccountStatus string

const (
	AccountActive   AccountStatus = "active"
	AccountInactive AccountStatus = "inactive"
	AccountBanned   AccountStatus = "banned"
)

// RoomStatus is the lifecycle status of a room. Safe-mode blocks new
// membership and new polls; archived blocks new messages.
type RoomStatus string

const (
	RoomPublic   RoomStatus = "public"
	RoomPrivate  RoomStatus = "private"
	RoomArchived RoomStatus = "archived"
	RoomSafeMode RoomStatus = "safe-mode"
)

type JoinRequestStatus string

const (
	JoinRequestPending  JoinRequestStatus = "pending"
	JoinRequestApproved JoinRequestStatus = "approved"
	JoinRequestRejected JoinRequestStatus = "rejected"
	JoinRequestExpired  JoinRequestStatus = "expired"
)

type PollStatus string

const (
	PollActive PollStatus = "active"
	PollClosed PollStatus = "closed"
)

type User struct {
	Id           int           `json:"id"`
	Username     string        `json:"username"`
	EmailAddress string        `json:"email_address,omitempty"`
	Password     string        `json:"-"`
	Role         SystemRole    `json:"role,omitempty"`
	Status       AccountStatus `json:"status,omitempty"`
	Reputation   int           `json:"reputation"`
	CreatedAt    time.Time     `json:"created_at,omitempty"`
	UpdatedAt    time.Time     `json:"updated_at,omitempty"`
}

type Room struct {
	Id          int        `json:"id"`
	Name        string     `json:"name"`
	ExternalId  string     `json:"external_id"`
	Description string     `json:"description"`
	Status      RoomStatus `json:"status"`
	SeqId       int        `json:"seq_id"`
	Members     []Member   `json:"members,omitempty"`
	CreatedAt   time.Time  `json:"created_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at,omitempty"`
}

type Member struct {
	User      User      `json:"user"`
	Role      RoomRole  `json:"role"`
	IsPresent bool      `json:"is_present,omitempty"`
	JoinedAt  time.Time `json:"joined_at,omitempty"`
}

type Message struct {
	SeqId     int       `json:"seq_id"`
	RoomId    int       `json:"room_id"`
	UserId    int       `json:"user_id"`
	Username  string    `json:"username,omitempty"`
	Content   string    `json:"content"`
	System    bool      `json:"system,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type JoinRequest struct {
	Id         int               `json:"id"`
	RoomId     int               `json:"room_id"`
	UserId     int               `json:"user_id"`
	Message    string            `json:"message"`
	Status     JoinRequestStatus `json:"status"`
	ApproverId int               `json:"approver_id,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	ExpiresAt  time.Time         `json:"expires_at"`
	CreatedAt  time.Time         `json:"created_at,omitempty"`
}

type PollOption struct {
	Index       int    `json:"index"`
	Text        string `json:"text"`
	CandidateId int    `json:"candidate_id,omitempty"`
	Votes       int    `json:"votes"`
}

type Poll struct {
	Id        int          `json:"id"`
	RoomId    int          `json:"room_id"`
	CreatorId int          `json:"creator_id"`
	Question  string       `json:"question"`
	Options   []PollOption `json:"options"`
	Status    PollStatus   `json:"status"`
	Election  bool         `json:"election,omitempty"`
	ExpiresAt time.Time    `json:"expires_at,omitempty"`
	CreatedAt time.Time    `json:"created_at,omitempty"`
}

type Notification struct {
	Id        int            `json:"id"`
	UserId    int            `json:"user_id"`
	Kind      string         `json:"kind"`
	Title     string         `json:"title"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Read      bool           `json:"read"`
	CreatedAt time.Time      `json:"created_at,omitempty"`
}
