package database

import (
	"time"

	"github.com/agorachat/agora/internal/types"
)

type User struct {
	Id           int
	Username     string
	EmailAddress string
	PasswordHash string
	Role         types.SystemRole
	Status       types.AccountStatus
	Reputation   int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Room struct {
	Id          int
	Name        string
	ExternalId  string
	Description string
	Status      types.RoomStatus
	SeqId       int
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Members     []Membership
}

type Membership struct {
	Id         int
	UserId     int
	RoomId     int
	Role       types.RoomRole
	Username   string
	Reputation int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Message struct {
	Id        int
	SeqId     int
	RoomId    int
	UserId    int
	Content   string
	System    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type JoinRequest struct {
	Id         int
	RoomId     int
	UserId     int
	Message    string
	Status     types.JoinRequestStatus
	ApproverId int
	Reason     string
	ExpiresAt  time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type PollOption struct {
	Id          int
	PollId      int
	Idx         int
	Text        string
	CandidateId int
	Votes       int
}

type Poll struct {
	Id        int
	RoomId    int
	CreatorId int
	Question  string
	Status    types.PollStatus
	Election  bool
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
	Options   []PollOption

	// Deferred punishment payload, present on election polls.
	Punishment *Punishment
}

type Punishment struct {
	TargetUserId int
	Level        int
	Reason       string
	IssuerId     int
	Applied      bool
}

type Vote struct {
	PollId      int
	UserId      int
	OptionIndex int
	CreatedAt   time.Time
}

type Notification struct {
	Id        int
	UserId    int
	Kind      string
	Title     string
	Content   string
	Metadata  string
	Read      bool
	CreatedAt time.Time
}

type Warning struct {
	Id        int
	UserId    int
	Reason    string
	IssuerId  int
	CreatedAt time.Time
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}

type CreateRoomParams struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	OwnerId     int    `json:"-"`
	ExternalId  string `json:"external_id"`
}

type CreateJoinRequestParams struct {
	RoomId    int
	UserId    int
	Message   string
	ExpiresAt time.Time
}

type CreatePollParams struct {
	RoomId    int
	CreatorId int
	Question  string
	Options   []PollOption
	Election  bool
	ExpiresAt time.Time

	Punishment *Punishment
}

type CreateNotificationParams struct {
	UserId   int
	Kind     string
	Title    string
	Content  string
	Metadata string
}
