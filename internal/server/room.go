package server

import (
	"database/sql"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/agorachat/agora/internal/commands"
	"github.com/agorachat/agora/internal/database"
	"github.com/agorachat/agora/internal/moderation"
	"github.com/agorachat/agora/internal/stats"
	"github.com/agorachat/agora/internal/types"
)

const idleRoomTimeout = time.Second * 5

type exitReq struct {
	deleted bool
}

// Room is the in-memory actor for one loaded chat room. All state
// transitions run on its loop goroutine; only the client set is shared
// with broadcast paths and therefore locked.
type Room struct {
	id            int
	externalId    string
	status        types.RoomStatus
	members       []database.Membership
	cs            *ChatServer
	joinChan      chan *ClientMessage
	leaveChan     chan *ClientMessage
	clientMsgChan chan *ClientMessage
	seqId         int
	clients       map[*Client]struct{}
	userMap       map[int]map[*Client]struct{}
	clientLock    sync.RWMutex
	log           *log.Logger
	// killTimer unloads the room once the last client disconnects
	killTimer *time.Timer
	// exit signals the room loop to stop
	exit chan exitReq
	done chan struct{}
}

func (r *Room) start() {
	r.log.Printf("starting room %q", r.externalId)
	r.killTimer = time.NewTimer(idleRoomTimeout)
	r.killTimer.Stop()

	for {
		select {
		case join := <-r.joinChan:
			r.handleJoin(join)
		case leaveMsg := <-r.leaveChan:
			r.handleLeave(leaveMsg)
		case msg := <-r.clientMsgChan:
			if msg.Publish != nil {
				r.handlePublish(msg)
			}
		case <-r.killTimer.C:
			r.handleRoomTimeout()
		case e := <-r.exit:
			r.handleRoomExit(e)
			return
		}
	}
}

func (r *Room) handleRoomTimeout() {
	r.log.Printf("room %q timed out", r.externalId)
	r.cs.unloadRoomChan <- r.externalId
}

func (r *Room) handleRoomExit(e exitReq) {
	r.log.Printf("room %q is exiting", r.externalId)
	if e.deleted {
		r.broadcast(&ServerMessage{
			BaseMessage: BaseMessage{Timestamp: Now()},
			Event: &Event{
				Name:    "room_deleted",
				Payload: map[string]any{"room_id": r.externalId},
			},
		})
	}

	r.clientLock.Lock()
	for c := range r.clients {
		c.delRoom(r.externalId)
	}
	r.clientLock.Unlock()

	close(r.done)
}

// handleJoin attaches a connection to the room. Joining requires an
// existing membership; membership itself is granted through the
// join-request flow, never here.
func (r *Room) handleJoin(join *ClientMessage) {
	r.killTimer.Stop()

	c := join.client
	if _, err := r.cs.db.GetMembership(c.user.Id, r.id); err != nil {
		if len(r.clients) == 0 {
			r.killTimer.Reset(idleRoomTimeout)
		}
		if errors.Is(err, sql.ErrNoRows) {
			c.queueMessage(ErrNotAMember(join.Id))
		} else {
			r.log.Println("GetMembership:", err)
			c.queueMessage(ErrInternalError(join.Id))
		}
		return
	}

	dbRoom, err := r.cs.db.GetRoomWithMembers(r.id)
	if err != nil {
		r.log.Println("GetRoomWithMembers:", err)
		c.queueMessage(ErrInternalError(join.Id))
		return
	}
	r.members = dbRoom.Members
	r.status = dbRoom.Status

	r.addClient(c)

	roomInfo := types.Room{
		Id:          dbRoom.Id,
		Name:        dbRoom.Name,
		ExternalId:  dbRoom.ExternalId,
		Description: dbRoom.Description,
		Status:      dbRoom.Status,
		SeqId:       r.seqId,
		Members: func() []types.Member {
			members := make([]types.Member, len(dbRoom.Members))
			for i, m := range dbRoom.Members {
				members[i] = types.Member{
					User:      types.User{Id: m.UserId, Username: m.Username, Reputation: m.Reputation},
					Role:      m.Role,
					IsPresent: r.userMap[m.UserId] != nil,
					JoinedAt:  m.CreatedAt,
				}
			}
			return members
		}(),
		CreatedAt: dbRoom.CreatedAt,
		UpdatedAt: dbRoom.UpdatedAt,
	}

	c.queueMessage(NoErrOK(join.Id, roomInfo))

	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Event: &Event{
			Name: "presence",
			Payload: map[string]any{
				"present": true,
				"room_id": r.externalId,
				"user_id": c.user.Id,
			},
		},
		SkipClient: c,
	})
}

func (r *Room) handleLeave(leaveMsg *ClientMessage) {
	client := leaveMsg.client
	r.removeClient(client)

	if leaveMsg.Id != 0 {
		client.queueMessage(NoErrOK(leaveMsg.Id, nil))
	}

	// announce offline only once the user's last connection is gone
	if r.userMap[client.user.Id] == nil {
		r.broadcast(&ServerMessage{
			BaseMessage: BaseMessage{Timestamp: Now()},
			Event: &Event{
				Name: "presence",
				Payload: map[string]any{
					"present": false,
					"room_id": r.externalId,
					"user_id": client.user.Id,
				},
			},
			SkipClient: client,
		})
	}
}

// handlePublish runs the full send pipeline: archived check, slash
// command branch, synchronous moderation, persist, broadcast, offline
// notify, background classification. The synchronous filter must pass
// before anything is stored; the classifier never blocks this path.
func (r *Room) handlePublish(msg *ClientMessage) {
	if r.status == types.RoomArchived {
		msg.client.queueMessage(ErrRoomArchived(msg.Id))
		return
	}

	content := msg.Publish.Content
	if commands.IsCommand(content) {
		r.cs.stats.Incr(stats.CommandsRun)
		r.cs.dispatcher.Dispatch(&commands.Context{
			Invoker:   msg.client,
			InvokerId: msg.UserId,
			RoomId:    r.id,
			Broadcast: r.cs,
		}, content)
		msg.client.queueMessage(NoErrAccepted(msg.Id))
		return
	}

	if err := r.cs.chain.Inspect(content, msg.UserId); err != nil {
		var rejected *moderation.ContentRejectedError
		if errors.As(err, &rejected) {
			r.cs.stats.Incr(stats.MessagesRejected)
			msg.client.queueMessage(ErrMessageRejected(msg.Id, rejected.Reason))
			return
		}
		r.log.Println("moderation:", err)
		msg.client.queueMessage(ErrInternalError(msg.Id))
		return
	}

	dbMsg := database.Message{
		SeqId:     r.seqId + 1,
		RoomId:    r.id,
		UserId:    msg.UserId,
		Content:   content,
		CreatedAt: msg.Timestamp,
	}
	if err := r.cs.db.CreateMessage(dbMsg); err != nil {
		r.log.Println("error saving message:", err)
		msg.client.queueMessage(ErrInternalError(msg.Id))
		return
	}
	if err := r.cs.db.UpdateRoomOnMessage(dbMsg); err != nil {
		r.log.Println("UpdateRoomOnMessage:", err)
	}

	r.seqId++
	r.cs.stats.Incr(stats.MessagesPublished)
	msg.client.queueMessage(NoErrAccepted(msg.Id))

	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{
			Id:        msg.Id,
			Timestamp: msg.Timestamp,
		},
		Message: &types.Message{
			SeqId:     r.seqId,
			RoomId:    r.id,
			UserId:    msg.UserId,
			Content:   content,
			Timestamp: msg.Timestamp,
		},
	})

	r.notifyAbsentMembers(msg.UserId)

	// fire and forget: classification failures never reach the sender
	if err := r.cs.enqueuer.EnqueueClassify(moderation.ClassifyPayload{
		MessageSeqId: r.seqId,
		RoomId:       r.id,
		UserId:       msg.UserId,
		Content:      content,
	}); err != nil {
		r.log.Println("enqueue classify:", err)
	}
}

// postSystem persists a system message under the next sequence id and
// broadcasts it. Callers reach this through command dispatch, which
// runs on the room goroutine that owns seqId.
func (r *Room) postSystem(content string) {
	now := Now()
	dbMsg := database.Message{
		SeqId:     r.seqId + 1,
		RoomId:    r.id,
		Content:   content,
		System:    true,
		CreatedAt: now,
	}
	if err := r.cs.db.CreateMessage(dbMsg); err != nil {
		r.log.Println("error saving system message:", err)
		return
	}
	if err := r.cs.db.UpdateRoomOnMessage(dbMsg); err != nil {
		r.log.Println("UpdateRoomOnMessage:", err)
	}

	r.seqId++

	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{Timestamp: now},
		Message: &types.Message{
			SeqId:     r.seqId,
			RoomId:    r.id,
			Content:   content,
			System:    true,
			Timestamp: now,
		},
	})
}

// notifyAbsentMembers pushes a room-activity event to members with no
// connection in this room, reaching them on whatever other connections
// they hold.
func (r *Room) notifyAbsentMembers(senderId int) {
	for _, m := range r.members {
		if m.UserId == senderId || r.userMap[m.UserId] != nil {
			continue
		}

		r.cs.registry.EmitToUser(m.UserId, "room_activity", map[string]any{
			"room_id": r.externalId,
			"seq_id":  r.seqId,
		})
	}
}

func (r *Room) addClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	r.clients[c] = struct{}{}
	if r.userMap[c.user.Id] == nil {
		r.userMap[c.user.Id] = make(map[*Client]struct{})
	}
	r.userMap[c.user.Id][c] = struct{}{}

	c.addRoom(r)
}

func (r *Room) removeClient(c *Client) {
	r.clientLock.Lock()
	defer r.clientLock.Unlock()

	if _, ok := r.clients[c]; !ok {
		return
	}

	delete(r.clients, c)
	c.delRoom(r.externalId)

	if userClients, ok := r.userMap[c.user.Id]; ok {
		delete(userClients, c)
		if len(userClients) == 0 {
			delete(r.userMap, c.user.Id)
		}
	}

	if len(r.clients) == 0 {
		r.log.Printf("no clients in %q, starting kill timer", r.externalId)
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) broadcast(msg *ServerMessage) {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	for client := range r.clients {
		if client == msg.SkipClient {
			continue
		}

		client.queueMessage(msg)
	}
}
