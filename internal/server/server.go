// Package server holds the realtime chat core: one actor goroutine per
// loaded room, one Client per websocket connection, and a ChatServer
// loop that loads and unloads rooms on demand.
package server

import (
	"log"
	"sync"

	"github.com/agorachat/agora/internal/commands"
	"github.com/agorachat/agora/internal/database"
	"github.com/agorachat/agora/internal/moderation"
	"github.com/agorachat/agora/internal/presence"
	"github.com/agorachat/agora/internal/stats"
)

type ChatServer struct {
	log            *log.Logger
	db             database.AgoraRepository
	registry       *presence.Registry
	chain          *moderation.Chain
	dispatcher     *commands.Dispatcher
	enqueuer       moderation.Enqueuer
	stats          stats.StatsProvider
	clients        map[*Client]struct{}
	clientsLock    sync.Mutex
	joinChan       chan *ClientMessage
	RegisterChan   chan *Client
	deRegisterChan chan *Client
	RmRoomChan     chan string
	unloadRoomChan chan string
	rooms          map[string]*Room
	roomsLock      sync.RWMutex
	stop           chan struct{}
	done           chan struct{}
}

func NewChatServer(logger *log.Logger, db database.AgoraRepository, registry *presence.Registry,
	chain *moderation.Chain, dispatcher *commands.Dispatcher, enqueuer moderation.Enqueuer,
	statsProvider stats.StatsProvider) (*ChatServer, error) {

	statsProvider.RegisterMetric(stats.ActiveConnections)
	statsProvider.RegisterMetric(stats.ActiveRooms)
	statsProvider.RegisterMetric(stats.MessagesPublished)
	statsProvider.RegisterMetric(stats.MessagesRejected)
	statsProvider.RegisterMetric(stats.CommandsRun)

	return &ChatServer{
		log:            logger,
		db:             db,
		registry:       registry,
		chain:          chain,
		dispatcher:     dispatcher,
		enqueuer:       enqueuer,
		stats:          statsProvider,
		joinChan:       make(chan *ClientMessage),
		clients:        make(map[*Client]struct{}),
		RegisterChan:   make(chan *Client),
		deRegisterChan: make(chan *Client),
		RmRoomChan:     make(chan string),
		unloadRoomChan: make(chan string),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
		rooms:          make(map[string]*Room),
	}, nil
}

func (cs *ChatServer) Run() {
	for {
		select {
		case joinMsg := <-cs.joinChan:
			if room, ok := cs.getLoadedRoom(joinMsg.Join.RoomId); ok {
				select {
				case room.joinChan <- joinMsg:
				default:
					cs.log.Printf("join channel full on room %q", room.externalId)
				}
			} else {
				dbRoom, err := cs.db.GetRoomByExternalId(joinMsg.Join.RoomId)
				if err != nil {
					joinMsg.client.queueMessage(ErrRoomNotFound(joinMsg.Id))
					continue
				}

				room := cs.loadRoom(dbRoom)
				room.joinChan <- joinMsg

				go room.start()
			}
		case client := <-cs.RegisterChan:
			cs.log.Printf("adding connection from %q", client.user.Username)
			cs.addClient(client)
		case client := <-cs.deRegisterChan:
			cs.log.Printf("removing connection from %q", client.user.Username)
			cs.removeClient(client)
		case id := <-cs.unloadRoomChan:
			if r, ok := cs.getLoadedRoom(id); ok {
				cs.unloadRoom(id)
				r.exit <- exitReq{}
				<-r.done
			}
		case id := <-cs.RmRoomChan:
			if r, ok := cs.getLoadedRoom(id); ok {
				cs.unloadRoom(id)
				r.exit <- exitReq{deleted: true}
				<-r.done
			}
		case <-cs.stop:
			cs.log.Println("shutting down rooms")
			cs.roomsLock.Lock()
			for _, r := range cs.rooms {
				cs.log.Println("shutting down room", r.externalId)
				close(r.exit)
				<-r.done
			}
			cs.rooms = make(map[string]*Room)
			cs.roomsLock.Unlock()

			close(cs.done)
			return
		}
	}
}

func (cs *ChatServer) loadRoom(dbRoom database.Room) *Room {
	room := &Room{
		id:            dbRoom.Id,
		externalId:    dbRoom.ExternalId,
		status:        dbRoom.Status,
		members:       dbRoom.Members,
		cs:            cs,
		joinChan:      make(chan *ClientMessage, 256),
		leaveChan:     make(chan *ClientMessage, 256),
		clientMsgChan: make(chan *ClientMessage, 256),
		seqId:         dbRoom.SeqId,
		clients:       make(map[*Client]struct{}),
		userMap:       make(map[int]map[*Client]struct{}),
		log:           cs.log,
		exit:          make(chan exitReq),
		done:          make(chan struct{}),
	}

	cs.roomsLock.Lock()
	cs.rooms[room.externalId] = room
	cs.roomsLock.Unlock()
	cs.stats.Incr(stats.ActiveRooms)

	return room
}

func (cs *ChatServer) getLoadedRoom(externalId string) (*Room, bool) {
	cs.roomsLock.RLock()
	defer cs.roomsLock.RUnlock()

	r, ok := cs.rooms[externalId]
	return r, ok
}

// Announce delivers an event to every client currently attached to the
// room. Rooms nobody has loaded have nobody to tell; persisted
// notifications cover those users.
func (cs *ChatServer) Announce(roomId int, event string, payload any) {
	cs.roomsLock.RLock()
	defer cs.roomsLock.RUnlock()

	for _, r := range cs.rooms {
		if r.id != roomId {
			continue
		}

		r.broadcast(&ServerMessage{
			BaseMessage: BaseMessage{Timestamp: Now()},
			Event:       &Event{Name: event, Payload: payload},
		})
		return
	}
}

// BroadcastSystem persists a system message under the room's next
// sequence id and pushes it to attached clients. Used by slash commands
// with room-visible output; commands dispatch on the room goroutine, so
// the room is always loaded here.
func (cs *ChatServer) BroadcastSystem(roomId int, content string) {
	cs.roomsLock.RLock()
	var room *Room
	for _, r := range cs.rooms {
		if r.id == roomId {
			room = r
			break
		}
	}
	cs.roomsLock.RUnlock()

	if room == nil {
		cs.log.Printf("dropping system message for unloaded room %d", roomId)
		return
	}

	room.postSystem(content)
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	cs.clients[c] = struct{}{}
	cs.clientsLock.Unlock()

	cs.registry.AddConnection(c.user.Id, c)
	cs.stats.Incr(stats.ActiveConnections)
}

func (cs *ChatServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	delete(cs.clients, c)
	cs.clientsLock.Unlock()

	cs.registry.RemoveConnection(c.user.Id, c)
	cs.stats.Decr(stats.ActiveConnections)
}

func (cs *ChatServer) unloadRoom(roomId string) {
	cs.roomsLock.Lock()
	defer cs.roomsLock.Unlock()

	if r, ok := cs.rooms[roomId]; ok {
		cs.log.Printf("removing room %q", r.externalId)
		delete(cs.rooms, roomId)
		cs.stats.Decr(stats.ActiveRooms)
	}
}

func (cs *ChatServer) Shutdown() {
	cs.log.Println("received shutdown signal")
	cs.clientsLock.Lock()
	for c := range cs.clients {
		close(c.stop)
	}
	cs.clientsLock.Unlock()

	close(cs.stop)

	<-cs.done
}
