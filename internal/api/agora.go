package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/teris-io/shortid"

	"github.com/agorachat/agora/internal/config"
	"github.com/agorachat/agora/internal/database"
	"github.com/agorachat/agora/internal/membership"
	"github.com/agorachat/agora/internal/polls"
	"github.com/agorachat/agora/internal/server"
)

type AgoraApp struct {
	log            *log.Logger
	db             database.AgoraRepository
	mux            *http.Server
	cs             *server.ChatServer
	membership     *membership.Service
	polls          *polls.Service
	signingKey     []byte
	allowedOrigins []string

	generateShortId func() (string, error)
}

func NewAgoraApp(logger *log.Logger, cs *server.ChatServer, db database.AgoraRepository,
	membershipSvc *membership.Service, pollSvc *polls.Service, cfg *config.Config) *AgoraApp {
	s := &AgoraApp{
		log:             logger,
		db:              db,
		cs:              cs,
		membership:      membershipSvc,
		polls:           pollSvc,
		signingKey:      cfg.SigningKey,
		allowedOrigins:  cfg.AllowedOrigins,
		generateShortId: shortid.Generate,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.HandleFunc("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.HandleFunc("GET /api/account", s.authMiddleware(s.account))
	mux.HandleFunc("POST /api/rooms", s.authMiddleware(s.createRoom))
	mux.HandleFunc("GET /api/rooms", s.authMiddleware(s.getRoom))
	mux.HandleFunc("DELETE /api/rooms", s.authMiddleware(s.deleteRoom))
	mux.HandleFunc("POST /api/rooms/leave", s.authMiddleware(s.leaveRoom))
	mux.HandleFunc("GET /api/memberships", s.authMiddleware(s.listUserRooms))
	mux.HandleFunc("GET /api/messages", s.authMiddleware(s.getMessages))
	mux.HandleFunc("POST /api/join-requests", s.authMiddleware(s.createJoinRequest))
	mux.HandleFunc("GET /api/join-requests", s.authMiddleware(s.listJoinRequests))
	mux.HandleFunc("POST /api/join-requests/approve", s.authMiddleware(s.approveJoinRequest))
	mux.HandleFunc("POST /api/join-requests/reject", s.authMiddleware(s.rejectJoinRequest))
	mux.HandleFunc("POST /api/polls", s.authMiddleware(s.createPoll))
	mux.HandleFunc("GET /api/polls", s.authMiddleware(s.listPolls))
	mux.HandleFunc("POST /api/polls/vote", s.authMiddleware(s.votePoll))
	mux.HandleFunc("POST /api/polls/close", s.authMiddleware(s.closePoll))
	mux.HandleFunc("POST /api/moderation/punish", s.authMiddleware(s.requireModerator(s.punish)))
	mux.HandleFunc("GET /api/notifications", s.authMiddleware(s.listNotifications))
	mux.HandleFunc("POST /api/notifications/read", s.authMiddleware(s.markNotificationRead))
	mux.HandleFunc("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *AgoraApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *AgoraApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
