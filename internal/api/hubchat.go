package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/hubchat/hubchat/internal/auth"
	"github.com/hubchat/hubchat/internal/config"
	"github.com/hubchat/hubchat/internal/database"
	"github.com/hubchat/hubchat/internal/hub"
	"github.com/hubchat/hubchat/internal/notify"
	"github.com/teris-io/shortid"
)

type HubChatApp struct {
	log             *log.Logger
	db              database.HubChatRepository
	mux             *http.Server
	hub             *hub.Server
	notifier        *notify.EventNotifier
	resolver        *auth.TokenResolver
	generateShortId func() (string, error)
}

func NewHubChatApp(
	mux *http.ServeMux,
	logger *log.Logger,
	hubServer *hub.Server,
	db database.HubChatRepository,
	notifier *notify.EventNotifier,
	resolver *auth.TokenResolver,
	cfg *config.Config,
) *HubChatApp {
	s := &HubChatApp{
		log:             logger,
		db:              db,
		hub:             hubServer,
		notifier:        notifier,
		resolver:        resolver,
		generateShortId: shortid.Generate,
	}

	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.Handle("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.Handle("POST /api/hubs", s.authMiddleware(s.createHub))
	mux.Handle("GET /api/hubs", s.authMiddleware(s.listHubs))
	mux.Handle("GET /api/hubs/{hubId}", s.authMiddleware(s.getHub))
	mux.Handle("PATCH /api/hubs/{hubId}", s.authMiddleware(s.updateHub))
	mux.Handle("POST /api/hubs/{hubId}/join", s.authMiddleware(s.requestJoin))
	mux.Handle("GET /api/hubs/{hubId}/pending", s.authMiddleware(s.pendingRequests))
	mux.Handle("POST /api/hubs/{hubId}/approve", s.authMiddleware(s.approveMember))
	mux.Handle("GET /api/hubs/{hubId}/members", s.authMiddleware(s.listMembers))
	mux.Handle("POST /api/hubs/{hubId}/ban", s.authMiddleware(s.banMember))
	mux.Handle("GET /api/hubs/{hubId}/ban-history", s.authMiddleware(s.banHistory))
	mux.Handle("GET /api/hubs/{hubId}/upcoming", s.authMiddleware(s.upcomingEvents))
	mux.Handle("POST /api/messages", s.authMiddleware(s.createMessage))
	mux.Handle("GET /api/messages", s.authMiddleware(s.getMessages))
	mux.Handle("GET /api/users", s.authMiddleware(s.listUsers))
	mux.Handle("POST /api/events", s.authMiddleware(s.createEvent))
	mux.Handle("GET /api/events", s.authMiddleware(s.listEvents))
	mux.Handle("GET /api/events/upcoming", s.authMiddleware(s.myUpcomingEvents))
	mux.Handle("PATCH /api/events/{eventId}", s.authMiddleware(s.updateEvent))
	mux.Handle("POST /api/events/{eventId}/attend", s.authMiddleware(s.attend))
	mux.Handle("POST /api/events/{eventId}/unattend", s.authMiddleware(s.unattend))
	mux.HandleFunc("GET /ws/hub/{hubId}", hubServer.ServeWs)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions}),
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

func (s *HubChatApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *HubChatApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
