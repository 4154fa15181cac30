package hub

import (
	"context"
	"log"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hubchat/hubchat/internal/auth"
	"github.com/hubchat/hubchat/internal/database"
	"github.com/hubchat/hubchat/internal/gate"
	"github.com/hubchat/hubchat/internal/presence"
	"github.com/hubchat/hubchat/internal/pubsub"
	"github.com/hubchat/hubchat/internal/stats"
)

// Server admits socket connections into hub groups and tracks the
// resulting sessions. Sessions share no state with each other except
// through the presence store and the bus.
type Server struct {
	log          *log.Logger
	db           database.HubChatRepository
	bus          pubsub.Bus
	presence     presence.Store
	gate         *gate.MembershipGate
	resolver     *auth.TokenResolver
	stats        stats.StatsProvider
	upgrader     websocket.Upgrader
	sessions     map[*Session]struct{}
	sessionsLock sync.Mutex
	wg           sync.WaitGroup
}

func NewServer(
	logger *log.Logger,
	db database.HubChatRepository,
	bus pubsub.Bus,
	presenceStore presence.Store,
	membershipGate *gate.MembershipGate,
	resolver *auth.TokenResolver,
	statsProvider stats.StatsProvider,
	allowedOrigins []string,
) (*Server, error) {
	s := &Server{
		log:      logger,
		db:       db,
		bus:      bus,
		presence: presenceStore,
		gate:     membershipGate,
		resolver: resolver,
		stats:    statsProvider,
		sessions: make(map[*Session]struct{}),
	}

	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(allowedOrigins, origin)
		},
	}

	for _, name := range []string{"ActiveSessions", "MessagesPersisted", "BroadcastsPublished", "AdmissionsRejected"} {
		s.stats.RegisterMetric(name)
	}

	return s, nil
}

// ServeWs handles GET /ws/hub/{hubId}. The bearer token travels as a
// "token" query parameter; admission is decided after the upgrade so
// rejections surface as a policy-violation close rather than a failed
// handshake.
func (s *Server) ServeWs(w http.ResponseWriter, r *http.Request) {
	hubId, err := strconv.Atoi(r.PathValue("hubId"))
	if err != nil {
		http.Error(w, "invalid hub id", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	identity, err := s.resolver.Resolve(r.URL.Query().Get("token"))
	if err != nil {
		s.log.Printf("rejecting connection to hub %d: %v", hubId, err)
		s.reject(conn, "unauthenticated")
		return
	}

	admitted, err := s.gate.IsAdmitted(identity, hubId)
	if err != nil {
		s.log.Printf("admission check for %q on hub %d: %v", identity.Username, hubId, err)
		s.closeOnError(conn)
		return
	}
	if !admitted {
		s.log.Printf("rejecting %q: not a member of hub %d", identity.Username, hubId)
		s.reject(conn, "not a hub member")
		return
	}

	s.admit(conn, identity, hubId)
}

// admit transitions an authenticated, membership-checked connection
// into a live session. Ordering matters: the private online_users
// snapshot is queued before the online announce is published so the
// joining client never double-counts itself.
func (s *Server) admit(conn *websocket.Conn, identity auth.Identity, hubId int) {
	ctx, cancel := opCtx()
	defer cancel()

	sub, err := s.bus.Subscribe(ctx, hubId)
	if err != nil {
		s.log.Printf("subscribe to hub %d: %v", hubId, err)
		s.closeOnError(conn)
		return
	}

	if err := s.presence.Add(ctx, hubId, identity.Username); err != nil {
		s.log.Printf("add presence for %q on hub %d: %v", identity.Username, hubId, err)
		sub.Close()
		s.closeOnError(conn)
		return
	}

	sess := newSession(conn, s, identity, hubId, sub)

	members, err := s.presence.Members(ctx, hubId)
	if err != nil {
		s.log.Printf("fetch presence for hub %d: %v", hubId, err)
		members = []string{identity.Username}
	}

	s.register(sess)
	s.stats.Incr("ActiveSessions")

	sess.queueJSON(newOnlineUsers(members))
	sess.publishPresence(pubsub.PresenceOnline)

	go sess.writePump()
	go sess.deliverPump()
	go sess.readPump()

	s.log.Printf("admitted %q to hub %d", identity.Username, hubId)
}

func (s *Server) reject(conn *websocket.Conn, reason string) {
	s.stats.Incr("AdmissionsRejected")

	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage, msg)
	conn.Close()
}

func (s *Server) closeOnError(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "")
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage, msg)
	conn.Close()
}

func (s *Server) register(sess *Session) {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()

	s.sessions[sess] = struct{}{}
	s.wg.Add(1)
}

func (s *Server) deregister(sess *Session) {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()

	if _, ok := s.sessions[sess]; ok {
		delete(s.sessions, sess)
		s.wg.Done()
	}
}

// Shutdown closes every live session and waits for their teardown to
// finish or the context to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.sessionsLock.Lock()
	live := make([]*Session, 0, len(s.sessions))
	for sess := range s.sessions {
		live = append(live, sess)
	}
	s.sessionsLock.Unlock()

	for _, sess := range live {
		sess.conn.Close()
		go sess.teardown()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
