package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/hubchat/hubchat/internal/database"
	"github.com/hubchat/hubchat/internal/types"
	"golang.org/x/crypto/bcrypt"
)

const (
	tokenCookieKey       = "token"
	defaultJwtExpiration = time.Hour * 24
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type CreateHubRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type UpdateHubRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type MemberActionRequest struct {
	UserId int `json:"user_id"`
}

type CreateMessageRequest struct {
	HubId    int    `json:"hub"`
	Content  string `json:"content"`
	ParentId *int   `json:"parent"`
	MediaURL string `json:"media_url"`
}

type LoginResponse struct {
	User  types.User `json:"user"`
	Token string     `json:"token"`
}

func (s *HubChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func hashPassword(passwd string) (string, error) {
	passwdHash, err := bcrypt.GenerateFromPassword([]byte(passwd), bcrypt.DefaultCost)
	return string(passwdHash), err
}

func verifyPassword(passwdHash, passwd string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(passwdHash), []byte(passwd))
	return err == nil
}

func createJwtCookie(tokenString string, exp time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     tokenCookieKey,
		Value:    tokenString,
		Path:     "/",
		Expires:  time.Now().Add(exp),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}

func (s *HubChatApp) createAccount(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.Username == "" || req.Email == "" || req.Password == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	pwdHash, err := hashPassword(req.Password)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	params := database.CreateAccountParams{
		Username:     req.Username,
		EmailAddress: req.Email,
		PasswordHash: pwdHash,
	}

	newUser, err := s.db.CreateAccount(params)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, types.User{
		Id:           newUser.Id,
		Username:     newUser.Username,
		EmailAddress: newUser.EmailAddress,
		CreatedAt:    newUser.CreatedAt,
	})
}

func (s *HubChatApp) login(w http.ResponseWriter, r *http.Request) {
	var lr LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&lr); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if lr.Email == "" || lr.Password == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbUser, err := s.db.GetAccountByEmail(lr.Email)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !verifyPassword(dbUser.PasswordHash, lr.Password) {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	token, err := s.resolver.Mint(dbUser.Id, defaultJwtExpiration)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	http.SetCookie(w, createJwtCookie(token, defaultJwtExpiration))

	// the token is also returned in the body so socket clients can
	// pass it as a query parameter
	s.writeJson(w, http.StatusOK, LoginResponse{
		User: types.User{
			Id:           dbUser.Id,
			Username:     dbUser.Username,
			EmailAddress: dbUser.EmailAddress,
			IsSuperuser:  dbUser.IsSuperuser,
			CreatedAt:    dbUser.CreatedAt,
		},
		Token: token,
	})
}

func (s *HubChatApp) session(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.db.GetAccountById(userId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, types.User{
		Id:           user.Id,
		Username:     user.Username,
		EmailAddress: user.EmailAddress,
		IsSuperuser:  user.IsSuperuser,
		CreatedAt:    user.CreatedAt,
	})
}

func (s *HubChatApp) logout(w http.ResponseWriter, _ *http.Request) {
	// instruct browser to delete cookie by overwriting it with an expired token
	http.SetCookie(w, createJwtCookie("", time.Duration(time.Unix(0, 0).Unix())))
	w.WriteHeader(http.StatusNoContent)
}

func (s *HubChatApp) createHub(w http.ResponseWriter, r *http.Request) {
	var req CreateHubRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.Name == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	sid, err := s.generateShortId()
	if err != nil {
		s.log.Print("generateShortId:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	newHub, err := s.db.CreateHub(database.CreateHubParams{
		Name:        req.Name,
		Description: req.Description,
		AdminId:     userId,
		ExternalId:  sid,
	})
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, hubToWire(newHub))
}

func (s *HubChatApp) listHubs(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	caller, err := s.db.GetAccountById(userId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// superusers see every hub, everyone else their approved ones
	var dbHubs []database.Hub
	if caller.IsSuperuser {
		dbHubs, err = s.db.ListHubs()
	} else {
		dbHubs, err = s.db.ListHubsForAccount(userId)
	}
	if err != nil {
		s.log.Println("list hubs:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	hubs := make([]types.Hub, 0, len(dbHubs))
	for _, h := range dbHubs {
		hubs = append(hubs, hubToWire(h))
	}

	s.writeJson(w, http.StatusOK, hubs)
}

// listUsers handles GET /api/users: the account directory superusers
// use to pick hub admins.
func (s *HubChatApp) listUsers(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	caller, err := s.db.GetAccountById(userId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	if !caller.IsSuperuser {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	accounts, err := s.db.ListAccounts()
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	users := make([]types.User, 0, len(accounts))
	for _, a := range accounts {
		users = append(users, types.User{
			Id:           a.Id,
			Username:     a.Username,
			EmailAddress: a.EmailAddress,
			IsSuperuser:  a.IsSuperuser,
			CreatedAt:    a.CreatedAt,
		})
	}

	s.writeJson(w, http.StatusOK, users)
}

func (s *HubChatApp) getHub(w http.ResponseWriter, r *http.Request) {
	h, errResp := s.hubFromPath(r)
	if errResp != nil {
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, hubToWire(h))
}

func (s *HubChatApp) updateHub(w http.ResponseWriter, r *http.Request) {
	h, errResp := s.requireHubAdmin(r)
	if errResp != nil {
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req UpdateHubRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.Name == "" {
		req.Name = h.Name
	}
	if req.Description == "" {
		req.Description = h.Description
	}

	updated, err := s.db.UpdateHub(database.UpdateHubParams{
		HubId:       h.Id,
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, hubToWire(updated))
}

func (s *HubChatApp) requestJoin(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	h, errResp := s.hubFromPath(r)
	if errResp != nil {
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	_, err := s.db.RequestMembership(userId, h.Id)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, database.ErrMembershipExists) {
			errResp = NewConflictError("already requested or member")
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, map[string]string{"message": "join request sent"})
}

func (s *HubChatApp) pendingRequests(w http.ResponseWriter, r *http.Request) {
	h, errResp := s.requireHubAdmin(r)
	if errResp != nil {
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	memberships, err := s.db.PendingMemberships(h.Id)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, membershipsToWire(memberships))
}

func (s *HubChatApp) approveMember(w http.ResponseWriter, r *http.Request) {
	h, errResp := s.requireHubAdmin(r)
	if errResp != nil {
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req MemberActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserId == 0 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	membership, err := s.db.ApproveMembership(req.UserId, h.Id)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, membershipToWire(membership))
}

func (s *HubChatApp) listMembers(w http.ResponseWriter, r *http.Request) {
	h, errResp := s.requireHubAdmin(r)
	if errResp != nil {
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	memberships, err := s.db.ApprovedMembers(h.Id)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, membershipsToWire(memberships))
}

func (s *HubChatApp) banMember(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	h, errResp := s.requireHubAdmin(r)
	if errResp != nil {
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req MemberActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserId == 0 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// the admin cannot ban themselves
	if req.UserId == userId {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.db.DeleteMembership(req.UserId, h.Id, userId); err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, map[string]string{"message": "member banned"})
}

func (s *HubChatApp) banHistory(w http.ResponseWriter, r *http.Request) {
	h, errResp := s.requireHubAdmin(r)
	if errResp != nil {
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	records, err := s.db.BanHistory(h.Id)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	type banEntry struct {
		UserId   int       `json:"user_id"`
		Username string    `json:"username"`
		BannedBy string    `json:"banned_by"`
		BannedAt time.Time `json:"banned_at"`
	}

	entries := make([]banEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, banEntry{
			UserId:   rec.UserId,
			Username: rec.Username,
			BannedBy: rec.BannedBy,
			BannedAt: rec.BannedAt,
		})
	}

	s.writeJson(w, http.StatusOK, entries)
}

// createMessage handles POST /api/messages: the REST path for posting
// into a hub, used for messages carrying a media reference. The
// persisted message is broadcast to the hub's group like a socket send.
func (s *HubChatApp) createMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req CreateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// a message must carry text, a media reference, or both
	if req.HubId == 0 || (req.Content == "" && req.MediaURL == "") {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	approved, err := s.db.IsApprovedMember(userId, req.HubId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	if !approved {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msg, err := s.db.CreateMessage(database.CreateMessageParams{
		HubId:    req.HubId,
		SenderId: userId,
		Content:  req.Content,
		ParentId: req.ParentId,
		MediaURL: req.MediaURL,
	})
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, database.ErrParentMismatch) {
			errResp = NewBadRequestError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	wireMsg := messageToWire(msg)
	if err := s.notifier.MessageCreated(r.Context(), &wireMsg); err != nil {
		// the row is durable and will surface in history either way
		s.log.Println("notify message created:", err)
	}

	s.writeJson(w, http.StatusCreated, wireMsg)
}

func (s *HubChatApp) getMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	hubId, err := strconv.Atoi(r.URL.Query().Get("hub"))
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	approved, err := s.db.IsApprovedMember(userId, hubId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	if !approved {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var before, limit int
	if beforeStr := r.URL.Query().Get("before"); beforeStr != "" {
		if before, err = strconv.Atoi(beforeStr); err != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err = strconv.Atoi(limitStr); err != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	messages, err := s.db.ListMessages(hubId, before, limit)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	wireMessages := make([]types.Message, 0, len(messages))
	for _, msg := range messages {
		wireMessages = append(wireMessages, messageToWire(msg))
	}

	s.writeJson(w, http.StatusOK, wireMessages)
}

// hubFromPath loads the hub named by the {hubId} path segment.
func (s *HubChatApp) hubFromPath(r *http.Request) (database.Hub, *ApiError) {
	hubId, err := strconv.Atoi(r.PathValue("hubId"))
	if err != nil {
		return database.Hub{}, NewBadRequestError()
	}

	h, err := s.db.GetHubById(hubId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return database.Hub{}, NewNotFoundError()
		}
		return database.Hub{}, NewInternalServerError(err)
	}

	return h, nil
}

// requireHubAdmin loads the hub from the path and checks the caller is
// its admin.
func (s *HubChatApp) requireHubAdmin(r *http.Request) (database.Hub, *ApiError) {
	userId, ok := UserId(r.Context())
	if !ok {
		return database.Hub{}, NewUnauthorizedError()
	}

	h, errResp := s.hubFromPath(r)
	if errResp != nil {
		return database.Hub{}, errResp
	}

	if h.AdminId != userId {
		return database.Hub{}, NewForbiddenError()
	}

	return h, nil
}

func hubToWire(h database.Hub) types.Hub {
	return types.Hub{
		Id:          h.Id,
		ExternalId:  h.ExternalId,
		Name:        h.Name,
		Description: h.Description,
		AdminId:     h.AdminId,
		CreatedAt:   h.CreatedAt,
		UpdatedAt:   h.UpdatedAt,
	}
}

func messageToWire(m database.Message) types.Message {
	return types.Message{
		Id:        m.Id,
		HubId:     m.HubId,
		Sender:    m.SenderUsername,
		Content:   m.Content,
		MediaURL:  m.MediaURL,
		ParentId:  m.ParentId,
		Timestamp: m.CreatedAt,
	}
}

func membershipToWire(m database.Membership) types.Membership {
	return types.Membership{
		Id:          m.Id,
		HubId:       m.HubId,
		UserId:      m.AccountId,
		Username:    m.Username,
		IsApproved:  m.IsApproved,
		RequestedAt: m.RequestedAt,
		ApprovedAt:  m.ApprovedAt,
	}
}

func membershipsToWire(memberships []database.Membership) []types.Membership {
	wire := make([]types.Membership, 0, len(memberships))
	for _, m := range memberships {
		wire = append(wire, membershipToWire(m))
	}
	return wire
}
