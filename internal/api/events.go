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
)

type CreateEventRequest struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
}

type UpdateEventRequest struct {
	Title       string     `json:"title"`
	Description *string    `json:"description"`
	Location    *string    `json:"location"`
	StartTime   *time.Time `json:"start_time"`
	EndTime     *time.Time `json:"end_time"`
}

type AttendanceResponse struct {
	Attending     bool `json:"attending"`
	AttendeeCount int  `json:"attendees_count"`
}

// createEvent handles POST /api/events?hub={id}; only the hub admin
// may schedule events.
func (s *HubChatApp) createEvent(w http.ResponseWriter, r *http.Request) {
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

	h, err := s.db.GetHubById(hubId)
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

	if h.AdminId != userId {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req CreateEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Title == "" || req.StartTime.IsZero() {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.EndTime.IsZero() {
		req.EndTime = req.StartTime
	}

	newEvent, err := s.db.CreateEvent(database.CreateEventParams{
		HubId:       h.Id,
		Title:       req.Title,
		Description: req.Description,
		Location:    req.Location,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		CreatedById: userId,
	})
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	wireEvent := eventToWire(newEvent)
	if err := s.notifier.EventChanged(r.Context(), wireEvent); err != nil {
		// the event is committed; broadcast failure only costs liveness
		s.log.Println("notify event created:", err)
	}

	s.writeJson(w, http.StatusCreated, wireEvent)
}

func (s *HubChatApp) listEvents(w http.ResponseWriter, r *http.Request) {
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

	events, err := s.db.ListEvents(hubId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, eventsToWire(events))
}

func (s *HubChatApp) upcomingEvents(w http.ResponseWriter, r *http.Request) {
	h, errResp := s.hubFromPath(r)
	if errResp != nil {
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	events, err := s.db.UpcomingEvents(h.Id, 5)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, eventsToWire(events))
}

// myUpcomingEvents handles GET /api/events/upcoming: the next events
// across every hub the caller belongs to, for the dashboard.
func (s *HubChatApp) myUpcomingEvents(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	events, err := s.db.UpcomingEventsForAccount(userId, 5)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, eventsToWire(events))
}

func (s *HubChatApp) updateEvent(w http.ResponseWriter, r *http.Request) {
	userId, event, errResp := s.eventFromPath(r)
	if errResp != nil {
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	h, err := s.db.GetHubById(event.HubId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if h.AdminId != userId {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req UpdateEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	params := database.UpdateEventParams{
		EventId:     event.Id,
		Title:       event.Title,
		Description: event.Description,
		Location:    event.Location,
		StartTime:   event.StartTime,
		EndTime:     event.EndTime,
	}
	if req.Title != "" {
		params.Title = req.Title
	}
	if req.Description != nil {
		params.Description = *req.Description
	}
	if req.Location != nil {
		params.Location = *req.Location
	}
	if req.StartTime != nil {
		params.StartTime = *req.StartTime
	}
	if req.EndTime != nil {
		params.EndTime = *req.EndTime
	}

	updated, err := s.db.UpdateEvent(params)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	wireEvent := eventToWire(updated)
	wireEvent.AttendeeCount = event.AttendeeCount
	if err := s.notifier.EventChanged(r.Context(), wireEvent); err != nil {
		s.log.Println("notify event updated:", err)
	}

	s.writeJson(w, http.StatusOK, wireEvent)
}

func (s *HubChatApp) attend(w http.ResponseWriter, r *http.Request) {
	s.setAttendance(w, r, true)
}

func (s *HubChatApp) unattend(w http.ResponseWriter, r *http.Request) {
	s.setAttendance(w, r, false)
}

func (s *HubChatApp) setAttendance(w http.ResponseWriter, r *http.Request, attending bool) {
	userId, event, errResp := s.eventFromPath(r)
	if errResp != nil {
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	approved, err := s.db.IsApprovedMember(userId, event.HubId)
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

	if err := s.db.SetAttendance(event.Id, userId, attending); err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// broadcast after the attendance change is committed
	if err := s.notifier.AttendanceChanged(r.Context(), event.HubId, event.Id, attending); err != nil {
		s.log.Println("notify attendance changed:", err)
	}

	count, err := s.db.AttendeeCount(event.Id)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, AttendanceResponse{
		Attending:     attending,
		AttendeeCount: count,
	})
}

func (s *HubChatApp) eventFromPath(r *http.Request) (int, database.Event, *ApiError) {
	userId, ok := UserId(r.Context())
	if !ok {
		return 0, database.Event{}, NewUnauthorizedError()
	}

	eventId, err := strconv.Atoi(r.PathValue("eventId"))
	if err != nil {
		return 0, database.Event{}, NewBadRequestError()
	}

	event, err := s.db.GetEventById(eventId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, database.Event{}, NewNotFoundError()
		}
		return 0, database.Event{}, NewInternalServerError(err)
	}

	return userId, event, nil
}

func eventToWire(e database.Event) types.Event {
	return types.Event{
		Id:            e.Id,
		HubId:         e.HubId,
		Title:         e.Title,
		Description:   e.Description,
		Location:      e.Location,
		StartTime:     e.StartTime,
		EndTime:       e.EndTime,
		CreatedBy:     e.CreatedBy,
		AttendeeCount: e.AttendeeCount,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
	}
}

func eventsToWire(events []database.Event) []types.Event {
	wire := make([]types.Event, 0, len(events))
	for _, e := range events {
		wire = append(wire, eventToWire(e))
	}
	return wire
}
