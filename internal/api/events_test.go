package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/hubchat/hubchat/internal/auth"
	"github.com/hubchat/hubchat/internal/config"
	"github.com/hubchat/hubchat/internal/database"
	"github.com/hubchat/hubchat/internal/notify"
	"github.com/hubchat/hubchat/internal/pubsub"
	"github.com/hubchat/hubchat/internal/testutil"
	"github.com/hubchat/hubchat/internal/types"
)

// newEventTestApp wires the app with a live notifier over miniredis so
// event handlers can be observed end to end.
func newEventTestApp(t *testing.T, mockRepo database.HubChatRepository) (*HubChatApp, pubsub.Bus) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	logger := testutil.TestLogger(t)
	bus := pubsub.NewRedisBus(rdb, logger)
	notifier := notify.NewEventNotifier(bus, logger)
	resolver := auth.NewTokenResolver(mockRepo, testSigningKey)

	app := NewHubChatApp(http.NewServeMux(), logger, nil, mockRepo, notifier, resolver, &config.Config{})
	return app, bus
}

func recvEvent(t *testing.T, sub pubsub.Subscription) []byte {
	t.Helper()

	select {
	case payload := <-sub.C():
		return payload
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast")
		return nil
	}
}

func TestCreateEvent(t *testing.T) {
	testHub := database.Hub{Id: 3, Name: "book-club", AdminId: 1}
	startTime := time.Date(2026, 9, 12, 18, 0, 0, 0, time.UTC)

	t.Run("admin schedules an event and the hub is notified", func(t *testing.T) {
		mockRepo := &database.MockHubChatRepository{}
		defer mockRepo.AssertExpectations(t)

		mockRepo.On("GetHubById", 3).Return(testHub, nil).Once()
		mockRepo.On("CreateEvent", database.CreateEventParams{
			HubId:       3,
			Title:       "september meetup",
			Location:    "library",
			StartTime:   startTime,
			EndTime:     startTime,
			CreatedById: 1,
		}).Return(database.Event{
			Id:        7,
			HubId:     3,
			Title:     "september meetup",
			Location:  "library",
			StartTime: startTime,
			EndTime:   startTime,
			CreatedBy: "admin",
		}, nil).Once()

		app, bus := newEventTestApp(t, mockRepo)

		sub, err := bus.Subscribe(context.Background(), 3)
		assert.NoError(t, err)
		defer sub.Close()

		body, _ := json.Marshal(CreateEventRequest{
			Title:     "september meetup",
			Location:  "library",
			StartTime: startTime,
		})
		req := httptest.NewRequest(http.MethodPost, "/api/events?hub=3", bytes.NewBuffer(body))
		req = req.WithContext(WithUserId(req.Context(), 1))

		rr := httptest.NewRecorder()
		app.createEvent(rr, req)

		assert.Equal(t, http.StatusCreated, rr.Code)

		var created types.Event
		assert.NoError(t, json.NewDecoder(rr.Body).Decode(&created))
		assert.Equal(t, 7, created.Id)
		assert.Equal(t, "september meetup", created.Title)

		var broadcast pubsub.EventNotificationEvent
		assert.NoError(t, json.Unmarshal(recvEvent(t, sub), &broadcast))
		assert.Equal(t, pubsub.TypeEventNotification, broadcast.Type)
		assert.Equal(t, 7, broadcast.Event.Id)
	})

	t.Run("non-admin is forbidden", func(t *testing.T) {
		mockRepo := &database.MockHubChatRepository{}
		defer mockRepo.AssertExpectations(t)

		mockRepo.On("GetHubById", 3).Return(testHub, nil).Once()

		app, _ := newEventTestApp(t, mockRepo)

		body, _ := json.Marshal(CreateEventRequest{Title: "meetup", StartTime: startTime})
		req := httptest.NewRequest(http.MethodPost, "/api/events?hub=3", bytes.NewBuffer(body))
		req = req.WithContext(WithUserId(req.Context(), 2))

		rr := httptest.NewRecorder()
		app.createEvent(rr, req)

		assert.Equal(t, http.StatusForbidden, rr.Code)
		mockRepo.AssertNotCalled(t, "CreateEvent", mock.Anything)
	})

	t.Run("fails with missing title", func(t *testing.T) {
		mockRepo := &database.MockHubChatRepository{}
		defer mockRepo.AssertExpectations(t)

		mockRepo.On("GetHubById", 3).Return(testHub, nil).Once()

		app, _ := newEventTestApp(t, mockRepo)

		body, _ := json.Marshal(CreateEventRequest{StartTime: startTime})
		req := httptest.NewRequest(http.MethodPost, "/api/events?hub=3", bytes.NewBuffer(body))
		req = req.WithContext(WithUserId(req.Context(), 1))

		rr := httptest.NewRecorder()
		app.createEvent(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestListEvents(t *testing.T) {
	t.Run("member lists events", func(t *testing.T) {
		mockRepo := &database.MockHubChatRepository{}
		defer mockRepo.AssertExpectations(t)

		mockRepo.On("IsApprovedMember", 2, 3).Return(true, nil).Once()
		mockRepo.On("ListEvents", 3).Return([]database.Event{
			{Id: 7, HubId: 3, Title: "meetup", AttendeeCount: 4},
		}, nil).Once()

		app, _ := newEventTestApp(t, mockRepo)

		req := httptest.NewRequest(http.MethodGet, "/api/events?hub=3", nil)
		req = req.WithContext(WithUserId(req.Context(), 2))

		rr := httptest.NewRecorder()
		app.listEvents(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)

		var events []types.Event
		assert.NoError(t, json.NewDecoder(rr.Body).Decode(&events))
		assert.Len(t, events, 1)
		assert.Equal(t, 4, events[0].AttendeeCount)
	})

	t.Run("non-member is forbidden", func(t *testing.T) {
		mockRepo := &database.MockHubChatRepository{}
		defer mockRepo.AssertExpectations(t)

		mockRepo.On("IsApprovedMember", 9, 3).Return(false, nil).Once()

		app, _ := newEventTestApp(t, mockRepo)

		req := httptest.NewRequest(http.MethodGet, "/api/events?hub=3", nil)
		req = req.WithContext(WithUserId(req.Context(), 9))

		rr := httptest.NewRecorder()
		app.listEvents(rr, req)

		assert.Equal(t, http.StatusForbidden, rr.Code)
		mockRepo.AssertNotCalled(t, "ListEvents", mock.Anything)
	})
}

func TestUpcomingEvents(t *testing.T) {
	mockRepo := &database.MockHubChatRepository{}
	defer mockRepo.AssertExpectations(t)

	mockRepo.On("GetHubById", 3).Return(database.Hub{Id: 3, AdminId: 1}, nil).Once()
	mockRepo.On("UpcomingEvents", 3, 5).Return([]database.Event{
		{Id: 7, HubId: 3, Title: "meetup"},
	}, nil).Once()

	app, _ := newEventTestApp(t, mockRepo)

	req := httptest.NewRequest(http.MethodGet, "/api/hubs/3/upcoming", nil)
	req.SetPathValue("hubId", "3")
	req = req.WithContext(WithUserId(req.Context(), 2))

	rr := httptest.NewRecorder()
	app.upcomingEvents(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var events []types.Event
	assert.NoError(t, json.NewDecoder(rr.Body).Decode(&events))
	assert.Len(t, events, 1)
}

func TestMyUpcomingEvents(t *testing.T) {
	mockRepo := &database.MockHubChatRepository{}
	defer mockRepo.AssertExpectations(t)

	mockRepo.On("UpcomingEventsForAccount", 2, 5).Return([]database.Event{
		{Id: 7, HubId: 3, Title: "meetup"},
		{Id: 9, HubId: 4, Title: "tournament"},
	}, nil).Once()

	app, _ := newEventTestApp(t, mockRepo)

	req := httptest.NewRequest(http.MethodGet, "/api/events/upcoming", nil)
	req = req.WithContext(WithUserId(req.Context(), 2))

	rr := httptest.NewRecorder()
	app.myUpcomingEvents(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var events []types.Event
	assert.NoError(t, json.NewDecoder(rr.Body).Decode(&events))
	assert.Len(t, events, 2)
	assert.Equal(t, 4, events[1].HubId, "expected events gathered across hubs")
}

func TestUpdateEvent(t *testing.T) {
	existing := database.Event{
		Id:          7,
		HubId:       3,
		Title:       "meetup",
		Description: "monthly",
		Location:    "library",
		StartTime:   time.Date(2026, 9, 12, 18, 0, 0, 0, time.UTC),
		EndTime:     time.Date(2026, 9, 12, 20, 0, 0, 0, time.UTC),
	}
	testHub := database.Hub{Id: 3, AdminId: 1}

	t.Run("admin reschedules and members are notified", func(t *testing.T) {
		mockRepo := &database.MockHubChatRepository{}
		defer mockRepo.AssertExpectations(t)

		newStart := existing.StartTime.Add(24 * time.Hour)

		mockRepo.On("GetEventById", 7).Return(existing, nil).Once()
		mockRepo.On("GetHubById", 3).Return(testHub, nil).Once()
		mockRepo.On("UpdateEvent", database.UpdateEventParams{
			EventId:     7,
			Title:       existing.Title,
			Description: existing.Description,
			Location:    existing.Location,
			StartTime:   newStart,
			EndTime:     existing.EndTime,
		}).Return(database.Event{
			Id:        7,
			HubId:     3,
			Title:     existing.Title,
			StartTime: newStart,
		}, nil).Once()

		app, bus := newEventTestApp(t, mockRepo)

		sub, err := bus.Subscribe(context.Background(), 3)
		assert.NoError(t, err)
		defer sub.Close()

		body, _ := json.Marshal(UpdateEventRequest{StartTime: &newStart})
		req := httptest.NewRequest(http.MethodPatch, "/api/events/7", bytes.NewBuffer(body))
		req.SetPathValue("eventId", "7")
		req = req.WithContext(WithUserId(req.Context(), 1))

		rr := httptest.NewRecorder()
		app.updateEvent(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)

		var broadcast pubsub.EventNotificationEvent
		assert.NoError(t, json.Unmarshal(recvEvent(t, sub), &broadcast))
		assert.Equal(t, pubsub.TypeEventNotification, broadcast.Type)
		assert.Equal(t, 7, broadcast.Event.Id)
	})

	t.Run("non-admin is forbidden", func(t *testing.T) {
		mockRepo := &database.MockHubChatRepository{}
		defer mockRepo.AssertExpectations(t)

		mockRepo.On("GetEventById", 7).Return(existing, nil).Once()
		mockRepo.On("GetHubById", 3).Return(testHub, nil).Once()

		app, _ := newEventTestApp(t, mockRepo)

		body, _ := json.Marshal(UpdateEventRequest{Title: "hijacked"})
		req := httptest.NewRequest(http.MethodPatch, "/api/events/7", bytes.NewBuffer(body))
		req.SetPathValue("eventId", "7")
		req = req.WithContext(WithUserId(req.Context(), 2))

		rr := httptest.NewRecorder()
		app.updateEvent(rr, req)

		assert.Equal(t, http.StatusForbidden, rr.Code)
		mockRepo.AssertNotCalled(t, "UpdateEvent", mock.Anything)
	})
}

func TestSetAttendance(t *testing.T) {
	existing := database.Event{Id: 7, HubId: 3, Title: "meetup"}

	tcases := []struct {
		name      string
		attending bool
		action    string
	}{
		{
			name:      "member attends",
			attending: true,
			action:    notify.ActionAttending,
		},
		{
			name:      "member withdraws",
			attending: false,
			action:    notify.ActionNotAttending,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockHubChatRepository{}
			defer mockRepo.AssertExpectations(t)

			mockRepo.On("GetEventById", 7).Return(existing, nil).Once()
			mockRepo.On("IsApprovedMember", 2, 3).Return(true, nil).Once()
			mockRepo.On("SetAttendance", 7, 2, tc.attending).Return(nil).Once()
			mockRepo.On("AttendeeCount", 7).Return(4, nil).Once()

			app, bus := newEventTestApp(t, mockRepo)

			sub, err := bus.Subscribe(context.Background(), 3)
			assert.NoError(t, err)
			defer sub.Close()

			path := "/api/events/7/attend"
			handler := app.attend
			if !tc.attending {
				path = "/api/events/7/unattend"
				handler = app.unattend
			}

			req := httptest.NewRequest(http.MethodPost, path, nil)
			req.SetPathValue("eventId", "7")
			req = req.WithContext(WithUserId(req.Context(), 2))

			rr := httptest.NewRecorder()
			handler(rr, req)

			assert.Equal(t, http.StatusOK, rr.Code)

			var resp AttendanceResponse
			assert.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
			assert.Equal(t, tc.attending, resp.Attending)
			assert.Equal(t, 4, resp.AttendeeCount)

			var broadcast pubsub.EventUpdateEvent
			assert.NoError(t, json.Unmarshal(recvEvent(t, sub), &broadcast))
			assert.Equal(t, pubsub.TypeEventUpdate, broadcast.Type)
			assert.Equal(t, 7, broadcast.Event.EventId)
			assert.Equal(t, tc.action, broadcast.Event.Action)
		})
	}

	t.Run("non-member is forbidden", func(t *testing.T) {
		mockRepo := &database.MockHubChatRepository{}
		defer mockRepo.AssertExpectations(t)

		mockRepo.On("GetEventById", 7).Return(existing, nil).Once()
		mockRepo.On("IsApprovedMember", 9, 3).Return(false, nil).Once()

		app, _ := newEventTestApp(t, mockRepo)

		req := httptest.NewRequest(http.MethodPost, "/api/events/7/attend", nil)
		req.SetPathValue("eventId", "7")
		req = req.WithContext(WithUserId(req.Context(), 9))

		rr := httptest.NewRecorder()
		app.attend(rr, req)

		assert.Equal(t, http.StatusForbidden, rr.Code)
		mockRepo.AssertNotCalled(t, "SetAttendance", mock.Anything, mock.Anything, mock.Anything)
	})
}
