package pubsub

import (
	"github.com/hubchat/hubchat/internal/types"
)

// Broadcast event type tags. Every frame fanned out to a hub's group
// carries exactly one of these in its "type" field.
const (
	TypeChatMessage       = "chat_message"
	TypeTyping            = "typing"
	TypePresence          = "presence"
	TypeEventUpdate       = "event_update"
	TypeEventNotification = "event_notification"
)

const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"
)

type ChatMessageEvent struct {
	Type    string         `json:"type"`
	Message *types.Message `json:"message"`
}

func NewChatMessage(msg *types.Message) ChatMessageEvent {
	return ChatMessageEvent{
		Type:    TypeChatMessage,
		Message: msg,
	}
}

type TypingEvent struct {
	Type     string     `json:"type"`
	User     types.User `json:"user"`
	IsTyping bool       `json:"is_typing"`
}

func NewTyping(user types.User, isTyping bool) TypingEvent {
	return TypingEvent{
		Type:     TypeTyping,
		User:     user,
		IsTyping: isTyping,
	}
}

type PresenceEvent struct {
	Type   string     `json:"type"`
	Action string     `json:"action"`
	User   types.User `json:"user"`
}

func NewPresence(action string, user types.User) PresenceEvent {
	return PresenceEvent{
		Type:   TypePresence,
		Action: action,
		User:   user,
	}
}

// EventUpdateEvent announces an attendance change on a scheduled event.
type EventUpdateEvent struct {
	Type  string      `json:"type"`
	Event EventChange `json:"event"`
}

type EventChange struct {
	EventId int    `json:"event_id"`
	Action  string `json:"action"`
}

func NewEventUpdate(eventId int, action string) EventUpdateEvent {
	return EventUpdateEvent{
		Type: TypeEventUpdate,
		Event: EventChange{
			EventId: eventId,
			Action:  action,
		},
	}
}

// EventNotificationEvent carries a full scheduled event, sent when one
// is created or rescheduled.
type EventNotificationEvent struct {
	Type  string      `json:"type"`
	Event types.Event `json:"event"`
}

func NewEventNotification(event types.Event) EventNotificationEvent {
	return EventNotificationEvent{
		Type:  TypeEventNotification,
		Event: event,
	}
}
