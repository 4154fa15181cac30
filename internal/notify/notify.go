// Package notify turns event-domain facts into broadcast payloads for
// the hub's group.
package notify

import (
	"context"
	"encoding/json"
	"log"

	"github.com/hubchat/hubchat/internal/pubsub"
	"github.com/hubchat/hubchat/internal/types"
)

const (
	ActionAttending    = "attending"
	ActionNotAttending = "not_attending"
)

type EventNotifier struct {
	bus pubsub.Bus
	log *log.Logger
}

func NewEventNotifier(bus pubsub.Bus, logger *log.Logger) *EventNotifier {
	return &EventNotifier{
		bus: bus,
		log: logger,
	}
}

// MessageCreated broadcasts a chat_message to the hub after a message
// has been persisted outside a socket session.
func (n *EventNotifier) MessageCreated(ctx context.Context, msg *types.Message) error {
	payload, err := json.Marshal(pubsub.NewChatMessage(msg))
	if err != nil {
		return err
	}

	if err := n.bus.Publish(ctx, msg.HubId, payload); err != nil {
		n.log.Println("notify: publish chat_message:", err)
		return err
	}

	return nil
}

// AttendanceChanged broadcasts an event_update to the hub after an
// attendance toggle has been committed.
func (n *EventNotifier) AttendanceChanged(ctx context.Context, hubId, eventId int, attending bool) error {
	action := ActionNotAttending
	if attending {
		action = ActionAttending
	}

	payload, err := json.Marshal(pubsub.NewEventUpdate(eventId, action))
	if err != nil {
		return err
	}

	if err := n.bus.Publish(ctx, hubId, payload); err != nil {
		n.log.Println("notify: publish event_update:", err)
		return err
	}

	return nil
}

// EventChanged broadcasts an event_notification carrying the full
// event, used for creates and reschedules.
func (n *EventNotifier) EventChanged(ctx context.Context, event types.Event) error {
	payload, err := json.Marshal(pubsub.NewEventNotification(event))
	if err != nil {
		return err
	}

	if err := n.bus.Publish(ctx, event.HubId, payload); err != nil {
		n.log.Println("notify: publish event_notification:", err)
		return err
	}

	return nil
}
