// Package pubsub is the broadcast fabric between sessions. Every
// event published to a hub's group is delivered to every live
// subscription of that group, across server processes, in per-group
// FIFO order. Payloads are opaque bytes; subscribers forward them
// verbatim.
package pubsub

import (
	"context"
	"fmt"
)

type Bus interface {
	Publish(ctx context.Context, hubId int, payload []byte) error
	Subscribe(ctx context.Context, hubId int) (Subscription, error)
}

// Subscription is an owned resource: the holder must call Close on
// every exit path to release the underlying group registration.
type Subscription interface {
	// C yields events published to the group. It is closed after Close.
	C() <-chan []byte
	Close() error
}

// GroupName is the bus channel for a hub.
func GroupName(hubId int) string {
	return fmt.Sprintf("hub:%d", hubId)
}
