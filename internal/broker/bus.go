package broker

import (
	"context"
	"fmt"

	"fulfillment-service/internal/models"
)

// Handler reacts to one delivered event. Returned errors and panics are
// logged and counted, never propagated to the publisher or other handlers.
type Handler func(ctx context.Context, event models.Event) error

// AllEvents subscribes a handler to every event type.
const AllEvents models.EventType = "*"

// Bus modes
const (
	ModeVolatile = "volatile"
	ModeDurable  = "durable"
)

// EventBus is the publish/subscribe hub shared by the services. The
// lifecycle is construct, Connect, Subscribe, Run, Disconnect.
type EventBus interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	// Publish only fails for malformed events. Delivery failures are logged
	// and counted.
	Publish(ctx context.Context, event models.Event) error
	Subscribe(eventType models.EventType, handler Handler) Subscription
	Unsubscribe(sub Subscription)

	// Run delivers events until ctx is done. The volatile bus delivers
	// inside Publish, so its Run only waits.
	Run(ctx context.Context) error

	Recent(n int) []models.Event
	Lookup(ctx context.Context, id string) (*models.Event, error)
	Stats() Stats
	Ping(ctx context.Context) error
}

// Stats is the operator view of a bus
type Stats struct {
	Mode           string           `json:"mode"`
	Transport      string           `json:"transport"`
	Connected      bool             `json:"connected"`
	BufferedEvents int              `json:"buffered_events"`
	Subscribers    map[string]int   `json:"subscribers"`
	Published      map[string]int64 `json:"published"`
	Delivered      map[string]int64 `json:"delivered"`
	Failed         map[string]int64 `json:"failed"`
}

func validate(event models.Event) error {
	if event.Type == "" {
		return fmt.Errorf("event type is required")
	}
	if event.ID == "" {
		return fmt.Errorf("event id is required")
	}
	if event.Payload == nil {
		return fmt.Errorf("event %s has no payload", event.ID)
	}
	return nil
}

// TopicFor routes an event type to its broker topic by domain prefix
func TopicFor(t models.EventType) string {
	switch t.Domain() {
	case "order":
		return "order-events"
	case "inventory":
		return "inventory-events"
	case "payment":
		return "payment-events"
	default:
		return "system-events"
	}
}

// Topics lists every topic an event can be routed to
func Topics() []string {
	return []string{"order-events", "inventory-events", "payment-events", "system-events"}
}
