package bus

import "time"

// EventBus is a thread-safe, in-process pub/sub bus.
//
// Handlers subscribe by Event.Type() within an optional topic (the default
// topic is ""). Publish delivers synchronously in the caller goroutine and
// joins handler errors. Try-on sessions publish under their session id as
// topic; server-wide subscribers use SubscribeAll.
type EventBus interface {
	// Publish delivers to subscribers of event.Type() in the default topic
	// and to every SubscribeAll handler.
	Publish(event Event) error
	// PublishToTopic delivers to subscribers of the topic and to every
	// SubscribeAll handler.
	PublishToTopic(topic string, event Event) error

	Subscribe(eventType string, handler EventHandler) (Subscription, error)
	SubscribeTopic(topic, eventType string, handler EventHandler) (Subscription, error)
	// SubscribeAll receives eventType from every topic.
	SubscribeAll(eventType string, handler EventHandler) (Subscription, error)
	// Unsubscribe cancels the given Subscription. It is safe to call with nil.
	Unsubscribe(Subscription) error

	// DropTopic removes a topic and all of its subscriptions.
	DropTopic(topic string)

	GetMetrics() EventBusMetrics
}

// Event is an immutable message transported by the EventBus.
type Event interface {
	Type() string
	Source() string
	Timestamp() time.Time
	Data() any
}

type (
	// EventHandler is invoked per delivered event. Returned errors are
	// joined and returned from Publish.
	EventHandler func(event Event) error
)

// Subscription is a registered handler. Cancel is idempotent.
type Subscription interface {
	ID() string
	EventType() string
	IsActive() bool
	Cancel() error
}

type EventBusMetrics struct {
	Published         uint64
	DeliveredHandlers uint64
	Errors            uint64
	SubscribersActive uint64
	Topics            uint64
}
