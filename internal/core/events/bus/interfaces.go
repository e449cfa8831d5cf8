package bus

import "time"

// Bus is an in-process publish/subscribe bus for board activity.
//
// Delivery is synchronous: Publish runs every matching handler in the caller's
// goroutine and joins their errors. Handlers run on the hub loop and must not
// block.
type Bus interface {
	// Publish delivers event to handlers subscribed to its kind and to
	// handlers subscribed to every kind.
	Publish(event Event) error
	// Subscribe registers handler for one kind.
	Subscribe(kind Kind, handler Handler) Subscription
	// SubscribeAll registers handler for every kind.
	SubscribeAll(handler Handler) Subscription
	// Subscribers reports how many handlers are registered.
	Subscribers() int
}

// Kind names a board activity.
type Kind string

const (
	KindClientConnected    Kind = "client.connected"
	KindClientDisconnected Kind = "client.disconnected"
	KindBoardReplaced      Kind = "board.replaced"
	KindItemAdded          Kind = "item.added"
	KindItemPatched        Kind = "item.patched"
	KindItemMoved          Kind = "item.moved"
)

// Event describes one accepted change or session transition. Fields that do
// not apply to the kind are left empty.
type Event struct {
	Kind        Kind
	ClientID    string
	ItemID      string
	From        string
	To          string
	LastUpdated int64
	Time        time.Time
}

type Handler func(event Event) error

// Subscription is a registered handler. Cancel is safe to call more than once.
type Subscription interface {
	ID() string
	Cancel()
}
