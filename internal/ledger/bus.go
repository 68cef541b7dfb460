package ledger

import "sync"

// Event names broadcast on the bus.
const (
	EventProjectsChanged    = "projects:changed"
	EventReportsChanged     = "reports:changed"
	EventReportVotesUpdated = "reports:votes_updated"
	EventVotesUpdated       = "projects:votes_updated"
	EventCommentsUpdated    = "projects:comments_updated"
	EventVisibilityUpdated  = "projects:visibility_updated"
)

// VoteChange is the detail payload for EventVotesUpdated.
type VoteChange struct {
	EntityID string `json:"entityId"`
	VoterID  string `json:"voterId"`
	Count    int    `json:"count"`
	HasVoted bool   `json:"hasVoted"`
}

// CommentChange is the detail payload for EventCommentsUpdated.
type CommentChange struct {
	EntityID string `json:"entityId"`
}

// VisibilityChange is the detail payload for EventVisibilityUpdated.
type VisibilityChange struct {
	EntityID string `json:"entityId"`
	Visible  bool   `json:"visible"`
}

type subscription struct {
	id int
	fn func(detail any)
}

// Bus fans ledger mutations out to every subscriber synchronously, in
// subscription order. There is no replay: subscribing after a publish misses
// that publish. One Bus is constructed per process and passed explicitly to
// whoever needs it.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[string][]subscription
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string][]subscription)}
}

// Subscribe registers a handler for the named event and returns a function
// that removes it. Handlers registered while a publish is in flight do not
// receive that publish.
func (b *Bus) Subscribe(event string, fn func(detail any)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs[event] = append(b.subs[event], subscription{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		handlers := b.subs[event]
		for i, sub := range handlers {
			if sub.id == id {
				b.subs[event] = append(handlers[:i:i], handlers[i+1:]...)
				return
			}
		}
	}
}

// Publish invokes every current subscriber of the named event with detail.
// Handlers run on the caller's goroutine; a handler may publish or subscribe
// without deadlocking.
func (b *Bus) Publish(event string, detail any) {
	b.mu.Lock()
	handlers := make([]subscription, len(b.subs[event]))
	copy(handlers, b.subs[event])
	b.mu.Unlock()

	for _, sub := range handlers {
		sub.fn(detail)
	}
}
