package server

import (
	"context"
	"sync"
	"time"
)

const (
	// RealtimeEventClaimChanged fires on the owner's stream after a claim or undo.
	RealtimeEventClaimChanged = "claim-change"
	// RealtimeEventFeedItem is broadcast to every stream when a claim lands in the feed.
	RealtimeEventFeedItem = "feed-item"
	// RealtimeEventNotification fires on the recipient's stream for social events.
	RealtimeEventNotification = "notification"
	realtimeEventHeartbeat    = "heartbeat"
)

// RealtimeMessage is one change-feed event. An empty UserID broadcasts to
// every connected stream.
type RealtimeMessage struct {
	UserID     string    `json:"-"`
	EventType  string    `json:"event_type"`
	ActorID    string    `json:"actor_id,omitempty"`
	ActivityID string    `json:"activity_id,omitempty"`
	ClaimID    string    `json:"claim_id,omitempty"`
	State      string    `json:"state,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// RealtimeDispatcher fans events out to per-user subscriber channels. Each
// view holds exactly one subscription whose lifetime is scoped to the
// request context; tearing the context down unregisters the subscriber, so
// there is no duplicate delivery after a stream closes.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	userID string
	stream chan RealtimeMessage
}

// NewRealtimeDispatcher constructs an empty dispatcher.
func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a stream for the user and returns the channel plus a
// cleanup function. The subscription also ends when ctx is done.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, userID string) (<-chan RealtimeMessage, func()) {
	if userID == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		userID: userID,
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(subscriber)
	cleanup := func() {
		d.unregisterSubscriber(subscriber)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers the message to the target user's streams, or to every
// stream when the message carries no target. Slow consumers drop messages
// rather than block the publisher.
func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.EventType == "" {
		return
	}

	d.mu.RLock()
	var copies []*realtimeSubscriber
	if message.UserID == "" {
		for _, subscribers := range d.subscribers {
			for _, subscriber := range subscribers {
				copies = append(copies, subscriber)
			}
		}
	} else {
		subscribers := d.subscribers[message.UserID]
		copies = make([]*realtimeSubscriber, 0, len(subscribers))
		for _, subscriber := range subscribers {
			copies = append(copies, subscriber)
		}
	}
	d.mu.RUnlock()

	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[subscriber.userID]; !ok {
		d.subscribers[subscriber.userID] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[subscriber.userID][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(subscriber *realtimeSubscriber) {
	d.mu.Lock()
	subscribers := d.subscribers[subscriber.userID]
	if subscribers != nil {
		delete(subscribers, subscriber.id)
		if len(subscribers) == 0 {
			delete(d.subscribers, subscriber.userID)
		}
	}
	d.mu.Unlock()
}
