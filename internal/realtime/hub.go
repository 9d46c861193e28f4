// Package realtime fans out change events to subscribers. Subscriptions
// are queues: publishers never touch subscriber state directly.
package realtime

import (
	"log"
	"sync"

	"github.com/google/uuid"
)

// Event types delivered to subscribers
const (
	EventMessageInserted = "message_inserted"
	EventGoalImageReady  = "goal_image_ready"
	EventTasksPopulated  = "tasks_populated"
	EventSummaryAttached = "summary_attached"
	EventGoalUpdated     = "goal_updated"
	EventGoalDeleted     = "goal_deleted"
)

type Event struct {
	Type  string      `json:"type"`
	Topic string      `json:"topic"`
	ID    string      `json:"id,omitempty"` // row id, used for de-duplication
	Data  interface{} `json:"data,omitempty"`
}

func ThreadTopic(threadID uuid.UUID) string { return "chat_messages:" + threadID.String() }

func UserTopic(userID uuid.UUID) string { return "goals:" + userID.String() }

const subscriptionBuffer = 64

type Subscription struct {
	C     <-chan Event
	topic string
	ch    chan Event
	hub   *Hub
	once  sync.Once
}

// Release unsubscribes and closes C. Safe to call more than once.
func (s *Subscription) Release() {
	s.once.Do(func() { s.hub.unsubscribe(s) })
}

// Hub manages subscriptions per topic
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*Subscription]bool
}

func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[*Subscription]bool)}
}

func (h *Hub) Subscribe(topic string) *Subscription {
	ch := make(chan Event, subscriptionBuffer)
	sub := &Subscription{C: ch, topic: topic, ch: ch, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*Subscription]bool)
	}
	h.topics[topic][sub] = true
	return sub
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.topics[sub.topic]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.topics, sub.topic)
		}
	}
	close(sub.ch)
}

// Publish queues ev for every subscriber of topic. A subscriber whose queue
// is full misses the event.
func (h *Hub) Publish(topic string, ev Event) {
	ev.Topic = topic

	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.topics[topic] {
		select {
		case sub.ch <- ev:
		default:
			log.Printf("realtime: dropping %s on %s, subscriber queue full", ev.Type, topic)
		}
	}
}

func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}
