package realtime

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/arnold/goalcoach-api/internal/models"
)

// Timeline is the ordered message list of one thread. It ignores messages
// it already holds, so optimistic appends and realtime echoes reconcile.
type Timeline struct {
	mu       sync.Mutex
	seen     map[uuid.UUID]bool
	messages []models.ChatMessage
}

func NewTimeline(initial []models.ChatMessage) *Timeline {
	t := &Timeline{seen: make(map[uuid.UUID]bool)}
	for _, m := range initial {
		t.Append(m)
	}
	return t
}

// Append adds msg and reports whether it was new.
func (t *Timeline) Append(msg models.ChatMessage) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.seen[msg.ID] {
		return false
	}
	t.seen[msg.ID] = true

	i := sort.Search(len(t.messages), func(i int) bool {
		return before(msg, t.messages[i])
	})
	t.messages = append(t.messages, models.ChatMessage{})
	copy(t.messages[i+1:], t.messages[i:])
	t.messages[i] = msg
	return true
}

// before orders by creation time, then id, the same way history is loaded.
func before(a, b models.ChatMessage) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return bytes.Compare(a.ID[:], b.ID[:]) < 0
}

func (t *Timeline) Messages() []models.ChatMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.ChatMessage, len(t.messages))
	copy(out, t.messages)
	return out
}

func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}

// Consume applies message events from sub until ctx ends or the
// subscription is released. onNew runs for each message not seen before.
func (t *Timeline) Consume(ctx context.Context, sub *Subscription, onNew func(models.ChatMessage) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.C:
			if !ok {
				return nil
			}
			if ev.Type != EventMessageInserted {
				continue
			}
			msg, ok := ev.Data.(models.ChatMessage)
			if !ok {
				continue
			}
			if !t.Append(msg) {
				continue
			}
			if onNew != nil {
				if err := onNew(msg); err != nil {
					return err
				}
			}
		}
	}
}
