package chat

import (
	"context"
	"log"

	"casechat/internal/domain"
)

// Window is the result of a bounded log read. Unavailable distinguishes
// "store unreachable, try later" from "room is empty"; callers get empty
// results instead of errors either way.
type Window struct {
	Messages    []*domain.Message
	HasMore     bool
	TotalCount  int
	Unavailable bool
}

// LogClient reads ordered windows of a room's message log and wires push
// subscriptions. All degraded-store handling lives here so callers never see
// transient store failures.
type LogClient struct {
	store domain.MessageStore
}

func NewLogClient(store domain.MessageStore) *LogClient {
	return &LogClient{store: store}
}

// LoadInitial fetches the most recent windowSize entries, timestamp
// ascending. HasMore is determined by probing for one entry strictly older
// than the oldest fetched timestamp, not by a full count.
func (c *LogClient) LoadInitial(ctx context.Context, roomID string, windowSize int) *Window {
	if !c.store.Available(ctx) {
		return &Window{Messages: []*domain.Message{}, Unavailable: true}
	}

	msgs, err := c.store.ListLatest(ctx, roomID, windowSize)
	if err != nil {
		log.Printf("chat: load initial window for room %s: %v", roomID, err)
		return &Window{Messages: []*domain.Message{}, Unavailable: true}
	}

	w := &Window{Messages: msgs}
	if len(msgs) > 0 {
		older, err := c.store.ListBefore(ctx, roomID, msgs[0].Timestamp, 1)
		if err != nil {
			log.Printf("chat: probe older messages for room %s: %v", roomID, err)
		}
		w.HasMore = len(older) > 0
	}
	if total, err := c.store.Count(ctx, roomID); err == nil {
		w.TotalCount = total
	} else {
		log.Printf("chat: count messages for room %s: %v", roomID, err)
		w.TotalCount = len(msgs)
	}
	return w
}

// LoadOlder fetches up to limit entries with timestamp < before, ascending.
// HasMore is conservative: true whenever exactly limit entries came back,
// which may cost one extra fetch later but never under-reports.
func (c *LogClient) LoadOlder(ctx context.Context, roomID string, before int64, limit int) *Window {
	if !c.store.Available(ctx) {
		return &Window{Messages: []*domain.Message{}, Unavailable: true}
	}

	msgs, err := c.store.ListBefore(ctx, roomID, before, limit)
	if err != nil {
		log.Printf("chat: load older messages for room %s: %v", roomID, err)
		return &Window{Messages: []*domain.Message{}, Unavailable: true}
	}
	return &Window{
		Messages: msgs,
		HasMore:  limit > 0 && len(msgs) == limit,
	}
}

// Subscribe registers fn for every newly appended entry of the room, in
// append order. When since is positive, entries older than it are dropped,
// which lets callers bridge the initial-load/subscribe gap and deduplicate
// the overlap through the merge engine.
func (c *LogClient) Subscribe(ctx context.Context, roomID string, fn func(*domain.Message), since int64) (func(), error) {
	return c.store.Subscribe(ctx, roomID, func(m *domain.Message) {
		if since > 0 && m.Timestamp < since {
			return
		}
		fn(m)
	})
}
