package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"evlvault/core/events"
	"evlvault/core/types"
	"evlvault/observability"
)

const defaultEventHistoryLimit = 2048

// EventUpdate is a committed engine event tagged with its stream position.
type EventUpdate struct {
	Sequence  uint64      `json:"sequence"`
	Cursor    string      `json:"cursor"`
	Event     types.Event `json:"event"`
	Timestamp int64       `json:"timestamp"`
}

func cloneEventUpdate(update EventUpdate) EventUpdate {
	cloned := update
	if update.Event.Attributes != nil {
		cloned.Event.Attributes = make(map[string]string, len(update.Event.Attributes))
		for k, v := range update.Event.Attributes {
			cloned.Event.Attributes[k] = v
		}
	}
	return cloned
}

// EventStream keeps a bounded history of committed events and fans them out
// to subscribers. Slow subscribers drop updates rather than block the engine.
type EventStream struct {
	mu      sync.Mutex
	limit   int
	seq     uint64
	nextID  uint64
	history []EventUpdate
	subs    map[uint64]chan EventUpdate
	nowFn   func() time.Time
}

// NewEventStream creates a stream retaining up to limit updates.
func NewEventStream(limit int) *EventStream {
	if limit <= 0 {
		limit = defaultEventHistoryLimit
	}
	return &EventStream{
		limit: limit,
		subs:  make(map[uint64]chan EventUpdate),
		nowFn: time.Now,
	}
}

var _ events.Emitter = (*EventStream)(nil)

// Emit publishes evt when it has a flat wire form.
func (s *EventStream) Emit(evt events.Event) {
	if s == nil || evt == nil {
		return
	}
	envelope, ok := evt.(events.Envelope)
	if !ok {
		return
	}
	flat := envelope.Event()
	if flat == nil {
		return
	}
	observability.Events().RecordEvent(flat.Type)
	s.publish(*flat)
}

func (s *EventStream) publish(evt types.Event) {
	s.mu.Lock()
	s.seq++
	update := EventUpdate{
		Sequence:  s.seq,
		Cursor:    strconv.FormatUint(s.seq, 10),
		Event:     evt,
		Timestamp: s.nowFn().Unix(),
	}
	s.history = append(s.history, cloneEventUpdate(update))
	if len(s.history) > s.limit {
		excess := len(s.history) - s.limit
		trimmed := make([]EventUpdate, s.limit)
		copy(trimmed, s.history[excess:])
		s.history = trimmed
	}
	subscribers := make([]chan EventUpdate, 0, len(s.subs))
	for _, ch := range s.subs {
		subscribers = append(subscribers, ch)
	}
	// Sends happen under the lock so a concurrent cancel cannot close a
	// channel mid-send; every send is non-blocking.
	for _, ch := range subscribers {
		select {
		case ch <- cloneEventUpdate(update):
		default:
		}
	}
	s.mu.Unlock()
}

// Subscribe registers a subscriber for updates after cursor. It returns the
// live channel, a cancel function and the retained backlog. Cancelling ctx
// also unsubscribes.
func (s *EventStream) Subscribe(ctx context.Context, cursor string) (<-chan EventUpdate, func(), []EventUpdate, error) {
	if s == nil {
		return nil, nil, nil, fmt.Errorf("event stream not initialised")
	}
	var since uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		parsed, err := strconv.ParseUint(trimmed, 10, 64)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("invalid cursor %q", cursor)
		}
		since = parsed
	}
	updates := make(chan EventUpdate, 32)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = updates
	backlog := make([]EventUpdate, 0, len(s.history))
	for _, entry := range s.history {
		if entry.Sequence > since {
			backlog = append(backlog, cloneEventUpdate(entry))
		}
	}
	s.mu.Unlock()
	observability.Events().SubscriberDelta(1)

	var once sync.Once
	done := make(chan struct{})
	cancel := func() {
		once.Do(func() {
			close(done)
			s.mu.Lock()
			if sub, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(sub)
			}
			s.mu.Unlock()
			observability.Events().SubscriberDelta(-1)
		})
	}

	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				cancel()
			case <-done:
			}
		}()
	}
	return updates, cancel, backlog, nil
}

// Latest returns the sequence of the most recent update.
func (s *EventStream) Latest() uint64 {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}
