package transport

/*
REPLAY BUFFER

Bounded ring of the classified events a session has delivered, with
monotonically increasing logical indices:

    ... [purged] ... | startIndex | event | event | ... | lastIndex |

Physical storage is a slice that grows to maxSize and then shifts left,
incrementing startIndex for every drop. After a reconnect the hosting
loop can re-fold everything past its last applied index:

    1. Remember the index returned with each delivered event.
    2. After reconnect, call After(lastApplied) and replay the tail
       through the reconcile engine — the fold is deterministic, so
       replaying is safe.
    3. An index older than startIndex means the tail was purged and the
       conversation must be refetched instead.

Bounded memory is the trade-off: a client that falls too far behind
loses the oldest events, which the dropped counter makes visible.

Replaying is the hosting loop's decision, never the session's: events
here were already delivered once, and re-folding an append event twice
duplicates content, so only a host that tracks its last applied index
can call After safely. The bundled terminal client does not replay —
it relies on the server re-sending the open message after a reconnect.
*/

import (
	"fmt"
	"sync"
	"time"

	"github.com/parleylabs/parley/internal/metrics"
	"github.com/parleylabs/parley/internal/protocol"
)

// DefaultReplayBufferSize bounds per-session replay memory
const DefaultReplayBufferSize = 1000

// BufferedEvent wraps a delivered event with its replay index
type BufferedEvent struct {
	Index     int             `json:"index"`
	Timestamp time.Time       `json:"timestamp"`
	Event     *protocol.Event `json:"event"`
}

// ReplayBuffer retains recently delivered events for re-folding after a
// reconnect.
type ReplayBuffer struct {
	conversationID string
	events         []*BufferedEvent
	maxSize        int
	startIndex     int
	dropped        int64
	mu             sync.RWMutex
}

// NewReplayBuffer creates a buffer for the given conversation
func NewReplayBuffer(conversationID string, maxSize int) *ReplayBuffer {
	if maxSize <= 0 {
		maxSize = DefaultReplayBufferSize
	}
	return &ReplayBuffer{
		conversationID: conversationID,
		events:         make([]*BufferedEvent, 0, maxSize),
		maxSize:        maxSize,
	}
}

// Append adds an event and returns its logical index
func (b *ReplayBuffer) Append(event *protocol.Event) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	index := b.startIndex + len(b.events)
	if len(b.events) >= b.maxSize {
		b.events = b.events[1:]
		b.startIndex++
		b.dropped++
		metrics.RecordReplayDrop(b.conversationID)
	}
	b.events = append(b.events, &BufferedEvent{
		Index:     index,
		Timestamp: time.Now(),
		Event:     event,
	})
	return index
}

// After returns events after the given index (exclusive). Index -1
// returns everything buffered. An index before the buffer window is an
// error: those events were purged.
func (b *ReplayBuffer) After(index int) ([]*BufferedEvent, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if index == -1 {
		result := make([]*BufferedEvent, len(b.events))
		copy(result, b.events)
		return result, nil
	}

	if index < b.startIndex-1 {
		return nil, fmt.Errorf("events before index %d purged (oldest available: %d)", index, b.startIndex)
	}

	start := index - b.startIndex + 1
	if start < 0 {
		start = 0
	}
	if start >= len(b.events) {
		return []*BufferedEvent{}, nil
	}

	result := make([]*BufferedEvent, len(b.events)-start)
	copy(result, b.events[start:])
	return result, nil
}

// LastIndex returns the newest event's index, or -1 when empty
func (b *ReplayBuffer) LastIndex() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.events) == 0 {
		return -1
	}
	return b.startIndex + len(b.events) - 1
}

// Len returns the number of buffered events
func (b *ReplayBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.events)
}

// Dropped returns how many events were purged by overflow
func (b *ReplayBuffer) Dropped() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// StartIndex returns the logical index of the oldest buffered event
func (b *ReplayBuffer) StartIndex() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.startIndex
}

// Clear empties the buffer and resets indices
func (b *ReplayBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = make([]*BufferedEvent, 0, b.maxSize)
	b.startIndex = 0
}
