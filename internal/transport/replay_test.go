package transport

import (
	"fmt"
	"testing"

	"github.com/parleylabs/parley/internal/protocol"
)

func bufEvent(id string) *protocol.Event {
	return &protocol.Event{Kind: protocol.KindResponse, ID: id}
}

func TestReplayBuffer_AppendIndices(t *testing.T) {
	buf := NewReplayBuffer("conv-1", 10)

	for i := 0; i < 3; i++ {
		if got := buf.Append(bufEvent(fmt.Sprintf("e%d", i))); got != i {
			t.Errorf("Append() index = %d, want %d", got, i)
		}
	}
	if buf.Len() != 3 {
		t.Errorf("Len() = %d, want 3", buf.Len())
	}
	if buf.LastIndex() != 2 {
		t.Errorf("LastIndex() = %d, want 2", buf.LastIndex())
	}
}

func TestReplayBuffer_Overflow(t *testing.T) {
	buf := NewReplayBuffer("conv-1", 3)

	for i := 0; i < 5; i++ {
		buf.Append(bufEvent(fmt.Sprintf("e%d", i)))
	}

	if buf.Len() != 3 {
		t.Errorf("Len() = %d, want 3", buf.Len())
	}
	if buf.StartIndex() != 2 {
		t.Errorf("StartIndex() = %d, want 2", buf.StartIndex())
	}
	if buf.Dropped() != 2 {
		t.Errorf("Dropped() = %d, want 2", buf.Dropped())
	}
	// Logical indices survive the purge
	if buf.LastIndex() != 4 {
		t.Errorf("LastIndex() = %d, want 4", buf.LastIndex())
	}
}

func TestReplayBuffer_After(t *testing.T) {
	buf := NewReplayBuffer("conv-1", 10)
	for i := 0; i < 5; i++ {
		buf.Append(bufEvent(fmt.Sprintf("e%d", i)))
	}

	t.Run("everything", func(t *testing.T) {
		events, err := buf.After(-1)
		if err != nil {
			t.Fatalf("After(-1) error = %v", err)
		}
		if len(events) != 5 {
			t.Errorf("After(-1) = %d events, want 5", len(events))
		}
	})

	t.Run("tail", func(t *testing.T) {
		events, err := buf.After(2)
		if err != nil {
			t.Fatalf("After(2) error = %v", err)
		}
		if len(events) != 2 {
			t.Fatalf("After(2) = %d events, want 2", len(events))
		}
		if events[0].Index != 3 || events[1].Index != 4 {
			t.Errorf("indices = %d,%d, want 3,4", events[0].Index, events[1].Index)
		}
	})

	t.Run("caught up", func(t *testing.T) {
		events, err := buf.After(4)
		if err != nil {
			t.Fatalf("After(4) error = %v", err)
		}
		if len(events) != 0 {
			t.Errorf("After(4) = %d events, want 0", len(events))
		}
	})
}

func TestReplayBuffer_After_Purged(t *testing.T) {
	buf := NewReplayBuffer("conv-1", 3)
	for i := 0; i < 6; i++ {
		buf.Append(bufEvent(fmt.Sprintf("e%d", i)))
	}
	// Window is now [3, 5]; an index before it means a refetch is needed
	if _, err := buf.After(1); err == nil {
		t.Error("After() must fail for an index older than the window")
	}
	if events, err := buf.After(3); err != nil || len(events) != 2 {
		t.Errorf("After(3) = %d events, err %v; want 2, nil", len(events), err)
	}
}

func TestReplayBuffer_Clear(t *testing.T) {
	buf := NewReplayBuffer("conv-1", 10)
	buf.Append(bufEvent("e0"))
	buf.Clear()

	if buf.Len() != 0 {
		t.Errorf("Len() = %d, want 0", buf.Len())
	}
	if buf.LastIndex() != -1 {
		t.Errorf("LastIndex() = %d, want -1", buf.LastIndex())
	}
	if got := buf.Append(bufEvent("e1")); got != 0 {
		t.Errorf("Append() after Clear index = %d, want 0", got)
	}
}
