package stream

import (
	"testing"

	"github.com/parleylabs/parley/internal/protocol"
)

const stepPayload = `{"type":"system_intermediate_message","id":"s1","content":{"name":"search"}}`

func TestDecoder_PlainText(t *testing.T) {
	d := NewDecoder()
	text, events := d.Feed("just plain text")
	if text != "just plain text" {
		t.Errorf("text = %q", text)
	}
	if len(events) != 0 {
		t.Errorf("events = %d, want 0", len(events))
	}
}

func TestDecoder_CompleteTagInOneChunk(t *testing.T) {
	d := NewDecoder()
	text, events := d.Feed("before " + StartTag + stepPayload + EndTag + " after")

	if text != "before  after" {
		t.Errorf("text = %q, want %q", text, "before  after")
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].Kind != protocol.KindIntermediate || events[0].ID != "s1" {
		t.Errorf("event = %+v", events[0])
	}
}

func TestDecoder_TagSplitAcrossChunks(t *testing.T) {
	d := NewDecoder()

	// The payload, and the end marker itself, straddle the chunk boundary.
	text1, events1 := d.Feed("A" + StartTag + `{"type":"system_inter`)
	if text1 != "A" {
		t.Errorf("first text = %q, want %q", text1, "A")
	}
	if len(events1) != 0 {
		t.Errorf("first events = %d, want 0", len(events1))
	}

	text2, events2 := d.Feed(`mediate_message","id":"s1"}` + EndTag + "B")
	if text2 != "B" {
		t.Errorf("second text = %q, want %q", text2, "B")
	}
	if len(events2) != 1 {
		t.Fatalf("second events = %d, want 1", len(events2))
	}
	if events2[0].ID != "s1" {
		t.Errorf("event ID = %q, want %q", events2[0].ID, "s1")
	}
}

func TestDecoder_EndMarkerSplitAcrossChunks(t *testing.T) {
	d := NewDecoder()

	// End marker split as "<" + "/parley-event>"; the segment's type is
	// not an intermediate event, so it strips without yielding anything.
	text1, events1 := d.Feed("A" + StartTag + `{"type":"x"}` + "<")
	if text1 != "A" {
		t.Errorf("first text = %q, want %q", text1, "A")
	}
	if len(events1) != 0 {
		t.Errorf("first events = %d, want 0", len(events1))
	}

	text2, events2 := d.Feed("/parley-event>B")
	if text2 != "B" {
		t.Errorf("second text = %q, want %q", text2, "B")
	}
	if len(events2) != 0 {
		t.Errorf("second events = %d, want 0", len(events2))
	}
}

func TestDecoder_MarkerSplitAcrossChunks(t *testing.T) {
	d := NewDecoder()

	// A bare prefix of the start marker at the chunk tail must not leak
	// into the visible text.
	text1, _ := d.Feed("hello <parley-ev")
	if text1 != "hello " {
		t.Errorf("first text = %q, want %q", text1, "hello ")
	}

	text2, events := d.Feed("ent>" + stepPayload + EndTag + "!")
	if text2 != "!" {
		t.Errorf("second text = %q, want %q", text2, "!")
	}
	if len(events) != 1 {
		t.Errorf("events = %d, want 1", len(events))
	}
}

func TestDecoder_MultipleTagsPerChunk(t *testing.T) {
	d := NewDecoder()
	chunk := "x" + StartTag + stepPayload + EndTag + "y" + StartTag + stepPayload + EndTag + "z"
	text, events := d.Feed(chunk)

	if text != "xyz" {
		t.Errorf("text = %q, want %q", text, "xyz")
	}
	if len(events) != 2 {
		t.Errorf("events = %d, want 2", len(events))
	}
}

func TestDecoder_NonIntermediateSegmentDropped(t *testing.T) {
	d := NewDecoder()
	response := `{"type":"system_response_message","status":"in_progress"}`
	text, events := d.Feed("a" + StartTag + response + EndTag + "b")

	if text != "ab" {
		t.Errorf("text = %q, want %q", text, "ab")
	}
	if len(events) != 0 {
		t.Errorf("events = %d, want 0 (only intermediate segments are honored)", len(events))
	}
}

func TestDecoder_UnparsableSegmentDropped(t *testing.T) {
	d := NewDecoder()
	text, events := d.Feed("a" + StartTag + "{{{not json" + EndTag + "b" + StartTag + stepPayload + EndTag)

	if text != "ab" {
		t.Errorf("text = %q, want %q", text, "ab")
	}
	if len(events) != 1 {
		t.Errorf("events = %d, want 1 (decoding continues past a bad segment)", len(events))
	}
}

func TestDecoder_Flush(t *testing.T) {
	t.Run("trailing text", func(t *testing.T) {
		d := NewDecoder()
		d.Feed("tail <parley-ev")
		// The carried suffix is the partial marker only.
		if got := d.Flush(); got != "<parley-ev" {
			t.Errorf("Flush() = %q, want %q", got, "<parley-ev")
		}
	})

	t.Run("unterminated tag discarded", func(t *testing.T) {
		d := NewDecoder()
		text, _ := d.Feed("A" + StartTag + `{"type":"x"`)
		if text != "A" {
			t.Errorf("text = %q, want %q", text, "A")
		}
		if got := d.Flush(); got != "" {
			t.Errorf("Flush() = %q, want empty (partial segment never commits)", got)
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		d := NewDecoder()
		d.Feed("x <parley")
		d.Flush()
		if got := d.Flush(); got != "" {
			t.Errorf("second Flush() = %q, want empty", got)
		}
	})
}

func TestDecoder_EndMarkerAloneIsText(t *testing.T) {
	d := NewDecoder()
	text, events := d.Feed("stray " + EndTag + " marker")
	if text != "stray "+EndTag+" marker" {
		t.Errorf("text = %q", text)
	}
	if len(events) != 0 {
		t.Errorf("events = %d, want 0", len(events))
	}
}
