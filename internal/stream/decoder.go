// Package stream implements the chunked-HTTP side of the transport: a
// decoder that demultiplexes a chunk sequence into visible text and
// embedded tagged events, and a client that drives it from a live
// response body.
package stream

/*
CHUNK DEMULTIPLEXING

The chunked channel interleaves plain response text with embedded events
delimited by a fixed tag pair:

    A quick answer <parley-event>{"type":"system_intermediate_message",...}</parley-event> more text

Chunk boundaries carry no meaning: a tag pair, or the markers
themselves, may straddle two chunks. The decoder therefore keeps a
carry-over buffer between Feed calls:

 1. Prepend the carry-over to the incoming chunk.
 2. If the last start marker appears after the last end marker, an
    unterminated tag is open at the end of this chunk: split there,
    stash the trailing portion as the new carry-over, and process only
    what precedes it.
 3. A bare prefix of the start marker at the tail is likewise stashed,
    so a marker split across chunks is never mistaken for text.
 4. Within the processed portion, every complete tag pair is cut out;
    inner payloads that classify as intermediate events are yielded,
    anything else is dropped and decoding continues.

A decode failure on one segment never aborts the chunk: the segment is
stripped from the visible text and counted, nothing more.
*/

import (
	"strings"

	"github.com/parleylabs/parley/internal/metrics"
	"github.com/parleylabs/parley/internal/protocol"
)

// Tag markers delimiting embedded events in the chunked channel
const (
	StartTag = "<parley-event>"
	EndTag   = "</parley-event>"
)

// Decoder reconstructs embedded tagged events from a chunk sequence.
// Not safe for concurrent use; one Decoder per stream.
type Decoder struct {
	carry string
}

// NewDecoder creates a decoder with an empty carry-over buffer
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed processes one chunk and returns the visible text portion plus any
// complete embedded intermediate events recovered from it.
func (d *Decoder) Feed(chunk string) (string, []*protocol.Event) {
	data := d.carry + chunk
	d.carry = ""

	lastStart := strings.LastIndex(data, StartTag)
	lastEnd := strings.LastIndex(data, EndTag)
	if lastStart > lastEnd {
		// Unterminated tag open at the end of this chunk
		d.carry = data[lastStart:]
		data = data[:lastStart]
	} else if partial := partialMarkerSuffix(data); partial > 0 {
		d.carry = data[len(data)-partial:]
		data = data[:len(data)-partial]
	}

	var text strings.Builder
	var events []*protocol.Event

	for {
		start := strings.Index(data, StartTag)
		if start == -1 {
			text.WriteString(data)
			break
		}
		end := strings.Index(data[start:], EndTag)
		if end == -1 {
			// No closing marker in the processed portion; the split
			// step above guarantees this cannot be an open tag, so
			// treat the remainder as text.
			text.WriteString(data)
			break
		}
		end += start

		text.WriteString(data[:start])
		inner := data[start+len(StartTag) : end]
		if event := decodeSegment(inner); event != nil {
			events = append(events, event)
		}
		data = data[end+len(EndTag):]
	}

	return text.String(), events
}

// Flush ends the stream and returns any trailing text still carried
// over. An unterminated tagged segment is discarded: a partial segment
// is never committed.
func (d *Decoder) Flush() string {
	carry := d.carry
	d.carry = ""
	if strings.HasPrefix(carry, StartTag) {
		return ""
	}
	return carry
}

// decodeSegment parses one marker-delimited payload. Only segments whose
// own type field names an intermediate event are honored; everything
// else, including unparsable payloads, is dropped.
func decodeSegment(inner string) *protocol.Event {
	event, err := protocol.Classify([]byte(inner))
	if err != nil || event.Kind != protocol.KindIntermediate {
		metrics.RecordDecodeDrop()
		return nil
	}
	return event
}

// partialMarkerSuffix returns the length of the longest data suffix that
// is a proper prefix of the start marker, 0 when there is none.
func partialMarkerSuffix(data string) int {
	max := len(StartTag) - 1
	if max > len(data) {
		max = len(data)
	}
	for n := max; n > 0; n-- {
		if strings.HasSuffix(data, StartTag[:n]) {
			return n
		}
	}
	return 0
}
