package streaming

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/loom/pkg/api"
)

// Decoder turns a raw SSE byte stream into typed streaming events. It is a
// synchronous pull loop over the reader; decoded events go out on a buffered
// channel so the consumer never blocks the producer for short bursts. Idle
// gaps between events are not an error.
type Decoder struct {
	bufferSize int
}

type DecoderOption func(*Decoder)

// WithBufferSize sets the capacity of the outgoing event channel.
func WithBufferSize(n int) DecoderOption {
	return func(d *Decoder) {
		d.bufferSize = n
	}
}

func NewDecoder(options ...DecoderOption) *Decoder {
	ret := &Decoder{
		bufferSize: 64,
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

// Stream is one Decode call in flight. Consume C until it closes, then check
// Err: a non-nil error means the stream terminated on a malformed event and
// the turn is dead.
type Stream struct {
	C <-chan api.StreamingEvent

	// err is written by the producer goroutine before C closes.
	err error
}

// Err reports the protocol error that terminated the stream, if any. Only
// valid once C is closed.
func (s *Stream) Err() error {
	return s.err
}

// Decode reads SSE events from r until EOF, a malformed event, or context
// cancellation. The stream's channel is closed when decoding ends; a payload
// that fails to parse stops the stream with a ProtocolError rather than
// being skipped. The reader is closed by the decoder if it implements
// io.Closer.
func (d *Decoder) Decode(ctx context.Context, r io.Reader) *Stream {
	events := make(chan api.StreamingEvent, d.bufferSize)
	stream := &Stream{C: events}

	go func() {
		defer close(events)
		if closer, ok := r.(io.Closer); ok {
			defer func(c io.Closer) {
				_ = c.Close()
			}(closer)
		}

		reader := bufio.NewReader(r)
		var eventLines [][]byte
		eventCount := 0
		for {
			line, err := reader.ReadBytes('\n')
			if err != nil {
				if err != io.EOF {
					log.Error().Err(err).Msg("unexpected error reading streaming response")
				}
				log.Debug().Int("total_events", eventCount).Msg("streaming reader finished")
				return
			}
			if len(bytes.TrimSpace(line)) != 0 {
				// Accumulate the lines for the current event
				eventLines = append(eventLines, line)
				continue
			}

			// Empty line indicates the end of an event
			event, err := parseSSEEvent(eventLines)
			eventLines = eventLines[:0]
			if err != nil {
				log.Error().Err(err).Msg("malformed streaming event, terminating stream")
				stream.err = err
				return
			}
			if event == nil {
				continue
			}
			eventCount++
			log.Trace().Object("event", event).Int("event_number", eventCount).Msg("decoded streaming event")

			select {
			case events <- *event:
			case <-ctx.Done():
				log.Debug().Msg("context cancelled, stopping streaming decode")
				return
			}
		}
	}()

	return stream
}

// parseSSEEvent assembles one event from its "field: value" lines. Only the
// data field carries the JSON payload; the event name is repeated inside it
// as the type discriminator. A nil event with nil error means the lines
// carried no data field (comments, retry hints).
func parseSSEEvent(lines [][]byte) (*api.StreamingEvent, error) {
	eventData := ""
	for _, line := range lines {
		line = bytes.TrimSuffix(line, []byte("\n"))
		line = bytes.TrimSuffix(line, []byte("\r"))

		parts := bytes.SplitN(line, []byte(": "), 2)
		if len(parts) != 2 {
			continue
		}

		field, value := parts[0], parts[1]
		if string(field) == "data" {
			eventData += string(value) + "\n"
		}
	}

	eventData = strings.TrimSuffix(eventData, "\n")
	if eventData == "" {
		return nil, nil
	}

	var event api.StreamingEvent
	if err := json.Unmarshal([]byte(eventData), &event); err != nil {
		return nil, ProtocolErrorf("malformed streaming event payload: %s", err)
	}

	return &event, nil
}

// StreamMessage opens a streaming request on the client and returns the
// decoding stream.
func StreamMessage(ctx context.Context, client *api.Client, req *api.MessageRequest, options ...DecoderOption) (*Stream, error) {
	body, err := client.OpenMessageStream(ctx, req)
	if err != nil {
		return nil, err
	}
	return NewDecoder(options...).Decode(ctx, body), nil
}
