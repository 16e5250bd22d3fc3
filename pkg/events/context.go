package events

import (
	"context"

	"github.com/rs/zerolog/log"
)

type sinksKey struct{}

// WithEventSinks returns a context carrying the given sinks in addition to
// any already attached. Code deep in the turn loop (the merger, the tool
// coordinator) publishes progress through the context, so intermediate
// layers never thread sink lists explicitly.
func WithEventSinks(ctx context.Context, sinks ...EventSink) context.Context {
	if len(sinks) == 0 {
		return ctx
	}
	combined := append(append([]EventSink{}, GetEventSinks(ctx)...), sinks...)
	return context.WithValue(ctx, sinksKey{}, combined)
}

// GetEventSinks returns the sinks attached to the context, outermost first.
func GetEventSinks(ctx context.Context) []EventSink {
	sinks, _ := ctx.Value(sinksKey{}).([]EventSink)
	return sinks
}

// PublishEventToContext delivers the event to every sink on the context.
// Delivery is best effort: a failing sink is logged and skipped, it never
// interrupts the stream that produced the event.
func PublishEventToContext(ctx context.Context, event Event) {
	for _, sink := range GetEventSinks(ctx) {
		if err := sink.PublishEvent(event); err != nil {
			log.Warn().Err(err).
				Str("event_type", string(event.Type())).
				Str("conversation_id", event.Metadata().ConversationID).
				Msg("event sink rejected event")
		}
	}
}
