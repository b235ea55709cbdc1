package events

import (
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
)

// EventSink receives events published during a run. Implementations must be
// safe for concurrent use; publishing is best-effort and must not block the
// run for long.
type EventSink interface {
	PublishEvent(event Event) error
}

// NullSink discards all events.
type NullSink struct{}

var _ EventSink = (*NullSink)(nil)

func NewNullSink() *NullSink { return &NullSink{} }

func (n *NullSink) PublishEvent(Event) error { return nil }

// WatermillSink publishes events as JSON to a watermill publisher topic,
// for distribution beyond the process that runs the loop.
type WatermillSink struct {
	publisher message.Publisher
	topic     string
}

var _ EventSink = (*WatermillSink)(nil)

func NewWatermillSink(publisher message.Publisher, topic string) *WatermillSink {
	return &WatermillSink{publisher: publisher, topic: topic}
}

func (w *WatermillSink) PublishEvent(event Event) error {
	b, err := json.Marshal(event)
	if err != nil {
		return err
	}
	msg := message.NewMessage(uuid.NewString(), b)
	msg.Metadata.Set("event_type", string(event.Type()))
	return w.publisher.Publish(w.topic, msg)
}
