package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	events []Event
}

func (c *captureSink) PublishEvent(ev Event) error {
	c.events = append(c.events, ev)
	return nil
}

type failingSink struct{}

func (f *failingSink) PublishEvent(Event) error {
	return errors.New("sink unavailable")
}

func TestContextSinksAccumulate(t *testing.T) {
	first := &captureSink{}
	second := &captureSink{}

	ctx := WithEventSinks(context.Background(), first)
	ctx = WithEventSinks(ctx, second)

	PublishEventToContext(ctx, NewStartEvent(EventMetadata{ID: uuid.New()}))

	assert.Len(t, first.events, 1)
	assert.Len(t, second.events, 1)
}

func TestPublishSurvivesFailingSink(t *testing.T) {
	capture := &captureSink{}
	ctx := WithEventSinks(context.Background(), &failingSink{}, capture)

	PublishEventToContext(ctx, NewFinalEvent(EventMetadata{ID: uuid.New()}, "done"))
	assert.Len(t, capture.events, 1)
}

func TestPublishWithoutSinksIsNoop(t *testing.T) {
	PublishEventToContext(context.Background(), NewStartEvent(EventMetadata{ID: uuid.New()}))
	assert.Nil(t, GetEventSinks(context.Background()))
}

func TestWatermillSinkRoundTrip(t *testing.T) {
	pubsub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer func() { _ = pubsub.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msgs, err := pubsub.Subscribe(ctx, "events")
	require.NoError(t, err)

	sink := NewWatermillSink(pubsub, "events")
	meta := EventMetadata{ID: uuid.New(), RunID: "run-1", Iteration: 2}
	require.NoError(t, sink.PublishEvent(NewPartialCompletionEvent(meta, "hel", "hel")))

	select {
	case msg := <-msgs:
		msg.Ack()
		assert.Equal(t, string(EventTypePartialCompletion), msg.Metadata.Get("event_type"))
		var decoded EventPartialCompletion
		require.NoError(t, json.Unmarshal(msg.Payload, &decoded))
		assert.Equal(t, "hel", decoded.Delta)
		assert.Equal(t, "run-1", decoded.Metadata().RunID)
	case <-ctx.Done():
		t.Fatal("no message delivered")
	}
}

func TestPublisherManagerSequenceNumbers(t *testing.T) {
	pubsub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer func() { _ = pubsub.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msgs, err := pubsub.Subscribe(ctx, "bus")
	require.NoError(t, err)

	manager := NewPublisherManager()
	manager.SubscribePublisher("bus", pubsub)

	require.NoError(t, manager.Publish(NewStartEvent(EventMetadata{ID: uuid.New()})))
	require.NoError(t, manager.Publish(NewFinalEvent(EventMetadata{ID: uuid.New()}, "bye")))

	// gochannel delivery order is not guaranteed; the sequence numbers
	// themselves carry the ordering.
	var got []string
	for len(got) < 2 {
		select {
		case msg := <-msgs:
			msg.Ack()
			got = append(got, msg.Metadata.Get("sequence_number"))
		case <-ctx.Done():
			t.Fatal("missing bus message")
		}
	}
	assert.ElementsMatch(t, []string{"0", "1"}, got)
}

func TestEventConstructorsSetTypes(t *testing.T) {
	meta := EventMetadata{ID: uuid.New()}
	assert.Equal(t, EventTypeStart, NewStartEvent(meta).Type())
	assert.Equal(t, EventTypeToolCall, NewToolCallEvent(meta, ToolCall{ID: "c"}).Type())
	assert.Equal(t, EventTypeInterrupt, NewInterruptEvent(meta, "stop", "").Type())
	assert.Equal(t, EventTypeError, NewErrorEvent(meta, errors.New("x")).Type())
}
