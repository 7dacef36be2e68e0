package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingBuffer_DropsOldestWhenFull(t *testing.T) {
	buf := newRingBuffer(3)
	for i := 0; i < 5; i++ {
		buf.enqueue(Event{CaseID: string(rune('a' + i))})
	}

	assert.Equal(t, 3, buf.len())
	assert.Equal(t, int64(2), buf.droppedCount())

	batch := buf.dequeueBatch(10)
	require.Len(t, batch, 3)
	assert.Equal(t, "c", batch[0].CaseID)
	assert.Equal(t, "e", batch[2].CaseID)
}

func TestRingBuffer_DequeueBatchRespectsLimit(t *testing.T) {
	buf := newRingBuffer(10)
	for i := 0; i < 6; i++ {
		buf.enqueue(Event{})
	}

	assert.Len(t, buf.dequeueBatch(4), 4)
	assert.Len(t, buf.dequeueBatch(4), 2)
	assert.Nil(t, buf.dequeueBatch(4))
}

func TestPublisher_EmitStampsTimestamp(t *testing.T) {
	sink := NewMemorySink()
	publisher := NewPublisher(sink, nil)

	publisher.Emit(context.Background(), Event{Type: EventInvitationCreated})
	publisher.flush(context.Background())

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventInvitationCreated, events[0].Type)
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestPublisher_RunFlushesOnShutdown(t *testing.T) {
	sink := NewMemorySink()
	publisher := NewPublisher(sink, nil)
	publisher.flushInterval = time.Hour // only the shutdown flush should fire

	for i := 0; i < 5; i++ {
		publisher.Emit(context.Background(), Event{Type: EventVerificationFailed})
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- publisher.Run(ctx) }()
	cancel()

	require.ErrorIs(t, <-done, context.Canceled)
	assert.Len(t, sink.Events(), 5)
}
