package stream

import (
	"bytes"
	"context"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	events := []Event{
		{Type: EventStart, Data: map[string]any{"investigation_id": "inv-1"}},
		{Type: EventProgress, Data: map[string]any{"phase": "planning", "progress": 0.1}},
		{Type: EventIntent, Data: map[string]any{"intent": "investigate", "confidence": 0.9}},
		{Type: EventAgentSelected, Data: map[string]any{"agent": "detective"}},
		{Type: EventText, Data: map[string]any{"content": "Foram analisados 120 registros", "index": 0.0, "final": true}},
		{Type: EventDone, Data: map[string]any{"status": "completed"}},
	}

	var buf bytes.Buffer
	for _, ev := range events {
		require.NoError(t, Encode(&buf, ev))
	}

	decoded, err := Decode(&buf)
	require.NoError(t, err)
	require.Len(t, decoded, len(events))
	for i := range events {
		assert.Equal(t, events[i].Type, decoded[i].Type)
		assert.Equal(t, events[i].Data, decoded[i].Data)
	}
}

func TestValidateSequence(t *testing.T) {
	mk := func(types ...EventType) []Event {
		out := make([]Event, len(types))
		for i, tp := range types {
			out[i] = Event{Type: tp, Data: map[string]any{}}
		}
		return out
	}

	tests := []struct {
		name   string
		events []Event
		ok     bool
	}{
		{"full happy path", mk(EventStart, EventProgress, EventIntent, EventAgentSelected, EventText, EventProgress, EventDone), true},
		{"minimal", mk(EventStart, EventDone), true},
		{"error terminal", mk(EventStart, EventError), true},
		{"no intent pair", mk(EventStart, EventProgress, EventText, EventDone), true},
		{"warning in body", mk(EventStart, EventIntent, EventAgentSelected, EventWarning, EventText, EventDone), true},
		{"missing start", mk(EventProgress, EventDone), false},
		{"missing terminal", mk(EventStart, EventText), false},
		{"intent without agent_selected", mk(EventStart, EventIntent, EventText, EventDone), false},
		{"intent after body", mk(EventStart, EventText, EventIntent, EventAgentSelected, EventDone), false},
		{"terminal mid-stream", mk(EventStart, EventDone, EventText, EventDone), false},
		{"empty", nil, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateSequence(tc.events)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestChunkTextWordGrouping(t *testing.T) {
	text := "um dois três quatro cinco seis sete"
	events := ChunkText(text, 5)
	require.Len(t, events, 2)
	assert.Equal(t, "um dois três quatro cinco", events[0].Data["content"])
	assert.Equal(t, false, events[0].Data["final"])
	assert.Equal(t, "seis sete", events[1].Data["content"])
	assert.Equal(t, true, events[1].Data["final"])
}

func TestChunkTextEmpty(t *testing.T) {
	assert.Empty(t, ChunkText("   ", 5))
}

func TestChunkAudioBase64AndFinalFlag(t *testing.T) {
	audio := bytes.Repeat([]byte{0xAB}, 4096+100)
	events := ChunkAudio(audio, 4096)
	require.Len(t, events, 2)

	first, err := base64.StdEncoding.DecodeString(events[0].Data["content"].(string))
	require.NoError(t, err)
	assert.Len(t, first, 4096)
	assert.Equal(t, false, events[0].Data["final"])

	last, err := base64.StdEncoding.DecodeString(events[1].Data["content"].(string))
	require.NoError(t, err)
	assert.Len(t, last, 100)
	assert.Equal(t, true, events[1].Data["final"])
}

func TestEmitterDeliversInOrder(t *testing.T) {
	e := NewEmitter(EmitterConfig{BufferSize: 8, OverflowWait: time.Second})
	ctx := context.Background()

	require.NoError(t, e.Emit(ctx, Event{Type: EventStart}))
	require.NoError(t, e.Emit(ctx, Event{Type: EventText, Data: map[string]any{"content": "olá"}}))
	require.NoError(t, e.Emit(ctx, Event{Type: EventDone}))
	e.Close()

	var got []EventType
	for ev := range e.Events() {
		got = append(got, ev.Type)
	}
	assert.Equal(t, []EventType{EventStart, EventText, EventDone}, got)
	assert.Nil(t, e.Terminal())
}

func TestEmitterSlowConsumerTerminates(t *testing.T) {
	e := NewEmitter(EmitterConfig{BufferSize: 1, OverflowWait: 20 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, e.Emit(ctx, Event{Type: EventStart}))

	// Nobody drains; the buffer is full and the wait elapses.
	err := e.Emit(ctx, Event{Type: EventText})
	assert.ErrorIs(t, err, ErrSlowConsumer)

	term := e.Terminal()
	require.NotNil(t, term)
	assert.Equal(t, EventError, term.Type)
	assert.Equal(t, "slow_consumer", term.Data["reason"])

	// Subsequent emits are rejected.
	assert.ErrorIs(t, e.Emit(ctx, Event{Type: EventDone}), ErrStreamClosed)
}

func TestEmitterContextCancellation(t *testing.T) {
	e := NewEmitter(EmitterConfig{BufferSize: 1, OverflowWait: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, e.Emit(ctx, Event{Type: EventStart}))
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := e.Emit(ctx, Event{Type: EventText})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDecodeRejectsGarbageData(t *testing.T) {
	_, err := Decode(strings.NewReader("event:text\ndata:not-json\n\n"))
	assert.Error(t, err)
}
