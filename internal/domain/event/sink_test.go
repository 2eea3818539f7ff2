package event

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"coreapp/internal/core/id"
	"coreapp/pkg/logger"
)

func TestLogSinkWritesOneLinePerEvent(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(&logger.Logger{SugaredLogger: zap.New(core).Sugar()})

	events := []Event{
		New("sale.recorded", "sale", id.New(), map[string]any{"number": "SO-2026-00001"}, "acme"),
		New("sale.cancelled", "sale", id.New(), nil, "acme"),
	}
	require.NoError(t, sink.Publish(context.Background(), events))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "domain event", entries[0].Message)

	fields := entries[0].ContextMap()
	assert.Equal(t, "sale.recorded", fields["event_type"])
	assert.Equal(t, "sale", fields["aggregate_type"])
	assert.Equal(t, "acme", fields["tenant_id"])
	assert.Equal(t, events[0].ID.String(), fields["event_id"])

	assert.Equal(t, "sale.cancelled", entries[1].ContextMap()["event_type"])
}

func TestMemorySinkPreservesOrderAcrossBatches(t *testing.T) {
	sink := NewMemorySink()
	ctx := context.Background()

	first := New("sale.recorded", "sale", id.New(), nil, "acme")
	second := New("sale.recorded", "sale", id.New(), nil, "acme")
	third := New("sale.cancelled", "sale", id.New(), nil, "acme")

	require.NoError(t, sink.Publish(ctx, []Event{first, second}))
	require.NoError(t, sink.Publish(ctx, []Event{third}))

	got := sink.Events()
	require.Len(t, got, 3)
	assert.Equal(t, first.ID, got[0].ID)
	assert.Equal(t, second.ID, got[1].ID)
	assert.Equal(t, third.ID, got[2].ID)

	sink.Reset()
	assert.Empty(t, sink.Events())
}

func TestMemorySinkFailureRecordsNothing(t *testing.T) {
	sink := NewMemorySink()
	sink.FailWith = errors.New("sink down")

	err := sink.Publish(context.Background(), []Event{New("sale.recorded", "sale", id.New(), nil, "acme")})
	require.Error(t, err)
	assert.Empty(t, sink.Events())
}
