package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureBus struct {
	err         error
	routingKeys []string
	payloads    [][]byte
}

func (b *captureBus) PublishMessage(ctx context.Context, routingKey string, payload []byte) error {
	if b.err != nil {
		return b.err
	}
	b.routingKeys = append(b.routingKeys, routingKey)
	b.payloads = append(b.payloads, payload)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEmitter(bus Bus) *Emitter {
	emitter := NewEmitter(bus, Identity{
		JobID:     "j1",
		ServiceID: "file-processor-v1",
		StageID:   "vision-conversion",
	}, "service.events", discardLogger())
	emitter.now = func() time.Time {
		return time.Date(2025, 1, 15, 12, 30, 0, 0, time.UTC)
	}
	return emitter
}

func decodeEnvelope(t *testing.T, payload []byte) Envelope {
	t.Helper()
	var envelope Envelope
	require.NoError(t, json.Unmarshal(payload, &envelope))
	return envelope
}

func TestEmitter_NotifyProgress(t *testing.T) {
	bus := &captureBus{}
	emitter := testEmitter(bus)

	emitter.NotifyProgress(context.Background(), "Processing page 1 of 3...", map[string]any{"page": 1})

	require.Len(t, bus.payloads, 1)
	assert.Equal(t, []string{"service.events"}, bus.routingKeys)

	envelope := decodeEnvelope(t, bus.payloads[0])
	assert.Equal(t, EventSource, envelope.Source)
	assert.Equal(t, DetailTypeProgress, envelope.DetailType)
	assert.Equal(t, StatusInProgress, envelope.Detail.Status)
	assert.Equal(t, "Processing page 1 of 3...", envelope.Detail.Message)
	assert.Equal(t, "j1", envelope.Detail.JobID)
	assert.Equal(t, "file-processor-v1", envelope.Detail.ServiceID)
	assert.Equal(t, "vision-conversion", envelope.Detail.StageID)
	assert.Equal(t, "2025-01-15T12:30:00Z", envelope.Detail.Timestamp)

	_, err := time.Parse(time.RFC3339, envelope.Detail.Timestamp)
	assert.NoError(t, err)
}

func TestEmitter_NotifySuccess(t *testing.T) {
	bus := &captureBus{}
	emitter := testEmitter(bus)

	emitter.NotifySuccess(context.Background(), "Processing completed successfully", "jobs/j1/output.bin", map[string]any{"records": float64(5)})

	require.Len(t, bus.payloads, 1)
	envelope := decodeEnvelope(t, bus.payloads[0])
	assert.Equal(t, DetailTypeCompleted, envelope.DetailType)
	assert.Equal(t, StatusSuccess, envelope.Detail.Status)
	assert.Equal(t, "jobs/j1/output.bin", envelope.Detail.OutputKey)
	assert.Equal(t, map[string]any{"records": float64(5)}, envelope.Detail.Metadata)
	assert.Empty(t, envelope.Detail.ErrorType)
}

func TestEmitter_NotifyFailure(t *testing.T) {
	bus := &captureBus{}
	emitter := testEmitter(bus)

	emitter.NotifyFailure(context.Background(), "failed to process page 3", "TableExtractionError", nil)

	require.Len(t, bus.payloads, 1)
	envelope := decodeEnvelope(t, bus.payloads[0])
	assert.Equal(t, DetailTypeFailed, envelope.DetailType)
	assert.Equal(t, StatusError, envelope.Detail.Status)
	assert.Equal(t, "failed to process page 3", envelope.Detail.Message)
	assert.Equal(t, "TableExtractionError", envelope.Detail.ErrorType)
	assert.Empty(t, envelope.Detail.OutputKey)
}

func TestEmitter_SkipsWhenNotConfigured(t *testing.T) {
	bus := &captureBus{}

	emitter := NewEmitter(bus, Identity{JobID: "j1", ServiceID: "svc"}, "", discardLogger())
	emitter.NotifyProgress(context.Background(), "starting", nil)

	assert.Empty(t, bus.payloads)

	emitter = NewEmitter(nil, Identity{JobID: "j1", ServiceID: "svc"}, "service.events", discardLogger())
	// must not panic without a bus
	emitter.NotifyProgress(context.Background(), "starting", nil)
}

func TestEmitter_AbsorbsPublishFailures(t *testing.T) {
	bus := &captureBus{err: errors.New("broker unavailable")}
	emitter := testEmitter(bus)

	// none of these may surface the publish failure
	emitter.NotifyProgress(context.Background(), "starting", nil)
	emitter.NotifySuccess(context.Background(), "done", "jobs/j1/output.bin", nil)
	emitter.NotifyFailure(context.Background(), "boom", "RuntimeError", nil)

	assert.Empty(t, bus.payloads)
}

func TestNopNotifier_ImplementsNotifier(t *testing.T) {
	var notifier Notifier = NopNotifier{}
	notifier.NotifyProgress(context.Background(), "ignored", nil)
	notifier.NotifySuccess(context.Background(), "ignored", "", nil)
	notifier.NotifyFailure(context.Background(), "ignored", "", nil)
}
