package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Status classifies a lifecycle event.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
)

// Event envelope constants consumed by downstream routers.
const (
	EventSource = "workflow.service"

	DetailTypeProgress  = "service.progress"
	DetailTypeCompleted = "service.completed"
	DetailTypeFailed    = "service.failed"
)

// Bus publishes a single structured payload to an external message bus.
// The emitter is the only caller and fully absorbs publish failures.
type Bus interface {
	PublishMessage(ctx context.Context, routingKey string, payload []byte) error
}

// Notifier is the best-effort lifecycle notification capability handed
// to transforms. No operation returns a failure signal to the caller.
type Notifier interface {
	NotifyProgress(ctx context.Context, message string, metadata map[string]any)
	NotifySuccess(ctx context.Context, message, outputKey string, metadata map[string]any)
	NotifyFailure(ctx context.Context, message, errorType string, metadata map[string]any)
}

// Event is one fire-and-forget lifecycle notification, distinct from
// the job response.
type Event struct {
	JobID     string         `json:"job_id"`
	ServiceID string         `json:"service_id"`
	StageID   string         `json:"stage_id,omitempty"`
	Status    Status         `json:"status"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp string         `json:"timestamp"`
	OutputKey string         `json:"output_key,omitempty"`
	ErrorType string         `json:"error_type,omitempty"`
}

// Envelope wraps an event for bus routing.
type Envelope struct {
	Source     string `json:"source"`
	DetailType string `json:"detail_type"`
	Detail     Event  `json:"detail"`
}

// Identity holds the fixed fields attached to every event an emitter
// produces.
type Identity struct {
	JobID     string
	ServiceID string
	StageID   string
}

// Emitter is a stateless formatter plus best-effort publisher keyed by
// the identity supplied at construction. Emission failures degrade to
// log lines and never affect the caller's control flow.
type Emitter struct {
	identity   Identity
	routingKey string
	bus        Bus
	logger     *slog.Logger
	now        func() time.Time
}

// NewEmitter creates an emitter scoped to one job, service, and stage.
func NewEmitter(bus Bus, identity Identity, routingKey string, logger *slog.Logger) *Emitter {
	return &Emitter{
		identity:   identity,
		routingKey: routingKey,
		bus:        bus,
		logger:     logger,
		now:        time.Now,
	}
}

// NotifyProgress emits an in-progress event.
func (e *Emitter) NotifyProgress(ctx context.Context, message string, metadata map[string]any) {
	e.emit(ctx, DetailTypeProgress, Event{
		Status:   StatusInProgress,
		Message:  message,
		Metadata: metadata,
	})
}

// NotifySuccess emits a terminal success event, optionally carrying the
// final output key.
func (e *Emitter) NotifySuccess(ctx context.Context, message, outputKey string, metadata map[string]any) {
	e.emit(ctx, DetailTypeCompleted, Event{
		Status:    StatusSuccess,
		Message:   message,
		OutputKey: outputKey,
		Metadata:  metadata,
	})
}

// NotifyFailure emits a terminal error event with an optional taxonomy tag.
func (e *Emitter) NotifyFailure(ctx context.Context, message, errorType string, metadata map[string]any) {
	e.emit(ctx, DetailTypeFailed, Event{
		Status:    StatusError,
		Message:   message,
		ErrorType: errorType,
		Metadata:  metadata,
	})
}

func (e *Emitter) emit(ctx context.Context, detailType string, event Event) {
	if e.bus == nil || e.routingKey == "" {
		e.logger.Debug("Event bus not configured, skipping event",
			slog.String("detail_type", detailType),
		)
		return
	}

	event.JobID = e.identity.JobID
	event.ServiceID = e.identity.ServiceID
	event.StageID = e.identity.StageID
	event.Timestamp = e.now().UTC().Format(time.RFC3339)

	payload, err := json.Marshal(Envelope{
		Source:     EventSource,
		DetailType: detailType,
		Detail:     event,
	})
	if err != nil {
		e.logger.Warn("Failed to encode lifecycle event",
			slog.String("detail_type", detailType),
			slog.Any("error", err),
		)
		return
	}

	if err := e.bus.PublishMessage(ctx, e.routingKey, payload); err != nil {
		e.logger.Warn("Failed to emit lifecycle event",
			slog.String("detail_type", detailType),
			slog.String("job_id", e.identity.JobID),
			slog.Any("error", err),
		)
		return
	}

	e.logger.Debug("Emitted lifecycle event",
		slog.String("detail_type", detailType),
		slog.String("message", event.Message),
	)
}

// NopNotifier discards every notification. Substitution point for tests
// and for transforms exercised outside a job.
type NopNotifier struct{}

func (NopNotifier) NotifyProgress(context.Context, string, map[string]any) {}

func (NopNotifier) NotifySuccess(context.Context, string, string, map[string]any) {}

func (NopNotifier) NotifyFailure(context.Context, string, string, map[string]any) {}
