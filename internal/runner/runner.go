package runner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/flowkit/stage-runner/internal/events"
	"github.com/flowkit/stage-runner/internal/runner/domain"
	"github.com/flowkit/stage-runner/internal/transform"
)

// DefaultOutputKeyTemplate is the fallback destination key pattern when
// the envelope carries no output_key. The extension is a per-deployment
// convention configured via output_key_template.
const DefaultOutputKeyTemplate = "jobs/{job_id}/output.bin"

// ObjectStore moves artifact bytes between object storage and local
// scratch space. Fetch reports a missing source object by wrapping
// domain.ErrObjectNotFound.
type ObjectStore interface {
	Fetch(ctx context.Context, bucket, key, destPath string) (int64, error)
	Publish(ctx context.Context, srcPath, bucket, key string) (int64, error)
}

// Config holds runner dependencies and deployment identity.
type Config struct {
	Logger            *slog.Logger
	Store             ObjectStore
	Bus               events.Bus
	Transform         transform.Transform
	ServiceID         string
	ServiceVersion    string
	ScratchDir        string
	OutputKeyTemplate string
	EventRoutingKey   string
}

// Runner orchestrates one invocation end-to-end: validate, fetch,
// transform, publish, cleanup, report. It is stateless per invocation
// and safe for concurrent use; scratch files are job-scoped so
// concurrent invocations sharing a filesystem namespace never collide.
type Runner struct {
	logger            *slog.Logger
	store             ObjectStore
	bus               events.Bus
	transform         transform.Transform
	serviceID         string
	serviceVersion    string
	scratchDir        string
	outputKeyTemplate string
	eventRoutingKey   string
}

// New creates a runner from explicitly injected capabilities.
func New(cfg *Config) *Runner {
	scratchDir := cfg.ScratchDir
	if scratchDir == "" {
		scratchDir = os.TempDir()
	}

	outputKeyTemplate := cfg.OutputKeyTemplate
	if outputKeyTemplate == "" {
		outputKeyTemplate = DefaultOutputKeyTemplate
	}

	return &Runner{
		logger:            cfg.Logger,
		store:             cfg.Store,
		bus:               cfg.Bus,
		transform:         cfg.Transform,
		serviceID:         cfg.ServiceID,
		serviceVersion:    cfg.ServiceVersion,
		scratchDir:        scratchDir,
		outputKeyTemplate: outputKeyTemplate,
		eventRoutingKey:   cfg.EventRoutingKey,
	}
}

// Run executes one invocation and always returns a structured response;
// no failure, including a transform panic, escapes this boundary.
func (r *Runner) Run(ctx context.Context, inv *domain.Invocation) (resp *domain.Response) {
	if inv == nil {
		return domain.NewErrorResponse("missing invocation envelope", domain.ErrorTypeValidation, nil)
	}

	start := time.Now()
	var emitter *events.Emitter

	defer func() {
		if p := recover(); p != nil {
			message := fmt.Sprintf("panic during processing: %v", p)
			r.logger.Error("Invocation panicked",
				slog.String("job_id", inv.JobID),
				slog.Any("panic", p),
				slog.String("stack", string(debug.Stack())),
			)
			if emitter != nil {
				emitter.NotifyFailure(ctx, message, domain.ErrorTypeRuntime, nil)
			}
			resp = domain.NewErrorResponse(message, domain.ErrorTypeRuntime, map[string]any{
				"job_id":             inv.JobID,
				"input_key":          inv.InputKey,
				"processing_time_ms": time.Since(start).Milliseconds(),
			})
		}
	}()

	// Validation precedes emitter construction: a malformed envelope may
	// not even carry a usable job_id.
	if err := inv.Validate(); err != nil {
		r.logger.Warn("Invocation rejected",
			slog.String("job_id", inv.JobID),
			slog.Any("error", err),
		)
		var metadata map[string]any
		if inv.JobID != "" {
			metadata = map[string]any{"job_id": inv.JobID}
		}
		return domain.NewErrorResponse(err.Error(), domain.ErrorTypeValidation, metadata)
	}

	log := r.logger.With(slog.String("job_id", inv.JobID))

	// Resolve the destination key once; the same value feeds both the
	// upload and the response.
	outputKey := inv.OutputKey
	if outputKey == "" {
		outputKey = strings.ReplaceAll(r.outputKeyTemplate, "{job_id}", inv.JobID)
		log.Info("Synthesized output key", slog.String("output_key", outputKey))
	}

	emitter = events.NewEmitter(r.bus, events.Identity{
		JobID:     inv.JobID,
		ServiceID: r.serviceID,
		StageID:   inv.StageID(),
	}, r.eventRoutingKey, log)

	emitter.NotifyProgress(ctx, "Starting processing...", nil)

	log.Info("Processing job",
		slog.String("input", fmt.Sprintf("s3://%s/%s", inv.InputBucket, inv.InputKey)),
		slog.String("output", fmt.Sprintf("s3://%s/%s", inv.OutputBucket, outputKey)),
		slog.String("customer_tier", inv.Tier()),
	)

	inputPath := filepath.Join(r.scratchDir, fmt.Sprintf("input_%s_%s", inv.JobID, filepath.Base(inv.InputKey)))
	outputPath := filepath.Join(r.scratchDir, fmt.Sprintf("output_%s%s", inv.JobID, filepath.Ext(outputKey)))
	defer r.cleanup(log, inputPath, outputPath)

	emitter.NotifyProgress(ctx, "Downloading input file...", nil)

	inputSize, err := r.store.Fetch(ctx, inv.InputBucket, inv.InputKey, inputPath)
	if err != nil {
		return r.fail(ctx, log, emitter, inv, start, err)
	}

	log.Info("Downloaded input file",
		slog.Int64("size_bytes", inputSize),
	)

	emitter.NotifyProgress(ctx, "Processing file...", nil)

	processingStart := time.Now()
	result, err := r.transform.Transform(ctx, inputPath, outputPath, inv.StageConfig, emitter)
	if err != nil {
		return r.fail(ctx, log, emitter, inv, start, err)
	}

	log.Info("Transform completed",
		slog.Duration("elapsed", time.Since(processingStart)),
	)

	emitter.NotifyProgress(ctx, "Uploading output file...", nil)

	outputSize, err := r.store.Publish(ctx, outputPath, inv.OutputBucket, outputKey)
	if err != nil {
		return r.fail(ctx, log, emitter, inv, start, err)
	}

	log.Info("Uploaded output file",
		slog.Int64("size_bytes", outputSize),
	)

	r.cleanup(log, inputPath, outputPath)

	metadata := map[string]any{
		"processing_time_ms":     time.Since(start).Milliseconds(),
		"input_file_size_bytes":  inputSize,
		"output_file_size_bytes": outputSize,
		"customer_tier":          inv.Tier(),
		"service_version":        r.serviceVersion,
	}
	if result != nil {
		for key, value := range result.Metadata {
			metadata[key] = value
		}
	}
	if inv.ReferenceDate != "" {
		metadata["reference_date"] = inv.ReferenceDate
	}

	emitter.NotifySuccess(ctx, "Processing completed successfully", outputKey, metadata)

	log.Info("Job completed successfully",
		slog.String("output_key", outputKey),
		slog.Int64("processing_time_ms", time.Since(start).Milliseconds()),
	)

	return domain.NewSuccessResponse(inv.OutputBucket, outputKey, metadata)
}

// fail converts a post-validation failure into the error response and
// reports it through the emitter best-effort.
func (r *Runner) fail(ctx context.Context, log *slog.Logger, emitter *events.Emitter, inv *domain.Invocation, start time.Time, err error) *domain.Response {
	errorType := domain.Classify(err)

	log.Error("Job failed",
		slog.String("error_type", errorType),
		slog.Any("error", err),
	)

	if emitter != nil {
		emitter.NotifyFailure(ctx, err.Error(), errorType, nil)
	}

	metadata := map[string]any{"job_id": inv.JobID}
	switch errorType {
	case domain.ErrorTypeNotFound:
		metadata["input_key"] = inv.InputKey
	case domain.ErrorTypeValue:
		// job_id only; the input was readable but rejected
	default:
		metadata["input_key"] = inv.InputKey
		metadata["processing_time_ms"] = time.Since(start).Milliseconds()
	}

	return domain.NewErrorResponse(err.Error(), errorType, metadata)
}

// cleanup removes job-scoped scratch files. Failures are logged, never
// escalated; a missing file is not a failure.
func (r *Runner) cleanup(log *slog.Logger, paths ...string) {
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Warn("Failed to remove scratch file",
				slog.String("path", path),
				slog.Any("error", err),
			)
		}
	}
}
