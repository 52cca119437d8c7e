package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/flowkit/stage-runner/internal/runner/domain"
	"github.com/flowkit/stage-runner/shared/postgresql"
)

// ErrRunNotFound is returned when no run record exists for a job id.
var ErrRunNotFound = errors.New("run not found")

// Run is the recorded terminal outcome of one invocation.
type Run struct {
	JobID        string    `db:"job_id" json:"job_id"`
	Status       string    `db:"status" json:"status"`
	ErrorType    string    `db:"error_type" json:"error_type,omitempty"`
	ErrorMessage string    `db:"error_message" json:"error_message,omitempty"`
	OutputBucket string    `db:"output_bucket" json:"output_bucket,omitempty"`
	OutputKey    string    `db:"output_key" json:"output_key,omitempty"`
	Metadata     string    `db:"metadata" json:"metadata,omitempty"`
	DurationMS   int64     `db:"duration_ms" json:"duration_ms"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    job_id        TEXT PRIMARY KEY,
    status        TEXT NOT NULL,
    error_type    TEXT NOT NULL DEFAULT '',
    error_message TEXT NOT NULL DEFAULT '',
    output_bucket TEXT NOT NULL DEFAULT '',
    output_key    TEXT NOT NULL DEFAULT '',
    metadata      TEXT NOT NULL DEFAULT '{}',
    duration_ms   BIGINT NOT NULL DEFAULT 0,
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Store persists run records. Recording follows the same best-effort
// policy as event emission: callers log failures and move on.
type Store struct {
	client *postgresql.Client
	logger *slog.Logger
}

// NewStore creates a run history store
func NewStore(client *postgresql.Client, logger *slog.Logger) *Store {
	return &Store{client: client, logger: logger}
}

// EnsureSchema creates the runs table when it does not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if err := s.client.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure runs schema: %w", err)
	}
	return nil
}

// RecordRun upserts the terminal response for a job. The latest outcome
// wins; reprocessing the same job id overwrites the previous record.
func (s *Store) RecordRun(ctx context.Context, inv *domain.Invocation, resp *domain.Response, elapsed time.Duration) error {
	metadata := []byte("{}")
	if resp.Metadata != nil {
		encoded, err := json.Marshal(resp.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode run metadata: %w", err)
		}
		metadata = encoded
	}

	jobID := inv.JobID
	if jobID == "" {
		// A rejected envelope may carry no job id; nothing to key on.
		return nil
	}

	query := `
		INSERT INTO runs (job_id, status, error_type, error_message, output_bucket, output_key, metadata, duration_ms, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (job_id) DO UPDATE SET
			status = EXCLUDED.status,
			error_type = EXCLUDED.error_type,
			error_message = EXCLUDED.error_message,
			output_bucket = EXCLUDED.output_bucket,
			output_key = EXCLUDED.output_key,
			metadata = EXCLUDED.metadata,
			duration_ms = EXCLUDED.duration_ms,
			updated_at = now()`

	err := s.client.ExecContext(ctx, query,
		jobID,
		resp.Status,
		resp.ErrorType,
		resp.Error,
		resp.OutputBucket,
		resp.OutputKey,
		string(metadata),
		elapsed.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}

	s.logger.Debug("Recorded run",
		slog.String("job_id", jobID),
		slog.String("status", resp.Status),
	)

	return nil
}

// GetRun reads the recorded outcome for a job id.
func (s *Store) GetRun(ctx context.Context, jobID string) (*Run, error) {
	var run Run
	query := `SELECT job_id, status, error_type, error_message, output_bucket, output_key, metadata, duration_ms, updated_at
		FROM runs WHERE job_id = $1`

	if err := s.client.GetContext(ctx, &run, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, jobID)
		}
		return nil, err
	}

	return &run, nil
}
