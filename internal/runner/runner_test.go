package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowkit/stage-runner/internal/events"
	"github.com/flowkit/stage-runner/internal/runner/domain"
	"github.com/flowkit/stage-runner/internal/transform"
)

// fakeStore writes canned bytes on fetch and records publish calls.
type fakeStore struct {
	fetchErr   error
	publishErr error

	fetchCalls      int
	publishCalls    int
	publishedBucket string
	publishedKey    string
}

func (s *fakeStore) Fetch(ctx context.Context, bucket, key, destPath string) (int64, error) {
	s.fetchCalls++
	if s.fetchErr != nil {
		return 0, s.fetchErr
	}
	content := []byte("input data")
	if err := os.WriteFile(destPath, content, 0o600); err != nil {
		return 0, err
	}
	return int64(len(content)), nil
}

func (s *fakeStore) Publish(ctx context.Context, srcPath, bucket, key string) (int64, error) {
	s.publishCalls++
	if s.publishErr != nil {
		return 0, s.publishErr
	}
	info, err := os.Stat(srcPath)
	if err != nil {
		return 0, err
	}
	s.publishedBucket = bucket
	s.publishedKey = key
	return info.Size(), nil
}

// fakeBus records decoded event envelopes or fails every publish.
type fakeBus struct {
	err       error
	published []events.Envelope
}

func (b *fakeBus) PublishMessage(ctx context.Context, routingKey string, payload []byte) error {
	if b.err != nil {
		return b.err
	}
	var envelope events.Envelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return err
	}
	b.published = append(b.published, envelope)
	return nil
}

func (b *fakeBus) byDetailType(detailType string) []events.Envelope {
	var out []events.Envelope
	for _, envelope := range b.published {
		if envelope.DetailType == detailType {
			out = append(out, envelope)
		}
	}
	return out
}

// scriptedTransform writes a fixed output file or fails as directed.
type scriptedTransform struct {
	err      error
	panicMsg string
	metadata map[string]any
}

func (t *scriptedTransform) Transform(ctx context.Context, inputPath, outputPath string, config map[string]any, notifier events.Notifier) (*transform.Result, error) {
	if t.panicMsg != "" {
		panic(t.panicMsg)
	}
	if t.err != nil {
		return nil, t.err
	}
	if err := os.WriteFile(outputPath, []byte("output data!"), 0o600); err != nil {
		return nil, err
	}
	return &transform.Result{Metadata: t.metadata}, nil
}

type testEnv struct {
	runner     *Runner
	store      *fakeStore
	bus        *fakeBus
	transform  *scriptedTransform
	scratchDir string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		store:      &fakeStore{},
		bus:        &fakeBus{},
		transform:  &scriptedTransform{},
		scratchDir: t.TempDir(),
	}

	env.runner = New(&Config{
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		Store:           env.store,
		Bus:             env.bus,
		Transform:       env.transform,
		ServiceID:       "file-processor-v1",
		ServiceVersion:  "1.0.0",
		ScratchDir:      env.scratchDir,
		EventRoutingKey: "service.events",
	})

	return env
}

func wellFormedInvocation() *domain.Invocation {
	return &domain.Invocation{
		InvocationType: domain.InvocationTypeDirect,
		JobID:          "j1",
		InputBucket:    "in",
		InputKey:       "a.bin",
		OutputBucket:   "out",
		OutputKey:      "jobs/j1/out.bin",
	}
}

func TestRun_RejectsInvalidEnvelopes(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.Invocation)
	}{
		{"wrong invocation type", func(inv *domain.Invocation) { inv.InvocationType = "batch" }},
		{"missing job_id", func(inv *domain.Invocation) { inv.JobID = "" }},
		{"missing input_bucket", func(inv *domain.Invocation) { inv.InputBucket = "" }},
		{"missing input_key", func(inv *domain.Invocation) { inv.InputKey = "" }},
		{"missing output_bucket", func(inv *domain.Invocation) { inv.OutputBucket = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			inv := wellFormedInvocation()
			tt.mutate(inv)

			resp := env.runner.Run(context.Background(), inv)

			require.NotNil(t, resp)
			assert.Equal(t, domain.StatusError, resp.Status)
			assert.Equal(t, domain.ErrorTypeValidation, resp.ErrorType)
			assert.NotEmpty(t, resp.Error)

			// rejection happens before any side effect
			assert.Zero(t, env.store.fetchCalls)
			assert.Zero(t, env.store.publishCalls)
			assert.Empty(t, env.bus.published)
		})
	}
}

func TestRun_SuccessWithExplicitOutputKey(t *testing.T) {
	env := newTestEnv(t)
	env.transform.metadata = map[string]any{"records": 5}

	resp := env.runner.Run(context.Background(), wellFormedInvocation())

	require.Equal(t, domain.StatusSuccess, resp.Status)
	assert.Equal(t, "out", resp.OutputBucket)
	assert.Equal(t, "jobs/j1/out.bin", resp.OutputKey)

	// the publish step received the exact key from the envelope
	assert.Equal(t, "out", env.store.publishedBucket)
	assert.Equal(t, "jobs/j1/out.bin", env.store.publishedKey)

	require.NotNil(t, resp.Metadata)
	assert.Equal(t, 5, resp.Metadata["records"])
	assert.Equal(t, "standard", resp.Metadata["customer_tier"])
	assert.Equal(t, "1.0.0", resp.Metadata["service_version"])
	assert.Equal(t, int64(10), resp.Metadata["input_file_size_bytes"])
	assert.Equal(t, int64(12), resp.Metadata["output_file_size_bytes"])
	assert.Contains(t, resp.Metadata, "processing_time_ms")
	assert.NotContains(t, resp.Metadata, "reference_date")

	completed := env.bus.byDetailType(events.DetailTypeCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, "jobs/j1/out.bin", completed[0].Detail.OutputKey)
	assert.Equal(t, events.StatusSuccess, completed[0].Detail.Status)
	assert.Equal(t, "j1", completed[0].Detail.JobID)
	assert.Equal(t, "file-processor-v1", completed[0].Detail.ServiceID)
	assert.Empty(t, env.bus.byDetailType(events.DetailTypeFailed))
}

func TestRun_SynthesizesOutputKey(t *testing.T) {
	env := newTestEnv(t)
	inv := wellFormedInvocation()
	inv.OutputKey = ""

	resp := env.runner.Run(context.Background(), inv)

	require.Equal(t, domain.StatusSuccess, resp.Status)
	assert.Equal(t, "jobs/j1/output.bin", resp.OutputKey)
	assert.Contains(t, resp.OutputKey, inv.JobID)

	// the same resolved key feeds both upload and response
	assert.Equal(t, resp.OutputKey, env.store.publishedKey)
}

func TestRun_OutputKeyTemplateIsConfigurable(t *testing.T) {
	env := newTestEnv(t)
	env.runner.outputKeyTemplate = "jobs/{job_id}/stage-output.xlsx"
	inv := wellFormedInvocation()
	inv.OutputKey = ""

	resp := env.runner.Run(context.Background(), inv)

	require.Equal(t, domain.StatusSuccess, resp.Status)
	assert.Equal(t, "jobs/j1/stage-output.xlsx", resp.OutputKey)
}

func TestRun_EchoesReferenceDateAndTier(t *testing.T) {
	env := newTestEnv(t)
	inv := wellFormedInvocation()
	inv.ReferenceDate = "2025-01-15"
	inv.CustomerTier = "premium"

	resp := env.runner.Run(context.Background(), inv)

	require.Equal(t, domain.StatusSuccess, resp.Status)
	assert.Equal(t, "2025-01-15", resp.Metadata["reference_date"])
	assert.Equal(t, "premium", resp.Metadata["customer_tier"])
}

func TestRun_FetchNotFound(t *testing.T) {
	env := newTestEnv(t)
	env.store.fetchErr = fmt.Errorf("%w: s3://in/a.bin", domain.ErrObjectNotFound)

	resp := env.runner.Run(context.Background(), wellFormedInvocation())

	require.Equal(t, domain.StatusError, resp.Status)
	assert.Equal(t, domain.ErrorTypeNotFound, resp.ErrorType)
	assert.Equal(t, "j1", resp.Metadata["job_id"])
	assert.Equal(t, "a.bin", resp.Metadata["input_key"])

	// no publish attempted, exactly one failure notification
	assert.Zero(t, env.store.publishCalls)
	assert.Len(t, env.bus.byDetailType(events.DetailTypeFailed), 1)
	assert.Empty(t, env.bus.byDetailType(events.DetailTypeCompleted))
}

func TestRun_TransformValueError(t *testing.T) {
	env := newTestEnv(t)
	env.transform.err = fmt.Errorf("%w: unsupported page layout", domain.ErrInvalidValue)

	resp := env.runner.Run(context.Background(), wellFormedInvocation())

	require.Equal(t, domain.StatusError, resp.Status)
	assert.Equal(t, domain.ErrorTypeValue, resp.ErrorType)
	assert.Equal(t, "j1", resp.Metadata["job_id"])
	assert.Zero(t, env.store.publishCalls)
}

func TestRun_TransformDeclaredClassification(t *testing.T) {
	env := newTestEnv(t)
	env.transform.err = domain.NewClassifiedError("TableExtractionError", errors.New("failed to process page 3"))

	resp := env.runner.Run(context.Background(), wellFormedInvocation())

	require.Equal(t, domain.StatusError, resp.Status)
	assert.Equal(t, "TableExtractionError", resp.ErrorType)
	assert.Equal(t, "failed to process page 3", resp.Error)

	failed := env.bus.byDetailType(events.DetailTypeFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "TableExtractionError", failed[0].Detail.ErrorType)
}

func TestRun_PublishFailure(t *testing.T) {
	env := newTestEnv(t)
	env.store.publishErr = errors.New("access denied")

	resp := env.runner.Run(context.Background(), wellFormedInvocation())

	require.Equal(t, domain.StatusError, resp.Status)
	assert.Equal(t, domain.ErrorTypeRuntime, resp.ErrorType)
	assert.Equal(t, "access denied", resp.Error)
	assert.Contains(t, resp.Metadata, "processing_time_ms")
	assert.Equal(t, "a.bin", resp.Metadata["input_key"])
}

func TestRun_BusFailuresAreAbsorbed(t *testing.T) {
	env := newTestEnv(t)
	env.bus.err = errors.New("event bus unavailable")

	resp := env.runner.Run(context.Background(), wellFormedInvocation())

	// a flaky notification channel never fails an otherwise successful job
	require.Equal(t, domain.StatusSuccess, resp.Status)
	assert.Equal(t, "jobs/j1/out.bin", resp.OutputKey)
}

func TestRun_NoEventRoutingKeyConfigured(t *testing.T) {
	env := newTestEnv(t)
	env.runner.eventRoutingKey = ""

	resp := env.runner.Run(context.Background(), wellFormedInvocation())

	require.Equal(t, domain.StatusSuccess, resp.Status)
	assert.Empty(t, env.bus.published)
}

func TestRun_TransformPanicIsContained(t *testing.T) {
	env := newTestEnv(t)
	env.transform.panicMsg = "index out of range"

	resp := env.runner.Run(context.Background(), wellFormedInvocation())

	require.NotNil(t, resp)
	assert.Equal(t, domain.StatusError, resp.Status)
	assert.Equal(t, domain.ErrorTypeRuntime, resp.ErrorType)
	assert.Contains(t, resp.Error, "index out of range")

	failed := env.bus.byDetailType(events.DetailTypeFailed)
	require.Len(t, failed, 1)
}

func TestRun_RemovesScratchFiles(t *testing.T) {
	env := newTestEnv(t)

	resp := env.runner.Run(context.Background(), wellFormedInvocation())
	require.Equal(t, domain.StatusSuccess, resp.Status)

	entries, err := os.ReadDir(env.scratchDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRun_RemovesScratchFilesOnFailure(t *testing.T) {
	env := newTestEnv(t)
	env.transform.err = errors.New("boom")

	resp := env.runner.Run(context.Background(), wellFormedInvocation())
	require.Equal(t, domain.StatusError, resp.Status)

	entries, err := os.ReadDir(env.scratchDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRun_NilInvocation(t *testing.T) {
	env := newTestEnv(t)

	resp := env.runner.Run(context.Background(), nil)

	require.NotNil(t, resp)
	assert.Equal(t, domain.StatusError, resp.Status)
	assert.Equal(t, domain.ErrorTypeValidation, resp.ErrorType)
}
