package transform

import (
	"context"

	"github.com/flowkit/stage-runner/internal/events"
)

// Transform is the pluggable processing capability. Implementations
// read inputPath, write their result to outputPath before returning,
// and may report granular progress through the notifier. The config
// mapping carries stage-specific parameters from the invocation
// envelope, passed through uninterpreted.
//
// A transform signals a malformed or unsupported input by wrapping
// domain.ErrInvalidValue, or declares its own taxonomy tag with
// domain.NewClassifiedError.
type Transform interface {
	Transform(ctx context.Context, inputPath, outputPath string, config map[string]any, notifier events.Notifier) (*Result, error)
}

// Result carries transform-specific metadata merged into the final
// response metadata.
type Result struct {
	Metadata map[string]any
}
