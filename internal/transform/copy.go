package transform

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/flowkit/stage-runner/internal/events"
)

// Copy is the placeholder transform: it streams the input artifact to
// the output path unchanged. Adopters of this template replace it with
// their actual processing logic behind the same seam.
type Copy struct{}

var _ Transform = Copy{}

// Transform implements Transform.
func (Copy) Transform(ctx context.Context, inputPath, outputPath string, config map[string]any, notifier events.Notifier) (*Result, error) {
	notifier.NotifyProgress(ctx, "Analyzing input file...", nil)

	in, err := os.Open(inputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}
	defer in.Close()

	out, err := os.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}

	written, err := io.Copy(out, in)
	if err != nil {
		out.Close()
		return nil, fmt.Errorf("failed to copy file contents: %w", err)
	}

	if err := out.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize output file: %w", err)
	}

	notifier.NotifyProgress(ctx, "Processing complete", nil)

	return &Result{
		Metadata: map[string]any{
			"bytes_copied": written,
		},
	}, nil
}
