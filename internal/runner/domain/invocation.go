package domain

import "fmt"

const (
	// InvocationTypeDirect is the only invocation discriminator this
	// service accepts.
	InvocationTypeDirect = "direct"

	// DefaultCustomerTier is used when the envelope omits customer_tier.
	DefaultCustomerTier = "standard"

	// StageIDKey is the reserved stage_config key identifying the
	// workflow stage this invocation represents. All other stage_config
	// keys pass through to the transform untouched.
	StageIDKey = "stage_id"
)

// Invocation is the envelope describing one end-to-end processing request.
type Invocation struct {
	InvocationType string         `json:"invocation_type"`
	JobID          string         `json:"job_id"`
	InputBucket    string         `json:"input_bucket"`
	InputKey       string         `json:"input_key"`
	OutputBucket   string         `json:"output_bucket"`
	OutputKey      string         `json:"output_key,omitempty"`
	ReferenceDate  string         `json:"reference_date,omitempty"`
	CustomerTier   string         `json:"customer_tier,omitempty"`
	StageConfig    map[string]any `json:"stage_config,omitempty"`
}

// Validate checks the envelope before any side effect occurs. The
// returned error names the offending field or condition.
func (inv *Invocation) Validate() error {
	if inv.InvocationType != InvocationTypeDirect {
		return fmt.Errorf("invalid invocation type: expected %q", InvocationTypeDirect)
	}

	required := []struct {
		name  string
		value string
	}{
		{"job_id", inv.JobID},
		{"input_bucket", inv.InputBucket},
		{"input_key", inv.InputKey},
		{"output_bucket", inv.OutputBucket},
	}

	for _, field := range required {
		if field.value == "" {
			return fmt.Errorf("missing required field: %s", field.name)
		}
	}

	return nil
}

// Tier returns the customer tier, defaulting when absent.
func (inv *Invocation) Tier() string {
	if inv.CustomerTier == "" {
		return DefaultCustomerTier
	}
	return inv.CustomerTier
}

// StageID extracts the reserved stage_id key from stage_config, if present.
func (inv *Invocation) StageID() string {
	if inv.StageConfig == nil {
		return ""
	}
	if stageID, ok := inv.StageConfig[StageIDKey].(string); ok {
		return stageID
	}
	return ""
}
