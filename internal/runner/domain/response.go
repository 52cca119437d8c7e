package domain

// Response status values
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Response is the sole durable output of an invocation. Exactly one
// response is produced per invocation, on every code path.
type Response struct {
	Status       string         `json:"status"`
	OutputBucket string         `json:"output_bucket,omitempty"`
	OutputKey    string         `json:"output_key,omitempty"`
	Error        string         `json:"error,omitempty"`
	ErrorType    string         `json:"error_type,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// NewSuccessResponse builds the success variant.
func NewSuccessResponse(outputBucket, outputKey string, metadata map[string]any) *Response {
	return &Response{
		Status:       StatusSuccess,
		OutputBucket: outputBucket,
		OutputKey:    outputKey,
		Metadata:     metadata,
	}
}

// NewErrorResponse builds the error variant with whatever partial
// context is available.
func NewErrorResponse(message, errorType string, metadata map[string]any) *Response {
	return &Response{
		Status:    StatusError,
		Error:     message,
		ErrorType: errorType,
		Metadata:  metadata,
	}
}
