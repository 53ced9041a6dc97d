package loop

// Reason explains why a run terminated.
type Reason string

const (
	// ReasonCompleted means the model produced a final answer.
	ReasonCompleted Reason = "completed"
	// ReasonMaxIterations means the iteration cap was reached.
	ReasonMaxIterations Reason = "max_iterations"
	// ReasonMaxTokens means the cumulative token cap was reached.
	ReasonMaxTokens Reason = "max_tokens"
	// ReasonTimeout means the wall-clock limit expired.
	ReasonTimeout Reason = "timeout"
	// ReasonError means a terminal inference failure ended the run.
	ReasonError Reason = "error"
)

// Usage is the cumulative token accounting for one run. Counts come
// from provider-reported usage when available, falling back to the
// local estimator otherwise.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total is the combined prompt and completion token count.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// Result is the terminal output of one run.
type Result struct {
	// RunID identifies this run in the journal. Empty when the run
	// was rejected before starting.
	RunID string `json:"run_id,omitempty"`
	// Output is the final answer text. Empty unless Reason is
	// ReasonCompleted.
	Output string `json:"output,omitempty"`
	// Iterations is how many reasoning cycles completed or started.
	Iterations int `json:"iterations"`
	// Usage is the run's cumulative token accounting.
	Usage Usage `json:"usage"`
	// Reason is why the run ended.
	Reason Reason `json:"reason"`
	// Err carries the terminal failure when Reason is ReasonError.
	Err error `json:"-"`
}
