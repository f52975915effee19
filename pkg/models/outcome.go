package models

// OutcomeKind tags the result of a single tool invocation.
type OutcomeKind string

const (
	// OutcomeSuccess carries a result.
	OutcomeSuccess OutcomeKind = "success"
	// OutcomeFailure carries an error.
	OutcomeFailure OutcomeKind = "failure"
	// OutcomeAmbiguity carries the options a caller must choose between.
	OutcomeAmbiguity OutcomeKind = "ambiguity"
)

// Ambiguity describes why a tool could not pick a unique target.
type Ambiguity struct {
	// Reason is shown to the caller, e.g. "3 items named milk".
	Reason string `json:"reason"`
	// Options are the candidate resolutions. ResolvesTo may be nil, in which
	// case the engine derives a replacement task from the label.
	Options []ConfirmationOption `json:"options"`
	// Items optionally lists the candidate targets for display.
	Items []any `json:"items,omitempty"`
}

// Outcome is the tri-state result of invoking a tool.
// Ambiguity is a value, never an error.
type Outcome struct {
	Kind      OutcomeKind
	Result    any
	Err       error
	Ambiguity *Ambiguity
}

// Success builds a successful outcome.
func Success(result any) Outcome {
	return Outcome{Kind: OutcomeSuccess, Result: result}
}

// Failure builds a failed outcome.
func Failure(err error) Outcome {
	return Outcome{Kind: OutcomeFailure, Err: err}
}

// NeedsConfirmation builds an ambiguity outcome.
func NeedsConfirmation(reason string, options ...ConfirmationOption) Outcome {
	return Outcome{
		Kind:      OutcomeAmbiguity,
		Ambiguity: &Ambiguity{Reason: reason, Options: options},
	}
}

// Labels returns plain label-only options, letting the engine synthesise
// the replacement tasks.
func Labels(labels ...string) []ConfirmationOption {
	opts := make([]ConfirmationOption, 0, len(labels))
	for _, l := range labels {
		opts = append(opts, ConfirmationOption{Label: l})
	}
	return opts
}
