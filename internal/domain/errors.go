package domain

import "errors"

// ─── Error taxonomy ─────────────────────────────────────────────────────────
// Concept-level categories from the error handling design. A TaxonomyError
// carries its ErrKind, so callers classify with errors.As and its Kind field.

// ErrKind identifies which taxonomy bucket an error belongs to.
type ErrKind int

const (
	KindValidation ErrKind = iota
	KindTransientDownstream
	KindPermanentDownstream
	KindRuleEval
	KindStateCorruption
)

func (k ErrKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTransientDownstream:
		return "transient_downstream"
	case KindPermanentDownstream:
		return "permanent_downstream"
	case KindRuleEval:
		return "rule_eval"
	case KindStateCorruption:
		return "state_corruption"
	default:
		return "unknown"
	}
}

// TaxonomyError carries a kind alongside the usual message/wrapped error.
type TaxonomyError struct {
	Kind ErrKind
	Msg  string
	Err  error
}

func (e *TaxonomyError) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Msg + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Msg
}

func (e *TaxonomyError) Unwrap() error { return e.Err }

// NewValidationError builds a KindValidation TaxonomyError.
func NewValidationError(msg string) error {
	return &TaxonomyError{Kind: KindValidation, Msg: msg}
}

// NewTransientError builds a KindTransientDownstream TaxonomyError.
func NewTransientError(msg string, err error) error {
	return &TaxonomyError{Kind: KindTransientDownstream, Msg: msg, Err: err}
}

// NewPermanentError builds a KindPermanentDownstream TaxonomyError.
func NewPermanentError(msg string, err error) error {
	return &TaxonomyError{Kind: KindPermanentDownstream, Msg: msg, Err: err}
}

// NewRuleEvalError builds a KindRuleEval TaxonomyError.
func NewRuleEvalError(msg string, err error) error {
	return &TaxonomyError{Kind: KindRuleEval, Msg: msg, Err: err}
}

// NewStateCorruptionError builds a KindStateCorruption TaxonomyError.
func NewStateCorruptionError(msg string) error {
	return &TaxonomyError{Kind: KindStateCorruption, Msg: msg}
}

// ─── Sentinel errors ────────────────────────────────────────────────────────

var (
	ErrRuleNotFound     = errors.New("rule not found")
	ErrRuleExists       = errors.New("rule id already exists")
	ErrInvalidRule      = errors.New("malformed rule")
	ErrInvalidAction    = errors.New("malformed or unknown action")
	ErrExternalGateMiss = errors.New("external context missing or stale")
	ErrCropNotFound     = errors.New("crop not found")
	ErrStageNotFound    = errors.New("stage not found for variety")
	ErrDeviceUnknown    = errors.New("device id unknown")
	ErrChannelDown      = errors.New("notification channel unavailable")
	ErrHVACTimeout      = errors.New("hvac provider request timed out")
)
