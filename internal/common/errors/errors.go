// Package errors classifies reminder engine failures so callers can decide
// between skipping a rule, skipping an entity, ignoring a duplicate, or
// aborting the run.
package errors

import (
	stderrors "errors"
	"fmt"
	"time"

	pkgerrors "github.com/pkg/errors"
)

// ==========================
// 1. Error Kinds and Codes
// ==========================

// Kind decides the control flow of the job runner.
type Kind int

const (
	KindUnknown Kind = iota
	// KindConfiguration skips the whole rule.
	KindConfiguration
	// KindResolution skips one entity.
	KindResolution
	// KindDuplicate means the trigger was already claimed; not a failure.
	KindDuplicate
	// KindFatal aborts the run.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindResolution:
		return "resolution"
	case KindDuplicate:
		return "duplicate"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeUnsupportedOffsetUnit ErrorCode = "UNSUPPORTED_OFFSET_UNIT"
	ErrCodeUnsupportedEventType  ErrorCode = "UNSUPPORTED_EVENT_TYPE"
	ErrCodeInvalidRule           ErrorCode = "INVALID_RULE"
	ErrCodeTemplateNotFound      ErrorCode = "TEMPLATE_NOT_FOUND"
	ErrCodeTemplateInactive      ErrorCode = "TEMPLATE_INACTIVE"

	ErrCodeNoRecipient          ErrorCode = "NO_RECIPIENT"
	ErrCodePlaceholderMissing   ErrorCode = "PLACEHOLDER_MISSING"
	ErrCodeTemplateRenderFailed ErrorCode = "TEMPLATE_RENDER_FAILED"

	ErrCodeDuplicateTrigger ErrorCode = "DUPLICATE_TRIGGER"

	ErrCodeStorageFailed ErrorCode = "STORAGE_FAILED"
	ErrCodeCommitFailed  ErrorCode = "COMMIT_FAILED"
	ErrCodeJobTimeout    ErrorCode = "JOB_TIMEOUT"

	ErrCodeInputParsingFailed    ErrorCode = "INPUT_PARSING_FAILED"
	ErrCodeInputValidationFailed ErrorCode = "VALIDATION_FAILED"
)

// EngineError represents a classified reminder engine error.
type EngineError struct {
	Code      ErrorCode              `json:"code"`
	Kind      Kind                   `json:"-"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *EngineError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.cause
}

// StackTrace exposes the stack captured for fatal errors, if any.
func (e *EngineError) StackTrace() pkgerrors.StackTrace {
	var st interface{ StackTrace() pkgerrors.StackTrace }
	if stderrors.As(e.cause, &st) {
		return st.StackTrace()
	}
	return nil
}

func newError(kind Kind, code ErrorCode, message, details string, cause error) *EngineError {
	return &EngineError{
		Code:      code,
		Kind:      kind,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

// ==========================
// 2. Error Constructors
// ==========================

func NewUnsupportedOffsetUnitError(unit string, cause error) *EngineError {
	return newError(KindConfiguration, ErrCodeUnsupportedOffsetUnit,
		"Offset unit not supported for date events", fmt.Sprintf("offsetUnit: %s", unit), cause)
}

func NewUnsupportedEventTypeError(eventType string, cause error) *EngineError {
	return newError(KindConfiguration, ErrCodeUnsupportedEventType,
		"No matcher registered for event type", fmt.Sprintf("eventType: %s", eventType), cause)
}

func NewInvalidRuleError(ruleID string, cause error) *EngineError {
	return newError(KindConfiguration, ErrCodeInvalidRule,
		"Reminder rule failed validation", fmt.Sprintf("ruleId: %s", ruleID), cause)
}

func NewTemplateNotFoundError(templateID string) *EngineError {
	return newError(KindConfiguration, ErrCodeTemplateNotFound,
		"Notification template not found", fmt.Sprintf("templateId: %s", templateID), nil)
}

func NewTemplateInactiveError(templateID string) *EngineError {
	return newError(KindConfiguration, ErrCodeTemplateInactive,
		"Notification template is inactive", fmt.Sprintf("templateId: %s", templateID), nil)
}

func NewNoRecipientError(recipientType, entityID string, cause error) *EngineError {
	return newError(KindResolution, ErrCodeNoRecipient,
		"No recipient could be resolved",
		fmt.Sprintf("recipientType: %s, entityId: %s", recipientType, entityID), cause)
}

func NewPlaceholderMissingError(templateID string, cause error) *EngineError {
	return newError(KindResolution, ErrCodePlaceholderMissing,
		"Template context is missing required placeholders", fmt.Sprintf("templateId: %s", templateID), cause)
}

func NewTemplateRenderFailedError(templateID string, cause error) *EngineError {
	return newError(KindResolution, ErrCodeTemplateRenderFailed,
		"Template could not be rendered", fmt.Sprintf("templateId: %s", templateID), cause)
}

func NewDuplicateTriggerError(ruleID, entityID string, cause error) *EngineError {
	return newError(KindDuplicate, ErrCodeDuplicateTrigger,
		"Trigger already recorded",
		fmt.Sprintf("ruleId: %s, entityId: %s", ruleID, entityID), cause)
}

// NewStorageError wraps an unexpected store failure and captures a stack trace.
func NewStorageError(op string, cause error) *EngineError {
	return newError(KindFatal, ErrCodeStorageFailed,
		"Storage operation failed", fmt.Sprintf("op: %s", op), pkgerrors.WithStack(cause))
}

func NewCommitFailedError(cause error) *EngineError {
	return newError(KindFatal, ErrCodeCommitFailed,
		"Transaction commit failed", "", pkgerrors.WithStack(cause))
}

func NewJobTimeoutError(cause error) *EngineError {
	return newError(KindFatal, ErrCodeJobTimeout,
		"Reminder job exceeded its timeout", "", pkgerrors.WithStack(cause))
}

// NewInputParsingError reports job variables that could not be decoded.
func NewInputParsingError(cause error) *EngineError {
	return newError(KindConfiguration, ErrCodeInputParsingFailed,
		"Failed to parse job variables", cause.Error(), cause)
}

func NewInputValidationError(details string) *EngineError {
	return newError(KindConfiguration, ErrCodeInputValidationFailed,
		"Input validation failed", details, nil)
}

// ==========================
// 3. Classification
// ==========================

// KindOf returns the kind of the first EngineError in err's chain.
// Unclassified errors are fatal.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *EngineError
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindFatal
}

// CodeOf returns the code of the first EngineError in err's chain.
func CodeOf(err error) ErrorCode {
	var e *EngineError
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsSkip reports whether err only skips a rule or an entity.
func IsSkip(err error) bool {
	k := KindOf(err)
	return k == KindConfiguration || k == KindResolution
}

func IsDuplicate(err error) bool {
	return KindOf(err) == KindDuplicate
}

func IsFatal(err error) bool {
	return KindOf(err) == KindFatal
}

// ==========================
// 4. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// ToBPMNError converts any error to a BPMNError thrown under bpmnCode.
// Fatal storage errors are retryable: a re-run skips already fired triggers.
func ToBPMNError(bpmnCode string, err error) *BPMNError {
	out := &BPMNError{
		Code:      bpmnCode,
		Message:   err.Error(),
		Retryable: IsFatal(err),
		ErrorVariables: map[string]interface{}{
			"errorKind": KindOf(err).String(),
		},
	}
	var e *EngineError
	if stderrors.As(err, &e) {
		out.Message = e.Message
		out.Details = e.Details
		out.ErrorVariables["originalErrorCode"] = string(e.Code)
		out.ErrorVariables["timestamp"] = e.Timestamp.Format(time.RFC3339)
	}
	return out
}
