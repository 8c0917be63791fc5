package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	base := stderrors.New("boom")

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"plain error is fatal", base, KindFatal},
		{"unsupported unit", NewUnsupportedOffsetUnitError("HOURS", nil), KindConfiguration},
		{"template inactive", NewTemplateInactiveError("tpl-1"), KindConfiguration},
		{"no recipient", NewNoRecipientError("TENANT", "lease-1", base), KindResolution},
		{"duplicate", NewDuplicateTriggerError("rule-1", "lease-1", base), KindDuplicate},
		{"storage", NewStorageError("insert", base), KindFatal},
		{"wrapped resolution", fmt.Errorf("entity: %w", NewPlaceholderMissingError("tpl-1", base)), KindResolution},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestPredicates(t *testing.T) {
	assert.True(t, IsSkip(NewTemplateNotFoundError("tpl-9")))
	assert.True(t, IsSkip(NewNoRecipientError("OTHER_USER", "lease-1", nil)))
	assert.False(t, IsSkip(NewCommitFailedError(stderrors.New("conn reset"))))
	assert.True(t, IsDuplicate(NewDuplicateTriggerError("r", "e", nil)))
	assert.True(t, IsFatal(NewCommitFailedError(stderrors.New("conn reset"))))
	assert.False(t, IsFatal(NewDuplicateTriggerError("r", "e", nil)))
}

func TestEngineError_UnwrapAndStack(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := NewStorageError("insert notification", cause)

	assert.True(t, stderrors.Is(err, cause))
	assert.NotEmpty(t, err.StackTrace())
	assert.Contains(t, err.Error(), string(ErrCodeStorageFailed))
	assert.Contains(t, err.Error(), "insert notification")

	assert.Nil(t, NewTemplateNotFoundError("tpl").StackTrace())
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrCodeTemplateInactive, CodeOf(fmt.Errorf("rule: %w", NewTemplateInactiveError("t"))))
	assert.Equal(t, ErrorCode(""), CodeOf(stderrors.New("x")))
}

func TestToBPMNError(t *testing.T) {
	fatal := ToBPMNError("REMINDER_JOB_FAILED", NewCommitFailedError(stderrors.New("tx aborted")))
	require.NotNil(t, fatal)
	assert.Equal(t, "REMINDER_JOB_FAILED", fatal.Code)
	assert.True(t, fatal.Retryable)

	vars := fatal.ToErrorVariables()
	assert.Equal(t, "REMINDER_JOB_FAILED", vars["errorCode"])
	assert.Equal(t, string(ErrCodeCommitFailed), vars["originalErrorCode"])
	assert.Equal(t, "fatal", vars["errorKind"])

	plain := ToBPMNError("DISPATCH_FAILED", stderrors.New("whatever"))
	assert.Equal(t, "whatever", plain.Message)
	assert.True(t, plain.Retryable)

	cfg := ToBPMNError("REMINDER_JOB_FAILED", NewInvalidRuleError("rule-1", nil))
	assert.False(t, cfg.Retryable)
}
