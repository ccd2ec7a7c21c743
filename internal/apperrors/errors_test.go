package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromErrorKeepsTypedErrors(t *testing.T) {
	wrapped := fmt.Errorf("handler: %w", Wrap(ErrStorage, errors.New("conn reset")))

	got := FromError(wrapped)
	require.NotNil(t, got)
	assert.Equal(t, CodeStorage, got.Code)
	assert.Equal(t, "An unexpected database error occurred.", got.Message)
	assert.ErrorContains(t, got, "conn reset")
}

func TestFromErrorUnknownBecomesInternal(t *testing.T) {
	got := FromError(errors.New("boom"))
	assert.Equal(t, CodeInternal, got.Code)
	assert.Equal(t, http.StatusInternalServerError, got.Status)
	assert.Nil(t, FromError(nil))
}

func TestIsComparesCodes(t *testing.T) {
	err := fmt.Errorf("scan: %w", WithMessage(ErrMalformedPayload, "missing qrId"))
	assert.ErrorIs(t, err, ErrMalformedPayload)
	assert.NotErrorIs(t, err, ErrResourceUnavailable)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, StatusFor(CodeDuplicateSubmission))
	assert.Equal(t, http.StatusTooManyRequests, StatusFor(CodeCooldownActive))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(Code("SOMETHING_ELSE")))
}

func TestResponseHidesCause(t *testing.T) {
	resp := Wrap(ErrStorage, errors.New("pq: password authentication failed")).Response()
	assert.Equal(t, Response{Success: false, Code: CodeStorage, Message: "An unexpected database error occurred."}, resp)
}
