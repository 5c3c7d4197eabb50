package apierror_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jimyag/vmhost/pkg/apierror"
	"github.com/stretchr/testify/assert"
)

func TestError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		testFunc func(*testing.T)
	}{
		{
			name: "Error_Error",
			testFunc: func(t *testing.T) {
				t.Parallel()
				err := apierror.Errorf(apierror.ErrNotFound, "vm %s not found", "vm-1")
				assert.Equal(t, "[NotFound] vm vm-1 not found", err.Error())
			},
		},
		{
			name: "Error_Error_WithRawError",
			testFunc: func(t *testing.T) {
				t.Parallel()
				err := apierror.WrapError(apierror.ErrAdapter, "halt failed", fmt.Errorf("raw error"))
				assert.Equal(t, "[AdapterError] halt failed (RawError: raw error)", err.Error())
			},
		},
		{
			name: "Error_Is_SameCode",
			testFunc: func(t *testing.T) {
				t.Parallel()
				err1 := apierror.Errorf(apierror.ErrConflict, "message 1")
				err2 := apierror.Errorf(apierror.ErrConflict, "message 2")
				assert.True(t, errors.Is(err1, err2))
			},
		},
		{
			name: "Error_Is_DifferentCode",
			testFunc: func(t *testing.T) {
				t.Parallel()
				assert.False(t, errors.Is(apierror.ErrNotFound, apierror.ErrConflict))
			},
		},
		{
			name: "OperationInProgress_IsConflict",
			testFunc: func(t *testing.T) {
				t.Parallel()
				assert.True(t, errors.Is(apierror.ErrOperationInProgress, apierror.ErrConflict))
			},
		},
		{
			name: "AdapterTimeout_IsAdapter",
			testFunc: func(t *testing.T) {
				t.Parallel()
				err := apierror.WrapError(apierror.ErrAdapterTimeout, "halt timed out", nil)
				assert.True(t, errors.Is(err, apierror.ErrAdapter))
				assert.True(t, err.Retryable)
				assert.Equal(t, http.StatusGatewayTimeout, err.HTTPStatus)
			},
		},
		{
			name: "WrapError_KeepsCause",
			testFunc: func(t *testing.T) {
				t.Parallel()
				cause := fmt.Errorf("vagrant exited 1")
				err := apierror.WrapError(apierror.ErrAdapter, "start failed", cause)
				assert.Equal(t, cause, errors.Unwrap(err))
				assert.ErrorIs(t, err, cause)
				assert.True(t, err.Retryable)
				assert.Equal(t, http.StatusBadGateway, err.HTTPStatus)
			},
		},
		{
			name: "Errorf_FormatsMessage",
			testFunc: func(t *testing.T) {
				t.Parallel()
				err := apierror.Errorf(apierror.ErrNotFound, "vm %s not found", "vm-1")
				assert.Equal(t, "vm vm-1 not found", err.Message)
				assert.Equal(t, http.StatusNotFound, err.HTTPStatus)
				assert.Nil(t, err.RawError)
			},
		},
		{
			name: "From_WrappedError",
			testFunc: func(t *testing.T) {
				t.Parallel()
				base := apierror.Errorf(apierror.ErrValidation, "cpu must be positive")
				wrapped := fmt.Errorf("create: %w", base)
				assert.Equal(t, base, apierror.From(wrapped))
			},
		},
		{
			name: "From_PlainError",
			testFunc: func(t *testing.T) {
				t.Parallel()
				err := apierror.From(fmt.Errorf("boom"))
				assert.True(t, errors.Is(err, apierror.ErrInternal))
				assert.Nil(t, apierror.From(nil))
			},
		},
		{
			name: "Error_JSON_Marshal_ExcludesRawError",
			testFunc: func(t *testing.T) {
				t.Parallel()
				err := apierror.WrapError(apierror.ErrAdapter, "test message", fmt.Errorf("raw error"))
				data, marshalErr := json.Marshal(err)
				assert.NoError(t, marshalErr)
				assert.NotContains(t, string(data), "raw error")
				assert.Contains(t, string(data), `"code":"AdapterError"`)
				assert.Contains(t, string(data), `"retryable":true`)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, tt.testFunc)
	}
}

func TestErrorResponse(t *testing.T) {
	t.Parallel()

	resp := apierror.NewErrorResponse("request-id", apierror.Errorf(apierror.ErrConflict, "name taken"))
	data, err := json.Marshal(resp)
	assert.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"error":{"code":"Conflict","message":"name taken"},"requestID":"request-id"}`, string(data))
}
