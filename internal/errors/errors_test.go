package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError(t *testing.T) {
	t.Run("Error formats code and message", func(t *testing.T) {
		err := New(ErrCodeInvalidState, "bad transition")
		assert.Equal(t, "INVALID_STATE: bad transition", err.Error())
	})

	t.Run("Error includes the cause", func(t *testing.T) {
		cause := errors.New("boom")
		err := Wrap(ErrCodeDatabase, "insert failed", cause)

		assert.Contains(t, err.Error(), "boom")
		assert.Equal(t, cause, errors.Unwrap(err))
	})

	t.Run("WithCause and WithDetails chain", func(t *testing.T) {
		cause := errors.New("boom")
		err := New(ErrCodeInternal, "oops").WithCause(cause).WithDetails(map[string]string{"field": "code"})

		assert.Equal(t, cause, errors.Unwrap(err))
		assert.NotNil(t, err.Details)
	})
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name    string
		err     *AppError
		code    ErrorCode
		message string
	}{
		{"CodeNotFound", CodeNotFound(), ErrCodeNotFound, "Código inválido ou expirado"},
		{"CodeExpired", CodeExpired(), ErrCodeExpired, "Código inválido ou expirado"},
		{"CodeAlreadyUsed", CodeAlreadyUsed(), ErrCodeAlreadyUsed, "Código já está em uso"},
		{"AlreadyPaired", AlreadyPaired(), ErrCodeAlreadyPaired, "Dispositivo já está pareado"},
		{"CounterpartUnreachable", CounterpartUnreachable(), ErrCodeCounterpartUnreachable, "Dispositivo móvel desconectado"},
		{"RateLimitExceeded", RateLimitExceeded(), ErrCodeRateLimitExceeded, "Rate limit exceeded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.message, tt.err.Message)
		})
	}

	t.Run("InvalidState names event and role", func(t *testing.T) {
		err := InvalidState("product_scanned", "unidentified")
		assert.Equal(t, ErrCodeInvalidState, err.Code)
		assert.Contains(t, err.Message, "product_scanned")
		assert.Contains(t, err.Message, "unidentified")
	})

	t.Run("NotFound names the resource", func(t *testing.T) {
		err := NotFound("Session")
		assert.Equal(t, ErrCodeNotFoundResource, err.Code)
		assert.Equal(t, "Session not found", err.Message)
	})

	t.Run("MissingRequired names the field", func(t *testing.T) {
		err := MissingRequired("deviceType")
		assert.Equal(t, ErrCodeMissingRequired, err.Code)
		assert.Equal(t, "deviceType is required", err.Message)
	})

	t.Run("InvalidInput names field and reason", func(t *testing.T) {
		err := InvalidInput("discountPercent", "must be between 0 and 100")
		assert.Equal(t, ErrCodeInvalidInput, err.Code)
		assert.Contains(t, err.Message, "discountPercent")
	})
}

func TestHelpers(t *testing.T) {
	t.Run("IsAppError and AsAppError", func(t *testing.T) {
		appErr := CodeNotFound()
		wrapped := fmt.Errorf("dispatch: %w", appErr)

		assert.True(t, IsAppError(appErr))
		assert.True(t, IsAppError(wrapped))
		assert.False(t, IsAppError(errors.New("plain")))

		got, ok := AsAppError(wrapped)
		require.True(t, ok)
		assert.Equal(t, ErrCodeNotFound, got.Code)
	})

	t.Run("GetCode falls back to internal", func(t *testing.T) {
		assert.Equal(t, ErrCodeNotFound, GetCode(CodeNotFound()))
		assert.Equal(t, ErrCodeInternal, GetCode(errors.New("plain")))
	})
}
