package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorInspection(t *testing.T) {
	base := New(ErrCode2FARequired, "Authenticator code required")
	wrapped := fmt.Errorf("authorize: %w", base)

	assert.True(t, IsCode(wrapped, ErrCode2FARequired))
	assert.False(t, IsCode(wrapped, ErrCode2FAInvalid))
	assert.Equal(t, ErrCode2FARequired, GetCode(wrapped))
	assert.Equal(t, ErrCodeInternal, GetCode(errors.New("plain")))
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrCodeInternal, "nothing"))
}

func TestUserMessage(t *testing.T) {
	t.Run("structured error keeps its message", func(t *testing.T) {
		assert.Equal(t, "Invalid backup code", UserMessage(New(ErrCodeBackupCodeInvalid, "Invalid backup code")))
	})

	t.Run("internal error is generalized", func(t *testing.T) {
		err := InternalWrap(errors.New("connection refused"), "failed to load user")
		assert.Equal(t, GenericMessage, UserMessage(err))
	})

	t.Run("plain error is generalized", func(t *testing.T) {
		assert.Equal(t, GenericMessage, UserMessage(errors.New("boom")))
	})
}

func TestMapErrorCodeToHTTPStatus(t *testing.T) {
	cases := map[ErrorCode]int{
		ErrCodeInvalidInput:         http.StatusBadRequest,
		ErrCodeConfirmationRequired: http.StatusBadRequest,
		ErrCodeInvalidCredentials:   http.StatusUnauthorized,
		ErrCodeTokenInvalid:         http.StatusUnauthorized,
		ErrCodeSessionExpired:       http.StatusUnauthorized,
		ErrCode2FARequired:          http.StatusUnauthorized,
		ErrCode2FAInvalid:           http.StatusUnauthorized,
		ErrCodeBackupCodeInvalid:    http.StatusUnauthorized,
		ErrCodeMFANotConfigured:     http.StatusUnauthorized,
		ErrCodeUserNotFound:         http.StatusUnauthorized,
		ErrCodeUserInactive:         http.StatusForbidden,
		ErrCodeRateLimitExceeded:    http.StatusTooManyRequests,
		ErrCodeInternal:             http.StatusInternalServerError,
		ErrorCode("FORBIDDEN"):      http.StatusInternalServerError,
		ErrorCode("SOMETHING_ELSE"): http.StatusInternalServerError,
	}
	for code, status := range cases {
		assert.Equal(t, status, MapErrorCodeToHTTPStatus(code), code)
	}
}

func TestWriteError(t *testing.T) {
	t.Run("structured error", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)

		WriteError(rr, req, New(ErrCodeInvalidCredentials, "Invalid credentials"))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		var body ErrorResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, ErrCodeInvalidCredentials, body.Code)
		assert.Equal(t, "Invalid credentials", body.Message)
	})

	t.Run("internal details never leak", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)

		WriteError(rr, req, errors.New("pq: relation users does not exist"))

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.NotContains(t, rr.Body.String(), "relation")
		assert.Contains(t, rr.Body.String(), GenericMessage)
	})
}
