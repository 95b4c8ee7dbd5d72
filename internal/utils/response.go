package utils

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"
)

const (
	ErrCodeInvalidPayload     = "invalid_payload"
	ErrCodeValidation         = "validation_error"
	ErrCodeUnauthorized       = "unauthorized"
	ErrCodeForbidden          = "forbidden"
	ErrCodeInvalidCredentials = "invalid_credentials"
	ErrCodeAccountInactive    = "account_inactive"
	ErrCodeInternal           = "internal_server_error"
	ErrCodeRateLimitExceeded  = "rate_limit_exceeded"
	ErrCodeAccessDenied       = "access_denied"
	ErrCodeServiceUnavailable = "service_unavailable"
)

// ErrorResponse is the JSON envelope for every error answer. Details is
// optional and carries things like the user status snapshot.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// RespondErrorWithCode builds a JSON error response with a standard
// code and message. The optional `details` is included if non-nil.
func RespondErrorWithCode(
	w http.ResponseWriter,
	status int,
	errorCode string,
	publicMessage string,
	details any,
	devErrs ...error,
) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	errBody := ErrorResponse{
		Code:    errorCode,
		Message: publicMessage,
	}
	if details != nil {
		errBody.Details = details
	}
	_ = json.NewEncoder(w).Encode(errBody)

	entry := Logger.WithFields(logrus.Fields{
		"status": status,
		"code":   errorCode,
	})
	if len(devErrs) > 0 && devErrs[0] != nil {
		entry = entry.WithField("error", devErrs[0].Error())
	}
	if status >= http.StatusInternalServerError {
		entry.Error(publicMessage)
	} else {
		entry.Warn(publicMessage)
	}
}

// RespondWithJSON for successful cases
func RespondWithJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// RespondTokenError answers a token validation failure: 401 with the token
// error code and the user status snapshot when known. Anything that is not
// a *TokenError is treated as an internal failure.
func RespondTokenError(w http.ResponseWriter, err error) {
	tokErr, ok := AsTokenError(err)
	if !ok {
		RespondErrorWithCode(w, http.StatusInternalServerError, ErrCodeInternal, "An unexpected error occurred", nil, err)
		return
	}

	var details any
	if tokErr.UserStatus != nil {
		details = map[string]any{"user_status": tokErr.UserStatus}
	}
	RespondErrorWithCode(w, http.StatusUnauthorized, string(tokErr.Code), "Invalid or expired session", details, err)
}
