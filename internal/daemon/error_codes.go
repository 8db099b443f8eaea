package daemon

import (
	"errors"
	"net/http"
	"strings"

	"github.com/cellwire/apnd/internal/apn"
)

const daemonErrorCodeVersion = "v1"

const (
	// Auth domain
	daemonErrorCodeAuthMissingBearerToken = daemonErrorCodeVersion + "/auth/missing_bearer_token"
	daemonErrorCodeAuthInvalidBearerToken = daemonErrorCodeVersion + "/auth/invalid_bearer_token"
	daemonErrorCodeAuthRemoteAddress      = daemonErrorCodeVersion + "/auth/remote_address_denied"
	daemonErrorCodeAuthUnauthorized       = daemonErrorCodeVersion + "/auth/unauthorized"
	daemonErrorCodeAuthForbidden          = daemonErrorCodeVersion + "/auth/forbidden"

	// Validation domain
	daemonErrorCodeValidationBadRequest    = daemonErrorCodeVersion + "/validation/bad_request"
	daemonErrorCodeValidationMalformedJSON = daemonErrorCodeVersion + "/validation/malformed_json"
	daemonErrorCodeValidationMissingField  = daemonErrorCodeVersion + "/validation/missing_required_field"
	daemonErrorCodeValidationInvalidValue  = daemonErrorCodeVersion + "/validation/invalid_value"
	daemonErrorCodeValidationMethod        = daemonErrorCodeVersion + "/validation/method_not_allowed"

	// Transport domain
	daemonErrorCodeRateLimited = daemonErrorCodeVersion + "/http/rate_limited"

	// Template domain
	daemonErrorCodeTemplateNotFound = daemonErrorCodeVersion + "/template/not_found"
	daemonErrorCodeTemplateInUse    = daemonErrorCodeVersion + "/template/in_use"

	// Modem domain
	daemonErrorCodeModemUnavailable = daemonErrorCodeVersion + "/modem/unavailable"
	daemonErrorCodeModemNoContexts  = daemonErrorCodeVersion + "/modem/no_contexts"

	// Generic fallbacks
	daemonErrorCodeResourceNotFound = daemonErrorCodeVersion + "/resource/not_found"
	daemonErrorCodeConflict         = daemonErrorCodeVersion + "/resource/conflict"
	daemonErrorCodeInternalError    = daemonErrorCodeVersion + "/internal/error"
	daemonErrorCodeServerError      = daemonErrorCodeVersion + "/internal/server_error"
	daemonErrorCodeUnavailable      = daemonErrorCodeVersion + "/internal/unavailable"
)

// apiError is the HTTP rendering of an engine error.
type apiError struct {
	status int
	code   string
}

// classifyError maps engine sentinels onto status and code. Order matters:
// a corrupt row reached through GetTemplate wraps both ErrNotFound and
// ErrCorruptRow and must surface as 404.
func classifyError(err error) apiError {
	switch {
	case errors.Is(err, apn.ErrInvalid):
		return apiError{status: http.StatusBadRequest, code: daemonErrorCodeValidationInvalidValue}
	case errors.Is(err, apn.ErrNotFound):
		return apiError{status: http.StatusNotFound, code: daemonErrorCodeTemplateNotFound}
	case errors.Is(err, apn.ErrTemplateInUse):
		return apiError{status: http.StatusConflict, code: daemonErrorCodeTemplateInUse}
	case errors.Is(err, apn.ErrNoContexts):
		return apiError{status: http.StatusServiceUnavailable, code: daemonErrorCodeModemNoContexts}
	case errors.Is(err, apn.ErrModemUnavailable):
		return apiError{status: http.StatusServiceUnavailable, code: daemonErrorCodeModemUnavailable}
	default:
		return apiError{status: http.StatusInternalServerError, code: daemonErrorCodeServerError}
	}
}

func daemonErrorCode(status int, message string) string {
	normalized := strings.TrimSpace(strings.ToLower(message))
	if normalized != "" {
		if code := daemonErrorCodeFromMessage(normalized); code != "" {
			return code
		}
	}
	return daemonErrorCodeByStatus(status)
}

func daemonErrorCodeFromMessage(normalized string) string {
	switch {
	case strings.Contains(normalized, "missing bearer token"):
		return daemonErrorCodeAuthMissingBearerToken
	case strings.Contains(normalized, "invalid bearer token"):
		return daemonErrorCodeAuthInvalidBearerToken
	case strings.Contains(normalized, "remote address not allowed"):
		return daemonErrorCodeAuthRemoteAddress
	case strings.Contains(normalized, "request body is required"):
		return daemonErrorCodeValidationMissingField
	case strings.Contains(normalized, "invalid request body"):
		return daemonErrorCodeValidationMalformedJSON
	case strings.Contains(normalized, "unexpected trailing data"):
		return daemonErrorCodeValidationMalformedJSON
	case strings.Contains(normalized, "rate limit exceeded"):
		return daemonErrorCodeRateLimited
	case strings.Contains(normalized, "method not allowed"):
		return daemonErrorCodeValidationMethod
	case strings.Contains(normalized, "template not found"):
		return daemonErrorCodeTemplateNotFound
	case strings.Contains(normalized, "invalid template id"), strings.Contains(normalized, "invalid limit"):
		return daemonErrorCodeValidationInvalidValue
	}
	return ""
}

func daemonErrorCodeByStatus(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return daemonErrorCodeAuthUnauthorized
	case http.StatusForbidden:
		return daemonErrorCodeAuthForbidden
	case http.StatusBadRequest:
		return daemonErrorCodeValidationBadRequest
	case http.StatusNotFound:
		return daemonErrorCodeResourceNotFound
	case http.StatusConflict:
		return daemonErrorCodeConflict
	case http.StatusInternalServerError:
		return daemonErrorCodeServerError
	case http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusBadGateway:
		return daemonErrorCodeUnavailable
	default:
		if status >= http.StatusInternalServerError {
			return daemonErrorCodeServerError
		}
	}
	return daemonErrorCodeInternalError
}
