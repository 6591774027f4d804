package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden        ErrCode = "FORBIDDEN"
	ErrPermissionDenied ErrCode = "PERMISSION_DENIED"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Proctoring ────────────────────────────────────────────────────
	ErrRemoteCallFailed         ErrCode = "REMOTE_CALL_FAILED"
	ErrRecursionLimit           ErrCode = "PAGINATION_LIMIT_EXCEEDED"
	ErrCredentialsNotConfigured ErrCode = "CREDENTIALS_NOT_CONFIGURED"
	ErrModuleNotProctored       ErrCode = "MODULE_NOT_PROCTORED"
	ErrModuleOutsideCourse      ErrCode = "MODULE_OUTSIDE_COURSE"
	ErrNoSessionStarted         ErrCode = "NO_SESSION_STARTED"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	case ErrTokenRequired:
		return "An authentication token is required."
	case ErrTokenInvalid:
		return "The authentication token is invalid or expired."

	case ErrForbidden:
		return "You are not allowed to access this resource."
	case ErrPermissionDenied:
		return "Permission denied."

	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."
	case ErrInvalidPayload:
		return "Invalid request payload."

	case ErrNotFound:
		return "Resource not found."

	case ErrRemoteCallFailed:
		return "The proctoring service could not be reached."
	case ErrRecursionLimit:
		return "The proctoring service returned too many pages."
	case ErrCredentialsNotConfigured:
		return "Proctoring credentials have not been configured for this site."
	case ErrModuleNotProctored:
		return "This module is not proctored."
	case ErrModuleOutsideCourse:
		return "This module does not belong to the course."
	case ErrNoSessionStarted:
		return "No proctoring session was started for this module."

	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	case ErrInternal:
		return "An internal server error occurred."
	default:
		return "An unexpected error occurred."
	}
}
