package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"
	ErrTokenExpired  ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden        ErrCode = "FORBIDDEN"
	ErrPermissionDenied ErrCode = "PERMISSION_DENIED"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"
	ErrUnknownAction  ErrCode = "UNKNOWN_ACTION"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"
	ErrConflict ErrCode = "CONFLICT"

	// ─── Session-specific ──────────────────────────────────────────────
	ErrSessionActive       ErrCode = "SESSION_ALREADY_ACTIVE"
	ErrNoActiveSession     ErrCode = "NO_ACTIVE_SESSION"
	ErrAssessmentNotFound  ErrCode = "ASSESSMENT_NOT_FOUND"
	ErrAlreadyCompleted    ErrCode = "ASSESSMENT_ALREADY_COMPLETED"
	ErrInvalidSessionState ErrCode = "INVALID_SESSION_STATE"
	ErrUnansweredQuestion  ErrCode = "UNANSWERED_QUESTION"
	ErrUnknownQuestion     ErrCode = "UNKNOWN_QUESTION"
	ErrInvalidAnswer       ErrCode = "INVALID_ANSWER"
	ErrUnknownEvent        ErrCode = "UNKNOWN_EVENT"
	ErrSubmitFailed        ErrCode = "SUBMIT_FAILED"
	ErrUpstream            ErrCode = "ASSESSMENT_SERVICE_ERROR"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Authentication token is required."
	case ErrTokenInvalid:
		return "Authentication token is invalid."
	case ErrTokenExpired:
		return "Authentication token has expired."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "You are not allowed to access this resource."
	case ErrPermissionDenied:
		return "Permission denied."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."
	case ErrInvalidPayload:
		return "Invalid request payload."
	case ErrUnknownAction:
		return "Unknown action."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Resource not found."
	case ErrConflict:
		return "Resource already exists."

	// ─── Session-specific ──────────────────────────────────────────────
	case ErrSessionActive:
		return "You already have an assessment in progress on another connection."
	case ErrNoActiveSession:
		return "There is no assessment in progress."
	case ErrAssessmentNotFound:
		return "Assessment not found or not assigned to you."
	case ErrAlreadyCompleted:
		return "This assessment has already been completed."
	case ErrInvalidSessionState:
		return "The assessment session does not accept this action right now."
	case ErrUnansweredQuestion:
		return "Answer the current question before moving on."
	case ErrUnknownQuestion:
		return "The question does not belong to this assessment."
	case ErrInvalidAnswer:
		return "The answer does not match the question type."
	case ErrUnknownEvent:
		return "Unknown monitoring event."
	case ErrSubmitFailed:
		return "The submission could not be delivered. It will be sent again when you retry."
	case ErrUpstream:
		return "The assessment service is unavailable."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Internal server error."
	default:
		return "An unexpected error occurred."
	}
}
