package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-proctor/internal/assessment"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

// FromError maps a session or assessment service error to an HTTP status
// and error code.
func FromError(err error) (int, ErrCode) {
	switch {
	case errors.Is(err, proctor.ErrSessionActive):
		return http.StatusConflict, ErrSessionActive
	case errors.Is(err, proctor.ErrNotFound):
		return http.StatusNotFound, ErrAssessmentNotFound
	case errors.Is(err, proctor.ErrAlreadyCompleted):
		return http.StatusConflict, ErrAlreadyCompleted
	case errors.Is(err, proctor.ErrInvalidSessionState):
		return http.StatusConflict, ErrInvalidSessionState
	case errors.Is(err, proctor.ErrUnansweredQuestion):
		return http.StatusUnprocessableEntity, ErrUnansweredQuestion
	case errors.Is(err, proctor.ErrUnknownQuestion):
		return http.StatusUnprocessableEntity, ErrUnknownQuestion
	case errors.Is(err, proctor.ErrInvalidAnswer):
		return http.StatusUnprocessableEntity, ErrInvalidAnswer
	case errors.Is(err, proctor.ErrUnknownEvent):
		return http.StatusUnprocessableEntity, ErrUnknownEvent
	case errors.Is(err, proctor.ErrInvalidDirection), errors.Is(err, proctor.ErrInvalidReason):
		return http.StatusBadRequest, ErrInvalidPayload
	case errors.Is(err, proctor.ErrSubmitFailed):
		return http.StatusBadGateway, ErrSubmitFailed
	}

	var apiErr *assessment.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized:
			return http.StatusUnauthorized, ErrTokenInvalid
		case http.StatusForbidden:
			return http.StatusForbidden, ErrForbidden
		}
		return http.StatusBadGateway, ErrUpstream
	}
	if assessment.IsRetryable(err) {
		return http.StatusBadGateway, ErrUpstream
	}
	return http.StatusInternalServerError, ErrInternal
}

// FailError sends the error response matching err.
func FailError(c *gin.Context, err error) {
	status, code := FromError(err)
	Fail(c, status, code)
}
