package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/talkinghead-backend/internal/data/repos"
	types "github.com/yungbote/talkinghead-backend/internal/domain"
	"github.com/yungbote/talkinghead-backend/internal/lifecycle"
	"github.com/yungbote/talkinghead-backend/internal/platform/apierr"
	"github.com/yungbote/talkinghead-backend/internal/stages"
)

// Classify maps an error from the service layer to a status and error code.
func Classify(err error) (int, string) {
	if ae, ok := apierr.As(err); ok {
		return ae.Status, ae.Code
	}
	var ve *stages.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, "validation_failed"
	case errors.Is(err, types.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, repos.ErrNotFound), errors.Is(err, lifecycle.ErrNotLoaded):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, repos.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, types.ErrGenerationInFlight):
		return http.StatusConflict, "generation_in_flight"
	case errors.Is(err, types.ErrInsufficientCredits):
		return http.StatusPaymentRequired, "insufficient_credits"
	case errors.Is(err, types.ErrUnsavedChanges):
		return http.StatusConflict, "unsaved_changes"
	case errors.Is(err, types.ErrConfirmDiscard):
		return http.StatusConflict, "confirm_discard"
	case errors.Is(err, lifecycle.ErrGenerationRejected):
		return http.StatusBadGateway, "generation_rejected"
	case errors.Is(err, lifecycle.ErrIllegalTransition):
		return http.StatusConflict, "illegal_transition"
	}
	return http.StatusInternalServerError, "internal"
}

// RespondErr writes err with the status Classify picks.
func RespondErr(c *gin.Context, err error) {
	status, code := Classify(err)
	RespondError(c, status, code, err)
}
