package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/talkinghead-backend/internal/data/repos"
	types "github.com/yungbote/talkinghead-backend/internal/domain"
	"github.com/yungbote/talkinghead-backend/internal/lifecycle"
	"github.com/yungbote/talkinghead-backend/internal/platform/apierr"
	"github.com/yungbote/talkinghead-backend/internal/stages"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{apierr.BadRequest("bad_json", errors.New("x")), http.StatusBadRequest, "bad_json"},
		{&stages.ValidationError{Stage: types.StageScript, Missing: []string{"topic"}}, http.StatusBadRequest, "validation_failed"},
		{fmt.Errorf("load: %w", repos.ErrNotFound), http.StatusNotFound, "not_found"},
		{lifecycle.ErrNotLoaded, http.StatusNotFound, "not_found"},
		{fmt.Errorf("tag: %w", repos.ErrConflict), http.StatusConflict, "conflict"},
		{types.ErrGenerationInFlight, http.StatusConflict, "generation_in_flight"},
		{types.ErrInsufficientCredits, http.StatusPaymentRequired, "insufficient_credits"},
		{types.ErrUnsavedChanges, http.StatusConflict, "unsaved_changes"},
		{types.ErrConfirmDiscard, http.StatusConflict, "confirm_discard"},
		{fmt.Errorf("%w: nope", lifecycle.ErrGenerationRejected), http.StatusBadGateway, "generation_rejected"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		status, code := Classify(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, code, tc.err.Error())
	}
}

func TestRespondErrEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	RespondErr(c, types.ErrInsufficientCredits)

	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	var env ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "insufficient_credits", env.Error.Code)
	assert.Equal(t, "insufficient credits", env.Error.Message)
}
