package invoker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/api/serviceerror"
	temporalsdkclient "go.temporal.io/sdk/client"

	types "github.com/yungbote/talkinghead-backend/internal/domain"
	"github.com/yungbote/talkinghead-backend/internal/platform/httpx"
	"github.com/yungbote/talkinghead-backend/internal/platform/logger"
	"github.com/yungbote/talkinghead-backend/internal/temporalx/generation"
)

type fakeStarter struct {
	opts     temporalsdkclient.StartWorkflowOptions
	workflow interface{}
	args     []interface{}
	err      error
}

func (f *fakeStarter) ExecuteWorkflow(ctx context.Context, options temporalsdkclient.StartWorkflowOptions, workflow interface{}, args ...interface{}) (temporalsdkclient.WorkflowRun, error) {
	f.opts, f.workflow, f.args = options, workflow, args
	return nil, f.err
}

func samplePayload() (generation.Job, Request) {
	job := generation.Job{
		Type:        "image_generation",
		PipelineID:  uuid.New(),
		UserID:      uuid.New(),
		Stage:       types.StageFirstFrame,
		AttemptID:   uuid.New(),
		CreditsCost: 50000,
		Input:       map[string]any{"prompt": "a host", "resolution": "1k"},
	}
	return job, Request{Type: job.Type, Payload: job.Payload()}
}

func TestTemporalInvokerStartsWorkflowPerAttempt(t *testing.T) {
	starter := &fakeStarter{}
	inv := NewTemporalInvoker(logger.NewNop(), starter, "q")
	job, req := samplePayload()

	res, err := inv.Invoke(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, generation.WorkflowID(job.AttemptID), starter.opts.ID)
	assert.Equal(t, "q", starter.opts.TaskQueue)
	assert.Equal(t, generation.WorkflowName, starter.workflow)
	require.Len(t, starter.args, 1)
	got := starter.args[0].(generation.Job)
	assert.Equal(t, job.PipelineID, got.PipelineID)
	assert.Equal(t, "a host", got.Input["prompt"])
}

func TestTemporalInvokerDuplicateIsAccepted(t *testing.T) {
	starter := &fakeStarter{err: serviceerror.NewWorkflowExecutionAlreadyStarted("exists", "", "")}
	_, req := samplePayload()
	res, err := NewTemporalInvoker(logger.NewNop(), starter, "q").Invoke(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestTemporalInvokerErrors(t *testing.T) {
	_, req := samplePayload()

	_, err := NewTemporalInvoker(logger.NewNop(), nil, "q").Invoke(context.Background(), req)
	assert.Error(t, err)

	_, err = NewTemporalInvoker(logger.NewNop(), &fakeStarter{err: errors.New("unavailable")}, "q").Invoke(context.Background(), req)
	assert.Error(t, err)

	res, err := NewTemporalInvoker(logger.NewNop(), &fakeStarter{}, "q").Invoke(context.Background(), Request{Type: "image_generation", Payload: map[string]any{}})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
}

func TestHTTPInvoker(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		switch got.Type {
		case "image_generation":
			_, _ = w.Write([]byte(`{"success":true}`))
		case "script_generation":
			_, _ = w.Write([]byte(`{"success":false,"error":"quota exceeded"}`))
		case "speech_generation":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"bad voice","code":"invalid_input"}}`))
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	inv, err := NewHTTPInvoker(logger.NewNop(), srv.URL, "secret", srv.Client())
	require.NoError(t, err)

	res, err := inv.Invoke(context.Background(), Request{Type: "image_generation", Payload: map[string]any{"prompt": "x"}})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "x", got.Payload["prompt"])

	res, err = inv.Invoke(context.Background(), Request{Type: "script_generation"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "quota exceeded", res.Error)

	res, err = inv.Invoke(context.Background(), Request{Type: "speech_generation"})
	require.NoError(t, err)
	assert.Equal(t, "bad voice", res.Error)

	_, err = inv.Invoke(context.Background(), Request{Type: "video_generation"})
	var se *httpx.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Code)
}

func TestNewSelectsMode(t *testing.T) {
	inv, err := New(logger.NewNop(), Config{Mode: ModeTemporal}, nil, "q")
	require.NoError(t, err)
	assert.IsType(t, &TemporalInvoker{}, inv)

	_, err = New(logger.NewNop(), Config{Mode: ModeHTTP}, nil, "q")
	assert.Error(t, err)

	_, err = New(logger.NewNop(), Config{Mode: "carrier-pigeon"}, nil, "q")
	assert.Error(t, err)
}
