package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/talkinghead-backend/internal/credits"
	"github.com/yungbote/talkinghead-backend/internal/data/repos"
	"github.com/yungbote/talkinghead-backend/internal/data/repos/testutil"
	types "github.com/yungbote/talkinghead-backend/internal/domain"
	"github.com/yungbote/talkinghead-backend/internal/invoker"
	"github.com/yungbote/talkinghead-backend/internal/lifecycle"
	"github.com/yungbote/talkinghead-backend/internal/notify"
	"github.com/yungbote/talkinghead-backend/internal/platform/ctxutil"
	"github.com/yungbote/talkinghead-backend/internal/platform/dbctx"
	"github.com/yungbote/talkinghead-backend/internal/platform/gcp"
	"github.com/yungbote/talkinghead-backend/internal/realtime"
	"github.com/yungbote/talkinghead-backend/internal/services"
	"github.com/yungbote/talkinghead-backend/internal/shell"
	"github.com/yungbote/talkinghead-backend/internal/stages"
	"github.com/yungbote/talkinghead-backend/internal/uploads"
)

type recordingInvoker struct {
	mu    sync.Mutex
	calls []invoker.Request
}

func (r *recordingInvoker) Invoke(ctx context.Context, req invoker.Request) (invoker.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, req)
	return invoker.Result{Success: true}, nil
}

func (r *recordingInvoker) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type memBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (b *memBucket) UploadFile(dbc dbctx.Context, category gcp.BucketCategory, key string, file io.Reader, contentType string) error {
	raw, err := io.ReadAll(file)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = raw
	return nil
}

func (b *memBucket) DeleteFile(dbc dbctx.Context, category gcp.BucketCategory, key string) error {
	return nil
}

func (b *memBucket) DownloadFile(ctx context.Context, category gcp.BucketCategory, key string) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}

func (b *memBucket) GetPublicURL(category gcp.BucketCategory, key string) string {
	return "https://cdn.test/" + key
}

type testServer struct {
	router    *gin.Engine
	hub       *realtime.SSEHub
	pipelines services.PipelineService
	functions *recordingInvoker
	bucket    *memBucket
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.DB(t)
	log := testutil.Logger(t)
	r := repos.New(db, log)
	hub := realtime.NewSSEHub(log)
	emit := &realtime.HubEmitter{Hub: hub}
	catalog := stages.Default()

	pipelines := services.NewPipelineService(db, log, r, services.NewRowPublisher(emit))
	creditSvc := services.NewCreditService(log, r.Credits, credits.FromCredits(1))
	n := notify.New(log, emit, "/billing")
	lc := lifecycle.NewManager(lifecycle.Deps{
		Log:      log,
		Catalog:  catalog,
		Store:    pipelines,
		Balances: creditSvc,
		Invoker:  &recordingInvoker{},
		Notify:   n,
		Hub:      hub,
	}, lifecycle.Config{})
	t.Cleanup(lc.Close)
	shells := shell.NewManager(log, pipelines, n, lc, shell.Config{MetadataDelay: time.Minute, SaveTimeout: time.Second})

	ts := &testServer{
		hub:       hub,
		pipelines: pipelines,
		functions: &recordingInvoker{},
		bucket:    &memBucket{objects: map[string][]byte{}},
	}

	pipelineH := NewPipelineHandler(log, pipelines, shells)
	stageH := NewStageHandler(log, shells, catalog, n)
	functionsH := NewFunctionsHandler(log, pipelines, catalog, ts.functions)
	uploadH := NewUploadHandler(log, uploads.New(log, ts.bucket))
	tagH := NewTagHandler(log, services.NewTagService(log, r.Tags))
	creditH := NewCreditHandler(log, creditSvc, pipelines, catalog)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		if raw := c.GetHeader("X-Test-User"); raw != "" {
			id := uuid.MustParse(raw)
			c.Request = c.Request.WithContext(ctxutil.WithRequestData(c.Request.Context(), &ctxutil.RequestData{UserID: id, SessionID: id}))
		}
		c.Next()
	})
	api := router.Group("/api")
	api.POST("/pipelines", pipelineH.CreatePipeline)
	api.GET("/pipelines", pipelineH.ListPipelines)
	api.GET("/pipelines/:id", pipelineH.GetPipeline)
	api.GET("/pipelines/:id/view", pipelineH.GetView)
	api.PATCH("/pipelines/:id/metadata", pipelineH.EditMetadata)
	api.POST("/pipelines/:id/navigate", pipelineH.Navigate)
	api.POST("/pipelines/:id/close", pipelineH.ClosePipeline)
	api.PATCH("/pipelines/:id/stages/:stage/input", stageH.SaveInput)
	api.POST("/pipelines/:id/stages/:stage/input/flush", stageH.FlushInput)
	api.POST("/pipelines/:id/stages/:stage/generate", stageH.Generate)
	api.GET("/pipelines/:id/stages/:stage/download", stageH.Download)
	api.GET("/pipelines/:id/stages/:stage/copy", stageH.Copy)
	api.POST("/functions/invoke", functionsH.Invoke)
	api.POST("/uploads", uploadH.Upload)
	api.GET("/tags", tagH.ListTags)
	api.POST("/tags", tagH.CreateTag)
	api.DELETE("/tags/:id", tagH.DeleteTag)
	api.GET("/credits/balance", creditH.Balance)
	api.POST("/credits/estimate", creditH.Estimate)
	ts.router = router
	return ts
}

func (ts *testServer) do(t *testing.T, user uuid.UUID, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != uuid.Nil {
		req.Header.Set("X-Test-User", user.String())
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode(t, w)
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func (ts *testServer) createPipeline(t *testing.T, owner uuid.UUID) string {
	t.Helper()
	w := ts.do(t, owner, http.MethodPost, "/api/pipelines", map[string]any{
		"project_id":    uuid.NewString(),
		"pipeline_type": "talking_head",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	p := decode(t, w)["pipeline"].(map[string]any)
	return p["id"].(string)
}

func TestUnauthenticatedRequestsAreRejected(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, uuid.Nil, http.MethodGet, "/api/tags", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthorized", errorCode(t, w))
}

func TestPipelineCreateGetListAndOwnership(t *testing.T) {
	ts := newTestServer(t)
	owner := uuid.New()
	id := ts.createPipeline(t, owner)

	w := ts.do(t, owner, http.MethodGet, "/api/pipelines/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	p := decode(t, w)["pipeline"].(map[string]any)
	assert.Equal(t, "Untitled pipeline", p["name"])
	assert.Equal(t, "first_frame", p["current_stage"])

	w = ts.do(t, owner, http.MethodGet, "/api/pipelines", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["pipelines"], 1)

	w = ts.do(t, uuid.New(), http.MethodGet, "/api/pipelines/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, owner, http.MethodGet, "/api/pipelines/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_id", errorCode(t, w))

	w = ts.do(t, owner, http.MethodGet, "/api/pipelines?project_id=nope", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestViewNavigateAndClose(t *testing.T) {
	ts := newTestServer(t)
	owner := uuid.New()
	id := ts.createPipeline(t, owner)

	w := ts.do(t, owner, http.MethodGet, "/api/pipelines/"+id+"/view", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	view := body["view"].(map[string]any)
	assert.Equal(t, true, view["loaded"])
	assert.Len(t, view["stages"], 4)

	w = ts.do(t, owner, http.MethodPost, "/api/pipelines/"+id+"/navigate", map[string]any{"stage": "voice"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "voice", decode(t, w)["shell"].(map[string]any)["active_stage"])

	w = ts.do(t, owner, http.MethodPost, "/api/pipelines/"+id+"/navigate", map[string]any{"stage": "final_video"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, owner, http.MethodPatch, "/api/pipelines/"+id+"/metadata", map[string]any{"name": "Launch video"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, true, decode(t, w)["shell"].(map[string]any)["dirty"])

	w = ts.do(t, owner, http.MethodPost, "/api/pipelines/"+id+"/close", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "unsaved_changes", errorCode(t, w))

	w = ts.do(t, owner, http.MethodPost, "/api/pipelines/"+id+"/close", map[string]any{"choice": "save"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decode(t, w)["closed"])

	w = ts.do(t, owner, http.MethodGet, "/api/pipelines/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Launch video", decode(t, w)["pipeline"].(map[string]any)["name"])
}

func TestPasteScriptThenCopyAndDownload(t *testing.T) {
	ts := newTestServer(t)
	owner := uuid.New()
	id := ts.createPipeline(t, owner)
	notes, cancel := ts.hub.Subscribe(realtime.UserChannel(owner))
	defer cancel()

	w := ts.do(t, owner, http.MethodPost, "/api/pipelines/"+id+"/stages/script/generate", map[string]any{
		"params": map[string]any{"mode": "paste", "text": "Hello from the studio."},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	attempt := decode(t, w)["attempt"].(map[string]any)
	assert.Equal(t, true, attempt["sync"])

	w = ts.do(t, owner, http.MethodGet, "/api/pipelines/"+id+"/stages/script/copy", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Hello from the studio.", decode(t, w)["text"])
	assert.True(t, sawNotification(notes, notify.KindCopySucceeded))

	w = ts.do(t, owner, http.MethodGet, "/api/pipelines/"+id+"/stages/script/download", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "not_downloadable", errorCode(t, w))

	w = ts.do(t, owner, http.MethodGet, "/api/pipelines/"+id+"/stages/first_frame/download", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "no_output", errorCode(t, w))
	assert.True(t, sawNotification(notes, notify.KindDownloadFailed))

	w = ts.do(t, owner, http.MethodGet, "/api/pipelines/"+id+"/stages/voice/copy", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadedFirstFrameIsDownloadable(t *testing.T) {
	ts := newTestServer(t)
	owner := uuid.New()
	id := ts.createPipeline(t, owner)

	w := ts.do(t, owner, http.MethodPost, "/api/pipelines/"+id+"/stages/first_frame/generate", map[string]any{
		"params": map[string]any{"mode": "upload", "image_url": "https://cdn.test/face.png"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(t, owner, http.MethodGet, "/api/pipelines/"+id+"/stages/first_frame/download", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "https://cdn.test/face.png", decode(t, w)["url"])
}

func TestSaveInputAndFlush(t *testing.T) {
	ts := newTestServer(t)
	owner := uuid.New()
	id := ts.createPipeline(t, owner)

	w := ts.do(t, owner, http.MethodPatch, "/api/pipelines/"+id+"/stages/first_frame/input", map[string]any{"prompt": "a news anchor"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	w = ts.do(t, owner, http.MethodPost, "/api/pipelines/"+id+"/stages/first_frame/input/flush", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	pipelineID := uuid.MustParse(id)
	p, err := ts.pipelines.Get(context.Background(), owner, pipelineID)
	require.NoError(t, err)
	assert.Equal(t, "a news anchor", p.Stage("first_frame").InputMap()["prompt"])
}

func TestGenerateRejectsMissingFields(t *testing.T) {
	ts := newTestServer(t)
	owner := uuid.New()
	id := ts.createPipeline(t, owner)

	w := ts.do(t, owner, http.MethodPost, "/api/pipelines/"+id+"/stages/first_frame/generate", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_failed", errorCode(t, w))
}

func TestFunctionsInvokeChecksCaller(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	owner := uuid.New()
	id := ts.createPipeline(t, owner)
	attemptID := uuid.New()
	payload := map[string]any{
		"pipeline_id":  id,
		"user_id":      owner.String(),
		"stage":        "first_frame",
		"attempt_id":   attemptID.String(),
		"credits_cost": 1,
		"prompt":       "anchor",
		"resolution":   "4k",
	}
	invoke := func(user uuid.UUID, typ string) *httptest.ResponseRecorder {
		return ts.do(t, user, http.MethodPost, "/api/functions/invoke", map[string]any{"type": typ, "payload": payload})
	}

	w := invoke(uuid.New(), "image_generation")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = invoke(owner, "image_generation")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "attempt_not_in_flight", errorCode(t, w))
	assert.Equal(t, 0, ts.functions.count())

	_, err := ts.pipelines.BeginAttempt(ctx, owner, uuid.MustParse(id), types.StageFirstFrame, services.Attempt{
		ID:    attemptID,
		Input: map[string]any{"prompt": "anchor", "resolution": "1k"},
		Cost:  50_000,
	})
	require.NoError(t, err)

	w = invoke(owner, "video_generation")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "job_type_mismatch", errorCode(t, w))

	w = invoke(owner, "image_generation")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decode(t, w)["success"])
	require.Equal(t, 1, ts.functions.count())
	sent := ts.functions.calls[0].Payload
	assert.EqualValues(t, 50_000, sent["credits_cost"])
	assert.Equal(t, "1k", sent["resolution"])

	_, err = ts.pipelines.FailAttempt(ctx, uuid.MustParse(id), types.StageFirstFrame, attemptID, "provider timeout")
	require.NoError(t, err)
	w = invoke(owner, "image_generation")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, 1, ts.functions.count())

	w = invoke(owner, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["success"])
}

func TestTagsLifecycle(t *testing.T) {
	ts := newTestServer(t)
	owner := uuid.New()

	w := ts.do(t, owner, http.MethodPost, "/api/tags", map[string]any{"name": "Client A", "color": "#AABBCC"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	tag := decode(t, w)["tag"].(map[string]any)

	w = ts.do(t, owner, http.MethodPost, "/api/tags", map[string]any{"name": "client a"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(t, owner, http.MethodPost, "/api/tags", map[string]any{"name": "x", "color": "red"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, owner, http.MethodGet, "/api/tags", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["tags"], 1)

	w = ts.do(t, owner, http.MethodDelete, "/api/tags/"+tag["id"].(string), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestCreditsBalanceAndEstimate(t *testing.T) {
	ts := newTestServer(t)
	owner := uuid.New()

	w := ts.do(t, owner, http.MethodGet, "/api/credits/balance", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.InDelta(t, 1.0, decode(t, w)["balance"], 1e-9)

	w = ts.do(t, owner, http.MethodPost, "/api/credits/estimate", map[string]any{
		"stage": "first_frame",
		"input": map[string]any{"prompt": "anchor", "resolution": "2k"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "generate", body["mode"])
	assert.InDelta(t, 0.10, body["estimate"], 1e-9)

	w = ts.do(t, owner, http.MethodPost, "/api/credits/estimate", map[string]any{
		"stage": "first_frame",
		"input": map[string]any{"prompt": "anchor"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_failed", errorCode(t, w))

	w = ts.do(t, owner, http.MethodPost, "/api/credits/estimate", map[string]any{"stage": "nope"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadImage(t *testing.T) {
	ts := newTestServer(t)
	owner := uuid.New()

	var img bytes.Buffer
	require.NoError(t, png.Encode(&img, image.NewRGBA(image.Rect(0, 0, 3, 2))))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "face.png")
	require.NoError(t, err)
	_, err = fw.Write(img.Bytes())
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("kind", "image"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/uploads", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Test-User", owner.String())
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	res := decode(t, w)
	assert.Equal(t, "image/png", res["content_type"])
	assert.EqualValues(t, 3, res["width"])
	assert.Contains(t, res["url"], "images/"+owner.String()+"/")
	assert.Len(t, ts.bucket.objects, 1)

	req = httptest.NewRequest(http.MethodPost, "/api/uploads", nil)
	req.Header.Set("X-Test-User", owner.String())
	w = httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func sawNotification(ch <-chan realtime.SSEMessage, kind notify.Kind) bool {
	deadline := time.After(time.Second)
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return false
			}
			if n, ok := msg.Data.(notify.Notification); ok && n.Kind == kind {
				return true
			}
		case <-deadline:
			return false
		}
	}
}
