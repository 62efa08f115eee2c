package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/talkinghead-backend/internal/platform/httpx"
	"github.com/yungbote/talkinghead-backend/internal/platform/logger"
)

func testClient(t *testing.T, h http.Handler, retries int) Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	log, err := logger.New("development")
	require.NoError(t, err)
	c, err := NewClientWithConfig(log, Config{
		APIKey:      "sk-test",
		BaseURL:     srv.URL,
		Model:       "gpt-test",
		ImageModel:  "gpt-image-1",
		SpeechModel: "tts-test",
		SpeechVoice: "alloy",
		Timeout:     5 * time.Second,
		MaxRetries:  retries,
	})
	require.NoError(t, err)
	return c
}

func TestNewClientRequiresKey(t *testing.T) {
	log, err := logger.New("development")
	require.NoError(t, err)
	_, err = NewClientWithConfig(log, Config{})
	require.Error(t, err)
}

func TestGenerateText(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/responses", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var req responsesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-test", req.Model)
		require.Len(t, req.Input, 2)
		_, _ = w.Write([]byte(`{"output":[{"type":"message","role":"assistant","content":[{"type":"output_text","text":"Hello "},{"type":"output_text","text":"there."}]}]}`))
	}), 0)

	text, err := c.GenerateText(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, "Hello there.", text)
}

func TestGenerateImageDecodesBase64(t *testing.T) {
	payload := []byte("\x89PNG fake")
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req imagesGenerationRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "2048x2048", req.Size)
		assert.Empty(t, req.ResponseFormat)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"b64_json": base64.StdEncoding.EncodeToString(payload)}},
		})
	}), 0)

	img, err := c.GenerateImage(context.Background(), ImageRequest{Prompt: "a portrait", Size: "2048x2048"})
	require.NoError(t, err)
	assert.Equal(t, payload, img.Bytes)
	assert.Equal(t, "image/png", img.MimeType)
}

func TestGenerateSpeechFallsBackToFormatMime(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/speech", r.URL.Path)
		var req speechRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nova", req.Voice)
		assert.Equal(t, "mp3", req.ResponseFormat)
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte("ID3audio"))
	}), 0)

	sp, err := c.GenerateSpeech(context.Background(), SpeechRequest{Text: "hi", Voice: "nova", Format: "mp3"})
	require.NoError(t, err)
	assert.Equal(t, "audio/mpeg", sp.MimeType)
	assert.Equal(t, []byte("ID3audio"), sp.Bytes)
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"output":[{"type":"message","role":"assistant","content":[{"type":"output_text","text":"ok"}]}]}`))
	}), 1)

	text, err := c.GenerateText(context.Background(), "", "u")
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.EqualValues(t, 2, calls.Load())
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"prompt rejected by safety system"}}`))
	}), 3)

	_, err := c.GenerateImage(context.Background(), ImageRequest{Prompt: "x"})
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())
	assert.False(t, httpx.IsRetryableError(err))
	assert.Equal(t, "openai 400: prompt rejected by safety system", ErrorMessage(err))
	assert.Equal(t, "boom", ErrorMessage(errors.New("boom")))
}
