package providers

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/talkinghead-backend/internal/platform/httpx"
	"github.com/yungbote/talkinghead-backend/internal/platform/logger"
	"github.com/yungbote/talkinghead-backend/internal/platform/openai"
	"github.com/yungbote/talkinghead-backend/internal/stages"
)

type fakeAI struct {
	text     string
	image    openai.ImageGeneration
	speech   openai.Speech
	err      error
	lastImg  openai.ImageRequest
	lastUser string
}

func (f *fakeAI) GenerateText(ctx context.Context, system, user string) (string, error) {
	f.lastUser = user
	return f.text, f.err
}

func (f *fakeAI) GenerateImage(ctx context.Context, req openai.ImageRequest) (openai.ImageGeneration, error) {
	f.lastImg = req
	return f.image, f.err
}

func (f *fakeAI) GenerateSpeech(ctx context.Context, req openai.SpeechRequest) (openai.Speech, error) {
	return f.speech, f.err
}

func pngOf(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

// pcmWav builds a mono 16-bit wav with the given sample rate and sample count.
func pcmWav(rate, samples int) []byte {
	data := make([]byte, samples*2)
	var b bytes.Buffer
	b.WriteString("RIFF")
	_ = binary.Write(&b, binary.LittleEndian, uint32(36+len(data)))
	b.WriteString("WAVEfmt ")
	_ = binary.Write(&b, binary.LittleEndian, uint32(16))
	_ = binary.Write(&b, binary.LittleEndian, uint16(1))
	_ = binary.Write(&b, binary.LittleEndian, uint16(1))
	_ = binary.Write(&b, binary.LittleEndian, uint32(rate))
	_ = binary.Write(&b, binary.LittleEndian, uint32(rate*2))
	_ = binary.Write(&b, binary.LittleEndian, uint16(2))
	_ = binary.Write(&b, binary.LittleEndian, uint16(16))
	b.WriteString("data")
	_ = binary.Write(&b, binary.LittleEndian, uint32(len(data)))
	b.Write(data)
	return b.Bytes()
}

func TestImageProvider(t *testing.T) {
	ai := &fakeAI{image: openai.ImageGeneration{Bytes: pngOf(t, 40, 30), MimeType: "image/png"}}
	p := &ImageProvider{Client: ai}

	step, err := p.Submit(context.Background(), Request{Input: map[string]any{"prompt": "a chef", "resolution": "2K", "style": "film"}})
	require.NoError(t, err)
	assert.True(t, step.Done)
	assert.Equal(t, "1536x1536", ai.lastImg.Size)
	assert.Contains(t, ai.lastImg.Prompt, "Style: film")
	assert.Equal(t, 40, step.Output["width"])
	assert.Equal(t, 30, step.Output["height"])
	require.Len(t, step.Assets, 1)
	assert.Equal(t, "image_url", step.Assets[0].Field)

	_, err = p.Submit(context.Background(), Request{Input: map[string]any{"prompt": "x", "resolution": "8k"}})
	assert.True(t, IsJobError(err))
}

func TestProviderClientErrorsBecomeJobErrors(t *testing.T) {
	p := &ImageProvider{Client: &fakeAI{err: &httpx.StatusError{Code: 400, Body: "bad prompt"}}}
	_, err := p.Submit(context.Background(), Request{Input: map[string]any{"prompt": "x", "resolution": "1k"}})
	assert.True(t, IsJobError(err))

	p = &ImageProvider{Client: &fakeAI{err: &httpx.StatusError{Code: 503}}}
	_, err = p.Submit(context.Background(), Request{Input: map[string]any{"prompt": "x", "resolution": "1k"}})
	require.Error(t, err)
	assert.False(t, IsJobError(err))
}

func TestScriptProvider(t *testing.T) {
	ai := &fakeAI{text: "  Welcome to the kitchen. Today we bake bread.  "}
	p := &ScriptProvider{Client: ai, CharsPerSecond: 15}

	step, err := p.Submit(context.Background(), Request{Input: map[string]any{"topic": "bread", "target_chars": float64(500)}})
	require.NoError(t, err)
	assert.Equal(t, "Welcome to the kitchen. Today we bake bread.", step.Output["text"])
	assert.Equal(t, 44, step.Output["char_count"])
	assert.Equal(t, 3, step.Output["estimated_duration"])
	assert.Contains(t, ai.lastUser, "about 500 characters")
	assert.Empty(t, step.Assets)
}

func TestSpeechProviderMeasuresWav(t *testing.T) {
	p := &SpeechProvider{Client: &fakeAI{speech: openai.Speech{Bytes: pcmWav(8000, 8000*5/2), MimeType: "audio/wav"}}, CharsPerSecond: 15}
	step, err := p.Submit(context.Background(), Request{Input: map[string]any{"text": "hello", "voice_id": "alloy"}})
	require.NoError(t, err)
	assert.Equal(t, 2.5, step.Output["duration_seconds"])
	assert.Equal(t, "audio_url", step.Assets[0].Field)
}

func TestSpeechProviderEstimatesOtherFormats(t *testing.T) {
	p := &SpeechProvider{Client: &fakeAI{speech: openai.Speech{Bytes: []byte("ID3..."), MimeType: "audio/mpeg"}}, CharsPerSecond: 15}
	step, err := p.Submit(context.Background(), Request{Input: map[string]any{"text": "0123456789012345", "voice_id": "alloy"}})
	require.NoError(t, err)
	assert.Equal(t, float64(2), step.Output["duration_seconds"])
}

func TestWavDurationRejectsGarbage(t *testing.T) {
	_, ok := wavDuration([]byte("not a wav file at all"))
	assert.False(t, ok)
}

func endpointServer(t *testing.T, final string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var polls atomic.Int32
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/run", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer ep-key", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"id":"job-1","status":"IN_QUEUE"}`))
	})
	mux.HandleFunc("/status/job-1", func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) == 1 {
			_, _ = w.Write([]byte(`{"id":"job-1","status":"IN_PROGRESS"}`))
			return
		}
		switch final {
		case "COMPLETED":
			_, _ = w.Write([]byte(`{"id":"job-1","status":"COMPLETED","output":{"video_url":"` + srv.URL + `/file.mp4","fps":25}}`))
		default:
			_, _ = w.Write([]byte(`{"id":"job-1","status":"FAILED","error":"face not detected"}`))
		}
	})
	mux.HandleFunc("/file.mp4", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write([]byte("mp4-bytes"))
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &polls
}

func TestEndpointProviderSubmitAndPoll(t *testing.T) {
	srv, _ := endpointServer(t, "COMPLETED")
	p, err := NewEndpointProvider(logger.NewNop(), EndpointConfig{BaseURL: srv.URL, APIKey: "ep-key", Keep: []string{"duration_seconds"}})
	require.NoError(t, err)
	ctx := context.Background()

	step, err := p.Submit(ctx, Request{JobType: stages.JobLipSyncGeneration, Input: map[string]any{"image_url": "i", "audio_url": "a", "duration_seconds": 6.2}})
	require.NoError(t, err)
	assert.False(t, step.Done)
	require.NotEmpty(t, step.Handle)

	step, err = p.Poll(ctx, step.Handle)
	require.NoError(t, err)
	assert.False(t, step.Done)

	step, err = p.Poll(ctx, step.Handle)
	require.NoError(t, err)
	require.True(t, step.Done)
	assert.Equal(t, 6.2, step.Output["duration_seconds"])
	assert.EqualValues(t, 25, step.Output["fps"])
	assert.Equal(t, "job-1", step.Output["provider_job_id"])
	require.Len(t, step.Assets, 1)
	assert.Equal(t, []byte("mp4-bytes"), step.Assets[0].Data)
	assert.Equal(t, "video/mp4", step.Assets[0].ContentType)
}

func TestEndpointProviderFailure(t *testing.T) {
	srv, _ := endpointServer(t, "FAILED")
	p, err := NewEndpointProvider(logger.NewNop(), EndpointConfig{BaseURL: srv.URL, APIKey: "ep-key"})
	require.NoError(t, err)
	ctx := context.Background()

	step, err := p.Submit(ctx, Request{Input: map[string]any{}})
	require.NoError(t, err)
	_, err = p.Poll(ctx, step.Handle)
	require.NoError(t, err)
	_, err = p.Poll(ctx, step.Handle)
	var je *JobError
	require.True(t, errors.As(err, &je))
	assert.Equal(t, "face not detected", je.Message)
}

func TestEndpointProviderHTTPErrors(t *testing.T) {
	var code atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(code.Load()))
	}))
	t.Cleanup(srv.Close)
	p, err := NewEndpointProvider(logger.NewNop(), EndpointConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	code.Store(http.StatusUnprocessableEntity)
	_, err = p.Submit(context.Background(), Request{Input: map[string]any{}})
	assert.True(t, IsJobError(err))

	code.Store(http.StatusServiceUnavailable)
	_, err = p.Submit(context.Background(), Request{Input: map[string]any{}})
	require.Error(t, err)
	assert.False(t, IsJobError(err))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(stages.JobScriptGeneration, &ScriptProvider{Client: &fakeAI{}})
	_, err := r.Get(stages.JobScriptGeneration)
	require.NoError(t, err)
	_, err = r.Get(stages.JobVideoGeneration)
	assert.True(t, errors.Is(err, ErrNoProvider))
}

func TestDefaultRegistrySkipsUnconfiguredEndpoints(t *testing.T) {
	r, err := NewDefaultRegistry(logger.NewNop(), &fakeAI{}, stages.Default(), Config{LipSyncURL: "http://lipsync.local"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []stages.JobType{
		stages.JobImageGeneration, stages.JobScriptGeneration, stages.JobSpeechGeneration, stages.JobLipSyncGeneration,
	}, r.JobTypes())
}
