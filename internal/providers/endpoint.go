package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/yungbote/talkinghead-backend/internal/platform/httpx"
	"github.com/yungbote/talkinghead-backend/internal/platform/logger"
)

// EndpointProvider drives a queue-style inference endpoint: POST <base>/run
// returns a job id, GET <base>/status/<id> reports progress and, once
// COMPLETED, an output carrying the produced file's URL.
type EndpointProvider struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	field      string
	keep       []string
	httpClient *http.Client
}

type EndpointConfig struct {
	BaseURL string
	APIKey  string
	// Field is the output key holding the produced asset URL.
	Field string
	// Keep lists input fields copied into the stage output.
	Keep    []string
	Timeout time.Duration
}

func NewEndpointProvider(log *logger.Logger, cfg EndpointConfig) (*EndpointProvider, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("endpoint provider: missing base url")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("endpoint provider: %w", err)
	}
	if cfg.Field == "" {
		cfg.Field = "video_url"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &EndpointProvider{
		log:        log.With("service", "EndpointProvider", "endpoint", base),
		baseURL:    base,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		field:      cfg.Field,
		keep:       cfg.Keep,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type endpointJob struct {
	ID     string         `json:"id"`
	Status string         `json:"status"`
	Output map[string]any `json:"output,omitempty"`
	Error  any            `json:"error,omitempty"`
}

// handle carries the id plus the input fields the final output keeps.
type endpointHandle struct {
	ID   string         `json:"id"`
	Keep map[string]any `json:"keep,omitempty"`
}

func (p *EndpointProvider) Submit(ctx context.Context, req Request) (Step, error) {
	var job endpointJob
	if err := p.call(ctx, http.MethodPost, "/run", map[string]any{"input": req.Input}, &job); err != nil {
		return Step{}, err
	}
	if strings.TrimSpace(job.ID) == "" {
		return Step{}, fmt.Errorf("endpoint returned no job id")
	}
	h := endpointHandle{ID: job.ID, Keep: map[string]any{}}
	for _, k := range p.keep {
		if v, ok := req.Input[k]; ok {
			h.Keep[k] = v
		}
	}
	raw, err := json.Marshal(h)
	if err != nil {
		return Step{}, err
	}
	p.log.Info("Endpoint job submitted", "job_id", job.ID, "status", job.Status, "job_type", req.JobType)
	return p.step(ctx, h, job, string(raw))
}

func (p *EndpointProvider) Poll(ctx context.Context, handle string) (Step, error) {
	var h endpointHandle
	if err := json.Unmarshal([]byte(handle), &h); err != nil || h.ID == "" {
		return Step{}, fmt.Errorf("bad endpoint handle %q", handle)
	}
	var job endpointJob
	if err := p.call(ctx, http.MethodGet, "/status/"+url.PathEscape(h.ID), nil, &job); err != nil {
		return Step{}, err
	}
	return p.step(ctx, h, job, handle)
}

func (p *EndpointProvider) step(ctx context.Context, h endpointHandle, job endpointJob, handle string) (Step, error) {
	switch strings.ToUpper(strings.TrimSpace(job.Status)) {
	case "COMPLETED":
	case "FAILED", "CANCELLED", "TIMED_OUT":
		msg := errorText(job.Error)
		if msg == "" {
			msg = "generation job " + strings.ToLower(job.Status)
		}
		return Step{}, &JobError{Message: msg}
	default:
		return Step{Handle: handle}, nil
	}

	src := str(job.Output, p.field)
	if src == "" {
		src = str(job.Output, "url")
	}
	if src == "" {
		return Step{}, &JobError{Message: "generation finished without a " + p.field}
	}
	data, contentType, err := fetch(ctx, p.httpClient, src)
	if err != nil {
		return Step{}, fmt.Errorf("download result: %w", err)
	}

	out := map[string]any{}
	for k, v := range h.Keep {
		out[k] = v
	}
	for k, v := range job.Output {
		if k != p.field && k != "url" {
			out[k] = v
		}
	}
	out["provider_job_id"] = h.ID
	return Step{
		Done:   true,
		Handle: handle,
		Output: out,
		Assets: []Asset{{Field: p.field, Data: data, ContentType: contentType}},
	}, nil
}

func (p *EndpointProvider) call(ctx context.Context, method, path string, body any, out any) error {
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := &httpx.StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
		if !httpx.IsRetryableHTTPStatus(resp.StatusCode) {
			return &JobError{Message: se.Error()}
		}
		return se
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode endpoint response: %w", err)
	}
	return nil
}

func errorText(v any) string {
	switch e := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(e)
	case map[string]any:
		if m, ok := e["message"].(string); ok {
			return strings.TrimSpace(m)
		}
	}
	raw, _ := json.Marshal(v)
	return string(raw)
}

// fetch downloads a produced file. The content type is sniffed when the
// server does not send a useful one.
func fetch(ctx context.Context, c *http.Client, src string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", &httpx.StatusError{Code: resp.StatusCode}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	ct := strings.TrimSpace(strings.Split(resp.Header.Get("Content-Type"), ";")[0])
	if ct == "" || ct == "application/octet-stream" || ct == "binary/octet-stream" {
		ct = mimetype.Detect(data).String()
	}
	return data, ct, nil
}
