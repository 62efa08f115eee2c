package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yungbote/talkinghead-backend/internal/platform/httpx"
	"github.com/yungbote/talkinghead-backend/internal/platform/logger"
)

// HTTPInvoker posts the request to a remote generation function.
type HTTPInvoker struct {
	log   *logger.Logger
	url   string
	token string
	hc    *http.Client
}

func NewHTTPInvoker(log *logger.Logger, url, token string, hc *http.Client) (*HTTPInvoker, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("missing FUNCTIONS_URL")
	}
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPInvoker{
		log:   log.With("service", "HTTPInvoker"),
		url:   url,
		token: strings.TrimSpace(token),
		hc:    hc,
	}, nil
}

func (inv *HTTPInvoker) Invoke(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, inv.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if inv.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+inv.token)
	}

	resp, err := inv.hc.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("invoke %s: %w", req.Type, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var out Result
	decodeErr := json.Unmarshal(raw, &out)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decodeErr == nil && out.Error != "" {
			return Result{Success: false, Error: out.Error}, nil
		}
		if msg := envelopeMessage(raw); msg != "" {
			return Result{Success: false, Error: msg}, nil
		}
		return Result{}, &httpx.StatusError{Code: resp.StatusCode, Body: string(raw)}
	}
	if decodeErr != nil {
		return Result{}, fmt.Errorf("decode invoke response: %w", decodeErr)
	}
	return out, nil
}

// envelopeMessage reads the {"error":{"message"}} envelope the API uses.
func envelopeMessage(raw []byte) string {
	var env struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return ""
	}
	return strings.TrimSpace(env.Error.Message)
}
