package providers

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/yungbote/talkinghead-backend/internal/stages"
)

// Request is one stage generation as a provider sees it: the job type and
// the resolved stage input. Reference assets arrive as URLs.
type Request struct {
	JobType stages.JobType
	Input   map[string]any
}

// Asset is a produced file. The worker stores it and writes its public URL
// into the output under Field.
type Asset struct {
	Field       string
	Data        []byte
	ContentType string
}

// Step is the provider's answer to Submit or Poll. A step that is not Done
// carries the Handle to poll with.
type Step struct {
	Done   bool
	Handle string
	Output map[string]any
	Assets []Asset
}

type Provider interface {
	Submit(ctx context.Context, req Request) (Step, error)
	// Poll is only called for steps that came back not Done.
	Poll(ctx context.Context, handle string) (Step, error)
}

// JobError is a provider-side failure of the job itself, as opposed to a
// transport problem talking to the provider.
type JobError struct {
	Message string
}

func (e *JobError) Error() string { return e.Message }

func IsJobError(err error) bool {
	var je *JobError
	return errors.As(err, &je)
}

var ErrNoProvider = errors.New("no provider for job type")

type Registry struct {
	mu        sync.RWMutex
	providers map[stages.JobType]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: map[stages.JobType]Provider{}}
}

func (r *Registry) Register(jobType stages.JobType, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[jobType] = p
}

func (r *Registry) Get(jobType stages.JobType) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[jobType]
	if !ok || p == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoProvider, jobType)
	}
	return p, nil
}

func (r *Registry) JobTypes() []stages.JobType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]stages.JobType, 0, len(r.providers))
	for jt := range r.providers {
		out = append(out, jt)
	}
	return out
}

// syncStep adapts providers that finish inside Submit.
type syncStep struct{}

func (syncStep) Poll(ctx context.Context, handle string) (Step, error) {
	return Step{}, fmt.Errorf("provider completes on submit; nothing to poll for %q", handle)
}
