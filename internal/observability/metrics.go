package observability

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/yungbote/talkinghead-backend/internal/platform/envutil"
	"github.com/yungbote/talkinghead-backend/internal/platform/logger"
)

type Metrics struct {
	apiRequests   *family
	apiLatency    *family
	apiInflight   *family
	apiErrors     *family
	activityTime  *family
	activityFails *family
	generations   *family
	creditsSpent  *family
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool {
	return envutil.Bool("METRICS_ENABLED", false)
}

func Current() *Metrics {
	return instance
}

// Init returns nil when METRICS_ENABLED is off; every method is nil-safe.
func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		instance = newMetrics()
		if log != nil {
			log.Info("metrics enabled")
		}
	})
	return instance
}

var (
	apiLabels      = []string{"method", "route", "status"}
	activityLabels = []string{"activity", "job_type", "status"}
)

func newMetrics() *Metrics {
	return &Metrics{
		apiRequests:   newFamily(kindCounter, "th_api_requests_total", "API requests by method, route and status.", apiLabels),
		apiLatency:    newFamily(kindHistogram, "th_api_request_duration_seconds", "API request latency in seconds.", apiLabels, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30),
		apiInflight:   newFamily(kindGauge, "th_api_inflight_requests", "API requests being served.", nil),
		apiErrors:     newFamily(kindCounter, "th_api_requests_error_total", "API requests answered with 5xx.", nil),
		activityTime:  newFamily(kindHistogram, "th_generation_activity_duration_seconds", "Generation activity duration in seconds.", activityLabels, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300),
		activityFails: newFamily(kindCounter, "th_worker_activities_error_total", "Generation activities that failed.", nil),
		generations:   newFamily(kindCounter, "th_generations_total", "Generation outcomes by stage.", []string{"stage", "outcome"}),
		creditsSpent:  newFamily(kindCounter, "th_credits_charged_total", "Credits charged for completed generations.", []string{"stage"}),
	}
}

func (m *Metrics) StartServer(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           http.HandlerFunc(m.WriteHTTP),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if log != nil {
				log.Error("metrics server failed", "error", err, "addr", addr)
			}
		}
	}()
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, r *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	for _, f := range []*family{
		m.apiRequests, m.apiLatency, m.apiInflight, m.apiErrors,
		m.activityTime, m.activityFails, m.generations, m.creditsSpent,
	} {
		if err := f.write(w); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if route == "" {
		route = "unknown"
	}
	if status == "" {
		status = "0"
	}
	m.apiRequests.add(1, method, route, status)
	m.apiLatency.observe(dur.Seconds(), method, route, status)
	if strings.HasPrefix(status, "5") {
		m.apiErrors.add(1)
	}
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.add(1)
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.add(-1)
}

func (m *Metrics) ObserveActivity(activityName, jobType, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if activityName == "" {
		activityName = "unknown"
	}
	if jobType == "" {
		jobType = "unknown"
	}
	if status == "" {
		status = "unknown"
	}
	m.activityTime.observe(dur.Seconds(), activityName, jobType, status)
	if status == "failed" || status == "error" {
		m.activityFails.add(1)
	}
}

// ObserveGeneration counts one finished attempt. outcome is succeeded,
// insufficient_credits, failed or stale; credits is what the attempt charged.
func (m *Metrics) ObserveGeneration(stage, outcome string, credits float64) {
	if m == nil {
		return
	}
	m.generations.add(1, stage, outcome)
	if credits > 0 {
		m.creditsSpent.add(credits, stage)
	}
}

const (
	kindCounter   = "counter"
	kindGauge     = "gauge"
	kindHistogram = "histogram"
)

// family is one metric name and its samples, keyed by rendered label set.
type family struct {
	kind    string
	name    string
	help    string
	labels  []string
	buckets []float64

	mu      sync.Mutex
	samples map[string]*sample
}

// sample holds a counter or gauge value, or for histograms the running sum
// plus per-bucket counts where the last slot is +Inf.
type sample struct {
	value  float64
	counts []uint64
}

func newFamily(kind, name, help string, labels []string, buckets ...float64) *family {
	return &family{kind: kind, name: name, help: help, labels: labels, buckets: buckets, samples: map[string]*sample{}}
}

func (f *family) at(values []string) *sample {
	key := labelString(f.labels, values)
	s, ok := f.samples[key]
	if !ok {
		s = &sample{}
		if f.kind == kindHistogram {
			s.counts = make([]uint64, len(f.buckets)+1)
		}
		f.samples[key] = s
	}
	return s
}

func (f *family) add(v float64, values ...string) {
	f.mu.Lock()
	f.at(values).value += v
	f.mu.Unlock()
}

func (f *family) observe(v float64, values ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.at(values)
	s.value += v
	for i, b := range f.buckets {
		if v <= b {
			s.counts[i]++
		}
	}
	s.counts[len(f.buckets)]++
}

func (f *family) write(w io.Writer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", f.name, f.help, f.name, f.kind); err != nil {
		return err
	}
	keys := make([]string, 0, len(f.samples))
	for k := range f.samples {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		s := f.samples[k]
		if f.kind != kindHistogram {
			if _, err := fmt.Fprintf(w, "%s%s %g\n", f.name, k, s.value); err != nil {
				return err
			}
			continue
		}
		for i, b := range f.buckets {
			if _, err := fmt.Fprintf(w, "%s_bucket%s %d\n", f.name, withLe(k, strconv.FormatFloat(b, 'g', -1, 64)), s.counts[i]); err != nil {
				return err
			}
		}
		total := s.counts[len(f.buckets)]
		if _, err := fmt.Fprintf(w, "%s_bucket%s %d\n%s_sum%s %g\n%s_count%s %d\n", f.name, withLe(k, "+Inf"), total, f.name, k, s.value, f.name, k, total); err != nil {
			return err
		}
	}
	return nil
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func labelString(names, values []string) string {
	if len(names) == 0 {
		return ""
	}
	parts := make([]string, len(names))
	for i, name := range names {
		v := "unknown"
		if i < len(values) {
			v = values[i]
		}
		parts[i] = name + `="` + labelEscaper.Replace(v) + `"`
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func withLe(labels, le string) string {
	if labels == "" {
		return `{le="` + le + `"}`
	}
	return strings.TrimSuffix(labels, "}") + `,le="` + le + `"}`
}
