package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// Recorder aggregates in-memory counters and gauges for HTTP requests,
// authentication activity, and track uploads and downloads. Writers are
// coordinated with a RWMutex; the active download gauge is atomic so the
// streaming path never takes the lock.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	authEvents      map[string]uint64
	trackUploads    uint64
	trackBytes      uint64
	activeDownloads atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers can
// immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		authEvents:      make(map[string]uint64),
	}
}

// Default returns the singleton Recorder instance shared across helper
// functions for packages that do not require custom instrumentation pipelines.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest normalizes the request label set and accumulates totals for
// request count and cumulative duration by HTTP method, normalized path, and
// status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// ObserveAuthEvent records an authentication event keyed by kind (e.g.
// "signup", "login_success", "login_failure", "password_update").
func (r *Recorder) ObserveAuthEvent(event string) {
	normalized := strings.ToLower(strings.TrimSpace(event))
	if normalized == "" {
		normalized = "unknown"
	}
	r.mu.Lock()
	r.authEvents[normalized]++
	r.mu.Unlock()
}

// ObserveTrackUpload records a stored track and the bytes it contributed.
func (r *Recorder) ObserveTrackUpload(sizeBytes int64) {
	r.mu.Lock()
	r.trackUploads++
	if sizeBytes > 0 {
		r.trackBytes += uint64(sizeBytes)
	}
	r.mu.Unlock()
}

// DownloadStarted increments the active download gauge.
func (r *Recorder) DownloadStarted() {
	r.activeDownloads.Add(1)
}

// DownloadFinished decrements the active download gauge, guarding against
// negative counts when concurrent updates race.
func (r *Recorder) DownloadFinished() {
	for {
		current := r.activeDownloads.Load()
		if current <= 0 {
			return
		}
		if r.activeDownloads.CompareAndSwap(current, current-1) {
			return
		}
	}
}

// ActiveDownloads exposes the current gauge of in-flight track downloads.
func (r *Recorder) ActiveDownloads() int64 {
	return r.activeDownloads.Load()
}

// AuthEventCounts returns a copy of the auth event counters for testing and
// reporting purposes.
func (r *Recorder) AuthEventCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	events := make(map[string]uint64, len(r.authEvents))
	for k, v := range r.authEvents {
		events[k] = v
	}
	return events
}

// Reset clears all counters and gauges on the recorder. It is intended for
// test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.authEvents = make(map[string]uint64)
	r.trackUploads = 0
	r.trackBytes = 0
	r.activeDownloads.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus text
// exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting label
// sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	authEvents := r.sortedAuthEvents()

	fmt.Fprintln(w, "# HELP soundflow_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE soundflow_http_requests_total counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "soundflow_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP soundflow_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE soundflow_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		duration := r.requestDuration[label].Seconds()
		fmt.Fprintf(w, "soundflow_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, duration)
	}

	fmt.Fprintln(w, "# HELP soundflow_http_request_duration_seconds_count Total number of observations for request durations")
	fmt.Fprintln(w, "# TYPE soundflow_http_request_duration_seconds_count counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "soundflow_http_request_duration_seconds_count{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP soundflow_auth_events_total Authentication events by type")
	fmt.Fprintln(w, "# TYPE soundflow_auth_events_total counter")
	for _, event := range authEvents {
		count := r.authEvents[event]
		fmt.Fprintf(w, "soundflow_auth_events_total{event=\"%s\"} %d\n", event, count)
	}

	fmt.Fprintln(w, "# HELP soundflow_track_uploads_total Total number of tracks stored")
	fmt.Fprintln(w, "# TYPE soundflow_track_uploads_total counter")
	fmt.Fprintf(w, "soundflow_track_uploads_total %d\n", r.trackUploads)

	fmt.Fprintln(w, "# HELP soundflow_track_upload_bytes_total Total bytes of audio stored")
	fmt.Fprintln(w, "# TYPE soundflow_track_upload_bytes_total counter")
	fmt.Fprintf(w, "soundflow_track_upload_bytes_total %d\n", r.trackBytes)

	fmt.Fprintln(w, "# HELP soundflow_active_downloads Current number of in-flight track downloads")
	fmt.Fprintln(w, "# TYPE soundflow_active_downloads gauge")
	fmt.Fprintf(w, "soundflow_active_downloads %d\n", r.activeDownloads.Load())
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedAuthEvents() []string {
	events := make([]string, 0, len(r.authEvents))
	for event := range r.authEvents {
		events = append(events, event)
	}
	sort.Strings(events)
	return events
}

// normalizePath collapses track identifiers so per-track URLs share one label.
func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) < 16 {
		return false
	}
	for _, r := range segment {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// ObserveAuthEvent records an authentication event on the default recorder.
func ObserveAuthEvent(event string) {
	defaultRecorder.ObserveAuthEvent(event)
}

// ObserveTrackUpload records a stored track on the default recorder.
func ObserveTrackUpload(sizeBytes int64) {
	defaultRecorder.ObserveTrackUpload(sizeBytes)
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
