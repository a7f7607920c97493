package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestObserveRequestAppearsInExposition(t *testing.T) {
	recorder := New()
	recorder.ObserveRequest("get", "/tracks", http.StatusOK, 25*time.Millisecond)
	recorder.ObserveRequest("GET", "/tracks", http.StatusOK, 25*time.Millisecond)

	var buf strings.Builder
	recorder.Write(&buf)
	output := buf.String()

	if !strings.Contains(output, `soundflow_http_requests_total{method="GET",path="/tracks",status="200"} 2`) {
		t.Fatalf("expected merged counter for both casings, got:\n%s", output)
	}
	if !strings.Contains(output, "soundflow_http_request_duration_seconds_sum") {
		t.Fatalf("expected duration series, got:\n%s", output)
	}
}

func TestNormalizePathCollapsesTrackIDs(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{path: "/track/0123456789abcdef01234567", want: "/track/:id"},
		{path: "/tracks", want: "/tracks"},
		{path: "/users/password/update", want: "/users/password/update"},
		{path: "/", want: "/"},
		{path: "", want: "/"},
	}
	for _, tc := range cases {
		if got := normalizePath(tc.path); got != tc.want {
			t.Fatalf("normalizePath(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}

func TestAuthEventCounters(t *testing.T) {
	recorder := New()
	recorder.ObserveAuthEvent("login_success")
	recorder.ObserveAuthEvent("login_failure")
	recorder.ObserveAuthEvent("login_failure")
	recorder.ObserveAuthEvent("  ")

	events := recorder.AuthEventCounts()
	if events["login_success"] != 1 || events["login_failure"] != 2 {
		t.Fatalf("unexpected counters: %v", events)
	}
	if events["unknown"] != 1 {
		t.Fatalf("expected blank events to map to unknown, got %v", events)
	}
}

func TestDownloadGaugeNeverNegative(t *testing.T) {
	recorder := New()
	recorder.DownloadStarted()
	recorder.DownloadFinished()
	recorder.DownloadFinished()

	if got := recorder.ActiveDownloads(); got != 0 {
		t.Fatalf("expected gauge 0, got %d", got)
	}
}

func TestTrackUploadCounters(t *testing.T) {
	recorder := New()
	recorder.ObserveTrackUpload(1000)
	recorder.ObserveTrackUpload(500)

	var buf strings.Builder
	recorder.Write(&buf)
	output := buf.String()
	if !strings.Contains(output, "soundflow_track_uploads_total 2") {
		t.Fatalf("expected upload counter, got:\n%s", output)
	}
	if !strings.Contains(output, "soundflow_track_upload_bytes_total 1500") {
		t.Fatalf("expected byte counter, got:\n%s", output)
	}
}

func TestHandlerContentType(t *testing.T) {
	recorder := New()
	req := httptest.NewRequest(http.MethodGet, "http://localhost/metrics", nil)
	rec := httptest.NewRecorder()
	recorder.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/plain") {
		t.Fatalf("unexpected content type %q", got)
	}
}
