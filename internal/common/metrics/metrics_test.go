package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerExposesPipelineCollectors(t *testing.T) {
	m := New()
	m.SetQueueDepth(3, 1, 2)
	m.ObserveSubmission("accepted")
	m.ObserveVerdict("wrong_answer")
	m.ObserveBackendCall("execute", 120*time.Millisecond)
	m.IncBackendRetry()
	done := m.StreamOpened()
	done()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	for _, want := range []string{
		`judgeflow_queue_jobs{state="pending"} 3`,
		`judgeflow_queue_jobs{state="processing"} 1`,
		`judgeflow_queue_jobs{state="dead"} 2`,
		`judgeflow_submissions_total{outcome="accepted"} 1`,
		`judgeflow_verdicts_total{status="wrong_answer"} 1`,
		`judgeflow_backend_retries_total 1`,
		`judgeflow_active_streams 0`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.SetQueueDepth(1, 1, 0)
	m.ObserveVerdict("accepted")
	m.StreamOpened()()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Fatalf("nil handler status = %d", rec.Code)
	}
}
