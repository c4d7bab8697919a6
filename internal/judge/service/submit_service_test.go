package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"judgeflow/internal/judge/model"
	appErr "judgeflow/pkg/errors"
)

type submitFixture struct {
	svc     *SubmitService
	store   *memStore
	queue   *fakeJobQueue
	results *memResults
}

func newSubmitFixture(t *testing.T, limiter *RateLimiter) *submitFixture {
	t.Helper()
	f := &submitFixture{store: newMemStore(), queue: &fakeJobQueue{}, results: newMemResults()}
	builder := NewJobBuilder(&fakeLoader{sets: map[int64]*model.ProblemTestSet{42: threeCaseSet(42)}}, JobBuilderConfig{})
	svc, err := NewSubmitService(SubmitDeps{
		Limiter: limiter,
		Builder: builder,
		Store:   f.store,
		Queue:   f.queue,
		Results: f.results,
	}, SubmitConfig{RateLimit: 10, RateWindow: time.Minute, MaxCodeBytes: 1024})
	if err != nil {
		t.Fatalf("new submit service: %v", err)
	}
	f.svc = svc
	return f
}

func validRequest() SubmitRequest {
	return SubmitRequest{UserID: 7, Code: "print(input())", Language: "python3", ProblemID: 42}
}

func TestSubmitQueuesJob(t *testing.T) {
	f := newSubmitFixture(t, nil)
	resp, err := f.svc.Submit(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if resp.SubmissionID == "" || resp.Status != model.StatusQueued || resp.TestCaseCount != 3 {
		t.Fatalf("response = %+v", resp)
	}
	if len(f.queue.jobs) != 1 || f.queue.jobs[0].SubmissionID != resp.SubmissionID {
		t.Fatalf("queued jobs = %+v", f.queue.jobs)
	}
	if f.queue.jobs[0].Language != model.LanguagePython {
		t.Fatalf("language alias not normalized: %s", f.queue.jobs[0].Language)
	}
	if got := f.store.status(resp.SubmissionID); got != model.StatusQueued {
		t.Fatalf("stored status = %s", got)
	}
}

func TestSubmitValidation(t *testing.T) {
	f := newSubmitFixture(t, nil)
	tests := []struct {
		name   string
		mutate func(*SubmitRequest)
		want   appErr.ErrorCode
	}{
		{"empty code", func(r *SubmitRequest) { r.Code = "  \n" }, appErr.ValidationFailed},
		{"code too large", func(r *SubmitRequest) { r.Code = strings.Repeat("x", 1025) }, appErr.CodeTooLarge},
		{"language", func(r *SubmitRequest) { r.Language = "brainfuck" }, appErr.LanguageNotSupported},
		{"problem id", func(r *SubmitRequest) { r.ProblemID = 0 }, appErr.ValidationFailed},
		{"unknown problem", func(r *SubmitRequest) { r.ProblemID = 99 }, appErr.ProblemNotFound},
		{"anonymous", func(r *SubmitRequest) { r.UserID = 0 }, appErr.Unauthorized},
	}
	for _, tt := range tests {
		req := validRequest()
		tt.mutate(&req)
		_, err := f.svc.Submit(context.Background(), req)
		if got := appErr.GetCode(err); got != tt.want {
			t.Fatalf("%s: code = %d, want %d", tt.name, got, tt.want)
		}
	}
	if len(f.queue.jobs) != 0 || len(f.store.subs) != 0 {
		t.Fatalf("rejected submissions left state behind")
	}
}

func TestSubmitEleventhIsRateLimited(t *testing.T) {
	limiter, _, _ := newTestLimiter(t, time.Unix(1_700_000_020, 0))
	f := newSubmitFixture(t, limiter)
	f.svc.now = func() time.Time { return time.Unix(1_700_000_020, 0) }

	for i := 0; i < 10; i++ {
		if _, err := f.svc.Submit(context.Background(), validRequest()); err != nil {
			t.Fatalf("submission %d: %v", i+1, err)
		}
	}
	_, err := f.svc.Submit(context.Background(), validRequest())
	if !appErr.Is(err, appErr.SubmitTooFrequently) {
		t.Fatalf("11th submission = %v, want SubmitTooFrequently", err)
	}
	if got := appErr.GetError(err).Details["retry_after"]; got != 20 {
		t.Fatalf("retry_after = %v, want 20", got)
	}
	if appErr.GetCode(err).HTTPStatus() != 429 {
		t.Fatalf("status = %d", appErr.GetCode(err).HTTPStatus())
	}
	if len(f.queue.jobs) != 10 {
		t.Fatalf("queued = %d", len(f.queue.jobs))
	}
}

func TestSubmitFailsOpenWhenLimiterIsDown(t *testing.T) {
	limiter, mr, _ := newTestLimiter(t, time.Unix(1_700_000_000, 0))
	mr.Close()
	f := newSubmitFixture(t, limiter)
	if _, err := f.svc.Submit(context.Background(), validRequest()); err != nil {
		t.Fatalf("submit with limiter down: %v", err)
	}
}

func TestSubmitEnqueueFailureClosesSubmission(t *testing.T) {
	f := newSubmitFixture(t, nil)
	f.queue.err = errBoom

	_, err := f.svc.Submit(context.Background(), validRequest())
	if !appErr.Is(err, appErr.JudgeQueueFull) || appErr.GetCode(err).HTTPStatus() != 503 {
		t.Fatalf("enqueue failure = %v", err)
	}
	if len(f.store.subs) != 1 {
		t.Fatalf("stored = %d", len(f.store.subs))
	}
	for id, sub := range f.store.subs {
		if sub.Status != model.StatusRuntimeError {
			t.Fatalf("status = %s, want runtime_error", sub.Status)
		}
		if sub.FinalResult == nil || sub.FinalResult.Error != "queue unavailable" {
			t.Fatalf("final = %+v", sub.FinalResult)
		}
		if _, ok, _ := f.results.Get(context.Background(), id); !ok {
			t.Fatalf("aborted result not cached")
		}
	}
}

func TestSubmitStoreFailure(t *testing.T) {
	f := newSubmitFixture(t, nil)
	f.store.createErr = errBoom
	_, err := f.svc.Submit(context.Background(), validRequest())
	if !appErr.Is(err, appErr.SubmissionCreateFailed) {
		t.Fatalf("create failure = %v", err)
	}
	if len(f.queue.jobs) != 0 {
		t.Fatalf("job enqueued without a stored submission")
	}
}
