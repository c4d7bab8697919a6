package service

import (
	"context"
	"testing"
	"time"

	"judgeflow/internal/judge/model"
	appErr "judgeflow/pkg/errors"
)

func judgedSubmission(id string) *model.Submission {
	sub := queuedSubmission(id, model.LanguagePython)
	out, want := "b\n", "b"
	result := model.SubmissionResult{
		SubmissionID: id,
		Status:       model.StatusAccepted,
		PassedCount:  3,
		TotalCount:   3,
		TestCases: []model.TestCaseResult{
			{TestCaseIndex: 0, Status: model.StatusAccepted},
			{TestCaseIndex: 1, Status: model.StatusAccepted, Stdout: &out, ExpectedOutput: &want, IsHidden: true},
			{TestCaseIndex: 2, Status: model.StatusAccepted},
		},
		UpdatedAt: testNow,
	}
	sub.Status = model.StatusAccepted
	sub.FinalResult = &result
	return sub
}

func TestGetStatusRedactsAndWritesBack(t *testing.T) {
	results := newMemResults()
	svc := NewStatusService(newMemStore(judgedSubmission("s1")), results, time.Second)

	view, err := svc.GetStatus(context.Background(), "s1")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if view.Status != model.StatusAccepted || view.TestCases[1].Stdout != nil {
		t.Fatalf("view = %+v", view)
	}
	if _, err := svc.GetStatus(context.Background(), "s1"); err != nil {
		t.Fatalf("second read: %v", err)
	}
	if results.loads != 1 {
		t.Fatalf("store loads = %d, want 1", results.loads)
	}
	cached, _, _ := results.Get(context.Background(), "s1")
	if cached.TestCases[1].Stdout == nil {
		t.Fatalf("cache should hold the unredacted result")
	}
}

func TestGetStatusPendingView(t *testing.T) {
	svc := NewStatusService(newMemStore(queuedSubmission("s1", model.LanguagePython)), newMemResults(), time.Second)
	view, err := svc.GetStatus(context.Background(), "s1")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if view.Status != model.StatusQueued || view.TotalCount != 3 {
		t.Fatalf("view = %+v", view)
	}
}

func TestGetStatusUnknown(t *testing.T) {
	svc := NewStatusService(newMemStore(), nil, time.Second)
	_, err := svc.GetStatus(context.Background(), "nope")
	if !appErr.Is(err, appErr.SubmissionNotFound) {
		t.Fatalf("unknown = %v", err)
	}
}

func newTestStream(store *memStore, sub *chanSubscription, cfg StreamConfig) *StreamService {
	status := NewStatusService(store, newMemResults(), time.Second)
	return NewStreamService(status, &fakeSubscriber{sub: sub}, cfg)
}

func TestStreamLateSubscriberGetsCompleted(t *testing.T) {
	sub := newChanSubscription()
	svc := newTestStream(newMemStore(judgedSubmission("s1")), sub, StreamConfig{})

	var got []model.StatusEvent
	err := svc.Stream(context.Background(), "s1", func(e model.StatusEvent) error {
		got = append(got, e)
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if len(got) != 1 || got[0].Type != model.EventCompleted || got[0].Result.Status != model.StatusAccepted {
		t.Fatalf("events = %+v", got)
	}
	if got[0].Result.TestCases[1].Stdout != nil {
		t.Fatalf("synthetic completed leaked hidden output")
	}
	select {
	case <-sub.done:
	default:
		t.Fatalf("subscription not closed")
	}
}

func TestStreamForwardsUntilTerminal(t *testing.T) {
	sub := newChanSubscription()
	svc := newTestStream(newMemStore(queuedSubmission("s1", model.LanguagePython)), sub, StreamConfig{GraceDelay: time.Millisecond})

	sub.ch <- model.NewStatusUpdate("s1", model.StatusRunning, testNow)
	sub.ch <- model.NewTestCaseEvent("s1", model.TestCaseResult{TestCaseIndex: 0, Status: model.StatusAccepted}, testNow)
	sub.ch <- model.NewCompletedEvent(model.SubmissionResult{SubmissionID: "s1", Status: model.StatusAccepted}, testNow)
	sub.ch <- model.NewStatusUpdate("s1", model.StatusRunning, testNow)

	var got []model.EventType
	err := svc.Stream(context.Background(), "s1", func(e model.StatusEvent) error {
		got = append(got, e.Type)
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	want := []model.EventType{model.EventStatusUpdate, model.EventStatusUpdate, model.EventTestCaseResult, model.EventCompleted}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func TestStreamTimeout(t *testing.T) {
	sub := newChanSubscription()
	svc := newTestStream(newMemStore(queuedSubmission("s1", model.LanguagePython)), sub, StreamConfig{Timeout: 20 * time.Millisecond})

	var last model.StatusEvent
	err := svc.Stream(context.Background(), "s1", func(e model.StatusEvent) error {
		last = e
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if last.Type != model.EventError || last.Error.Reason != "timeout" {
		t.Fatalf("last event = %+v", last)
	}
}

func TestStreamClientDisconnect(t *testing.T) {
	sub := newChanSubscription()
	svc := newTestStream(newMemStore(queuedSubmission("s1", model.LanguagePython)), sub, StreamConfig{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- svc.Stream(ctx, "s1", func(model.StatusEvent) error { return nil })
	}()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("stream: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("stream did not stop on disconnect")
	}
}

func TestStreamUnknownSubmission(t *testing.T) {
	svc := newTestStream(newMemStore(), newChanSubscription(), StreamConfig{})
	emitted := false
	err := svc.Stream(context.Background(), "nope", func(model.StatusEvent) error {
		emitted = true
		return nil
	})
	if !appErr.Is(err, appErr.SubmissionNotFound) || emitted {
		t.Fatalf("unknown submission: err=%v emitted=%v", err, emitted)
	}
}
