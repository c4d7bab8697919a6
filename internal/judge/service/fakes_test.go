package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"judgeflow/internal/judge/backend"
	"judgeflow/internal/judge/model"
	"judgeflow/internal/judge/queue"
	"judgeflow/internal/judge/repository"
)

var testNow = time.Unix(1_700_000_000, 0).UTC()

type memStore struct {
	mu        sync.Mutex
	subs      map[string]*model.Submission
	createErr error
	saveErr   error
	saves     int
}

func newMemStore(subs ...*model.Submission) *memStore {
	s := &memStore{subs: make(map[string]*model.Submission)}
	for _, sub := range subs {
		s.subs[sub.ID] = sub
	}
	return s
}

func (s *memStore) Create(_ context.Context, sub *model.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	cp := *sub
	s.subs[sub.ID] = &cp
	return nil
}

func (s *memStore) Get(_ context.Context, id string) (*model.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return nil, repository.ErrSubmissionNotFound
	}
	cp := *sub
	return &cp, nil
}

func (s *memStore) UpdateStatus(_ context.Context, id string, status model.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok || !sub.Status.CanTransition(status) {
		return false, nil
	}
	sub.Status = status
	return true, nil
}

func (s *memStore) SaveFinal(_ context.Context, result model.SubmissionResult) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return false, s.saveErr
	}
	if err := result.Validate(); err != nil {
		return false, err
	}
	sub, ok := s.subs[result.SubmissionID]
	if !ok || sub.Status.IsTerminal() {
		return false, nil
	}
	s.saves++
	cp := result
	sub.Status = result.Status
	sub.FinalResult = &cp
	return true, nil
}

func (s *memStore) status(id string) model.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.subs[id]; ok {
		return sub.Status
	}
	return ""
}

func (s *memStore) final(id string) *model.SubmissionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.subs[id]; ok {
		return sub.FinalResult
	}
	return nil
}

type memResults struct {
	mu    sync.Mutex
	items map[string]model.SubmissionResult
	loads int
}

func newMemResults() *memResults {
	return &memResults{items: make(map[string]model.SubmissionResult)}
}

func (r *memResults) Get(_ context.Context, id string) (model.SubmissionResult, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.items[id]
	return res, ok, nil
}

func (r *memResults) Set(_ context.Context, result model.SubmissionResult) error {
	if err := result.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[result.SubmissionID] = result
	return nil
}

func (r *memResults) GetOrLoad(ctx context.Context, id string, load func(context.Context) (*model.SubmissionResult, error)) (*model.SubmissionResult, error) {
	if res, ok, _ := r.Get(ctx, id); ok {
		return &res, nil
	}
	r.mu.Lock()
	r.loads++
	r.mu.Unlock()
	res, err := load(ctx)
	if err != nil || res == nil {
		return res, err
	}
	if res.Terminal() {
		_ = r.Set(ctx, *res)
	}
	return res, nil
}

type recordedEvents struct {
	mu     sync.Mutex
	events []model.StatusEvent
}

func (r *recordedEvents) Publish(_ context.Context, event model.StatusEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordedEvents) types() []model.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *recordedEvents) last() model.StatusEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type recordedVerdicts struct {
	results []model.SubmissionResult
}

func (r *recordedVerdicts) PublishVerdict(_ context.Context, _ model.ExecutionJob, result model.SubmissionResult) error {
	r.results = append(r.results, result)
	return nil
}

// scriptedBackend answers Execute by stdin and counts calls.
type scriptedBackend struct {
	mu      sync.Mutex
	compile func() (backend.CompileResult, error)
	execute func(req backend.ExecuteRequest) (backend.ExecuteResult, error)
	// executeDelay is spent inside every Execute, as a backend that compiles before running would.
	executeDelay time.Duration
	compiles     int
	executes     int
}

func (b *scriptedBackend) Compile(context.Context, backend.CompileRequest) (backend.CompileResult, error) {
	b.mu.Lock()
	b.compiles++
	b.mu.Unlock()
	if b.compile == nil {
		return backend.CompileResult{OK: true}, nil
	}
	return b.compile()
}

func (b *scriptedBackend) Execute(ctx context.Context, req backend.ExecuteRequest) (backend.ExecuteResult, error) {
	b.mu.Lock()
	b.executes++
	b.mu.Unlock()
	if b.executeDelay > 0 {
		timer := time.NewTimer(b.executeDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return backend.ExecuteResult{}, ctx.Err()
		case <-timer.C:
		}
	}
	return b.execute(req)
}

func (b *scriptedBackend) Identity() string { return "scripted" }

// echoBackend prints what a correct solution would for the "in:<x>" / "<x>" cases built by testJob.
func echoBackend(req backend.ExecuteRequest) (backend.ExecuteResult, error) {
	return backend.ExecuteResult{Stdout: req.Stdin[len("in:"):] + "\n", TimeMs: 10, MemoryKB: 1024}, nil
}

type fakeLoader struct {
	sets       map[int64]*model.ProblemTestSet
	contest    map[int64]int64
	loadErr    error
	contestErr error
}

func (l *fakeLoader) LoadProblem(_ context.Context, problemID int64) (*model.ProblemTestSet, error) {
	if l.loadErr != nil {
		return nil, l.loadErr
	}
	set, ok := l.sets[problemID]
	if !ok {
		return nil, repository.ErrProblemNotFound
	}
	return set, nil
}

func (l *fakeLoader) ResolveContestProblem(_ context.Context, _ model.ContestRef, problemID int64) (int64, error) {
	if l.contestErr != nil {
		return 0, l.contestErr
	}
	id, ok := l.contest[problemID]
	if !ok {
		return 0, repository.ErrContestProblemNotFound
	}
	return id, nil
}

func threeCaseSet(problemID int64) *model.ProblemTestSet {
	return &model.ProblemTestSet{
		ProblemID: problemID,
		Cases: []model.TestCase{
			{Index: 7, Input: "in:a", ExpectedOutput: "a", Kind: model.TestCaseExample},
			{Index: 8, Input: "in:b", ExpectedOutput: "b", Kind: model.TestCaseHidden},
			{Index: 9, Input: "in:c", ExpectedOutput: "c", Kind: model.TestCaseHidden},
		},
	}
}

func testJob(id string, lang model.Language) model.ExecutionJob {
	return model.ExecutionJob{
		SubmissionID: id,
		UserID:       1,
		ProblemID:    42,
		Language:     lang,
		Code:         "print(input())",
		TestCases: []model.TestCase{
			{Index: 0, Input: "in:a", ExpectedOutput: "a", Kind: model.TestCaseExample},
			{Index: 1, Input: "in:b", ExpectedOutput: "b", Kind: model.TestCaseHidden},
			{Index: 2, Input: "in:c", ExpectedOutput: "c", Kind: model.TestCaseHidden},
		},
		Limits:    model.Limits{TimeLimitMs: 1000, MemoryLimitKB: 65536},
		CreatedAt: testNow,
	}
}

func queuedSubmission(id string, lang model.Language) *model.Submission {
	return &model.Submission{
		ID:            id,
		UserID:        1,
		ProblemID:     42,
		Language:      lang,
		Content:       "print(input())",
		Status:        model.StatusQueued,
		TestCaseCount: 3,
		SubmittedAt:   testNow,
	}
}

type fakeJobQueue struct {
	mu   sync.Mutex
	jobs []model.ExecutionJob
	err  error
}

func (q *fakeJobQueue) Enqueue(_ context.Context, job model.ExecutionJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *fakeJobQueue) Stats(context.Context) (queue.Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return queue.Stats{QueueLength: int64(len(q.jobs))}, nil
}

type chanSubscription struct {
	ch   chan model.StatusEvent
	once sync.Once
	done chan struct{}
}

func newChanSubscription() *chanSubscription {
	return &chanSubscription{ch: make(chan model.StatusEvent, 16), done: make(chan struct{})}
}

func (s *chanSubscription) Events() <-chan model.StatusEvent { return s.ch }

func (s *chanSubscription) Close() { s.once.Do(func() { close(s.done) }) }

type fakeSubscriber struct {
	sub *chanSubscription
	err error
}

func (f *fakeSubscriber) Subscribe(context.Context, string) (repository.Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sub, nil
}

var errBoom = errors.New("boom")
