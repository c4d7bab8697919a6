package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"judgeflow/internal/common/metrics"
	"judgeflow/internal/judge/backend"
	"judgeflow/internal/judge/model"
	"judgeflow/internal/judge/repository"
	appErr "judgeflow/pkg/errors"
	"judgeflow/pkg/utils/contextkey"
	"judgeflow/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultBackendOverhead = 5 * time.Second
	defaultCompileDeadline = 30 * time.Second
	defaultStoreTimeout    = 5 * time.Second
	defaultMaxOutputBytes  = 64 << 10
)

// JudgeConfig tunes per-job judging.
type JudgeConfig struct {
	Languages   map[model.Language]model.LanguageSpec
	CompareMode CompareMode
	Retry       backend.RetryPolicy
	// BackendOverhead is added to the time limit to bound each backend call.
	BackendOverhead time.Duration
	// CompileDeadline bounds a compile call. The backend recompiles on every
	// execute, so it is also added to execute calls of compiled languages.
	CompileDeadline time.Duration
	StoreTimeout    time.Duration
	MaxOutputBytes  int
}

// Judge runs one job against the execution backend and records the outcome.
type Judge struct {
	backend  backend.Backend
	store    SubmissionStore
	results  ResultStore
	events   EventPublisher
	verdicts VerdictSink
	metrics  *metrics.Metrics
	cfg      JudgeConfig
	now      func() time.Time
}

// JudgeDeps are the collaborators of a Judge. Results, Events, Verdicts and Metrics are optional.
type JudgeDeps struct {
	Backend  backend.Backend
	Store    SubmissionStore
	Results  ResultStore
	Events   EventPublisher
	Verdicts VerdictSink
	Metrics  *metrics.Metrics
}

func NewJudge(deps JudgeDeps, cfg JudgeConfig) (*Judge, error) {
	if deps.Backend == nil {
		return nil, errors.New("execution backend is required")
	}
	if deps.Store == nil {
		return nil, errors.New("submission store is required")
	}
	if cfg.Languages == nil {
		cfg.Languages = model.DefaultLanguageSpecs()
	}
	if cfg.CompareMode == "" {
		cfg.CompareMode = CompareTrimTrailingNewline
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.BackendOverhead <= 0 {
		cfg.BackendOverhead = defaultBackendOverhead
	}
	if cfg.CompileDeadline <= 0 {
		cfg.CompileDeadline = defaultCompileDeadline
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = defaultStoreTimeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = defaultMaxOutputBytes
	}
	return &Judge{
		backend:  deps.Backend,
		store:    deps.Store,
		results:  deps.Results,
		events:   deps.Events,
		verdicts: deps.Verdicts,
		metrics:  deps.Metrics,
		cfg:      cfg,
		now:      time.Now,
	}, nil
}

// Process judges job. A nil return means the job needs no further delivery;
// an error means the claim should stay unacknowledged so the job is delivered again.
func (j *Judge) Process(ctx context.Context, job model.ExecutionJob) error {
	ctx = context.WithValue(ctx, contextkey.SubmissionID, job.SubmissionID)

	sub, err := j.loadSubmission(ctx, job.SubmissionID)
	if err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			logger.Warn(ctx, "drop job for unknown submission")
			return nil
		}
		return err
	}
	if sub.Status.IsTerminal() {
		logger.Info(ctx, "skip already judged submission", zap.String("status", string(sub.Status)))
		return nil
	}

	spec, ok := j.cfg.Languages[job.Language]
	if err := job.Validate(); err != nil || !ok {
		if err == nil {
			err = fmt.Errorf("%w: unsupported language %q", model.ErrMalformedJob, job.Language)
		}
		return j.failMalformed(ctx, job, err)
	}

	j.markRunning(ctx, job)

	if spec.Compiled {
		compiled, output, err := j.compile(ctx, job, spec)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return j.finalize(ctx, job, j.backendFailure(job, nil, err))
		}
		if !compiled {
			result := model.NewAbortedResult(job.SubmissionID, model.StatusCompilationError, len(job.TestCases), "", j.now().UTC())
			result.CompileOutput = output
			return j.finalize(ctx, job, result)
		}
	}

	tests := make([]model.TestCaseResult, 0, len(job.TestCases))
	for _, tc := range job.TestCases {
		tr, err := j.runTest(ctx, job, spec, tc)
		if err != nil {
			// Interrupted by shutdown: leave the claim for another delivery.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return j.finalize(ctx, job, j.backendFailure(job, tests, err))
		}
		tests = append(tests, tr)
		j.publish(ctx, model.NewTestCaseEvent(job.SubmissionID, tr.Redacted(), j.now().UTC()))
		if tr.Status != model.StatusAccepted {
			break
		}
		j.snapshot(ctx, buildResult(job, model.StatusRunning, tests, j.now().UTC()))
	}

	status := model.ReduceStatus(false, tests)
	tests = model.SkippedFrom(tests, len(tests), len(job.TestCases))
	return j.finalize(ctx, job, buildResult(job, status, tests, j.now().UTC()))
}

// Abandon records a job that could not be delivered successfully as a runtime error.
func (j *Judge) Abandon(ctx context.Context, job model.ExecutionJob, reason string) error {
	ctx = context.WithValue(ctx, contextkey.SubmissionID, job.SubmissionID)
	result := model.NewAbortedResult(job.SubmissionID, model.StatusRuntimeError, len(job.TestCases), reason, j.now().UTC())
	return j.finalize(ctx, job, result)
}

func (j *Judge) loadSubmission(ctx context.Context, id string) (*model.Submission, error) {
	ctx, cancel := withTimeout(ctx, j.cfg.StoreTimeout)
	defer cancel()
	return j.store.Get(ctx, id)
}

func (j *Judge) failMalformed(ctx context.Context, job model.ExecutionJob, cause error) error {
	logger.Error(ctx, "malformed job", zap.Error(cause))
	now := j.now().UTC()
	result := model.NewAbortedResult(job.SubmissionID, model.StatusRuntimeError, len(job.TestCases), cause.Error(), now)
	return j.finalizeWith(ctx, job, result, model.NewErrorEvent(job.SubmissionID, "invalid_job", cause.Error(), now))
}

func (j *Judge) markRunning(ctx context.Context, job model.ExecutionJob) {
	storeCtx, cancel := withTimeout(ctx, j.cfg.StoreTimeout)
	_, err := j.store.UpdateStatus(storeCtx, job.SubmissionID, model.StatusRunning)
	cancel()
	if err != nil {
		logger.Warn(ctx, "mark running failed", zap.Error(err))
	}
	now := j.now().UTC()
	j.publish(ctx, model.NewStatusUpdate(job.SubmissionID, model.StatusRunning, now))
	j.snapshot(ctx, buildResult(job, model.StatusRunning, nil, now))
}

func (j *Judge) compile(ctx context.Context, job model.ExecutionJob, spec model.LanguageSpec) (bool, string, error) {
	var res backend.CompileResult
	err := j.callBackend(ctx, "compile", func(callCtx context.Context) error {
		var err error
		res, err = j.backend.Compile(callCtx, backend.CompileRequest{
			Runtime: spec.Runtime,
			Version: spec.Version,
			Files:   sourceFiles(spec, job.Code),
		})
		return err
	}, j.cfg.CompileDeadline)
	if err != nil {
		return false, "", err
	}
	return res.OK, truncate(res.Output, j.cfg.MaxOutputBytes), nil
}

func (j *Judge) runTest(ctx context.Context, job model.ExecutionJob, spec model.LanguageSpec, tc model.TestCase) (model.TestCaseResult, error) {
	var res backend.ExecuteResult
	err := j.callBackend(ctx, "execute", func(callCtx context.Context) error {
		var err error
		res, err = j.backend.Execute(callCtx, backend.ExecuteRequest{
			Runtime:       spec.Runtime,
			Version:       spec.Version,
			Files:         sourceFiles(spec, job.Code),
			Stdin:         tc.Input,
			TimeLimitMs:   job.Limits.TimeLimitMs,
			MemoryLimitKB: job.Limits.MemoryLimitKB,
		})
		return err
	}, j.executeDeadline(job, spec))
	if err != nil {
		return model.TestCaseResult{}, err
	}

	status, msg := ClassifyRun(res, job.Limits, tc.ExpectedOutput, j.cfg.CompareMode)
	stdout := truncate(res.Stdout, j.cfg.MaxOutputBytes)
	expected := tc.ExpectedOutput
	return model.TestCaseResult{
		TestCaseIndex:   tc.Index,
		Status:          status,
		ExecutionTimeMs: res.TimeMs,
		MemoryKB:        res.MemoryKB,
		Stdout:          &stdout,
		ExpectedOutput:  &expected,
		IsHidden:        tc.Kind == model.TestCaseHidden,
		Message:         msg,
	}, nil
}

func (j *Judge) executeDeadline(job model.ExecutionJob, spec model.LanguageSpec) time.Duration {
	deadline := time.Duration(job.Limits.TimeLimitMs)*time.Millisecond + j.cfg.BackendOverhead
	if spec.Compiled {
		deadline += j.cfg.CompileDeadline
	}
	return deadline
}

// callBackend applies the per-call deadline and the retry policy.
func (j *Judge) callBackend(ctx context.Context, op string, fn func(context.Context) error, deadline time.Duration) error {
	onRetry := func(attempt int, err error) {
		j.metrics.IncBackendRetry()
		logger.Warn(ctx, "backend call failed, retrying", zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
	}
	return backend.Retry(ctx, j.cfg.Retry, onRetry, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, deadline)
		defer cancel()
		start := time.Now()
		err := fn(callCtx)
		j.metrics.ObserveBackendCall(op, time.Since(start))
		if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, backend.ErrUnavailable) {
			err = fmt.Errorf("%w: %v", backend.ErrUnavailable, err)
		}
		return err
	})
}

// backendFailure turns an exhausted or rejected backend call into a runtime error result.
func (j *Judge) backendFailure(job model.ExecutionJob, done []model.TestCaseResult, err error) model.SubmissionResult {
	msg := "execution backend error: " + err.Error()
	if errors.Is(err, backend.ErrUnavailable) {
		msg = "execution backend unavailable: " + err.Error()
	}
	tests := model.SkippedFrom(append([]model.TestCaseResult(nil), done...), len(done), len(job.TestCases))
	result := buildResult(job, model.StatusRuntimeError, tests, j.now().UTC())
	result.Error = msg
	return result
}

// finalize persists the result, then best-effort updates cache, subscribers and downstream consumers.
func (j *Judge) finalize(ctx context.Context, job model.ExecutionJob, result model.SubmissionResult) error {
	return j.finalizeWith(ctx, job, result, model.NewCompletedEvent(result.Redacted(), j.now().UTC()))
}

// finalizeWith is finalize with terminal as the one terminal event sent to subscribers.
func (j *Judge) finalizeWith(ctx context.Context, job model.ExecutionJob, result model.SubmissionResult, terminal model.StatusEvent) error {
	storeCtx, cancel := withTimeout(ctx, j.cfg.StoreTimeout)
	saved, err := j.store.SaveFinal(storeCtx, result)
	cancel()
	if err != nil {
		logger.Error(ctx, "save final result failed", zap.Error(err))
		return appErr.Wrapf(err, appErr.JudgeSystemError, "persist final result failed")
	}
	if !saved {
		logger.Info(ctx, "submission already final, result discarded", zap.String("status", string(result.Status)))
		return nil
	}
	logger.Info(ctx, "submission judged",
		zap.String("status", string(result.Status)),
		zap.Int("passed", result.PassedCount),
		zap.Int("total", result.TotalCount),
		zap.Int64("time_ms", result.TotalTimeMs),
		zap.Int64("memory_kb", result.TotalMemoryKB),
	)
	j.metrics.ObserveVerdict(string(result.Status))

	j.snapshot(ctx, result)
	j.publish(ctx, terminal)
	if j.verdicts != nil {
		pubCtx, cancel := withTimeout(ctx, j.cfg.StoreTimeout)
		defer cancel()
		if err := j.verdicts.PublishVerdict(pubCtx, job, result); err != nil {
			logger.Warn(ctx, "publish verdict failed", zap.Error(err))
		}
	}
	return nil
}

func (j *Judge) snapshot(ctx context.Context, result model.SubmissionResult) {
	if j.results == nil {
		return
	}
	ctx, cancel := withTimeout(ctx, j.cfg.StoreTimeout)
	defer cancel()
	if err := j.results.Set(ctx, result); err != nil {
		logger.Warn(ctx, "cache result failed", zap.Error(err))
	}
}

func (j *Judge) publish(ctx context.Context, event model.StatusEvent) {
	if j.events == nil {
		return
	}
	ctx, cancel := withTimeout(ctx, j.cfg.StoreTimeout)
	defer cancel()
	if err := j.events.Publish(ctx, event); err != nil {
		logger.Warn(ctx, "publish event failed", zap.String("type", string(event.Type)), zap.Error(err))
	}
}

// buildResult aggregates tests: time is summed, memory is the peak.
func buildResult(job model.ExecutionJob, status model.Status, tests []model.TestCaseResult, at time.Time) model.SubmissionResult {
	result := model.SubmissionResult{
		SubmissionID: job.SubmissionID,
		Status:       status,
		TotalCount:   len(job.TestCases),
		TestCases:    tests,
		UpdatedAt:    at,
	}
	for _, tc := range tests {
		if tc.Status == model.StatusAccepted {
			result.PassedCount++
		}
		result.TotalTimeMs += tc.ExecutionTimeMs
		if tc.MemoryKB > result.TotalMemoryKB {
			result.TotalMemoryKB = tc.MemoryKB
		}
	}
	return result
}

func sourceFiles(spec model.LanguageSpec, code string) []backend.File {
	return []backend.File{{Name: spec.FileName, Content: code}}
}
