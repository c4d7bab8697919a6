package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"judgeflow/internal/common/metrics"
	"judgeflow/internal/judge/model"
	appErr "judgeflow/pkg/errors"
	"judgeflow/pkg/utils/contextkey"
	"judgeflow/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultSubmitRateLimit  = 10
	defaultSubmitRateWindow = time.Minute
	defaultMaxCodeBytes     = 64 << 10
)

// SubmitConfig holds intake limits.
type SubmitConfig struct {
	RateLimit    int           `yaml:"rateLimit"`
	RateWindow   time.Duration `yaml:"rateWindow"`
	MaxCodeBytes int           `yaml:"maxCodeBytes"`
	StoreTimeout time.Duration `yaml:"storeTimeout"`
}

// SubmitRequest is one authenticated submission.
type SubmitRequest struct {
	UserID    int64
	Code      string
	Language  string
	ProblemID int64
	Contest   model.ContestRef
}

// SubmitResponse is returned once the job is queued.
type SubmitResponse struct {
	SubmissionID  string       `json:"submission_id"`
	Status        model.Status `json:"status"`
	TestCaseCount int          `json:"test_case_count"`
}

// SubmitDeps are the collaborators of a SubmitService. Limiter, Archive and Metrics are optional.
type SubmitDeps struct {
	Limiter *RateLimiter
	Builder *JobBuilder
	Store   SubmissionStore
	Queue   JobQueue
	Results ResultStore
	Archive SourceArchiver
	Metrics *metrics.Metrics
}

// SubmitService admits submissions and hands them to the queue.
type SubmitService struct {
	limiter *RateLimiter
	builder *JobBuilder
	store   SubmissionStore
	queue   JobQueue
	results ResultStore
	archive SourceArchiver
	metrics *metrics.Metrics
	cfg     SubmitConfig
	now     func() time.Time
}

func NewSubmitService(deps SubmitDeps, cfg SubmitConfig) (*SubmitService, error) {
	if deps.Builder == nil {
		return nil, errors.New("job builder is required")
	}
	if deps.Store == nil {
		return nil, errors.New("submission store is required")
	}
	if deps.Queue == nil {
		return nil, errors.New("job queue is required")
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultSubmitRateLimit
	}
	if cfg.RateWindow < time.Second {
		cfg.RateWindow = defaultSubmitRateWindow
	}
	if cfg.MaxCodeBytes <= 0 {
		cfg.MaxCodeBytes = defaultMaxCodeBytes
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = defaultStoreTimeout
	}
	return &SubmitService{
		limiter: deps.Limiter,
		builder: deps.Builder,
		store:   deps.Store,
		queue:   deps.Queue,
		results: deps.Results,
		archive: deps.Archive,
		metrics: deps.Metrics,
		cfg:     cfg,
		now:     time.Now,
	}, nil
}

// Submit validates, rate limits, persists and enqueues one submission.
func (s *SubmitService) Submit(ctx context.Context, req SubmitRequest) (SubmitResponse, error) {
	resp, err := s.submit(ctx, req)
	s.metrics.ObserveSubmission(submitOutcome(err))
	return resp, err
}

func (s *SubmitService) submit(ctx context.Context, req SubmitRequest) (SubmitResponse, error) {
	lang, err := s.validate(req)
	if err != nil {
		return SubmitResponse{}, err
	}
	if err := s.admit(ctx, req.UserID); err != nil {
		return SubmitResponse{}, err
	}

	id := uuid.NewString()
	ctx = context.WithValue(ctx, contextkey.SubmissionID, id)
	job, err := s.builder.CreateExecutionJob(ctx, BuildInput{
		SubmissionID: id,
		Code:         req.Code,
		Language:     lang,
		ProblemID:    req.ProblemID,
		UserID:       req.UserID,
		Contest:      req.Contest,
	})
	if err != nil {
		return SubmitResponse{}, err
	}

	sub := &model.Submission{
		ID:               id,
		UserID:           req.UserID,
		ProblemID:        req.ProblemID,
		ContestProblemID: job.ContestProblemID,
		Language:         lang,
		Content:          req.Code,
		Status:           model.StatusPending,
		TestCaseCount:    len(job.TestCases),
		SubmittedAt:      job.CreatedAt,
	}
	sub.SourceKey = s.archiveSource(ctx, sub)

	storeCtx, cancel := withTimeout(ctx, s.cfg.StoreTimeout)
	err = s.store.Create(storeCtx, sub)
	cancel()
	if err != nil {
		return SubmitResponse{}, appErr.Wrapf(err, appErr.SubmissionCreateFailed, "persist submission failed")
	}

	if err := s.queue.Enqueue(ctx, job); err != nil {
		logger.Error(ctx, "enqueue submission failed", zap.Error(err))
		s.failUnqueued(ctx, job)
		return SubmitResponse{}, appErr.Wrapf(err, appErr.JudgeQueueFull, "judge queue unavailable")
	}

	storeCtx, cancel = withTimeout(ctx, s.cfg.StoreTimeout)
	_, err = s.store.UpdateStatus(storeCtx, id, model.StatusQueued)
	cancel()
	if err != nil {
		// The worker moves the row forward regardless.
		logger.Warn(ctx, "mark queued failed", zap.Error(err))
	}

	logger.Info(ctx, "submission queued",
		zap.Int64("problem_id", req.ProblemID),
		zap.String("language", string(lang)),
		zap.Int("test_cases", len(job.TestCases)),
	)
	return SubmitResponse{SubmissionID: id, Status: model.StatusQueued, TestCaseCount: len(job.TestCases)}, nil
}

func (s *SubmitService) validate(req SubmitRequest) (model.Language, error) {
	if req.UserID <= 0 {
		return "", appErr.New(appErr.Unauthorized)
	}
	if req.ProblemID <= 0 {
		return "", appErr.ValidationError("problem_id", "must be positive")
	}
	if strings.TrimSpace(req.Code) == "" {
		return "", appErr.ValidationError("code", "must not be empty")
	}
	if len(req.Code) > s.cfg.MaxCodeBytes {
		return "", appErr.New(appErr.CodeTooLarge).WithDetail("max_bytes", s.cfg.MaxCodeBytes)
	}
	lang, ok := model.ParseLanguage(req.Language)
	if !ok {
		return "", appErr.New(appErr.LanguageNotSupported).WithDetail("language", req.Language)
	}
	if _, ok := s.builder.LanguageSpec(lang); !ok {
		return "", appErr.New(appErr.LanguageNotSupported).WithDetail("language", req.Language)
	}
	return lang, nil
}

// admit fails open: a limiter outage must not stop intake.
func (s *SubmitService) admit(ctx context.Context, userID int64) error {
	if s.limiter == nil {
		return nil
	}
	decision, err := s.limiter.CheckRateLimit(ctx, strconv.FormatInt(userID, 10), s.cfg.RateLimit, s.cfg.RateWindow)
	if err != nil {
		logger.Warn(ctx, "rate limiter unavailable, admitting submission", zap.Error(err))
		return nil
	}
	if !decision.Allowed {
		return appErr.New(appErr.SubmitTooFrequently).
			WithDetail("retry_after", decision.RetryAfter(s.now())).
			WithDetail("limit", s.cfg.RateLimit)
	}
	return nil
}

func (s *SubmitService) archiveSource(ctx context.Context, sub *model.Submission) string {
	if s.archive == nil {
		return ""
	}
	key, err := s.archive.Archive(ctx, sub)
	if err != nil {
		logger.Warn(ctx, "archive source failed", zap.Error(err))
		return ""
	}
	return key
}

// failUnqueued closes a submission that never reached the queue so it is not left pending.
func (s *SubmitService) failUnqueued(ctx context.Context, job model.ExecutionJob) {
	result := model.NewAbortedResult(job.SubmissionID, model.StatusRuntimeError, len(job.TestCases), "queue unavailable", s.now().UTC())
	storeCtx, cancel := withTimeout(context.WithoutCancel(ctx), s.cfg.StoreTimeout)
	defer cancel()
	if _, err := s.store.SaveFinal(storeCtx, result); err != nil {
		logger.Error(ctx, "record unqueued submission failed", zap.Error(err))
		return
	}
	if s.results != nil {
		if err := s.results.Set(storeCtx, result); err != nil {
			logger.Warn(ctx, "cache unqueued result failed", zap.Error(err))
		}
	}
}

func submitOutcome(err error) string {
	if err == nil {
		return "queued"
	}
	switch appErr.GetCode(err) {
	case appErr.SubmitTooFrequently:
		return "rate_limited"
	case appErr.JudgeQueueFull:
		return "queue_failed"
	case appErr.ProblemNotFound:
		return "not_found"
	case appErr.DatabaseError, appErr.SubmissionCreateFailed, appErr.InternalServerError:
		return "error"
	default:
		return "rejected"
	}
}
