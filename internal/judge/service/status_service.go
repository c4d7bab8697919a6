package service

import (
	"context"
	"errors"
	"time"

	"judgeflow/internal/judge/model"
	"judgeflow/internal/judge/repository"
	appErr "judgeflow/pkg/errors"
	"judgeflow/pkg/utils/logger"

	"go.uber.org/zap"
)

// StatusService answers status polls from the cache, falling back to the durable row.
type StatusService struct {
	store   SubmissionStore
	results ResultStore
	timeout time.Duration
}

func NewStatusService(store SubmissionStore, results ResultStore, timeout time.Duration) *StatusService {
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	return &StatusService{store: store, results: results, timeout: timeout}
}

// GetStatus returns the submitter-facing view with hidden test data removed.
func (s *StatusService) GetStatus(ctx context.Context, submissionID string) (model.SubmissionResult, error) {
	if submissionID == "" {
		return model.SubmissionResult{}, appErr.ValidationError("submission_id", "required")
	}
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	loaded := false
	load := func(ctx context.Context) (*model.SubmissionResult, error) {
		loaded = true
		sub, err := s.store.Get(ctx, submissionID)
		if err != nil {
			if errors.Is(err, repository.ErrSubmissionNotFound) {
				return nil, nil
			}
			return nil, err
		}
		view := sub.View()
		return &view, nil
	}

	var (
		result *model.SubmissionResult
		err    error
	)
	if s.results != nil {
		result, err = s.results.GetOrLoad(ctx, submissionID, load)
	} else {
		result, err = load(ctx)
	}
	if err != nil {
		return model.SubmissionResult{}, appErr.Wrapf(err, appErr.DatabaseError, "load submission failed")
	}
	if result == nil {
		return model.SubmissionResult{}, appErr.New(appErr.SubmissionNotFound).WithDetail("submission_id", submissionID)
	}
	if !result.Terminal() && !loaded {
		result = s.reconcile(ctx, result, load)
	}
	return result.Redacted(), nil
}

// reconcile checks a cached in-progress snapshot against the durable row, which wins once it is final.
// This covers a worker whose final cache write failed after the row was saved.
func (s *StatusService) reconcile(ctx context.Context, cached *model.SubmissionResult, load func(context.Context) (*model.SubmissionResult, error)) *model.SubmissionResult {
	durable, err := load(ctx)
	if err != nil {
		logger.Warn(ctx, "check durable status failed, serving cached snapshot", zap.String("submission_id", cached.SubmissionID), zap.Error(err))
		return cached
	}
	if durable == nil || !durable.Terminal() {
		return cached
	}
	if err := s.results.Set(ctx, *durable); err != nil {
		logger.Warn(ctx, "refresh cached result failed", zap.String("submission_id", cached.SubmissionID), zap.Error(err))
	}
	return durable
}
