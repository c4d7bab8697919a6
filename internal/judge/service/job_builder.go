package service

import (
	"context"
	"errors"
	"time"

	"judgeflow/internal/judge/model"
	"judgeflow/internal/judge/repository"
	appErr "judgeflow/pkg/errors"
)

const (
	DefaultMaxTimeLimitMs   = 30_000
	DefaultMaxMemoryLimitKB = 512 * 1024
)

// JobBuilderConfig holds the language table and platform ceilings.
type JobBuilderConfig struct {
	Languages        map[model.Language]model.LanguageSpec
	MaxTimeLimitMs   int64
	MaxMemoryLimitKB int64
}

// BuildInput is a validated submission request.
type BuildInput struct {
	SubmissionID string
	Code         string
	Language     model.Language
	ProblemID    int64
	UserID       int64
	Contest      model.ContestRef
}

// JobBuilder assembles execution jobs. It only reads.
type JobBuilder struct {
	loader ProblemLoader
	cfg    JobBuilderConfig
	now    func() time.Time
}

func NewJobBuilder(loader ProblemLoader, cfg JobBuilderConfig) *JobBuilder {
	if cfg.Languages == nil {
		cfg.Languages = model.DefaultLanguageSpecs()
	}
	if cfg.MaxTimeLimitMs <= 0 {
		cfg.MaxTimeLimitMs = DefaultMaxTimeLimitMs
	}
	if cfg.MaxMemoryLimitKB <= 0 {
		cfg.MaxMemoryLimitKB = DefaultMaxMemoryLimitKB
	}
	return &JobBuilder{loader: loader, cfg: cfg, now: time.Now}
}

// LanguageSpec returns the configured spec for lang.
func (b *JobBuilder) LanguageSpec(lang model.Language) (model.LanguageSpec, bool) {
	spec, ok := b.cfg.Languages[lang]
	return spec, ok
}

// CreateExecutionJob loads the problem's test cases and derives the job limits.
func (b *JobBuilder) CreateExecutionJob(ctx context.Context, in BuildInput) (model.ExecutionJob, error) {
	spec, ok := b.cfg.Languages[in.Language]
	if !ok {
		return model.ExecutionJob{}, appErr.New(appErr.LanguageNotSupported).WithDetail("language", string(in.Language))
	}

	var contestProblemID *int64
	if !in.Contest.Empty() {
		id, err := b.loader.ResolveContestProblem(ctx, in.Contest, in.ProblemID)
		if err != nil {
			if errors.Is(err, repository.ErrContestProblemNotFound) {
				return model.ExecutionJob{}, appErr.New(appErr.ProblemNotFound).WithMessage("problem is not part of the contest")
			}
			return model.ExecutionJob{}, appErr.Wrapf(err, appErr.DatabaseError, "resolve contest problem failed")
		}
		contestProblemID = &id
	}

	set, err := b.loader.LoadProblem(ctx, in.ProblemID)
	if err != nil {
		if errors.Is(err, repository.ErrProblemNotFound) {
			return model.ExecutionJob{}, appErr.New(appErr.ProblemNotFound)
		}
		return model.ExecutionJob{}, appErr.Wrapf(err, appErr.DatabaseError, "load test cases failed")
	}
	if len(set.Cases) == 0 {
		return model.ExecutionJob{}, appErr.New(appErr.ProblemNotFound).WithMessage("problem has no test cases")
	}

	cases := make([]model.TestCase, len(set.Cases))
	for i, tc := range set.Cases {
		tc.Index = i
		cases[i] = tc
	}

	return model.ExecutionJob{
		SubmissionID:     in.SubmissionID,
		UserID:           in.UserID,
		ProblemID:        in.ProblemID,
		ContestProblemID: contestProblemID,
		Language:         in.Language,
		Code:             in.Code,
		TestCases:        cases,
		Limits:           b.limits(spec, set),
		CreatedAt:        b.now().UTC(),
	}, nil
}

func (b *JobBuilder) limits(spec model.LanguageSpec, set *model.ProblemTestSet) model.Limits {
	limits := model.Limits{TimeLimitMs: spec.DefaultTimeLimitMs, MemoryLimitKB: spec.DefaultMemoryLimitKB}
	if set.TimeLimitMs > 0 {
		limits.TimeLimitMs = set.TimeLimitMs
	}
	if set.MemoryLimitKB > 0 {
		limits.MemoryLimitKB = set.MemoryLimitKB
	}
	if limits.TimeLimitMs <= 0 || limits.TimeLimitMs > b.cfg.MaxTimeLimitMs {
		limits.TimeLimitMs = b.cfg.MaxTimeLimitMs
	}
	if limits.MemoryLimitKB <= 0 || limits.MemoryLimitKB > b.cfg.MaxMemoryLimitKB {
		limits.MemoryLimitKB = b.cfg.MaxMemoryLimitKB
	}
	return limits
}
