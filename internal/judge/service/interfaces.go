package service

import (
	"context"
	"time"

	"judgeflow/internal/judge/model"
	"judgeflow/internal/judge/queue"
	"judgeflow/internal/judge/repository"
)

// SubmissionStore is the durable submission record.
type SubmissionStore interface {
	Create(ctx context.Context, sub *model.Submission) error
	Get(ctx context.Context, id string) (*model.Submission, error)
	UpdateStatus(ctx context.Context, id string, status model.Status) (bool, error)
	SaveFinal(ctx context.Context, result model.SubmissionResult) (bool, error)
}

// ProblemLoader resolves problems and contest membership.
type ProblemLoader interface {
	LoadProblem(ctx context.Context, problemID int64) (*model.ProblemTestSet, error)
	ResolveContestProblem(ctx context.Context, ref model.ContestRef, problemID int64) (int64, error)
}

// ResultStore is the result cache.
type ResultStore interface {
	Get(ctx context.Context, submissionID string) (model.SubmissionResult, bool, error)
	Set(ctx context.Context, result model.SubmissionResult) error
	GetOrLoad(ctx context.Context, submissionID string, load func(context.Context) (*model.SubmissionResult, error)) (*model.SubmissionResult, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, event model.StatusEvent) error
}

type EventSubscriber interface {
	Subscribe(ctx context.Context, submissionID string) (repository.Subscription, error)
}

type VerdictSink interface {
	PublishVerdict(ctx context.Context, job model.ExecutionJob, result model.SubmissionResult) error
}

type SourceArchiver interface {
	Archive(ctx context.Context, sub *model.Submission) (string, error)
}

// JobQueue is the producer side of the queue.
type JobQueue interface {
	Enqueue(ctx context.Context, job model.ExecutionJob) error
	Stats(ctx context.Context) (queue.Stats, error)
}

// ClaimQueue is the worker side of the queue.
type ClaimQueue interface {
	Dequeue(ctx context.Context, wait time.Duration) (*queue.Claim, error)
	Touch(ctx context.Context, claim *queue.Claim) error
	Ack(ctx context.Context, claim *queue.Claim) error
	RequeueStale(ctx context.Context, sweepInterval time.Duration) (requeued, deadLettered int, err error)
	DeadLetters(ctx context.Context) ([]queue.Claim, error)
	ResolveDead(ctx context.Context, claim *queue.Claim) error
	Stats(ctx context.Context) (queue.Stats, error)
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
