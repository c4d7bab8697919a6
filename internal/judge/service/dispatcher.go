package service

import (
	"context"
	"errors"
	"time"

	"judgeflow/internal/common/metrics"
	"judgeflow/internal/judge/model"
	"judgeflow/internal/judge/queue"
	"judgeflow/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Processor judges claimed jobs.
type Processor interface {
	Process(ctx context.Context, job model.ExecutionJob) error
	Abandon(ctx context.Context, job model.ExecutionJob, reason string) error
}

// DispatcherConfig sizes the worker pool.
type DispatcherConfig struct {
	Workers           int           `yaml:"workers"`
	PollWait          time.Duration `yaml:"pollWait"`
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
	ReapInterval      time.Duration `yaml:"reapInterval"`
	// DrainTimeout bounds how long in-flight jobs may run after shutdown starts.
	DrainTimeout time.Duration `yaml:"drainTimeout"`
}

func (c *DispatcherConfig) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.PollWait < time.Second {
		c.PollWait = 2 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 10 * time.Second
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = 15 * time.Second
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 30 * time.Second
	}
}

// Dispatcher runs a fixed pool of workers pulling from the queue, plus a reaper
// that recovers abandoned claims.
type Dispatcher struct {
	queue     ClaimQueue
	processor Processor
	metrics   *metrics.Metrics
	cfg       DispatcherConfig
}

func NewDispatcher(q ClaimQueue, processor Processor, m *metrics.Metrics, cfg DispatcherConfig) *Dispatcher {
	cfg.applyDefaults()
	return &Dispatcher{queue: q, processor: processor, metrics: m, cfg: cfg}
}

// Run blocks until ctx is cancelled and every in-flight job has finished or hit DrainTimeout.
func (d *Dispatcher) Run(ctx context.Context) error {
	logger.Info(ctx, "dispatcher started", zap.Int("workers", d.cfg.Workers))
	var g errgroup.Group
	for i := 0; i < d.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			d.work(ctx, worker)
			return nil
		})
	}
	g.Go(func() error {
		d.reap(ctx)
		return nil
	})
	err := g.Wait()
	logger.Info(context.Background(), "dispatcher stopped")
	return err
}

func (d *Dispatcher) work(ctx context.Context, worker int) {
	failures := 0
	for ctx.Err() == nil {
		claim, err := d.queue.Dequeue(ctx, d.cfg.PollWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, queue.ErrBadEnvelope) {
				logger.Error(ctx, "dropped undecodable job", zap.Error(err))
				continue
			}
			failures++
			logger.Warn(ctx, "dequeue failed", zap.Int("worker", worker), zap.Error(err))
			sleepCtx(ctx, backoffDelay(failures))
			continue
		}
		failures = 0
		if claim == nil {
			continue
		}
		d.handle(ctx, claim)
	}
}

// handle runs one claim on a context that survives shutdown for at most DrainTimeout.
func (d *Dispatcher) handle(ctx context.Context, claim *queue.Claim) {
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stop := context.AfterFunc(ctx, func() {
		timer := time.AfterFunc(d.cfg.DrainTimeout, cancel)
		<-jobCtx.Done()
		timer.Stop()
	})
	defer stop()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		ticker := time.NewTicker(d.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-jobCtx.Done():
				return
			case <-ticker.C:
				if err := d.queue.Touch(jobCtx, claim); err != nil {
					logger.Warn(jobCtx, "extend lease failed", zap.String("submission_id", claim.Job.SubmissionID), zap.Error(err))
				}
			}
		}
	}()

	err := d.processor.Process(jobCtx, claim.Job)
	if err != nil {
		// Left unacknowledged: the reaper hands the job out again once the lease lapses.
		logger.Error(jobCtx, "judge job failed", zap.String("submission_id", claim.Job.SubmissionID),
			zap.Int("attempt", claim.Attempt), zap.Error(err))
	} else {
		ackCtx, ackCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := d.queue.Ack(ackCtx, claim); err != nil {
			logger.Warn(ackCtx, "ack failed", zap.String("submission_id", claim.Job.SubmissionID), zap.Error(err))
		}
		ackCancel()
	}
	cancel()
	<-heartbeatDone
}

func (d *Dispatcher) reap(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.ReapOnce(ctx)
		}
	}
}

// ReapOnce requeues abandoned claims, finalizes dead letters and refreshes queue gauges.
// A dead letter whose Abandon fails stays queued and is retried on the next sweep.
func (d *Dispatcher) ReapOnce(ctx context.Context) {
	requeued, deadLettered, err := d.queue.RequeueStale(ctx, d.cfg.ReapInterval)
	if err != nil {
		logger.Warn(ctx, "requeue stale jobs failed", zap.Error(err))
	}
	if requeued > 0 {
		logger.Warn(ctx, "requeued abandoned jobs", zap.Int("count", requeued))
	}
	if deadLettered > 0 {
		logger.Error(ctx, "jobs exceeded delivery attempts", zap.Int("count", deadLettered))
	}

	letters, err := d.queue.DeadLetters(ctx)
	if err != nil {
		logger.Warn(ctx, "list dead letters failed", zap.Error(err))
	}
	for i := range letters {
		claim := &letters[i]
		if err := d.processor.Abandon(ctx, claim.Job, "judging did not complete after repeated delivery attempts"); err != nil {
			logger.Error(ctx, "record abandoned job failed", zap.String("submission_id", claim.Job.SubmissionID), zap.Int("attempt", claim.Attempt), zap.Error(err))
			continue
		}
		if err := d.queue.ResolveDead(ctx, claim); err != nil {
			logger.Warn(ctx, "resolve dead letter failed", zap.String("submission_id", claim.Job.SubmissionID), zap.Error(err))
		}
	}
	if stats, err := d.queue.Stats(ctx); err == nil {
		d.metrics.SetQueueDepth(stats.QueueLength, stats.Processing, stats.Dead)
	}
}

func backoffDelay(failures int) time.Duration {
	d := time.Duration(failures) * 200 * time.Millisecond
	if d > 5*time.Second {
		return 5 * time.Second
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
