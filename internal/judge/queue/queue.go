// Package queue implements the FIFO judge queue on Redis lists.
//
// Pending jobs live in a list fed by LPUSH and drained by BRPOPLPUSH into a
// processing list. A claimed job is held under a lease key that the worker
// refreshes; entries in the processing list whose lease stays missing across two
// reaper sweeps are returned to the head of the pending list, or parked in a
// dead-letter list once they have used up their delivery attempts.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"judgeflow/internal/judge/model"

	"github.com/redis/go-redis/v9"
)

const (
	pendingKey    = "judge:queue:pending"
	processingKey = "judge:queue:processing"
	deadKey       = "judge:queue:dead"
	leaseKeyFmt   = "judge:queue:lease:%s"
	suspectKeyFmt = "judge:queue:suspect:%s"

	defaultLeaseTTL      = 30 * time.Second
	defaultMaxDeliveries = 3
	maxMoveAttempts      = 3
)

// ErrBadEnvelope is returned when a queued payload cannot be decoded. The entry is dropped.
var ErrBadEnvelope = errors.New("undecodable queue entry")

// Config holds queue tuning.
type Config struct {
	LeaseTTL time.Duration `yaml:"leaseTTL"`
	// MaxDeliveries bounds how many times one job is handed to a worker.
	MaxDeliveries int `yaml:"maxDeliveries"`
}

func (c *Config) applyDefaults() {
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = defaultLeaseTTL
	}
	if c.MaxDeliveries <= 0 {
		c.MaxDeliveries = defaultMaxDeliveries
	}
}

type envelope struct {
	Job        model.ExecutionJob `json:"job"`
	Attempt    int                `json:"attempt"`
	EnqueuedAt time.Time          `json:"enqueued_at"`
}

// Claim is a job held by one worker until Ack.
type Claim struct {
	Job     model.ExecutionJob
	Attempt int
	raw     string
}

// Stats is the queue introspection snapshot.
type Stats struct {
	QueueLength int64 `json:"queue_length"`
	Processing  int64 `json:"processing"`
	Dead        int64 `json:"dead"`
}

// RedisQueue is safe for concurrent use by many workers and processes.
type RedisQueue struct {
	client   *redis.Client
	cfg      Config
	workerID string
	now      func() time.Time
}

func NewRedisQueue(client *redis.Client, cfg Config, workerID string) *RedisQueue {
	cfg.applyDefaults()
	return &RedisQueue{client: client, cfg: cfg, workerID: workerID, now: time.Now}
}

// Enqueue appends job to the tail of the queue.
func (q *RedisQueue) Enqueue(ctx context.Context, job model.ExecutionJob) error {
	payload, err := json.Marshal(envelope{Job: job, Attempt: 1, EnqueuedAt: q.now().UTC()})
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if err := q.client.LPush(ctx, pendingKey, payload).Err(); err != nil {
		return fmt.Errorf("enqueue job %s: %w", job.SubmissionID, err)
	}
	return nil
}

// Dequeue claims the oldest job, waiting up to wait. It returns nil, nil when nothing arrived.
func (q *RedisQueue) Dequeue(ctx context.Context, wait time.Duration) (*Claim, error) {
	raw, err := q.client.BRPopLPush(ctx, pendingKey, processingKey, wait).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil || env.Job.SubmissionID == "" {
		_ = q.client.LRem(ctx, processingKey, 1, raw).Err()
		return nil, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	claim := &Claim{Job: env.Job, Attempt: env.Attempt, raw: raw}
	if err := q.client.Set(ctx, leaseKey(env.Job.SubmissionID), q.workerID, q.cfg.LeaseTTL).Err(); err != nil {
		// The reaper returns the entry to pending once the missing lease is confirmed.
		return nil, fmt.Errorf("set lease for %s: %w", env.Job.SubmissionID, err)
	}
	return claim, nil
}

// Touch extends the lease of a claim. Workers call it periodically while judging.
func (q *RedisQueue) Touch(ctx context.Context, claim *Claim) error {
	return q.client.Set(ctx, leaseKey(claim.Job.SubmissionID), q.workerID, q.cfg.LeaseTTL).Err()
}

// Ack removes a finished claim from the processing list.
func (q *RedisQueue) Ack(ctx context.Context, claim *Claim) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, processingKey, 1, claim.raw)
		pipe.Del(ctx, leaseKey(claim.Job.SubmissionID), suspectKey(claim.Job.SubmissionID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("ack %s: %w", claim.Job.SubmissionID, err)
	}
	return nil
}

// RequeueStale moves abandoned claims back to the head of the pending list.
// An entry is abandoned when its lease is missing on two consecutive sweeps.
// Entries that already used MaxDeliveries attempts go to the dead-letter list
// and stay there until ResolveDead.
func (q *RedisQueue) RequeueStale(ctx context.Context, sweepInterval time.Duration) (requeued, deadLettered int, err error) {
	entries, err := q.client.LRange(ctx, processingKey, 0, -1).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("list processing: %w", err)
	}
	for _, raw := range entries {
		var env envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			_ = q.client.LRem(ctx, processingKey, 1, raw).Err()
			continue
		}
		id := env.Job.SubmissionID
		leased, err := q.client.Exists(ctx, leaseKey(id)).Result()
		if err != nil {
			return requeued, deadLettered, fmt.Errorf("check lease %s: %w", id, err)
		}
		if leased > 0 {
			_ = q.client.Del(ctx, suspectKey(id)).Err()
			continue
		}
		// First sighting only marks the entry; the claimant may not have set its lease yet.
		first, err := q.client.SetNX(ctx, suspectKey(id), "1", 3*sweepInterval).Result()
		if err != nil {
			return requeued, deadLettered, fmt.Errorf("mark suspect %s: %w", id, err)
		}
		if first {
			continue
		}

		if env.Attempt >= q.cfg.MaxDeliveries {
			moved, err := q.move(ctx, raw, deadKey, raw)
			if err != nil {
				return requeued, deadLettered, fmt.Errorf("dead-letter %s: %w", id, err)
			}
			if moved {
				deadLettered++
				_ = q.client.Del(ctx, suspectKey(id)).Err()
			}
			continue
		}
		env.Attempt++
		payload, err := json.Marshal(env)
		if err != nil {
			return requeued, deadLettered, fmt.Errorf("encode job: %w", err)
		}
		moved, err := q.move(ctx, raw, pendingKey, payload)
		if err != nil {
			return requeued, deadLettered, fmt.Errorf("requeue %s: %w", id, err)
		}
		if moved {
			requeued++
			_ = q.client.Del(ctx, suspectKey(id)).Err()
		}
	}
	return requeued, deadLettered, nil
}

// move atomically replaces raw in the processing list with payload at the tail of dst.
// It reports false when raw is no longer claimed, or when the processing list kept
// changing under it; the next sweep sees the entry again in that case.
func (q *RedisQueue) move(ctx context.Context, raw, dst string, payload interface{}) (bool, error) {
	txf := func(tx *redis.Tx) error {
		if err := tx.LPos(ctx, processingKey, raw, redis.LPosArgs{}).Err(); err != nil {
			return err
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, processingKey, 1, raw)
			pipe.RPush(ctx, dst, payload)
			return nil
		})
		return err
	}
	for i := 0; i < maxMoveAttempts; i++ {
		err := q.client.Watch(ctx, txf, processingKey)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, redis.Nil):
			// Acked by a late worker or moved by another reaper.
			return false, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		default:
			return false, err
		}
	}
	return false, nil
}

// DeadLetters lists jobs that ran out of delivery attempts and are not yet resolved.
func (q *RedisQueue) DeadLetters(ctx context.Context) ([]Claim, error) {
	entries, err := q.client.LRange(ctx, deadKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	claims := make([]Claim, 0, len(entries))
	for _, raw := range entries {
		var env envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil || env.Job.SubmissionID == "" {
			_ = q.client.LRem(ctx, deadKey, 1, raw).Err()
			continue
		}
		claims = append(claims, Claim{Job: env.Job, Attempt: env.Attempt, raw: raw})
	}
	return claims, nil
}

// ResolveDead drops a dead letter once its submission has been finalized.
func (q *RedisQueue) ResolveDead(ctx context.Context, claim *Claim) error {
	if err := q.client.LRem(ctx, deadKey, 1, claim.raw).Err(); err != nil {
		return fmt.Errorf("resolve dead letter %s: %w", claim.Job.SubmissionID, err)
	}
	return nil
}

// Stats reports waiting, claimed and dead-lettered job counts.
func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.client.Pipeline()
	pending := pipe.LLen(ctx, pendingKey)
	processing := pipe.LLen(ctx, processingKey)
	dead := pipe.LLen(ctx, deadKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	return Stats{QueueLength: pending.Val(), Processing: processing.Val(), Dead: dead.Val()}, nil
}

func leaseKey(id string) string   { return fmt.Sprintf(leaseKeyFmt, id) }
func suspectKey(id string) string { return fmt.Sprintf(suspectKeyFmt, id) }
