package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"judgeflow/internal/judge/model"
	"judgeflow/internal/judge/queue"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newQueue(t *testing.T, cfg queue.Config) (*queue.RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return queue.NewRedisQueue(client, cfg, "worker-1"), mr
}

func job(id string) model.ExecutionJob {
	return model.ExecutionJob{
		SubmissionID: id,
		Language:     model.LanguagePython,
		Code:         "print(1)",
		TestCases:    []model.TestCase{{Index: 0, Input: "", ExpectedOutput: "1"}},
		Limits:       model.Limits{TimeLimitMs: 1000, MemoryLimitKB: 65536},
	}
}

func TestQueueIsFIFO(t *testing.T) {
	q, _ := newQueue(t, queue.Config{})
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(ctx, job(id)))
	}

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, queue.Stats{QueueLength: 3, Processing: 0}, stats)

	for _, want := range []string{"a", "b", "c"} {
		claim, err := q.Dequeue(ctx, time.Second)
		require.NoError(t, err)
		require.NotNil(t, claim)
		require.Equal(t, want, claim.Job.SubmissionID)
		require.Equal(t, 1, claim.Attempt)
	}

	stats, err = q.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, queue.Stats{QueueLength: 0, Processing: 3}, stats)
}

func TestDequeueTimesOutWithNil(t *testing.T) {
	q, _ := newQueue(t, queue.Config{})
	claim, err := q.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	require.Nil(t, claim)
}

func TestAckReleasesClaim(t *testing.T) {
	q, mr := newQueue(t, queue.Config{})
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, job("a")))

	claim, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, mr.Exists("judge:queue:lease:a"))

	require.NoError(t, q.Ack(ctx, claim))
	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), stats.Processing)
	require.False(t, mr.Exists("judge:queue:lease:a"))
}

func TestRequeueStaleNeedsTwoSweeps(t *testing.T) {
	q, mr := newQueue(t, queue.Config{LeaseTTL: 10 * time.Second, MaxDeliveries: 3})
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, job("a")))
	require.NoError(t, q.Enqueue(ctx, job("b")))

	_, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)

	// Live lease: nothing moves.
	n, dead, err := q.RequeueStale(ctx, time.Second)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Zero(t, dead)

	// Worker crashed: the lease expires.
	mr.FastForward(11 * time.Second)

	n, _, err = q.RequeueStale(ctx, time.Second)
	require.NoError(t, err)
	require.Zero(t, n, "first sweep only marks the entry")

	n, dead, err = q.RequeueStale(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Zero(t, dead)

	// The requeued job is served before the still-pending one.
	claim, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, "a", claim.Job.SubmissionID)
	require.Equal(t, 2, claim.Attempt)
}

func TestTouchKeepsClaimAlive(t *testing.T) {
	q, mr := newQueue(t, queue.Config{LeaseTTL: 10 * time.Second})
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, job("a")))
	claim, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		mr.FastForward(8 * time.Second)
		require.NoError(t, q.Touch(ctx, claim))
		n, _, err := q.RequeueStale(ctx, time.Second)
		require.NoError(t, err)
		require.Zero(t, n)
	}
}

func TestRequeueStaleDeadLettersAfterMaxDeliveries(t *testing.T) {
	q, mr := newQueue(t, queue.Config{LeaseTTL: time.Second, MaxDeliveries: 1})
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, job("a")))
	_, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	_, _, err = q.RequeueStale(ctx, time.Second)
	require.NoError(t, err)
	n, dead, err := q.RequeueStale(ctx, time.Second)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, 1, dead)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, queue.Stats{Dead: 1}, stats)

	// The dead letter survives further sweeps until it is resolved.
	_, _, err = q.RequeueStale(ctx, time.Second)
	require.NoError(t, err)
	letters, err := q.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	require.Equal(t, "a", letters[0].Job.SubmissionID)
	require.Equal(t, 1, letters[0].Attempt)

	require.NoError(t, q.ResolveDead(ctx, &letters[0]))
	stats, err = q.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, queue.Stats{}, stats)
}

func TestRequeueStaleSkipsEntryAckedMeanwhile(t *testing.T) {
	q, mr := newQueue(t, queue.Config{LeaseTTL: time.Second})
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, job("a")))
	claim, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	_, _, err = q.RequeueStale(ctx, time.Second)
	require.NoError(t, err)
	// The slow worker finishes before the second sweep.
	require.NoError(t, q.Ack(ctx, claim))

	n, dead, err := q.RequeueStale(ctx, time.Second)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Zero(t, dead)
	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, queue.Stats{}, stats)
}

func TestConcurrentDequeueClaimsJobOnce(t *testing.T) {
	q, _ := newQueue(t, queue.Config{})
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, job("a")))

	const workers = 8
	claims := make(chan *queue.Claim, workers)
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claim, err := q.Dequeue(ctx, time.Second)
			if err != nil {
				errs <- err
				return
			}
			if claim != nil {
				claims <- claim
			}
		}()
	}
	wg.Wait()
	close(claims)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	var got []string
	for claim := range claims {
		got = append(got, claim.Job.SubmissionID)
	}
	require.Equal(t, []string{"a"}, got)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, queue.Stats{Processing: 1}, stats)
}

func TestDequeueDropsUndecodableEntry(t *testing.T) {
	q, mr := newQueue(t, queue.Config{})
	_, err := mr.Lpush("judge:queue:pending", "{not json")
	require.NoError(t, err)

	claim, err := q.Dequeue(context.Background(), time.Second)
	require.ErrorIs(t, err, queue.ErrBadEnvelope)
	require.Nil(t, claim)
	stats, err := q.Stats(context.Background())
	require.NoError(t, err)
	require.Zero(t, stats.Processing)
}
