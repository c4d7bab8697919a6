package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"judgeflow/internal/judge/model"
	appErr "judgeflow/pkg/errors"
	"judgeflow/pkg/utils/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	eventChannelPrefix = "judge:events:"
	subscriptionBuffer = 64
)

// EventNotifier broadcasts StatusEvents over Redis pub/sub.
// Delivery is at most once to listeners subscribed at publish time; nothing is replayed.
type EventNotifier struct {
	client *redis.Client
}

func NewEventNotifier(client *redis.Client) *EventNotifier {
	return &EventNotifier{client: client}
}

// Publish sends event on the submission's channel.
func (n *EventNotifier) Publish(ctx context.Context, event model.StatusEvent) error {
	if n == nil || n.client == nil {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event failed: %w", err)
	}
	if err := n.client.Publish(ctx, channel(event.SubmissionID), payload).Err(); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "publish event failed")
	}
	return nil
}

// Subscription delivers events for one submission until Close.
type Subscription interface {
	Events() <-chan model.StatusEvent
	// Close releases the subscription. It is safe to call more than once.
	Close()
}

type redisSubscription struct {
	events chan model.StatusEvent
	pubsub *redis.PubSub
	once   sync.Once
	done   chan struct{}
}

func (s *redisSubscription) Events() <-chan model.StatusEvent {
	return s.events
}

func (s *redisSubscription) Close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.pubsub.Close()
	})
}

// Subscribe returns once the subscription is active, so events published afterwards are seen.
func (n *EventNotifier) Subscribe(ctx context.Context, submissionID string) (Subscription, error) {
	if n == nil || n.client == nil {
		return nil, appErr.New(appErr.CacheError).WithMessage("event notifier is not configured")
	}
	pubsub := n.client.Subscribe(ctx, channel(submissionID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, appErr.Wrapf(err, appErr.CacheError, "subscribe failed")
	}

	out := make(chan model.StatusEvent, subscriptionBuffer)
	sub := &redisSubscription{events: out, pubsub: pubsub, done: make(chan struct{})}
	msgs := pubsub.Channel()
	go func() {
		defer close(out)
		for {
			select {
			case <-sub.done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var event model.StatusEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					logger.Warn(ctx, "drop undecodable status event", zap.String("channel", msg.Channel), zap.Error(err))
					continue
				}
				select {
				case out <- event:
				case <-sub.done:
					return
				}
			}
		}
	}()
	return sub, nil
}

func channel(submissionID string) string {
	return eventChannelPrefix + submissionID
}
