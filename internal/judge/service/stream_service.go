package service

import (
	"context"
	"time"

	"judgeflow/internal/judge/model"
	appErr "judgeflow/pkg/errors"
	"judgeflow/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultStreamTimeout = 5 * time.Minute
	defaultGraceDelay    = 500 * time.Millisecond
)

// StreamConfig bounds one live stream.
type StreamConfig struct {
	Timeout    time.Duration `yaml:"timeout"`
	GraceDelay time.Duration `yaml:"graceDelay"`
}

// StreamService relays a submission's live events to one client.
type StreamService struct {
	status *StatusService
	events EventSubscriber
	cfg    StreamConfig
	now    func() time.Time
}

func NewStreamService(status *StatusService, events EventSubscriber, cfg StreamConfig) *StreamService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultStreamTimeout
	}
	if cfg.GraceDelay < 0 {
		cfg.GraceDelay = 0
	} else if cfg.GraceDelay == 0 {
		cfg.GraceDelay = defaultGraceDelay
	}
	return &StreamService{status: status, events: events, cfg: cfg, now: time.Now}
}

// Stream emits a synthetic event for the current state, then forwards live events
// until a terminal one, the timeout or ctx cancellation. Errors returned before the
// first emit mean nothing was written. An emit error ends the stream.
func (s *StreamService) Stream(ctx context.Context, submissionID string, emit func(model.StatusEvent) error) error {
	// Subscribe before reading the view so an event published in between is not lost.
	sub, err := s.events.Subscribe(ctx, submissionID)
	if err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "subscribe failed")
	}
	defer sub.Close()

	view, err := s.status.GetStatus(ctx, submissionID)
	if err != nil {
		return err
	}

	if view.Terminal() {
		return emit(model.NewCompletedEvent(view, s.now().UTC()))
	}
	if err := emit(model.NewStatusUpdate(submissionID, view.Status, s.now().UTC())); err != nil {
		return err
	}

	timer := time.NewTimer(s.cfg.Timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			logger.Info(ctx, "stream timed out", zap.String("submission_id", submissionID))
			return emit(model.NewErrorEvent(submissionID, "timeout", "stream timed out before a verdict", s.now().UTC()))
		case event, ok := <-sub.Events():
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return emit(model.NewErrorEvent(submissionID, "unavailable", "event feed closed", s.now().UTC()))
			}
			if err := emit(event); err != nil {
				return err
			}
			if event.Terminal() {
				s.grace(ctx)
				return nil
			}
		}
	}
}

// grace holds the connection briefly so the client reads the terminal event before close.
func (s *StreamService) grace(ctx context.Context) {
	timer := time.NewTimer(s.cfg.GraceDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
