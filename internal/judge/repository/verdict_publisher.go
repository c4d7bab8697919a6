package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"judgeflow/internal/common/mq"
	"judgeflow/internal/judge/model"
	appErr "judgeflow/pkg/errors"
)

// DefaultVerdictTopic carries one message per judged submission.
const DefaultVerdictTopic = "judge.verdicts"

// Verdict is the downstream message for a final result.
type Verdict struct {
	SubmissionID  string       `json:"submission_id"`
	UserID        int64        `json:"user_id"`
	ProblemID     int64        `json:"problem_id"`
	Status        model.Status `json:"status"`
	PassedCount   int          `json:"passed_count"`
	TotalCount    int          `json:"total_count"`
	TotalTimeMs   int64        `json:"total_time_ms"`
	TotalMemoryKB int64        `json:"total_memory_kb"`
	JudgedAt      time.Time    `json:"judged_at"`
}

// VerdictPublisher fans final verdicts out to a message queue topic.
type VerdictPublisher struct {
	producer mq.Producer
	topic    string
}

func NewVerdictPublisher(producer mq.Producer, topic string) *VerdictPublisher {
	if topic == "" {
		topic = DefaultVerdictTopic
	}
	return &VerdictPublisher{producer: producer, topic: topic}
}

// PublishVerdict sends the final result keyed by submission id.
func (p *VerdictPublisher) PublishVerdict(ctx context.Context, job model.ExecutionJob, result model.SubmissionResult) error {
	if p == nil || p.producer == nil {
		return nil
	}
	payload, err := json.Marshal(Verdict{
		SubmissionID:  result.SubmissionID,
		UserID:        job.UserID,
		ProblemID:     job.ProblemID,
		Status:        result.Status,
		PassedCount:   result.PassedCount,
		TotalCount:    result.TotalCount,
		TotalTimeMs:   result.TotalTimeMs,
		TotalMemoryKB: result.TotalMemoryKB,
		JudgedAt:      result.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal verdict failed: %w", err)
	}
	msg := mq.NewMessage(result.SubmissionID, payload)
	msg.SetHeader("status", string(result.Status))
	if err := p.producer.Publish(ctx, p.topic, msg); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "publish verdict failed")
	}
	return nil
}
