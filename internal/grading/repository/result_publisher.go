package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cosc121od/pycode/internal/common/mq"
	"github.com/cosc121od/pycode/internal/grading/model"
	appErr "github.com/cosc121od/pycode/pkg/errors"
)

// ResultEvent announces a finished grading event.
type ResultEvent struct {
	SubmissionID string           `json:"submissionId"`
	QuestionID   int64            `json:"questionId"`
	Score        int              `json:"score"`
	State        model.GradeState `json:"state"`
	Reused       bool             `json:"reused"`
	CreatedAt    int64            `json:"createdAt"`
}

// ResultEventPublisher publishes grading results for downstream consumers.
type ResultEventPublisher interface {
	PublishResult(ctx context.Context, event ResultEvent) error
}

// MQResultEventPublisher publishes result events to a message queue.
type MQResultEventPublisher struct {
	queue mq.Publisher
	topic string
}

// NewMQResultEventPublisher creates a new MQ result event publisher.
func NewMQResultEventPublisher(queue mq.Publisher, topic string) *MQResultEventPublisher {
	return &MQResultEventPublisher{queue: queue, topic: topic}
}

// PublishResult publishes one result event keyed by submission id.
func (p *MQResultEventPublisher) PublishResult(ctx context.Context, event ResultEvent) error {
	if p == nil || p.queue == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("result publisher is not configured")
	}
	if p.topic == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("result topic is required")
	}
	if event.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	if event.CreatedAt == 0 {
		event.CreatedAt = time.Now().Unix()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal result event failed: %w", err)
	}
	message := mq.NewMessage(event.SubmissionID, payload)
	if err := p.queue.Publish(ctx, p.topic, message); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "publish result event failed")
	}
	return nil
}
