package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/cosc121od/pycode/internal/common/mq"
	appErr "github.com/cosc121od/pycode/pkg/errors"
	"github.com/cosc121od/pycode/pkg/utils/logger"
)

// SubmitMessage is the payload of a queued grading request.
type SubmitMessage struct {
	SubmissionID string `json:"submissionId"`
	QuestionID   int64  `json:"questionId"`
	Language     string `json:"language"`
	Code         string `json:"code"`
}

// SubmitConsumer grades submissions received from the message queue.
type SubmitConsumer struct {
	svc           *Service
	queue         mq.Publisher
	retryTopic    string
	deadLetter    string
	poolRetryMax  int
	poolRetryBase time.Duration
	poolRetryMaxD time.Duration
	timeout       time.Duration
}

// ConsumerConfig holds the retry settings of the submit consumer.
type ConsumerConfig struct {
	Queue             mq.Publisher
	RetryTopic        string
	DeadLetterTopic   string
	PoolRetryMax      int
	PoolRetryBase     time.Duration
	PoolRetryMaxDelay time.Duration
	Timeout           time.Duration
}

// NewSubmitConsumer creates a consumer bound to svc.
func NewSubmitConsumer(svc *Service, cfg ConsumerConfig) *SubmitConsumer {
	return &SubmitConsumer{
		svc:           svc,
		queue:         cfg.Queue,
		retryTopic:    cfg.RetryTopic,
		deadLetter:    cfg.DeadLetterTopic,
		poolRetryMax:  cfg.PoolRetryMax,
		poolRetryBase: cfg.PoolRetryBase,
		poolRetryMaxD: cfg.PoolRetryMaxDelay,
		timeout:       cfg.Timeout,
	}
}

// HandleMessage grades one queued submission. Malformed or ungradable
// submissions are logged and dropped; infrastructure failures are returned
// so the queue retries them.
func (c *SubmitConsumer) HandleMessage(ctx context.Context, msg *mq.Message) error {
	if msg == nil {
		return appErr.New(appErr.InvalidParams).WithMessage("message is nil")
	}
	var payload SubmitMessage
	if err := json.Unmarshal(msg.Body, &payload); err != nil {
		logger.Warn(ctx, "drop undecodable submit message", zap.String("message_id", msg.ID), zap.Error(err))
		return nil
	}
	if payload.SubmissionID == "" {
		payload.SubmissionID = msg.ID
	}

	ctxGrade := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctxGrade, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	resp, err := c.svc.Grade(ctxGrade, GradeRequest{
		SubmissionID: payload.SubmissionID,
		QuestionID:   payload.QuestionID,
		Language:     payload.Language,
		Code:         payload.Code,
	})
	if err != nil {
		return c.handleFailure(ctx, msg, payload, err)
	}
	logger.Info(ctx, "queued submission graded",
		zap.String("submission_id", resp.SubmissionID),
		zap.String("state", string(resp.Grade.State)),
		zap.Bool("reused", resp.Reused),
	)
	return nil
}

func (c *SubmitConsumer) handleFailure(ctx context.Context, msg *mq.Message, payload SubmitMessage, err error) error {
	code := appErr.GetCode(err)
	switch {
	case code == appErr.JudgeQueueFull:
		if c.queue == nil || c.retryTopic == "" {
			return err
		}
		return RequeueForPoolFull(ctx, c.queue, c.retryTopic, c.deadLetter, c.poolRetryMax, c.poolRetryBase, c.poolRetryMaxD, msg)
	case code.HTTPStatus() == 400 || code == appErr.LanguageNotSupported:
		logger.Warn(ctx, "drop ungradable submission",
			zap.String("submission_id", payload.SubmissionID),
			zap.Int64("question_id", payload.QuestionID),
			zap.Int("code", int(code)),
			zap.Error(err),
		)
		return nil
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return err
	}
	logger.Error(ctx, "grade queued submission failed", zap.String("submission_id", payload.SubmissionID), zap.Error(err))
	return err
}
