package service_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/cosc121od/pycode/internal/common/mq"
	"github.com/cosc121od/pycode/internal/grading/service"
	appErr "github.com/cosc121od/pycode/pkg/errors"
)

func submitMessage(t *testing.T, payload service.SubmitMessage) *mq.Message {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return mq.NewMessage("msg-1", body)
}

func TestHandleMessageGrades(t *testing.T) {
	f := newFixture(t, nil)
	consumer := service.NewSubmitConsumer(f.svc, service.ConsumerConfig{Timeout: time.Minute})
	msg := submitMessage(t, service.SubmitMessage{QuestionID: questionID, Language: "python", Code: sqrCode})

	if err := consumer.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	stored, err := f.submissions.Get(context.Background(), nil, "msg-1")
	if err != nil {
		t.Fatalf("submission keyed by message id not stored: %v", err)
	}
	if stored.Score != 1 {
		t.Fatalf("unexpected score %d", stored.Score)
	}
}

func TestHandleMessageDropsBadInput(t *testing.T) {
	f := newFixture(t, nil)
	consumer := service.NewSubmitConsumer(f.svc, service.ConsumerConfig{})
	tests := []struct {
		name string
		msg  *mq.Message
	}{
		{name: "undecodable", msg: mq.NewMessage("bad", []byte("{"))},
		{name: "short_code", msg: submitMessage(t, service.SubmitMessage{SubmissionID: "s", QuestionID: questionID, Language: "python", Code: "x"})},
		{name: "unknown_language", msg: submitMessage(t, service.SubmitMessage{SubmissionID: "s", QuestionID: questionID, Language: "go", Code: sqrCode})},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := consumer.HandleMessage(context.Background(), tc.msg); err != nil {
				t.Fatalf("expected message to be dropped, got %v", err)
			}
		})
	}
	if f.submissions.count() != 0 {
		t.Fatalf("nothing may be stored for dropped messages")
	}
}

func TestHandleMessageRequeuesWhenPoolFull(t *testing.T) {
	f := newFixture(t, func(cfg *service.Config) {
		cfg.WorkerPoolSize = 1
		cfg.SlotWait = 10 * time.Millisecond
	})
	f.runner.entered = make(chan struct{}, 1)
	f.runner.gate = make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Grade(context.Background(), gradeRequest("busy"))
		done <- err
	}()
	<-f.runner.entered

	producer := &fakeProducer{}
	consumer := service.NewSubmitConsumer(f.svc, service.ConsumerConfig{
		Queue:        producer,
		RetryTopic:   "grading.submit.retry",
		PoolRetryMax: 3,
	})
	msg := submitMessage(t, service.SubmitMessage{QuestionID: questionID, Language: "python", Code: sqrCode + "# v2\n"})
	if err := consumer.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("requeue failed: %v", err)
	}
	close(f.runner.gate)
	if err := <-done; err != nil {
		t.Fatalf("busy grading failed: %v", err)
	}

	requeued := producer.published["grading.submit.retry"]
	if len(requeued) != 1 || requeued[0].Headers["x-pool-retry"] != "1" {
		t.Fatalf("unexpected requeue %+v", requeued)
	}
}

func TestRequeueForPoolFullDeadLetter(t *testing.T) {
	producer := &fakeProducer{}
	msg := mq.NewMessage("sub-3", []byte("{}"))
	msg.Headers["x-pool-retry"] = "3"

	err := service.RequeueForPoolFull(context.Background(), producer, "retry", "dead", 3, 0, 0, msg)
	if err != nil {
		t.Fatalf("dead letter failed: %v", err)
	}
	if len(producer.published["dead"]) != 1 || len(producer.published["retry"]) != 0 {
		t.Fatalf("unexpected publish %+v", producer.published)
	}

	err = service.RequeueForPoolFull(context.Background(), producer, "retry", "", 3, 0, 0, msg)
	if !appErr.Is(err, appErr.JudgeQueueFull) {
		t.Fatalf("expected JudgeQueueFull without dead letter, got %v", err)
	}
}

func TestComputePoolBackoff(t *testing.T) {
	t.Parallel()
	tests := []struct {
		retry int
		base  time.Duration
		max   time.Duration
		want  time.Duration
	}{
		{retry: 0, base: 0, max: time.Second, want: 0},
		{retry: 0, base: 100 * time.Millisecond, max: time.Second, want: 100 * time.Millisecond},
		{retry: 2, base: 100 * time.Millisecond, max: time.Second, want: 400 * time.Millisecond},
		{retry: 5, base: 100 * time.Millisecond, max: time.Second, want: time.Second},
		{retry: 3, base: 100 * time.Millisecond, max: 0, want: 800 * time.Millisecond},
	}
	for _, tc := range tests {
		if got := service.ComputePoolBackoff(tc.retry, tc.base, tc.max); got != tc.want {
			t.Fatalf("ComputePoolBackoff(%d, %v, %v) = %v, want %v", tc.retry, tc.base, tc.max, got, tc.want)
		}
	}
}

func TestParsePoolRetryCount(t *testing.T) {
	t.Parallel()
	if got := service.ParsePoolRetryCount(nil); got != 0 {
		t.Fatalf("nil headers: got %d", got)
	}
	if got := service.ParsePoolRetryCount(map[string]string{"x-pool-retry": "-2"}); got != 0 {
		t.Fatalf("negative count: got %d", got)
	}
	if got := service.ParsePoolRetryCount(map[string]string{"x-pool-retry": "4"}); got != 4 {
		t.Fatalf("expected 4, got %d", got)
	}
}
