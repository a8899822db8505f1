// Package mq carries grading submissions and result events over a message broker.
package mq

import (
	"context"
	"time"
)

// Publisher sends messages to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, message *Message) error
}

// Handler processes one delivered message. Returning nil commits it.
type Handler func(ctx context.Context, message *Message) error

// Message is one submission or grading event on the wire. ID doubles as the
// partition key so every message of a submission lands on one partition.
type Message struct {
	ID        string
	Body      []byte
	Headers   map[string]string
	Timestamp time.Time

	// Attempt counts failed handler runs within this consumer.
	Attempt int
}

// NewMessage builds a message keyed by id.
func NewMessage(id string, body []byte) *Message {
	return &Message{
		ID:        id,
		Body:      body,
		Headers:   make(map[string]string),
		Timestamp: time.Now(),
	}
}

// ConsumeOptions tunes the consumer of one topic.
type ConsumeOptions struct {
	Group   string
	Workers int

	// MaxAttempts bounds handler runs per message; afterwards it goes to
	// DeadLetterTopic when set and is committed either way.
	MaxAttempts     int
	RetryDelay      time.Duration
	DeadLetterTopic string

	// MaxAge drops messages older than this without handling them.
	MaxAge time.Duration
}

func (o ConsumeOptions) withDefaults() ConsumeOptions {
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
	return o
}
