package queue

import (
	"context"
	"fmt"
)

// Sender delivers a raw payload to a queue backend.
type Sender interface {
	Send(ctx context.Context, payload []byte) error
}

// Publisher sends warmup requests and status events through a Sender.
type Publisher struct {
	sender Sender
}

// NewPublisher wraps sender.
func NewPublisher(sender Sender) *Publisher {
	return &Publisher{sender: sender}
}

// EnqueueWarmup sends a warmup request.
func (p *Publisher) EnqueueWarmup(ctx context.Context, msg WarmupMessage) error {
	if msg.Version == 0 {
		msg.Version = MessageVersion
	}
	payload, err := EncodeWarmup(msg)
	if err != nil {
		return fmt.Errorf("encode warmup message: %w", err)
	}
	return p.sender.Send(ctx, payload)
}

// PublishStatus sends a status event.
func (p *Publisher) PublishStatus(ctx context.Context, event StatusEvent) error {
	payload, err := EncodeStatusEvent(event)
	if err != nil {
		return fmt.Errorf("encode status event: %w", err)
	}
	return p.sender.Send(ctx, payload)
}
