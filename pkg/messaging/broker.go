package messaging

import (
	"context"
)

// Broker is the pub/sub bus carrying lifecycle events between the delivery
// workers, the telephony collaborator and the outcome recorder.
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}

// TaskQueue is the at-least-once work queue carrying dispatch tasks from the
// dispatcher to the delivery workers. Publish failures are per-message so a
// partial batch can proceed. Consume blocks until ctx is cancelled or the
// underlying channel is lost.
type TaskQueue interface {
	Publish(ctx context.Context, queue string, body []byte) error
	Consume(ctx context.Context, queue string, handler func([]byte) error) error
	Close() error
}
