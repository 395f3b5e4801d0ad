package queue

import (
	"context"

	"github.com/iago/gasometria-back/internal/domain"
)

// Producer hands a job to the background side. Implementations must not wait
// for the job to run.
type Producer interface {
	Enqueue(ctx context.Context, message domain.QueueMessage) error
}

// Consumer receives dispatched jobs and executes handlers.
type Consumer interface {
	Consume(ctx context.Context, handler func(context.Context, domain.QueueMessage) error) error
}
