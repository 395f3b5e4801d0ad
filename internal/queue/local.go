package queue

import (
	"context"
	"sync"
	"time"

	"github.com/iago/gasometria-back/internal/domain"
	"go.uber.org/zap"
)

// LocalQueue is an in-process queue used when Redis is not configured.
type LocalQueue struct {
	ch          chan domain.QueueMessage
	maxAttempts int
	retryDelay  time.Duration
	logger      *zap.Logger

	dlqMu sync.Mutex
	dlq   []domain.QueueMessage
}

func NewLocalQueue(bufferSize, maxAttempts int, logger *zap.Logger) *LocalQueue {
	if bufferSize <= 0 {
		bufferSize = 512
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalQueue{
		ch:          make(chan domain.QueueMessage, bufferSize),
		maxAttempts: maxAttempts,
		retryDelay:  500 * time.Millisecond,
		logger:      logger,
		dlq:         make([]domain.QueueMessage, 0),
	}
}

// Enqueue never waits for buffer space; a full buffer returns
// ErrQueueBackpressure.
func (q *LocalQueue) Enqueue(ctx context.Context, message domain.QueueMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case q.ch <- message:
		return nil
	default:
		return ErrQueueBackpressure
	}
}

// Consume runs handler for every message until ctx is cancelled. Failed
// messages are redelivered with a linear delay and parked in the DLQ once
// maxAttempts is reached.
func (q *LocalQueue) Consume(ctx context.Context, handler func(context.Context, domain.QueueMessage) error) error {
	var retries sync.WaitGroup
	defer retries.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case message := <-q.ch:
			err := handler(ctx, message)
			if err == nil {
				continue
			}

			message.Attempt++
			if message.Attempt >= q.maxAttempts {
				q.dlqMu.Lock()
				q.dlq = append(q.dlq, message)
				q.dlqMu.Unlock()
				q.logger.Warn("local queue moved message to DLQ",
					zap.String("job_id", message.JobID),
					zap.Int("attempt", message.Attempt),
					zap.Error(err),
				)
				continue
			}

			delay := time.Duration(message.Attempt) * q.retryDelay
			retries.Add(1)
			go func(retryMessage domain.QueueMessage) {
				defer retries.Done()
				timer := time.NewTimer(delay)
				defer timer.Stop()
				select {
				case <-ctx.Done():
					return
				case <-timer.C:
				}
				select {
				case <-ctx.Done():
				case q.ch <- retryMessage:
				}
			}(message)
		}
	}
}

func (q *LocalQueue) DLQSize() int {
	q.dlqMu.Lock()
	defer q.dlqMu.Unlock()
	return len(q.dlq)
}
