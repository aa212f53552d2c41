package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/simhastha/anubhav-gateway/internal/chat"
	"github.com/simhastha/anubhav-gateway/internal/domain"
	"github.com/simhastha/anubhav-gateway/internal/metrics"
)

// Message results recorded by the worker.
const (
	ResultReplied     = "replied"
	ResultAbandoned   = "abandoned"
	ResultPublishFail = "publish_failed"
	ResultDeleteFail  = "delete_failed"
)

// Chatter answers one chat request. *chat.Service implements it.
type Chatter interface {
	Chat(ctx context.Context, req domain.ChatRequest) domain.ChatResponse
}

type Worker struct {
	queue        Queue
	chat         Chatter
	batchSize    int
	concurrency  int
	errorBackoff time.Duration
	logger       *slog.Logger
}

type WorkerOption func(*Worker)

func WithBatchSize(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

func WithConcurrency(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

func WithErrorBackoff(d time.Duration) WorkerOption {
	return func(w *Worker) {
		w.errorBackoff = d
	}
}

func WithWorkerLogger(l *slog.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = l
	}
}

func NewWorker(q Queue, c Chatter, opts ...WorkerOption) *Worker {
	w := &Worker{
		queue:        q,
		chat:         c,
		batchSize:    10,
		concurrency:  4,
		errorBackoff: time.Second,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls until ctx is cancelled. It returns nil on cancellation.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("queue worker started", "batch_size", w.batchSize, "concurrency", w.concurrency)
	defer w.logger.Info("queue worker stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := w.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error("receive chat requests", "error", err)
			if !sleep(ctx, w.errorBackoff) {
				return nil
			}
			continue
		}
		if n == 0 {
			// SQS long-polls; the in-memory queue returns at once.
			if !sleep(ctx, 100*time.Millisecond) {
				return nil
			}
		}
	}
}

// Poll receives one batch and handles it, returning how many messages it saw.
func (w *Worker) Poll(ctx context.Context) (int, error) {
	messages, err := w.queue.ReceiveRequests(ctx, w.batchSize)
	if err != nil {
		return 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for _, msg := range messages {
		g.Go(func() error {
			w.handle(gctx, msg)
			return nil
		})
	}
	return len(messages), g.Wait()
}

func (w *Worker) handle(ctx context.Context, msg ChatMessage) {
	requestID := uuid.NewString()
	logger := w.logger.With("request_id", requestID, "message_id", msg.ID)

	req, err := domain.DecodeChatRequest(msg.Body)
	if err != nil {
		logger.Debug("chat request rejected at decode", "error", err)
	}

	resp := w.chat.Chat(chat.ContextWithRequestID(ctx, requestID), req)
	if ctx.Err() != nil {
		// Shutting down: let the message become visible again.
		logger.Warn("chat request abandoned", "error", ctx.Err())
		metrics.RecordQueueMessage(ResultAbandoned)
		return
	}

	// The reply and the delete must outlive a shutdown that lands mid-message.
	ctx = context.WithoutCancel(ctx)
	if err := w.queue.SendResponse(ctx, NewChatReply(msg.ID, requestID, resp)); err != nil {
		// Leave the message for redelivery.
		logger.Error("publish chat reply", "error", err)
		metrics.RecordQueueMessage(ResultPublishFail)
		return
	}

	if err := w.queue.DeleteRequest(ctx, msg.ReceiptHandle); err != nil {
		logger.Error("delete chat request", "error", err)
		metrics.RecordQueueMessage(ResultDeleteFail)
		return
	}

	metrics.RecordQueueMessage(ResultReplied)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

var _ Chatter = (*chat.Service)(nil)
