// Package queue serves chat requests asynchronously. Requests arrive on one
// queue as the same JSON body the HTTP route accepts; replies are published
// to a second queue keyed by the request message id.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/simhastha/anubhav-gateway/internal/domain"
)

// ChatMessage is one received chat request.
type ChatMessage struct {
	ID            string
	Body          []byte
	ReceiptHandle string
}

// ChatReply is published for every handled ChatMessage.
type ChatReply struct {
	MessageID     string    `json:"messageId"`
	RequestID     string    `json:"requestId"`
	CorrelationID string    `json:"correlationId,omitempty"`
	Text          string    `json:"text,omitempty"`
	Error         string    `json:"error,omitempty"`
	Details       string    `json:"details,omitempty"`
	Model         string    `json:"model,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

func NewChatReply(messageID, requestID string, resp domain.ChatResponse) ChatReply {
	return ChatReply{
		MessageID:     messageID,
		RequestID:     requestID,
		CorrelationID: resp.CorrelationID,
		Text:          resp.Text,
		Error:         resp.Error,
		Details:       resp.Details,
		Model:         resp.Model,
		CreatedAt:     time.Now().UTC(),
	}
}

type Queue interface {
	SendRequest(ctx context.Context, req domain.ChatRequest) (string, error)
	ReceiveRequests(ctx context.Context, maxMessages int) ([]ChatMessage, error)
	DeleteRequest(ctx context.Context, receiptHandle string) error
	SendResponse(ctx context.Context, reply ChatReply) error
}

type InMemoryQueue struct {
	mu        sync.Mutex
	requests  []ChatMessage
	inflight  map[string]ChatMessage
	responses []ChatReply
}

func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		inflight: make(map[string]ChatMessage),
	}
}

func (q *InMemoryQueue) SendRequest(ctx context.Context, req domain.ChatRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	return q.SendRaw(body), nil
}

// SendRaw enqueues body unchanged, which lets tests inject malformed requests.
func (q *InMemoryQueue) SendRaw(body []byte) string {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := uuid.NewString()
	q.requests = append(q.requests, ChatMessage{ID: id, Body: body, ReceiptHandle: "rh-" + id})
	return id
}

func (q *InMemoryQueue) ReceiveRequests(ctx context.Context, maxMessages int) ([]ChatMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := min(maxMessages, len(q.requests))
	result := make([]ChatMessage, count)
	copy(result, q.requests[:count])
	q.requests = q.requests[count:]

	for _, msg := range result {
		q.inflight[msg.ReceiptHandle] = msg
	}
	return result, nil
}

func (q *InMemoryQueue) DeleteRequest(ctx context.Context, receiptHandle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.inflight[receiptHandle]; !ok {
		return fmt.Errorf("delete message: unknown receipt handle %q", receiptHandle)
	}
	delete(q.inflight, receiptHandle)
	return nil
}

func (q *InMemoryQueue) SendResponse(ctx context.Context, reply ChatReply) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.responses = append(q.responses, reply)
	return nil
}

func (q *InMemoryQueue) GetResponses() []ChatReply {
	q.mu.Lock()
	defer q.mu.Unlock()
	result := make([]ChatReply, len(q.responses))
	copy(result, q.responses)
	return result
}

// Pending returns the number of queued plus received-but-undeleted messages.
func (q *InMemoryQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.requests) + len(q.inflight)
}
