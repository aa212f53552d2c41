package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/simhastha/anubhav-gateway/internal/domain"
)

// SQSAPI is the subset of the SQS client the queue uses.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

type SQSQueue struct {
	client           SQSAPI
	requestQueueURL  string
	responseQueueURL string
	waitSeconds      int32
}

func NewSQSQueue(cfg aws.Config, requestQueueURL, responseQueueURL string) *SQSQueue {
	return NewSQSQueueWithClient(sqs.NewFromConfig(cfg), requestQueueURL, responseQueueURL)
}

func NewSQSQueueWithClient(client SQSAPI, requestQueueURL, responseQueueURL string) *SQSQueue {
	return &SQSQueue{
		client:           client,
		requestQueueURL:  requestQueueURL,
		responseQueueURL: responseQueueURL,
		waitSeconds:      20,
	}
}

func stringAttr(v string) types.MessageAttributeValue {
	return types.MessageAttributeValue{
		DataType:    aws.String("String"),
		StringValue: aws.String(v),
	}
}

func (q *SQSQueue) SendRequest(ctx context.Context, req domain.ChatRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.requestQueueURL),
		MessageBody: aws.String(string(body)),
	}
	if req.CorrelationID != "" {
		input.MessageAttributes = map[string]types.MessageAttributeValue{
			"CorrelationID": stringAttr(req.CorrelationID),
		}
	}

	out, err := q.client.SendMessage(ctx, input)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}

func (q *SQSQueue) ReceiveRequests(ctx context.Context, maxMessages int) ([]ChatMessage, error) {
	input := &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(q.requestQueueURL),
		MaxNumberOfMessages:   int32(min(maxMessages, 10)),
		WaitTimeSeconds:       q.waitSeconds,
		MessageAttributeNames: []string{"All"},
	}

	result, err := q.client.ReceiveMessage(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("receive messages: %w", err)
	}

	messages := make([]ChatMessage, 0, len(result.Messages))
	for _, msg := range result.Messages {
		messages = append(messages, ChatMessage{
			ID:            aws.ToString(msg.MessageId),
			Body:          []byte(aws.ToString(msg.Body)),
			ReceiptHandle: aws.ToString(msg.ReceiptHandle),
		})
	}
	return messages, nil
}

func (q *SQSQueue) DeleteRequest(ctx context.Context, receiptHandle string) error {
	input := &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.requestQueueURL),
		ReceiptHandle: aws.String(receiptHandle),
	}

	if _, err := q.client.DeleteMessage(ctx, input); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

func (q *SQSQueue) SendResponse(ctx context.Context, reply ChatReply) error {
	body, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}

	attrs := map[string]types.MessageAttributeValue{
		"MessageID": stringAttr(reply.MessageID),
		"RequestID": stringAttr(reply.RequestID),
	}
	if reply.CorrelationID != "" {
		attrs["CorrelationID"] = stringAttr(reply.CorrelationID)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:          aws.String(q.responseQueueURL),
		MessageBody:       aws.String(string(body)),
		MessageAttributes: attrs,
	}

	if _, err := q.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("send response: %w", err)
	}
	return nil
}
