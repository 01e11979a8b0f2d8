package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// SQSQueue is the production queue backend. Visibility timeout and
// redelivery are SQS-native; the move to the DLQ is done by the redrive
// policy configured on the queue. This client stamps each enqueued message
// with its configured maxAttempts and reports ApproximateReceiveCount as
// Message.Attempt, so the worker can tell a final delivery from a retry;
// Nack always hands the message back to SQS.
type SQSQueue struct {
	client      *sqs.Client
	queueURL    string
	dlqURL      string
	maxAttempts int
	log         zerolog.Logger
}

func NewSQSQueue(client *sqs.Client, queueURL, dlqURL string, maxAttempts int, log zerolog.Logger) *SQSQueue {
	if maxAttempts == 0 {
		maxAttempts = 5
	}
	return &SQSQueue{
		client:      client,
		queueURL:    queueURL,
		dlqURL:      dlqURL,
		maxAttempts: maxAttempts,
		log:         log.With().Str("component", "sqs_queue").Logger(),
	}
}

func (q *SQSQueue) Enqueue(msg Message) error {
	if msg.MaxAttempts == 0 {
		msg.MaxAttempts = q.maxAttempts
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message %s: %w", msg.ID, err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"Phase": {DataType: aws.String("String"), StringValue: aws.String(string(msg.Phase))},
		},
	}
	if msg.Priority == PriorityHigh {
		input.MessageAttributes["Priority"] = types.MessageAttributeValue{
			DataType: aws.String("String"), StringValue: aws.String("high"),
		}
	}

	_, err = q.client.SendMessage(context.Background(), input)
	if err != nil {
		return fmt.Errorf("send message %s: %w", msg.ID, err)
	}
	return nil
}

func (q *SQSQueue) Receive(max int, visibilityTimeout time.Duration) ([]Message, error) {
	resp, err := q.client.ReceiveMessage(context.Background(), &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(q.queueURL),
		MaxNumberOfMessages:   int32(max),
		VisibilityTimeout:     int32(visibilityTimeout.Seconds()),
		WaitTimeSeconds:       5,
		MessageAttributeNames: []string{"All"},
		AttributeNames:        []types.QueueAttributeName{types.QueueAttributeNameApproximateReceiveCount},
	})
	if err != nil {
		return nil, fmt.Errorf("receive messages: %w", err)
	}

	out := make([]Message, 0, len(resp.Messages))
	for _, raw := range resp.Messages {
		var msg Message
		if err := json.Unmarshal([]byte(aws.ToString(raw.Body)), &msg); err != nil {
			q.log.Error().Err(err).Str("receipt_handle", aws.ToString(raw.ReceiptHandle)).Msg("dropping unparseable message")
			continue
		}
		msg.ID = aws.ToString(raw.ReceiptHandle)
		if countStr, ok := raw.Attributes[string(types.QueueAttributeNameApproximateReceiveCount)]; ok {
			if n, err := strconv.Atoi(countStr); err == nil {
				msg.Attempt = n
			}
		}
		out = append(out, msg)
	}
	return out, nil
}

// Ack deletes the message, identified by its SQS receipt handle stored in
// Message.ID.
func (q *SQSQueue) Ack(receiptHandle string) error {
	_, err := q.client.DeleteMessage(context.Background(), &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// Nack makes the message immediately visible again by zeroing its
// visibility timeout. SQS's redrive policy handles the dead-letter move
// once ApproximateReceiveCount exceeds the configured threshold.
func (q *SQSQueue) Nack(receiptHandle string) error {
	_, err := q.client.ChangeMessageVisibility(context.Background(), &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(q.queueURL),
		ReceiptHandle:     aws.String(receiptHandle),
		VisibilityTimeout: 0,
	})
	if err != nil {
		return fmt.Errorf("reset visibility: %w", err)
	}
	return nil
}

// DeadLettered drains up to 10 messages from the configured DLQ for
// inspection. It does not delete them; an operator or cleanup job does
// that after review.
func (q *SQSQueue) DeadLettered() []Message {
	if q.dlqURL == "" {
		return nil
	}
	resp, err := q.client.ReceiveMessage(context.Background(), &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.dlqURL),
		MaxNumberOfMessages: 10,
	})
	if err != nil {
		q.log.Error().Err(err).Msg("failed to poll dead-letter queue")
		return nil
	}
	out := make([]Message, 0, len(resp.Messages))
	for _, raw := range resp.Messages {
		var msg Message
		if err := json.Unmarshal([]byte(aws.ToString(raw.Body)), &msg); err == nil {
			out = append(out, msg)
		}
	}
	return out
}

func (q *SQSQueue) Size() int {
	resp, err := q.client.GetQueueAttributes(context.Background(), &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(q.queueURL),
		AttributeNames: []types.QueueAttributeName{
			types.QueueAttributeNameApproximateNumberOfMessages,
			types.QueueAttributeNameApproximateNumberOfMessagesNotVisible,
		},
	})
	if err != nil {
		q.log.Error().Err(err).Msg("failed to read queue size")
		return 0
	}
	n, _ := strconv.Atoi(resp.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessages)])
	inFlight, _ := strconv.Atoi(resp.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessagesNotVisible)])
	return n + inFlight
}
