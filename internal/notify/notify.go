// Package notify announces finished transfers on an SQS queue.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// Completion is the message body sent for a verified transfer.
type Completion struct {
	Bucket      string    `json:"bucket"`
	Key         string    `json:"key"`
	UploadID    string    `json:"upload_id"`
	SourceURL   string    `json:"source_url"`
	Size        int64     `json:"size"`
	StoredSize  int64     `json:"stored_size"`
	SizeMatches bool      `json:"size_matches"`
	CompletedAt time.Time `json:"completed_at"`
}

// Notifier is told about every verified transfer.
type Notifier interface {
	NotifyComplete(ctx context.Context, c Completion) error
}

// SQSAPI is the subset of the SQS client used by SQSNotifier.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

var _ SQSAPI = (*sqs.Client)(nil)

// SQSNotifier sends one JSON message per completion. FIFO queues (URL ending
// in .fifo) get the upload ID as group and deduplication ID, so a retried
// notification for the same upload is delivered once.
type SQSNotifier struct {
	client   SQSAPI
	queueURL string
	logger   *slog.Logger
}

var _ Notifier = (*SQSNotifier)(nil)

func NewSQSNotifier(client SQSAPI, queueURL string, logger *slog.Logger) *SQSNotifier {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SQSNotifier{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

func (n *SQSNotifier) NotifyComplete(ctx context.Context, c Completion) error {
	body, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("notify: marshal completion: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(n.queueURL),
		MessageBody: aws.String(string(body)),
	}
	if strings.HasSuffix(n.queueURL, ".fifo") {
		input.MessageGroupId = aws.String(c.UploadID)
		input.MessageDeduplicationId = aws.String("complete-" + c.UploadID)
	}

	res, err := n.client.SendMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("notify: send message: %w", err)
	}
	n.logger.Debug("completion notification sent", "message_id", aws.ToString(res.MessageId), "upload_id", c.UploadID)
	return nil
}
