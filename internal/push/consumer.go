// Package push receives the data-only push notification channel over SQS.
package push

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

type Consumer struct {
	SQS      *sqs.Client
	QueueURL string

	WaitTimeSeconds   int32
	MaxMessages       int32
	VisibilityTimeout int32
}

// Handler processes one decoded push payload.
type Handler func(ctx context.Context, p Payload) error

// Poll long-polls the queue until ctx is cancelled. The device is a single
// consumer, so messages are handled inline; an unhandled payload is left for
// redrive.
func (c *Consumer) Poll(ctx context.Context, handler Handler) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		out, err := c.SQS.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            &c.QueueURL,
			MaxNumberOfMessages: c.MaxMessages,
			WaitTimeSeconds:     c.WaitTimeSeconds,
			VisibilityTimeout:   c.VisibilityTimeout,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Error("push receive failed", "err", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, m := range out.Messages {
			if m.Body == nil {
				c.delete(ctx, m.ReceiptHandle)
				continue
			}
			var p Payload
			if err := json.Unmarshal([]byte(*m.Body), &p); err != nil || p.Validate() != nil {
				// Poison payload: delete to avoid endless redrive.
				slog.Warn("dropping malformed push payload", "body", *m.Body)
				c.delete(ctx, m.ReceiptHandle)
				continue
			}

			if err := handler(ctx, p); err != nil {
				slog.Error("push handler error", "err", err, "type", p.Type)
				continue
			}
			c.delete(ctx, m.ReceiptHandle)
		}
	}
}

func (c *Consumer) delete(ctx context.Context, receipt *string) {
	_, _ = c.SQS.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &c.QueueURL,
		ReceiptHandle: receipt,
	})
}
