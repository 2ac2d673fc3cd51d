// Package notify delivers owner-facing notifications (approval summaries,
// delivery confirmations) by invoking the notification Lambda asynchronously.
// Notification failures never fail the operation that triggered them.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/rs/zerolog/log"
)

// Message is the payload handed to the notification Lambda.
type Message struct {
	Type      string `json:"type"`
	OwnerID   string `json:"ownerId"`
	GalleryID string `json:"galleryId"`
	OrderID   string `json:"orderId,omitempty"`

	OrderNumber   int    `json:"orderNumber,omitempty"`
	SelectedCount int    `json:"selectedCount,omitempty"`
	OverageCount  int    `json:"overageCount,omitempty"`
	OverageCents  int64  `json:"overageCents,omitempty"`
	TotalCents    int64  `json:"totalCents,omitempty"`
	Body          string `json:"body,omitempty"`
}

// Notifier sends a notification. Implementations must be safe to call on
// the request path: failures are logged by callers, never propagated.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// LambdaNotifier invokes the notification Lambda with an Event (fire and
// forget) invocation.
type LambdaNotifier struct {
	Client       *lambda.Client
	FunctionName string
}

var _ Notifier = (*LambdaNotifier)(nil)

func (n *LambdaNotifier) Notify(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling notification: %w", err)
	}

	_, err = n.Client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   &n.FunctionName,
		InvocationType: types.InvocationTypeEvent,
		Payload:        payload,
	})
	if err != nil {
		return fmt.Errorf("invoking notifier %s: %w", n.FunctionName, err)
	}

	log.Debug().Str("type", msg.Type).Str("galleryId", msg.GalleryID).Msg("Notification dispatched")
	return nil
}

// Noop discards notifications. Used when no notification Lambda is
// configured and in tests.
type Noop struct{}

func (Noop) Notify(context.Context, Message) error { return nil }
