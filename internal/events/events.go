// Package events publishes order lifecycle events to EventBridge so
// downstream systems (billing, analytics, client email flows) can react
// without being called inline. Publishing is best-effort: the lifecycle
// engine logs failures and moves on.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/rs/zerolog/log"
)

const source = "gallery-delivery"

// Detail types published on the bus.
const (
	SelectionApproved = "SelectionApproved"
	ChangesRequested  = "ChangesRequested"
	OrderDelivered    = "OrderDelivered"
)

// OrderEvent is the detail body for all order lifecycle events.
type OrderEvent struct {
	OwnerID     string `json:"ownerId"`
	GalleryID   string `json:"galleryId"`
	OrderID     string `json:"orderId"`
	OrderNumber int    `json:"orderNumber"`
	Status      string `json:"status"`
	TotalCents  int64  `json:"totalCents,omitempty"`
	OccurredAt  int64  `json:"occurredAt"`
}

// Publisher emits lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, detailType string, event OrderEvent) error
}

// BridgePublisher publishes to a named EventBridge bus.
type BridgePublisher struct {
	Client  *eventbridge.Client
	BusName string
}

var _ Publisher = (*BridgePublisher)(nil)

func (p *BridgePublisher) Publish(ctx context.Context, detailType string, event OrderEvent) error {
	detail, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event detail: %w", err)
	}

	result, err := p.Client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []types.PutEventsRequestEntry{
			{
				EventBusName: &p.BusName,
				Source:       aws.String(source),
				DetailType:   &detailType,
				Detail:       aws.String(string(detail)),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("PutEvents %s: %w", detailType, err)
	}
	if result.FailedEntryCount > 0 {
		entry := result.Entries[0]
		return fmt.Errorf("PutEvents %s rejected: %s", detailType, aws.ToString(entry.ErrorMessage))
	}

	log.Debug().Str("detailType", detailType).Str("orderId", event.OrderID).Msg("Event published")
	return nil
}

// Noop discards events. Used when no bus is configured and in tests.
type Noop struct{}

func (Noop) Publish(context.Context, string, OrderEvent) error { return nil }
