// Package lifecycle implements the order state machine: selection approval
// with pricing, change-request restoration, and delivery. Archive generation,
// notifications, and domain events are side effects of a transition, strictly
// best-effort: their failure never rolls back or fails the state write.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/shuttersend/gallery-delivery/internal/apperr"
	"github.com/shuttersend/gallery-delivery/internal/archive"
	"github.com/shuttersend/gallery-delivery/internal/events"
	"github.com/shuttersend/gallery-delivery/internal/notify"
	"github.com/shuttersend/gallery-delivery/internal/pricing"
	"github.com/shuttersend/gallery-delivery/internal/store"
)

// Archiver produces a downloadable bundle. Implemented by
// archive.Orchestrator; tests substitute a fake.
type Archiver interface {
	Generate(ctx context.Context, req archive.Request) (string, error)
}

// OriginalsCleaner deletes original-resolution objects after delivery and
// reports how many were removed and how many bytes were freed. Implemented
// by s3util.Bucket.
type OriginalsCleaner interface {
	DeleteOriginals(ctx context.Context, keys []string) (int, int64)
}

// Config wires the engine's collaborators. Store is required; nil optional
// collaborators are replaced with no-ops.
type Config struct {
	Store     store.Store
	Archiver  Archiver
	Notifier  notify.Notifier
	Publisher events.Publisher
	Cleaner   OriginalsCleaner

	// AllowEmptyRestore permits an empty selectedKeys list when the call
	// restores an order out of CHANGES_REQUESTED, keeping that order's
	// previous key set. Off by default: empty selections are rejected.
	AllowEmptyRestore bool

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Engine is the order lifecycle state machine.
type Engine struct {
	store             store.Store
	archiver          Archiver
	notifier          notify.Notifier
	publisher         events.Publisher
	cleaner           OriginalsCleaner
	allowEmptyRestore bool
	now               func() time.Time
}

func NewEngine(cfg Config) *Engine {
	e := &Engine{
		store:             cfg.Store,
		archiver:          cfg.Archiver,
		notifier:          cfg.Notifier,
		publisher:         cfg.Publisher,
		cleaner:           cfg.Cleaner,
		allowEmptyRestore: cfg.AllowEmptyRestore,
		now:               cfg.Now,
	}
	if e.notifier == nil {
		e.notifier = notify.Noop{}
	}
	if e.publisher == nil {
		e.publisher = events.Noop{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// ApproveResult is returned to the approving client. ZipKey is empty when
// archive generation failed or was skipped; the approval itself still
// succeeded.
type ApproveResult struct {
	GalleryID     string `json:"galleryId"`
	ClientID      string `json:"clientId,omitempty"`
	OrderID       string `json:"orderId"`
	ZipKey        string `json:"zipKey,omitempty"`
	SelectedCount int    `json:"selectedCount"`
	OverageCount  int    `json:"overageCount"`
	OverageCents  int64  `json:"overageCents"`
	Status        string `json:"status"`
}

// ApproveSelection approves a client's photo selection: it prices the
// selection, creates or updates the cycle's order, projects the summary onto
// the gallery, and then best-effort triggers archive generation and an owner
// notification.
//
// Writes are ordered: Order first, then Gallery summary, so a reader who
// sees the summary can always find the order behind it. There is no rollback
// if the Gallery write fails; the next approval converges the summary.
func (e *Engine) ApproveSelection(ctx context.Context, galleryID, clientID string, selectedKeys []string) (*ApproveResult, error) {
	g, err := e.store.GetGallery(ctx, galleryID)
	if err != nil {
		return nil, fmt.Errorf("loading gallery %s: %w", galleryID, err)
	}
	if g == nil {
		return nil, apperr.NotFound("gallery not found")
	}

	orders, err := e.store.ListOrdersByGallery(ctx, galleryID)
	if err != nil {
		return nil, fmt.Errorf("listing orders for gallery %s: %w", galleryID, err)
	}

	var (
		changeRequested *store.Order
		selecting       *store.Order
		hasDelivered    bool
	)
	for _, o := range orders {
		switch o.DeliveryStatus {
		case store.StatusClientApproved, store.StatusPreparingDelivery:
			return nil, apperr.Conflict("selection already approved for this gallery")
		case store.StatusChangesRequested:
			changeRequested = o
		case store.StatusClientSelecting:
			selecting = o
		case store.StatusDelivered:
			hasDelivered = true
		}
	}

	if len(selectedKeys) == 0 {
		if changeRequested == nil || !e.allowEmptyRestore {
			return nil, apperr.InvalidInput("selectedKeys must not be empty")
		}
		// Restoring a pending change request without a new selection keeps
		// the keys the order was approved with.
		selectedKeys = changeRequested.SelectedKeys
	}

	isPurchaseMore := hasDelivered && changeRequested == nil

	var included int
	var extraCents int64
	if g.Package != nil {
		included = g.Package.IncludedCount
		extraCents = g.Package.ExtraPriceCents
	}
	quote := pricing.Calculate(len(selectedKeys), included, extraCents, isPurchaseMore)

	now := e.now().Unix()

	var ord *store.Order
	switch {
	case changeRequested != nil:
		ord = changeRequested
	case selecting != nil:
		ord = selecting
	default:
		num, err := e.store.NextOrderNumber(ctx, galleryID)
		if err != nil {
			return nil, fmt.Errorf("assigning order number: %w", err)
		}
		ord = &store.Order{
			GalleryID:   galleryID,
			ID:          fmt.Sprintf("%d-%d", num, now),
			OwnerID:     g.OwnerID,
			OrderNumber: num,
			CreatedAt:   now,
		}
	}

	ord.DeliveryStatus = store.StatusClientApproved
	if clientID != "" {
		ord.ClientID = clientID
	}
	ord.SelectedKeys = selectedKeys
	ord.SelectedCount = len(selectedKeys)
	ord.OverageCount = quote.OverageCount
	ord.OverageCents = quote.OverageCents
	ord.TotalCents = quote.TotalCents
	ord.UpdatedAt = now
	ord.CanceledAt = nil // full-item put removes the attribute

	if err := e.store.PutOrder(ctx, ord); err != nil {
		return nil, fmt.Errorf("writing order %s: %w", ord.ID, err)
	}

	err = e.store.UpdateGallerySelection(ctx, galleryID, store.GallerySelectionUpdate{
		SelectionStatus: "APPROVED",
		Stats: store.SelectionStats{
			SelectedCount: len(selectedKeys),
			OverageCount:  quote.OverageCount,
			OverageCents:  quote.OverageCents,
		},
		CurrentOrderID: ord.ID,
		UpdatedAt:      now,
	})
	if err != nil {
		return nil, fmt.Errorf("updating gallery summary %s: %w", galleryID, err)
	}

	result := &ApproveResult{
		GalleryID:     galleryID,
		ClientID:      clientID,
		OrderID:       ord.ID,
		SelectedCount: len(selectedKeys),
		OverageCount:  quote.OverageCount,
		OverageCents:  quote.OverageCents,
		Status:        "APPROVED",
	}

	if e.archiver != nil && len(selectedKeys) > 0 {
		zipKey, err := e.archiver.Generate(ctx, archive.Request{
			GalleryID: galleryID,
			OrderID:   ord.ID,
			Keys:      selectedKeys,
			Kind:      store.ArchiveOriginals,
		})
		if err != nil {
			log.Warn().Err(err).Str("orderId", ord.ID).Msg("Originals archive generation failed, approval unaffected")
		} else {
			result.ZipKey = zipKey
		}
	}

	if err := e.notifier.Notify(ctx, notify.Message{
		Type:          "selection_approved",
		OwnerID:       g.OwnerID,
		GalleryID:     galleryID,
		OrderID:       ord.ID,
		OrderNumber:   ord.OrderNumber,
		SelectedCount: len(selectedKeys),
		OverageCount:  quote.OverageCount,
		OverageCents:  quote.OverageCents,
		TotalCents:    quote.TotalCents,
	}); err != nil {
		log.Warn().Err(err).Str("orderId", ord.ID).Msg("Approval notification failed")
	}

	if err := e.publisher.Publish(ctx, events.SelectionApproved, events.OrderEvent{
		OwnerID:     g.OwnerID,
		GalleryID:   galleryID,
		OrderID:     ord.ID,
		OrderNumber: ord.OrderNumber,
		Status:      store.StatusClientApproved,
		TotalCents:  quote.TotalCents,
		OccurredAt:  now,
	}); err != nil {
		log.Warn().Err(err).Str("orderId", ord.ID).Msg("SelectionApproved event failed")
	}

	log.Info().
		Str("galleryId", galleryID).
		Str("orderId", ord.ID).
		Int("orderNumber", ord.OrderNumber).
		Int("selectedCount", len(selectedKeys)).
		Int("overageCount", quote.OverageCount).
		Int64("overageCents", quote.OverageCents).
		Bool("purchaseMore", isPurchaseMore).
		Msg("Selection approved")

	return result, nil
}

// OrderSummary is the active order as shown to the selecting client. Counts
// are recomputed from the key list, never read from stored counters.
type OrderSummary struct {
	OrderID        string `json:"orderId"`
	OrderNumber    int    `json:"orderNumber"`
	DeliveryStatus string `json:"deliveryStatus"`
	SelectedCount  int    `json:"selectedCount"`
	OverageCount   int    `json:"overageCount"`
	OverageCents   int64  `json:"overageCents"`
	TotalCents     int64  `json:"totalCents"`
	UpdatedAt      int64  `json:"updatedAt"`
}

// SelectionState is the read-side projection of a gallery's selection cycle.
type SelectionState struct {
	GalleryID            string        `json:"galleryId"`
	CanSelect            bool          `json:"canSelect"`
	IsApproved           bool          `json:"isApproved"`
	CanRequestChanges    bool          `json:"canRequestChanges"`
	ChangeRequestPending bool          `json:"changeRequestPending"`
	HasDeliveredOrder    bool          `json:"hasDeliveredOrder"`
	ActiveOrder          *OrderSummary `json:"activeOrder,omitempty"`
}

// activePriority orders the statuses used to pick the single active order
// when more than one exists. The invariant says that cannot happen; the read
// path tolerates it anyway.
var activePriority = []string{
	store.StatusClientSelecting,
	store.StatusClientApproved,
	store.StatusPreparingDelivery,
	store.StatusChangesRequested,
}

// GetSelectionState reconstructs the selection cycle for a gallery.
func (e *Engine) GetSelectionState(ctx context.Context, galleryID string) (*SelectionState, error) {
	g, err := e.store.GetGallery(ctx, galleryID)
	if err != nil {
		return nil, fmt.Errorf("loading gallery %s: %w", galleryID, err)
	}
	if g == nil {
		return nil, apperr.NotFound("gallery not found")
	}

	orders, err := e.store.ListOrdersByGallery(ctx, galleryID)
	if err != nil {
		return nil, fmt.Errorf("listing orders for gallery %s: %w", galleryID, err)
	}

	var active *store.Order
	for _, status := range activePriority {
		for _, o := range orders {
			if o.DeliveryStatus == status {
				active = o
				break
			}
		}
		if active != nil {
			break
		}
	}

	state := &SelectionState{
		GalleryID: galleryID,
		CanSelect: active == nil || active.DeliveryStatus == store.StatusClientSelecting,
	}

	for _, o := range orders {
		switch o.DeliveryStatus {
		case store.StatusClientApproved, store.StatusPreparingDelivery:
			if !o.ChangeRequestsBlocked {
				state.CanRequestChanges = true
			}
		case store.StatusChangesRequested:
			state.ChangeRequestPending = true
		case store.StatusDelivered:
			state.HasDeliveredOrder = true
		}
	}

	if active != nil {
		state.IsApproved = active.DeliveryStatus == store.StatusClientApproved ||
			active.DeliveryStatus == store.StatusPreparingDelivery
		state.ActiveOrder = &OrderSummary{
			OrderID:        active.ID,
			OrderNumber:    active.OrderNumber,
			DeliveryStatus: active.DeliveryStatus,
			SelectedCount:  active.LiveSelectedCount(),
			OverageCount:   active.OverageCount,
			OverageCents:   active.OverageCents,
			TotalCents:     active.TotalCents,
			UpdatedAt:      active.UpdatedAt,
		}
	}

	return state, nil
}

// DeliveredResult reports the outcome of MarkDelivered, including how much
// original storage was reclaimed.
type DeliveredResult struct {
	GalleryID      string `json:"galleryId"`
	OrderID        string `json:"orderId"`
	DeliveredAt    int64  `json:"deliveredAt"`
	DeletedObjects int    `json:"deletedObjects"`
	FreedBytes     int64  `json:"freedBytes"`
}

// MarkDelivered closes an order's cycle: original-resolution files are
// deleted (previews and thumbnails stay up for continued display), the order
// becomes DELIVERED, and the gallery's storage counter is decremented.
// Per-file deletion failures are logged and skipped; delivery never gets
// stuck on cleanup.
func (e *Engine) MarkDelivered(ctx context.Context, galleryID, orderID, ownerID string) (*DeliveredResult, error) {
	ord, err := e.store.GetOrder(ctx, galleryID, orderID)
	if err != nil {
		return nil, fmt.Errorf("loading order %s: %w", orderID, err)
	}
	if ord == nil {
		return nil, apperr.NotFound("order not found")
	}
	if ownerID != "" && ord.OwnerID != ownerID {
		return nil, apperr.Forbidden("order belongs to a different owner")
	}
	if ord.DeliveryStatus == store.StatusDelivered {
		return nil, apperr.Conflict("order already delivered")
	}

	var deleted int
	var freed int64
	if e.cleaner != nil {
		deleted, freed = e.cleaner.DeleteOriginals(ctx, ord.SelectedKeys)
	}

	now := e.now().Unix()
	if err := e.store.MarkOrderDelivered(ctx, galleryID, orderID, now); err != nil {
		return nil, fmt.Errorf("marking order %s delivered: %w", orderID, err)
	}

	if freed > 0 {
		remaining, err := e.store.AddStorageBytes(ctx, galleryID, -freed)
		if err != nil {
			log.Warn().Err(err).Str("galleryId", galleryID).Msg("Storage counter decrement failed")
		} else if remaining < 0 {
			if err := e.store.ClampStorageBytes(ctx, galleryID); err != nil {
				log.Warn().Err(err).Str("galleryId", galleryID).Msg("Storage counter clamp failed")
			}
		}
	}

	if err := e.publisher.Publish(ctx, events.OrderDelivered, events.OrderEvent{
		OwnerID:     ord.OwnerID,
		GalleryID:   galleryID,
		OrderID:     orderID,
		OrderNumber: ord.OrderNumber,
		Status:      store.StatusDelivered,
		TotalCents:  ord.TotalCents,
		OccurredAt:  now,
	}); err != nil {
		log.Warn().Err(err).Str("orderId", orderID).Msg("OrderDelivered event failed")
	}

	log.Info().
		Str("galleryId", galleryID).
		Str("orderId", orderID).
		Int("deletedObjects", deleted).
		Int64("freedBytes", freed).
		Msg("Order delivered")

	return &DeliveredResult{
		GalleryID:      galleryID,
		OrderID:        orderID,
		DeliveredAt:    now,
		DeletedObjects: deleted,
		FreedBytes:     freed,
	}, nil
}
