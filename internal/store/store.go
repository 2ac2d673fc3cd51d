// Package store persists the two record shapes of the delivery core: the
// Gallery (per-gallery configuration plus a denormalized selection summary)
// and the Order (one selection/delivery cycle). Orders are keyed by
// (galleryId, orderId) with a secondary access path by gallery, and a
// by-owner-and-status path used by the delivery dashboard.
//
// The DynamoDB implementation uses a single-table design where all records
// for a gallery share a partition key (GALLERY#{galleryId}). The sort key is
// META for the gallery record and ORDER#{orderId} for orders.
package store

import (
	"context"
)

// Delivery status values for an order. CLIENT_SELECTING is the implicit
// initial state; a gallery with no order rows at all is also "selecting".
const (
	StatusClientSelecting   = "CLIENT_SELECTING"
	StatusClientApproved    = "CLIENT_APPROVED"
	StatusChangesRequested  = "CHANGES_REQUESTED"
	StatusPreparingDelivery = "PREPARING_DELIVERY"
	StatusDelivered         = "DELIVERED"
)

// ActiveStatuses are the states in which an order still occupies the
// gallery's single selection/delivery cycle. At most one order per gallery
// may be in any of these at a time; DELIVERED orders are historical.
var ActiveStatuses = []string{
	StatusClientSelecting,
	StatusClientApproved,
	StatusChangesRequested,
	StatusPreparingDelivery,
}

// IsActiveStatus reports whether status counts against the
// one-active-order-per-gallery invariant.
func IsActiveStatus(status string) bool {
	for _, s := range ActiveStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// ArchiveKind identifies which downloadable bundle a generating flag and
// content hash refer to.
type ArchiveKind string

const (
	ArchiveOriginals  ArchiveKind = "originals"
	ArchiveFinal      ArchiveKind = "final"
	ArchiveUnselected ArchiveKind = "unselected"
)

// PricingPackage holds the owner-configured selection terms. A gallery
// without a package behaves as includedCount = 0.
type PricingPackage struct {
	IncludedCount     int    `json:"includedCount" dynamodbav:"includedCount"`
	ExtraPriceCents   int64  `json:"extraPriceCents" dynamodbav:"extraPriceCents"`
	PackagePriceCents int64  `json:"packagePriceCents" dynamodbav:"packagePriceCents"`
	PackageName       string `json:"packageName,omitempty" dynamodbav:"packageName,omitempty"`
}

// SelectionStats is the denormalized last-known selection summary stored on
// the gallery. It is a read cache, never the source of truth; the active
// order is.
type SelectionStats struct {
	SelectedCount int   `json:"selectedCount" dynamodbav:"selectedCount"`
	OverageCount  int   `json:"overageCount" dynamodbav:"overageCount"`
	OverageCents  int64 `json:"overageCents" dynamodbav:"overageCents"`
}

// Gallery is the per-gallery record (DynamoDB SK = META).
type Gallery struct {
	ID               string          `json:"galleryId" dynamodbav:"-"`
	OwnerID          string          `json:"ownerId" dynamodbav:"ownerId"`
	Package          *PricingPackage `json:"pricingPackage,omitempty" dynamodbav:"pricingPackage,omitempty"`
	SelectionStatus  string          `json:"selectionStatus,omitempty" dynamodbav:"selectionStatus,omitempty"`
	SelectionStats   *SelectionStats `json:"selectionStats,omitempty" dynamodbav:"selectionStats,omitempty"`
	LastOrderNumber  int             `json:"lastOrderNumber" dynamodbav:"lastOrderNumber"`
	CurrentOrderID   string          `json:"currentOrderId,omitempty" dynamodbav:"currentOrderId,omitempty"`
	StorageBytesUsed int64           `json:"storageBytesUsed" dynamodbav:"storageBytesUsed"`
	CreatedAt        int64           `json:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt        int64           `json:"updatedAt" dynamodbav:"updatedAt"`
}

// Order is one selection/delivery cycle (DynamoDB SK = ORDER#{orderId}).
//
// CanceledAt is a pointer because its presence, not its value, is
// load-bearing: re-approving an order removes the attribute entirely, and
// the omitempty tag makes a full-item Put do exactly that.
type Order struct {
	GalleryID string `json:"galleryId" dynamodbav:"-"`
	ID        string `json:"orderId" dynamodbav:"-"`
	OwnerID   string `json:"ownerId" dynamodbav:"ownerId"`
	ClientID  string `json:"clientId,omitempty" dynamodbav:"clientId,omitempty"`

	OrderNumber    int    `json:"orderNumber" dynamodbav:"orderNumber"`
	DeliveryStatus string `json:"deliveryStatus" dynamodbav:"deliveryStatus"`
	PaymentStatus  string `json:"paymentStatus,omitempty" dynamodbav:"paymentStatus,omitempty"`

	SelectedKeys  []string `json:"selectedKeys,omitempty" dynamodbav:"selectedKeys,omitempty"`
	SelectedCount int      `json:"selectedCount" dynamodbav:"selectedCount"`
	OverageCount  int      `json:"overageCount" dynamodbav:"overageCount"`
	OverageCents  int64    `json:"overageCents" dynamodbav:"overageCents"`
	TotalCents    int64    `json:"totalCents" dynamodbav:"totalCents"`

	ZipGenerating       bool   `json:"zipGenerating" dynamodbav:"zipGenerating"`
	ZipSelectedKeysHash string `json:"zipSelectedKeysHash,omitempty" dynamodbav:"zipSelectedKeysHash,omitempty"`
	FinalZipGenerating  bool   `json:"finalZipGenerating" dynamodbav:"finalZipGenerating"`
	FinalZipFilesHash   string `json:"finalZipFilesHash,omitempty" dynamodbav:"finalZipFilesHash,omitempty"`

	ChangeRequestsBlocked bool `json:"changeRequestsBlocked" dynamodbav:"changeRequestsBlocked"`

	CreatedAt   int64  `json:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt   int64  `json:"updatedAt" dynamodbav:"updatedAt"`
	DeliveredAt *int64 `json:"deliveredAt,omitempty" dynamodbav:"deliveredAt,omitempty"`
	CanceledAt  *int64 `json:"canceledAt,omitempty" dynamodbav:"canceledAt,omitempty"`
}

// LiveSelectedCount returns the number of selected keys. Stored count fields
// can drift after partial writes, so readers recompute from the key list.
func (o *Order) LiveSelectedCount() int {
	return len(o.SelectedKeys)
}

// ArchiveGenerating returns the generating flag for the given archive kind.
func (o *Order) ArchiveGenerating(kind ArchiveKind) bool {
	if kind == ArchiveFinal {
		return o.FinalZipGenerating
	}
	return o.ZipGenerating
}

// ArchiveHash returns the content fingerprint recorded for the given kind.
func (o *Order) ArchiveHash(kind ArchiveKind) string {
	if kind == ArchiveFinal {
		return o.FinalZipFilesHash
	}
	return o.ZipSelectedKeysHash
}

// GallerySelectionUpdate carries the summary fields the lifecycle engine
// projects onto the gallery record after an approval.
type GallerySelectionUpdate struct {
	SelectionStatus string
	Stats           SelectionStats
	CurrentOrderID  string
	UpdatedAt       int64
}

// Store is the persistence interface for galleries and orders. Each method
// is safe for concurrent use. Get methods return (nil, nil) when the record
// does not exist; Put methods are full-item upserts.
type Store interface {
	GetGallery(ctx context.Context, galleryID string) (*Gallery, error)
	PutGallery(ctx context.Context, g *Gallery) error

	// UpdateGallerySelection overwrites only the denormalized selection
	// summary, leaving the package and counters untouched.
	UpdateGallerySelection(ctx context.Context, galleryID string, upd GallerySelectionUpdate) error

	// NextOrderNumber atomically increments the gallery's order counter and
	// returns the new value. Concurrent approvals of the same gallery must
	// never observe the same number.
	NextOrderNumber(ctx context.Context, galleryID string) (int, error)

	// AddStorageBytes atomically adjusts the gallery's used-storage counter
	// and returns the resulting value, which may be negative when deletes
	// race with uploads.
	AddStorageBytes(ctx context.Context, galleryID string, delta int64) (int64, error)

	// ClampStorageBytes resets a negative used-storage counter to zero.
	ClampStorageBytes(ctx context.Context, galleryID string) error

	GetOrder(ctx context.Context, galleryID, orderID string) (*Order, error)
	PutOrder(ctx context.Context, o *Order) error
	ListOrdersByGallery(ctx context.Context, galleryID string) ([]*Order, error)

	// ListOwnerOrdersByStatus returns all of an owner's orders in one
	// delivery status, across galleries. This is the partitioned access
	// path the delivery dashboard queries in parallel.
	ListOwnerOrdersByStatus(ctx context.Context, ownerID, status string) ([]*Order, error)

	// SetArchiveState records or clears the generating flag and content
	// hash for one archive kind without touching other order fields.
	SetArchiveState(ctx context.Context, galleryID, orderID string, kind ArchiveKind, generating bool, hash string) error

	// MarkOrderDelivered transitions the order to DELIVERED and stamps
	// deliveredAt.
	MarkOrderDelivered(ctx context.Context, galleryID, orderID string, deliveredAt int64) error
}
