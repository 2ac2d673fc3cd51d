// Package deliverystatus builds the owner-facing delivery dashboard: every
// order of an owner grouped by delivery status, with per-archive readiness
// resolved against object storage rather than trusting stored flags alone.
package deliverystatus

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/shuttersend/gallery-delivery/internal/archive"
	"github.com/shuttersend/gallery-delivery/internal/store"
)

// dashboardStatuses are the delivery states the dashboard shows, queried in
// parallel. CLIENT_SELECTING is omitted: an order still being selected has
// nothing to deliver.
var dashboardStatuses = []string{
	store.StatusClientApproved,
	store.StatusChangesRequested,
	store.StatusPreparingDelivery,
	store.StatusDelivered,
}

// ExistenceChecker verifies that an archive object is actually present.
// Implemented by s3util.Bucket.
type ExistenceChecker interface {
	ObjectExists(ctx context.Context, key string) (bool, error)
}

// ArchiveStatus is the resolved state of one archive kind of one order.
type ArchiveStatus struct {
	Generating bool   `json:"generating"`
	Ready      bool   `json:"ready"`
	ZipKey     string `json:"zipKey,omitempty"`
}

// OrderEntry is one dashboard row.
type OrderEntry struct {
	GalleryID      string `json:"galleryId"`
	OrderID        string `json:"orderId"`
	OrderNumber    int    `json:"orderNumber"`
	DeliveryStatus string `json:"deliveryStatus"`
	SelectedCount  int    `json:"selectedCount"`
	OverageCents   int64  `json:"overageCents"`
	TotalCents     int64  `json:"totalCents"`
	UpdatedAt      int64  `json:"updatedAt"`

	Archives map[string]ArchiveStatus `json:"archives"`
}

// Report is the full dashboard payload, keyed by delivery status.
type Report struct {
	OwnerID string                  `json:"ownerId"`
	Orders  map[string][]OrderEntry `json:"orders"`
}

// Aggregator assembles delivery dashboards.
type Aggregator struct {
	store   store.Store
	checker ExistenceChecker
}

func NewAggregator(s store.Store, c ExistenceChecker) *Aggregator {
	return &Aggregator{store: s, checker: c}
}

// OwnerStatus returns the owner's dashboard and its content fingerprint.
// When prevFingerprint matches the freshly computed one, the report is
// unchanged and (nil, fingerprint, true, nil) is returned so the handler can
// answer 304 without serializing the body again.
func (a *Aggregator) OwnerStatus(ctx context.Context, ownerID, prevFingerprint string) (*Report, string, bool, error) {
	report := &Report{
		OwnerID: ownerID,
		Orders:  make(map[string][]OrderEntry),
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)

	for _, status := range dashboardStatuses {
		wg.Add(1)
		go func(status string) {
			defer wg.Done()
			orders, err := a.store.ListOwnerOrdersByStatus(ctx, ownerID, status)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("listing %s orders: %w", status, err)
				}
				return
			}
			entries := make([]OrderEntry, 0, len(orders))
			for _, o := range orders {
				entries = append(entries, a.entryFor(ctx, o))
			}
			report.Orders[status] = entries
		}(status)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, "", false, firstErr
	}

	// Deterministic ordering so the fingerprint only changes when content does.
	for _, entries := range report.Orders {
		sort.Slice(entries, func(i, j int) bool {
			if entries[i].GalleryID != entries[j].GalleryID {
				return entries[i].GalleryID < entries[j].GalleryID
			}
			return entries[i].OrderID < entries[j].OrderID
		})
	}

	fingerprint, err := Fingerprint(report)
	if err != nil {
		return nil, "", false, err
	}
	if prevFingerprint != "" && prevFingerprint == fingerprint {
		return nil, fingerprint, true, nil
	}
	return report, fingerprint, false, nil
}

// entryFor resolves one order's archive readiness. An archive is ready only
// when its generating flag is clear, a fingerprint was recorded, and the
// object actually exists. The existence check is what catches flags left
// behind by crashed generations.
func (a *Aggregator) entryFor(ctx context.Context, o *store.Order) OrderEntry {
	entry := OrderEntry{
		GalleryID:      o.GalleryID,
		OrderID:        o.ID,
		OrderNumber:    o.OrderNumber,
		DeliveryStatus: o.DeliveryStatus,
		SelectedCount:  o.LiveSelectedCount(),
		OverageCents:   o.OverageCents,
		TotalCents:     o.TotalCents,
		UpdatedAt:      o.UpdatedAt,
		Archives:       make(map[string]ArchiveStatus),
	}

	for _, kind := range []store.ArchiveKind{store.ArchiveOriginals, store.ArchiveFinal} {
		status := ArchiveStatus{Generating: o.ArchiveGenerating(kind)}
		if !status.Generating && o.ArchiveHash(kind) != "" {
			key := archive.ObjectKey(o.GalleryID, o.ID, kind)
			exists, err := a.checker.ObjectExists(ctx, key)
			if err != nil {
				log.Warn().Err(err).Str("key", key).Msg("Archive existence check failed, reporting not ready")
			} else if exists {
				status.Ready = true
				status.ZipKey = key
			}
		}
		entry.Archives[string(kind)] = status
	}

	return entry
}

// Fingerprint hashes the serialized report. Clients echo it back via
// If-None-Match; any change in order state or archive readiness changes it.
func Fingerprint(r *Report) (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshaling report for fingerprint: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
