package store

import (
	"context"
	"sync"
)

// Memory is an in-memory Store used by unit tests and by deliveryctl's
// dry-run mode. It mirrors DynamoStore semantics: full-item upserts,
// (nil, nil) for missing records, atomic counters.
type Memory struct {
	mu        sync.Mutex
	galleries map[string]*Gallery
	orders    map[string]map[string]*Order // galleryID -> orderID -> order
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		galleries: make(map[string]*Gallery),
		orders:    make(map[string]map[string]*Order),
	}
}

func (m *Memory) GetGallery(_ context.Context, galleryID string) (*Gallery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.galleries[galleryID]
	if !ok {
		return nil, nil
	}
	cp := *g
	return &cp, nil
}

func (m *Memory) PutGallery(_ context.Context, g *Gallery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *g
	m.galleries[g.ID] = &cp
	return nil
}

func (m *Memory) UpdateGallerySelection(_ context.Context, galleryID string, upd GallerySelectionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.galleries[galleryID]
	if !ok {
		return nil
	}
	g.SelectionStatus = upd.SelectionStatus
	stats := upd.Stats
	g.SelectionStats = &stats
	g.CurrentOrderID = upd.CurrentOrderID
	g.UpdatedAt = upd.UpdatedAt
	return nil
}

func (m *Memory) NextOrderNumber(_ context.Context, galleryID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.galleries[galleryID]
	if !ok {
		g = &Gallery{ID: galleryID}
		m.galleries[galleryID] = g
	}
	g.LastOrderNumber++
	return g.LastOrderNumber, nil
}

func (m *Memory) AddStorageBytes(_ context.Context, galleryID string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.galleries[galleryID]
	if !ok {
		g = &Gallery{ID: galleryID}
		m.galleries[galleryID] = g
	}
	g.StorageBytesUsed += delta
	return g.StorageBytesUsed, nil
}

func (m *Memory) ClampStorageBytes(_ context.Context, galleryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.galleries[galleryID]; ok && g.StorageBytesUsed < 0 {
		g.StorageBytesUsed = 0
	}
	return nil
}

func (m *Memory) GetOrder(_ context.Context, galleryID, orderID string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[galleryID][orderID]
	if !ok {
		return nil, nil
	}
	cp := cloneOrder(o)
	return cp, nil
}

func (m *Memory) PutOrder(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.orders[o.GalleryID] == nil {
		m.orders[o.GalleryID] = make(map[string]*Order)
	}
	m.orders[o.GalleryID][o.ID] = cloneOrder(o)
	return nil
}

func (m *Memory) ListOrdersByGallery(_ context.Context, galleryID string) ([]*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Order
	for _, o := range m.orders[galleryID] {
		out = append(out, cloneOrder(o))
	}
	return out, nil
}

func (m *Memory) ListOwnerOrdersByStatus(_ context.Context, ownerID, status string) ([]*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Order
	for _, gallery := range m.orders {
		for _, o := range gallery {
			if o.OwnerID == ownerID && o.DeliveryStatus == status {
				out = append(out, cloneOrder(o))
			}
		}
	}
	return out, nil
}

func (m *Memory) SetArchiveState(_ context.Context, galleryID, orderID string, kind ArchiveKind, generating bool, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[galleryID][orderID]
	if !ok {
		return nil
	}
	if kind == ArchiveFinal {
		o.FinalZipGenerating = generating
		o.FinalZipFilesHash = hash
	} else {
		o.ZipGenerating = generating
		o.ZipSelectedKeysHash = hash
	}
	return nil
}

func (m *Memory) MarkOrderDelivered(_ context.Context, galleryID, orderID string, deliveredAt int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[galleryID][orderID]
	if !ok {
		return nil
	}
	o.DeliveryStatus = StatusDelivered
	t := deliveredAt
	o.DeliveredAt = &t
	o.UpdatedAt = deliveredAt
	return nil
}

func cloneOrder(o *Order) *Order {
	cp := *o
	cp.SelectedKeys = append([]string(nil), o.SelectedKeys...)
	if o.DeliveredAt != nil {
		t := *o.DeliveredAt
		cp.DeliveredAt = &t
	}
	if o.CanceledAt != nil {
		t := *o.CanceledAt
		cp.CanceledAt = &t
	}
	return &cp
}
