package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shuttersend/gallery-delivery/internal/apperr"
	"github.com/shuttersend/gallery-delivery/internal/archive"
	"github.com/shuttersend/gallery-delivery/internal/store"
)

// --- Fakes ---

type fakeArchiver struct {
	requests []archive.Request
	zipKey   string
	err      error
}

func (f *fakeArchiver) Generate(_ context.Context, req archive.Request) (string, error) {
	f.requests = append(f.requests, req)
	return f.zipKey, f.err
}

type fakeCleaner struct {
	deletedKeys []string
	freed       int64
}

func (f *fakeCleaner) DeleteOriginals(_ context.Context, keys []string) (int, int64) {
	f.deletedKeys = append(f.deletedKeys, keys...)
	return len(keys), f.freed
}

const testNow = int64(1700000000)

func testEngine(t *testing.T, mem *store.Memory, mutate func(*Config)) *Engine {
	t.Helper()
	cfg := Config{
		Store:    mem,
		Archiver: &fakeArchiver{zipKey: "some.zip"},
		Now:      func() time.Time { return time.Unix(testNow, 0) },
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewEngine(cfg)
}

func seedGallery(t *testing.T, mem *store.Memory, g *store.Gallery) {
	t.Helper()
	if err := mem.PutGallery(context.Background(), g); err != nil {
		t.Fatalf("seeding gallery: %v", err)
	}
}

func seedOrder(t *testing.T, mem *store.Memory, o *store.Order) {
	t.Helper()
	if err := mem.PutOrder(context.Background(), o); err != nil {
		t.Fatalf("seeding order: %v", err)
	}
}

func standardGallery() *store.Gallery {
	return &store.Gallery{
		ID:      "g1",
		OwnerID: "owner-1",
		Package: &store.PricingPackage{
			IncludedCount:   5,
			ExtraPriceCents: 200,
		},
	}
}

// --- ApproveSelection ---

func TestApproveFirstSelection(t *testing.T) {
	mem := store.NewMemory()
	seedGallery(t, mem, standardGallery())
	arch := &fakeArchiver{zipKey: "galleries/g1/orders/1-1700000000/originals.zip"}
	e := testEngine(t, mem, func(c *Config) { c.Archiver = arch })

	keys := []string{"k1", "k2", "k3", "k4", "k5", "k6", "k7"}
	result, err := e.ApproveSelection(context.Background(), "g1", "client-9", keys)
	if err != nil {
		t.Fatalf("ApproveSelection: %v", err)
	}

	if result.OrderID != "1-1700000000" {
		t.Errorf("OrderID = %q, want 1-1700000000", result.OrderID)
	}
	if result.OverageCount != 2 || result.OverageCents != 400 {
		t.Errorf("overage = %d/%d¢, want 2/400¢", result.OverageCount, result.OverageCents)
	}
	if result.Status != "APPROVED" {
		t.Errorf("Status = %q, want APPROVED", result.Status)
	}
	if result.ZipKey != arch.zipKey {
		t.Errorf("ZipKey = %q, want %q", result.ZipKey, arch.zipKey)
	}

	ord, err := mem.GetOrder(context.Background(), "g1", result.OrderID)
	if err != nil || ord == nil {
		t.Fatalf("GetOrder: %v, ord=%v", err, ord)
	}
	if ord.DeliveryStatus != store.StatusClientApproved {
		t.Errorf("DeliveryStatus = %q, want %q", ord.DeliveryStatus, store.StatusClientApproved)
	}
	if ord.OrderNumber != 1 {
		t.Errorf("OrderNumber = %d, want 1", ord.OrderNumber)
	}
	if ord.ClientID != "client-9" {
		t.Errorf("ClientID = %q, want client-9", ord.ClientID)
	}

	g, _ := mem.GetGallery(context.Background(), "g1")
	if g.SelectionStatus != "APPROVED" {
		t.Errorf("gallery SelectionStatus = %q, want APPROVED", g.SelectionStatus)
	}
	if g.SelectionStats == nil || g.SelectionStats.SelectedCount != 7 {
		t.Errorf("gallery SelectionStats = %+v, want selectedCount 7", g.SelectionStats)
	}
	if g.CurrentOrderID != result.OrderID {
		t.Errorf("gallery CurrentOrderID = %q, want %q", g.CurrentOrderID, result.OrderID)
	}

	if len(arch.requests) != 1 {
		t.Fatalf("archiver called %d times, want 1", len(arch.requests))
	}
	if arch.requests[0].Kind != store.ArchiveOriginals {
		t.Errorf("archive kind = %q, want originals", arch.requests[0].Kind)
	}
}

func TestApprovePurchaseMore(t *testing.T) {
	mem := store.NewMemory()
	seedGallery(t, mem, standardGallery())
	deliveredAt := testNow - 86400
	seedOrder(t, mem, &store.Order{
		GalleryID: "g1", ID: "1-1600000000", OwnerID: "owner-1",
		OrderNumber: 1, DeliveryStatus: store.StatusDelivered,
		DeliveredAt: &deliveredAt,
	})
	// Counter already consumed by the first cycle.
	if _, err := mem.NextOrderNumber(context.Background(), "g1"); err != nil {
		t.Fatalf("seeding counter: %v", err)
	}

	e := testEngine(t, mem, nil)
	result, err := e.ApproveSelection(context.Background(), "g1", "client-9", []string{"k1", "k2", "k3"})
	if err != nil {
		t.Fatalf("ApproveSelection: %v", err)
	}

	// The delivered order consumed the allowance: every photo is billable.
	if result.OverageCount != 3 || result.OverageCents != 600 {
		t.Errorf("overage = %d/%d¢, want 3/600¢", result.OverageCount, result.OverageCents)
	}
	if result.OrderID == "1-1600000000" {
		t.Error("purchase-more must create a fresh order, not reuse the delivered one")
	}

	ord, _ := mem.GetOrder(context.Background(), "g1", result.OrderID)
	if ord.OrderNumber != 2 {
		t.Errorf("OrderNumber = %d, want 2", ord.OrderNumber)
	}
}

func TestApproveRestoreAfterChangeRequest(t *testing.T) {
	mem := store.NewMemory()
	seedGallery(t, mem, standardGallery())
	canceledAt := testNow - 3600
	seedOrder(t, mem, &store.Order{
		GalleryID: "g1", ID: "7-1690000000", OwnerID: "owner-1",
		OrderNumber: 7, DeliveryStatus: store.StatusChangesRequested,
		SelectedKeys: []string{"old1", "old2"},
		CanceledAt:   &canceledAt,
		CreatedAt:    testNow - 7200,
	})

	e := testEngine(t, mem, nil)
	result, err := e.ApproveSelection(context.Background(), "g1", "client-9", []string{"new1", "new2", "new3"})
	if err != nil {
		t.Fatalf("ApproveSelection: %v", err)
	}

	if result.OrderID != "7-1690000000" {
		t.Errorf("OrderID = %q, want the restored order's ID 7-1690000000", result.OrderID)
	}

	ord, _ := mem.GetOrder(context.Background(), "g1", result.OrderID)
	if ord.OrderNumber != 7 {
		t.Errorf("OrderNumber = %d, want 7 preserved across the round trip", ord.OrderNumber)
	}
	if ord.DeliveryStatus != store.StatusClientApproved {
		t.Errorf("DeliveryStatus = %q, want %q", ord.DeliveryStatus, store.StatusClientApproved)
	}
	if ord.CanceledAt != nil {
		t.Errorf("CanceledAt = %v, want removed on re-approval", *ord.CanceledAt)
	}
	if len(ord.SelectedKeys) != 3 || ord.SelectedKeys[0] != "new1" {
		t.Errorf("SelectedKeys = %v, want the new selection", ord.SelectedKeys)
	}
}

func TestApproveConflictLeavesOrderUntouched(t *testing.T) {
	mem := store.NewMemory()
	seedGallery(t, mem, standardGallery())
	seedOrder(t, mem, &store.Order{
		GalleryID: "g1", ID: "1-1690000000", OwnerID: "owner-1",
		OrderNumber: 1, DeliveryStatus: store.StatusClientApproved,
		SelectedKeys: []string{"a", "b"}, UpdatedAt: testNow - 100,
	})

	arch := &fakeArchiver{zipKey: "x.zip"}
	e := testEngine(t, mem, func(c *Config) { c.Archiver = arch })

	_, err := e.ApproveSelection(context.Background(), "g1", "client-9", []string{"c"})
	if apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("err = %v, want Conflict", err)
	}

	ord, _ := mem.GetOrder(context.Background(), "g1", "1-1690000000")
	if ord.UpdatedAt != testNow-100 || len(ord.SelectedKeys) != 2 {
		t.Errorf("order mutated by rejected approval: %+v", ord)
	}
	if len(arch.requests) != 0 {
		t.Error("archiver invoked despite conflict")
	}
}

func TestApproveEmptyKeysPolicy(t *testing.T) {
	t.Run("rejected by default", func(t *testing.T) {
		mem := store.NewMemory()
		seedGallery(t, mem, standardGallery())
		seedOrder(t, mem, &store.Order{
			GalleryID: "g1", ID: "2-1690000000", OwnerID: "owner-1",
			OrderNumber: 2, DeliveryStatus: store.StatusChangesRequested,
			SelectedKeys: []string{"a", "b"},
		})

		e := testEngine(t, mem, nil)
		_, err := e.ApproveSelection(context.Background(), "g1", "", nil)
		if apperr.KindOf(err) != apperr.KindInvalidInput {
			t.Fatalf("err = %v, want InvalidInput", err)
		}
	})

	t.Run("restores previous keys when enabled", func(t *testing.T) {
		mem := store.NewMemory()
		seedGallery(t, mem, standardGallery())
		seedOrder(t, mem, &store.Order{
			GalleryID: "g1", ID: "2-1690000000", OwnerID: "owner-1",
			OrderNumber: 2, DeliveryStatus: store.StatusChangesRequested,
			SelectedKeys: []string{"a", "b"},
		})

		e := testEngine(t, mem, func(c *Config) { c.AllowEmptyRestore = true })
		result, err := e.ApproveSelection(context.Background(), "g1", "", nil)
		if err != nil {
			t.Fatalf("ApproveSelection: %v", err)
		}
		if result.SelectedCount != 2 {
			t.Errorf("SelectedCount = %d, want the restored order's 2", result.SelectedCount)
		}
	})

	t.Run("still rejected with nothing to restore", func(t *testing.T) {
		mem := store.NewMemory()
		seedGallery(t, mem, standardGallery())

		e := testEngine(t, mem, func(c *Config) { c.AllowEmptyRestore = true })
		_, err := e.ApproveSelection(context.Background(), "g1", "", []string{})
		if apperr.KindOf(err) != apperr.KindInvalidInput {
			t.Fatalf("err = %v, want InvalidInput", err)
		}
	})
}

func TestApproveUnknownGallery(t *testing.T) {
	e := testEngine(t, store.NewMemory(), nil)
	_, err := e.ApproveSelection(context.Background(), "nope", "", []string{"k"})
	if apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("err = %v, want NotFound", err)
	}
}

func TestApproveArchiveFailureDoesNotFailApproval(t *testing.T) {
	mem := store.NewMemory()
	seedGallery(t, mem, standardGallery())
	e := testEngine(t, mem, func(c *Config) {
		c.Archiver = &fakeArchiver{err: errors.New("worker exploded")}
	})

	result, err := e.ApproveSelection(context.Background(), "g1", "", []string{"k1"})
	if err != nil {
		t.Fatalf("ApproveSelection: %v", err)
	}
	if result.ZipKey != "" {
		t.Errorf("ZipKey = %q, want empty when generation failed", result.ZipKey)
	}

	ord, _ := mem.GetOrder(context.Background(), "g1", result.OrderID)
	if ord == nil || ord.DeliveryStatus != store.StatusClientApproved {
		t.Errorf("approval state lost on archive failure: %+v", ord)
	}
}

func TestAtMostOneActiveOrder(t *testing.T) {
	mem := store.NewMemory()
	seedGallery(t, mem, standardGallery())
	e := testEngine(t, mem, nil)
	ctx := context.Background()

	// approve -> change-requested -> approve -> delivered -> approve again
	r1, err := e.ApproveSelection(ctx, "g1", "", []string{"a"})
	if err != nil {
		t.Fatalf("first approval: %v", err)
	}

	ord, _ := mem.GetOrder(ctx, "g1", r1.OrderID)
	ord.DeliveryStatus = store.StatusChangesRequested
	seedOrder(t, mem, ord)

	r2, err := e.ApproveSelection(ctx, "g1", "", []string{"a", "b"})
	if err != nil {
		t.Fatalf("re-approval: %v", err)
	}
	if r2.OrderID != r1.OrderID {
		t.Fatalf("re-approval created a second order: %s vs %s", r2.OrderID, r1.OrderID)
	}

	if _, err := e.MarkDelivered(ctx, "g1", r2.OrderID, "owner-1"); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}

	if _, err := e.ApproveSelection(ctx, "g1", "", []string{"c"}); err != nil {
		t.Fatalf("purchase-more approval: %v", err)
	}

	orders, _ := mem.ListOrdersByGallery(ctx, "g1")
	active := 0
	for _, o := range orders {
		if store.IsActiveStatus(o.DeliveryStatus) {
			active++
		}
	}
	if active != 1 {
		t.Errorf("%d active orders after the full cycle, want 1", active)
	}
}

// --- GetSelectionState ---

func TestGetSelectionStateRecomputesCount(t *testing.T) {
	mem := store.NewMemory()
	seedGallery(t, mem, standardGallery())
	seedOrder(t, mem, &store.Order{
		GalleryID: "g1", ID: "1-1690000000", OwnerID: "owner-1",
		OrderNumber: 1, DeliveryStatus: store.StatusClientApproved,
		SelectedKeys:  []string{"a", "b"},
		SelectedCount: 99, // drifted stored counter
	})

	e := testEngine(t, mem, nil)
	state, err := e.GetSelectionState(context.Background(), "g1")
	if err != nil {
		t.Fatalf("GetSelectionState: %v", err)
	}
	if state.ActiveOrder == nil || state.ActiveOrder.SelectedCount != 2 {
		t.Errorf("ActiveOrder = %+v, want selectedCount recomputed to 2", state.ActiveOrder)
	}
}

func TestGetSelectionStateFlags(t *testing.T) {
	mem := store.NewMemory()
	seedGallery(t, mem, standardGallery())

	e := testEngine(t, mem, nil)
	ctx := context.Background()

	state, err := e.GetSelectionState(ctx, "g1")
	if err != nil {
		t.Fatalf("GetSelectionState: %v", err)
	}
	if !state.CanSelect || state.IsApproved || state.ChangeRequestPending || state.HasDeliveredOrder {
		t.Errorf("fresh gallery state = %+v, want only canSelect", state)
	}

	deliveredAt := testNow - 1000
	seedOrder(t, mem, &store.Order{
		GalleryID: "g1", ID: "1-1600000000", OwnerID: "owner-1",
		OrderNumber: 1, DeliveryStatus: store.StatusDelivered, DeliveredAt: &deliveredAt,
	})
	seedOrder(t, mem, &store.Order{
		GalleryID: "g1", ID: "2-1690000000", OwnerID: "owner-1",
		OrderNumber: 2, DeliveryStatus: store.StatusClientApproved,
		SelectedKeys: []string{"a"},
	})

	state, err = e.GetSelectionState(ctx, "g1")
	if err != nil {
		t.Fatalf("GetSelectionState: %v", err)
	}
	if state.CanSelect {
		t.Error("CanSelect true with an approved order")
	}
	if !state.IsApproved || !state.CanRequestChanges {
		t.Errorf("state = %+v, want isApproved and canRequestChanges", state)
	}
	if !state.HasDeliveredOrder {
		t.Error("HasDeliveredOrder false despite a delivered order")
	}
	if state.ActiveOrder == nil || state.ActiveOrder.OrderID != "2-1690000000" {
		t.Errorf("ActiveOrder = %+v, want the approved order", state.ActiveOrder)
	}
}

func TestGetSelectionStateBlockedChangeRequests(t *testing.T) {
	mem := store.NewMemory()
	seedGallery(t, mem, standardGallery())
	seedOrder(t, mem, &store.Order{
		GalleryID: "g1", ID: "1-1690000000", OwnerID: "owner-1",
		OrderNumber: 1, DeliveryStatus: store.StatusPreparingDelivery,
		SelectedKeys: []string{"a"}, ChangeRequestsBlocked: true,
	})

	e := testEngine(t, mem, nil)
	state, err := e.GetSelectionState(context.Background(), "g1")
	if err != nil {
		t.Fatalf("GetSelectionState: %v", err)
	}
	if state.CanRequestChanges {
		t.Error("CanRequestChanges true on an order with change requests blocked")
	}
	if !state.IsApproved {
		t.Error("IsApproved false for PREPARING_DELIVERY")
	}
}

// --- MarkDelivered ---

func TestMarkDelivered(t *testing.T) {
	mem := store.NewMemory()
	g := standardGallery()
	g.StorageBytesUsed = 300
	seedGallery(t, mem, g)
	seedOrder(t, mem, &store.Order{
		GalleryID: "g1", ID: "1-1690000000", OwnerID: "owner-1",
		OrderNumber: 1, DeliveryStatus: store.StatusPreparingDelivery,
		SelectedKeys: []string{"a", "b"},
	})

	// Freed bytes exceed the recorded usage, exercising the negative clamp.
	cleaner := &fakeCleaner{freed: 500}
	e := testEngine(t, mem, func(c *Config) { c.Cleaner = cleaner })

	result, err := e.MarkDelivered(context.Background(), "g1", "1-1690000000", "owner-1")
	if err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	if result.DeletedObjects != 2 || result.FreedBytes != 500 {
		t.Errorf("result = %+v, want 2 objects / 500 bytes", result)
	}
	if len(cleaner.deletedKeys) != 2 {
		t.Errorf("deleted keys = %v, want the order's selection", cleaner.deletedKeys)
	}

	ord, _ := mem.GetOrder(context.Background(), "g1", "1-1690000000")
	if ord.DeliveryStatus != store.StatusDelivered {
		t.Errorf("DeliveryStatus = %q, want DELIVERED", ord.DeliveryStatus)
	}
	if ord.DeliveredAt == nil || *ord.DeliveredAt != testNow {
		t.Errorf("DeliveredAt = %v, want %d", ord.DeliveredAt, testNow)
	}

	gal, _ := mem.GetGallery(context.Background(), "g1")
	if gal.StorageBytesUsed != 0 {
		t.Errorf("StorageBytesUsed = %d, want clamped to 0", gal.StorageBytesUsed)
	}
}

func TestMarkDeliveredPreconditions(t *testing.T) {
	mem := store.NewMemory()
	seedGallery(t, mem, standardGallery())
	deliveredAt := testNow - 10
	seedOrder(t, mem, &store.Order{
		GalleryID: "g1", ID: "1-1690000000", OwnerID: "owner-1",
		OrderNumber: 1, DeliveryStatus: store.StatusDelivered, DeliveredAt: &deliveredAt,
	})
	e := testEngine(t, mem, nil)
	ctx := context.Background()

	if _, err := e.MarkDelivered(ctx, "g1", "missing", "owner-1"); apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("missing order: err = %v, want NotFound", err)
	}
	if _, err := e.MarkDelivered(ctx, "g1", "1-1690000000", "intruder"); apperr.KindOf(err) != apperr.KindForbidden {
		t.Errorf("wrong owner: err = %v, want Forbidden", err)
	}
	if _, err := e.MarkDelivered(ctx, "g1", "1-1690000000", "owner-1"); apperr.KindOf(err) != apperr.KindConflict {
		t.Errorf("repeat delivery: err = %v, want Conflict", err)
	}
}
