package archive

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/shuttersend/gallery-delivery/internal/apperr"
	"github.com/shuttersend/gallery-delivery/internal/store"
)

type fakeInvoker struct {
	syncPayloads  [][]byte
	asyncPayloads [][]byte
	result        []byte
	err           error
}

func (f *fakeInvoker) InvokeSync(_ context.Context, payload []byte) ([]byte, error) {
	f.syncPayloads = append(f.syncPayloads, payload)
	return f.result, f.err
}

func (f *fakeInvoker) InvokeAsync(_ context.Context, payload []byte) error {
	f.asyncPayloads = append(f.asyncPayloads, payload)
	return f.err
}

func seedOrder(t *testing.T, mem *store.Memory) {
	t.Helper()
	if err := mem.PutOrder(context.Background(), &store.Order{
		GalleryID: "g1", ID: "1-1700000000", OwnerID: "o1",
		OrderNumber: 1, DeliveryStatus: store.StatusClientApproved,
	}); err != nil {
		t.Fatal(err)
	}
}

func TestFingerprintKeys(t *testing.T) {
	a := FingerprintKeys([]string{"x", "y", "z"})
	b := FingerprintKeys([]string{"z", "x", "y"})
	if a != b {
		t.Errorf("fingerprint is order-sensitive: %s vs %s", a, b)
	}
	if a == FingerprintKeys([]string{"x", "y"}) {
		t.Error("different key sets share a fingerprint")
	}
	if a == FingerprintKeys(nil) {
		t.Error("non-empty and empty key sets share a fingerprint")
	}
}

func TestObjectKey(t *testing.T) {
	got := ObjectKey("g1", "7-1690000000", store.ArchiveUnselected)
	want := "galleries/g1/orders/7-1690000000/unselected.zip"
	if got != want {
		t.Errorf("ObjectKey = %q, want %q", got, want)
	}
}

func TestGenerateSyncFlagLifecycle(t *testing.T) {
	mem := store.NewMemory()
	seedOrder(t, mem)
	inv := &fakeInvoker{result: []byte(`{"zipKey":"galleries/g1/orders/1-1700000000/originals.zip"}`)}
	o := NewOrchestrator(mem, inv)

	keys := []string{"k1", "k2"}
	zipKey, err := o.Generate(context.Background(), Request{
		GalleryID: "g1", OrderID: "1-1700000000", Keys: keys, Kind: store.ArchiveOriginals,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if zipKey != "galleries/g1/orders/1-1700000000/originals.zip" {
		t.Errorf("zipKey = %q", zipKey)
	}

	var event WorkerEvent
	if err := json.Unmarshal(inv.syncPayloads[0], &event); err != nil {
		t.Fatalf("worker payload: %v", err)
	}
	if event.GalleryID != "g1" || event.Kind != "originals" || len(event.Keys) != 2 {
		t.Errorf("worker event = %+v", event)
	}

	ord, _ := mem.GetOrder(context.Background(), "g1", "1-1700000000")
	if ord.ZipGenerating {
		t.Error("generating flag still set after sync completion")
	}
	if ord.ZipSelectedKeysHash != FingerprintKeys(keys) {
		t.Errorf("hash = %q, want fingerprint of the key set", ord.ZipSelectedKeysHash)
	}
}

func TestGenerateSyncFailureClearsFlag(t *testing.T) {
	mem := store.NewMemory()
	seedOrder(t, mem)
	inv := &fakeInvoker{err: errors.New("worker timed out")}
	o := NewOrchestrator(mem, inv)

	_, err := o.Generate(context.Background(), Request{
		GalleryID: "g1", OrderID: "1-1700000000", Keys: []string{"k"}, Kind: store.ArchiveOriginals,
	})
	if apperr.KindOf(err) != apperr.KindDependency {
		t.Fatalf("err = %v, want Dependency", err)
	}

	ord, _ := mem.GetOrder(context.Background(), "g1", "1-1700000000")
	if ord.ZipGenerating {
		t.Error("flag left set after failed invocation")
	}
}

func TestGenerateToleratesEmptyWorkerPayload(t *testing.T) {
	mem := store.NewMemory()
	seedOrder(t, mem)
	// A failed worker returns no payload at all.
	inv := &fakeInvoker{result: nil}
	o := NewOrchestrator(mem, inv)

	_, err := o.Generate(context.Background(), Request{
		GalleryID: "g1", OrderID: "1-1700000000", Keys: []string{"k"}, Kind: store.ArchiveOriginals,
	})
	if apperr.KindOf(err) != apperr.KindDependency {
		t.Fatalf("err = %v, want Dependency", err)
	}

	ord, _ := mem.GetOrder(context.Background(), "g1", "1-1700000000")
	if ord.ZipGenerating {
		t.Error("flag left set after empty payload")
	}
}

func TestGenerateAsyncLeavesFlagSet(t *testing.T) {
	mem := store.NewMemory()
	seedOrder(t, mem)
	inv := &fakeInvoker{}
	o := NewOrchestrator(mem, inv)

	zipKey, err := o.Generate(context.Background(), Request{
		GalleryID: "g1", OrderID: "1-1700000000", Keys: []string{"k"},
		Kind: store.ArchiveFinal, Async: true,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if zipKey != ObjectKey("g1", "1-1700000000", store.ArchiveFinal) {
		t.Errorf("zipKey = %q", zipKey)
	}
	if len(inv.asyncPayloads) != 1 || len(inv.syncPayloads) != 0 {
		t.Fatalf("async=%d sync=%d invocations", len(inv.asyncPayloads), len(inv.syncPayloads))
	}

	// The worker, not the orchestrator, clears the flag for async builds.
	ord, _ := mem.GetOrder(context.Background(), "g1", "1-1700000000")
	if !ord.FinalZipGenerating {
		t.Error("flag not set while the async build is in flight")
	}
}

func TestGenerateRejectsEmptyKeys(t *testing.T) {
	o := NewOrchestrator(store.NewMemory(), &fakeInvoker{})
	_, err := o.Generate(context.Background(), Request{GalleryID: "g1", OrderID: "1"})
	if apperr.KindOf(err) != apperr.KindInvalidInput {
		t.Fatalf("err = %v, want InvalidInput", err)
	}
}
