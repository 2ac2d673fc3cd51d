// Package archive coordinates downloadable-bundle generation. The actual zip
// work runs in a separate worker Lambda; this package owns the advisory
// generating flag and content fingerprint recorded on the order, and the
// invocation of the worker in sync or async mode.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/shuttersend/gallery-delivery/internal/apperr"
	"github.com/shuttersend/gallery-delivery/internal/store"
)

// ObjectKey returns the canonical S3 key for one archive kind of an order.
func ObjectKey(galleryID, orderID string, kind store.ArchiveKind) string {
	return fmt.Sprintf("galleries/%s/orders/%s/%s.zip", galleryID, orderID, kind)
}

// FingerprintKeys returns a stable content fingerprint for a set of object
// keys. The fingerprint is order-insensitive: the same set of keys always
// yields the same hash, so an archive built from the same selection can be
// recognized as current no matter how the keys were listed.
func FingerprintKeys(keys []string) string {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "\n")))
	return hex.EncodeToString(sum[:])
}

// WorkerEvent is the payload sent to the archive worker Lambda.
type WorkerEvent struct {
	GalleryID string   `json:"galleryId"`
	OrderID   string   `json:"orderId"`
	Keys      []string `json:"keys"`
	Kind      string   `json:"type"`
}

// WorkerResult is the payload the worker returns on success. A failed or
// timed-out worker returns an empty payload, which the orchestrator treats
// as generation failure.
type WorkerResult struct {
	ZipKey string `json:"zipKey"`
}

// Invoker abstracts the worker Lambda so tests can substitute a fake.
type Invoker interface {
	// InvokeSync runs the worker and waits for its result payload.
	InvokeSync(ctx context.Context, payload []byte) ([]byte, error)
	// InvokeAsync fires the worker and returns once the event is accepted.
	InvokeAsync(ctx context.Context, payload []byte) error
}

// Request describes one archive generation.
type Request struct {
	GalleryID string
	OrderID   string
	Keys      []string
	Kind      store.ArchiveKind

	// Async fires the worker without waiting. The worker itself clears the
	// generating flag when it finishes; the orchestrator only sets it.
	Async bool
}

// Orchestrator drives archive generation: it records the generating flag and
// fingerprint on the order, invokes the worker, and on synchronous completion
// clears the flag. The flag is advisory, not a lock: if the process dies
// mid-generation the flag stays set until reconciliation clears it.
type Orchestrator struct {
	store   store.Store
	invoker Invoker
}

func NewOrchestrator(s store.Store, inv Invoker) *Orchestrator {
	return &Orchestrator{store: s, invoker: inv}
}

// Generate produces one archive. It returns the object key the archive was
// (or will be) written to. Errors from the worker are returned after the
// generating flag has been cleared, so a failed generation never leaves the
// order claiming work is in flight.
func (o *Orchestrator) Generate(ctx context.Context, req Request) (string, error) {
	if len(req.Keys) == 0 {
		return "", apperr.InvalidInput("no keys to archive")
	}

	hash := FingerprintKeys(req.Keys)

	if err := o.store.SetArchiveState(ctx, req.GalleryID, req.OrderID, req.Kind, true, hash); err != nil {
		return "", fmt.Errorf("marking archive generating: %w", err)
	}

	payload, err := json.Marshal(WorkerEvent{
		GalleryID: req.GalleryID,
		OrderID:   req.OrderID,
		Keys:      req.Keys,
		Kind:      string(req.Kind),
	})
	if err != nil {
		return "", fmt.Errorf("marshaling worker event: %w", err)
	}

	if req.Async {
		if err := o.invoker.InvokeAsync(ctx, payload); err != nil {
			o.clearFlag(ctx, req, "")
			return "", apperr.Dependency("archive worker invoke failed", err)
		}
		return ObjectKey(req.GalleryID, req.OrderID, req.Kind), nil
	}

	resultPayload, err := o.invoker.InvokeSync(ctx, payload)
	if err != nil {
		o.clearFlag(ctx, req, "")
		return "", apperr.Dependency("archive worker failed", err)
	}

	var result WorkerResult
	if len(resultPayload) > 0 {
		if err := json.Unmarshal(resultPayload, &result); err != nil {
			log.Warn().Err(err).Str("orderId", req.OrderID).Msg("Unparseable archive worker result")
		}
	}
	if result.ZipKey == "" {
		o.clearFlag(ctx, req, "")
		return "", apperr.Dependency("archive worker returned no zip key", nil)
	}

	if err := o.store.SetArchiveState(ctx, req.GalleryID, req.OrderID, req.Kind, false, hash); err != nil {
		return "", fmt.Errorf("clearing archive flag: %w", err)
	}

	log.Info().
		Str("galleryId", req.GalleryID).
		Str("orderId", req.OrderID).
		Str("kind", string(req.Kind)).
		Str("zipKey", result.ZipKey).
		Int("keys", len(req.Keys)).
		Msg("Archive generated")

	return result.ZipKey, nil
}

// clearFlag resets the generating flag after a failed invocation. A failure
// here is only logged: the reconciler can recover a stuck flag later.
func (o *Orchestrator) clearFlag(ctx context.Context, req Request, hash string) {
	if err := o.store.SetArchiveState(ctx, req.GalleryID, req.OrderID, req.Kind, false, hash); err != nil {
		log.Error().Err(err).
			Str("galleryId", req.GalleryID).
			Str("orderId", req.OrderID).
			Str("kind", string(req.Kind)).
			Msg("Failed to clear archive generating flag")
	}
}
