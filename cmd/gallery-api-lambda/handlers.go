package main

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/shuttersend/gallery-delivery/internal/apperr"
	"github.com/shuttersend/gallery-delivery/internal/clienttoken"
	"github.com/shuttersend/gallery-delivery/internal/metrics"
)

func handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "gallery-delivery",
	})
}

// authorize resolves the caller's identity for a gallery route. Owners are
// identified by the x-owner-id header the upstream authorizer injects;
// clients by a gallery-scoped JWT in x-gallery-token. Returns the clientId
// (empty for owners) or an error when neither identity is present.
func authorize(r *http.Request, galleryID string) (clientID string, isOwner bool, err error) {
	if ownerID := r.Header.Get("x-owner-id"); ownerID != "" {
		return "", true, nil
	}
	token := r.Header.Get("x-gallery-token")
	if token == "" {
		return "", false, apperr.Unauthorized("missing credentials", nil)
	}
	claims, err := clienttoken.Verify(clientTokenSecret, token, galleryID)
	if err != nil {
		return "", false, err
	}
	return claims.ClientID, false, nil
}

// handleGalleryRoutes dispatches /api/galleries/{galleryId}/... paths:
//
//	{galleryId}/selection                  GET
//	{galleryId}/selection/approve          POST
//	{galleryId}/orders/{orderId}/delivered POST
func handleGalleryRoutes(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/galleries/"), "/")
	if len(parts) < 2 || parts[0] == "" {
		httpError(w, http.StatusNotFound, "not found")
		return
	}
	galleryID := parts[0]

	switch {
	case len(parts) == 2 && parts[1] == "selection":
		handleSelectionState(w, r, galleryID)
	case len(parts) == 3 && parts[1] == "selection" && parts[2] == "approve":
		handleApprove(w, r, galleryID)
	case len(parts) == 4 && parts[1] == "orders" && parts[3] == "delivered":
		handleDelivered(w, r, galleryID, parts[2])
	default:
		httpError(w, http.StatusNotFound, "not found")
	}
}

// POST /api/galleries/{galleryId}/selection/approve
// Body: {"selectedKeys": ["galleries/g1/originals/a.jpg", ...]}
func handleApprove(w http.ResponseWriter, r *http.Request, galleryID string) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	clientID, _, err := authorize(r, galleryID)
	if err != nil {
		respondAppError(w, r, err)
		return
	}

	var req struct {
		SelectedKeys []string `json:"selectedKeys"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	start := time.Now()
	result, err := engine.ApproveSelection(r.Context(), galleryID, clientID, req.SelectedKeys)
	if err != nil {
		respondAppError(w, r, err)
		return
	}

	metrics.New().
		Dimension("Operation", "ApproveSelection").
		Duration("ApprovalLatencyMs", time.Since(start)).
		Count("ApprovalCount").
		Property("galleryId", galleryID).
		Property("orderId", result.OrderID).
		Property("selectedCount", result.SelectedCount).
		Property("archiveStarted", result.ZipKey != "").
		Flush()

	respondJSON(w, http.StatusOK, result)
}

// GET /api/galleries/{galleryId}/selection
func handleSelectionState(w http.ResponseWriter, r *http.Request, galleryID string) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if _, _, err := authorize(r, galleryID); err != nil {
		respondAppError(w, r, err)
		return
	}

	state, err := engine.GetSelectionState(r.Context(), galleryID)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, state)
}

// POST /api/galleries/{galleryId}/orders/{orderId}/delivered
func handleDelivered(w http.ResponseWriter, r *http.Request, galleryID, orderID string) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ownerID := r.Header.Get("x-owner-id")
	if ownerID == "" {
		respondAppError(w, r, apperr.Unauthorized("owner credentials required", nil))
		return
	}

	result, err := engine.MarkDelivered(r.Context(), galleryID, orderID, ownerID)
	if err != nil {
		respondAppError(w, r, err)
		return
	}

	metrics.New().
		Dimension("Operation", "MarkDelivered").
		Count("DeliveredCount").
		Metric("FreedBytes", float64(result.FreedBytes), metrics.UnitBytes).
		Property("galleryId", galleryID).
		Property("orderId", orderID).
		Flush()

	respondJSON(w, http.StatusOK, result)
}

// GET /api/delivery-status
//
// The response carries an ETag; a follow-up request echoing it back via
// If-None-Match gets 304 with no body when nothing changed.
func handleDeliveryStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ownerID := r.Header.Get("x-owner-id")
	if ownerID == "" {
		respondAppError(w, r, apperr.Unauthorized("owner credentials required", nil))
		return
	}

	prev := strings.Trim(r.Header.Get("If-None-Match"), `"`)
	report, fingerprint, notModified, err := aggregator.OwnerStatus(r.Context(), ownerID, prev)
	if err != nil {
		respondAppError(w, r, err)
		return
	}

	w.Header().Set("ETag", `"`+fingerprint+`"`)
	if notModified {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	respondJSON(w, http.StatusOK, report)
}
