// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WSRelay Contributors

package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/wsrelay/wsrelay/internal/tenant"
	"github.com/wsrelay/wsrelay/pkg/errutil"
)

// MaxBodySize caps trigger request bodies.
const MaxBodySize = 1 << 20

// AppFinder resolves apps by id.
type AppFinder interface {
	FindByID(ctx context.Context, id string) (*tenant.App, error)
}

// RequestVerifier authenticates signed API requests.
type RequestVerifier interface {
	VerifyRequest(app *tenant.App, method, path string, query url.Values, body []byte) error
}

// Handler serves POST /apps/{appId}/events.
type Handler struct {
	apps     AppFinder
	verifier RequestVerifier
	service  *Service
}

// NewHandler creates the trigger HTTP handler.
func NewHandler(apps AppFinder, verifier RequestVerifier, service *Service) *Handler {
	return &Handler{apps: apps, verifier: verifier, service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	appID := r.PathValue("appId")

	app, err := h.apps.FindByID(ctx, appID)
	if errors.Is(err, tenant.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Unknown app")
		return
	}
	if err != nil {
		errutil.LogError(slog.Default(), "app lookup failed", err, "app_id", appID)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		slog.DebugContext(ctx, "api request body unreadable", "app_id", appID, "error", err)
		writeError(w, http.StatusBadRequest, "Unreadable request body")
		return
	}

	if err := h.verifier.VerifyRequest(app, r.Method, r.URL.Path, r.URL.Query(), body); err != nil {
		slog.InfoContext(ctx, "api request rejected", "app_id", appID, "error", err)
		writeError(w, http.StatusUnauthorized, "Invalid signature")
		return
	}

	req, err := ParseRequest(body)
	if err != nil {
		slog.DebugContext(ctx, "invalid trigger request", "app_id", appID, "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.service.Trigger(ctx, app.ID, req)
	writeJSON(w, http.StatusOK, struct{}{})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, struct {
		Error string `json:"error"`
	}{message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to write response", "error", err)
	}
}
