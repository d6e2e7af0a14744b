package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/greyfell/hubsync/internal/coordinator"
)

// maxBodySize bounds request bodies on mutating endpoints.
const maxBodySize = 64 * 1024

// healthResponse is the body of GET /api/v1/health.
type healthResponse struct {
	Status       string    `json:"status"`
	Available    bool      `json:"available"`
	HubConnected bool      `json:"hub_connected"`
	Devices      int       `json:"devices"`
	Version      string    `json:"version,omitempty"`
	Time         time.Time `json:"time"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	metrics := s.deps.Coordinator.Metrics()

	hubConnected := false
	if s.deps.HubConnected != nil {
		hubConnected = s.deps.HubConnected()
	}

	status := "ok"
	if !metrics.Available {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:       status,
		Available:    metrics.Available,
		HubConnected: hubConnected,
		Devices:      metrics.Devices,
		Version:      s.deps.Version,
		Time:         time.Now().UTC(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Coordinator.Metrics())
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Coordinator.Refresh(r.Context()); err != nil {
		s.logger.Warn("forced refresh failed", "error", err)
		writeError(w, http.StatusBadGateway, "refresh_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": s.deps.Coordinator.Metrics().Devices,
	})
}

// deviceSummary is one entry in the device list.
type deviceSummary struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Name     string `json:"name,omitempty"`
	Channels int    `json:"channels"`
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Coordinator.Snapshot()

	devices := make([]deviceSummary, 0, len(snap.Msg))
	for i := range snap.Msg {
		d := &snap.Msg[i]
		devices = append(devices, deviceSummary{
			ID:       d.Me,
			Type:     d.Devtype,
			Name:     d.Name,
			Channels: len(d.Data),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"available": s.deps.Coordinator.Available(),
		"devices":   devices,
	})
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")

	if r.URL.Query().Get("fresh") == "true" {
		dev, err := s.deps.Coordinator.GetDeviceData(r.Context(), deviceID)
		if err != nil {
			writeError(w, http.StatusBadGateway, "query_failed", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, dev)
		return
	}

	dev, ok := s.deps.Coordinator.Device(deviceID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown_device", "device not found")
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

func (s *Server) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeError(w, http.StatusNotFound, "history_disabled", "history is not enabled")
		return
	}

	deviceID := chi.URLParam(r, "deviceID")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be an integer")
			return
		}
		limit = n
	}

	entries, err := s.deps.History.History(r.Context(), deviceID, limit)
	if err != nil {
		s.logger.Error("history query failed", "device", deviceID, "error", err)
		writeError(w, http.StatusInternalServerError, "history_failed", "could not read history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// setStateRequest is the body of PUT /api/v1/devices/{id}/state.
type setStateRequest struct {
	Channel string         `json:"channel"`
	Args    map[string]any `json:"args"`
}

func (s *Server) handleSetState(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")

	if !s.deps.Coordinator.Available() {
		writeError(w, http.StatusConflict, "unavailable", "device cache is not available")
		return
	}

	var req setStateRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if req.Channel == "" {
		writeError(w, http.StatusBadRequest, "missing_channel", "channel is required")
		return
	}

	err := s.deps.Coordinator.SetDeviceState(r.Context(), deviceID, req.Channel, req.Args)
	switch {
	case errors.Is(err, coordinator.ErrCommandTimeout):
		writeError(w, http.StatusGatewayTimeout, "command_timeout", err.Error())
	case err != nil:
		writeError(w, http.StatusBadGateway, "command_failed", err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
	}
}

// sendKeysRequest is the body of POST /api/v1/devices/{id}/keys.
type sendKeysRequest struct {
	Category string   `json:"category"`
	Brand    string   `json:"brand"`
	Keys     []string `json:"keys"`
}

func (s *Server) handleSendKeys(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")

	if !s.deps.Coordinator.Available() {
		writeError(w, http.StatusConflict, "unavailable", "device cache is not available")
		return
	}

	var req sendKeysRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if len(req.Keys) == 0 {
		writeError(w, http.StatusBadRequest, "missing_keys", "keys is required")
		return
	}

	err := s.deps.Coordinator.SendKeys(r.Context(), deviceID, req.Category, req.Brand, req.Keys)
	switch {
	case errors.Is(err, coordinator.ErrCommandTimeout):
		writeError(w, http.StatusGatewayTimeout, "command_timeout", err.Error())
	case err != nil:
		writeError(w, http.StatusBadGateway, "command_failed", err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
