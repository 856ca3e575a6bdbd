package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MarkHash/bacmon-core/internal/bacnet"
	"github.com/MarkHash/bacmon-core/internal/collector"
	"github.com/MarkHash/bacmon-core/internal/device"
	"github.com/MarkHash/bacmon-core/internal/discovery"
)

// handleRunDiscovery triggers an on-demand discovery sweep.
//
// Query parameters:
//   - timeout: bound on the sweep, in seconds
//   - catalog: "true" also builds point catalogs for newly found devices
func (s *Server) handleRunDiscovery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if v := r.URL.Query().Get("timeout"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil || seconds <= 0 {
			writeBadRequest(w, "timeout must be a positive number of seconds")
			return
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(seconds)*time.Second)
		defer cancel()
	}

	result, err := s.monitor.RunDiscovery(ctx)
	if err != nil {
		if errors.Is(err, discovery.ErrSweepInProgress) {
			writeError(w, http.StatusConflict, ErrCodeConflict, "a discovery sweep is already running")
			return
		}
		s.logger.Error("discovery sweep failed", "error", err)
		writeInternalError(w, "discovery sweep failed")
		return
	}

	response := map[string]any{"sweep": result}

	if r.URL.Query().Get("catalog") == "true" {
		outcomes, err := s.monitor.BuildCatalogs(ctx)
		if err != nil {
			s.logger.Error("catalog pass failed", "error", err)
			writeInternalError(w, "catalog pass failed")
			return
		}
		response["catalogs"] = outcomes
	}

	writeJSON(w, http.StatusOK, response)
}

// handleRunCollection triggers an on-demand collection cycle across
// all online, cataloged devices.
func (s *Server) handleRunCollection(w http.ResponseWriter, r *http.Request) {
	result, err := s.monitor.RunCollection(r.Context())
	if err != nil {
		if errors.Is(err, collector.ErrCycleInProgress) {
			writeError(w, http.StatusConflict, ErrCodeConflict, "a collection cycle is already running")
			return
		}
		s.logger.Error("collection cycle failed", "error", err)
		writeInternalError(w, "collection cycle failed")
		return
	}

	writeJSON(w, http.StatusOK, collectionResponse(result))
}

// handleCatalogDevice builds (or rebuilds) the point catalog for one
// device.
func (s *Server) handleCatalogDevice(w http.ResponseWriter, r *http.Request) {
	deviceID, err := strconv.Atoi(chi.URLParam(r, "deviceID"))
	if err != nil {
		writeBadRequest(w, "device ID must be a BACnet instance number")
		return
	}

	result, err := s.monitor.CatalogDevice(r.Context(), deviceID)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		if bacnet.IsConnectivity(err) {
			writeError(w, http.StatusBadGateway, ErrCodeInternal, "device unreachable")
			return
		}
		s.logger.Error("catalog build failed", "device_id", deviceID, "error", err)
		writeInternalError(w, "catalog build failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleCollectDevice runs an on-demand collection pass against one
// device.
func (s *Server) handleCollectDevice(w http.ResponseWriter, r *http.Request) {
	deviceID, err := strconv.Atoi(chi.URLParam(r, "deviceID"))
	if err != nil {
		writeBadRequest(w, "device ID must be a BACnet instance number")
		return
	}

	result, err := s.monitor.CollectDevice(r.Context(), deviceID)
	if err != nil {
		switch {
		case errors.Is(err, device.ErrDeviceNotFound):
			writeNotFound(w, "device not found")
		case errors.Is(err, device.ErrNotCataloged):
			writeError(w, http.StatusConflict, ErrCodeConflict, "device has no point catalog")
		case errors.Is(err, collector.ErrCycleInProgress):
			writeError(w, http.StatusConflict, ErrCodeConflict, "a collection cycle is already running")
		default:
			s.logger.Error("device collection failed", "device_id", deviceID, "error", err)
			writeInternalError(w, "device collection failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, collectionResponse(result))
}

// collectionResponse shapes a cycle result, surfacing whether the pass
// only partially succeeded.
func collectionResponse(result *collector.CycleResult) map[string]any {
	return map[string]any{
		"cycle":   result,
		"partial": result.PointsFailed > 0 || result.DevicesOffline > 0,
	}
}
