package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/MarkHash/bacmon-core/internal/device"
)

// defaultReadingLimit caps a readings listing when no limit is given.
const defaultReadingLimit = 100

// handleListDevices returns all known devices.
//
// Query parameters:
//   - online: "true" restricts the listing to devices currently online
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.URL.Query().Get("online") == "true" {
		devices, err := s.registry.ListOnline(ctx)
		if err != nil {
			writeInternalError(w, "failed to list devices")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
		return
	}

	devices, err := s.registry.ListDevices(ctx)
	if err != nil {
		writeInternalError(w, "failed to list devices")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device by its BACnet instance number.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.deviceFromPath(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleDeviceStats returns registry statistics.
func (s *Server) handleDeviceStats(w http.ResponseWriter, _ *http.Request) {
	stats := s.registry.GetStats()
	writeJSON(w, http.StatusOK, map[string]any{
		"total":     stats.TotalDevices,
		"online":    stats.Online,
		"offline":   stats.Offline,
		"cataloged": stats.Cataloged,
	})
}

// handleListPoints returns the cataloged points of a device.
func (s *Server) handleListPoints(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.deviceFromPath(w, r)
	if !ok {
		return
	}

	points, err := s.points.ListByDevice(r.Context(), dev.ID)
	if err != nil {
		writeInternalError(w, "failed to list points")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"points": points, "count": len(points)})
}

// handleStatusHistory returns a device's online/offline transitions,
// most recent first.
//
// Query parameters:
//   - limit: maximum number of transitions to return (default 50)
func (s *Server) handleStatusHistory(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.deviceFromPath(w, r)
	if !ok {
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	history, err := s.registry.StatusHistory(r.Context(), dev.ID, limit)
	if err != nil {
		writeInternalError(w, "failed to load status history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history, "count": len(history)})
}

// handleGetPoint returns a single point by its internal ID.
func (s *Server) handleGetPoint(w http.ResponseWriter, r *http.Request) {
	point, ok := s.pointFromPath(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, point)
}

// handleListReadings returns a point's readings, most recent first.
//
// Query parameters:
//   - limit: maximum number of readings to return (default 100)
func (s *Server) handleListReadings(w http.ResponseWriter, r *http.Request) {
	point, ok := s.pointFromPath(w, r)
	if !ok {
		return
	}

	limit := defaultReadingLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	readings, err := s.readings.ListByPoint(r.Context(), point.ID, limit)
	if err != nil {
		writeInternalError(w, "failed to list readings")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"readings": readings, "count": len(readings)})
}

// handleLatestReading returns a point's most recent reading together
// with its anomaly assessment, when one was stored.
func (s *Server) handleLatestReading(w http.ResponseWriter, r *http.Request) {
	point, ok := s.pointFromPath(w, r)
	if !ok {
		return
	}

	reading, err := s.readings.Latest(r.Context(), point.ID)
	if err != nil {
		if errors.Is(err, device.ErrReadingNotFound) {
			writeNotFound(w, "point has no readings")
			return
		}
		writeInternalError(w, "failed to load reading")
		return
	}

	assessment, err := s.readings.Assessment(r.Context(), reading.ID)
	if err != nil {
		writeInternalError(w, "failed to load assessment")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"reading":    reading,
		"assessment": assessment,
	})
}

// deviceFromPath resolves the {deviceID} path parameter (a BACnet
// instance number) to a device, writing the error response itself when
// the lookup fails.
func (s *Server) deviceFromPath(w http.ResponseWriter, r *http.Request) (*device.Device, bool) {
	deviceID, err := strconv.Atoi(chi.URLParam(r, "deviceID"))
	if err != nil {
		writeBadRequest(w, "device ID must be a BACnet instance number")
		return nil, false
	}

	dev, err := s.registry.GetByInstance(r.Context(), deviceID)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return nil, false
		}
		writeInternalError(w, "failed to get device")
		return nil, false
	}
	return dev, true
}

// pointFromPath resolves the {pointID} path parameter, writing the
// error response itself when the lookup fails.
func (s *Server) pointFromPath(w http.ResponseWriter, r *http.Request) (*device.Point, bool) {
	point, err := s.points.GetByID(r.Context(), chi.URLParam(r, "pointID"))
	if err != nil {
		if errors.Is(err, device.ErrPointNotFound) {
			writeNotFound(w, "point not found")
			return nil, false
		}
		writeInternalError(w, "failed to get point")
		return nil, false
	}
	return point, true
}
