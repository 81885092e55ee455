package monitor

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/btsniff/internal/piconet"
	"github.com/banshee-data/btsniff/internal/sniffer"
	"github.com/banshee-data/btsniff/internal/version"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"service":   "btsniff",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type statusResponse struct {
	Version   version.Info  `json:"version"`
	Uptime    string        `json:"uptime"`
	Stats     sniffer.Stats `json:"stats"`
	Classic   int           `json:"classic_piconets"`
	LowEnergy int           `json:"le_piconets"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.cfg.Sniffer.Snapshot()
	writeJSON(w, http.StatusOK, statusResponse{
		Version:   version.Current(),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Stats:     snap.Stats,
		Classic:   len(snap.Classic),
		LowEnergy: len(snap.LowEnergy),
	})
}

func (s *Server) handlePiconets(w http.ResponseWriter, r *http.Request) {
	snap := s.cfg.Sniffer.Snapshot()
	state := r.URL.Query().Get("state")
	if state == "" {
		writeJSON(w, http.StatusOK, snap)
		return
	}
	if state != piconet.Discovering.String() && state != piconet.Tracking.String() {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("unknown state %q", state))
		return
	}
	filtered := sniffer.Snapshot{Stats: snap.Stats}
	for _, pn := range snap.Classic {
		if pn.State == state {
			filtered.Classic = append(filtered.Classic, pn)
		}
	}
	for _, pn := range snap.LowEnergy {
		if pn.State == state {
			filtered.LowEnergy = append(filtered.LowEnergy, pn)
		}
	}
	writeJSON(w, http.StatusOK, filtered)
}

// handlePiconet looks up one classic piconet by hex LAP.
func (s *Server) handlePiconet(w http.ResponseWriter, r *http.Request) {
	lap, err := strconv.ParseUint(r.PathValue("lap"), 16, 24)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "lap must be 6 hex digits")
		return
	}
	for _, pn := range s.cfg.Sniffer.Snapshot().Classic {
		if pn.LAP == uint32(lap) {
			writeJSON(w, http.StatusOK, pn)
			return
		}
	}
	writeJSONError(w, http.StatusNotFound, fmt.Sprintf("no piconet for LAP %06x", lap))
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.cfg.Devices.Devices()
	if kind := r.URL.Query().Get("kind"); kind != "" {
		filtered := devices[:0]
		for _, d := range devices {
			if string(d.Kind) == kind {
				filtered = append(filtered, d)
			}
		}
		devices = filtered
	}
	writeJSON(w, http.StatusOK, devices)
}

// handleEvents streams tracker updates as server-sent events. The first
// event is a full snapshot.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	id, updates := s.cfg.Devices.Subscribe()
	defer s.cfg.Devices.Unsubscribe(id)

	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	for {
		select {
		case u, ok := <-updates:
			if !ok {
				return
			}
			payload, err := json.Marshal(u)
			if err != nil {
				return
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", u.Type, payload); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
