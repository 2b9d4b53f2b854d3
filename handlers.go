package main

import (
	"encoding/json"
	"errors"
	"image/png"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/kwv/rigidreg/registration"
	"github.com/kwv/rigidreg/tracker"
)

// overlayFunc builds the live overlay of a tool
type overlayFunc func(toolID string) (*tracker.Overlay, error)

// toolStatus is the /registrations/{id} response
type toolStatus struct {
	Registration *tracker.Registration        `json:"registration"`
	Filtered     *registration.RigidTransform `json:"filtered,omitempty"`
}

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(stateTracker *tracker.StateTracker, overlay overlayFunc) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] /health request from %s", r.RemoteAddr)
		status := struct {
			Status    string    `json:"status"`
			Timestamp time.Time `json:"timestamp"`
			Tools     int       `json:"tools"`
		}{
			Status:    "ok",
			Timestamp: time.Now(),
			Tools:     len(stateTracker.ToolIDs()),
		}
		writeJSON(w, status)
	})

	mux.HandleFunc("GET /registrations", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, stateTracker.GetRegistrations())
	})

	mux.HandleFunc("GET /registrations/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		reg, ok := stateTracker.Get(id)
		if !ok {
			http.Error(w, "No registration for "+id, http.StatusNotFound)
			return
		}
		status := toolStatus{Registration: reg}
		if filtered, err := stateTracker.Filtered(id); err == nil {
			status.Filtered = &filtered
		}
		writeJSON(w, status)
	})

	// RigidMatrix text of the current transform, or the filtered one with ?filtered=1
	mux.HandleFunc("GET /transform/{file}", func(w http.ResponseWriter, r *http.Request) {
		id, ok := strings.CutSuffix(r.PathValue("file"), ".txt")
		if !ok {
			http.NotFound(w, r)
			return
		}

		var t registration.RigidTransform
		var err error
		if r.URL.Query().Get("filtered") != "" {
			t, err = stateTracker.Filtered(id)
		} else if current, found := stateTracker.Current(id); found {
			t = current
		} else {
			err = registration.ErrEmptyList
		}
		if err != nil {
			http.Error(w, "No transform for "+id, http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if err := t.EncodeFile(w); err != nil {
			log.Printf("[HTTP] Error encoding transform of %s: %v", id, err)
		}
	})

	mux.HandleFunc("GET /overlay/{file}", func(w http.ResponseWriter, r *http.Request) {
		file := r.PathValue("file")
		ext := file[strings.LastIndex(file, ".")+1:]
		id := strings.TrimSuffix(file, "."+ext)
		if ext != "png" && ext != "svg" || id == file {
			http.NotFound(w, r)
			return
		}

		o, err := overlay(id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}

		w.Header().Set("Cache-Control", "no-cache")
		switch ext {
		case "png":
			img, err := o.Render()
			if errors.Is(err, registration.ErrEmptyPointSet) {
				http.Error(w, "No points to draw for "+id, http.StatusServiceUnavailable)
				return
			} else if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "image/png")
			if err := png.Encode(w, img); err != nil {
				log.Printf("[HTTP] Error encoding overlay PNG of %s: %v", id, err)
			}
		case "svg":
			if _, ok := o.Bound(); !ok {
				http.Error(w, "No points to draw for "+id, http.StatusServiceUnavailable)
				return
			}
			w.Header().Set("Content-Type", "image/svg+xml")
			if err := tracker.NewVectorRenderer(o).RenderToSVG(w); err != nil {
				log.Printf("[HTTP] Error encoding overlay SVG of %s: %v", id, err)
			}
		}
	})

	return mux
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[HTTP] Error encoding response: %v", err)
	}
}
