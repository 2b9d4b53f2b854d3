package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwv/rigidreg/geom"
	"github.com/kwv/rigidreg/registration"
	"github.com/kwv/rigidreg/tracker"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// populatedTracker returns a StateTracker holding one converged registration
// of "probe".
func populatedTracker(t *testing.T) *tracker.StateTracker {
	t.Helper()
	st := tracker.NewStateTracker(5, registration.FilterConstant)
	tr := registration.NewRigidTransform(geom.Identity3(), geom.Vec{X: 12.5})
	tr.RMS = 0.2
	require.NoError(t, st.Update(tracker.Registration{
		ToolID:    "probe",
		RunID:     "run-1",
		Transform: tr,
		LastRMS:   0.2,
		Converged: true,
		Quality:   registration.QualityExcellent,
		Timestamp: time.Now(),
	}))
	return st
}

// staticOverlays serves the overlay of "probe" only
func staticOverlays(withData bool) overlayFunc {
	return func(toolID string) (*tracker.Overlay, error) {
		if toolID != "probe" {
			return nil, errors.New("unknown tool " + toolID)
		}
		model := toolModel()
		var data registration.PointList
		if withData {
			data = toolPose().TransformPoints(model)
		}
		return tracker.NewOverlay(model, data, toolPose(), "#00FF00"), nil
	}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// ---------------------------------------------------------------------------
// endpoints
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	h := newHTTPServer(populatedTracker(t), staticOverlays(true))
	rec := get(t, h, "/health")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		Status string `json:"status"`
		Tools  int    `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 1, body.Tools)
}

func TestRegistrationsEndpoint(t *testing.T) {
	h := newHTTPServer(populatedTracker(t), staticOverlays(true))
	rec := get(t, h, "/registrations")
	require.Equal(t, http.StatusOK, rec.Code)

	var regs map[string]*tracker.Registration
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &regs))
	require.Contains(t, regs, "probe")
	assert.Equal(t, "run-1", regs["probe"].RunID)
	assert.Equal(t, 12.5, regs["probe"].Transform.M[0][3])
}

func TestRegistrationEndpoint(t *testing.T) {
	h := newHTTPServer(populatedTracker(t), staticOverlays(true))

	rec := get(t, h, "/registrations/probe")
	require.Equal(t, http.StatusOK, rec.Code)

	var status toolStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.NotNil(t, status.Registration)
	require.NotNil(t, status.Filtered)
	assert.InDelta(t, 12.5, status.Filtered.M[0][3], 1e-9)

	rec = get(t, h, "/registrations/femur")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTransformEndpoint(t *testing.T) {
	h := newHTTPServer(populatedTracker(t), staticOverlays(true))

	tests := []struct {
		path string
		code int
	}{
		{"/transform/probe.txt", http.StatusOK},
		{"/transform/probe.txt?filtered=1", http.StatusOK},
		{"/transform/probe", http.StatusNotFound},
		{"/transform/femur.txt", http.StatusNotFound},
		{"/transform/femur.txt?filtered=1", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := get(t, h, tt.path)
			assert.Equal(t, tt.code, rec.Code)
			if tt.code != http.StatusOK {
				return
			}
			tr, err := registration.Decode(strings.NewReader(rec.Body.String()))
			require.NoError(t, err)
			assert.InDelta(t, 12.5, tr.Translation().X, 1e-9)
		})
	}
}

func TestOverlayEndpoint(t *testing.T) {
	h := newHTTPServer(populatedTracker(t), staticOverlays(true))

	rec := get(t, h, "/overlay/probe.png")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "\x89PNG"))

	rec = get(t, h, "/overlay/probe.svg")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/svg+xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "<svg")

	assert.Equal(t, http.StatusNotFound, get(t, h, "/overlay/probe.gif").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/overlay/probe").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/overlay/femur.png").Code)
}

func TestOverlayEndpoint_NoPoints(t *testing.T) {
	empty := func(toolID string) (*tracker.Overlay, error) {
		return &tracker.Overlay{Size: 100}, nil
	}
	h := newHTTPServer(populatedTracker(t), empty)

	assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/overlay/probe.png").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/overlay/probe.svg").Code)
}

func TestMethodNotAllowed(t *testing.T) {
	h := newHTTPServer(populatedTracker(t), staticOverlays(true))
	req := httptest.NewRequest(http.MethodPost, "/registrations", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
