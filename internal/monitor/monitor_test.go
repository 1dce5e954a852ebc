package monitor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telematics/avl-gateway/internal/registry"
)

func TestHandleHealth(t *testing.T) {
	reg := registry.New(nil)
	s := New(5006, 5005, reg, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 5005, body.DevicePort)
	assert.Equal(t, 5006, body.MonitorPort)
}

func TestHandleDevices(t *testing.T) {
	reg := registry.New(nil)
	_, err := reg.Register("353691841005134", "10.0.0.1:1", nil)
	require.NoError(t, err)
	s := New(5006, 5005, reg, nil)

	req := httptest.NewRequest(http.MethodGet, "/devices", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body devicesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Devices, 1)
	assert.Equal(t, "353691841005134", body.Devices[0].DeviceID)
}

func TestHandleConnections_EmptyIssues(t *testing.T) {
	reg := registry.New(nil)
	s := New(5006, 5005, reg, nil)

	req := httptest.NewRequest(http.MethodGet, "/connections", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"activeConnections":0,"issues":[]}`, rec.Body.String())
}

func TestUnknownPath_404(t *testing.T) {
	reg := registry.New(nil)
	s := New(5006, 5005, reg, nil)

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
