package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stadtnetz/lorabulk/internal/api/http/dto"
	"github.com/stadtnetz/lorabulk/internal/api/http/handler"
	"github.com/stadtnetz/lorabulk/internal/auth"
	"github.com/stadtnetz/lorabulk/internal/registry"
	"github.com/stadtnetz/lorabulk/internal/settings"
)

const deviceCSV = "DevEUI;Device Name;OTAA Key\n" +
	"A84041F4935D6EEA;sensor-01;0102030405060708090A0B0C0D0E0F10\n" +
	"A84041F4935D6EEB;sensor-02;02030405060708090A0B0C0D0E0F1011\n"

// MemoryRegistry is a thread-safe in-memory registry for system tests.
type MemoryRegistry struct {
	mu      sync.Mutex
	Devices map[string]registry.Device
	Keys    map[string]registry.DeviceKeys
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		Devices: make(map[string]registry.Device),
		Keys:    make(map[string]registry.DeviceKeys),
	}
}

func (m *MemoryRegistry) CreateDevice(ctx context.Context, dev registry.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Devices[dev.DevEUI] = dev
	return nil
}

func (m *MemoryRegistry) CreateDeviceKeys(ctx context.Context, keys registry.DeviceKeys) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Keys[keys.DevEUI] = keys
	return nil
}

func (m *MemoryRegistry) DeviceExists(ctx context.Context, devEUI string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.Devices[devEUI]
	return ok, nil
}

func (m *MemoryRegistry) DeleteDevice(ctx context.Context, devEUI string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Devices, devEUI)
	delete(m.Keys, devEUI)
	return nil
}

func (m *MemoryRegistry) TestConnection(ctx context.Context) error { return nil }

func (m *MemoryRegistry) ListDevices(ctx context.Context, applicationID, search string, limit, offset uint32) ([]registry.DeviceSummary, uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []registry.DeviceSummary
	for eui, dev := range m.Devices {
		out = append(out, registry.DeviceSummary{DevEUI: eui, Name: dev.Name})
	}
	return out, uint32(len(out)), nil
}

func (m *MemoryRegistry) Close() error { return nil }

func Factory(reg *MemoryRegistry) handler.RegistryFactory {
	return func(settings.Settings) (handler.RegistryConn, error) {
		return reg, nil
	}
}

// TestLoginFlow checks the credential round trip against the live router.
func TestLoginFlow(t *testing.T, router *gin.Engine, jwtSecret string) {
	t.Run("success", func(t *testing.T) {
		rr := doJSON(router, "POST", "/api/auth/login", dto.LoginRequest{Username: "admin", Password: "systemtest-pass"}, "")
		require.Equal(t, http.StatusOK, rr.Code)

		var resp dto.LoginResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		claims, err := auth.ValidateToken(jwtSecret, resp.Token)
		require.NoError(t, err)
		assert.Equal(t, "admin", claims.Username)
	})

	t.Run("wrong password", func(t *testing.T) {
		rr := doJSON(router, "POST", "/api/auth/login", dto.LoginRequest{Username: "admin", Password: "nope"}, "")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("rejects missing token", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/settings", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

// TestRegistrationFlow runs the whole pipeline through the HTTP surface:
// configure, upload, map, run, poll and read back the persisted history.
func TestRegistrationFlow(t *testing.T, router *gin.Engine, reg *MemoryRegistry, historyEnabled bool) {
	token := login(t, router)

	rr := doJSON(router, "PUT", "/api/settings", dto.SettingsRequest{
		Server:               "localhost:8080",
		APIToken:             "tok",
		DefaultApplicationID: "52f14cd4-c6f1-4fbd-8f87-4025e1d49242",
	}, token)
	require.Equal(t, http.StatusOK, rr.Code)

	uploadID := uploadCSV(t, router, token)

	rr = doJSON(router, "GET", "/api/uploads/"+uploadID+"/mapping", nil, token)
	require.Equal(t, http.StatusOK, rr.Code)
	var suggestion dto.SuggestMappingResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &suggestion))
	require.Equal(t, "DevEUI", suggestion.Mapping.DevEUI)

	rr = doJSON(router, "POST", "/api/runs", dto.StartRunRequest{
		UploadID:   uploadID,
		Mapping:    suggestion.Mapping,
		MACVersion: "1.0.3",
	}, token)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	var started dto.StartRunResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &started))
	require.Equal(t, 2, started.Total)

	status := waitForRun(t, router, token, started.RunID)
	assert.Equal(t, 2, status.Progress.Succeeded)

	// 1.0.x routing: root key lands in NwkKey, AppKey stays empty.
	keys, ok := reg.Keys["A84041F4935D6EEA"]
	require.True(t, ok)
	assert.Equal(t, "0102030405060708090A0B0C0D0E0F10", keys.NwkKey)
	assert.Empty(t, keys.AppKey)

	if historyEnabled {
		waitForHistory(t, router, token, started.RunID)
	}
}

func login(t *testing.T, router *gin.Engine) string {
	t.Helper()

	rr := doJSON(router, "POST", "/api/auth/login", dto.LoginRequest{Username: "admin", Password: "systemtest-pass"}, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var resp dto.LoginResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp.Token
}

func uploadCSV(t *testing.T, router *gin.Engine, token string) string {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "devices.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte(deviceCSV))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", "/api/uploads", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp dto.UploadResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp.UploadID
}

func waitForRun(t *testing.T, router *gin.Engine, token, runID string) dto.RunStatusResponse {
	t.Helper()

	deadline := time.After(10 * time.Second)
	for {
		rr := doJSON(router, "GET", "/api/runs/"+runID, nil, token)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp dto.RunStatusResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		if resp.Progress.Done {
			return resp
		}

		select {
		case <-deadline:
			t.Fatal("run did not finish in time")
		case <-time.After(25 * time.Millisecond):
		}
	}
}

// waitForHistory polls until the report lands in the database; persistence
// happens on a goroutine after the run completes.
func waitForHistory(t *testing.T, router *gin.Engine, token, runID string) {
	t.Helper()

	deadline := time.After(10 * time.Second)
	for {
		rr := doJSON(router, "GET", "/api/history/"+runID, nil, token)
		if rr.Code == http.StatusOK {
			body := rr.Body.String()
			assert.Contains(t, body, "A84041F4935D6EEA")
			assert.Contains(t, body, `"succeeded":2`)
			return
		}

		select {
		case <-deadline:
			t.Fatalf("run report never appeared in history (last status %d)", rr.Code)
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func doJSON(router *gin.Engine, method, path string, body any, token string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}
