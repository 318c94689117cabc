package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/EternisAI/iot-shield/internal/api/http/dto"
	"github.com/EternisAI/iot-shield/internal/fleet"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const offlineCameraID = "3d9d6bcd-bbfd-4b2d-9b5d-ab8dfbbd4bed"

func TestHealthCheck(t *testing.T, router *gin.Engine) {
	rr := doJSON(router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	var resp dto.HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

// TestStoreContract checks the postgres store against the ordering and
// mutation rules the in-memory store follows.
func TestStoreContract(t *testing.T, store fleet.Store, seed fleet.Seed) {
	ctx := context.Background()

	t.Run("lists in seed order", func(t *testing.T) {
		devices, err := store.ListDevices(ctx)
		require.NoError(t, err)
		require.Len(t, devices, len(seed.Devices))
		for i := range devices {
			assert.Equal(t, seed.Devices[i].ID, devices[i].ID)
			assert.Equal(t, seed.Devices[i].Status, devices[i].Status)
			assert.WithinDuration(t, seed.Devices[i].LastSeen, devices[i].LastSeen, time.Millisecond)
		}

		list, err := store.ListFirmware(ctx)
		require.NoError(t, err)
		require.Len(t, list, len(seed.Firmware))
		assert.Equal(t, seed.Firmware[0].ID, list[0].ID)

		alerts, err := store.ListAlerts(ctx)
		require.NoError(t, err)
		require.Len(t, alerts, len(seed.Alerts))
		assert.Equal(t, seed.Alerts[0].ID, alerts[0].ID)
	})

	t.Run("update device", func(t *testing.T) {
		id := seed.Devices[4].ID
		updated, err := store.UpdateDevice(ctx, id, func(d *fleet.Device) error {
			d.CPUUsage = 42
			d.ID = "ignored"
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, id, updated.ID)

		got, err := store.GetDevice(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 42, got.CPUUsage)

		_, err = store.UpdateDevice(ctx, "missing", func(*fleet.Device) error { return nil })
		assert.ErrorIs(t, err, fleet.ErrDeviceNotFound)
	})

	t.Run("add firmware", func(t *testing.T) {
		fw := fleet.Firmware{
			ID:            "fw-contract",
			Version:       "2.4.8",
			ReleaseDate:   time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
			Size:          "1.00 MB",
			IsSigned:      true,
			SignatureType: fleet.SignatureECCP256,
			Hash:          "SHA256:00",
			Status:        fleet.FirmwareStatusDraft,
		}
		require.NoError(t, store.AddFirmware(ctx, fw))
		assert.ErrorIs(t, store.AddFirmware(ctx, fw), fleet.ErrInvalidFirmware)

		list, err := store.ListFirmware(ctx)
		require.NoError(t, err)
		assert.Equal(t, "fw-contract", list[0].ID)

		err = store.AddFirmware(ctx, fleet.Firmware{
			ID: "fw-unsigned", Version: "0.0.1", SignatureType: fleet.SignatureNone, Status: fleet.FirmwareStatusDeployed,
		})
		assert.ErrorIs(t, err, fleet.ErrUnsignedFirmware)
	})

	t.Run("acknowledge alert", func(t *testing.T) {
		id := seed.Alerts[1].ID
		a, err := store.AcknowledgeAlert(ctx, id)
		require.NoError(t, err)
		assert.True(t, a.Acknowledged)

		_, err = store.AcknowledgeAlert(ctx, "missing")
		assert.ErrorIs(t, err, fleet.ErrAlertNotFound)
	})
}

func TestLogin(t *testing.T, router *gin.Engine) {
	t.Run("admin", func(t *testing.T) {
		resp := login(t, router, "admin", "admin")
		assert.Equal(t, "ADMIN", resp.Role)
		assert.NotEmpty(t, resp.Token)

		rr := doJSONWithAuth(router, http.MethodGet, "/api/v1/dashboard", nil, resp.Token)
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("wrong password", func(t *testing.T) {
		rr := doJSON(router, http.MethodPost, "/auth/login", dto.LoginRequest{Username: "admin", Password: "nope"})
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("viewer cannot deploy", func(t *testing.T) {
		resp := login(t, router, "user", "user")
		rr := doJSONWithAuth(router, http.MethodPost, "/api/v1/devices/"+offlineCameraID+"/deploy", nil, resp.Token)
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})
}

func TestDeployFlow(t *testing.T, router *gin.Engine) {
	token := login(t, router, "admin", "admin").Token
	path := "/api/v1/devices/" + offlineCameraID

	rr := doJSONWithAuth(router, http.MethodPost, path+"/deploy", nil, token)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	rr = doJSONWithAuth(router, http.MethodPost, path+"/deploy", nil, token)
	assert.Equal(t, http.StatusConflict, rr.Code)

	require.Eventually(t, func() bool {
		rr := doJSONWithAuth(router, http.MethodGet, path, nil, token)
		if rr.Code != http.StatusOK {
			return false
		}
		var d fleet.Device
		if err := json.Unmarshal(rr.Body.Bytes(), &d); err != nil {
			return false
		}
		return d.Status == fleet.DeviceStatusOnline && d.FirmwareVersion == "2.4.1"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestFirmwareUpload(t *testing.T, router *gin.Engine) {
	token := login(t, router, "admin", "admin").Token

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", "sensor.bin")
	require.NoError(t, err)
	_, err = part.Write(bytes.Repeat([]byte{0xAB}, 2048))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/firmware", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var fw fleet.Firmware
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &fw))
	assert.True(t, fw.IsSigned)
	assert.Equal(t, fleet.FirmwareStatusDraft, fw.Status)

	rr = doJSONWithAuth(router, http.MethodGet, "/api/v1/firmware/"+fw.ID, nil, token)
	assert.Equal(t, http.StatusOK, rr.Code)
}
