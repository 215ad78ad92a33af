package gateway

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/entropybridge/qrngd/infrastructure/logging"
	"github.com/entropybridge/qrngd/internal/entropy"
)

func testRouter(t *testing.T, principals map[string]struct{}) (*Router, *DistBuffer, *Receiver) {
	t.Helper()
	buf := NewDistBuffer(1<<20, EvictOldest)
	recvCfg := ReceiverConfig{Secret: []byte("test-secret"), TTL: 300 * time.Second, ClockSkewTolerance: 60 * time.Second}
	receiver := NewReceiver(recvCfg, buf, nil, logging.NewFromEnv("gateway-test"))

	cfg := Config{
		Principals:          principals,
		RateLimitCapacity:   5,
		RateLimitRefillPS:   1,
		MinHealthyFillPct:   5,
		ReadinessStaleAfter: 30 * time.Second,
	}
	router := NewRouter(cfg, buf, receiver, nil, logging.NewFromEnv("gateway-test"))
	return router, buf, receiver
}

func TestPushHandler_AdmitsValidPacket(t *testing.T) {
	router, buf, _ := testRouter(t, map[string]struct{}{"cred": {}})
	mux := router.Mux()

	pkt, err := entropy.NewPacket(1, []byte("hello-entropy"), []byte("test-secret"), time.Now())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/push", bytes.NewReader(pkt.Encode()))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, len("hello-entropy"), buf.Len())
}

func TestPushHandler_RejectsBadHMAC(t *testing.T) {
	router, _, _ := testRouter(t, map[string]struct{}{"cred": {}})
	mux := router.Mux()

	pkt, err := entropy.NewPacket(1, []byte("hello-entropy"), []byte("wrong-secret"), time.Now())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/push", bytes.NewReader(pkt.Encode()))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPushHandler_RejectsReplay(t *testing.T) {
	router, _, _ := testRouter(t, map[string]struct{}{"cred": {}})
	mux := router.Mux()

	pkt, err := entropy.NewPacket(10, []byte("hello-entropy"), []byte("test-secret"), time.Now())
	require.NoError(t, err)
	wire := pkt.Encode()

	rec1 := httptest.NewRecorder()
	mux.ServeHTTP(rec1, httptest.NewRequest(http.MethodPost, "/push", bytes.NewReader(wire)))
	require.Equal(t, http.StatusAccepted, rec1.Code)

	rec2 := httptest.NewRecorder()
	mux.ServeHTTP(rec2, httptest.NewRequest(http.MethodPost, "/push", bytes.NewReader(wire)))
	require.Equal(t, http.StatusConflict, rec2.Code)
}

func TestPushHandler_RejectsStaleTimestamp(t *testing.T) {
	router, _, _ := testRouter(t, map[string]struct{}{"cred": {}})
	mux := router.Mux()

	pkt, err := entropy.NewPacket(1, []byte("hello-entropy"), []byte("test-secret"), time.Now().Add(-400*time.Second))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/push", bytes.NewReader(pkt.Encode()))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusGone, rec.Code)
}

func TestRandomHandler_RejectsMissingCredential(t *testing.T) {
	router, buf, _ := testRouter(t, map[string]struct{}{"cred": {}})
	buf.Append(make([]byte, 100), time.Now())
	mux := router.Mux()

	req := httptest.NewRequest(http.MethodGet, "/api/random?bytes=10", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRandomHandler_HexEncodingRoundTrips(t *testing.T) {
	router, buf, _ := testRouter(t, map[string]struct{}{"cred": {}})
	data := make([]byte, 32)
	for i := range data {
		data[i] = byte(i)
	}
	buf.Append(data, time.Now())
	mux := router.Mux()

	req := httptest.NewRequest(http.MethodGet, "/api/random?bytes=32&encoding=hex", nil)
	req.Header.Set("Authorization", "Bearer cred")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Bytes    string `json:"bytes"`
		Encoding string `json:"encoding"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "hex", body.Encoding)

	decoded, err := hex.DecodeString(body.Bytes)
	require.NoError(t, err)
	require.Equal(t, data, decoded)
}

func TestRandomHandler_RejectsOutOfRangeLength(t *testing.T) {
	router, buf, _ := testRouter(t, map[string]struct{}{"cred": {}})
	buf.Append(make([]byte, 10), time.Now())
	mux := router.Mux()

	for _, qs := range []string{"bytes=0", "bytes=1048577"} {
		req := httptest.NewRequest(http.MethodGet, "/api/random?"+qs, nil)
		req.Header.Set("Authorization", "Bearer cred")
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	}
}

func TestHealthHandler_NoAuthRequired(t *testing.T) {
	router, buf, _ := testRouter(t, map[string]struct{}{"cred": {}})
	buf.Append(make([]byte, 10), time.Now())
	mux := router.Mux()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code) // fill percent tiny relative to capacity
}

func TestReadyHandler_NotReadyBeforeFirstAdmission(t *testing.T) {
	router, _, _ := testRouter(t, map[string]struct{}{"cred": {}})
	mux := router.Mux()

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRateLimit_CapacityFiveRefillOnePerSecond(t *testing.T) {
	router, buf, _ := testRouter(t, map[string]struct{}{"cred": {}})
	buf.Append(make([]byte, 1000), time.Now())
	mux := router.Mux()

	successes := 0
	var lastRejectCode int
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/random?bytes=1", nil)
		req.Header.Set("Authorization", "Bearer cred")
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code == http.StatusOK {
			successes++
		} else {
			lastRejectCode = rec.Code
		}
	}
	require.Equal(t, 5, successes)
	require.Equal(t, http.StatusTooManyRequests, lastRejectCode)
}
