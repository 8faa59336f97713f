package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thereceipt/bleprint/internal/ble/bletest"
	"github.com/thereceipt/bleprint/internal/printer"
	"github.com/thereceipt/bleprint/internal/registry"
)

const testAddr = "66:22:B3:0A:11:7C"

const receiptJSON = `{
	"store": {"name": "Corner Shop"},
	"transaction": {
		"id": "tx-1",
		"items": [{"name": "Tea", "quantity": 1, "unit_price": 3, "total": 3}],
		"subtotal": 3, "total": 3, "payment": 5, "change": 2
	}
}`

type testServer struct {
	server     *Server
	peripheral *bletest.Peripheral
	service    *printer.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	p := bletest.NewPeripheral(testAddr, map[string][]string{"18f0": {"2af1"}})
	p.Name = "MTP-II"
	a := bletest.NewAdapter(p)

	reg, err := registry.New("")
	require.NoError(t, err)
	m := printer.NewManager(a, reg, nil, printer.ManagerConfig{}, nil)
	svc, err := printer.NewService(m, printer.NewTransmitter(printer.TransmitterConfig{}, nil), printer.DefaultSettings(), nil)
	require.NoError(t, err)
	disc := printer.NewDiscovery(a, nil, nil, 10*time.Millisecond, nil)

	return &testServer{
		server:     NewServer(svc, disc, reg, gin.TestMode, nil),
		peripheral: p,
		service:    svc,
	}
}

func (ts *testServer) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w.Code, out
}

func (ts *testServer) connect(t *testing.T) {
	t.Helper()
	code, body := ts.do(t, http.MethodPost, "/connect", fmt.Sprintf(`{"address": %q}`, testAddr))
	require.Equal(t, http.StatusOK, code, body)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestStatusAndConnect(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, code)
	status := body["status"].(map[string]any)
	assert.Equal(t, "disconnected", status["state"])
	assert.Equal(t, false, status["connected"])
	assert.NotContains(t, body, "link")

	ts.connect(t)

	_, body = ts.do(t, http.MethodGet, "/status", "")
	status = body["status"].(map[string]any)
	assert.Equal(t, "connected", status["state"])
	assert.Equal(t, true, status["connected"])
	assert.Contains(t, body, "link")

	code, _ = ts.do(t, http.MethodPost, "/disconnect", "")
	assert.Equal(t, http.StatusOK, code)
	_, body = ts.do(t, http.MethodGet, "/status", "")
	assert.Equal(t, "disconnected", body["status"].(map[string]any)["state"])
}

func TestConnect_ByName(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, http.MethodPost, "/connect", `{"name": "mtp"}`)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, body["success"])

	code, body = ts.do(t, http.MethodPost, "/connect", `{"name": "nope"}`)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, false, body["success"])
}

func TestScan(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, http.MethodPost, "/scan", "")
	require.Equal(t, http.StatusOK, code)
	devices := body["devices"].([]any)
	require.Len(t, devices, 1)
}

func TestPrint_NotConnected(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, http.MethodPost, "/print", receiptJSON)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, false, body["success"])
	assert.Empty(t, ts.peripheral.Writes())
}

func TestPrint_InvalidReceipt(t *testing.T) {
	ts := newTestServer(t)
	ts.connect(t)

	code, _ := ts.do(t, http.MethodPost, "/print", `{"store": {}}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = ts.do(t, http.MethodPost, "/print", `not json`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Empty(t, ts.peripheral.Writes())
}

func TestPrint_Receipt(t *testing.T) {
	ts := newTestServer(t)
	ts.connect(t)

	code, body := ts.do(t, http.MethodPost, "/print", receiptJSON)
	require.Equal(t, http.StatusOK, code, body)
	job := body["job"].(map[string]any)
	assert.Equal(t, "completed", job["status"])

	out := ts.peripheral.Bytes()
	assert.True(t, bytes.HasPrefix(out, []byte{0x1B, 0x40}))
	assert.True(t, bytes.HasSuffix(out, []byte{0x1D, 0x56, 0x01}))
	assert.Contains(t, string(out), "Corner Shop")

	code, body = ts.do(t, http.MethodGet, "/jobs", "")
	require.Equal(t, http.StatusOK, code)
	jobs := body["jobs"].([]any)
	require.Len(t, jobs, 1)

	id := jobs[0].(map[string]any)["id"].(string)
	code, _ = ts.do(t, http.MethodGet, "/job/"+id, "")
	assert.Equal(t, http.StatusOK, code)
	code, _ = ts.do(t, http.MethodGet, "/job/missing", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestPreview(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, http.MethodPost, "/preview", receiptJSON)
	require.Equal(t, http.StatusOK, code, body)
	assert.Contains(t, body["text"], "Corner Shop")
	assert.Empty(t, ts.peripheral.Writes())
}

func TestPrint_CommunicationFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.connect(t)
	ts.peripheral.FailWrites(func(string, int, []byte) error { return errors.New("gatt write failed") })

	code, body := ts.do(t, http.MethodPost, "/selftest", "")
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Contains(t, body, "job")
}

func TestAutoPrint_Disabled(t *testing.T) {
	ts := newTestServer(t)
	ts.connect(t)

	code, body := ts.do(t, http.MethodPost, "/print/auto", receiptJSON)
	assert.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, false, body["started"])
	ts.service.Wait()
	assert.Empty(t, ts.peripheral.Writes())
}

func TestAutoPrint_Enabled(t *testing.T) {
	ts := newTestServer(t)
	settings := ts.service.Settings()
	settings.AutoPrintEnabled = true
	require.NoError(t, ts.service.UpdateSettings(settings))

	// Not connected: accepted, never an error to the caller.
	code, body := ts.do(t, http.MethodPost, "/print/auto", receiptJSON)
	assert.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, true, body["started"])
	ts.service.Wait()

	ts.connect(t)
	ts.do(t, http.MethodPost, "/print/auto", receiptJSON)
	ts.service.Wait()
	assert.Contains(t, string(ts.peripheral.Bytes()), "Corner Shop")
}

func TestPrinters(t *testing.T) {
	ts := newTestServer(t)
	ts.connect(t)

	code, body := ts.do(t, http.MethodGet, "/printers", "")
	require.Equal(t, http.StatusOK, code)
	printers := body["printers"].([]any)
	require.Len(t, printers, 1)
	id := printers[0].(map[string]any)["id"].(string)

	code, _ = ts.do(t, http.MethodPost, "/printer/"+id+"/name", `{"name": "Front desk"}`)
	assert.Equal(t, http.StatusOK, code)

	code, _ = ts.do(t, http.MethodPost, "/printer/unknown/name", `{"name": "x"}`)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = ts.do(t, http.MethodPost, "/printer/"+id+"/name", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestCommand(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, http.MethodPost, "/command", `{"command": "status"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "disconnected", body["message"])

	code, _ = ts.do(t, http.MethodPost, "/command", `{"command": "frobnicate"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = ts.do(t, http.MethodPost, "/command", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t)

	code, _ := ts.do(t, http.MethodOptions, "/print", "")
	assert.Equal(t, http.StatusNoContent, code)
}

func TestHTTPStatus(t *testing.T) {
	tests := map[error]int{
		printer.ErrInvalidReceipt:                 http.StatusBadRequest,
		printer.ErrNoDeviceFound:                  http.StatusNotFound,
		printer.ErrPrinterBusy:                    http.StatusConflict,
		printer.ErrUnsupportedDevice:              http.StatusUnprocessableEntity,
		printer.ErrNotConnected:                   http.StatusServiceUnavailable,
		printer.ErrConnectionLost:                 http.StatusServiceUnavailable,
		printer.ErrConnectTimeout:                 http.StatusGatewayTimeout,
		printer.ErrPartialCommandFailure:          http.StatusBadGateway,
		&printer.ChunkError{Err: errors.New("x")}: http.StatusBadGateway,
		errors.New("other"):                       http.StatusInternalServerError,
	}
	for err, want := range tests {
		assert.Equal(t, want, httpStatus(err), err.Error())
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) wsEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev wsEvent
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func stateOf(ev wsEvent) string {
	return ev.Data.(map[string]any)["state"].(string)
}

func TestWebSocket_StatusStream(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(ts.server.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	ev := readEvent(t, conn)
	assert.Equal(t, "status", ev.Event)
	assert.Equal(t, "disconnected", stateOf(ev))

	ts.connect(t)
	assert.Equal(t, "connecting", stateOf(readEvent(t, conn)))
	assert.Equal(t, "connected", stateOf(readEvent(t, conn)))

	require.NoError(t, conn.WriteJSON(map[string]any{"event": "print", "data": json.RawMessage(receiptJSON)}))
	var states []string
	for {
		ev := readEvent(t, conn)
		if ev.Event == "print_complete" {
			break
		}
		require.Equal(t, "status", ev.Event)
		states = append(states, stateOf(ev))
	}
	assert.Equal(t, []string{"printing", "connected"}, states)
}

func TestWebSocket_BadMessages(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(ts.server.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	readEvent(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]any{"event": "dance"}))
	assert.Equal(t, "error", readEvent(t, conn).Event)

	require.NoError(t, conn.WriteJSON(map[string]any{"event": "print", "data": map[string]any{}}))
	assert.Equal(t, "print_error", readEvent(t, conn).Event)
}
