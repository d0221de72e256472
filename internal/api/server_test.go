package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tillworks/posprint/internal/controller"
	"github.com/tillworks/posprint/internal/receipt"
	"github.com/tillworks/posprint/internal/store"
	"github.com/tillworks/posprint/internal/transport"
)

type stubOrders struct{}

func (stubOrders) Order(ctx context.Context, userID, orderID string) (receipt.Order, error) {
	return receipt.Order{
		OrderNumber: orderID,
		Date:        time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
		Items: []receipt.Item{
			{Name: "Coffee", Quantity: 2, UnitPrice: decimal.NewFromFloat(3.50), LineTotal: decimal.NewFromFloat(7.00)},
		},
		Subtotal: decimal.NewFromFloat(7.00),
		Tax:      decimal.NewFromFloat(0.70),
		Total:    decimal.NewFromFloat(7.70),
	}, nil
}

func (stubOrders) Return(ctx context.Context, userID, returnID string) (receipt.Order, error) {
	return receipt.Order{
		OrderNumber: returnID,
		Date:        time.Date(2024, 6, 2, 10, 0, 0, 0, time.UTC),
		Total:       decimal.NewFromFloat(7.70),
	}, nil
}

type stubAccounts struct{}

func (stubAccounts) BusinessName(ctx context.Context, userID string) (string, error) {
	return "Acme", nil
}

type stubDevices struct{}

func (stubDevices) ListGranted() ([]transport.DeviceDescriptor, error) { return nil, nil }

func (stubDevices) Request(ctx context.Context, f transport.Filter) (transport.DeviceDescriptor, error) {
	return transport.DeviceDescriptor{}, transport.ErrNoDeviceSelected
}

type stubTransport struct {
	sendErr error
	sent    [][]byte
}

func (t *stubTransport) Probe(ctx context.Context) error { return nil }

func (t *stubTransport) Send(ctx context.Context, data []byte) error {
	if t.sendErr != nil {
		return t.sendErr
	}
	t.sent = append(t.sent, data)
	return nil
}

func (t *stubTransport) Release() error { return nil }

type stubTransports struct {
	tr *stubTransport
}

func (s *stubTransports) ForConfig(cfg *store.PrinterConfig) (transport.Transport, error) {
	return s.tr, nil
}

type fixture struct {
	server *Server
	tr     *stubTransport
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "pos.db"), zerolog.Nop())
	require.NoError(t, err)

	tr := &stubTransport{}
	ctrl := controller.New(controller.Deps{
		Store:      st,
		Devices:    stubDevices{},
		Orders:     stubOrders{},
		Accounts:   stubAccounts{},
		Transports: &stubTransports{tr: tr},
		Logger:     zerolog.Nop(),
	})

	return &fixture{server: NewServer(ctrl, zerolog.Nop()), tr: tr}
}

func (f *fixture) do(t *testing.T, method, path, tenant string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if tenant != "" {
		req.Header.Set("X-Tenant-ID", tenant)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func (f *fixture) configure(t *testing.T, tenant string) {
	t.Helper()
	w := f.do(t, "POST", "/printer/initialize", tenant, map[string]any{
		"printer_type":   store.PrinterNetwork,
		"device_address": "192.168.1.50:9100",
		"printer_name":   "Front Desk",
	})
	require.Equal(t, 200, w.Code, w.Body.String())
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, "GET", "/health", "", nil)
	assert.Equal(t, 200, w.Code)
	assert.Equal(t, "ok", decodeBody(t, w)["status"])
}

func TestTenantHeaderRequired(t *testing.T) {
	f := newFixture(t)
	for _, route := range []struct{ method, path string }{
		{"GET", "/printer/status"},
		{"POST", "/printer/disconnect"},
		{"POST", "/print/test"},
		{"GET", "/jobs"},
	} {
		w := f.do(t, route.method, route.path, "", nil)
		assert.Equal(t, 400, w.Code, route.path)
	}
}

func TestInitializeAndStatus(t *testing.T) {
	f := newFixture(t)
	f.configure(t, "tenant-1")

	w := f.do(t, "GET", "/printer/status", "tenant-1", nil)
	require.Equal(t, 200, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, string(controller.StateConnected), body["state"])
	printer := body["printer"].(map[string]any)
	assert.Equal(t, "192.168.1.50:9100", printer["device_address"])
	assert.Equal(t, "Front Desk", printer["printer_name"])
}

func TestInitializeRejectsBadAddress(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, "POST", "/printer/initialize", "tenant-1", map[string]any{
		"printer_type":   store.PrinterNetwork,
		"device_address": "999.1.1.1:9100",
	})
	assert.Equal(t, 400, w.Code)

	w = f.do(t, "GET", "/printer/status", "tenant-1", nil)
	assert.Equal(t, string(controller.StateUnconfigured), decodeBody(t, w)["state"])
}

func TestStatusIsolatedPerTenant(t *testing.T) {
	f := newFixture(t)
	f.configure(t, "tenant-1")

	w := f.do(t, "GET", "/printer/status", "tenant-2", nil)
	assert.Equal(t, string(controller.StateUnconfigured), decodeBody(t, w)["state"])
}

func TestPrintReceiptAndJobLog(t *testing.T) {
	f := newFixture(t)
	f.configure(t, "tenant-1")

	w := f.do(t, "POST", "/print/receipt", "tenant-1", map[string]any{"order_id": "ORD-42"})
	require.Equal(t, 200, w.Code, w.Body.String())
	require.Len(t, f.tr.sent, 1)

	w = f.do(t, "GET", "/jobs", "tenant-1", nil)
	require.Equal(t, 200, w.Code)
	jobs := decodeBody(t, w)["jobs"].([]any)
	require.Len(t, jobs, 1)
	job := jobs[0].(map[string]any)
	assert.Equal(t, store.StatusCompleted, job["status"])
	assert.Equal(t, "ORD-42", job["order_id"])

	w = f.do(t, "GET", "/jobs/"+job["id"].(string), "tenant-1", nil)
	require.Equal(t, 200, w.Code)
	detail := decodeBody(t, w)
	assert.Contains(t, detail["receipt_text"], "ACME POS")
	assert.Contains(t, detail["receipt_text"], "TOTAL: 7.70")
}

func TestPrintWithoutConfig(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, "POST", "/print/receipt", "tenant-1", map[string]any{"order_id": "ORD-1"})
	assert.Equal(t, 409, w.Code)
}

func TestPrintFailureHidesRawError(t *testing.T) {
	f := newFixture(t)
	f.configure(t, "tenant-1")
	f.tr.sendErr = errors.New("connection reset by printer firmware")

	w := f.do(t, "POST", "/print/receipt", "tenant-1", map[string]any{"order_id": "ORD-1"})
	require.Equal(t, 502, w.Code)
	body := decodeBody(t, w)
	assert.NotContains(t, body["error"], "firmware")
	assert.Contains(t, body["error"], "saved")
}

func TestJobNotFound(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, "GET", "/jobs/no-such-job", "tenant-1", nil)
	assert.Equal(t, 404, w.Code)
}

func TestRelayPrintWritesToPrinter(t *testing.T) {
	f := newFixture(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		data, _ := io.ReadAll(conn)
		received <- data
	}()

	w := f.do(t, "POST", "/api/print", "", map[string]any{
		"address": ln.Addr().String(),
		"data":    []int{0x1B, 0x40, 'H', 'I'},
		"type":    "network",
	})
	require.Equal(t, 200, w.Code, w.Body.String())

	select {
	case data := <-received:
		assert.Equal(t, []byte{0x1B, 0x40, 'H', 'I'}, data)
	case <-time.After(2 * time.Second):
		t.Fatal("printer listener received nothing")
	}
}

func TestRelayPrintRejectsBadAddress(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, "POST", "/api/print", "", map[string]any{
		"address": "printer.local:9100",
		"data":    []int{1, 2},
	})
	assert.Equal(t, 400, w.Code)
}

func TestWebSocketJobBroadcast(t *testing.T) {
	f := newFixture(t)
	f.configure(t, "tenant-1")

	srv := httptest.NewServer(f.server.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// Registration happens on the server's read goroutine
	time.Sleep(100 * time.Millisecond)

	req, err := http.NewRequest("POST", srv.URL+"/print/test", strings.NewReader("{}"))
	require.NoError(t, err)
	req.Header.Set("X-Tenant-ID", "tenant-1")
	req.Header.Set("Content-Type", "application/json")
	httpResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	httpResp.Body.Close()
	require.Equal(t, 200, httpResp.StatusCode)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, EventJobRecorded, msg.Event)
	assert.Equal(t, store.JobTest, msg.Data["job_type"])
	assert.Equal(t, store.StatusCompleted, msg.Data["status"])
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest("OPTIONS", "/print/receipt", nil)
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	assert.Equal(t, 204, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
