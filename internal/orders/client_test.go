package orders

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderFetch(t *testing.T) {
	var gotPath, gotTenant string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotTenant = r.Header.Get("X-Tenant-ID")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"order_number": "ORD-7",
			"date": "2024-06-01T10:00:00Z",
			"items": [{"name": "Coffee", "quantity": 2, "unit_price": "3.50", "line_total": "7.00"}],
			"subtotal": "7.00",
			"tax": "0.70",
			"total": "7.70"
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, zerolog.Nop())
	order, err := c.Order(context.Background(), "tenant-1", "ORD-7")
	require.NoError(t, err)

	assert.Equal(t, "/orders/ORD-7", gotPath)
	assert.Equal(t, "tenant-1", gotTenant)
	assert.Equal(t, "ORD-7", order.OrderNumber)
	require.Len(t, order.Items, 1)
	assert.Equal(t, "3.50", order.Items[0].UnitPrice.StringFixed(2))
	assert.Equal(t, "7.70", order.Total.StringFixed(2))
}

func TestReturnFetchUsesReturnsPath(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"order_number": "RET-1", "total": "5.00"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, zerolog.Nop())
	_, err := c.Return(context.Background(), "tenant-1", "RET-1")
	require.NoError(t, err)
	assert.Equal(t, "/returns/RET-1", gotPath)
}

func TestOrderNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, zerolog.Nop())
	_, err := c.Order(context.Background(), "tenant-1", "missing")
	assert.ErrorContains(t, err, "not found")
}

func TestUnconfiguredBackend(t *testing.T) {
	c := NewClient("", nil, zerolog.Nop())
	_, err := c.Order(context.Background(), "tenant-1", "ORD-1")
	assert.True(t, errors.Is(err, ErrNotConfigured))
}
