// Package orders fetches order and return data from the commerce
// backend on behalf of the print pipeline.
package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tillworks/posprint/internal/receipt"
)

const requestTimeout = 10 * time.Second

// ErrNotConfigured: no orders backend URL was provided
var ErrNotConfigured = errors.New("orders service not configured")

// Client is an HTTP client for the orders backend
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a client. baseURL may be empty; lookups then fail
// with ErrNotConfigured so test prints still work without a backend.
func NewClient(baseURL string, client *http.Client, log zerolog.Logger) *Client {
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}
	return &Client{baseURL: baseURL, client: client, log: log}
}

type wireItem struct {
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type wireOrder struct {
	OrderNumber    string          `json:"order_number"`
	Date           time.Time       `json:"date"`
	Type           string          `json:"type"`
	Items          []wireItem      `json:"items"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	Tax            decimal.Decimal `json:"tax"`
	Total          decimal.Decimal `json:"total"`
}

// Order fetches a completed order
func (c *Client) Order(ctx context.Context, userID, orderID string) (receipt.Order, error) {
	return c.fetch(ctx, userID, "/orders/"+orderID)
}

// Return fetches a processed return
func (c *Client) Return(ctx context.Context, userID, returnID string) (receipt.Order, error) {
	return c.fetch(ctx, userID, "/returns/"+returnID)
}

func (c *Client) fetch(ctx context.Context, userID, path string) (receipt.Order, error) {
	if c.baseURL == "" {
		return receipt.Order{}, ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return receipt.Order{}, err
	}
	req.Header.Set("X-Tenant-ID", userID)

	resp, err := c.client.Do(req)
	if err != nil {
		return receipt.Order{}, fmt.Errorf("orders request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return receipt.Order{}, fmt.Errorf("order not found")
	}
	if resp.StatusCode != http.StatusOK {
		c.log.Warn().Int("status", resp.StatusCode).Str("path", path).Msg("orders backend returned error")
		return receipt.Order{}, fmt.Errorf("orders request failed: HTTP %d", resp.StatusCode)
	}

	var wire wireOrder
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return receipt.Order{}, fmt.Errorf("failed to decode order: %w", err)
	}

	order := receipt.Order{
		OrderNumber:    wire.OrderNumber,
		Date:           wire.Date,
		Type:           receipt.OrderType(wire.Type),
		Subtotal:       wire.Subtotal,
		DiscountAmount: wire.DiscountAmount,
		Tax:            wire.Tax,
		Total:          wire.Total,
	}
	for _, it := range wire.Items {
		order.Items = append(order.Items, receipt.Item{
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			LineTotal: it.LineTotal,
		})
	}
	return order, nil
}
