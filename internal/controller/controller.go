// Package controller owns printer configuration state, connection
// status derivation, transport dispatch, and the print job audit log.
package controller

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"github.com/tillworks/posprint/internal/escpos"
	"github.com/tillworks/posprint/internal/receipt"
	"github.com/tillworks/posprint/internal/store"
	"github.com/tillworks/posprint/internal/transport"
)

const probeTimeout = 3 * time.Second

// State is the derived connection state of a tenant's printer setup
type State string

const (
	StateUnconfigured          State = "UNCONFIGURED"
	StateConfiguredNotDetected State = "CONFIGURED_NOT_DETECTED"
	StateConnected             State = "CONNECTED"
)

// OrderSource supplies order and return data. The orders subsystem
// implements it; tests stub it.
type OrderSource interface {
	Order(ctx context.Context, userID, orderID string) (receipt.Order, error)
	Return(ctx context.Context, userID, returnID string) (receipt.Order, error)
}

// Accounts supplies the tenant's business display name
type Accounts interface {
	BusinessName(ctx context.Context, userID string) (string, error)
}

// Transports resolves a persisted configuration to a transport
type Transports interface {
	ForConfig(cfg *store.PrinterConfig) (transport.Transport, error)
}

// Storage is the persistence surface the controller needs. *store.Store
// implements it.
type Storage interface {
	ActivateConfig(ctx context.Context, cfg *store.PrinterConfig) error
	ActiveConfig(ctx context.Context, userID string) (*store.PrinterConfig, error)
	DeactivateConfig(ctx context.Context, userID string) error
	AppendJob(ctx context.Context, job *store.PrintJob) error
	Jobs(ctx context.Context, userID string, limit int) ([]store.PrintJob, error)
	Job(ctx context.Context, userID, jobID string) (*store.PrintJob, error)
}

// Deps wires a controller. Devices and Transports default to the hub
// when left nil.
type Deps struct {
	Store      Storage
	Hub        *transport.USBHub
	Devices    transport.DeviceAuthority
	Orders     OrderSource
	Accounts   Accounts
	Transports Transports
	ProxyBase  string
	Client     *http.Client
	Logger     zerolog.Logger
}

// Controller coordinates the receipt pipeline for all tenants
type Controller struct {
	store      Storage
	devices    transport.DeviceAuthority
	orders     OrderSource
	accounts   Accounts
	transports Transports
	log        zerolog.Logger

	onJob func(store.PrintJob)

	// One print in flight at a time: the USB open-to-close lifecycle is
	// not reentrant, so sends against a device must not interleave.
	mu sync.Mutex
}

// New creates a controller
func New(deps Deps) *Controller {
	devices := deps.Devices
	if devices == nil && deps.Hub != nil {
		devices = deps.Hub
	}
	transports := deps.Transports
	if transports == nil {
		transports = &factory{
			hub:       deps.Hub,
			proxyBase: deps.ProxyBase,
			client:    deps.Client,
			log:       deps.Logger,
		}
	}

	return &Controller{
		store:      deps.Store,
		devices:    devices,
		orders:     deps.Orders,
		accounts:   deps.Accounts,
		transports: transports,
		log:        deps.Logger,
	}
}

// OnJob registers a callback invoked after every job record attempt,
// successful or not. Used for event push.
func (c *Controller) OnJob(cb func(store.PrintJob)) {
	c.onJob = cb
}

// InitRequest is the configuration submitted by the tenant
type InitRequest struct {
	PrinterType   string
	DeviceAddress string
	PrinterName   string
	Options       map[string]any
}

// InitResult reports the saved configuration's probe outcome. Warning
// carries a user-facing note when the printer was saved but could not
// be detected or authorized.
type InitResult struct {
	State     State
	Connected bool
	Warning   string
}

// Initialize validates and persists a configuration as the tenant's sole
// active one. The connectivity probe informs the result but never blocks
// the save: a flaky detection must not lock the user out of configuring.
// Invalid addresses are rejected up front and nothing is persisted.
func (c *Controller) Initialize(ctx context.Context, userID string, req InitRequest) (InitResult, error) {
	var warning string

	switch req.PrinterType {
	case store.PrinterUSB:
		vid, err := transport.VendorFromAddress(req.DeviceAddress)
		if err != nil {
			return InitResult{}, err
		}
		if !c.vendorGranted(vid) {
			if _, reqErr := c.devices.Request(ctx, transport.Filter{VendorID: vid}); reqErr != nil {
				warning = permissionMessage(reqErr)
			}
		}
	case store.PrinterNetwork:
		if err := transport.ValidateNetworkAddress(req.DeviceAddress); err != nil {
			return InitResult{}, err
		}
	default:
		return InitResult{}, fmt.Errorf("unsupported printer type %q", req.PrinterType)
	}

	cfg := &store.PrinterConfig{
		UserID:        userID,
		PrinterType:   req.PrinterType,
		DeviceAddress: req.DeviceAddress,
		PrinterName:   req.PrinterName,
		ConfigOptions: datatypes.JSONMap(req.Options),
	}

	connected := false
	if warning == "" {
		if tr, err := c.transports.ForConfig(cfg); err == nil {
			probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			if probeErr := tr.Probe(probeCtx); probeErr != nil {
				c.log.Info().Err(probeErr).Str("address", req.DeviceAddress).Msg("connectivity probe failed; saving anyway")
				warning = "Printer configuration saved, but the printer was not detected."
			} else {
				connected = true
			}
			cancel()
			tr.Release()
		}
	}

	if err := c.store.ActivateConfig(ctx, cfg); err != nil {
		return InitResult{}, fmt.Errorf("failed to save printer configuration: %w", err)
	}

	state := StateConfiguredNotDetected
	if connected {
		state = StateConnected
	}
	return InitResult{State: state, Connected: connected, Warning: warning}, nil
}

// Status derives the tenant's connection state. USB is connected only if
// the configured address appears in the currently granted device list;
// network is assumed connected whenever a configuration exists.
func (c *Controller) Status(ctx context.Context, userID string) (Status, error) {
	cfg, err := c.store.ActiveConfig(ctx, userID)
	if err != nil {
		return Status{}, err
	}
	if cfg == nil {
		return Status{State: StateUnconfigured}, nil
	}

	connected := false
	switch cfg.PrinterType {
	case store.PrinterUSB:
		if granted, err := c.devices.ListGranted(); err == nil {
			for _, d := range granted {
				if d.DeviceAddress == cfg.DeviceAddress {
					connected = true
					break
				}
			}
		}
	case store.PrinterNetwork:
		connected = true
	}

	state := StateConfiguredNotDetected
	if connected {
		state = StateConnected
	}
	return Status{State: state, Connected: connected, Config: cfg}, nil
}

// Status is the controller's derived view of the active configuration
type Status struct {
	State     State
	Connected bool
	Config    *store.PrinterConfig
}

// Disconnect marks the active configuration inactive. Idempotent.
func (c *Controller) Disconnect(ctx context.Context, userID string) error {
	return c.store.DeactivateConfig(ctx, userID)
}

// PrintReceipt prints the receipt for a completed order
func (c *Controller) PrintReceipt(ctx context.Context, userID, orderID string) error {
	order, err := c.orders.Order(ctx, userID, orderID)
	if err != nil {
		return fmt.Errorf("failed to load order %s: %w", orderID, err)
	}
	if order.Type == "" {
		order.Type = receipt.Sale
	}
	return c.print(ctx, userID, store.JobReceipt, orderID, order, "")
}

// PrintReturnReceipt prints the receipt for a processed return
func (c *Controller) PrintReturnReceipt(ctx context.Context, userID, returnID string) error {
	order, err := c.orders.Return(ctx, userID, returnID)
	if err != nil {
		return fmt.Errorf("failed to load return %s: %w", returnID, err)
	}
	if order.Type == "" {
		order.Type = receipt.Return
	}
	return c.print(ctx, userID, store.JobReturnReceipt, returnID, order, "")
}

// PrintTestPage prints a synthetic receipt with a QR footer so the
// operator can verify paper alignment and device wiring.
func (c *Controller) PrintTestPage(ctx context.Context, userID string) error {
	now := time.Now().UTC()
	order := receipt.Order{
		OrderNumber: "TEST-" + now.Format("20060102150405"),
		Date:        now,
		Type:        receipt.Test,
	}
	return c.print(ctx, userID, store.JobTest, "", order, "posprint:test:"+order.OrderNumber)
}

func (c *Controller) print(ctx context.Context, userID, jobType, refID string, order receipt.Order, qrText string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cfg, err := c.store.ActiveConfig(ctx, userID)
	if err != nil {
		return err
	}
	if cfg == nil {
		return ErrNotConfigured
	}

	name, err := c.accounts.BusinessName(ctx, userID)
	if err != nil {
		c.log.Warn().Err(err).Str("user", userID).Msg("failed to load business name")
	}

	doc := receipt.Format(order, name)

	var payload []byte
	if qrText != "" {
		payload, err = escpos.EncodeWithQR(doc, qrText, 96)
		if err != nil {
			payload = escpos.Encode(doc)
		}
	} else {
		payload = escpos.Encode(doc)
	}

	var sendErr error
	tr, err := c.transports.ForConfig(cfg)
	if err != nil {
		sendErr = err
	} else {
		sendErr = tr.Send(ctx, payload)
		if relErr := tr.Release(); relErr != nil {
			c.log.Warn().Err(relErr).Msg("transport release failed")
		}
	}

	now := time.Now().UTC()
	job := &store.PrintJob{
		UserID:          userID,
		JobType:         jobType,
		OrderID:         refID,
		PrinterConfigID: cfg.ID,
		ReceiptText:     doc.PlainText(),
		AttemptedAt:     now,
	}
	if sendErr != nil {
		job.Status = store.StatusFailed
		job.ErrorMessage = userMessage(cfg.PrinterType, sendErr)
	} else {
		job.Status = store.StatusCompleted
		job.PrintedAt = &now
	}

	// The audit record is written on success and failure alike; a
	// failure to write it must never replace the printing outcome.
	if logErr := c.store.AppendJob(ctx, job); logErr != nil {
		c.log.Warn().Err(logErr).Str("user", userID).Msg("failed to record print job")
	}

	if c.onJob != nil {
		c.onJob(*job)
	}

	if sendErr != nil {
		c.log.Error().Err(sendErr).Str("user", userID).Str("job_type", jobType).Msg("print failed")
		return &PrintError{Message: job.ErrorMessage, cause: sendErr}
	}
	return nil
}

// Jobs exposes the tenant's audit trail
func (c *Controller) Jobs(ctx context.Context, userID string, limit int) ([]store.PrintJob, error) {
	return c.store.Jobs(ctx, userID, limit)
}

// Job returns one audit record
func (c *Controller) Job(ctx context.Context, userID, jobID string) (*store.PrintJob, error) {
	return c.store.Job(ctx, userID, jobID)
}

func (c *Controller) vendorGranted(vid uint16) bool {
	granted, err := c.devices.ListGranted()
	if err != nil {
		return false
	}
	for _, d := range granted {
		if d.VendorID == vid {
			return true
		}
	}
	return false
}
