// Package transport moves encoded receipt bytes to a physical printer.
// Two backends exist: direct USB device I/O through operator-granted
// device handles, and network delivery through a print proxy with a
// best-effort direct fallback.
package transport

import (
	"context"
	"errors"
)

// Transport is the capability the controller depends on. Probe checks
// reachability without printing, Send delivers one encoded payload, and
// Release frees any resources held between sends.
type Transport interface {
	Probe(ctx context.Context) error
	Send(ctx context.Context, payload []byte) error
	Release() error
}

// Sentinel errors. Callers match with errors.Is; the controller
// translates them into user-facing messages.
var (
	// ErrNoDeviceSelected: the operator dismissed the device picker.
	ErrNoDeviceSelected = errors.New("no device selected")

	// ErrPermissionDenied: the operator refused access to the device.
	ErrPermissionDenied = errors.New("device permission denied")

	// ErrDeviceNotGranted: the configured address is not in the granted
	// device list, or the device is unplugged.
	ErrDeviceNotGranted = errors.New("device not granted or not present")

	// ErrNoOutputEndpoint: the claimed interface has no OUT endpoint.
	ErrNoOutputEndpoint = errors.New("no output endpoint on device")

	// ErrInvalidDeviceAddress: a USB address that does not decode to a
	// vendor ID.
	ErrInvalidDeviceAddress = errors.New("invalid usb device address")

	// ErrInvalidAddressFormat: a network address that is not IPv4:port.
	ErrInvalidAddressFormat = errors.New("invalid network address format")

	// ErrUnverifiableDelivery: the no-proxy fallback cannot read the
	// response, so delivery is reported as failed even when the bytes
	// may have reached the printer.
	ErrUnverifiableDelivery = errors.New("network delivery could not be verified")
)

// DeviceDescriptor identifies a USB device for configuration matching.
// DeviceAddress is the stable identifier: "USB" plus the decimal vendor
// ID.
type DeviceDescriptor struct {
	VendorID      uint16 `json:"vendor_id"`
	ProductID     uint16 `json:"product_id"`
	Manufacturer  string `json:"manufacturer,omitempty"`
	Product       string `json:"product,omitempty"`
	SerialNumber  string `json:"serial_number,omitempty"`
	DeviceAddress string `json:"device_address"`
}

// Filter narrows candidate devices for a permission request. Zero values
// match everything.
type Filter struct {
	VendorID uint16
}

// PromptDecision is the outcome of a device permission request
type PromptDecision int

const (
	PromptGranted PromptDecision = iota
	PromptDenied
	PromptDismissed
)

// Prompt is the host-side permission dialog. The implementation decides
// how the operator is asked; the transport only consumes the decision.
// The source of a request defines no timeout, so cancellation is the
// caller's ctx.
type Prompt interface {
	RequestAccess(ctx context.Context, candidates []DeviceDescriptor) (DeviceDescriptor, PromptDecision)
}

// DeviceAuthority is the subset of USB hub behavior the controller needs
// for status derivation and device negotiation.
type DeviceAuthority interface {
	ListGranted() ([]DeviceDescriptor, error)
	Request(ctx context.Context, filter Filter) (DeviceDescriptor, error)
}

// AutoApprovePrompt grants the first candidate without asking. Daemon
// deployments use it: submitting a configuration with a device address
// is itself the operator's consent.
type AutoApprovePrompt struct{}

func (AutoApprovePrompt) RequestAccess(ctx context.Context, candidates []DeviceDescriptor) (DeviceDescriptor, PromptDecision) {
	if len(candidates) == 0 {
		return DeviceDescriptor{}, PromptDismissed
	}
	return candidates[0], PromptGranted
}
