package transport

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tillworks/posprint/internal/grants"
)

// Host abstracts the USB stack so transfer lifecycles are testable
// without hardware. The production implementation wraps libusb.
type Host interface {
	// Enumerate lists currently attached devices without opening them.
	Enumerate() ([]DeviceDescriptor, error)
	// Open acquires an exclusive handle on the first device with the
	// given vendor ID.
	Open(vid uint16) (Device, error)
}

// Device is an open device handle
type Device interface {
	// EnsureConfig selects the active configuration if none is set.
	EnsureConfig() error
	// Claim claims the numbered interface.
	Claim(iface int) (Claimed, error)
	Close() error
}

// Claimed is a claimed interface on an open device
type Claimed interface {
	// Out returns a writer over the first OUT endpoint.
	Out() (io.Writer, error)
	Release()
}

// AddressForVendor builds the stable device address for a vendor ID
func AddressForVendor(vid uint16) string {
	return fmt.Sprintf("USB%d", vid)
}

// VendorFromAddress decodes a "USB<decimal>" device address
func VendorFromAddress(addr string) (uint16, error) {
	rest, ok := strings.CutPrefix(addr, "USB")
	if !ok || rest == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDeviceAddress, addr)
	}
	vid, err := strconv.ParseUint(rest, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDeviceAddress, addr)
	}
	return uint16(vid), nil
}

// USBHub owns the grant registry and the host backend. It answers
// granted-device queries, runs permission requests, and hands out
// per-address transports.
type USBHub struct {
	host   Host
	grants *grants.Registry
	prompt Prompt
	log    zerolog.Logger
}

// NewUSBHub creates a hub. prompt may be nil when no interactive grant
// flow is available (headless deployments).
func NewUSBHub(host Host, reg *grants.Registry, prompt Prompt, log zerolog.Logger) *USBHub {
	return &USBHub{host: host, grants: reg, prompt: prompt, log: log}
}

// ListGranted returns previously authorized devices that are currently
// attached. It never prompts.
func (h *USBHub) ListGranted() ([]DeviceDescriptor, error) {
	attached, err := h.host.Enumerate()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate usb devices: %w", err)
	}

	grantedVendors := make(map[uint16]bool)
	for _, g := range h.grants.List() {
		grantedVendors[g.VendorID] = true
	}

	var out []DeviceDescriptor
	for _, d := range attached {
		if grantedVendors[d.VendorID] {
			out = append(out, d)
		}
	}
	return out, nil
}

// Request runs the host permission flow for a device matching the
// filter. On a grant the device is recorded in the registry; a denied or
// dismissed prompt maps to the corresponding sentinel.
func (h *USBHub) Request(ctx context.Context, filter Filter) (DeviceDescriptor, error) {
	if h.prompt == nil {
		return DeviceDescriptor{}, ErrPermissionDenied
	}

	attached, err := h.host.Enumerate()
	if err != nil {
		return DeviceDescriptor{}, fmt.Errorf("failed to enumerate usb devices: %w", err)
	}

	var candidates []DeviceDescriptor
	for _, d := range attached {
		if filter.VendorID == 0 || d.VendorID == filter.VendorID {
			candidates = append(candidates, d)
		}
	}
	if len(candidates) == 0 {
		return DeviceDescriptor{}, ErrNoDeviceSelected
	}

	chosen, decision := h.prompt.RequestAccess(ctx, candidates)
	switch decision {
	case PromptGranted:
	case PromptDismissed:
		return DeviceDescriptor{}, ErrNoDeviceSelected
	default:
		return DeviceDescriptor{}, ErrPermissionDenied
	}

	h.grants.Add(grants.Grant{
		VendorID:      chosen.VendorID,
		ProductID:     chosen.ProductID,
		Manufacturer:  chosen.Manufacturer,
		Product:       chosen.Product,
		SerialNumber:  chosen.SerialNumber,
		DeviceAddress: chosen.DeviceAddress,
	})
	h.log.Info().Str("device", chosen.DeviceAddress).Msg("usb device granted")

	return chosen, nil
}

// Transport binds the hub to a configured device address
func (h *USBHub) Transport(address string) *USB {
	return &USB{hub: h, address: address}
}

// USB delivers payloads to one configured USB device. Each Send owns the
// device handle exclusively for its full open-to-close lifecycle; the
// lifecycle is not reentrant, so callers serialize sends per device.
type USB struct {
	hub     *USBHub
	address string
}

// Probe checks the device by running an open/close cycle
func (u *USB) Probe(ctx context.Context) error {
	vid, err := VendorFromAddress(u.address)
	if err != nil {
		return err
	}

	dev, err := u.hub.host.Open(vid)
	if err != nil {
		return fmt.Errorf("usb probe failed: %w", err)
	}
	return dev.Close()
}

// Send performs open, configuration select, claim interface 0, locate
// the first OUT endpoint, bulk transfer, release, close. Release and
// close run on every exit path after a successful open.
func (u *USB) Send(ctx context.Context, payload []byte) error {
	vid, err := VendorFromAddress(u.address)
	if err != nil {
		return err
	}

	granted, err := u.hub.ListGranted()
	if err != nil {
		return err
	}
	found := false
	for _, d := range granted {
		if d.VendorID == vid {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrDeviceNotGranted, u.address)
	}

	dev, err := u.hub.host.Open(vid)
	if err != nil {
		return fmt.Errorf("failed to open usb device %s: %w", u.address, err)
	}
	defer dev.Close()

	if err := dev.EnsureConfig(); err != nil {
		return fmt.Errorf("failed to select configuration: %w", err)
	}

	claimed, err := dev.Claim(0)
	if err != nil {
		return fmt.Errorf("failed to claim interface 0: %w", err)
	}
	defer claimed.Release()

	out, err := claimed.Out()
	if err != nil {
		return err
	}

	if _, err := out.Write(payload); err != nil {
		return fmt.Errorf("usb transfer failed: %w", err)
	}

	u.hub.log.Debug().Str("device", u.address).Int("bytes", len(payload)).Msg("usb transfer complete")
	return nil
}

// Release is a no-op: the handle lifecycle is scoped to each Send
func (u *USB) Release() error {
	return nil
}
