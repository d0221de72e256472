package controller

import (
	"errors"

	"github.com/tillworks/posprint/internal/store"
	"github.com/tillworks/posprint/internal/transport"
)

// ErrNotConfigured: a print was requested with no active configuration
var ErrNotConfigured = errors.New("no active printer configuration")

// PrintError carries the user-facing message for a failed print. The
// underlying transport error stays reachable through Unwrap for
// errors.Is matching, but Error() never leaks raw device detail.
type PrintError struct {
	Message string
	cause   error
}

func (e *PrintError) Error() string { return e.Message }

func (e *PrintError) Unwrap() error { return e.cause }

// userMessage translates a transport error into a message fit for the
// cashier, distinguishing USB from network causes.
func userMessage(printerType string, err error) string {
	switch {
	case errors.Is(err, transport.ErrUnverifiableDelivery):
		return "Could not confirm delivery to the network printer. The receipt was saved and can be printed manually later."
	case errors.Is(err, transport.ErrNoOutputEndpoint):
		return "The USB printer does not expose a writable endpoint. Check the printer and try again."
	case errors.Is(err, transport.ErrDeviceNotGranted):
		return "The configured USB printer is not connected or not authorized."
	case errors.Is(err, transport.ErrInvalidDeviceAddress),
		errors.Is(err, transport.ErrInvalidAddressFormat):
		return "The saved printer address is invalid. Reconfigure the printer."
	}
	if printerType == store.PrinterUSB {
		return "Printing over USB failed. The receipt was saved; check the printer and retry."
	}
	return "Printing over the network failed. The receipt was saved; check the printer and retry."
}

// permissionMessage explains a failed device grant while making clear
// the configuration itself was kept.
func permissionMessage(err error) string {
	if errors.Is(err, transport.ErrNoDeviceSelected) {
		return "No USB device was selected. The configuration was saved; authorize the printer to start printing."
	}
	return "USB access was denied. The configuration was saved; authorize the printer to start printing."
}
