package controller

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/tillworks/posprint/internal/store"
	"github.com/tillworks/posprint/internal/transport"
)

// factory is the default Transports implementation: USB through the
// hub, network through the proxy-aware HTTP transport.
type factory struct {
	hub       *transport.USBHub
	proxyBase string
	client    *http.Client
	log       zerolog.Logger
}

func (f *factory) ForConfig(cfg *store.PrinterConfig) (transport.Transport, error) {
	switch cfg.PrinterType {
	case store.PrinterUSB:
		if f.hub == nil {
			return nil, errors.New("usb transport not available")
		}
		return f.hub.Transport(cfg.DeviceAddress), nil
	case store.PrinterNetwork:
		return transport.NewNetwork(cfg.DeviceAddress, f.proxyBase, f.client, f.log), nil
	}
	return nil, fmt.Errorf("unsupported printer type %q", cfg.PrinterType)
}
