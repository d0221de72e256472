package transport

import (
	"fmt"
	"io"
	"runtime"
	"sort"

	"github.com/google/gousb"
)

// GousbHost is the production USB backend over libusb
type GousbHost struct{}

// Enumerate lists attached devices. Handles are opened only long enough
// to read the string descriptors.
func (GousbHost) Enumerate() ([]DeviceDescriptor, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	devices, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return true
	})
	if err != nil {
		for _, dev := range devices {
			dev.Close()
		}
		return nil, fmt.Errorf("failed to enumerate usb devices: %w", err)
	}

	var out []DeviceDescriptor
	for _, dev := range devices {
		desc := dev.Desc
		manufacturer, _ := dev.Manufacturer()
		product, _ := dev.Product()
		serial, _ := dev.SerialNumber()

		out = append(out, DeviceDescriptor{
			VendorID:      uint16(desc.Vendor),
			ProductID:     uint16(desc.Product),
			Manufacturer:  manufacturer,
			Product:       product,
			SerialNumber:  serial,
			DeviceAddress: AddressForVendor(uint16(desc.Vendor)),
		})
		dev.Close()
	}

	return out, nil
}

// Open acquires the first attached device with the given vendor ID
func (GousbHost) Open(vid uint16) (Device, error) {
	ctx := gousb.NewContext()

	devices, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return uint16(desc.Vendor) == vid
	})
	if err != nil {
		for _, dev := range devices {
			dev.Close()
		}
		ctx.Close()
		return nil, fmt.Errorf("failed to open usb device: %w", err)
	}
	if len(devices) == 0 {
		ctx.Close()
		return nil, fmt.Errorf("no attached device with vendor id %d", vid)
	}

	dev := devices[0]
	for _, extra := range devices[1:] {
		extra.Close()
	}

	if runtime.GOOS == "linux" {
		dev.SetAutoDetach(true)
	}

	return &gousbDevice{ctx: ctx, dev: dev}, nil
}

type gousbDevice struct {
	ctx *gousb.Context
	dev *gousb.Device
	cfg *gousb.Config
}

// EnsureConfig selects the active configuration, falling back to the
// lowest-numbered one when the device reports none.
func (d *gousbDevice) EnsureConfig() error {
	num, err := d.dev.ActiveConfigNum()
	if err != nil || num == 0 {
		nums := make([]int, 0, len(d.dev.Desc.Configs))
		for n := range d.dev.Desc.Configs {
			nums = append(nums, n)
		}
		if len(nums) == 0 {
			return fmt.Errorf("device reports no configurations")
		}
		sort.Ints(nums)
		num = nums[0]
	}

	cfg, err := d.dev.Config(num)
	if err != nil {
		return fmt.Errorf("failed to set config %d: %w", num, err)
	}
	d.cfg = cfg
	return nil
}

func (d *gousbDevice) Claim(iface int) (Claimed, error) {
	if d.cfg == nil {
		if err := d.EnsureConfig(); err != nil {
			return nil, err
		}
	}

	claimed, err := d.cfg.Interface(iface, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to claim interface %d: %w", iface, err)
	}
	return &gousbClaimed{iface: claimed}, nil
}

func (d *gousbDevice) Close() error {
	if d.cfg != nil {
		d.cfg.Close()
		d.cfg = nil
	}
	if d.dev != nil {
		d.dev.Close()
		d.dev = nil
	}
	if d.ctx != nil {
		d.ctx.Close()
		d.ctx = nil
	}
	return nil
}

type gousbClaimed struct {
	iface *gousb.Interface
}

// Out returns the first OUT endpoint on the claimed interface
func (c *gousbClaimed) Out() (io.Writer, error) {
	for _, epDesc := range c.iface.Setting.Endpoints {
		if epDesc.Direction == gousb.EndpointDirectionOut {
			ep, err := c.iface.OutEndpoint(epDesc.Number)
			if err != nil {
				continue
			}
			return ep, nil
		}
	}
	return nil, ErrNoOutputEndpoint
}

func (c *gousbClaimed) Release() {
	c.iface.Close()
}
