// Package ftdi drives FTDI high-speed USB bridges in MPSSE mode as JTAG
// cables. Transport handles the raw USB plumbing; Device layers the MPSSE
// command set on top and satisfies the adapter engine surface.
package ftdi

import (
	"fmt"
	"time"

	"github.com/google/gousb"
)

// Well-known FTDI USB identifiers.
const (
	VendorIDFTDI     = 0x0403
	ProductIDFT2232H = 0x6010
	ProductIDFT4232H = 0x6011
	ProductIDFT232H  = 0x6014
)

// FTDI vendor control requests.
const (
	reqReset           = 0x00
	reqSetLatencyTimer = 0x09
	reqSetBitMode      = 0x0B

	resetSIO     = 0
	resetPurgeRX = 1
	resetPurgeTX = 2

	// BitModeReset returns the channel to its default FIFO behavior;
	// BitModeMPSSE enables the synchronous serial engine.
	BitModeReset = 0x00
	BitModeMPSSE = 0x02
)

const defaultTimeout = 5 * time.Second

// Channel selects which MPSSE-capable channel of a multi-channel part to
// drive. Channel A maps to USB interface 0.
type Channel int

const (
	ChannelA Channel = iota
	ChannelB
)

// ParseChannel converts a configuration string ("A" or "B") to a Channel.
func ParseChannel(s string) (Channel, error) {
	switch s {
	case "", "A", "a":
		return ChannelA, nil
	case "B", "b":
		return ChannelB, nil
	}
	return 0, fmt.Errorf("ftdi: unknown channel %q", s)
}

// Transport is the USB plumbing under an MPSSE device: one claimed interface
// with its bulk endpoint pair, plus the FTDI vendor control requests.
type Transport struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	intf *gousb.Interface

	epOut *gousb.OutEndpoint
	epIn  *gousb.InEndpoint

	maxPacket int
	index     uint16 // control request wIndex: channel number + 1
}

// OpenTransport opens the FTDI device with the given VID/PID and claims the
// interface for the requested channel.
func OpenTransport(vid, pid uint16, ch Channel) (*Transport, error) {
	ctx := gousb.NewContext()

	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("ftdi: USB error: %w", err)
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("ftdi: device not found (VID:0x%04X PID:0x%04X)", vid, pid)
	}

	// Detach ftdi_sio or similar before claiming; not fatal where
	// unsupported.
	dev.SetAutoDetach(true)
	dev.ControlTimeout = defaultTimeout

	t := &Transport{
		ctx:   ctx,
		dev:   dev,
		index: uint16(ch) + 1,
	}

	if err := t.claimInterface(int(ch)); err != nil {
		dev.Close()
		ctx.Close()
		return nil, err
	}

	return t, nil
}

// claimInterface claims the channel's interface and opens its bulk endpoint
// pair.
func (t *Transport) claimInterface(num int) error {
	cfg, err := t.dev.Config(1)
	if err != nil {
		return fmt.Errorf("ftdi: failed to get config: %w", err)
	}

	intf, err := cfg.Interface(num, 0)
	if err != nil {
		return fmt.Errorf("ftdi: failed to claim interface %d: %w", num, err)
	}
	t.intf = intf

	for _, ep := range intf.Setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		switch ep.Direction {
		case gousb.EndpointDirectionOut:
			if t.epOut == nil {
				out, err := intf.OutEndpoint(ep.Number)
				if err != nil {
					intf.Close()
					return fmt.Errorf("ftdi: failed to open OUT endpoint: %w", err)
				}
				t.epOut = out
			}
		case gousb.EndpointDirectionIn:
			if t.epIn == nil {
				in, err := intf.InEndpoint(ep.Number)
				if err != nil {
					intf.Close()
					return fmt.Errorf("ftdi: failed to open IN endpoint: %w", err)
				}
				t.epIn = in
				t.maxPacket = ep.MaxPacketSize
			}
		}
	}

	if t.epOut == nil || t.epIn == nil {
		t.intf.Close()
		return fmt.Errorf("ftdi: bulk endpoint pair not found")
	}
	if t.maxPacket <= 2 {
		t.maxPacket = 64
	}
	return nil
}

// control issues an FTDI vendor request against the claimed channel.
func (t *Transport) control(request uint8, value uint16) error {
	_, err := t.dev.Control(
		gousb.ControlOut|gousb.ControlVendor|gousb.ControlDevice,
		request, value, t.index, nil)
	if err != nil {
		return fmt.Errorf("ftdi: control request 0x%02X failed: %w", request, err)
	}
	return nil
}

// Reset resets the channel and purges both FIFOs.
func (t *Transport) Reset() error {
	for _, v := range []uint16{resetSIO, resetPurgeRX, resetPurgeTX} {
		if err := t.control(reqReset, v); err != nil {
			return err
		}
	}
	return nil
}

// SetBitMode switches the channel's bit mode. dirMask marks which of the low
// eight pins are outputs.
func (t *Transport) SetBitMode(mode byte, dirMask byte) error {
	return t.control(reqSetBitMode, uint16(mode)<<8|uint16(dirMask))
}

// SetLatencyTimer sets the FIFO flush latency in milliseconds. Shift results
// wait in the chip's FIFO until it fills or the timer expires, so a small
// value keeps short commands responsive.
func (t *Transport) SetLatencyTimer(ms byte) error {
	return t.control(reqSetLatencyTimer, uint16(ms))
}

// Write sends raw MPSSE command bytes to the device.
func (t *Transport) Write(data []byte) (int, error) {
	n, err := t.epOut.Write(data)
	if err != nil {
		return n, fmt.Errorf("ftdi: USB write failed: %w", err)
	}
	return n, nil
}

// ReadExact reads exactly n payload bytes. FTDI devices prepend two modem
// status bytes to every IN packet; these are stripped here.
func (t *Transport) ReadExact(n int) ([]byte, error) {
	out := make([]byte, 0, n)
	buf := make([]byte, t.maxPacket)
	for len(out) < n {
		got, err := t.epIn.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("ftdi: USB read failed: %w", err)
		}
		if got <= 2 {
			continue
		}
		out = append(out, buf[2:got]...)
	}
	if len(out) > n {
		return nil, fmt.Errorf("ftdi: read %d payload bytes, want %d", len(out), n)
	}
	return out, nil
}

// Close releases the interface and the USB handles.
func (t *Transport) Close() error {
	if t.intf != nil {
		t.intf.Close()
		t.intf = nil
	}
	if t.dev != nil {
		t.dev.Close()
		t.dev = nil
	}
	if t.ctx != nil {
		t.ctx.Close()
		t.ctx = nil
	}
	return nil
}

// ProbeInfo describes a discovered FTDI device.
type ProbeInfo struct {
	VID          uint16
	PID          uint16
	SerialNumber string
	Description  string
}

var knownProducts = []struct {
	pid  uint16
	name string
}{
	{ProductIDFT2232H, "FT2232H"},
	{ProductIDFT4232H, "FT4232H"},
	{ProductIDFT232H, "FT232H"},
}

// Enumerate lists connected FTDI devices with MPSSE-capable product IDs.
func Enumerate() ([]ProbeInfo, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	probes := make([]ProbeInfo, 0)
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if uint16(desc.Vendor) != VendorIDFTDI {
			return false
		}
		for _, p := range knownProducts {
			if uint16(desc.Product) == p.pid {
				return true
			}
		}
		return false
	})
	if err != nil && err != gousb.ErrorAccess {
		return nil, fmt.Errorf("ftdi: failed to enumerate devices: %w", err)
	}

	for _, dev := range devs {
		serial, _ := dev.SerialNumber()
		manufacturer, _ := dev.Manufacturer()
		product, _ := dev.Product()
		probes = append(probes, ProbeInfo{
			VID:          uint16(dev.Desc.Vendor),
			PID:          uint16(dev.Desc.Product),
			SerialNumber: serial,
			Description:  fmt.Sprintf("%s %s", manufacturer, product),
		})
		dev.Close()
	}

	return probes, nil
}
