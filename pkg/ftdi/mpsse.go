package ftdi

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/sgoadhouse/xvcd-server/pkg/bitvec"
)

// MPSSE opcodes (FTDI application note AN-108). All shifts here are
// LSB-first with TDI driven on the falling TCK edge and TDO sampled on the
// rising edge, the standard JTAG arrangement.
const (
	opShiftBytes    = 0x39 // clock data bytes out and in
	opShiftBits     = 0x3B // clock data bits out and in
	opShiftTMSBits  = 0x6B // clock TMS bits with read; TDI pinned to data bit 7
	opSetPinsLow    = 0x80 // set value/direction of the low pin byte
	opSetDivisor    = 0x86
	opSendImmediate = 0x87
	opDisableDiv5   = 0x8A // H-series: run the engine from the 60 MHz clock
)

// mpsseBaseClockHz is the TCK generator input on H-series parts with the
// divide-by-5 prescaler disabled: TCK = 30 MHz / (divisor + 1).
const mpsseBaseClockHz = 30e6

// JTAG pin assignment on the MPSSE low byte.
const (
	pinTCK = 1 << 0
	pinTDI = 1 << 1
	pinTDO = 1 << 2 // input
	pinTMS = 1 << 3

	pinDirMask  = pinTCK | pinTDI | pinTMS
	pinIdleBits = pinTMS // TMS idles high, TCK/TDI low
)

// tdiRunCommand encodes a TDI shift of nbits packed LSB-first in data: full
// bytes as one byte-mode command, the remainder as a bit-mode command, and a
// send-immediate so the response does not sit in the FIFO.
func tdiRunCommand(data []byte, nbits int) []byte {
	full := nbits / 8
	rem := nbits % 8

	cmd := make([]byte, 0, full+8)
	if full > 0 {
		n := full - 1
		cmd = append(cmd, opShiftBytes, byte(n), byte(n>>8))
		cmd = append(cmd, data[:full]...)
	}
	if rem > 0 {
		cmd = append(cmd, opShiftBits, byte(rem-1), data[full])
	}
	return append(cmd, opSendImmediate)
}

// tmsRunCommand encodes a TMS shift of nbits (1..7) with TDI pinned. The TMS
// bits ride in the data byte's low bits and the pinned TDI value in bit 7.
func tmsRunCommand(tmsBits byte, nbits int, tdiValue bool) []byte {
	b := tmsBits & (1<<nbits - 1)
	if tdiValue {
		b |= 0x80
	}
	return []byte{opShiftTMSBits, byte(nbits - 1), b, opSendImmediate}
}

// divisorCommand encodes a TCK divisor update.
func divisorCommand(div uint16) []byte {
	return []byte{opSetDivisor, byte(div), byte(div >> 8)}
}

// divisorFor returns the divisor whose TCK is closest to hz from below, and
// the frequency actually produced.
func divisorFor(hz float64) (uint16, float64) {
	div := math.Ceil(mpsseBaseClockHz/hz) - 1
	if div < 0 {
		div = 0
	}
	if div > 0xFFFF {
		div = 0xFFFF
	}
	return uint16(div), mpsseBaseClockHz / (div + 1)
}

// extractBits recovers an n-bit bit-mode read result. The engine shifts TDO
// in from the MSB end, so after n clocks the captured bits sit in the top n
// bits of the response byte.
func extractBits(b byte, n int) byte {
	return b >> (8 - n)
}

// Device is an FTDI channel in MPSSE mode, exposed as a JTAG command engine:
// it executes single TDI or TMS run commands and reports its buffer limits.
type Device struct {
	t   *Transport
	log *zap.SugaredLogger

	writeMax int
	readMax  int
}

// fifoBytes returns the per-direction FIFO size for a product ID.
func fifoBytes(pid uint16) int {
	switch pid {
	case ProductIDFT2232H:
		return 4096
	case ProductIDFT4232H:
		return 2048
	case ProductIDFT232H:
		return 1024
	}
	return 1024
}

// Open opens the FTDI device, switches the channel into MPSSE mode and
// configures the JTAG pin directions and idle state.
func Open(vid, pid uint16, ch Channel, log *zap.SugaredLogger) (*Device, error) {
	t, err := OpenTransport(vid, pid, ch)
	if err != nil {
		return nil, err
	}

	d := &Device{
		t:        t,
		log:      log,
		writeMax: fifoBytes(pid),
		readMax:  fifoBytes(pid),
	}

	if err := d.initMPSSE(); err != nil {
		t.Close()
		return nil, err
	}

	log.Infow("ftdi device opened",
		"vid", fmt.Sprintf("0x%04X", vid),
		"pid", fmt.Sprintf("0x%04X", pid),
		"channel", int(ch),
		"fifo_bytes", d.writeMax)
	return d, nil
}

func (d *Device) initMPSSE() error {
	if err := d.t.Reset(); err != nil {
		return err
	}
	// Keep short shift results from lingering in the FIFO.
	if err := d.t.SetLatencyTimer(2); err != nil {
		return err
	}
	if err := d.t.SetBitMode(BitModeReset, 0); err != nil {
		return err
	}
	if err := d.t.SetBitMode(BitModeMPSSE, pinDirMask); err != nil {
		return err
	}

	init := []byte{
		opDisableDiv5,
		opSetPinsLow, pinIdleBits, pinDirMask,
	}
	if _, err := d.t.Write(init); err != nil {
		return err
	}
	return nil
}

// WriteTDIRun clocks the TDI bits out with TMS held low and returns the
// captured TDO bits.
func (d *Device) WriteTDIRun(tdi bitvec.Vector) (bitvec.Vector, error) {
	n := tdi.Len()
	if n == 0 {
		return bitvec.Vector{}, nil
	}
	if tdi.ByteLen() > d.writeMax {
		return bitvec.Vector{}, fmt.Errorf("ftdi: tdi run of %d bytes exceeds %d byte buffer", tdi.ByteLen(), d.writeMax)
	}

	cmd := tdiRunCommand(tdi.Bytes(), n)
	if _, err := d.t.Write(cmd); err != nil {
		return bitvec.Vector{}, err
	}

	full := n / 8
	rem := n % 8
	want := full
	if rem > 0 {
		want++
	}
	resp, err := d.t.ReadExact(want)
	if err != nil {
		return bitvec.Vector{}, err
	}

	var out bitvec.Builder
	out.Append(bitvec.New(resp[:full], full*8))
	if rem > 0 {
		out.Append(bitvec.New([]byte{extractBits(resp[full], rem)}, rem))
	}
	return out.Vector(), nil
}

// WriteTMSRun clocks up to 7 TMS bits with TDI pinned to tdiValue and
// returns the captured TDO bits.
func (d *Device) WriteTMSRun(tms bitvec.Vector, tdiValue bool) (bitvec.Vector, error) {
	n := tms.Len()
	if n < 1 || n > 7 {
		return bitvec.Vector{}, fmt.Errorf("ftdi: tms run of %d bits outside 1..7", n)
	}

	cmd := tmsRunCommand(tms.Bytes()[0], n, tdiValue)
	if _, err := d.t.Write(cmd); err != nil {
		return bitvec.Vector{}, err
	}

	resp, err := d.t.ReadExact(1)
	if err != nil {
		return bitvec.Vector{}, err
	}
	return bitvec.New([]byte{extractBits(resp[0], n)}, n), nil
}

// SetFrequency programs the closest achievable TCK frequency at or below hz
// and returns it.
func (d *Device) SetFrequency(hz float64) (float64, error) {
	if hz <= 0 {
		return 0, fmt.Errorf("ftdi: invalid frequency %gHz", hz)
	}
	div, actual := divisorFor(hz)
	if _, err := d.t.Write(divisorCommand(div)); err != nil {
		return 0, err
	}
	d.log.Debugw("tck frequency set", "requested_hz", hz, "divisor", div, "actual_hz", actual)
	return actual, nil
}

// MaxByteSizes reports the channel FIFO sizes: one write limit and the read
// limits of the TMS and TDI paths. Both paths share the single read FIFO.
func (d *Device) MaxByteSizes() (write, readTMS, readTDI int) {
	return d.writeMax, d.readMax, d.readMax
}

// Close returns the channel to its default bit mode and releases the USB
// handles.
func (d *Device) Close() error {
	if d.t == nil {
		return nil
	}
	d.t.SetBitMode(BitModeReset, 0)
	err := d.t.Close()
	d.t = nil
	return err
}
