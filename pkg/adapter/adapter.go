// Package adapter bridges XVC shift requests to synchronous-serial JTAG
// engines. Its core is the decomposition of a per-bit (TMS, TDI) vector pair
// into hardware commands that can assert at most MaxTMSRunBits consecutive
// TMS bits and must hold TDI constant while TMS is driven, plus the
// reassembly of the returned TDO bits into a vector that matches the input
// bit for bit.
package adapter

import (
	"math"

	"go.uber.org/zap"

	"github.com/sgoadhouse/xvcd-server/pkg/bitvec"
)

// RecommendedVectorLen is the shift vector byte length advertised to XVC
// clients. Vivado uses it to size its requests.
const RecommendedVectorLen = 8100

// Adapter abstracts a JTAG cable for the XVC server. Implementations own a
// single hardware handle and are not safe for concurrent use; callers must
// serialize access themselves.
type Adapter interface {
	// SendData clocks the TMS/TDI vectors out and returns the TDO vector,
	// which has the same length as the inputs. Bit i of each vector
	// corresponds to clock cycle i.
	SendData(tms, tdi bitvec.Vector) (bitvec.Vector, error)

	// SetTCKPeriod requests a TCK period in nanoseconds and returns the
	// period actually achieved. Achieved periods are not monotonic in the
	// requested period.
	SetTCKPeriod(periodNS int) (int, error)

	// MaxByteSizes returns the write buffer size and the read buffer sizes
	// of the TMS and TDI paths, in bytes. The XVC server chunks oversized
	// shift requests against these.
	MaxByteSizes() (write, readTMS, readTDI int)

	// RecommendedVectorLength returns the advisory vector byte length
	// advertised to the remote client.
	RecommendedVectorLength() int

	// SetProgramPin drives the program pin where the hardware supports
	// one. Adapters without the capability return nil.
	SetProgramPin(high bool) error

	// ResetTarget resets the target device where the hardware supports
	// it. Adapters without the capability return nil.
	ResetTarget() error
}

// Engine executes single hardware command segments. It is the surface a
// concrete cable driver (e.g. an FTDI MPSSE device) exposes to EngineAdapter.
// Returned TDO vectors are in transmission order and match the input length.
type Engine interface {
	// WriteTDIRun clocks the given TDI bits with TMS held low and returns
	// the captured TDO bits.
	WriteTDIRun(tdi bitvec.Vector) (bitvec.Vector, error)

	// WriteTMSRun clocks 1..MaxTMSRunBits TMS bits with TDI pinned to
	// tdiValue and returns the captured TDO bits.
	WriteTMSRun(tms bitvec.Vector, tdiValue bool) (bitvec.Vector, error)

	// SetFrequency requests a TCK frequency in Hz and returns the
	// frequency actually configured.
	SetFrequency(hz float64) (float64, error)

	// MaxByteSizes reports the engine's write and read buffer sizes.
	MaxByteSizes() (write, readTMS, readTDI int)
}

// ProgramPinner is an optional Engine capability for driving a program pin.
type ProgramPinner interface {
	SetProgramPin(high bool) error
}

// TargetResetter is an optional Engine capability for resetting the target.
type TargetResetter interface {
	ResetTarget() error
}

// EngineAdapter implements Adapter over an Engine. It carries no per-request
// state: every SendData call validates, splits, executes and reassembles
// within its own scope.
type EngineAdapter struct {
	eng Engine
	log *zap.SugaredLogger
}

// NewEngineAdapter wraps an engine. The logger must not be nil; pass
// zap.NewNop().Sugar() to discard diagnostics.
func NewEngineAdapter(eng Engine, log *zap.SugaredLogger) *EngineAdapter {
	return &EngineAdapter{eng: eng, log: log}
}

// SendData decomposes the request into segments, executes them strictly in
// order and concatenates the per-segment TDO results. The first failed
// hardware command aborts the call with a *TransportError; no partial result
// is returned and TAP state is indeterminate afterward.
func (a *EngineAdapter) SendData(tms, tdi bitvec.Vector) (bitvec.Vector, error) {
	segs, err := Split(tms, tdi)
	if err != nil {
		return bitvec.Vector{}, err
	}

	var out bitvec.Builder
	for _, seg := range segs {
		var tdo bitvec.Vector
		switch seg.Kind {
		case SegmentTDIRun:
			a.log.Debugw("tdi run", "start", seg.Start, "bits", seg.Len())
			tdo, err = a.eng.WriteTDIRun(seg.TDI)
		case SegmentTMSRun:
			a.log.Debugw("tms run", "start", seg.Start, "bits", seg.Len(),
				"tms", seg.TMS.String(), "tdi", seg.TDIValue)
			if !seg.TDI.Constant(seg.TDIValue) {
				// Split guarantees constancy; seeing this means the
				// splitter is broken, not the request.
				a.log.Warnw("tdi not constant across tms run",
					"start", seg.Start, "tdi", seg.TDI.String())
			}
			tdo, err = a.eng.WriteTMSRun(seg.TMS, seg.TDIValue)
		}
		if err != nil {
			return bitvec.Vector{}, &TransportError{Op: seg.Kind.String(), Err: err}
		}
		out.Append(tdo)
	}
	return out.Vector(), nil
}

// SetTCKPeriod converts the requested period to a frequency request for the
// engine and derives the achieved period from the frequency it reports.
func (a *EngineAdapter) SetTCKPeriod(periodNS int) (int, error) {
	if periodNS <= 0 {
		return 0, &ConfigurationError{Reason: "tck period must be positive"}
	}
	actual, err := a.eng.SetFrequency(1e9 / float64(periodNS))
	if err != nil {
		return 0, &ConfigurationError{Reason: "tck frequency not accepted", Err: err}
	}
	if actual <= 0 {
		return 0, &ConfigurationError{Reason: "engine reported non-positive tck frequency"}
	}
	achieved := int(math.Round(1e9 / actual))
	a.log.Debugw("tck period set", "requested_ns", periodNS, "achieved_ns", achieved)
	return achieved, nil
}

// MaxByteSizes reports the engine's buffer limits.
func (a *EngineAdapter) MaxByteSizes() (write, readTMS, readTDI int) {
	return a.eng.MaxByteSizes()
}

// RecommendedVectorLength returns the advisory constant advertised to XVC
// clients.
func (a *EngineAdapter) RecommendedVectorLength() int {
	return RecommendedVectorLen
}

// SetProgramPin drives the program pin when the engine supports one and is a
// no-op otherwise.
func (a *EngineAdapter) SetProgramPin(high bool) error {
	if p, ok := a.eng.(ProgramPinner); ok {
		return p.SetProgramPin(high)
	}
	return nil
}

// ResetTarget resets the target when the engine supports it and is a no-op
// otherwise.
func (a *EngineAdapter) ResetTarget() error {
	if r, ok := a.eng.(TargetResetter); ok {
		return r.ResetTarget()
	}
	return nil
}
