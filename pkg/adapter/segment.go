package adapter

import "github.com/sgoadhouse/xvcd-server/pkg/bitvec"

// MaxTMSRunBits is the longest TMS run a single MPSSE command can clock out.
// The TMS shift commands carry the bit count in a 3-bit field alongside the
// pinned TDI value, which caps a run at 7 clocks.
const MaxTMSRunBits = 7

// SegmentKind discriminates the two hardware command shapes a shift request
// decomposes into.
type SegmentKind uint8

const (
	// SegmentTDIRun clocks TDI data with TMS held low. Length is bounded
	// only by the transport buffers.
	SegmentTDIRun SegmentKind = iota
	// SegmentTMSRun clocks 1..7 TMS bits with TDI pinned to a single value.
	SegmentTMSRun
)

func (k SegmentKind) String() string {
	switch k {
	case SegmentTDIRun:
		return "tdi-run"
	case SegmentTMSRun:
		return "tms-run"
	}
	return "unknown"
}

// Segment is one hardware command produced by Split. Start records the index
// of the segment's first bit within the source vectors. TDI holds the source
// TDI bits for both kinds; TMS and TDIValue are populated for TMS runs only.
type Segment struct {
	Kind     SegmentKind
	Start    int
	TDI      bitvec.Vector
	TMS      bitvec.Vector
	TDIValue bool
}

// Len returns the number of clock cycles the segment occupies.
func (s Segment) Len() int {
	if s.Kind == SegmentTMSRun {
		return s.TMS.Len()
	}
	return s.TDI.Len()
}

// End returns the index one past the segment's last bit.
func (s Segment) End() int {
	return s.Start + s.Len()
}

// Split decomposes an equal-length (TMS, TDI) pair into the ordered hardware
// command segments that reproduce it: maximal runs of TMS low become TDI
// runs, and stretches of TMS high (plus the single bit that returns TMS low)
// become TMS runs, cut at MaxTMSRunBits and cut early wherever TDI changes
// value so each TMS command can pin TDI to a constant.
//
// The constant sent for a TMS run is the run's final TDI bit. Runs end at the
// first bit whose TDI differs from the run's first bit, so the two are always
// equal for segments Split emits.
//
// Split is pure; it returns *LengthMismatchError if the vectors disagree on
// length.
func Split(tms, tdi bitvec.Vector) ([]Segment, error) {
	if tms.Len() != tdi.Len() {
		return nil, &LengthMismatchError{TMSLen: tms.Len(), TDILen: tdi.Len()}
	}

	n := tms.Len()
	var segs []Segment
	head := 0
	for head < n {
		// Everything up to the next TMS high bit is a plain TDI run.
		tms1Pos := tms.Index(true, head)
		if tms1Pos < 0 {
			tms1Pos = n
		}
		if tms1Pos > head {
			segs = append(segs, Segment{
				Kind:  SegmentTDIRun,
				Start: head,
				TDI:   tdi.Slice(head, tms1Pos),
			})
		}
		head = tms1Pos
		if head >= n {
			break
		}

		// The TMS run extends through the bit that returns TMS low, when
		// one exists before the end of the stream.
		tms0Pos := tms.Index(false, head)
		if tms0Pos < 0 {
			tms0Pos = n
		} else {
			tms0Pos++
		}

		for tms0Pos > head {
			tail := tms0Pos
			if head+MaxTMSRunBits < tail {
				tail = head + MaxTMSRunBits
			}
			// A TDI change forces the run to end early so the command
			// can hold TDI constant.
			if chg := tdi.Index(!tdi.At(head), head); chg >= 0 && chg < tail {
				tail = chg
			}
			segs = append(segs, Segment{
				Kind:     SegmentTMSRun,
				Start:    head,
				TDI:      tdi.Slice(head, tail),
				TMS:      tms.Slice(head, tail),
				TDIValue: tdi.At(tail - 1),
			})
			head = tail
		}
	}
	return segs, nil
}
