package adapter

import "github.com/sgoadhouse/xvcd-server/pkg/bitvec"

// SendOp captures the last SendData invocation for inspection within tests.
type SendOp struct {
	TMS bitvec.Vector
	TDI bitvec.Vector
}

// SendHook lets tests script deterministic TDO data or failures.
type SendHook func(tms, tdi bitvec.Vector) (bitvec.Vector, error)

// Loopback is an in-memory adapter that echoes TDI back as TDO. It serves
// unit tests and lets the daemon run without hardware attached. It records
// the last shift request and counts pin operations.
type Loopback struct {
	PeriodNS int
	OnSend   SendHook

	lastSend    SendOp
	resets      int
	programHigh bool
	programSets int
}

// NewLoopback constructs a loopback adapter with a 100 ns (10 MHz) period.
func NewLoopback() *Loopback {
	return &Loopback{PeriodNS: 100}
}

// LastSend returns the most recent shift request.
func (l *Loopback) LastSend() SendOp {
	return l.lastSend
}

// ResetCount reports how many target resets have been requested.
func (l *Loopback) ResetCount() int {
	return l.resets
}

// ProgramPin reports the current program pin level and how many times it has
// been set.
func (l *Loopback) ProgramPin() (high bool, sets int) {
	return l.programHigh, l.programSets
}

func (l *Loopback) SendData(tms, tdi bitvec.Vector) (bitvec.Vector, error) {
	if tms.Len() != tdi.Len() {
		return bitvec.Vector{}, &LengthMismatchError{TMSLen: tms.Len(), TDILen: tdi.Len()}
	}
	l.lastSend = SendOp{TMS: tms, TDI: tdi}
	if l.OnSend != nil {
		return l.OnSend(tms, tdi)
	}
	return tdi, nil
}

func (l *Loopback) SetTCKPeriod(periodNS int) (int, error) {
	if periodNS <= 0 {
		return 0, &ConfigurationError{Reason: "tck period must be positive"}
	}
	l.PeriodNS = periodNS
	return l.PeriodNS, nil
}

func (l *Loopback) MaxByteSizes() (write, readTMS, readTDI int) {
	return 4096, 4096, 4096
}

func (l *Loopback) RecommendedVectorLength() int {
	return RecommendedVectorLen
}

func (l *Loopback) SetProgramPin(high bool) error {
	l.programHigh = high
	l.programSets++
	return nil
}

func (l *Loopback) ResetTarget() error {
	l.resets++
	return nil
}
