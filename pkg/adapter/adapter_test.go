package adapter

import (
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap"

	"github.com/sgoadhouse/xvcd-server/pkg/bitvec"
)

// fakeEngine echoes TDI bits back as TDO and records every command in order.
// failAfter, when >= 0, makes the command with that index fail.
type fakeEngine struct {
	ops       []string
	failAfter int
	failErr   error
	freq      float64
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{failAfter: -1}
}

func (f *fakeEngine) step() error {
	if f.failAfter == 0 {
		return f.failErr
	}
	f.failAfter--
	return nil
}

func (f *fakeEngine) WriteTDIRun(tdi bitvec.Vector) (bitvec.Vector, error) {
	if err := f.step(); err != nil {
		return bitvec.Vector{}, err
	}
	f.ops = append(f.ops, fmt.Sprintf("tdi(%d)", tdi.Len()))
	return tdi, nil
}

func (f *fakeEngine) WriteTMSRun(tms bitvec.Vector, tdiValue bool) (bitvec.Vector, error) {
	if err := f.step(); err != nil {
		return bitvec.Vector{}, err
	}
	f.ops = append(f.ops, fmt.Sprintf("tms(%d,%v)", tms.Len(), tdiValue))
	// Echo the pinned TDI value for every clock of the run.
	var b bitvec.Builder
	for i := 0; i < tms.Len(); i++ {
		b.AppendBit(tdiValue)
	}
	return b.Vector(), nil
}

func (f *fakeEngine) SetFrequency(hz float64) (float64, error) {
	f.freq = hz
	return hz, nil
}

func (f *fakeEngine) MaxByteSizes() (int, int, int) {
	return 4096, 4096, 4096
}

// pinEngine adds the optional program pin and reset capabilities.
type pinEngine struct {
	fakeEngine
	programHigh bool
	resets      int
}

func (p *pinEngine) SetProgramPin(high bool) error {
	p.programHigh = high
	return nil
}

func (p *pinEngine) ResetTarget() error {
	p.resets++
	return nil
}

func newTestAdapter(eng Engine) *EngineAdapter {
	return NewEngineAdapter(eng, zap.NewNop().Sugar())
}

func TestEngineAdapterImplementsAdapter(t *testing.T) {
	var _ Adapter = (*EngineAdapter)(nil)
	var _ Adapter = (*Loopback)(nil)
}

func TestSendDataOutputLengthMatchesInput(t *testing.T) {
	a := newTestAdapter(newFakeEngine())
	cases := []string{
		"",
		"0000000000",
		"1111111111",
		"0001111000",
		"0110100111011",
	}
	for _, tmsStr := range cases {
		tms := mustParse(t, tmsStr)
		tdi := mustParse(t, tmsStr) // any equal-length vector will do
		tdo, err := a.SendData(tms, tdi)
		if err != nil {
			t.Fatalf("SendData(%q) returned error: %v", tmsStr, err)
		}
		if tdo.Len() != tms.Len() {
			t.Errorf("SendData(%q) returned %d bits, want %d", tmsStr, tdo.Len(), tms.Len())
		}
	}
}

func TestSendDataAssemblesTDOInSegmentOrder(t *testing.T) {
	eng := newFakeEngine()
	a := newTestAdapter(eng)

	tms := mustParse(t, "0001111000")
	tdi := mustParse(t, "1010000011")

	tdo, err := a.SendData(tms, tdi)
	if err != nil {
		t.Fatalf("SendData returned error: %v", err)
	}

	// The fake echoes TDI (pinned value for TMS runs), so the assembled
	// vector must equal the input TDI: segment bits in order, no gaps.
	if !tdo.Equal(tdi) {
		t.Fatalf("tdo = %s, want %s", tdo, tdi)
	}

	// The TMS run spans bits 3..7: the four high bits plus the bit that
	// returns TMS low.
	want := []string{"tdi(3)", "tms(5,false)", "tdi(2)"}
	if len(eng.ops) != len(want) {
		t.Fatalf("engine saw %v, want %v", eng.ops, want)
	}
	for i := range want {
		if eng.ops[i] != want[i] {
			t.Errorf("op %d = %s, want %s", i, eng.ops[i], want[i])
		}
	}
}

func TestSendDataLengthMismatchSkipsHardware(t *testing.T) {
	eng := newFakeEngine()
	a := newTestAdapter(eng)

	_, err := a.SendData(mustParse(t, "00000"), mustParse(t, "0000"))
	var lm *LengthMismatchError
	if !errors.As(err, &lm) {
		t.Fatalf("err = %v, want *LengthMismatchError", err)
	}
	if len(eng.ops) != 0 {
		t.Fatalf("engine saw %v, want no commands", eng.ops)
	}
}

func TestSendDataTransportErrorAbortsRun(t *testing.T) {
	cause := errors.New("usb stall")
	eng := newFakeEngine()
	eng.failAfter = 1 // first command succeeds, second fails
	eng.failErr = cause
	a := newTestAdapter(eng)

	_, err := a.SendData(mustParse(t, "0001111000"), mustParse(t, "0000000000"))
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *TransportError", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause not preserved: %v", err)
	}
	// Only the command that succeeded may have reached the engine.
	if len(eng.ops) != 1 {
		t.Fatalf("engine saw %d commands after failure, want 1", len(eng.ops))
	}
}

func TestSetTCKPeriod(t *testing.T) {
	eng := newFakeEngine()
	a := newTestAdapter(eng)

	// The fake grants frequencies exactly, so the achieved period equals
	// the request.
	got, err := a.SetTCKPeriod(100)
	if err != nil {
		t.Fatalf("SetTCKPeriod returned error: %v", err)
	}
	if got != 100 {
		t.Fatalf("achieved period = %d, want 100", got)
	}
	if eng.freq != 1e7 {
		t.Fatalf("engine frequency = %g, want 1e7", eng.freq)
	}

	for _, bad := range []int{0, -5} {
		_, err := a.SetTCKPeriod(bad)
		var ce *ConfigurationError
		if !errors.As(err, &ce) {
			t.Errorf("SetTCKPeriod(%d) err = %v, want *ConfigurationError", bad, err)
		}
	}
}

func TestMaxByteSizesDelegates(t *testing.T) {
	a := newTestAdapter(newFakeEngine())
	w, rTMS, rTDI := a.MaxByteSizes()
	if w != 4096 || rTMS != 4096 || rTDI != 4096 {
		t.Fatalf("MaxByteSizes = %d/%d/%d, want 4096 each", w, rTMS, rTDI)
	}
	if a.RecommendedVectorLength() != RecommendedVectorLen {
		t.Fatalf("RecommendedVectorLength = %d", a.RecommendedVectorLength())
	}
}

func TestPinOperationsCapabilityGated(t *testing.T) {
	// Engine without pin capabilities: both operations are no-ops.
	plain := newTestAdapter(newFakeEngine())
	if err := plain.SetProgramPin(true); err != nil {
		t.Fatalf("SetProgramPin on plain engine: %v", err)
	}
	if err := plain.ResetTarget(); err != nil {
		t.Fatalf("ResetTarget on plain engine: %v", err)
	}

	// Engine with the capabilities: operations reach it.
	eng := &pinEngine{fakeEngine: *newFakeEngine()}
	capable := newTestAdapter(eng)
	if err := capable.SetProgramPin(true); err != nil {
		t.Fatalf("SetProgramPin: %v", err)
	}
	if !eng.programHigh {
		t.Fatalf("program pin not driven high")
	}
	if err := capable.ResetTarget(); err != nil {
		t.Fatalf("ResetTarget: %v", err)
	}
	if eng.resets != 1 {
		t.Fatalf("resets = %d, want 1", eng.resets)
	}
}
