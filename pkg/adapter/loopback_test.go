package adapter

import (
	"errors"
	"testing"

	"github.com/sgoadhouse/xvcd-server/pkg/bitvec"
)

func TestLoopbackEcho(t *testing.T) {
	l := NewLoopback()
	tms := mustParse(t, "0001111000")
	tdi := mustParse(t, "1100110011")

	tdo, err := l.SendData(tms, tdi)
	if err != nil {
		t.Fatalf("SendData returned error: %v", err)
	}
	if !tdo.Equal(tdi) {
		t.Fatalf("tdo = %s, want %s", tdo, tdi)
	}

	last := l.LastSend()
	if !last.TMS.Equal(tms) || !last.TDI.Equal(tdi) {
		t.Fatalf("LastSend did not record the request")
	}
}

func TestLoopbackLengthMismatch(t *testing.T) {
	l := NewLoopback()
	_, err := l.SendData(mustParse(t, "010"), mustParse(t, "01"))
	var lm *LengthMismatchError
	if !errors.As(err, &lm) {
		t.Fatalf("err = %v, want *LengthMismatchError", err)
	}
}

func TestLoopbackHook(t *testing.T) {
	l := NewLoopback()
	l.OnSend = func(_, tdi bitvec.Vector) (bitvec.Vector, error) {
		return mustParse(t, "111"), nil
	}
	tdo, err := l.SendData(mustParse(t, "000"), mustParse(t, "000"))
	if err != nil {
		t.Fatalf("SendData returned error: %v", err)
	}
	if tdo.String() != "111" {
		t.Fatalf("tdo = %s, want 111", tdo)
	}
}

func TestLoopbackTCKAndPins(t *testing.T) {
	l := NewLoopback()
	if got, err := l.SetTCKPeriod(250); err != nil || got != 250 {
		t.Fatalf("SetTCKPeriod = %d, %v", got, err)
	}
	if _, err := l.SetTCKPeriod(0); err == nil {
		t.Fatalf("expected error for zero period")
	}

	if err := l.SetProgramPin(true); err != nil {
		t.Fatalf("SetProgramPin: %v", err)
	}
	if high, sets := l.ProgramPin(); !high || sets != 1 {
		t.Fatalf("ProgramPin = %v/%d, want true/1", high, sets)
	}

	if err := l.ResetTarget(); err != nil {
		t.Fatalf("ResetTarget: %v", err)
	}
	if l.ResetCount() != 1 {
		t.Fatalf("ResetCount = %d, want 1", l.ResetCount())
	}
}
