// Package xvc implements the Xilinx Virtual Cable 1.0 protocol. The server
// accepts shift requests from a remote client (typically Vivado), hands them
// to a JTAG adapter and streams the TDO results back.
//
// The wire protocol is three commands, each introduced by an ASCII keyword
// terminated by ':':
//
//	getinfo:                          -> "xvcServer_v1.0:<n>\n"
//	settck:<u32le period ns>          -> <u32le achieved period ns>
//	shift:<u32le nbits><tms><tdi>     -> <tdo>
//
// where <tms>, <tdi> and <tdo> are ceil(nbits/8) bytes packed LSB-first, bit
// 0 first on the wire.
package xvc

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	"go.uber.org/zap"

	"github.com/sgoadhouse/xvcd-server/pkg/adapter"
	"github.com/sgoadhouse/xvcd-server/pkg/bitvec"
)

// maxCommandLen bounds the command keyword read so a garbage client cannot
// grow the buffer without limit.
const maxCommandLen = 16

// maxShiftBits rejects shift headers far beyond anything a sane client sends
// before the payload allocation happens.
const maxShiftBits = 1 << 24

// Server serves the XVC protocol over TCP for a single adapter. The adapter
// is not reentrant, so connections are served one at a time; later
// connections wait in the accept queue.
type Server struct {
	adapter adapter.Adapter
	log     *zap.SugaredLogger
}

// New builds a server around the given adapter.
func New(a adapter.Adapter, log *zap.SugaredLogger) *Server {
	return &Server{adapter: a, log: log}
}

// Serve accepts and handles connections on ln until ctx is canceled. It
// always closes the listener before returning.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		ln.Close()
	}()

	s.log.Infow("xvc server listening", "addr", ln.Addr().String())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.log.Infow("xvc server stopped")
				return nil
			}
			return fmt.Errorf("xvc: accept failed: %w", err)
		}

		s.log.Infow("client connected", "remote", conn.RemoteAddr().String())
		if err := s.handleConn(conn); err != nil {
			s.log.Warnw("client session ended with error",
				"remote", conn.RemoteAddr().String(), "error", err)
		} else {
			s.log.Infow("client disconnected", "remote", conn.RemoteAddr().String())
		}
		conn.Close()
	}
}

// handleConn runs the request loop for one client until EOF or an error.
func (s *Server) handleConn(conn net.Conn) error {
	r := bufio.NewReader(conn)
	for {
		cmd, err := readCommand(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		switch cmd {
		case "getinfo:":
			if _, err := fmt.Fprintf(conn, "xvcServer_v1.0:%d\n", s.adapter.RecommendedVectorLength()); err != nil {
				return err
			}
		case "settck:":
			if err := s.handleSetTCK(r, conn); err != nil {
				return err
			}
		case "shift:":
			if err := s.handleShift(r, conn); err != nil {
				return err
			}
		default:
			return fmt.Errorf("xvc: unknown command %q", cmd)
		}
	}
}

// readCommand consumes bytes up to and including the next ':'.
func readCommand(r *bufio.Reader) (string, error) {
	var cmd []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			if err == io.EOF && len(cmd) > 0 {
				return "", io.ErrUnexpectedEOF
			}
			return "", err
		}
		cmd = append(cmd, b)
		if b == ':' {
			return string(cmd), nil
		}
		if len(cmd) > maxCommandLen {
			return "", fmt.Errorf("xvc: command keyword too long: %q...", cmd)
		}
	}
}

func (s *Server) handleSetTCK(r io.Reader, w io.Writer) error {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return fmt.Errorf("xvc: short settck payload: %w", err)
	}
	period := int(binary.LittleEndian.Uint32(buf[:]))

	achieved, err := s.adapter.SetTCKPeriod(period)
	if err != nil {
		// The protocol has no error channel for settck; report the
		// requested period unchanged so the client carries on at
		// whatever rate the hardware is already using.
		s.log.Warnw("settck rejected", "period_ns", period, "error", err)
		achieved = period
	}
	s.log.Debugw("settck", "requested_ns", period, "achieved_ns", achieved)

	binary.LittleEndian.PutUint32(buf[:], uint32(achieved))
	_, err = w.Write(buf[:])
	return err
}

func (s *Server) handleShift(r io.Reader, w io.Writer) error {
	var head [4]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return fmt.Errorf("xvc: short shift header: %w", err)
	}
	bits := int(binary.LittleEndian.Uint32(head[:]))
	if bits < 0 || bits > maxShiftBits {
		return fmt.Errorf("xvc: shift of %d bits exceeds limit", bits)
	}
	nb := (bits + 7) / 8

	payload := make([]byte, 2*nb)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("xvc: short shift payload: %w", err)
	}

	tdo, err := s.shift(bits, payload[:nb], payload[nb:])
	if err != nil {
		return err
	}
	_, err = w.Write(tdo)
	return err
}

// shift runs one shift request through the adapter, splitting it into chunks
// that fit the adapter's buffer limits.
func (s *Server) shift(bits int, tmsBuf, tdiBuf []byte) ([]byte, error) {
	tms := bitvec.New(tmsBuf, bits)
	tdi := bitvec.New(tdiBuf, bits)
	s.log.Debugw("shift", "bits", bits)

	chunk := s.chunkBits(bits)
	var out bitvec.Builder
	for off := 0; off < bits; off += chunk {
		end := off + chunk
		if end > bits {
			end = bits
		}
		tdo, err := s.adapter.SendData(tms.Slice(off, end), tdi.Slice(off, end))
		if err != nil {
			return nil, err
		}
		out.Append(tdo)
	}

	v := out.Vector()
	if v.Len() != bits {
		return nil, fmt.Errorf("xvc: assembled %d tdo bits, want %d", v.Len(), bits)
	}
	return v.Bytes(), nil
}

// chunkBits returns how many bits of a request may go to the adapter per
// SendData call, leaving headroom for per-command framing.
func (s *Server) chunkBits(bits int) int {
	write, _, readTDI := s.adapter.MaxByteSizes()
	maxBytes := write
	if readTDI < maxBytes {
		maxBytes = readTDI
	}
	chunk := (maxBytes - 16) * 8
	if chunk <= 0 || chunk > bits {
		chunk = bits
	}
	return chunk
}
