//go:build !rp2040

package platform

import (
	"context"
	"sync"

	"github.com/chenthusiasm/i2c-bridge/internal/hal"
	"github.com/chenthusiasm/i2c-bridge/x/shmring"
	"github.com/chenthusiasm/i2c-bridge/x/timex"
)

// SlaveModel simulates the far side of the I²C bus: given the address
// and direction of a submitted transfer it returns the bytes a real
// slave would drive back (for a read) and the driver status the
// transaction should complete with. Tests and the debug console
// install one to model a translate-mode or update-mode slave without
// real hardware, the same role the reference codebase's host
// factories_host.go HostI2C plays for device adaptor tests.
type SlaveModel func(addr uint8, write []byte, readLen int) (resp []byte, status hal.DriverStatus)

// SimI2C is a host-side hal.I2CMaster with no real bus: Submit
// resolves against an installed SlaveModel and Poll reports the
// result on the call after submission, approximating the one-tick
// latency of an IRQ-driven transfer without needing real concurrency.
type SimI2C struct {
	mu      sync.Mutex
	model   SlaveModel
	pending bool
	addr    uint8
	write   []byte
	readLen int
	result  []byte
	err     error
	status  hal.DriverStatus
}

// NewSimI2C returns a simulated master driven by model. A nil model
// always completes with hal.DriverOK and an empty read.
func NewSimI2C(model SlaveModel) *SimI2C {
	if model == nil {
		model = func(uint8, []byte, int) ([]byte, hal.DriverStatus) { return nil, hal.DriverOK }
	}
	return &SimI2C{model: model}
}

// SetModel swaps the installed slave behaviour, letting a test or the
// debug console reconfigure the simulated device mid-run.
func (s *SimI2C) SetModel(model SlaveModel) {
	s.mu.Lock()
	s.model = model
	s.mu.Unlock()
}

func (s *SimI2C) submit(addr uint8, write []byte, readLen int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending {
		return errBusy
	}
	resp, status := s.model(addr, write, readLen)
	s.pending = true
	s.addr, s.write, s.readLen = addr, write, readLen
	s.result, s.status = resp, status
	if status != hal.DriverOK {
		s.err = errDriverFault
	} else {
		s.err = nil
	}
	return nil
}

func (s *SimI2C) SubmitWrite(addr uint8, data []byte) error { return s.submit(addr, data, 0) }
func (s *SimI2C) SubmitRead(addr uint8, n int) error         { return s.submit(addr, nil, n) }

func (s *SimI2C) Poll() (bool, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pending {
		return true, nil, nil
	}
	s.pending = false
	return true, s.result, s.err
}

func (s *SimI2C) Status() hal.DriverStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	s.status = hal.DriverOK
	return st
}

func (s *SimI2C) Reset() error { return nil }

func (s *SimI2C) ProbeACK(addr uint8) error {
	_, status := s.model(addr, nil, 0)
	if status != hal.DriverOK {
		return errDriverFault
	}
	return nil
}

type driverFaultError struct{}

func (driverFaultError) Error() string { return "i2c: simulated driver fault" }

var errDriverFault = driverFaultError{}

// SimPin is a host GPIO/IRQ pin, modeled on the reference codebase's
// host FakePin: it tracks level and, for an IRQ-configured instance,
// fires its registered handler on the edge the caller armed.
type SimPin struct {
	mu          sync.Mutex
	level       bool
	wantFalling bool
	handler     func()
}

func NewSimPin(initial bool) *SimPin { return &SimPin{level: initial} }

func (p *SimPin) ConfigureOutput(openDrain bool, initial bool) error {
	p.mu.Lock()
	p.level = initial
	p.mu.Unlock()
	return nil
}

func (p *SimPin) Set(level bool) {
	p.mu.Lock()
	old := p.level
	p.level = level
	h := p.handler
	fire := h != nil && old && !level && p.wantFalling
	p.mu.Unlock()
	if fire {
		h()
	}
}

func (p *SimPin) Get() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

func (p *SimPin) SetIRQ(fallingEdge bool, handler func()) error {
	p.mu.Lock()
	p.wantFalling = fallingEdge
	p.handler = handler
	p.mu.Unlock()
	return nil
}

func (p *SimPin) ClearIRQ() error {
	p.mu.Lock()
	p.handler = nil
	p.mu.Unlock()
	return nil
}

// Pulse drives the pin low then high, firing a falling-edge IRQ if one
// is armed — the test/console hook for "the slave wants attention".
func (p *SimPin) Pulse() {
	p.Set(false)
	p.Set(true)
}

// SimUART is a host hal.UARTPort backed by a pair of lock-free SPSC
// rings (x/shmring): the debug console's stdin-reading
// goroutine is the sole producer on rx and sole consumer of tx, while
// the orchestrator's single-threaded Process loop is the sole consumer
// of rx and sole producer on tx — exactly the one-producer/one-consumer
// split shmring is built for, in place of the mutex-guarded slice a
// single-threaded host stub would otherwise need.
type SimUART struct {
	rx *shmring.Ring
	tx *shmring.Ring
}

const simUARTRingSize = 4096

func NewSimUART() *SimUART {
	return &SimUART{rx: shmring.New(simUARTRingSize), tx: shmring.New(simUARTRingSize)}
}

func (u *SimUART) WriteByte(b byte) error {
	_, err := u.Write([]byte{b})
	return err
}

func (u *SimUART) Write(p []byte) (int, error) {
	n := u.tx.TryWriteFrom(p)
	return n, nil
}

func (u *SimUART) Read(p []byte) (int, error) {
	return u.rx.TryReadInto(p), nil
}

func (u *SimUART) Readable() <-chan struct{} { return u.rx.Readable() }

func (u *SimUART) RecvSomeContext(ctx context.Context, p []byte) (int, error) {
	if n := u.rx.TryReadInto(p); n > 0 {
		return n, nil
	}
	select {
	case <-u.rx.Readable():
		return u.rx.TryReadInto(p), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Inject appends bytes to the simulated host-to-bridge stream.
func (u *SimUART) Inject(b []byte) {
	for len(b) > 0 {
		n := u.rx.TryWriteFrom(b)
		if n == 0 {
			break
		}
		b = b[n:]
	}
}

// Out drains and returns everything the bridge has written back.
func (u *SimUART) Out() []byte {
	var out []byte
	buf := make([]byte, 256)
	for {
		n := u.tx.TryReadInto(buf)
		if n == 0 {
			return out
		}
		out = append(out, buf[:n]...)
	}
}

// Clock is a free-running host millisecond tick source.
func Clock() int64 { return timex.NowMs() }

// SystemReset returns a hal.SystemReset that invokes fn, letting the
// console or a test observe a reset request without actually exiting
// the process.
func SystemReset(fn func()) hal.SystemReset {
	if fn == nil {
		fn = func() {}
	}
	return fn
}
