package orchestrator

import (
	"bytes"
	"context"
	"testing"

	"github.com/chenthusiasm/i2c-bridge/bus"
	"github.com/chenthusiasm/i2c-bridge/internal/hal"
)

type fakeClock struct{ ms int64 }

func (c *fakeClock) now() int64 { return c.ms }

type fakeUART struct {
	toFeed []byte
	out    []byte
}

func (u *fakeUART) WriteByte(b byte) error { u.out = append(u.out, b); return nil }
func (u *fakeUART) Write(p []byte) (int, error) {
	u.out = append(u.out, p...)
	return len(p), nil
}
func (u *fakeUART) Read(p []byte) (int, error) {
	n := copy(p, u.toFeed)
	u.toFeed = u.toFeed[n:]
	return n, nil
}
func (u *fakeUART) Readable() <-chan struct{} { return nil }
func (u *fakeUART) RecvSomeContext(ctx context.Context, p []byte) (int, error) {
	return u.Read(p)
}

// fakeGPIO models an open-drain line. When stuckLow is set, Get always
// reports low regardless of Set calls, simulating a slave that never
// releases the reset line.
type fakeGPIO struct {
	level    bool
	stuckLow bool
}

func (g *fakeGPIO) ConfigureOutput(openDrain bool, initial bool) error { g.level = initial; return nil }
func (g *fakeGPIO) Set(level bool)                                    { g.level = level }
func (g *fakeGPIO) Get() bool {
	if g.stuckLow {
		return false
	}
	return g.level
}

// fakeIRQ models the slave IRQ line. asserted mirrors the line level;
// ClearIRQ releases it, as the real clearIRQ write sequence does.
type fakeIRQ struct{ asserted bool }

func (p *fakeIRQ) Get() bool                               { return p.asserted }
func (p *fakeIRQ) SetIRQ(fallingEdge bool, h func()) error { return nil }
func (p *fakeIRQ) ClearIRQ() error                          { p.asserted = false; return nil }

// pollResult queues one fakeMaster.Poll response; an exhausted queue
// falls back to an immediate no-op completion.
type pollResult struct {
	done bool
	data []byte
	err  error
}

type fakeMaster struct {
	polls   []pollResult
	pollIdx int
}

func (m *fakeMaster) SubmitWrite(addr uint8, data []byte) error { return nil }
func (m *fakeMaster) SubmitRead(addr uint8, n int) error        { return nil }
func (m *fakeMaster) Poll() (bool, []byte, error) {
	if m.pollIdx >= len(m.polls) {
		return true, nil, nil
	}
	r := m.polls[m.pollIdx]
	m.pollIdx++
	return r.done, r.data, r.err
}
func (m *fakeMaster) Status() hal.DriverStatus { return hal.DriverOK }
func (m *fakeMaster) Reset() error             { return nil }
func (m *fakeMaster) ProbeACK(addr uint8) error { return nil }

func driveUntil(t *testing.T, o *Orchestrator, clk *fakeClock, want State, maxSteps int) {
	t.Helper()
	for i := 0; i < maxSteps; i++ {
		o.Process(10)
		clk.ms += 5
		if o.State() == want {
			return
		}
	}
	t.Fatalf("never reached state %v, stuck at %v", want, o.State())
}

func TestHappyPathReachesSlaveTranslate(t *testing.T) {
	uart := &fakeUART{}
	gpio := &fakeGPIO{level: true}
	clk := &fakeClock{}
	b := bus.NewBus(4)
	conn := b.NewConnection("test")
	o := New(uart, gpio, &fakeIRQ{}, &fakeMaster{}, clk.now, conn, Config{
		ResetHoldMs:   1,
		ResetVerifyMs: 1,
		Sizing:        Sizing{TranslateWords: 64, UpdateWords: 64},
	})

	driveUntil(t, o, clk, SlaveTranslate, 20)
}

func TestSlaveResetFailureLatchesFault(t *testing.T) {
	uart := &fakeUART{}
	gpio := &fakeGPIO{stuckLow: true} // stays low: reset never releases
	clk := &fakeClock{}
	b := bus.NewBus(4)
	conn := b.NewConnection("test")
	o := New(uart, gpio, &fakeIRQ{}, &fakeMaster{}, clk.now, conn, Config{
		ResetHoldMs:   1,
		ResetVerifyMs: 1,
		Sizing:        Sizing{TranslateWords: 64, UpdateWords: 64},
	})

	driveUntil(t, o, clk, SlaveTranslateFailed, 20)
}

func TestFaultStateEmitsPeriodicDiagnostic(t *testing.T) {
	uart := &fakeUART{}
	gpio := &fakeGPIO{stuckLow: true}
	clk := &fakeClock{}
	b := bus.NewBus(4)
	conn := b.NewConnection("test")
	o := New(uart, gpio, &fakeIRQ{}, &fakeMaster{}, clk.now, conn, Config{
		ResetHoldMs:          1,
		ResetVerifyMs:        1,
		ErrorMessagePeriodMs: 5,
		Sizing:               Sizing{TranslateWords: 64, UpdateWords: 64},
	})
	driveUntil(t, o, clk, SlaveTranslateFailed, 20)

	before := len(uart.out)
	clk.ms += 10
	o.Process(10)
	if len(uart.out) <= before {
		t.Fatal("expected a diagnostic message written to UART once the error period elapses")
	}
}

func TestTranslateCommandFlowsThroughDecoderToResponse(t *testing.T) {
	uart := &fakeUART{}
	gpio := &fakeGPIO{level: true}
	clk := &fakeClock{}
	b := bus.NewBus(4)
	conn := b.NewConnection("test")
	o := New(uart, gpio, &fakeIRQ{}, &fakeMaster{}, clk.now, conn, Config{
		ResetHoldMs:   1,
		ResetVerifyMs: 1,
		Sizing:        Sizing{TranslateWords: 64, UpdateWords: 64},
	})
	driveUntil(t, o, clk, SlaveTranslate, 20)

	// Feed a framed Ack command: SOF, marker, 'A', EOF.
	uart.toFeed = []byte{0xAA, 0x55, 0x55, 'A', 0xAA}
	o.Process(10)

	if len(uart.out) == 0 {
		t.Fatal("expected a framed response written back to the host")
	}
}

func TestSlaveInitiatedReadIsReframedToHost(t *testing.T) {
	uart := &fakeUART{}
	gpio := &fakeGPIO{level: true}
	irq := &fakeIRQ{}
	master := &fakeMaster{polls: []pollResult{
		{done: true, data: []byte{0x01, 0x03}},       // header: cmd=0x01 length=0x03
		{done: true, data: []byte{0xDE, 0xAD, 0xBE}}, // payload
		{done: true},                                 // clear-IRQ write
	}}
	clk := &fakeClock{}
	b := bus.NewBus(4)
	conn := b.NewConnection("test")
	o := New(uart, gpio, irq, master, clk.now, conn, Config{
		ResetHoldMs:   1,
		ResetVerifyMs: 1,
		Sizing:        Sizing{TranslateWords: 64, UpdateWords: 64},
	})
	driveUntil(t, o, clk, SlaveTranslate, 20)

	irq.asserted = true
	o.NotifySlaveIRQ()
	o.Process(10)

	want := []byte{0xAA, 0x01, 0x03, 0xDE, 0xAD, 0xBE, 0xAA}
	if !bytes.Equal(uart.out, want) {
		t.Fatalf("framed slave read = % X, want % X", uart.out, want)
	}
}
