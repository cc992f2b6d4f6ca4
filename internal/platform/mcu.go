//go:build rp2040

package platform

import (
	"context"
	"machine"

	"github.com/jangala-dev/tinygo-uartx/uartx"

	"github.com/chenthusiasm/i2c-bridge/internal/hal"
	"github.com/chenthusiasm/i2c-bridge/x/timex"
)

// Pins carries the board wiring the bridge needs: the host UART, the
// I²C bus shared with the slave, the slave's reset line, and its IRQ
// line. Left to a board-specific main package to populate, matching
// the reference codebase's setups.ResourcePlan indirection.
type Pins struct {
	UART     *uartx.UART
	I2C      *machine.I2C
	I2CSDA   machine.Pin
	I2CSCL   machine.Pin
	I2CHz    uint32
	ResetPin machine.Pin
	IRQPin   machine.Pin
}

// mcuMaster wires a real RP2040 I²C peripheral to hal.I2CMaster via
// the asyncI2C shim above.
type mcuMaster struct {
	async *asyncI2C
}

// NewI2CMaster configures the given I²C peripheral and pins and
// returns an hal.I2CMaster bound to real hardware.
func NewI2CMaster(p Pins) hal.I2CMaster {
	p.I2CSDA.Configure(machine.PinConfig{Mode: machine.PinI2C})
	p.I2CSCL.Configure(machine.PinConfig{Mode: machine.PinI2C})
	hz := p.I2CHz
	if hz == 0 {
		hz = 400_000
	}
	_ = p.I2C.Configure(machine.I2CConfig{SCL: p.I2CSCL, SDA: p.I2CSDA, Frequency: machine.Hz(hz)})
	return &mcuMaster{async: newAsyncI2C(p.I2C)}
}

func (m *mcuMaster) SubmitWrite(addr uint8, data []byte) error { return m.async.submit(addr, data, 0) }
func (m *mcuMaster) SubmitRead(addr uint8, n int) error         { return m.async.submit(addr, nil, n) }
func (m *mcuMaster) Poll() (bool, []byte, error)                { return m.async.poll() }
func (m *mcuMaster) Status() hal.DriverStatus                   { return m.async.takeStatus() }
func (m *mcuMaster) ProbeACK(addr uint8) error                  { return m.async.probeACK(addr) }
func (m *mcuMaster) Reset() error {
	// Reset does not reconfigure or otherwise touch the peripheral; it
	// returns nil.
	return nil
}

// mcuUART adapts the reference codebase's tinygo-uartx port to
// hal.UARTPort.
type mcuUART struct{ u *uartx.UART }

func NewUARTPort(u *uartx.UART, baud uint32) hal.UARTPort {
	_ = u.Configure(uartx.UARTConfig{BaudRate: baud})
	return &mcuUART{u: u}
}

func (p *mcuUART) WriteByte(b byte) error      { return p.u.WriteByte(b) }
func (p *mcuUART) Write(b []byte) (int, error) { return p.u.Write(b) }
func (p *mcuUART) Read(b []byte) (int, error)  { return p.u.Read(b) }
func (p *mcuUART) Readable() <-chan struct{}   { return p.u.Readable() }
func (p *mcuUART) RecvSomeContext(ctx context.Context, b []byte) (int, error) {
	return p.u.RecvSomeContext(ctx, b)
}

// mcuResetPin adapts an open-drain-capable machine.Pin to hal.GPIOPin.
type mcuResetPin struct{ p machine.Pin }

func NewResetPin(pin machine.Pin) hal.GPIOPin { return &mcuResetPin{p: pin} }

func (g *mcuResetPin) ConfigureOutput(openDrain bool, initial bool) error {
	// RP2040 has no true open-drain mode; the reset line is wired
	// through an external pull-up, so driving the pin low and
	// releasing it to input-high-Z approximates open-drain behaviour.
	if openDrain {
		if initial {
			g.p.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
		} else {
			g.p.Configure(machine.PinConfig{Mode: machine.PinOutput})
			g.p.Low()
		}
		return nil
	}
	g.p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	g.p.Set(initial)
	return nil
}

func (g *mcuResetPin) Set(level bool) {
	if level {
		g.p.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
		return
	}
	g.p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	g.p.Low()
}

func (g *mcuResetPin) Get() bool { return g.p.Get() }

// mcuIRQPin adapts a machine.Pin with falling-edge interrupt support
// to hal.IRQPin.
type mcuIRQPin struct{ p machine.Pin }

func NewIRQPin(pin machine.Pin) hal.IRQPin {
	pin.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	return &mcuIRQPin{p: pin}
}

func (g *mcuIRQPin) Get() bool { return g.p.Get() }

func (g *mcuIRQPin) SetIRQ(fallingEdge bool, handler func()) error {
	change := machine.PinRising
	if fallingEdge {
		change = machine.PinFalling
	}
	return g.p.SetInterrupt(change, func(machine.Pin) { handler() })
}

func (g *mcuIRQPin) ClearIRQ() error {
	var zero machine.PinChange
	return g.p.SetInterrupt(zero, nil)
}

// NewSystemReset returns a hal.SystemReset bound to the RP2040's own
// watchdog-triggered reset, matching how the reference codebase never
// lets application code touch reset registers directly.
func NewSystemReset() hal.SystemReset {
	return func() { machine.CPUReset() }
}

// NowMs is the MCU tick source, backed by the runtime's monotonic
// clock via time, matching the reference codebase's halcore.Clock
// convention of a millisecond int64 rather than time.Time.
func NowMs() int64 {
	return timex.NowMs()
}
