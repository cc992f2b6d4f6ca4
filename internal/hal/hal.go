// Package hal declares the abstract peripheral surface the bridge
// drives: UART, I²C master, open-drain GPIO, edge-triggered IRQ input,
// and a millisecond tick source. Per spec §1 these are out-of-scope
// collaborators — "only their interfaces matter" — so this package is
// deliberately thin, adapted from the reference codebase's
// halcore.UARTPort/I2C/GPIOPin/IRQPin interfaces (which exist for the
// identical reason: to keep device logic portable between an MCU build
// and a host/simulator build). Concrete bindings live in
// internal/platform.
package hal

import "context"

// Clock reads the millisecond system tick. Swappable for tests.
type Clock func() int64

// UARTPort is the host-facing serial link the frame codec reads and
// writes. Modeled on halcore.UARTPort, trimmed to what the RX/TX paths
// need.
type UARTPort interface {
	WriteByte(b byte) error
	Write(p []byte) (int, error)
	Read(p []byte) (int, error)
	Readable() <-chan struct{}
	RecvSomeContext(ctx context.Context, p []byte) (int, error)
}

// DriverStatus mirrors the low-level I²C peripheral's sticky status
// register, read-and-cleared after each call (spec §4.F "driver status
// translation").
type DriverStatus uint8

const (
	DriverOK         DriverStatus = 0
	DriverAddrNak    DriverStatus = 1 << 0
	DriverBusBusy    DriverStatus = 1 << 1
	DriverNotReady   DriverStatus = 1 << 2
	DriverOtherError DriverStatus = 1 << 3
)

// I2CMaster is the non-blocking master-side I²C driver the comms FSM
// polls. Submit* starts a transfer; Poll reports completion and status
// without blocking, matching the IRQ-driven hardware this models.
// (tinygo.org/x/drivers.I2C is a single blocking Tx call; the platform
// bindings in internal/platform adapt one onto this shape, the same
// way the reference codebase's drvshim package adapts a blocking owner
// onto the tinygo driver interface, just in the opposite direction.)
type I2CMaster interface {
	SubmitWrite(addr uint8, data []byte) error
	SubmitRead(addr uint8, n int) error
	// Poll returns done=true once the in-flight transfer has completed
	// (successfully or not). data is populated for a completed read.
	Poll() (done bool, data []byte, err error)
	// Status reads and clears the sticky driver status register.
	Status() DriverStatus
	// Reset stops the peripheral, clears status, and reinitializes it —
	// used by locked-bus recovery.
	Reset() error
	// ProbeACK attempts a zero-length write to addr to test for a bus ACK.
	ProbeACK(addr uint8) error
}

// GPIOPin is a simple digital pin, used for the slave reset line.
type GPIOPin interface {
	ConfigureOutput(openDrain bool, initial bool) error
	Set(level bool)
	Get() bool
}

// IRQPin is a GPIO pin that can additionally notify on an edge. Used for
// the slave IRQ input.
type IRQPin interface {
	Get() bool
	SetIRQ(fallingEdge bool, handler func()) error
	ClearIRQ() error
}

// SystemReset requests a controlled software reset. Externalized per
// spec §4.H so translate mode's "Reset" command and the locked-bus
// recovery policy never touch a peripheral register directly.
type SystemReset func()
