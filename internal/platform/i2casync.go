// Package platform supplies the concrete internal/hal bindings: a
// host/simulator build used by tests and the debug console, and an
// MCU build (rp2040 build tag) wiring the same interfaces to the real
// UART/I²C/GPIO/IRQ drivers. Selection happens entirely at compile
// time via build tags, following the reference codebase's
// services/hal/internal/platform factories_*.go pattern — one file
// per target, never a runtime switch.
package platform

import (
	"sync"

	"tinygo.org/x/drivers"

	"github.com/chenthusiasm/i2c-bridge/internal/hal"
)

// asyncI2C adapts a blocking tinygo.org/x/drivers.I2C onto hal.I2CMaster's
// non-blocking Submit/Poll shape, running the blocking Tx call on a
// worker goroutine and surfacing its result through Poll. This is the
// mirror image of the reference codebase's drvshim.I2C, which adapts a
// non-blocking owner onto drivers.I2C's single blocking Tx; here the
// direction of adaptation is reversed because the comms FSM this
// bridge implements (internal/i2cfsm) is IRQ-driven and must never
// block its caller.
type asyncI2C struct {
	bus drivers.I2C

	mu      sync.Mutex
	inFlight bool
	done    chan asyncResult
	status  hal.DriverStatus
}

type asyncResult struct {
	data []byte
	err  error
}

func newAsyncI2C(bus drivers.I2C) *asyncI2C {
	return &asyncI2C{bus: bus}
}

func (a *asyncI2C) submit(addr uint8, w []byte, readLen int) error {
	a.mu.Lock()
	if a.inFlight {
		a.mu.Unlock()
		return errBusy
	}
	a.inFlight = true
	done := make(chan asyncResult, 1)
	a.done = done
	a.mu.Unlock()

	var r []byte
	if readLen > 0 {
		r = make([]byte, readLen)
	}
	wcopy := append([]byte(nil), w...)
	go func() {
		err := a.bus.Tx(uint16(addr), wcopy, r)
		done <- asyncResult{data: r, err: err}
	}()
	return nil
}

// poll is non-blocking: it reports done=false until the worker
// goroutine has posted a result.
func (a *asyncI2C) poll() (done bool, data []byte, err error) {
	a.mu.Lock()
	ch := a.done
	a.mu.Unlock()
	if ch == nil {
		return true, nil, nil
	}
	select {
	case res := <-ch:
		a.mu.Lock()
		a.inFlight = false
		a.done = nil
		if res.err != nil {
			a.status = hal.DriverOtherError
		} else {
			a.status = hal.DriverOK
		}
		a.mu.Unlock()
		return true, res.data, res.err
	default:
		return false, nil, nil
	}
}

func (a *asyncI2C) takeStatus() hal.DriverStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.status
	a.status = hal.DriverOK
	return s
}

func (a *asyncI2C) probeACK(addr uint8) error {
	return a.bus.Tx(uint16(addr), nil, nil)
}

type busyError struct{}

func (busyError) Error() string { return "i2c: transfer already in flight" }

var errBusy = busyError{}
