// Package i2cfsm implements the non-blocking I²C communication FSM of
// spec §4.F: a multi-state driver loop polled from the main loop that
// interleaves IRQ-triggered slave reads with transfer-queue dispatch,
// translates low-level driver status into the bridge's status flags,
// and detects/recovers a locked bus.
package i2cfsm

import (
	"github.com/chenthusiasm/i2c-bridge/internal/alarm"
	"github.com/chenthusiasm/i2c-bridge/internal/hal"
	"github.com/chenthusiasm/i2c-bridge/internal/status"
	"github.com/chenthusiasm/i2c-bridge/internal/xfer"
	"github.com/chenthusiasm/i2c-bridge/x/mathx"
)

// AppRxPacketLengthSize is the fixed [command, length] header every
// inbound slave read begins with.
const AppRxPacketLengthSize = 2

// responseBufferSelect is written to the slave to switch it into the
// buffer the bridge expects to read a response from; the same packet
// also serves as the clear-IRQ write at the end of a read sequence.
var responseBufferSelect = []byte{0x20, 0x00}

// State is one step of the comms FSM.
type State int

const (
	Waiting State = iota
	rxSwitchToResponseBuffer
	rxReadHeader
	rxReadPayload
	txSubmit
	txCheckComplete
)

// Config carries the FSM's tunable timings (spec §4.L).
type Config struct {
	DetectTimeoutMs     int64
	RecoverPeriodMs     int64
	MaxRecoveryAttempts int
}

// ErrorFunc receives a (status, callsite) pair on every raised error.
type ErrorFunc func(s status.Status, cs status.CallSite)

// RxFunc receives the concatenated payload of one completed inbound
// slave read.
type RxFunc func(payload []byte)

// FSM is the comms driver. It owns no UART/GPIO; only the I²C master
// and IRQ line.
type FSM struct {
	master hal.I2CMaster
	irq    hal.IRQPin
	clock  alarm.Clock
	cfg    Config

	xferQ *xfer.Queue

	state            State
	rxPending        bool
	switchToResponse bool
	locked           bool
	recoveryAttempts int
	fatal            bool

	slaveAddr uint8

	header     [AppRxPacketLengthSize]byte
	headerN    int
	payload    []byte
	payloadLen int
	readSoFar  int
	rxMessage  []byte

	current     xfer.Transfer
	haveCurrent bool

	deadline     *alarm.Alarm
	detectAlarm  *alarm.Alarm
	recoverAlarm *alarm.Alarm

	timedOut bool

	onRX    RxFunc
	onError ErrorFunc
}

// New returns an FSM wired to master and irq, dispatching transfers
// from xferQ, driven by clock.
func New(master hal.I2CMaster, irq hal.IRQPin, xferQ *xfer.Queue, clock alarm.Clock, cfg Config) *FSM {
	if cfg.DetectTimeoutMs == 0 {
		cfg.DetectTimeoutMs = 100
	}
	if cfg.RecoverPeriodMs == 0 {
		cfg.RecoverPeriodMs = 50
	}
	if cfg.MaxRecoveryAttempts == 0 {
		cfg.MaxRecoveryAttempts = 10
	}
	return &FSM{
		master:       master,
		irq:          irq,
		clock:        clock,
		cfg:          cfg,
		xferQ:        xferQ,
		deadline:     alarm.New(clock),
		detectAlarm:  alarm.New(clock),
		recoverAlarm: alarm.New(clock),
	}
}

// SetSlaveAddr sets the address the inbound read sequence targets.
func (f *FSM) SetSlaveAddr(addr uint8) { f.slaveAddr = addr }

// SetOnRX registers the inbound-read completion callback.
func (f *FSM) SetOnRX(fn RxFunc) { f.onRX = fn }

// SetOnError registers the error callback.
func (f *FSM) SetOnError(fn ErrorFunc) { f.onError = fn }

// NotifyIRQ marks that the slave IRQ line fired. Called from the edge
// handler registered on the IRQ pin; the only writer of rxPending.
func (f *FSM) NotifyIRQ() { f.rxPending = true }

// State reports the current FSM state, for diagnostics/tests.
func (f *FSM) State() State { return f.state }

// Locked reports whether the bus is currently considered locked.
func (f *FSM) Locked() bool { return f.locked }

// Fatal reports whether recovery attempts have been exhausted (spec
// §REDESIGN FLAGS item 1: raise a fatal status rather than reset).
func (f *FSM) Fatal() bool { return f.fatal }

// Process advances the FSM through as many states as timeoutMs allows,
// returning once it reaches Waiting or must yield on an in-flight
// driver operation.
func (f *FSM) Process(timeoutMs int64) {
	f.deadline.Arm(timeoutMs, alarm.OneShot)
	f.timedOut = false

	for {
		if f.deadline.HasElapsed() {
			f.timedOut = true
			f.state = Waiting
			return
		}

		switch f.state {
		case Waiting:
			if f.tryRecover() {
				continue
			}
			if f.locked {
				return
			}
			if f.irq.Get() && f.rxPending {
				f.beginRead()
				continue
			}
			if !f.xferQ.IsEmpty() {
				f.state = txSubmit
				continue
			}
			return

		case rxSwitchToResponseBuffer:
			if err := f.write(responseBufferSelect, status.CallI2CProcess); err != nil {
				f.state = Waiting
				return
			}
			f.headerN = 0
			f.state = rxReadHeader

		case rxReadHeader:
			n, ok := f.pollRead(f.header[:], status.CallI2CProcess)
			if !ok {
				return
			}
			_ = n
			f.handleHeader()

		case rxReadPayload:
			n, ok := f.pollRead(f.payload[:f.payloadLen], status.CallI2CProcess)
			if !ok {
				return
			}
			_ = n
			f.finishRead()

		case txSubmit:
			t, ok := f.xferQ.Dequeue()
			if !ok {
				f.state = Waiting
				continue
			}
			f.current = t
			f.haveCurrent = true
			var err error
			if t.Dir == xfer.Write {
				err = f.master.SubmitWrite(t.Addr, t.Data)
			} else {
				err = f.master.SubmitRead(t.Addr, t.ReadLen)
			}
			if err != nil {
				f.reportStatus(status.DriverError, status.CallI2CProcess, status.LowLevelWrite)
				f.state = Waiting
				continue
			}
			f.state = txCheckComplete

		case txCheckComplete:
			done, _, err := f.master.Poll()
			f.translateDriverStatus(status.CallI2CProcess)
			if !done {
				return
			}
			if err != nil {
				f.reportStatus(status.DriverError, status.CallI2CProcess, status.LowLevelNone)
			}
			f.haveCurrent = false
			f.state = Waiting
		}
	}
}

func (f *FSM) beginRead() {
	f.rxPending = false
	if f.switchToResponse {
		f.state = rxSwitchToResponseBuffer
		return
	}
	f.headerN = 0
	f.state = rxReadHeader
}

func (f *FSM) write(data []byte, top uint8) error {
	if err := f.master.SubmitWrite(f.slaveAddr, data); err != nil {
		f.reportStatus(status.DriverError, top, status.LowLevelWrite)
		return err
	}
	for {
		done, _, err := f.master.Poll()
		f.translateDriverStatus(top)
		if done {
			if err != nil {
				f.reportStatus(status.DriverError, top, status.LowLevelWrite)
				return err
			}
			return nil
		}
	}
}

// pollRead submits (on first call for this header/payload phase) and
// polls a master read into dst, reporting (bytesRead, ready).
func (f *FSM) pollRead(dst []byte, top uint8) (int, bool) {
	if !f.haveCurrent {
		if err := f.master.SubmitRead(f.slaveAddr, len(dst)); err != nil {
			f.reportStatus(status.DriverError, top, status.LowLevelRead)
			return 0, false
		}
		f.haveCurrent = true
	}
	done, data, err := f.master.Poll()
	f.translateDriverStatus(top)
	if !done {
		return 0, false
	}
	f.haveCurrent = false
	if err != nil {
		f.reportStatus(status.DriverError, top, status.LowLevelRead)
		return 0, false
	}
	n := copy(dst, data)
	return n, true
}

func (f *FSM) handleHeader() {
	cmd := f.header[0]
	length := f.header[1]
	if cmd&0x7F == 0 || length == 0xFF {
		if f.switchToResponse {
			// Already retried once; give up this read cycle.
			f.reportStatus(status.InvalidRead, status.CallI2CProcess, status.LowLevelRead)
			f.state = Waiting
			return
		}
		f.switchToResponse = true
		f.state = rxSwitchToResponseBuffer
		return
	}
	f.switchToResponse = false
	if length == 0 {
		if f.onRX != nil {
			f.onRX(f.rxMessageFromHeader())
		}
		f.clearIRQ()
		f.state = Waiting
		return
	}
	f.payloadLen = int(length)
	if cap(f.payload) < f.payloadLen {
		f.payload = make([]byte, f.payloadLen)
	} else {
		f.payload = f.payload[:f.payloadLen]
	}
	extra := mathx.CeilDiv(uint32(f.payloadLen)*9*10, uint32(1024)) + 1
	f.deadline.Snooze(int64(extra))
	f.state = rxReadPayload
}

func (f *FSM) finishRead() {
	if f.onRX != nil {
		f.onRX(f.rxMessageFromHeaderAndPayload())
	}
	f.clearIRQ()
	f.state = Waiting
}

// rxMessageFromHeader returns the [command, length] header alone, for a
// zero-length read, reusing the FSM's scratch buffer.
func (f *FSM) rxMessageFromHeader() []byte {
	return f.rxMessageFromPayload(nil)
}

// rxMessageFromHeaderAndPayload concatenates the [command, length]
// header with the read payload (spec §4.F step 5 "concatenated
// payload"), reusing the FSM's scratch buffer rather than allocating on
// every completed read.
func (f *FSM) rxMessageFromHeaderAndPayload() []byte {
	return f.rxMessageFromPayload(f.payload[:f.payloadLen])
}

func (f *FSM) rxMessageFromPayload(payload []byte) []byte {
	n := AppRxPacketLengthSize + len(payload)
	if cap(f.rxMessage) < n {
		f.rxMessage = make([]byte, n)
	} else {
		f.rxMessage = f.rxMessage[:n]
	}
	copy(f.rxMessage, f.header[:])
	copy(f.rxMessage[AppRxPacketLengthSize:], payload)
	return f.rxMessage
}

func (f *FSM) clearIRQ() {
	_ = f.write(responseBufferSelect, status.CallI2CProcess)
	_ = f.irq.ClearIRQ()
}

// translateDriverStatus reads and clears the driver's sticky status
// register and maps it onto the bridge's status taxonomy, arming or
// checking the lock-detection alarm as needed (spec §4.F "Driver
// status translation").
func (f *FSM) translateDriverStatus(top uint8) {
	ds := f.master.Status()
	switch {
	case ds == hal.DriverOK:
		return
	case ds&hal.DriverAddrNak != 0:
		f.reportStatus(status.Nak, top, status.LowLevelNone)
	case ds&hal.DriverBusBusy != 0 || ds&hal.DriverNotReady != 0:
		if !f.detectAlarm.Armed() {
			f.detectAlarm.Arm(f.cfg.DetectTimeoutMs, alarm.OneShot)
		} else if f.detectAlarm.HasElapsed() {
			f.locked = true
			f.recoverAlarm.Arm(f.cfg.RecoverPeriodMs, alarm.OneShot)
			f.reportStatus(status.LockedBus, top, status.LowLevelNone)
		}
	default:
		f.reportStatus(status.DriverError, top, status.LowLevelNone)
	}
}

// tryRecover attempts locked-bus recovery when the recover alarm has
// elapsed, returning true if it ran (so the caller re-evaluates state).
func (f *FSM) tryRecover() bool {
	if !f.locked || f.fatal {
		return false
	}
	if !f.recoverAlarm.HasElapsed() {
		return false
	}
	_ = f.master.Reset()
	err := f.master.ProbeACK(f.slaveAddr)
	f.recoverAlarm.Arm(f.cfg.RecoverPeriodMs, alarm.OneShot)
	f.recoveryAttempts++
	cs := status.CallSite{TopCall: status.CallLockedBusRecover, RecoverFromLockedBus: true, LowLevelCall: status.LowLevelReset}
	if err == nil {
		f.locked = false
		f.recoveryAttempts = 0
		f.detectAlarm.Disarm()
		return true
	}
	if f.recoveryAttempts >= f.cfg.MaxRecoveryAttempts {
		f.fatal = true
		if f.onError != nil {
			f.onError(status.LockedBus, cs)
		}
	}
	return true
}

func (f *FSM) reportStatus(s status.Status, top uint8, lowLevel uint8) {
	if f.onError != nil {
		f.onError(s, status.CallSite{TopCall: top, IsBusReady: !f.locked, RecoverFromLockedBus: f.locked, LowLevelCall: lowLevel})
	}
}

// TimedOut reports whether the most recent Process call returned
// because its deadline elapsed rather than reaching Waiting.
func (f *FSM) TimedOut() bool { return f.timedOut }
