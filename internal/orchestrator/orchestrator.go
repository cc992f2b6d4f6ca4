// Package orchestrator implements the bridge orchestrator FSM of spec
// §4.J: the outer state machine that sequences host-link
// initialization, slave hardware reset, mode activation between
// translate and update, and fault latching across the frame codec,
// arena, I²C FSM, and mode controllers.
package orchestrator

import (
	"github.com/chenthusiasm/i2c-bridge/bus"
	"github.com/chenthusiasm/i2c-bridge/internal/alarm"
	"github.com/chenthusiasm/i2c-bridge/internal/arena"
	"github.com/chenthusiasm/i2c-bridge/internal/frame"
	"github.com/chenthusiasm/i2c-bridge/internal/hal"
	"github.com/chenthusiasm/i2c-bridge/internal/i2cfsm"
	"github.com/chenthusiasm/i2c-bridge/internal/pktqueue"
	"github.com/chenthusiasm/i2c-bridge/internal/status"
	"github.com/chenthusiasm/i2c-bridge/internal/translate"
	"github.com/chenthusiasm/i2c-bridge/internal/update"
	"github.com/chenthusiasm/i2c-bridge/internal/xfer"
	"github.com/chenthusiasm/i2c-bridge/x/fmtx"
)

// State is a step of the outer bridge FSM (spec §4.J).
type State int

const (
	InitHostComm State = iota
	InitSlaveReset
	CheckSlaveResetComplete
	InitSlaveTranslate
	InitSlaveUpdate
	SlaveTranslate
	SlaveUpdate
	HostCommFailed
	SlaveTranslateFailed
	SlaveUpdateFailed
)

// eventTopic is the root of every lifecycle/fault message this package
// publishes on the diagnostic bus (spec §4.N).
var eventTopic = bus.T("bridge", "event")

// Sizing carries the per-mode word budgets the arena is partitioned
// between (spec §4.D, §4.J "mode activation").
type Sizing struct {
	TranslateWords int
	UpdateWords    int
}

// Config bundles the orchestrator's tunable timings (spec §4.L).
type Config struct {
	ErrorMessagePeriodMs int64
	ResetHoldMs          int64
	ResetVerifyMs        int64
	RxResetTimeoutMs     int64
	I2C                  i2cfsm.Config
	Sizing               Sizing
	MaxRecoveryAttempts  int
}

func (c *Config) applyDefaults() {
	if c.ErrorMessagePeriodMs == 0 {
		c.ErrorMessagePeriodMs = 5000
	}
	if c.ResetHoldMs == 0 {
		c.ResetHoldMs = 100
	}
	if c.ResetVerifyMs == 0 {
		c.ResetVerifyMs = 1
	}
	if c.RxResetTimeoutMs == 0 {
		c.RxResetTimeoutMs = 2000
	}
	if c.MaxRecoveryAttempts != 0 {
		c.I2C.MaxRecoveryAttempts = c.MaxRecoveryAttempts
	}
}

// Orchestrator is the bridge's outer FSM, owning every subsystem.
type Orchestrator struct {
	cfg Config

	uart     hal.UARTPort
	resetPin hal.GPIOPin
	clock    alarm.Clock

	arena *arena.Arena

	decoder *frame.Decoder
	encoder frame.Encoder
	rx      *pktqueue.Queue
	tx      *pktqueue.Queue
	xferQ   *xfer.Queue

	i2c       *i2cfsm.FSM
	translate *translate.Controller
	update    *update.Controller

	conn *bus.Connection

	state State
	fault status.Status

	resetAlarm  *alarm.Alarm
	verifyAlarm *alarm.Alarm
	errAlarm    *alarm.Alarm

	pendingUpdate update.FileInfo
	haveUpdate    bool

	rxByte [64]byte
	txByte [128]byte
}

// New wires an orchestrator from its peripheral bindings and a shared
// diagnostic bus connection.
func New(uart hal.UARTPort, resetPin hal.GPIOPin, irq hal.IRQPin, master hal.I2CMaster, clock alarm.Clock, conn *bus.Connection, cfg Config) *Orchestrator {
	cfg.applyDefaults()

	words := cfg.Sizing.TranslateWords
	if words < cfg.Sizing.UpdateWords {
		words = cfg.Sizing.UpdateWords
	}

	o := &Orchestrator{
		cfg:         cfg,
		uart:        uart,
		resetPin:    resetPin,
		clock:       clock,
		arena:       arena.New(words),
		conn:        conn,
		resetAlarm:  alarm.New(clock),
		verifyAlarm: alarm.New(clock),
		errAlarm:    alarm.New(clock),
	}

	o.rx = pktqueue.New(8, 256)
	o.tx = pktqueue.New(8, 256)
	o.tx.RegisterEncode(o.encoder.Encode)
	o.decoder = frame.NewDecoder(clock, o.rx, cfg.RxResetTimeoutMs)

	o.xferQ = xfer.New(8, 256)
	o.i2c = i2cfsm.New(master, irq, o.xferQ, clock, cfg.I2C)
	o.i2c.SetOnError(o.onI2CError)
	o.i2c.SetOnRX(o.onSlaveRX)

	o.translate = translate.New(o.tx, &o.encoder, o.xferQ, nil, translate.Version{})
	o.translate.SetOnUpdateRequested(o.onUpdateRequested)

	o.update = update.New(o.xferQ, o.onUpdateError)
	o.update.SetEventFunc(o.onUpdateEvent)

	return o
}

// SetResetFunc registers the system-reset callback for translate's
// "Reset" command (spec §4.H).
func (o *Orchestrator) SetResetFunc(fn hal.SystemReset) {
	o.translate = translate.New(o.tx, &o.encoder, o.xferQ, fn, translate.Version{})
	o.translate.SetOnUpdateRequested(o.onUpdateRequested)
}

// State reports the orchestrator's current outer state.
func (o *Orchestrator) State() State { return o.state }

// TXQueue exposes the outbound framed-packet queue for the UART writer.
func (o *Orchestrator) TXQueue() *pktqueue.Queue { return o.tx }

// FeedByte hands one received UART byte to the frame decoder. Process
// calls it for each byte it reads from the UART port; it can also be
// called directly.
func (o *Orchestrator) FeedByte(b byte) { o.decoder.FeedByte(b) }

// NotifySlaveIRQ marks that the slave IRQ line fired (spec §5
// "Interrupt boundaries").
func (o *Orchestrator) NotifySlaveIRQ() { o.i2c.NotifyIRQ() }

func (o *Orchestrator) publish(name string, fields map[string]any) {
	if o.conn == nil {
		return
	}
	if fields == nil {
		fields = map[string]any{}
	}
	fields["event"] = name
	fields["state"] = int(o.state)
	o.conn.Publish(o.conn.NewMessage(eventTopic, fields, false))
}

func (o *Orchestrator) publishFault(s status.Status, cs status.CallSite) {
	if o.conn == nil {
		return
	}
	o.conn.Publish(o.conn.NewMessage(bus.T("bridge", "fault"), map[string]any{
		"status":   s.String(),
		"callsite": cs.Pack(),
		"state":    int(o.state),
	}, true))
}

func (o *Orchestrator) transition(next State) {
	o.state = next
	o.publish("transition", nil)
}

// Process advances the orchestrator by one scheduling slice: drains
// received bytes, runs one step of the outer FSM, services the comms
// FSM, and drains outbound bytes — mirroring the main-loop sequencing
// of spec §5.
func (o *Orchestrator) Process(timeoutMs int64) {
	o.pumpUARTRx()

	switch o.state {
	case InitHostComm:
		if o.uart == nil {
			o.latchFault(HostCommFailed, status.InvalidInputParameters, status.CallOrchestratorProcess)
			return
		}
		o.transition(InitSlaveReset)

	case InitSlaveReset:
		if !o.resetAlarm.Armed() {
			if o.resetPin != nil {
				_ = o.resetPin.ConfigureOutput(true, false) // open-drain, drive low
				o.resetPin.Set(false)
			}
			o.resetAlarm.Arm(o.cfg.ResetHoldMs, alarm.OneShot)
			return
		}
		if !o.resetAlarm.HasElapsed() {
			return
		}
		if o.resetPin != nil {
			o.resetPin.Set(true)
		}
		o.verifyAlarm.Arm(o.cfg.ResetVerifyMs, alarm.OneShot)
		o.transition(CheckSlaveResetComplete)

	case CheckSlaveResetComplete:
		if !o.verifyAlarm.HasElapsed() {
			return
		}
		if o.resetPin != nil && !o.resetPin.Get() {
			o.latchFault(SlaveTranslateFailed, status.SlaveResetFailed, status.CallOrchestratorProcess)
			return
		}
		o.transition(InitSlaveTranslate)

	case InitSlaveTranslate:
		if _, ok := o.arena.Activate(o.cfg.Sizing.TranslateWords); !ok {
			o.arena.Reset()
			o.latchFault(SlaveTranslateFailed, status.InvalidInputParameters, status.CallOrchestratorProcess)
			return
		}
		o.decoder.SetDialect(frame.DialectTranslate)
		o.transition(SlaveTranslate)

	case SlaveTranslate:
		o.drainRX(o.translate.Dispatch)
		o.i2c.Process(timeoutMs)
		if o.haveUpdate {
			o.haveUpdate = false
			if !o.arena.Deactivate(o.cfg.Sizing.TranslateWords) {
				o.latchFault(SlaveUpdateFailed, status.MemoryLeak, status.CallOrchestratorProcess)
				return
			}
			o.transition(InitSlaveUpdate)
		}

	case InitSlaveUpdate:
		if _, ok := o.arena.Activate(o.cfg.Sizing.UpdateWords); !ok {
			o.arena.Reset()
			o.latchFault(SlaveUpdateFailed, status.InvalidInputParameters, status.CallOrchestratorProcess)
			return
		}
		o.decoder.SetDialect(frame.DialectUpdate)
		o.decoder.ConfigureUpdate(frame.UpdateParams{
			TotalBytes:   int(o.pendingUpdate.TotalSize),
			SubchunkSize: o.pendingUpdate.SubchunkSize,
		})
		o.decoder.SetOnFileComplete(o.onUpdateFileComplete)
		o.transition(SlaveUpdate)

	case SlaveUpdate:
		o.drainRX(o.update.ProcessSubchunk)
		o.i2c.Process(timeoutMs)

	case HostCommFailed, SlaveTranslateFailed, SlaveUpdateFailed:
		o.serviceFault()
	}

	o.pumpUARTTx()
}

func (o *Orchestrator) drainRX(handle func([]byte)) {
	for {
		view, ok := o.rx.Dequeue()
		if !ok {
			return
		}
		handle(view)
	}
}

func (o *Orchestrator) onUpdateRequested(flags uint8, fileSize uint16, subchunkSize, chunks, delayMs uint8) {
	o.pendingUpdate = o.update.BeginFile(flags, fileSize, subchunkSize, chunks, delayMs)
	o.haveUpdate = true
}

func (o *Orchestrator) onUpdateFileComplete() {
	if !o.arena.Deactivate(o.cfg.Sizing.UpdateWords) {
		o.latchFault(SlaveTranslateFailed, status.MemoryLeak, status.CallOrchestratorProcess)
		return
	}
	o.decoder.SetDialect(frame.DialectTranslate)
	o.transition(InitSlaveTranslate)
}

// onSlaveRX re-frames a completed IRQ-triggered slave read (spec §4.F
// step 5's concatenated [command, length] header plus payload) as an
// outbound host packet, with no command marker of its own (spec §2
// control flow F->B).
func (o *Orchestrator) onSlaveRX(payload []byte) {
	o.tx.Enqueue(payload)
}

func (o *Orchestrator) onI2CError(s status.Status, cs status.CallSite) {
	o.translate.RaiseError(s, cs)
	o.publishFault(s, cs)
}

func (o *Orchestrator) onUpdateError(s status.Status) {
	o.publishFault(s, status.CallSite{TopCall: status.CallUpdateProcessRX})
}

func (o *Orchestrator) onUpdateEvent(name string) {
	o.publish(name, nil)
}

func (o *Orchestrator) latchFault(next State, s status.Status, top uint8) {
	o.fault = o.fault.Set(s)
	o.state = next
	cs := status.CallSite{TopCall: top}
	o.publishFault(s, cs)
	o.errAlarm.Arm(o.cfg.ErrorMessagePeriodMs, alarm.Continuous)
}

func (o *Orchestrator) serviceFault() {
	if !o.errAlarm.Armed() {
		o.errAlarm.Arm(o.cfg.ErrorMessagePeriodMs, alarm.Continuous)
	}
	if !o.errAlarm.HasElapsed() {
		return
	}
	msg := fmtx.Sprintf("FAULT state=%d status=%s arenaCap=%d words=%d\r\n", o.state, o.fault.String(), o.arena.CapWords(), o.failedModeWords())
	if o.uart != nil {
		_, _ = o.uart.Write([]byte(msg))
	}
	o.publishFault(o.fault, status.CallSite{TopCall: status.CallOrchestratorProcess})
}

// failedModeWords reports the word requirement of the mode that was
// active (or about to activate) when the fault latched, so the
// diagnostic names what the arena was sized for alongside its actual
// capacity. HostCommFailed precedes both modes; translate is the first
// mode the bridge attempts, so its budget is the relevant one there too.
func (o *Orchestrator) failedModeWords() int {
	switch o.state {
	case SlaveUpdateFailed:
		return o.cfg.Sizing.UpdateWords
	default:
		return o.cfg.Sizing.TranslateWords
	}
}

func (o *Orchestrator) pumpUARTRx() {
	if o.uart == nil {
		return
	}
	n, err := o.uart.Read(o.rxByte[:])
	if err != nil || n == 0 {
		return
	}
	for _, b := range o.rxByte[:n] {
		o.FeedByte(b)
	}
}

func (o *Orchestrator) pumpUARTTx() {
	if o.uart == nil {
		return
	}
	for {
		view, ok := o.tx.Dequeue()
		if !ok {
			return
		}
		_, _ = o.uart.Write(view)
	}
}
