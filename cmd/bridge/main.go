//go:build rp2040

// Command bridge is the RP2040 firmware entrypoint: it wires the real
// UART/I²C/GPIO peripherals (internal/platform, rp2040 build) to the
// orchestrator FSM and drives it from a tight polling loop, the same
// "single-threaded cooperative with interrupts" shape spec'd for the
// bridge's main loop — only the slave IRQ line runs as a true
// hardware interrupt, and it does nothing but flag a pending slave read
// for the next Process call.
package main

import (
	"machine"

	"github.com/jangala-dev/tinygo-uartx/uartx"

	"github.com/chenthusiasm/i2c-bridge/bus"
	"github.com/chenthusiasm/i2c-bridge/config"
	"github.com/chenthusiasm/i2c-bridge/internal/orchestrator"
	"github.com/chenthusiasm/i2c-bridge/internal/platform"
)

// Board wiring for the reference carrier: UART0 to the host, I2C0 to
// the slave, GP2 as its reset line, GP3 as its IRQ line.
const (
	resetGPIO = machine.GPIO2
	irqGPIO   = machine.GPIO3
)

func main() {
	cfg := config.Default()

	b := bus.NewBus(32)
	conn := b.NewConnection("bridge")

	pins := platform.Pins{
		I2C:    machine.I2C0,
		I2CSDA: machine.I2C0_SDA_PIN,
		I2CSCL: machine.I2C0_SCL_PIN,
		I2CHz:  uint32(400_000),
	}
	master := platform.NewI2CMaster(pins)
	resetPin := platform.NewResetPin(resetGPIO)
	irqPin := platform.NewIRQPin(irqGPIO)
	hostUART := platform.NewUARTPort(uartx.UART0, uint32(cfg.UART.BaudRate))

	o := orchestrator.New(hostUART, resetPin, irqPin, master, platform.NowMs, conn, orchestrator.Config{
		ErrorMessagePeriodMs: cfg.ErrorMessagePeriodMs,
		RxResetTimeoutMs:     cfg.RxResetTimeoutMs,
		MaxRecoveryAttempts:  cfg.MaxRecoveryAttempts,
		Sizing: orchestrator.Sizing{
			TranslateWords: cfg.Sizing.TranslateWords,
			UpdateWords:    cfg.Sizing.UpdateWords,
		},
	})
	o.SetResetFunc(platform.NewSystemReset())

	// The slave IRQ line is the bridge's only true hardware interrupt;
	// its handler does nothing but mark a pending slave read for Process.
	_ = irqPin.SetIRQ(true, o.NotifySlaveIRQ)

	for {
		o.Process(5)
	}
}
