// Command console is the host-side debug console of spec §4.O: it
// drives a bridge orchestrator wired entirely to the host/simulator
// platform bindings (internal/platform, !rp2040 build) and lets an
// operator issue translate-mode commands from a terminal, watching
// both the framed host-link responses and the diagnostic bus's
// lifecycle/fault events.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/shlex"

	"github.com/chenthusiasm/i2c-bridge/bus"
	"github.com/chenthusiasm/i2c-bridge/config"
	"github.com/chenthusiasm/i2c-bridge/internal/frame"
	"github.com/chenthusiasm/i2c-bridge/internal/hal"
	"github.com/chenthusiasm/i2c-bridge/internal/orchestrator"
	"github.com/chenthusiasm/i2c-bridge/internal/platform"
	"github.com/chenthusiasm/i2c-bridge/x/strx"
)

func main() {
	cfg := config.Default()

	b := bus.NewBus(64)
	conn := b.NewConnection("console")
	events := conn.Subscribe(bus.T("bridge", "event"))
	faults := conn.Subscribe(bus.T("bridge", "fault"))

	uart := platform.NewSimUART()
	resetPin := platform.NewSimPin(true)
	irqPin := platform.NewSimPin(false)
	master := platform.NewSimI2C(slaveModel)

	o := orchestrator.New(uart, resetPin, irqPin, master, platform.Clock, conn, orchestrator.Config{
		ErrorMessagePeriodMs: cfg.ErrorMessagePeriodMs,
		RxResetTimeoutMs:     cfg.RxResetTimeoutMs,
		MaxRecoveryAttempts:  cfg.MaxRecoveryAttempts,
		Sizing: orchestrator.Sizing{
			TranslateWords: cfg.Sizing.TranslateWords,
			UpdateWords:    cfg.Sizing.UpdateWords,
		},
	})
	o.SetResetFunc(platform.SystemReset(func() { fmt.Println("[bridge requested a system reset]") }))

	stop := make(chan struct{})
	go pumpLoop(o, stop)
	go printTopic("event", events)
	go printTopic("fault", faults)

	banner := strx.Coalesce(os.Getenv("BRIDGE_CONSOLE_BANNER"), "i2c-bridge debug console")
	fmt.Println(banner + " — type 'help' for commands")
	runREPL(o, uart)
	close(stop)
}

// pumpLoop runs the orchestrator's cooperative main loop, mirroring
// spec §5's scheduling on a host goroutine instead of a bare-metal
// tick.
func pumpLoop(o *orchestrator.Orchestrator, stop <-chan struct{}) {
	t := time.NewTicker(2 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			o.Process(5)
		}
	}
}

func printTopic(label string, sub *bus.Subscription) {
	for msg := range sub.Channel() {
		fmt.Printf("[%s] %v\n", label, msg.Payload)
	}
}

func runREPL(o *orchestrator.Orchestrator, uart *platform.SimUART) {
	sc := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !sc.Scan() {
			return
		}
		args, err := shlex.Split(sc.Text())
		if err != nil || len(args) == 0 {
			continue
		}
		if err := dispatch(args, uart); err != nil {
			fmt.Println("error:", err)
		}
		time.Sleep(20 * time.Millisecond) // let the pump loop settle
		if out := uart.Out(); len(out) > 0 {
			fmt.Println("<-", hexDump(out))
		}
	}
}

func dispatch(args []string, uart *platform.SimUART) error {
	switch args[0] {
	case "help":
		fmt.Println("commands: reset | write <addr> <hex...> | read <addr> <n> | update <file> | version | status")
		return nil

	case "reset":
		uart.Inject(encodeCommand('r', nil))
		return nil

	case "version":
		uart.Inject(encodeCommand('v', nil))
		return nil

	case "status":
		uart.Inject(encodeCommand('A', nil))
		return nil

	case "write":
		if len(args) < 3 {
			return fmt.Errorf("usage: write <addr> <hex...>")
		}
		addr, err := parseByte(args[1])
		if err != nil {
			return err
		}
		data := make([]byte, 0, len(args)-2)
		for _, tok := range args[2:] {
			v, err := parseByte(tok)
			if err != nil {
				return err
			}
			data = append(data, v)
		}
		uart.Inject(encodeCommand('W', append([]byte{addr}, data...)))
		return nil

	case "read":
		if len(args) < 3 {
			return fmt.Errorf("usage: read <addr> <n>")
		}
		addr, err := parseByte(args[1])
		if err != nil {
			return err
		}
		n, err := parseByte(args[2])
		if err != nil {
			return err
		}
		uart.Inject(encodeCommand('R', []byte{addr, n}))
		return nil

	case "update":
		return fmt.Errorf("update <file>: firmware image streaming is not implemented in the console")

	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func parseByte(tok string) (byte, error) {
	v, err := strconv.ParseUint(tok, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", tok, err)
	}
	return byte(v), nil
}

// encodeCommand frames a host->bridge command packet using the same
// sentinel/escape codec the bridge's decoder expects, via the
// production frame.Encoder rather than a hand-rolled duplicate.
func encodeCommand(cmd byte, body []byte) []byte {
	var enc frame.Encoder
	enc.SetCommand(cmd)
	dst := make([]byte, 2*len(body)+8)
	n, ok := enc.Encode(dst, body)
	if !ok {
		return nil
	}
	return dst[:n]
}

// hexDump renders bytes as space-separated two-digit hex by hand
// rather than fmt's %x, matching how the reference codebase keeps its
// wire-level byte dumps off the fmt/strconv path.
func hexDump(b []byte) string {
	out := make([]byte, 0, len(b)*3)
	var digits [2]byte
	for i, c := range b {
		if i > 0 {
			out = append(out, ' ')
		}
		hi, lo := c>>4, c&0xF
		digits[0] = hexDigit(hi)
		digits[1] = hexDigit(lo)
		out = append(out, digits[:]...)
	}
	return string(out)
}

func hexDigit(n byte) byte {
	if n < 10 {
		return '0' + n
	}
	return 'a' + (n - 10)
}

// slaveModel is the console's simulated slave: it ACKs every write and
// returns zeroed bytes for every read, enough to exercise translate
// mode's command flow end to end without real hardware.
func slaveModel(addr uint8, write []byte, readLen int) ([]byte, hal.DriverStatus) {
	if readLen == 0 {
		return nil, hal.DriverOK
	}
	return make([]byte, readLen), hal.DriverOK
}
