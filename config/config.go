// Package config implements the bridge's Config (spec §4.L): defaults
// for every numeric tunable named elsewhere in the specification, and
// a JSON merge that overrides only the fields a loaded document
// actually names — the same declarative, partial-override idiom the
// reference codebase uses for its embedded per-device JSON
// (services/config), built on the same minimal decoder,
// github.com/andreyvit/tinyjson, rather than encoding/json: the
// decoder's Raw.Value() walk into a generic map[string]any is exactly
// the shape a field-by-field optional merge wants.
package config

import (
	"github.com/andreyvit/tinyjson"

	"github.com/chenthusiasm/i2c-bridge/x/mathx"
)

// ErrorMode selects legacy one-byte vs. framed global error reporting.
type ErrorMode string

const (
	ErrorModeLegacy ErrorMode = "legacy"
	ErrorModeGlobal ErrorMode = "global"
)

// UART carries the fixed serial parameters (spec §6).
type UART struct {
	BaudRate int
	DataBits int
	Parity   string
	StopBits int
}

// Sizing carries the per-mode arena word budgets (spec §4.D, §4.J).
type Sizing struct {
	TranslateWords int
	UpdateWords    int
}

// Config is the bridge's full tunable surface.
type Config struct {
	RxResetTimeoutMs     int64
	ErrorMessagePeriodMs int64
	DetectTimeoutMs      int64
	RecoverPeriodMs      int64
	MaxRecoveryAttempts  int
	MinUpdateSubchunk    int
	ErrorMode            ErrorMode
	UART                 UART
	Sizing               Sizing
}

// Default returns the configuration with every numeric default named
// in spec §4.L.
func Default() Config {
	return Config{
		RxResetTimeoutMs:     2000,
		ErrorMessagePeriodMs: 5000,
		DetectTimeoutMs:      100,
		RecoverPeriodMs:      50,
		MaxRecoveryAttempts:  10,
		MinUpdateSubchunk:    22,
		ErrorMode:            ErrorModeLegacy,
		UART: UART{
			BaudRate: 1_000_000,
			DataBits: 8,
			Parity:   "none",
			StopBits: 1,
		},
		Sizing: Sizing{
			TranslateWords: 512,
			UpdateWords:    1024,
		},
	}
}

// Load decodes raw JSON over a copy of Default, overriding only the
// top-level and nested fields present in raw. An empty or malformed
// document leaves every field at its default.
func Load(raw []byte) Config {
	cfg := Default()
	if len(raw) == 0 {
		return cfg
	}
	r := tinyjson.Raw(raw)
	val := r.Value()
	r.EnsureEOF()
	m, ok := val.(map[string]any)
	if !ok {
		return cfg
	}
	applyTop(&cfg, m)
	return cfg
}

func applyTop(cfg *Config, m map[string]any) {
	if v, ok := asInt64(m["rxResetTimeoutMs"]); ok {
		cfg.RxResetTimeoutMs = v
	}
	if v, ok := asInt64(m["errorMessagePeriodMs"]); ok {
		cfg.ErrorMessagePeriodMs = v
	}
	if v, ok := asInt64(m["detectTimeoutMs"]); ok {
		cfg.DetectTimeoutMs = v
	}
	if v, ok := asInt64(m["recoverPeriodMs"]); ok {
		cfg.RecoverPeriodMs = v
	}
	if v, ok := asInt64(m["maxRecoveryAttempts"]); ok {
		cfg.MaxRecoveryAttempts = mathx.Clamp(int(v), 1, 255)
	}
	if v, ok := asInt64(m["minUpdateSubchunk"]); ok {
		cfg.MinUpdateSubchunk = int(v)
	}
	if v, ok := m["errorMode"].(string); ok {
		if v == string(ErrorModeGlobal) {
			cfg.ErrorMode = ErrorModeGlobal
		} else {
			cfg.ErrorMode = ErrorModeLegacy
		}
	}
	if v, ok := m["uart"].(map[string]any); ok {
		applyUART(&cfg.UART, v)
	}
	if v, ok := m["sizing"].(map[string]any); ok {
		applySizing(&cfg.Sizing, v)
	}
}

func applyUART(u *UART, m map[string]any) {
	if v, ok := asInt64(m["baudRate"]); ok {
		u.BaudRate = int(v)
	}
	if v, ok := asInt64(m["dataBits"]); ok {
		u.DataBits = int(v)
	}
	if v, ok := m["parity"].(string); ok {
		u.Parity = v
	}
	if v, ok := asInt64(m["stopBits"]); ok {
		u.StopBits = int(v)
	}
}

func applySizing(s *Sizing, m map[string]any) {
	if v, ok := asInt64(m["translateWords"]); ok {
		s.TranslateWords = int(v)
	}
	if v, ok := asInt64(m["updateWords"]); ok {
		s.UpdateWords = int(v)
	}
}

// asInt64 accepts the numeric shapes tinyjson.Value can produce for a
// JSON number (float64 is the common case; int64 covers decoders that
// preserve integers exactly).
func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}
