package mtp2

import "time"

// ErrorCorrection selects the Q.703 retransmission mode, per spec.md §4.4.
type ErrorCorrection int

const (
	Basic ErrorCorrection = iota
	Preventive
	Adaptive
)

// Config holds the MTP2 control mapping from spec.md §6, applied by
// Initialize. Zero values are replaced by the defaults noted per field,
// following rob-gra-go-iecp5/cs104/config.go's min/max/default convention.
type Config struct {
	ResendTimeout   time.Duration // "resend_ms", default 500ms (T7-equivalent)
	AbortTimeout    time.Duration // "abort_ms", default 5s (T1-equivalent, alignment)
	FillInterval    time.Duration // "fill_interval_ms", default 20ms
	MaxErrors       int           // "max_errors": N/E proving LSSUs needed to complete alignment, default 1; proving errors are not counted
	FillLink        bool          // "fill_link": send FISUs between MSUs while idle
	AutoStart       bool          // "auto_start": begin alignment immediately on attach
	FlushOnAlign    bool          // "flush_on_align": discard retransmission queue on realignment
	AutoEmergency   bool          // "auto_emergency" (open question, spec.md §9): default true
	ErrorCorrection ErrorCorrection
}

// defaults fills unset fields.
func (c *Config) defaults() {
	if c.ResendTimeout == 0 {
		c.ResendTimeout = 500 * time.Millisecond
	}
	if c.AbortTimeout == 0 {
		c.AbortTimeout = 5 * time.Second
	}
	if c.FillInterval == 0 {
		c.FillInterval = 20 * time.Millisecond
	}
	if c.MaxErrors == 0 {
		c.MaxErrors = 1
	}
}

// fromParams decodes the spec.md §6 MTP2 control mapping into a Config,
// leaving zero values where a key is absent so defaults() can apply.
func fromParams(params map[string]any) Config {
	var c Config
	if v, ok := params["resend_ms"]; ok {
		c.ResendTimeout = time.Duration(toInt(v)) * time.Millisecond
	}
	if v, ok := params["abort_ms"]; ok {
		c.AbortTimeout = time.Duration(toInt(v)) * time.Millisecond
	}
	if v, ok := params["fill_interval_ms"]; ok {
		c.FillInterval = time.Duration(toInt(v)) * time.Millisecond
	}
	if v, ok := params["max_errors"]; ok {
		c.MaxErrors = int(toInt(v))
	}
	if v, ok := params["fill_link"].(bool); ok {
		c.FillLink = v
	}
	if v, ok := params["auto_start"].(bool); ok {
		c.AutoStart = v
	}
	if v, ok := params["flush_on_align"].(bool); ok {
		c.FlushOnAlign = v
	}
	if v, ok := params["auto_emergency"].(bool); ok {
		c.AutoEmergency = v
	} else {
		c.AutoEmergency = true // spec.md §9 recorded default
	}
	c.defaults()
	return c
}

func toInt(v any) int64 {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case float64:
		return int64(x)
	default:
		return 0
	}
}
