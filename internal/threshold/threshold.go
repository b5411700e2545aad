package threshold

import (
	"strings"
)

// Entry is one configured threshold. Entries are applied in order, so a
// later entry for the same code replaces an earlier one.
type Entry struct {
	Code  string
	Limit float64
}

// displayNames are English labels for the stack monitoring codes. Plant
// exports use the Vietnamese names: TS01 Lưu lượng, TS02 Áp suất,
// TS03 Nhiệt độ, TS04 O₂ dư, TS05 Bụi tổng.
var displayNames = map[string]string{
	"TS01": "Flow rate",
	"TS02": "Pressure",
	"TS03": "Temperature",
	"TS04": "Excess O₂",
	"TS05": "Total dust",
	"TS06": "CO",
	"TS07": "NOx",
	"TS08": "SO₂",
}

// Engine flags predictions that exceed a per-parameter threshold. It is
// read-only after New and safe for concurrent use.
type Engine struct {
	limits map[string]float64
}

func New(entries []Entry) *Engine {
	e := &Engine{limits: make(map[string]float64, len(entries))}
	for _, en := range entries {
		key := Normalize(en.Code)
		if key == "" {
			continue
		}
		e.limits[key] = en.Limit
	}
	return e
}

// Normalize returns the lookup key for a parameter code.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Classify returns the threshold for code and whether predicted exceeds it.
// Codes with no threshold, or a threshold <= 0, are never warnings and
// report no threshold.
func (e *Engine) Classify(code string, predicted float64) (*float64, bool) {
	if e == nil {
		return nil, false
	}
	limit, ok := e.limits[Normalize(code)]
	if !ok || limit <= 0 {
		return nil, false
	}
	return &limit, predicted > limit
}

// DisplayName returns the human-readable name of a parameter code, or the
// code itself when it has none.
func (e *Engine) DisplayName(code string) string {
	if name, ok := displayNames[Normalize(code)]; ok {
		return name
	}
	return code
}

// Limits returns a copy of the configured thresholds keyed by normalised code.
func (e *Engine) Limits() map[string]float64 {
	out := make(map[string]float64)
	if e == nil {
		return out
	}
	for k, v := range e.limits {
		out[k] = v
	}
	return out
}

func (e *Engine) Len() int {
	if e == nil {
		return 0
	}
	return len(e.limits)
}
