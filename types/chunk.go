package types

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
)

// Chunk is a half-open key range [Min, Max). A nil bound is unbounded.
type Chunk struct {
	Min any `json:"min"`
	Max any `json:"max"`
}

func (c Chunk) String() string {
	return fmt.Sprintf("[%v, %v)", boundString(c.Min), boundString(c.Max))
}

func boundString(v any) string {
	if v == nil {
		return "∞"
	}
	return fmt.Sprint(v)
}

// UnmarshalJSON keeps integer bounds as int64 instead of float64.
func (c *Chunk) UnmarshalJSON(data []byte) error {
	var raw struct {
		Min any `json:"min"`
		Max any `json:"max"`
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(&raw); err != nil {
		return err
	}

	c.Min = normalizeNumber(raw.Min)
	c.Max = normalizeNumber(raw.Max)
	return nil
}

func normalizeNumber(v any) any {
	number, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := number.Int64(); err == nil {
		return i
	}
	if f, err := number.Float64(); err == nil {
		return f
	}
	return number.String()
}
