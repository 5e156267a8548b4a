package typeutils

import (
	"bytes"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"
)

// Compare returns 0 for equal, -1 if a < b else 1 if a > b. Values of different
// numeric kinds are compared by value, so int32 keys read from a binlog match
// int64 keys read by a snapshot query.
func Compare(a, b any) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}

	if ai, aok := toInt(a); aok {
		if bi, bok := toInt(b); bok {
			return compareInt(ai, bi)
		}
	}
	if au, aok := toUint(a); aok {
		if bu, bok := toUint(b); bok {
			return compareUint(au, bu)
		}
	}
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return compareFloat(af, bf)
		}
	}

	switch aVal := a.(type) {
	case time.Time:
		if bTime, ok := b.(time.Time); ok {
			return aVal.Compare(bTime)
		}
	case bool:
		if bBool, ok := b.(bool); ok {
			// false < true
			if !aVal && bBool {
				return -1
			} else if aVal && !bBool {
				return 1
			}
			return 0
		}
	case []byte:
		if bBytes, ok := b.([]byte); ok {
			return bytes.Compare(aVal, bBytes)
		}
		return strings.Compare(string(aVal), fmt.Sprint(b))
	}

	// For any other types, convert to string for comparison
	return strings.Compare(ToString(a), ToString(b))
}

// Equal reports whether two captured column values are the same
func Equal(a, b any) bool {
	return Compare(a, b) == 0
}

// ToInt64 converts integral values, including integral floats and numeric
// strings as produced by some drivers, to int64.
func ToInt64(v any) (int64, bool) {
	if i, ok := toInt(v); ok {
		return i, true
	}
	if u, ok := toUint(v); ok && u <= math.MaxInt64 {
		return int64(u), true
	}
	if f, ok := toFloat(v); ok && f == math.Trunc(f) && math.Abs(f) < math.MaxInt64 {
		return int64(f), true
	}
	var parsed int64
	switch s := v.(type) {
	case string:
		if _, err := fmt.Sscan(s, &parsed); err == nil && fmt.Sprint(parsed) == s {
			return parsed, true
		}
	case []byte:
		if _, err := fmt.Sscan(string(s), &parsed); err == nil && fmt.Sprint(parsed) == string(s) {
			return parsed, true
		}
	}
	return 0, false
}

// ToString renders a value the way it is used in identity hashes
func ToString(value any) string {
	switch v := value.(type) {
	case []byte:
		return string(v)
	case string:
		return v
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func toInt(v any) (int64, bool) {
	switch v.(type) {
	case int, int8, int16, int32, int64:
		return reflect.ValueOf(v).Int(), true
	}
	return 0, false
}

func toUint(v any) (uint64, bool) {
	switch v.(type) {
	case uint, uint8, uint16, uint32, uint64:
		return reflect.ValueOf(v).Uint(), true
	case int, int8, int16, int32, int64:
		if i := reflect.ValueOf(v).Int(); i >= 0 {
			return uint64(i), true
		}
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch v.(type) {
	case float32, float64:
		return reflect.ValueOf(v).Float(), true
	case int, int8, int16, int32, int64:
		return float64(reflect.ValueOf(v).Int()), true
	case uint, uint8, uint16, uint32, uint64:
		return float64(reflect.ValueOf(v).Uint()), true
	}
	return 0, false
}

func compareInt(a, b int64) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}

func compareUint(a, b uint64) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}

func compareFloat(a, b float64) int {
	if math.IsNaN(a) {
		if math.IsNaN(b) {
			return 0
		}
		return -1
	}
	if math.IsNaN(b) {
		return 1
	}

	const eps = 1e-9
	diff := a - b
	if math.Abs(diff) < eps {
		return 0
	} else if diff < 0 {
		return -1
	}
	return 1
}
