// Package utils holds the small cross-cutting helpers the engine needs
// in more than one package: scan-value coercion for the driver layer and
// name inflection for the schema layer.
package utils

import (
	"fmt"
	"strconv"
	"time"
)

// ToInt64 coerces a raw scan value into an int64. database/sql drivers
// hand back int64 for integer columns, but SQLite can surface affinities
// as float64 or text, and the mongo driver decodes small integers as
// int32, so every numeric shape funnels through here.
func ToInt64(raw any) int64 {
	switch v := raw.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case uint64:
		return int64(v)
	case float64:
		return int64(v)
	case bool:
		if v {
			return 1
		}
		return 0
	case []byte:
		n, _ := strconv.ParseInt(string(v), 10, 64)
		return n
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	default:
		return 0
	}
}

// ToFloat64 coerces a raw scan value into a float64.
func ToFloat64(raw any) float64 {
	switch v := raw.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int64:
		return float64(v)
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case []byte:
		f, _ := strconv.ParseFloat(string(v), 64)
		return f
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	default:
		return 0
	}
}

// ToBool coerces a raw scan value into a bool. MySQL stores booleans as
// TINYINT(1), so any non-zero numeric is true; SQLite may return "0"/"1"
// text.
func ToBool(raw any) bool {
	switch v := raw.(type) {
	case bool:
		return v
	case int64:
		return v != 0
	case int:
		return v != 0
	case int32:
		return v != 0
	case float64:
		return v != 0
	case []byte:
		return textBool(string(v))
	case string:
		return textBool(v)
	default:
		return false
	}
}

func textBool(s string) bool {
	switch s {
	case "", "0", "false", "FALSE", "f":
		return false
	default:
		return true
	}
}

// ToString coerces a raw scan value into a string. []byte covers text
// columns drivers return as raw bytes; time.Time covers timestamp
// columns read through parseTime-style driver modes.
func ToString(raw any) string {
	switch v := raw.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case time.Time:
		return v.Format(time.RFC3339Nano)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
