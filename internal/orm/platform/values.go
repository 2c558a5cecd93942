package platform

import (
	"fmt"
	"strconv"
	"time"
)

// formatValue renders a Go value as a SQL literal using the dialect's string quoting and booleans
func formatValue(v interface{}, quoteString func(string) string, boolTrue, boolFalse string) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case bool:
		if x {
			return boolTrue
		}
		return boolFalse
	case string:
		return quoteString(x)
	case []byte:
		return quoteString(string(x))
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", x)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		return quoteString(x.UTC().Format("2006-01-02 15:04:05.000"))
	case fmt.Stringer:
		return quoteString(x.String())
	default:
		return quoteString(fmt.Sprint(x))
	}
}
