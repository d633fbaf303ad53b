package export

import (
	"fmt"
	"strconv"
	"time"
)

// TimeFormat renders date/time values; a fractional part is added only when
// the value has sub-second precision.
const TimeFormat = "2006-01-02 15:04:05"

// RenderValue converts one driver value to its CSV field text. NULL becomes
// an empty field.
func RenderValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case time.Time:
		if val.Nanosecond() != 0 {
			return val.Format(TimeFormat + ".000000")
		}
		return val.Format(TimeFormat)
	case int64:
		return strconv.FormatInt(val, 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int:
		return strconv.Itoa(val)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}

func renderRow(row []any, record []string) []string {
	record = record[:0]
	for _, v := range row {
		record = append(record, RenderValue(v))
	}
	return record
}
