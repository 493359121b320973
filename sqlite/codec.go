package sqlite

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// TimeFormat is the text layout used for time values crossing the codec in
// either direction.
const TimeFormat = time.RFC3339Nano

// Encode converts a host value into a bind value. name identifies the
// parameter in the error detail.
func Encode(name string, v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return x, nil
	case bool:
		if x {
			return Integer(1), nil
		}
		return Integer(0), nil
	case int:
		return Integer(x), nil
	case int8:
		return Integer(x), nil
	case int16:
		return Integer(x), nil
	case int32:
		return Integer(x), nil
	case int64:
		return Integer(x), nil
	case uint:
		return encodeUnsigned(name, uint64(x))
	case uint8:
		return Integer(x), nil
	case uint16:
		return Integer(x), nil
	case uint32:
		return Integer(x), nil
	case uint64:
		return encodeUnsigned(name, x)
	case float32:
		return Real(x), nil
	case float64:
		return Real(x), nil
	case json.Number:
		v, err := numberValue(x)
		if err != nil {
			return nil, unhandledParameter(name, x)
		}
		return v, nil
	case string:
		return Text(x), nil
	case []byte:
		// A nil slice binds NULL in the driver as well.
		if x == nil {
			return Null{}, nil
		}
		return Blob(x), nil
	case time.Time:
		return Text(x.UTC().Format(TimeFormat)), nil
	default:
		return nil, unhandledParameter(name, v)
	}
}

func encodeUnsigned(name string, u uint64) (Value, error) {
	if u > math.MaxInt64 {
		return nil, &Error{
			Code:    CodeUnhandledParameterType,
			Message: "unsigned value overflows a 64-bit integer",
			Details: fmt.Sprintf("parameter %q: %d", name, u),
		}
	}
	return Integer(int64(u)), nil
}

func unhandledParameter(name string, v any) *Error {
	return &Error{
		Code:    CodeUnhandledParameterType,
		Message: "unhandled parameter type",
		Details: fmt.Sprintf("parameter %q has type %T", name, v),
	}
}

// Decode converts one value read from the driver into a column value.
// Statements run by Conn read raw storage classes; bool and time.Time are
// still accepted for values produced by a converting driver and are mapped to
// Integer 0/1 and RFC3339Nano Text.
func Decode(column, declType string, v driver.Value) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Null{}, nil
	case int64:
		return Integer(x), nil
	case float64:
		return Real(x), nil
	case string:
		return Text(x), nil
	case []byte:
		return Blob(x), nil
	case bool:
		if x {
			return Integer(1), nil
		}
		return Integer(0), nil
	case time.Time:
		return Text(x.UTC().Format(TimeFormat)), nil
	default:
		return nil, &Error{
			Code:    CodeUnsupportedColumnType,
			Message: "unsupported column type",
			Details: fmt.Sprintf("column %q declared %q has type %T", column, declType, v),
		}
	}
}

// driverValue is the inverse of Decode for binding.
func driverValue(v Value) driver.Value {
	switch x := v.(type) {
	case Integer:
		return int64(x)
	case Real:
		return float64(x)
	case Text:
		return string(x)
	case Blob:
		if x == nil {
			return []byte{}
		}
		return []byte(x)
	default:
		return nil
	}
}
