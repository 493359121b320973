package sqlite

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Value is a bind or column value. It is exactly one of Null, Integer, Real,
// Text or Blob.
type Value interface {
	// Type returns the storage class name: "null", "integer", "real",
	// "text" or "blob".
	Type() string
	// Interface returns the plain Go value: nil, int64, float64, string or
	// []byte.
	Interface() any

	value()
}

type (
	Null    struct{}
	Integer int64
	Real    float64
	Text    string
	Blob    []byte
)

func (Null) Type() string    { return "null" }
func (Integer) Type() string { return "integer" }
func (Real) Type() string    { return "real" }
func (Text) Type() string    { return "text" }
func (Blob) Type() string    { return "blob" }

func (Null) Interface() any      { return nil }
func (v Integer) Interface() any { return int64(v) }
func (v Real) Interface() any    { return float64(v) }
func (v Text) Interface() any    { return string(v) }
func (v Blob) Interface() any    { return []byte(v) }

func (Null) value()    {}
func (Integer) value() {}
func (Real) value()    {}
func (Text) value()    {}
func (Blob) value()    {}

// blobWire is the JSON form of a Blob. A bare JSON string would be
// indistinguishable from Text on the other side of the boundary.
type blobWire struct {
	Type  string `json:"type"`
	Value []int  `json:"value"`
}

// BlobWireType is the discriminator used for blobs in JSON payloads.
const BlobWireType = "bytearray"

func (v Blob) MarshalJSON() ([]byte, error) {
	ints := make([]int, len(v))
	for i, b := range v {
		ints[i] = int(b)
	}
	return json.Marshal(blobWire{Type: BlobWireType, Value: ints})
}

func (v Real) MarshalJSON() ([]byte, error) {
	f := float64(v)
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return nil, fmt.Errorf("sqlite: cannot represent %v in JSON", f)
	}
	b := strconv.AppendFloat(nil, f, 'g', -1, 64)
	// Keep a fractional marker so integral reals are not read back as integers.
	if !bytes.ContainsAny(b, ".eE") {
		b = append(b, ".0"...)
	}
	return b, nil
}

func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// ValueFromJSON decodes one JSON value into a Value. Numbers without a
// fractional part or exponent become Integer, other numbers Real, and the
// bytearray object becomes Blob. Arrays and other objects are rejected.
func ValueFromJSON(raw json.RawMessage) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	switch x := v.(type) {
	case nil:
		return Null{}, nil
	case json.Number:
		return numberValue(x)
	case string:
		return Text(x), nil
	case bool:
		if x {
			return Integer(1), nil
		}
		return Integer(0), nil
	case map[string]any:
		if b, ok := BlobFromWire(x); ok {
			return Blob(b), nil
		}
	}
	return nil, fmt.Errorf("sqlite: %s is not a column value", string(raw))
}

// BlobFromWire recognizes the {"type":"bytearray","value":[...]} object as
// produced by a JSON decoder with UseNumber set.
func BlobFromWire(m map[string]any) ([]byte, bool) {
	if len(m) != 2 || m["type"] != BlobWireType {
		return nil, false
	}
	items, ok := m["value"].([]any)
	if !ok {
		return nil, false
	}
	out := make([]byte, len(items))
	for i, item := range items {
		n, ok := item.(json.Number)
		if !ok {
			return nil, false
		}
		b, err := strconv.ParseInt(n.String(), 10, 16)
		if err != nil || b < -128 || b > 255 {
			return nil, false
		}
		out[i] = byte(b)
	}
	return out, true
}

func numberValue(n json.Number) (Value, error) {
	if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
		return Integer(i), nil
	}
	f, err := n.Float64()
	if err != nil {
		return nil, err
	}
	return Real(f), nil
}

// Column is one named value of a Row.
type Column struct {
	Name  string
	Value Value
}

// Row is one result row. Columns keep the order of the result set.
type Row struct {
	cols []Column
}

// NewRow builds a row from parallel name and value slices. A repeated name
// keeps its first position and takes the last value.
func NewRow(names []string, values []Value) Row {
	r := Row{cols: make([]Column, 0, len(names))}
	for i, name := range names {
		r.set(name, values[i])
	}
	return r
}

func (r *Row) set(name string, v Value) {
	for i := range r.cols {
		if r.cols[i].Name == name {
			r.cols[i].Value = v
			return
		}
	}
	r.cols = append(r.cols, Column{Name: name, Value: v})
}

// Len returns the number of columns.
func (r Row) Len() int { return len(r.cols) }

// Columns returns the column names in result order.
func (r Row) Columns() []string {
	names := make([]string, len(r.cols))
	for i, c := range r.cols {
		names[i] = c.Name
	}
	return names
}

// Values returns the columns in result order.
func (r Row) Values() []Column {
	return append([]Column(nil), r.cols...)
}

// Get returns the value of the named column.
func (r Row) Get(name string) (Value, bool) {
	for _, c := range r.cols {
		if c.Name == name {
			return c.Value, true
		}
	}
	return nil, false
}

// Map returns the row as plain Go values keyed by column name.
func (r Row) Map() map[string]any {
	m := make(map[string]any, len(r.cols))
	for _, c := range r.cols {
		m[c.Name] = c.Value.Interface()
	}
	return m
}

// MarshalJSON writes the row as a JSON object in column order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range r.cols {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(c.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(c.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object back into a row, keeping key order.
func (r *Row) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("sqlite: row must be a JSON object")
	}
	r.cols = r.cols[:0]
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("sqlite: unexpected row key %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		v, err := ValueFromJSON(raw)
		if err != nil {
			return fmt.Errorf("sqlite: column %q: %w", name, err)
		}
		r.set(name, v)
	}
	_, err = dec.Token()
	return err
}
