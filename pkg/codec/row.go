package codec

import (
	"bytes"
	"encoding/json"
)

// Field is one column of a decoded row.
type Field struct {
	Name  string
	Value interface{}
}

// Row is a decoded row. It marshals as a JSON object whose keys keep the
// column order. A repeated column name keeps its first position and its
// last value.
type Row []Field

// Set assigns name, replacing an existing field of the same name.
func (r Row) Set(name string, value interface{}) Row {
	for i := range r {
		if r[i].Name == name {
			r[i].Value = value
			return r
		}
	}
	return append(r, Field{Name: name, Value: value})
}

// Get returns the value of name.
func (r Row) Get(name string) (interface{}, bool) {
	for _, f := range r {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Has reports whether every name is a field of r.
func (r Row) Has(names ...string) bool {
	for _, n := range names {
		if _, ok := r.Get(n); !ok {
			return false
		}
	}
	return true
}

// MarshalJSON renders the row as an object in column order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
