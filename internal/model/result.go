package model

import (
	"bytes"
	"encoding/json"
)

// Kind identifies which variant a Value holds
type Kind int

const (
	KindScalar Kind = iota // Leaf text
	KindObject             // Nested element
	KindList               // Repeated sibling names, in document order
)

// Value is one extracted datum: a leaf string, a nested object, or the
// ordered list produced when a name repeats among siblings.
type Value struct {
	kind   Kind
	scalar string
	object *Object
	list   []Value
}

// Scalar wraps a leaf value
func Scalar(s string) Value {
	return Value{kind: KindScalar, scalar: s}
}

// ObjectValue wraps a nested object
func ObjectValue(o *Object) Value {
	if o == nil {
		o = NewObject()
	}
	return Value{kind: KindObject, object: o}
}

// List builds a list value from items
func List(items ...Value) Value {
	return Value{kind: KindList, list: append([]Value(nil), items...)}
}

// Kind returns the variant tag
func (v Value) Kind() Kind { return v.kind }

// Scalar returns the leaf string (empty for other kinds)
func (v Value) Scalar() string { return v.scalar }

// Object returns the nested object (nil for other kinds)
func (v Value) Object() *Object { return v.object }

// List returns a copy of the list items (nil for other kinds)
func (v Value) List() []Value {
	if v.kind != KindList {
		return nil
	}
	return append([]Value(nil), v.list...)
}

// Interface converts the value to plain Go data: string, map[string]any or []any
func (v Value) Interface() any {
	switch v.kind {
	case KindObject:
		return v.object.Interface()
	case KindList:
		items := make([]any, len(v.list))
		for i, item := range v.list {
			items[i] = item.Interface()
		}
		return items
	default:
		return v.scalar
	}
}

// MarshalJSON renders the value, keeping object keys in document order
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindObject:
		return v.object.MarshalJSON()
	case KindList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	default:
		return json.Marshal(v.scalar)
	}
}

// Object is an ordered mapping from element name to value.
// Names keep the order of their first occurrence in the document.
type Object struct {
	names  []string
	fields map[string]Value
}

// NewObject creates an empty object
func NewObject() *Object {
	return &Object{fields: make(map[string]Value)}
}

// Add records name -> v. The first occurrence of a name is stored as is;
// the second promotes the entry to a list and later ones are appended.
func (o *Object) Add(name string, v Value) {
	existing, ok := o.fields[name]
	if !ok {
		o.names = append(o.names, name)
		o.fields[name] = v
		return
	}

	if existing.kind != KindList {
		o.fields[name] = List(existing, v)
		return
	}

	items := make([]Value, 0, len(existing.list)+1)
	items = append(items, existing.list...)
	o.fields[name] = Value{kind: KindList, list: append(items, v)}
}

// Get returns the value recorded for name
func (o *Object) Get(name string) (Value, bool) {
	if o == nil {
		return Value{}, false
	}
	v, ok := o.fields[name]
	return v, ok
}

// Names returns the recorded names in document order
func (o *Object) Names() []string {
	if o == nil {
		return nil
	}
	return append([]string(nil), o.names...)
}

// Len returns the number of distinct names
func (o *Object) Len() int {
	if o == nil {
		return 0
	}
	return len(o.names)
}

// Interface converts the object to a map of plain Go data
func (o *Object) Interface() map[string]any {
	out := make(map[string]any, o.Len())
	if o == nil {
		return out
	}
	for _, name := range o.names {
		out[name] = o.fields[name].Interface()
	}
	return out
}

// MarshalJSON renders the object with keys in document order
func (o *Object) MarshalJSON() ([]byte, error) {
	if o == nil || len(o.names) == 0 {
		return []byte("{}"), nil
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range o.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		val, err := o.fields[name].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')

	return buf.Bytes(), nil
}
