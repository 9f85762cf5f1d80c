/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package features parses encoded example records according to a Schema: an ordered
// list of named, fixed-length feature descriptors.
//
// Parse returns one Value per schema field, in schema order. Byte-string fields named
// RawDataName ("img_data") are returned as raw pixels: Type Uint8 with a flat shape
// of the number of bytes.
package features

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/imagerecords/pkg/records/example"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// Type of the values of a feature.
type Type uint8

const (
	InvalidType Type = iota
	Int64
	Float32
	Bytes

	// Uint8 is only produced by Parse, for raw data fields: see RawDataName.
	Uint8
)

// String implements fmt.Stringer.
func (t Type) String() string {
	switch t {
	case Int64:
		return "Int64"
	case Float32:
		return "Float32"
	case Bytes:
		return "Bytes"
	case Uint8:
		return "Uint8"
	}
	return "InvalidType"
}

// RawDataName is the name of byte-string fields that Parse reinterprets as a flat uint8 sequence.
const RawDataName = "img_data"

// ErrInvalidRecord is returned (wrapped) by Parse when a record doesn't match the schema.
var ErrInvalidRecord = errors.New("record doesn't match schema")

// Field describes one fixed-length feature: its name, type and shape.
//
// An empty Shape is a scalar: exactly one value. For Bytes fields the shape counts
// byte strings, not bytes.
type Field struct {
	Name  string
	Type  Type
	Shape []int
}

// FixedLen creates a Field with the given dimensions.
func FixedLen(name string, dtype Type, dims ...int) Field {
	return Field{Name: name, Type: dtype, Shape: dims}
}

// Size is the number of values the field holds.
func (f Field) Size() int {
	return Product(f.Shape)
}

// String implements fmt.Stringer.
func (f Field) String() string {
	return fmt.Sprintf("%s:%s%v", f.Name, f.Type, f.Shape)
}

// Schema is an ordered list of fields. Parse returns values in this order.
type Schema []Field

// Names of the fields, in order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for ii, f := range s {
		names[ii] = f.Name
	}
	return names
}

// Index of the field with the given name, or -1 if not in the schema.
func (s Schema) Index(name string) int {
	return slices.IndexFunc(s, func(f Field) bool { return f.Name == name })
}

// Validate checks that names are unique and non-empty, and that types and dimensions are valid.
func (s Schema) Validate() error {
	seen := make(map[string]bool, len(s))
	for _, f := range s {
		if f.Name == "" {
			return errors.Errorf("schema %s has a field with an empty name", s)
		}
		if seen[f.Name] {
			return errors.Errorf("schema %s has field %q more than once", s, f.Name)
		}
		seen[f.Name] = true
		switch f.Type {
		case Int64, Float32, Bytes:
		default:
			return errors.Errorf("schema field %q has invalid type %s", f.Name, f.Type)
		}
		for _, dim := range f.Shape {
			if dim < 0 {
				return errors.Errorf("schema field %q has negative dimension in shape %v", f.Name, f.Shape)
			}
		}
	}
	return nil
}

// String implements fmt.Stringer.
func (s Schema) String() string {
	parts := make([]string, len(s))
	for ii, f := range s {
		parts[ii] = f.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Value is one decoded field. Only the slice matching Type is set.
type Value struct {
	Name  string
	Type  Type
	Shape []int

	Int64s   []int64
	Float32s []float32

	// Bytes holds the byte string of a scalar Bytes field, or the raw data of a Uint8 field.
	Bytes []byte

	// ByteStrings holds the values of a non-scalar Bytes field.
	ByteStrings [][]byte
}

// Int64 returns the first int64 value, convenient for scalar fields.
func (v Value) Int64() int64 {
	if len(v.Int64s) == 0 {
		return 0
	}
	return v.Int64s[0]
}

// Len returns the number of values held.
func (v Value) Len() int {
	switch v.Type {
	case Int64:
		return len(v.Int64s)
	case Float32:
		return len(v.Float32s)
	case Uint8:
		return len(v.Bytes)
	case Bytes:
		if v.ByteStrings != nil {
			return len(v.ByteStrings)
		}
		return 1
	}
	return 0
}

// Parse decodes raw, an encoded example.Example, according to schema.
//
// Every field of the schema must be present with the matching kind and exactly Field.Size()
// values; features not in the schema are ignored. Errors wrap ErrInvalidRecord (or
// example.ErrMalformed if raw can't be decoded at all).
func Parse(raw []byte, schema Schema) ([]Value, error) {
	e, err := example.Unmarshal(raw)
	if err != nil {
		return nil, err
	}
	return FromExample(e, schema)
}

// FromExample is like Parse, but takes an already decoded Example.
func FromExample(e *example.Example, schema Schema) ([]Value, error) {
	values := make([]Value, 0, len(schema))
	for _, field := range schema {
		f, found := e.Get(field.Name)
		if !found {
			return nil, errors.Wrapf(ErrInvalidRecord, "feature %q missing", field.Name)
		}
		if want := kindFor(field.Type); f.Kind != want {
			return nil, errors.Wrapf(ErrInvalidRecord, "feature %q has kind %s, schema wants %s",
				field.Name, f.Kind, want)
		}
		if f.Len() != field.Size() {
			return nil, errors.Wrapf(ErrInvalidRecord, "feature %q has %d values, schema shape %v wants %d",
				field.Name, f.Len(), field.Shape, field.Size())
		}
		v := Value{Name: field.Name, Type: field.Type, Shape: slices.Clone(field.Shape)}
		switch field.Type {
		case Int64:
			v.Int64s = f.Int64s
		case Float32:
			v.Float32s = f.Floats
		case Bytes:
			if len(field.Shape) == 0 {
				v.Bytes = f.Bytes[0]
			} else {
				v.ByteStrings = f.Bytes
			}
		}
		if field.Name == RawDataName && field.Type == Bytes && len(field.Shape) == 0 {
			v.Type = Uint8
			v.Shape = []int{len(v.Bytes)}
		}
		values = append(values, v)
	}
	return values, nil
}

func kindFor(t Type) example.Kind {
	switch t {
	case Int64:
		return example.KindInt64
	case Float32:
		return example.KindFloat
	case Bytes:
		return example.KindBytes
	}
	return example.KindNone
}

// Product of the dimensions. The product of no dimensions is 1.
func Product[T constraints.Integer](dims []T) T {
	var size T = 1
	for _, dim := range dims {
		size *= dim
	}
	return size
}
