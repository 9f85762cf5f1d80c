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

// Package example implements a record of named features: each feature holds a list
// of int64, float32 or byte-string values.
//
// The binary encoding is the protocol buffer wire format of TensorFlow's
// `tf.train.Example`, so the payloads can be read by other tools that understand it:
//
//	message Example  { Features features = 1; }
//	message Features { map<string, Feature> feature = 1; }
//	message Feature  { oneof kind { BytesList bytes_list = 1; FloatList float_list = 2; Int64List int64_list = 3; } }
//
// Numeric lists are written packed, and map entries are written sorted by key, so
// Marshal is deterministic.
package example

import (
	"fmt"
	"math"
	"slices"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Kind of values stored in a Feature.
type Kind uint8

const (
	// KindNone is a feature with no value list set.
	KindNone Kind = iota
	KindBytes
	KindFloat
	KindInt64
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "None"
	case KindBytes:
		return "Bytes"
	case KindFloat:
		return "Float"
	case KindInt64:
		return "Int64"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Field numbers of the messages.
const (
	exampleFeaturesField protowire.Number = 1
	featuresMapField     protowire.Number = 1
	mapKeyField          protowire.Number = 1
	mapValueField        protowire.Number = 2
	bytesListField       protowire.Number = 1
	floatListField       protowire.Number = 2
	int64ListField       protowire.Number = 3
	listValueField       protowire.Number = 1
)

// ErrMalformed is returned (wrapped) by Unmarshal when the payload is not a valid encoded Example.
var ErrMalformed = errors.New("malformed example")

// Feature is one named entry of an Example. Only the slice matching Kind is used.
type Feature struct {
	Kind   Kind
	Bytes  [][]byte
	Floats []float32
	Int64s []int64
}

// Int64List creates a Feature holding the given int64 values.
func Int64List(values ...int64) Feature {
	return Feature{Kind: KindInt64, Int64s: values}
}

// FloatList creates a Feature holding the given float32 values.
func FloatList(values ...float32) Feature {
	return Feature{Kind: KindFloat, Floats: values}
}

// BytesList creates a Feature holding the given byte strings.
func BytesList(values ...[]byte) Feature {
	return Feature{Kind: KindBytes, Bytes: values}
}

// Len returns the number of values in the feature.
func (f Feature) Len() int {
	switch f.Kind {
	case KindBytes:
		return len(f.Bytes)
	case KindFloat:
		return len(f.Floats)
	case KindInt64:
		return len(f.Int64s)
	}
	return 0
}

// Example is a mapping of feature name to Feature.
type Example struct {
	Features map[string]Feature
}

// New creates an empty Example.
func New() *Example {
	return &Example{Features: make(map[string]Feature)}
}

// Set feature `name` to `f`. It returns the Example itself, so calls can be chained.
func (e *Example) Set(name string, f Feature) *Example {
	if e.Features == nil {
		e.Features = make(map[string]Feature)
	}
	e.Features[name] = f
	return e
}

// Get returns the feature `name` and whether it is present.
func (e *Example) Get(name string) (f Feature, found bool) {
	f, found = e.Features[name]
	return
}

// Keys returns the feature names, sorted.
func (e *Example) Keys() []string {
	keys := make([]string, 0, len(e.Features))
	for key := range e.Features {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

// Marshal encodes the Example.
func (e *Example) Marshal() ([]byte, error) {
	var features []byte
	for _, key := range e.Keys() {
		value, err := marshalFeature(e.Features[key])
		if err != nil {
			return nil, errors.WithMessagef(err, "feature %q", key)
		}
		var entry []byte
		entry = protowire.AppendTag(entry, mapKeyField, protowire.BytesType)
		entry = protowire.AppendString(entry, key)
		entry = protowire.AppendTag(entry, mapValueField, protowire.BytesType)
		entry = protowire.AppendBytes(entry, value)

		features = protowire.AppendTag(features, featuresMapField, protowire.BytesType)
		features = protowire.AppendBytes(features, entry)
	}
	var buf []byte
	buf = protowire.AppendTag(buf, exampleFeaturesField, protowire.BytesType)
	buf = protowire.AppendBytes(buf, features)
	return buf, nil
}

func marshalFeature(f Feature) ([]byte, error) {
	var list []byte
	var field protowire.Number
	switch f.Kind {
	case KindNone:
		return nil, nil
	case KindBytes:
		field = bytesListField
		for _, value := range f.Bytes {
			list = protowire.AppendTag(list, listValueField, protowire.BytesType)
			list = protowire.AppendBytes(list, value)
		}
	case KindFloat:
		field = floatListField
		if len(f.Floats) > 0 {
			packed := make([]byte, 0, 4*len(f.Floats))
			for _, value := range f.Floats {
				packed = protowire.AppendFixed32(packed, math.Float32bits(value))
			}
			list = protowire.AppendTag(list, listValueField, protowire.BytesType)
			list = protowire.AppendBytes(list, packed)
		}
	case KindInt64:
		field = int64ListField
		if len(f.Int64s) > 0 {
			var packed []byte
			for _, value := range f.Int64s {
				packed = protowire.AppendVarint(packed, uint64(value))
			}
			list = protowire.AppendTag(list, listValueField, protowire.BytesType)
			list = protowire.AppendBytes(list, packed)
		}
	default:
		return nil, errors.Errorf("invalid feature kind %s", f.Kind)
	}
	var buf []byte
	buf = protowire.AppendTag(buf, field, protowire.BytesType)
	buf = protowire.AppendBytes(buf, list)
	return buf, nil
}

// Unmarshal decodes an Example encoded with Marshal (or by any other tf.train.Example writer).
//
// Unknown fields are skipped. If a feature name repeats, the last one wins, as in protocol buffers.
func Unmarshal(buf []byte) (*Example, error) {
	e := New()
	err := walkFields(buf, func(num protowire.Number, typ protowire.Type, value []byte) error {
		if num != exampleFeaturesField || typ != protowire.BytesType {
			return nil
		}
		return walkFields(value, func(num protowire.Number, typ protowire.Type, entry []byte) error {
			if num != featuresMapField || typ != protowire.BytesType {
				return nil
			}
			key, f, err := unmarshalMapEntry(entry)
			if err != nil {
				return err
			}
			e.Features[key] = f
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

func unmarshalMapEntry(entry []byte) (key string, f Feature, err error) {
	err = walkFields(entry, func(num protowire.Number, typ protowire.Type, value []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case mapKeyField:
			key = string(value)
		case mapValueField:
			var err error
			f, err = unmarshalFeature(value)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		err = errors.WithMessagef(err, "feature %q", key)
	}
	return
}

func unmarshalFeature(buf []byte) (f Feature, err error) {
	err = walkFields(buf, func(num protowire.Number, typ protowire.Type, list []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case bytesListField:
			f = Feature{Kind: KindBytes}
			return walkFields(list, func(num protowire.Number, typ protowire.Type, value []byte) error {
				if num == listValueField && typ == protowire.BytesType {
					f.Bytes = append(f.Bytes, value)
				}
				return nil
			})
		case floatListField:
			f = Feature{Kind: KindFloat}
			return walkNumbers(list, protowire.Fixed32Type, func(v uint64) {
				f.Floats = append(f.Floats, math.Float32frombits(uint32(v)))
			})
		case int64ListField:
			f = Feature{Kind: KindInt64}
			return walkNumbers(list, protowire.VarintType, func(v uint64) {
				f.Int64s = append(f.Int64s, int64(v))
			})
		}
		return nil
	})
	return
}

// walkFields calls fn for each field in buf. For BytesType fields, value is the contents;
// for other types value is nil.
func walkFields(buf []byte, fn func(num protowire.Number, typ protowire.Type, value []byte) error) error {
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return errors.Wrapf(ErrMalformed, "tag: %v", protowire.ParseError(n))
		}
		buf = buf[n:]
		var value []byte
		if typ == protowire.BytesType {
			value, n = protowire.ConsumeBytes(buf)
		} else {
			n = protowire.ConsumeFieldValue(num, typ, buf)
		}
		if n < 0 {
			return errors.Wrapf(ErrMalformed, "field %d: %v", num, protowire.ParseError(n))
		}
		buf = buf[n:]
		if err := fn(num, typ, value); err != nil {
			return err
		}
	}
	return nil
}

// walkNumbers decodes the repeated numeric field listValueField, accepting both
// the packed and unpacked encodings.
func walkNumbers(list []byte, elementType protowire.Type, fn func(v uint64)) error {
	consume := func(buf []byte) (uint64, int) {
		if elementType == protowire.Fixed32Type {
			v, n := protowire.ConsumeFixed32(buf)
			return uint64(v), n
		}
		return protowire.ConsumeVarint(buf)
	}
	for len(list) > 0 {
		num, typ, n := protowire.ConsumeTag(list)
		if n < 0 {
			return errors.Wrapf(ErrMalformed, "tag: %v", protowire.ParseError(n))
		}
		list = list[n:]
		switch {
		case num == listValueField && typ == protowire.BytesType:
			var packed []byte
			packed, n = protowire.ConsumeBytes(list)
			if n < 0 {
				return errors.Wrapf(ErrMalformed, "packed values: %v", protowire.ParseError(n))
			}
			for len(packed) > 0 {
				v, m := consume(packed)
				if m < 0 {
					return errors.Wrapf(ErrMalformed, "packed value: %v", protowire.ParseError(m))
				}
				fn(v)
				packed = packed[m:]
			}
		case num == listValueField && typ == elementType:
			var v uint64
			v, n = consume(list)
			if n < 0 {
				return errors.Wrapf(ErrMalformed, "value: %v", protowire.ParseError(n))
			}
			fn(v)
		default:
			n = protowire.ConsumeFieldValue(num, typ, list)
			if n < 0 {
				return errors.Wrapf(ErrMalformed, "field %d: %v", num, protowire.ParseError(n))
			}
		}
		list = list[n:]
	}
	return nil
}
