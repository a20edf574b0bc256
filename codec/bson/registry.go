// Copyright (c) 2026 - The rsvpkit authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bson holds the BSON registry and event codec shared by the MongoDB
// backed stores.
package bson

import (
	"bytes"
	"encoding"
	"fmt"
	"reflect"

	"go.mongodb.org/mongo-driver/v2/bson"
)

var (
	textMarshalerType   = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
	textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
)

// Registry is the BSON registry used for events and read models. Values
// implementing encoding.TextMarshaler, like UUIDs and identities, are stored
// as strings.
var Registry = newRegistry()

func newRegistry() *bson.Registry {
	reg := bson.NewRegistry()

	reg.RegisterInterfaceEncoder(textMarshalerType, bson.ValueEncoderFunc(
		func(ec bson.EncodeContext, vw bson.ValueWriter, val reflect.Value) error {
			if val.Kind() == reflect.Ptr && val.IsNil() {
				return vw.WriteNull()
			}

			m, ok := val.Interface().(encoding.TextMarshaler)
			if !ok {
				return bson.ValueEncoderError{
					Name:     "TextMarshalerEncodeValue",
					Types:    []reflect.Type{textMarshalerType},
					Received: val,
				}
			}

			b, err := m.MarshalText()
			if err != nil {
				return fmt.Errorf("could not marshal %s as text: %w", val.Type(), err)
			}

			return vw.WriteString(string(b))
		},
	))

	reg.RegisterInterfaceDecoder(textUnmarshalerType, bson.ValueDecoderFunc(
		func(dc bson.DecodeContext, vr bson.ValueReader, val reflect.Value) error {
			if !val.CanAddr() {
				return bson.ValueDecoderError{
					Name:     "TextUnmarshalerDecodeValue",
					Kinds:    []reflect.Kind{reflect.Array, reflect.String},
					Received: val,
				}
			}

			if vr.Type() != bson.TypeString {
				return fmt.Errorf("received invalid BSON type to decode into %s: %s", val.Type(), vr.Type())
			}

			s, err := vr.ReadString()
			if err != nil {
				return err
			}

			u, ok := val.Addr().Interface().(encoding.TextUnmarshaler)
			if !ok {
				return fmt.Errorf("%s is not a text unmarshaler", val.Type())
			}

			return u.UnmarshalText([]byte(s))
		},
	))

	return reg
}

// Marshal marshals a value into a BSON document using the Registry.
func Marshal(v interface{}) ([]byte, error) {
	buf := &bytes.Buffer{}

	enc := bson.NewEncoder(bson.NewDocumentWriter(buf))
	enc.SetRegistry(Registry)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Unmarshal unmarshals a BSON document into a value using the Registry.
func Unmarshal(b []byte, v interface{}) error {
	dec := bson.NewDecoder(bson.NewDocumentReader(bytes.NewReader(b)))
	dec.SetRegistry(Registry)

	return dec.Decode(v)
}
