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

package rsvpkit

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/rsvpkit/rsvpkit/uuid"
)

// Command asks an aggregate to change, for example to record an RSVP. It is
// named in present tense after its intent and carries all the data needed to
// handle it as exported fields.
//
// Every exported field is required unless tagged `eh:"optional"`, see
// CheckCommand.
type Command interface {
	// AggregateID is the aggregate that handles the command.
	AggregateID() uuid.UUID
	// AggregateType is the type of that aggregate.
	AggregateType() AggregateType
	// CommandType identifies the command.
	CommandType() CommandType
}

// CommandType is the type of a command, used as its unique identifier.
type CommandType string

// String returns the string representation of a command type.
func (ct CommandType) String() string {
	return string(ct)
}

// ErrCommandNotRegistered is when no command factory was registered.
var ErrCommandNotRegistered = errors.New("command not registered")

var commandFactories = struct {
	sync.RWMutex
	m map[CommandType]func() Command
}{m: map[CommandType]func() Command{}}

// RegisterCommand registers the factory of a command under the type of the
// command it creates, so that commands can be decoded by type name. It
// panics on nil commands, empty types and duplicates.
func RegisterCommand(factory func() Command) {
	cmd := factory()
	if cmd == nil {
		panic("rsvpkit: created command is nil")
	}

	t := cmd.CommandType()
	if t == "" {
		panic("rsvpkit: attempt to register empty command type")
	}

	commandFactories.Lock()
	defer commandFactories.Unlock()

	if _, ok := commandFactories.m[t]; ok {
		panic(fmt.Sprintf("rsvpkit: registering duplicate types for %q", t))
	}

	commandFactories.m[t] = factory
}

// CreateCommand creates an empty command of a registered type.
func CreateCommand(t CommandType) (Command, error) {
	commandFactories.RLock()
	factory, ok := commandFactories.m[t]
	commandFactories.RUnlock()

	if !ok {
		return nil, ErrCommandNotRegistered
	}

	return factory(), nil
}

// IsZeroer is implemented by field types that know when they are unset, such
// as an identity or an amount.
type IsZeroer interface {
	IsZero() bool
}

// CommandFieldError is returned by CheckCommand for a required field that is
// not set.
type CommandFieldError struct {
	Field string
}

// Error implements the Error method of the error interface.
func (c *CommandFieldError) Error() string {
	return "missing field: " + c.Field
}

// CheckCommand returns a *CommandFieldError for the first required field of
// cmd that holds its zero value. Bools and numbers are never checked, zero
// is a valid value for them.
func CheckCommand(cmd Command) error {
	v := reflect.Indirect(reflect.ValueOf(cmd))

	for i := 0; i < v.NumField(); i++ {
		f := v.Type().Field(i)
		if !f.IsExported() || f.Tag.Get("eh") == "optional" {
			continue
		}

		if unset(v.Field(i)) {
			return &CommandFieldError{Field: f.Name}
		}
	}

	return nil
}

func unset(v reflect.Value) bool {
	if z, ok := v.Interface().(IsZeroer); ok {
		return z.IsZero()
	}

	switch v.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		// Never valid in a command.
		return true
	case reflect.Ptr, reflect.Map, reflect.Slice:
		return v.IsNil()
	case reflect.Interface:
		return v.IsNil()
	case reflect.String:
		return v.Len() == 0
	case reflect.Array:
		if id, ok := v.Interface().(uuid.UUID); ok {
			return id == uuid.Nil
		}

		for i := 0; i < v.Len(); i++ {
			if !unset(v.Index(i)) {
				return false
			}
		}

		return true
	case reflect.Struct:
		if t, ok := v.Interface().(time.Time); ok {
			return t.IsZero()
		}

		for i := 0; i < v.NumField(); i++ {
			if v.Type().Field(i).IsExported() && !unset(v.Field(i)) {
				return false
			}
		}

		return true
	default:
		return false
	}
}
