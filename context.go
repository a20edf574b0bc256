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
	"context"
	"sync"
)

// ContextMarshalFunc copies values of a context into vals, which is sent on
// the wire together with an event.
type ContextMarshalFunc func(ctx context.Context, vals map[string]interface{})

// ContextUnmarshalFunc restores values sent by a ContextMarshalFunc.
type ContextUnmarshalFunc func(ctx context.Context, vals map[string]interface{}) context.Context

// contextCodecs are the process wide context (un)marshalers, registered once
// at startup by the packages that own the context values.
var contextCodecs struct {
	sync.RWMutex
	marshal   []ContextMarshalFunc
	unmarshal []ContextUnmarshalFunc
}

// RegisterContextMarshaler adds f to the funcs used by MarshalContext.
func RegisterContextMarshaler(f ContextMarshalFunc) {
	contextCodecs.Lock()
	contextCodecs.marshal = append(contextCodecs.marshal, f)
	contextCodecs.Unlock()
}

// RegisterContextUnmarshaler adds f to the funcs used by UnmarshalContext.
func RegisterContextUnmarshaler(f ContextUnmarshalFunc) {
	contextCodecs.Lock()
	contextCodecs.unmarshal = append(contextCodecs.unmarshal, f)
	contextCodecs.Unlock()
}

// MarshalContext collects the values of all registered marshalers. Two
// marshalers writing the same key is a programming error and panics.
func MarshalContext(ctx context.Context) map[string]interface{} {
	contextCodecs.RLock()
	defer contextCodecs.RUnlock()

	all := map[string]interface{}{}

	for _, f := range contextCodecs.marshal {
		vals := map[string]interface{}{}
		f(ctx, vals)

		for k, v := range vals {
			if _, ok := all[k]; ok {
				panic("rsvpkit: duplicate context entry for " + k)
			}

			all[k] = v
		}
	}

	return all
}

// UnmarshalContext runs vals through all registered unmarshalers, deriving
// from ctx. A nil map leaves ctx as is.
func UnmarshalContext(ctx context.Context, vals map[string]interface{}) context.Context {
	if vals == nil {
		return ctx
	}

	contextCodecs.RLock()
	defer contextCodecs.RUnlock()

	for _, f := range contextCodecs.unmarshal {
		ctx = f(ctx, vals)
	}

	return ctx
}
