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

// Package tracing adds OpenTracing spans around the command handlers, event
// handlers, event store, event bus and read model of the engine.
package tracing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	jaeger "github.com/uber/jaeger-client-go"
	"go.uber.org/zap"

	eh "github.com/rsvpkit/rsvpkit"
)

// NewTracer creates a Jaeger tracer reporting over UDP to the agent at
// agentHostPort and sets it as the global tracer. It must be closed on exit
// using the returned io.Closer.
func NewTracer(serviceName, agentHostPort string) (io.Closer, error) {
	transport, err := jaeger.NewUDPTransport(agentHostPort, 0)
	if err != nil {
		return nil, fmt.Errorf("could not init Jaeger UDP transport: %w", err)
	}

	tracer, closer := jaeger.NewTracer(
		serviceName,
		jaeger.NewConstSampler(true),
		jaeger.NewRemoteReporter(transport),
		jaeger.TracerOptions.Gen128Bit(true),
	)
	opentracing.SetGlobalTracer(tracer)

	return closer, nil
}

const spanKey = "rsvpkit_span"

var registerOnce sync.Once

// RegisterContext carries the active span in the marshaled context of events,
// so that handlers behind a remote bus continue the trace of the command.
// Only the first call registers.
func RegisterContext() {
	registerOnce.Do(func() {
		eh.RegisterContextMarshaler(marshalSpan)
		eh.RegisterContextUnmarshaler(unmarshalSpan)
	})
}

func marshalSpan(ctx context.Context, vals map[string]interface{}) {
	span := opentracing.SpanFromContext(ctx)
	if span == nil {
		return
	}

	carrier := opentracing.TextMapCarrier{}
	if err := opentracing.GlobalTracer().Inject(span.Context(), opentracing.TextMap, carrier); err != nil {
		zap.L().Warn("could not inject span", zap.Error(err))

		return
	}

	b, err := json.Marshal(carrier)
	if err != nil {
		zap.L().Warn("could not marshal span", zap.Error(err))

		return
	}

	vals[spanKey] = string(b)
}

func unmarshalSpan(ctx context.Context, vals map[string]interface{}) context.Context {
	s, ok := vals[spanKey].(string)
	if !ok {
		return ctx
	}

	carrier := opentracing.TextMapCarrier{}
	if err := json.Unmarshal([]byte(s), &carrier); err != nil {
		zap.L().Warn("could not unmarshal span", zap.Error(err))

		return ctx
	}

	tracer := opentracing.GlobalTracer()

	parent, err := tracer.Extract(opentracing.TextMap, carrier)
	if err != nil {
		if !errors.Is(err, opentracing.ErrSpanContextNotFound) {
			zap.L().Warn("could not extract span", zap.Error(err))
		}

		return ctx
	}

	// The receive span only marks the hop, handler spans become its children.
	span := tracer.StartSpan("bus.receive", ext.RPCServerOption(parent))
	span.Finish()

	return opentracing.ContextWithSpan(ctx, span)
}

type tags map[string]interface{}

// start opens a span for op. The returned func sets the tags, records err
// and finishes the span. Missing entities are not errors of the operation.
func start(ctx context.Context, op string) (context.Context, func(error, tags)) {
	sp, ctx := opentracing.StartSpanFromContext(ctx, op)

	return ctx, func(err error, t tags) {
		for k, v := range t {
			sp.SetTag(k, v)
		}

		if err != nil && !errors.Is(err, eh.ErrEntityNotFound) {
			ext.LogError(sp, err)
		}

		sp.Finish()
	}
}

func eventTags(e eh.Event) tags {
	return tags{
		"rsvpkit.event_type":     e.EventType(),
		"rsvpkit.aggregate_type": e.AggregateType(),
		"rsvpkit.aggregate_id":   e.AggregateID(),
		"rsvpkit.version":        e.Version(),
	}
}
