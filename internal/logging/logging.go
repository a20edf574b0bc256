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

// Package logging builds the zap loggers and the activity log of the engine.
package logging

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	eh "github.com/rsvpkit/rsvpkit"
	"github.com/rsvpkit/rsvpkit/internal/domain"
)

// New creates a logger at a level such as "debug" or "info". Development
// loggers are human readable, others write JSON.
func New(level string, development bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}

	cfg.Level = zap.NewAtomicLevelAt(lvl)

	return cfg.Build()
}

// EventLoggerType is the handler type of the EventLogger.
const EventLoggerType = eh.EventHandlerType("activity_log")

// EventLogger writes every notification to the activity log.
type EventLogger struct {
	logger *zap.Logger
}

var _ = eh.EventHandler(&EventLogger{})

// NewEventLogger creates an EventLogger writing to logger.
func NewEventLogger(logger *zap.Logger) *EventLogger {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &EventLogger{logger: logger.Named("activity")}
}

// HandlerType implements the HandlerType method of the eh.EventHandler interface.
func (l *EventLogger) HandlerType() eh.EventHandlerType {
	return EventLoggerType
}

// HandleEvent implements the HandleEvent method of the eh.EventHandler interface.
func (l *EventLogger) HandleEvent(ctx context.Context, event eh.Event) error {
	fields := []zap.Field{
		zap.Stringer("type", event.EventType()),
		zap.Int("version", event.Version()),
		zap.Time("at", event.Timestamp()),
	}

	if id, ok := domain.EventIDOf(event); ok {
		fields = append(fields, zap.Stringer("event_id", id))
	}

	l.logger.Info(domain.Describe(event), fields...)

	return nil
}
