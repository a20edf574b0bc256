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

// Package logging has a command handler middleware that logs the outcome of
// every command.
package logging

import (
	"context"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	eh "github.com/rsvpkit/rsvpkit"
)

// NewMiddleware returns a middleware logging each command with its type,
// aggregate, duration and error. Errors for which rejected returns true are
// logged at info level, other errors at error level. A nil rejected treats
// all errors as failures.
func NewMiddleware(logger *zap.Logger, rejected func(error) bool) eh.CommandHandlerMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}

	return eh.CommandHandlerMiddleware(func(h eh.CommandHandler) eh.CommandHandler {
		return eh.CommandHandlerFunc(func(ctx context.Context, cmd eh.Command) error {
			start := time.Now()
			err := h.HandleCommand(ctx, cmd)

			fields := []zap.Field{
				zap.Stringer("command", cmd.CommandType()),
				zap.String("aggregate_type", string(cmd.AggregateType())),
				zap.Stringer("aggregate_id", cmd.AggregateID()),
				zap.Duration("duration", time.Since(start)),
			}

			level := zapcore.DebugLevel

			if err != nil {
				fields = append(fields, zap.Error(err))

				if rejected != nil && rejected(err) {
					level = zapcore.InfoLevel
				} else {
					level = zapcore.ErrorLevel
				}
			}

			if ce := logger.Check(level, "command handled"); ce != nil {
				ce.Write(fields...)
			}

			return err
		})
	})
}
