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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, "memory", cfg.ReadModel)
	assert.Equal(t, "local", cfg.Bus)
	assert.Equal(t, "json", cfg.BusCodec)
	assert.Equal(t, "memory", cfg.Vault)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.AuditSchedule)
	assert.False(t, cfg.Tracing)
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("RSVPKIT_STORE", "sqlite")
	t.Setenv("RSVPKIT_SQLITE_PATH", "/tmp/events.db")
	t.Setenv("RSVPKIT_BUS", "nats")
	t.Setenv("RSVPKIT_TRACING", "true")
	t.Setenv("RSVPKIT_AUDIT_SCHEDULE", "@hourly")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store)
	assert.Equal(t, "/tmp/events.db", cfg.SQLitePath)
	assert.Equal(t, "nats", cfg.Bus)
	assert.True(t, cfg.Tracing)
	assert.Equal(t, "@hourly", cfg.AuditSchedule)
}

func TestLoadDotenv(t *testing.T) {
	file := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(file, []byte("RSVPKIT_VAULT=journal\nRSVPKIT_LOG_LEVEL=debug\n"), 0o600))

	// Variables already set win over the file.
	t.Setenv("RSVPKIT_LOG_LEVEL", "warn")
	// Unset after the test since godotenv writes to the environment.
	t.Setenv("RSVPKIT_VAULT", "")
	require.NoError(t, os.Unsetenv("RSVPKIT_VAULT"))

	cfg, err := Load(file, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "journal", cfg.Vault)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadInvalid(t *testing.T) {
	tests := map[string]string{
		"RSVPKIT_STORE":      "postgres",
		"RSVPKIT_READ_MODEL": "sqlite",
		"RSVPKIT_BUS":        "amqp",
		"RSVPKIT_VAULT":      "bank",
		"RSVPKIT_BUS_CODEC":  "xml",
		"RSVPKIT_TRACING":    "maybe",
	}

	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}
