package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func observed() (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return &Logger{SugaredLogger: zap.New(core).Sugar()}, logs
}

func TestLogger_RedactsSecretsAndHashesUsers(t *testing.T) {
	// GIVEN: redaction on (the default)
	log, logs := observed()

	// WHEN: logging a secret and a user id
	log.Info("backfill done", "user_id", "user-123", "jwt_secret", "s3cr3t", "events", 4)

	// THEN: the secret is redacted and the user id hashed
	entries := logs.All()
	assert.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "[REDACTED]", fields["jwt_secret"])
	assert.NotEqual(t, "user-123", fields["user_id"])
	assert.Contains(t, fields["user_id"], "hash:")
	assert.EqualValues(t, 4, fields["events"])
}

func TestLogger_WithKeepsRedaction(t *testing.T) {
	log, logs := observed()

	log.With("authorization", "Bearer abc").Warn("retrying")

	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "[REDACTED]", fields["authorization"])
}

func TestNewNop(t *testing.T) {
	log := NewNop()
	log.Info("nothing", "k", "v")
	log.Sync()
}

func TestNew_Modes(t *testing.T) {
	for _, mode := range []string{"dev", "prod"} {
		l, err := New(mode)
		assert.NoError(t, err, mode)
		assert.NotNil(t, l)
	}
}
