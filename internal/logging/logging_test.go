package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(&redactingCore{Core: core}), logs
}

func TestRedactsSecretShapedFields(t *testing.T) {
	logger, logs := newObservedLogger()

	logger.Info("outbound request",
		zap.String("Authorization", "Bearer abc123"),
		zap.String("API_KEY", "sk-live-999"),
		zap.String("x-secret-token", "hunter2"),
		zap.String("repo", "org/repo"),
	)

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, redactedValue, fields["Authorization"])
	assert.Equal(t, redactedValue, fields["API_KEY"])
	assert.Equal(t, redactedValue, fields["x-secret-token"])
	assert.Equal(t, "org/repo", fields["repo"])
}

func TestRedactsFieldsBoundViaWith(t *testing.T) {
	logger, logs := newObservedLogger()

	child := logger.With(zap.String("password", "pw"), zap.String("delivery_id", "d-1"))
	child.Info("gate started")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, redactedValue, fields["password"])
	assert.Equal(t, "d-1", fields["delivery_id"])
}

func TestIsSecretKeyMatchesSubstringsCaseInsensitively(t *testing.T) {
	for _, key := range []string{"authorization", "Set-Cookie", "GITHUB_TOKEN", "webhookSecret", "ApiKey"} {
		assert.True(t, isSecretKey(key), key)
	}
	for _, key := range []string{"repo", "delivery_id", "gate_id", "status"} {
		assert.False(t, isSecretKey(key), key)
	}
}

func TestWrapFormatsKeyValuePairs(t *testing.T) {
	zl, logs := newObservedLogger()
	log := Wrap(zl)

	log.With("delivery_id", "d-2").Info("published", "conclusion", "success")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "d-2", fields["delivery_id"])
	assert.Equal(t, "success", fields["conclusion"])
}
