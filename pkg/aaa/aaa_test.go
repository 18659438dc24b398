package aaa

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestEmitLevels(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	l := NewLogger(zap.New(core))

	l.Emit(Record{EventType: EventAudit, Actor: "router", Subject: "u1", Action: "dispatch", Result: ResultSuccess, CorrelationID: "c1"})
	l.Emit(Record{EventType: EventAuth, Actor: "kick", Action: "webhook", Result: ResultFailure, Detail: "bad signature"})

	entries := logs.All()
	assert.Len(t, entries, 2)
	assert.Equal(t, zap.InfoLevel, entries[0].Level)
	assert.Equal(t, zap.WarnLevel, entries[1].Level)

	fields := entries[0].ContextMap()
	assert.Equal(t, "AUDIT", fields["aaa_type"])
	assert.Equal(t, "u1", fields["subject"])
	assert.Equal(t, "c1", fields["correlation_id"])
}
