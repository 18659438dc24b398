// Package aaa emits authentication/authorization/audit records. Every
// externally caused action produces exactly one record.
package aaa

import (
	"go.uber.org/zap"
)

// EventType classifies an audit record.
type EventType string

const (
	EventAuth   EventType = "AUTH"
	EventAuthz  EventType = "AUTHZ"
	EventAudit  EventType = "AUDIT"
	EventSystem EventType = "SYSTEM"
	EventError  EventType = "ERROR"
)

// Result is the outcome of the audited action.
type Result string

const (
	ResultSuccess Result = "SUCCESS"
	ResultFailure Result = "FAILURE"
	ResultDenied  Result = "DENIED"
	ResultTimeout Result = "TIMEOUT"
)

// Record is one audit entry.
type Record struct {
	EventType     EventType
	Actor         string
	Subject       string
	Action        string
	Result        Result
	CorrelationID string
	Detail        string
}

// Logger writes audit records through a structured logger.
type Logger struct {
	log *zap.Logger
}

// NewLogger creates an audit logger.
func NewLogger(log *zap.Logger) *Logger {
	return &Logger{log: log.With(zap.String("module", "aaa"))}
}

// Emit writes one audit record. Failures to log never propagate to callers.
func (l *Logger) Emit(rec Record) {
	fields := []zap.Field{
		zap.String("aaa_type", string(rec.EventType)),
		zap.String("actor", rec.Actor),
		zap.String("subject", rec.Subject),
		zap.String("action", rec.Action),
		zap.String("result", string(rec.Result)),
		zap.String("correlation_id", rec.CorrelationID),
	}
	if rec.Detail != "" {
		fields = append(fields, zap.String("detail", rec.Detail))
	}
	switch rec.Result {
	case ResultFailure, ResultDenied, ResultTimeout:
		l.log.Warn("audit", fields...)
	default:
		l.log.Info("audit", fields...)
	}
}
