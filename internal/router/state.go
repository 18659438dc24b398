package router

import (
	"go.uber.org/zap"

	"github.com/waddlebot/waddlebot-core/pkg/aaa"
	"github.com/waddlebot/waddlebot-core/pkg/metricsutil"
)

// ExecState is one state of a command execution.
type ExecState string

const (
	StateReceived         ExecState = "received"
	StateRateChecked      ExecState = "rate_checked"
	StateAuthorized       ExecState = "authorized"
	StateDispatched       ExecState = "dispatched"
	StateAwaitingResponse ExecState = "awaiting_response"

	// Terminal states. Each emits one audit record.
	StateRejected     ExecState = "rejected"
	StateRateLimited  ExecState = "rate_limited"
	StateUnauthorized ExecState = "unauthorized"
	StateTimedOut     ExecState = "timed_out"
	StateCompleted    ExecState = "completed"
	StateFailed       ExecState = "failed"
)

// Terminal reports whether s ends an execution.
func (s ExecState) Terminal() bool {
	switch s {
	case StateRejected, StateRateLimited, StateUnauthorized, StateTimedOut, StateCompleted, StateFailed:
		return true
	}
	return false
}

func auditResult(s ExecState) aaa.Result {
	switch s {
	case StateCompleted:
		return aaa.ResultSuccess
	case StateRateLimited, StateUnauthorized:
		return aaa.ResultDenied
	case StateTimedOut:
		return aaa.ResultTimeout
	default:
		return aaa.ResultFailure
	}
}

// recordTerminal emits the audit record for a terminal state.
func (s *Service) recordTerminal(state ExecState, userID, action, correlationID, detail string) {
	metricsutil.RouterExecutions.WithLabelValues(string(state)).Inc()
	s.audit.Emit(aaa.Record{
		EventType:     aaa.EventAudit,
		Actor:         userID,
		Subject:       "router",
		Action:        action,
		Result:        auditResult(state),
		CorrelationID: correlationID,
		Detail:        detail,
	})
	s.log.Debug("execution terminal",
		zap.String("state", string(state)),
		zap.String("action", action),
		zap.String("correlation_id", correlationID),
	)
}
