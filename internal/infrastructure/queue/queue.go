// Package queue provides the at-least-once command queues: an in-process
// channel queue, a reliable Redis list queue and a QStash HTTP publisher.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/garyjia/hitl-workflow/internal/domain/event"
	"github.com/garyjia/hitl-workflow/internal/domain/workflow"
)

// RetryPolicy bounds redelivery of commands that failed with a retryable error
type RetryPolicy struct {
	MaxAttempts int
	RetryDelay  time.Duration
}

// DefaultRetryPolicy is used when a queue is created without one
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 5, RetryDelay: 2 * time.Second}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if p.RetryDelay < 0 {
		p.RetryDelay = 0
	}
	return p
}

// action is what a queue does with a delivered command after the handler returns
type action int

const (
	actionAck action = iota
	actionRetry
	actionDeadLetter
)

func (a action) String() string {
	switch a {
	case actionAck:
		return "ack"
	case actionRetry:
		return "retry"
	default:
		return "dead_letter"
	}
}

// decide maps a handler result to a queue action. attempts counts deliveries so far.
func (p RetryPolicy) decide(err error, attempts int) action {
	if err == nil {
		return actionAck
	}
	if !workflow.IsRetryable(err) {
		return actionDeadLetter
	}
	if attempts >= p.MaxAttempts {
		return actionDeadLetter
	}
	return actionRetry
}

// envelope is the stored form of a queued command
type envelope struct {
	Command  *event.Command `json:"command"`
	Attempts int            `json:"attempts"`
}

func encodeEnvelope(env envelope) (string, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to encode command: %w", err)
	}
	return string(data), nil
}

func decodeEnvelope(payload string) (envelope, error) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return env, fmt.Errorf("failed to decode command: %w", err)
	}
	if env.Command == nil {
		return env, fmt.Errorf("failed to decode command: empty envelope")
	}
	return env, nil
}
