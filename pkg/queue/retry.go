package queue

import (
	"clarity/pkg/logx"
)

// RetryInfo describes where a delivery sits in its retry budget.
type RetryInfo struct {
	Attempt       int
	IsLastAttempt bool
}

// GetRetryInfo returns the 1-based attempt number for a delivery and whether
// it is the last allowed attempt under maxAttempts.
func GetRetryInfo(d Delivery, maxAttempts int) RetryInfo {
	attempt := d.Attempts()
	if attempt < 1 {
		attempt = 1
	}
	return RetryInfo{
		Attempt:       attempt,
		IsLastAttempt: attempt >= maxAttempts,
	}
}

// HandleRetryOrFail applies the standard retry policy to a delivery.
//
// On the last attempt the envelope is ALWAYS acknowledged, even if the
// terminal-failure callback errors, so a poisoned message can never be
// redelivered forever. On earlier attempts the envelope is retried.
func HandleRetryOrFail(d Delivery, isLastAttempt bool, onFinalFailure func() error) error {
	if !isLastAttempt {
		return d.Retry()
	}

	if onFinalFailure != nil {
		if err := onFinalFailure(); err != nil {
			// Terminal-failure side effects are best-effort; the ack must
			// still happen.
			logx.Warnf("terminal-failure callback for message %s failed: %v", d.Body().ID, err)
		}
	}
	return d.Ack()
}
