package esclient

import (
	"errors"
)

// attempt wraps an operation with the connection's retry policy. Only
// reconnection-class failures are retried, up to MaxOperationRetries
// (unbounded when -1); exhausting retries re-raises the last error. Any
// other error propagates immediately. If the connection is not connected
// when the loop begins or comes back around, the operation fails with a
// terminal DisconnectedError.
func attempt[T any](conn *Connection, operation func() (T, error)) (T, error) {
	var empty T
	attempts := 0
	for conn.IsConnected() {
		value, err := operation()
		if err == nil {
			return value, nil
		}
		var reconnectionErr *ReconnectionError
		if !errors.As(err, &reconnectionErr) {
			return empty, err
		}
		if retryCallback := conn.settings.RetryCallback; retryCallback != nil {
			retryCallback(err)
		}
		maxRetries := conn.settings.MaxOperationRetries
		if 0 <= maxRetries && maxRetries <= attempts {
			return empty, err
		}
		attempts += 1
	}
	return empty, &DisconnectedError{}
}
