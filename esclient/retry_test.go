package esclient

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-playground/assert/v2"
)

func testConnection(connected bool, maxRetries int) *Connection {
	settings := DefaultConnectionSettings()
	settings.MaxOperationRetries = maxRetries
	return &Connection{
		settings:  settings,
		connected: connected,
	}
}

func TestAttemptSucceedsAfterTransientFailures(t *testing.T) {
	conn := testConnection(true, 3)

	calls := 0
	value, err := attempt(conn, func() (int, error) {
		calls += 1
		if calls < 3 {
			return 0, &ReconnectionError{Cause: fmt.Errorf("broken pipe")}
		}
		return 42, nil
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, 42, value)
	assert.Equal(t, 3, calls)
}

func TestAttemptExhaustsRetries(t *testing.T) {
	conn := testConnection(true, 2)

	calls := 0
	_, err := attempt(conn, func() (int, error) {
		calls += 1
		return 0, &ReconnectionError{Cause: fmt.Errorf("broken pipe")}
	})
	var reconnectionErr *ReconnectionError
	assert.Equal(t, true, errors.As(err, &reconnectionErr))
	// initial attempt plus two retries
	assert.Equal(t, 3, calls)
}

func TestAttemptRetryCallback(t *testing.T) {
	conn := testConnection(true, 1)
	retryErrs := []error{}
	conn.settings.RetryCallback = func(err error) {
		retryErrs = append(retryErrs, err)
	}

	calls := 0
	value, err := attempt(conn, func() (string, error) {
		calls += 1
		if calls == 1 {
			return "", &ReconnectionError{Cause: fmt.Errorf("reset by peer")}
		}
		return "ok", nil
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, "ok", value)
	assert.Equal(t, 1, len(retryErrs))
}

func TestAttemptDoesNotRetryProtocolErrors(t *testing.T) {
	conn := testConnection(true, 10)

	calls := 0
	_, err := attempt(conn, func() (int, error) {
		calls += 1
		return 0, &ProtocolError{Op: "write", Result: "WrongExpectedVersion"}
	})
	var protocolErr *ProtocolError
	assert.Equal(t, true, errors.As(err, &protocolErr))
	assert.Equal(t, true, protocolErr.WrongExpectedVersion())
	assert.Equal(t, 1, calls)
}

func TestAttemptDisconnected(t *testing.T) {
	conn := testConnection(false, 10)

	calls := 0
	_, err := attempt(conn, func() (int, error) {
		calls += 1
		return 0, nil
	})
	var disconnectedErr *DisconnectedError
	assert.Equal(t, true, errors.As(err, &disconnectedErr))
	assert.Equal(t, 0, calls)
}

func TestAttemptUnboundedRetries(t *testing.T) {
	conn := testConnection(true, -1)

	calls := 0
	value, err := attempt(conn, func() (int, error) {
		calls += 1
		if calls < 50 {
			return 0, &ReconnectionError{Cause: fmt.Errorf("broken pipe")}
		}
		return 7, nil
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, 7, value)
	assert.Equal(t, 50, calls)
}
