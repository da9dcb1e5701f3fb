package esclient

import (
	"fmt"
	"time"
)

// FramingError is a malformed or oversized frame. Fatal to the connection:
// stream alignment cannot be recovered, so the connection is torn down and
// the error is never retried.
type FramingError struct {
	Length         int
	MaxPackageSize int
}

func (self *FramingError) Error() string {
	return fmt.Sprintf("package size is out of bounds: %d (max: %d)", self.Length, self.MaxPackageSize)
}

// ProtocolError is a failed server result code for a write or read. Surfaced
// to the caller with the result code and server message; never retried.
type ProtocolError struct {
	Op      string
	Result  string
	Message string
}

func (self *ProtocolError) Error() string {
	if self.Message == "" {
		return fmt.Sprintf("%s failed: %s", self.Op, self.Result)
	}
	return fmt.Sprintf("%s failed: %s (%s)", self.Op, self.Result, self.Message)
}

// WrongExpectedVersion reports whether the failure was an
// optimistic-concurrency conflict on the asserted stream version.
func (self *ProtocolError) WrongExpectedVersion() bool {
	return self.Result == "WrongExpectedVersion"
}

// ReconnectionError is a transient transport failure. The retry policy may
// re-attempt the wrapped operation up to its configured bound.
type ReconnectionError struct {
	Cause error
}

func (self *ReconnectionError) Error() string {
	return fmt.Sprintf("connection lost: %s", self.Cause)
}

func (self *ReconnectionError) Unwrap() error {
	return self.Cause
}

// DisconnectedError is terminal: the connection is not, and will not be,
// usable.
type DisconnectedError struct{}

func (self *DisconnectedError) Error() string {
	return "connection is closed"
}

// SubscriptionSetupError is raised when the bounded wait for the server's
// subscription confirmation expires during catch-up handover. Fatal to that
// subscription only; not retried.
type SubscriptionSetupError struct {
	Stream  string
	Timeout time.Duration
}

func (self *SubscriptionSetupError) Error() string {
	return fmt.Sprintf("subscription to %s was not confirmed within %s", self.Stream, self.Timeout)
}

// SubscriptionDroppedError is a server-initiated drop of a live subscription.
type SubscriptionDroppedError struct {
	Stream string
	Reason string
}

func (self *SubscriptionDroppedError) Error() string {
	return fmt.Sprintf("subscription to %s dropped by server: %s", self.Stream, self.Reason)
}

// CallbackError is a failure in the consumer-supplied event handler. It
// terminates that subscription without affecting others or the connection.
type CallbackError struct {
	Cause error
}

func (self *CallbackError) Error() string {
	return fmt.Sprintf("event callback failed: %s", self.Cause)
}

func (self *CallbackError) Unwrap() error {
	return self.Cause
}
