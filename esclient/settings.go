package esclient

import (
	"fmt"
	"time"
)

type UserCredentials struct {
	Login    string
	Password string
}

type ConnectionSettings struct {
	Host           string
	Port           int
	ConnectionName string

	// when set, every operation package carries the Authenticated flag and
	// these credentials
	DefaultCredentials *UserCredentials

	ConnectTimeout time.Duration
	// interval of the pump loop that dispatches inbound packages, flushes
	// outbound packages, and services live subscriptions
	PumpInterval time.Duration
	// bounded wait for the server's subscription confirmation during
	// catch-up handover
	SubscriptionTimeout time.Duration

	// -1 retries reconnection-class failures without bound
	MaxOperationRetries int
	// optional hook invoked before each retry with the triggering error
	RetryCallback func(err error)

	MaxPackageSize    int
	ReadBatchSize     int
	ReceiveBufferSize int
}

func DefaultConnectionSettings() *ConnectionSettings {
	return &ConnectionSettings{
		Host:                "127.0.0.1",
		Port:                1113,
		ConnectionName:      "esclient",
		ConnectTimeout:      5 * time.Second,
		PumpInterval:        10 * time.Millisecond,
		SubscriptionTimeout: 5 * time.Second,
		MaxOperationRetries: 10,
		MaxPackageSize:      DefaultMaxPackageSize,
		ReadBatchSize:       512,
		ReceiveBufferSize:   int(kib(8)),
	}
}

func (self *ConnectionSettings) Address() string {
	return fmt.Sprintf("%s:%d", self.Host, self.Port)
}
